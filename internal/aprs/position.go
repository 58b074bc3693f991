package aprs

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Position is a decoded position report.
type Position struct {
	// Timestamp is nil for '!' and '=' reports.
	Timestamp   *Timestamp
	Latitude    float64
	Longitude   float64
	SymbolTable byte
	SymbolCode  byte
	// Messaging is true for '=' and '@' reports.
	Messaging bool
	// Course in degrees and Speed in knots, when a CSE/SPD extension is present.
	Course *int
	Speed  *float64
	// Altitude in feet from a "/A=" comment field or compressed altitude.
	Altitude *float64
	// Comment is the free text following the symbol code and any leading
	// data extensions.
	Comment string
}

const (
	uncompressedLen = 19 // lat(8) table lon(9) code
	compressedLen   = 13 // table yyyy xxxx code c s t
)

func parsePosition(body string) (*Position, error) {
	if body == "" {
		return nil, fmt.Errorf("%w: empty position", ErrInvalidPosition)
	}
	if isDigit(body[0]) {
		return parseUncompressed(body)
	}
	return parseCompressed(body)
}

func parseUncompressed(body string) (*Position, error) {
	if len(body) < uncompressedLen {
		return nil, fmt.Errorf("%w: %d characters, need at least %d", ErrInvalidPosition, len(body), uncompressedLen)
	}
	lat, err := parseLatitude(body[0:8])
	if err != nil {
		return nil, err
	}
	lon, err := parseLongitude(body[9:18])
	if err != nil {
		return nil, err
	}

	pos := &Position{
		Latitude:    lat,
		Longitude:   lon,
		SymbolTable: body[8],
		SymbolCode:  body[18],
	}
	pos.Comment = pos.takeExtensions(body[uncompressedLen:])
	return pos, nil
}

// parseLatitude decodes "ddmm.hhN". Spaces for position ambiguity read as zero.
func parseLatitude(s string) (float64, error) {
	if s[4] != '.' {
		return 0, fmt.Errorf("%w: latitude %q: missing '.'", ErrInvalidPosition, s)
	}
	deg, err := ambiguousDigits(s[0:2], false)
	if err != nil {
		return 0, fmt.Errorf("%w: latitude %q: %v", ErrInvalidPosition, s, err)
	}
	minutes, err := minutesField(s[2:4] + s[5:7])
	if err != nil {
		return 0, fmt.Errorf("%w: latitude %q: %v", ErrInvalidPosition, s, err)
	}
	v := float64(deg) + minutes/60
	if v > 90 {
		return 0, fmt.Errorf("%w: latitude %q out of range", ErrInvalidPosition, s)
	}
	switch s[7] {
	case 'N', 'n':
	case 'S', 's':
		v = -v
	default:
		return 0, fmt.Errorf("%w: latitude %q: hemisphere must be N or S", ErrInvalidPosition, s)
	}
	return v, nil
}

// parseLongitude decodes "dddmm.hhE".
func parseLongitude(s string) (float64, error) {
	if s[5] != '.' {
		return 0, fmt.Errorf("%w: longitude %q: missing '.'", ErrInvalidPosition, s)
	}
	deg, err := ambiguousDigits(s[0:3], false)
	if err != nil {
		return 0, fmt.Errorf("%w: longitude %q: %v", ErrInvalidPosition, s, err)
	}
	minutes, err := minutesField(s[3:5] + s[6:8])
	if err != nil {
		return 0, fmt.Errorf("%w: longitude %q: %v", ErrInvalidPosition, s, err)
	}
	v := float64(deg) + minutes/60
	if v > 180 {
		return 0, fmt.Errorf("%w: longitude %q out of range", ErrInvalidPosition, s)
	}
	switch s[8] {
	case 'E', 'e':
	case 'W', 'w':
		v = -v
	default:
		return 0, fmt.Errorf("%w: longitude %q: hemisphere must be E or W", ErrInvalidPosition, s)
	}
	return v, nil
}

// minutesField decodes "mmhh" into minutes.
func minutesField(s string) (float64, error) {
	n, err := ambiguousDigits(s, true)
	if err != nil {
		return 0, err
	}
	if n >= 6000 {
		return 0, fmt.Errorf("minutes %q out of range", s)
	}
	return float64(n) / 100, nil
}

func ambiguousDigits(s string, allowSpace bool) (int, error) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isDigit(c):
			n = n*10 + int(c-'0')
		case c == ' ' && allowSpace:
			n *= 10
		default:
			return 0, fmt.Errorf("unexpected %q", c)
		}
	}
	return n, nil
}

func parseCompressed(body string) (*Position, error) {
	if len(body) < compressedLen {
		return nil, fmt.Errorf("%w: compressed position needs %d characters, got %d", ErrInvalidPosition, compressedLen, len(body))
	}

	table := body[0]
	switch {
	case table == '/' || table == '\\' || ('A' <= table && table <= 'Z'):
	case 'a' <= table && table <= 'j':
		// Overlay digits 0-9 are sent as a-j in compressed form.
		table = table - 'a' + '0'
	default:
		return nil, fmt.Errorf("%w: symbol table %q", ErrInvalidPosition, body[0])
	}

	y, ok := base91(body[1:5])
	if !ok {
		return nil, fmt.Errorf("%w: compressed latitude %q", ErrInvalidPosition, body[1:5])
	}
	x, ok := base91(body[5:9])
	if !ok {
		return nil, fmt.Errorf("%w: compressed longitude %q", ErrInvalidPosition, body[5:9])
	}

	pos := &Position{
		Latitude:    90 - float64(y)/380926,
		Longitude:   -180 + float64(x)/190463,
		SymbolTable: table,
		SymbolCode:  body[9],
	}

	c, s, t := body[10], body[11], body[12]
	switch {
	case c == ' ':
	case (t-33)&0x18 == 0x10:
		alt := math.Pow(1.002, float64(c-33)*91+float64(s-33))
		pos.Altitude = &alt
	case c == '{':
		// Pre-calculated radio range; not carried.
	case '!' <= c && c <= 'z':
		course := int(c-33) * 4
		speed := math.Pow(1.08, float64(s-33)) - 1
		pos.Course, pos.Speed = &course, &speed
	}

	pos.Comment = pos.takeAltitude(body[compressedLen:])
	return pos, nil
}

func base91(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '!' || c > '{' {
			return 0, false
		}
		n = n*91 + int(c-'!')
	}
	return n, true
}

// takeExtensions consumes a leading CSE/SPD extension and "/A=" altitude and
// returns what remains of the comment. Trackers chain extensions with '/', so
// one separator left after them is dropped too.
func (p *Position) takeExtensions(rest string) string {
	consumed := false
	if len(rest) >= 7 && rest[3] == '/' {
		course, cerr := strconv.Atoi(rest[0:3])
		speed, serr := strconv.Atoi(rest[4:7])
		if cerr == nil && serr == nil {
			knots := float64(speed)
			p.Course, p.Speed = &course, &knots
			rest = rest[7:]
			consumed = true
		}
	}

	if after := p.takeAltitude(rest); after != rest {
		rest = after
		consumed = true
	}

	if consumed {
		rest = strings.TrimPrefix(rest, "/")
	}
	return rest
}

// takeAltitude consumes a leading "/A=dddddd" field.
func (p *Position) takeAltitude(rest string) string {
	if len(rest) < 9 || !strings.HasPrefix(rest, "/A=") {
		return rest
	}
	feet, err := strconv.Atoi(rest[3:9])
	if err != nil {
		return rest
	}
	alt := float64(feet)
	p.Altitude = &alt
	return rest[9:]
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
