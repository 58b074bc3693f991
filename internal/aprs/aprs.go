// Package aprs parses APRS-IS beacon lines in TNC2 monitor format
// ("SRC>DST,PATH:INFO") into packets. Only position reports are modelled;
// every other data type is reported as KindUnknown.
package aprs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidHeader is returned when the address header is missing or malformed.
	ErrInvalidHeader = errors.New("invalid header")
	// ErrInvalidPosition is returned when a position report body cannot be decoded.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrInvalidTimestamp is returned when a timestamped report is too short to carry one.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// Kind discriminates the payload of a packet.
type Kind int

const (
	KindUnknown Kind = iota
	KindPosition
)

func (k Kind) String() string {
	if k == KindPosition {
		return "position"
	}
	return "unknown"
}

// Packet is one parsed beacon line.
type Packet struct {
	Source      string
	Destination string
	Path        []string
	Kind        Kind
	// Position is set when Kind is KindPosition.
	Position *Position
	// Info is the raw information field.
	Info string
}

// Parse splits a beacon line into its header and payload. A line whose data
// type is not a position report parses successfully with KindUnknown.
func Parse(line string) (*Packet, error) {
	header, info, ok := strings.Cut(line, ":")
	if !ok {
		return nil, fmt.Errorf("%w: no ':' separating header and information field", ErrInvalidHeader)
	}

	src, rest, ok := strings.Cut(header, ">")
	if !ok {
		return nil, fmt.Errorf("%w: no '>' after source address", ErrInvalidHeader)
	}
	if err := checkCallsign(src); err != nil {
		return nil, fmt.Errorf("%w: source: %v", ErrInvalidHeader, err)
	}

	addrs := strings.Split(rest, ",")
	dst := addrs[0]
	if err := checkCallsign(dst); err != nil {
		return nil, fmt.Errorf("%w: destination: %v", ErrInvalidHeader, err)
	}

	path := make([]string, 0, len(addrs)-1)
	for _, via := range addrs[1:] {
		if err := checkCallsign(via); err != nil {
			return nil, fmt.Errorf("%w: path: %v", ErrInvalidHeader, err)
		}
		path = append(path, via)
	}

	pkt := &Packet{
		Source:      src,
		Destination: dst,
		Path:        path,
		Info:        info,
	}

	if info == "" {
		return pkt, nil
	}

	switch info[0] {
	case '!', '=':
		pos, err := parsePosition(info[1:])
		if err != nil {
			return nil, err
		}
		pos.Messaging = info[0] == '='
		pkt.Kind, pkt.Position = KindPosition, pos

	case '/', '@':
		if len(info) < 8 {
			return nil, fmt.Errorf("%w: need 7 characters, got %q", ErrInvalidTimestamp, info[1:])
		}
		pos, err := parsePosition(info[8:])
		if err != nil {
			return nil, err
		}
		ts := parseTimestamp(info[1:8])
		pos.Timestamp = &ts
		pos.Messaging = info[0] == '@'
		pkt.Kind, pkt.Position = KindPosition, pos
	}

	return pkt, nil
}

// checkCallsign accepts anything APRS-IS relays as an address: non-empty
// printable ASCII without spaces. The trailing '*' of a used digipeater is kept.
func checkCallsign(call string) error {
	if call == "" {
		return errors.New("empty address")
	}
	for i := 0; i < len(call); i++ {
		c := call[i]
		if c <= ' ' || c > '~' {
			return fmt.Errorf("bad character %q in %q", c, call)
		}
	}
	return nil
}
