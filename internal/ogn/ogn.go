// Package ogn decodes the OGN tracker identity token carried in the comment
// of APRS position reports ("id" + two hex digits of flags + device address).
package ogn

import (
	"strconv"
	"strings"
)

// AircraftType is the FLARM aircraft category packed into bits 5..2 of the
// flags byte.
type AircraftType uint8

const (
	Unknown AircraftType = iota
	Glider
	TowPlane
	Helicopter
	Skydiver
	DropPlane
	Hangglider
	Paraglider
	PoweredAircraft
	JetAircraft
	Balloon
	Airship
	Uav
	Static
)

var aircraftTypeNames = [...]string{
	Unknown:         "Unknown",
	Glider:          "Glider",
	TowPlane:        "TowPlane",
	Helicopter:      "Helicopter",
	Skydiver:        "Skydiver",
	DropPlane:       "DropPlane",
	Hangglider:      "Hangglider",
	Paraglider:      "Paraglider",
	PoweredAircraft: "PoweredAircraft",
	JetAircraft:     "JetAircraft",
	Balloon:         "Balloon",
	Airship:         "Airship",
	Uav:             "Uav",
	Static:          "Static",
}

// aircraftCodes maps every 4-bit code to a type. 0xA and 0xF are reserved
// and read as Unknown.
var aircraftCodes = [16]AircraftType{
	0x0: Unknown,
	0x1: Glider,
	0x2: TowPlane,
	0x3: Helicopter,
	0x4: Skydiver,
	0x5: DropPlane,
	0x6: Hangglider,
	0x7: Paraglider,
	0x8: PoweredAircraft,
	0x9: JetAircraft,
	0xA: Unknown,
	0xB: Balloon,
	0xC: Airship,
	0xD: Uav,
	0xE: Static,
	0xF: Unknown,
}

// AircraftTypeFromCode returns the aircraft type for the low four bits of code.
func AircraftTypeFromCode(code uint8) AircraftType {
	return aircraftCodes[code&0x0F]
}

// Code returns the canonical 4-bit code for t.
func (t AircraftType) Code() uint8 {
	switch {
	case t <= JetAircraft:
		return uint8(t)
	case t <= Static:
		// Balloon..Static sit one above their ordinal because of the 0xA gap.
		return uint8(t) + 1
	default:
		return 0
	}
}

func (t AircraftType) String() string {
	if int(t) < len(aircraftTypeNames) {
		return aircraftTypeNames[t]
	}
	return "AircraftType(" + strconv.Itoa(int(t)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (t AircraftType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *AircraftType) UnmarshalText(text []byte) error {
	v, err := ParseAircraftType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseAircraftType looks up an aircraft type by name, ignoring case.
func ParseAircraftType(name string) (AircraftType, error) {
	name = strings.TrimSpace(name)
	for i, n := range aircraftTypeNames {
		if strings.EqualFold(n, name) {
			return AircraftType(i), nil
		}
	}
	return Unknown, &UnknownTypeError{Name: name}
}

// UnknownTypeError is returned for aircraft or address type names outside
// the enumeration.
type UnknownTypeError struct {
	Name string
}

func (e *UnknownTypeError) Error() string {
	return "unknown type: " + strconv.Quote(e.Name)
}

// AddressType says which address space the device address belongs to.
type AddressType uint8

const (
	Random AddressType = iota
	Icao
	Flarm
	Ogn
)

// AddressTypeFromCode returns the address type for the low two bits of code.
func AddressTypeFromCode(code uint8) AddressType {
	return AddressType(code & 0x03)
}

func (a AddressType) String() string {
	switch a {
	case Random:
		return "Random"
	case Icao:
		return "ICAO"
	case Flarm:
		return "FLARM"
	case Ogn:
		return "OGN"
	}
	return "AddressType(" + strconv.Itoa(int(a)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (a AddressType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AddressType) UnmarshalText(text []byte) error {
	for _, v := range []AddressType{Random, Icao, Flarm, Ogn} {
		if strings.EqualFold(v.String(), string(text)) {
			*a = v
			return nil
		}
	}
	return &UnknownTypeError{Name: string(text)}
}

const (
	stealthBit    = 0x80
	noTrackingBit = 0x40
	aircraftMask  = 0x3C
	addressMask   = 0x03
)

// Flags is the decoded flags byte of an identity token.
type Flags struct {
	StealthMode  bool         `json:"stealth_mode"`
	NoTracking   bool         `json:"no_tracking"`
	AircraftType AircraftType `json:"aircraft_type"`
	AddressType  AddressType  `json:"address_type"`
}

// ParseFlags unpacks b. Every byte value decodes.
func ParseFlags(b byte) Flags {
	return Flags{
		StealthMode:  b&stealthBit != 0,
		NoTracking:   b&noTrackingBit != 0,
		AircraftType: AircraftTypeFromCode((b & aircraftMask) >> 2),
		AddressType:  AddressTypeFromCode(b & addressMask),
	}
}

// Byte packs f back into a flags byte. Aliased aircraft codes come back as 0.
func (f Flags) Byte() byte {
	var b byte
	if f.StealthMode {
		b |= stealthBit
	}
	if f.NoTracking {
		b |= noTrackingBit
	}
	b |= (f.AircraftType.Code() << 2) & aircraftMask
	b |= uint8(f.AddressType) & addressMask
	return b
}

// Identity is the tracker identity recovered from a comment.
type Identity struct {
	Address string `json:"address"`
	Flags
}

const idMarker = "id"

// Decode extracts the identity token from a position report comment. The
// second return is false when no token is present or its flags are not hex;
// neither case is an error for a feed consumer.
func Decode(comment string) (*Identity, bool) {
	for _, tok := range strings.Split(comment, " ") {
		if !strings.HasPrefix(tok, idMarker) {
			continue
		}
		// Only the first id token counts.
		return decodeToken(tok)
	}
	return nil, false
}

func decodeToken(tok string) (*Identity, bool) {
	rest := tok[len(idMarker):]
	if len(rest) < 2 || !isHex(rest[0]) || !isHex(rest[1]) {
		return nil, false
	}
	b, err := strconv.ParseUint(rest[:2], 16, 8)
	if err != nil {
		return nil, false
	}
	return &Identity{
		Address: rest[2:],
		Flags:   ParseFlags(byte(b)),
	}, true
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// Token renders id back into comment form, e.g. "id3F00AB12".
func (id Identity) Token() string {
	const hexdigits = "0123456789ABCDEF"
	b := id.Flags.Byte()
	return idMarker + string([]byte{hexdigits[b>>4], hexdigits[b&0x0F]}) + id.Address
}
