package types

import (
	"time"

	"github.com/saviobatista/ogn-feed/internal/ogn"
)

// EventKind classifies what a feed line produced
type EventKind string

const (
	KindServerComment EventKind = "server_comment"
	KindParseError    EventKind = "parse_error"
	KindUnknownData   EventKind = "unknown_data"
	KindDisplayLine   EventKind = "display_line"
)

// Event is the single output of one classified feed line
type Event struct {
	Kind       EventKind `json:"kind"`
	SessionID  string    `json:"session_id"`
	ReceivedAt time.Time `json:"received_at"`

	// Raw is the line as received, set for every kind
	Raw string `json:"raw"`

	// Detail is the parser error text for KindParseError
	Detail string `json:"detail,omitempty"`

	// Display is set for KindDisplayLine
	Display *DisplayLine `json:"display,omitempty"`
}

// DisplayLine is a tracked aircraft position that passed the identity filter
type DisplayLine struct {
	Timestamp    string           `json:"timestamp"`
	Latitude     float64          `json:"latitude"`
	Longitude    float64          `json:"longitude"`
	AircraftType ogn.AircraftType `json:"aircraft_type"`
	AddressType  ogn.AddressType  `json:"address_type"`
	Address      string           `json:"address"`
	Source       string           `json:"source"`
	Destination  string           `json:"destination"`
	Path         []string         `json:"path"`
}

// ServerComment builds a KindServerComment event
func ServerComment(raw string) *Event {
	return &Event{Kind: KindServerComment, Raw: raw}
}

// ParseError builds a KindParseError event
func ParseError(raw, detail string) *Event {
	return &Event{Kind: KindParseError, Raw: raw, Detail: detail}
}

// UnknownData builds a KindUnknownData event
func UnknownData(raw string) *Event {
	return &Event{Kind: KindUnknownData, Raw: raw}
}

// Display builds a KindDisplayLine event
func Display(raw string, line *DisplayLine) *Event {
	return &Event{Kind: KindDisplayLine, Raw: raw, Display: line}
}

// SessionStats is a snapshot of feed session counters
type SessionStats struct {
	SessionID      string    `json:"session_id"`
	Server         string    `json:"server"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastLineTime   time.Time `json:"last_line_time"`
	TotalLines     uint64    `json:"total_lines"`
	ServerComments uint64    `json:"server_comments"`
	ParseErrors    uint64    `json:"parse_errors"`
	UnknownData    uint64    `json:"unknown_data"`
	Positions      uint64    `json:"positions"`
	Identified     uint64    `json:"identified"`
	Displayed      uint64    `json:"displayed"`
	Suppressed     uint64    `json:"suppressed"`
	BytesReceived  uint64    `json:"bytes_received"`
	LoginVerified  bool      `json:"login_verified"`
}

// FeedSession is one connection to the feed as recorded in the stats store
type FeedSession struct {
	SessionID   string     `json:"session_id"`
	Server      string     `json:"server"`
	User        string     `json:"user"`
	Filter      string     `json:"filter"`
	ConnectedAt time.Time  `json:"connected_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
}
