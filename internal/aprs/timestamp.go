package aprs

import "fmt"

// TimestampKind says which of the APRS timestamp forms was received.
type TimestampKind int

const (
	// DayHourMinute is "DDHHMMz" (UTC) or "DDHHMM/" (local).
	DayHourMinute TimestampKind = iota + 1
	// HourMinuteSecond is "HHMMSSh", a time of day today.
	HourMinuteSecond
	// Unsupported keeps anything else verbatim.
	Unsupported
)

// Timestamp is the 7 character timestamp of a '/' or '@' report.
type Timestamp struct {
	Kind TimestampKind
	// Day is set for DayHourMinute, Second for HourMinuteSecond.
	Day, Hour, Minute, Second int
	// Raw is the original 7 characters.
	Raw string
}

// String returns the display form: "DD/HH:MM", "Today/HH:MM:SS" or the raw
// text for unsupported forms.
func (t Timestamp) String() string {
	switch t.Kind {
	case DayHourMinute:
		return fmt.Sprintf("%02d/%02d:%02d", t.Day, t.Hour, t.Minute)
	case HourMinuteSecond:
		return fmt.Sprintf("Today/%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	default:
		return t.Raw
	}
}

// FormatTimestamp is String with "?" for a report without a timestamp.
func FormatTimestamp(t *Timestamp) string {
	if t == nil {
		return "?"
	}
	return t.String()
}

func parseTimestamp(raw string) Timestamp {
	ts := Timestamp{Kind: Unsupported, Raw: raw}
	if len(raw) != 7 {
		return ts
	}
	for i := 0; i < 6; i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return ts
		}
	}

	a, b, c := twoDigits(raw[0:2]), twoDigits(raw[2:4]), twoDigits(raw[4:6])
	switch raw[6] {
	case 'z', '/':
		ts.Kind, ts.Day, ts.Hour, ts.Minute = DayHourMinute, a, b, c
	case 'h':
		ts.Kind, ts.Hour, ts.Minute, ts.Second = HourMinuteSecond, a, b, c
	}
	return ts
}

func twoDigits(s string) int {
	return int(s[0]-'0')*10 + int(s[1]-'0')
}
