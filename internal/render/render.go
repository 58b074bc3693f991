// Package render writes feed events to a terminal in the classic console form.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/s2"
	"github.com/lestrrat-go/strftime"

	"github.com/saviobatista/ogn-feed/internal/types"
)

// EarthRadiusKm is the mean radius used for great-circle distances
const EarthRadiusKm = 6371.0088

// Options tunes the console form. The zero value prints events exactly as
// received, with no prefix or distance.
type Options struct {
	// TimeFormat is a strftime pattern prefixed to every line with the receive time
	TimeFormat string

	// Center enables a distance suffix on display lines
	Center *s2.LatLng
}

// Renderer formats events and writes one line per event
type Renderer struct {
	w      io.Writer
	stamp  *strftime.Strftime
	center *s2.LatLng
	mu     sync.Mutex
}

// New creates a renderer writing to w
func New(w io.Writer, opts Options) (*Renderer, error) {
	r := &Renderer{w: w, center: opts.Center}
	if opts.TimeFormat != "" {
		f, err := strftime.New(opts.TimeFormat)
		if err != nil {
			return nil, fmt.Errorf("invalid time format %q: %w", opts.TimeFormat, err)
		}
		r.stamp = f
	}
	return r, nil
}

// Center builds a range centre from degrees
func Center(lat, lon float64) *s2.LatLng {
	ll := s2.LatLngFromDegrees(lat, lon)
	return &ll
}

// DistanceKm returns the great-circle distance between two points
func DistanceKm(a, b s2.LatLng) float64 {
	return a.Distance(b).Radians() * EarthRadiusKm
}

// Render writes the event's console line. Write failures are returned as is.
func (r *Renderer) Render(event *types.Event) error {
	line := r.Format(event)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := io.WriteString(r.w, line+"\n")
	return err
}

// Format returns the console line for event without the trailing newline
func (r *Renderer) Format(event *types.Event) string {
	var b strings.Builder
	if r.stamp != nil {
		at := event.ReceivedAt
		if at.IsZero() {
			at = time.Now()
		}
		b.WriteString(r.stamp.FormatString(at))
		b.WriteByte(' ')
	}

	switch event.Kind {
	case types.KindServerComment:
		b.WriteString(event.Raw)
	case types.KindParseError:
		b.WriteString("Err: ")
		b.WriteString(event.Detail)
	case types.KindUnknownData:
		b.WriteString("Unknown data: ")
		b.WriteString(event.Raw)
	case types.KindDisplayLine:
		b.WriteString(FormatDisplay(event.Display))
		if r.center != nil && event.Display != nil {
			km := DistanceKm(*r.center, s2.LatLngFromDegrees(event.Display.Latitude, event.Display.Longitude))
			fmt.Fprintf(&b, " %.1f km", km)
		}
	default:
		b.WriteString(event.Raw)
	}
	return b.String()
}

// FormatDisplay renders a display line as
// "{ts}: {lat}/{lon} ({aircraft} {addrtype} {address} from {src} to {dst} via [{path}])"
func FormatDisplay(d *types.DisplayLine) string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf("%s: %.6f/%.6f (%s %s %s from %s to %s via %s)",
		d.Timestamp,
		d.Latitude,
		d.Longitude,
		d.AircraftType,
		d.AddressType,
		d.Address,
		d.Source,
		d.Destination,
		formatPath(d.Path),
	)
}

func formatPath(path []string) string {
	quoted := make([]string, len(path))
	for i, p := range path {
		quoted[i] = strconv.Quote(p)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
