package feed

import (
	"strings"

	"github.com/saviobatista/ogn-feed/internal/aprs"
	"github.com/saviobatista/ogn-feed/internal/ogn"
	"github.com/saviobatista/ogn-feed/internal/types"
)

// Predicate decides whether an identified aircraft is displayed
type Predicate func(ogn.Identity) bool

// AcceptAll displays every identified aircraft
func AcceptAll(ogn.Identity) bool { return true }

// AircraftTypeIs matches identities of any of the given types
func AircraftTypeIs(types ...ogn.AircraftType) Predicate {
	var set [16]bool
	for _, t := range types {
		if int(t) < len(set) {
			set[t] = true
		}
	}
	return func(id ogn.Identity) bool {
		return int(id.AircraftType) < len(set) && set[id.AircraftType]
	}
}

// DefaultPredicate shows paragliders only
var DefaultPredicate = AircraftTypeIs(ogn.Paraglider)

type outcome int

const (
	outcomeComment outcome = iota
	outcomeParseError
	outcomeUnknown
	outcomeNoIdentity
	outcomeFiltered
	outcomeDisplayed
)

type classification struct {
	event    *types.Event
	outcome  outcome
	identity *ogn.Identity
}

// Classify turns one feed line into an event. It returns nil for position
// reports without an identity or rejected by keep.
func Classify(line string, keep Predicate) *types.Event {
	return classify(line, keep).event
}

func classify(line string, keep Predicate) classification {
	if strings.HasPrefix(line, "#") {
		return classification{event: types.ServerComment(line), outcome: outcomeComment}
	}

	pkt, err := aprs.Parse(line)
	if err != nil {
		return classification{event: types.ParseError(line, err.Error()), outcome: outcomeParseError}
	}

	if pkt.Kind != aprs.KindPosition || pkt.Position == nil {
		return classification{event: types.UnknownData(line), outcome: outcomeUnknown}
	}

	pos := pkt.Position
	id, ok := ogn.Decode(pos.Comment)
	if !ok {
		return classification{outcome: outcomeNoIdentity}
	}
	if keep == nil {
		keep = DefaultPredicate
	}
	if !keep(*id) {
		return classification{outcome: outcomeFiltered, identity: id}
	}

	path := make([]string, len(pkt.Path))
	copy(path, pkt.Path)

	return classification{
		event: types.Display(line, &types.DisplayLine{
			Timestamp:    aprs.FormatTimestamp(pos.Timestamp),
			Latitude:     pos.Latitude,
			Longitude:    pos.Longitude,
			AircraftType: id.AircraftType,
			AddressType:  id.AddressType,
			Address:      id.Address,
			Source:       pkt.Source,
			Destination:  pkt.Destination,
			Path:         path,
		}),
		outcome:  outcomeDisplayed,
		identity: id,
	}
}
