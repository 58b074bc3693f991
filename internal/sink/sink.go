// Package sink fans feed events out to the console and the optional
// downstream transports.
package sink

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/saviobatista/ogn-feed/internal/logging"
	"github.com/saviobatista/ogn-feed/internal/stats"
	"github.com/saviobatista/ogn-feed/internal/types"
)

// Sink delivers events to one destination
type Sink struct {
	Name string
	Send func(ctx context.Context, event *types.Event) error

	// Required sinks abort the session when they fail
	Required bool
}

// Renderer is satisfied by *render.Renderer
type Renderer interface {
	Render(event *types.Event) error
}

// EventPublisher is satisfied by *nats.Client
type EventPublisher interface {
	PublishEvent(event *types.Event) error
}

// ContextPublisher is satisfied by *redis.Client
type ContextPublisher interface {
	PublishEvent(ctx context.Context, event *types.Event) error
}

// Broadcaster is satisfied by *hub.Hub
type Broadcaster interface {
	Broadcast(event *types.Event) error
}

// Console writes every event to the terminal. Its failure is fatal.
func Console(r Renderer) Sink {
	return Sink{
		Name:     "console",
		Required: true,
		Send: func(_ context.Context, event *types.Event) error {
			return r.Render(event)
		},
	}
}

// NATS publishes every event on its kind subject
func NATS(p EventPublisher) Sink {
	return Sink{
		Name: "nats",
		Send: func(_ context.Context, event *types.Event) error {
			return p.PublishEvent(event)
		},
	}
}

// Redis publishes every event on the events channel
func Redis(p ContextPublisher) Sink {
	return Sink{
		Name: "redis",
		Send: p.PublishEvent,
	}
}

// Hub pushes display lines to WebSocket clients
func Hub(b Broadcaster) Sink {
	return Sink{
		Name: "hub",
		Send: func(_ context.Context, event *types.Event) error {
			return b.Broadcast(event)
		},
	}
}

// Fanout hands each event to its sinks in order
type Fanout struct {
	sinks  []Sink
	logger *log.Logger
}

// NewFanout creates a fan-out over sinks. A nil logger discards warnings.
func NewFanout(logger *log.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = logging.Discard()
	}
	stats.RegisterMetrics()
	return &Fanout{sinks: sinks, logger: logger}
}

// Names lists the configured sinks in delivery order
func (f *Fanout) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name
	}
	return names
}

// Handle delivers event to every sink. It has the feed.Handler signature.
func (f *Fanout) Handle(ctx context.Context, event *types.Event) error {
	for _, s := range f.sinks {
		if err := s.Send(ctx, event); err != nil {
			stats.RecordSinkFailure(s.Name)
			if s.Required {
				return fmt.Errorf("%s sink failed: %w", s.Name, err)
			}
			f.logger.Warn("Sink failed", "sink", s.Name, "kind", event.Kind, "err", err)
		}
	}
	return nil
}
