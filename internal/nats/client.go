package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/saviobatista/ogn-feed/internal/types"
)

const (
	// SubjectPrefix is followed by the event kind, e.g. "ogn.events.display_line"
	SubjectPrefix = "ogn.events"
	// SubjectAll matches every event kind
	SubjectAll = SubjectPrefix + ".*"
)

// Subject returns the subject events of kind are published on
func Subject(kind types.EventKind) string {
	return SubjectPrefix + "." + string(kind)
}

type publisher interface {
	Publish(subj string, data []byte) error
}

// Client publishes feed events over core NATS
type Client struct {
	conn *nats.Conn
	pub  publisher
}

// New creates a new NATS client
func New(url string, opts ...nats.Option) (*Client, error) {
	opts = append([]nats.Option{nats.Name("ogn-feed")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{
		conn: nc,
		pub:  nc,
	}, nil
}

// PublishEvent publishes an event on the subject for its kind
func (c *Client) PublishEvent(event *types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := c.pub.Publish(Subject(event.Kind), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// SubscribeEvents subscribes to subject, SubjectAll or a Subject(kind)
func (c *Client) SubscribeEvents(subject string, handler func(*types.Event)) (*nats.Subscription, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event types.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		handler(&event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return sub, nil
}

// Flush waits until the server has processed everything published so far
func (c *Client) Flush() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Flush()
}

// Close drains and closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
