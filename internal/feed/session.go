// Package feed runs an APRS-IS session: it sends the login line, reads the
// stream one line at a time and turns each line into at most one event.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/saviobatista/ogn-feed/internal/logging"
	"github.com/saviobatista/ogn-feed/internal/ogn"
	"github.com/saviobatista/ogn-feed/internal/types"
)

var (
	// ErrClosed is returned by every call on a session that has ended
	ErrClosed = errors.New("feed session closed")
	// ErrNotStreaming is returned by Next before Login succeeded
	ErrNotStreaming = errors.New("feed session not logged in")
)

// DefaultMaxLineLength bounds a single feed line
const DefaultMaxLineLength = 16 * 1024

// State is the session lifecycle position
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Recorder receives per-line counters. *stats.Stats implements it.
type Recorder interface {
	IncrementTotalLines(n int)
	IncrementServerComments()
	IncrementParseErrors()
	IncrementUnknownData()
	IncrementPositions()
	IncrementIdentified(t ogn.AircraftType)
	IncrementDisplayed()
	IncrementSuppressed()
	SetLoginVerified(verified bool)
}

type nopRecorder struct{}

func (nopRecorder) IncrementTotalLines(int)              {}
func (nopRecorder) IncrementServerComments()             {}
func (nopRecorder) IncrementParseErrors()                {}
func (nopRecorder) IncrementUnknownData()                {}
func (nopRecorder) IncrementPositions()                  {}
func (nopRecorder) IncrementIdentified(ogn.AircraftType) {}
func (nopRecorder) IncrementDisplayed()                  {}
func (nopRecorder) IncrementSuppressed()                 {}
func (nopRecorder) SetLoginVerified(bool)                {}

// SessionConfig configures a Session. Zero values select defaults.
type SessionConfig struct {
	Credentials Credentials

	// Predicate selects displayed aircraft, DefaultPredicate when nil
	Predicate Predicate

	Recorder      Recorder
	Logger        *log.Logger
	SessionID     string
	MaxLineLength int
	Now           func() time.Time
}

// Handler consumes events in arrival order
type Handler func(ctx context.Context, event *types.Event) error

// Session is one authenticated connection to the feed. It is a single reader:
// Login, Next and Run must not be called concurrently. Close may be called
// from any goroutine.
type Session struct {
	id      string
	conn    io.ReadWriteCloser
	scanner *bufio.Scanner
	creds   Credentials
	keep    Predicate
	rec     Recorder
	logger  *log.Logger
	now     func() time.Time

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// NewSession wraps an already connected stream. The session starts in
// StateAuthenticating and sends nothing until Login.
func NewSession(conn io.ReadWriteCloser, cfg SessionConfig) *Session {
	s := &Session{
		id:     cfg.SessionID,
		conn:   conn,
		creds:  cfg.Credentials,
		keep:   cfg.Predicate,
		rec:    cfg.Recorder,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.keep == nil {
		s.keep = DefaultPredicate
	}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}

	maxLine := cfg.MaxLineLength
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	s.scanner = bufio.NewScanner(conn)
	s.scanner.Buffer(make([]byte, 0, min(4096, maxLine)), maxLine)
	s.scanner.Split(scanCompleteLines)

	s.logger = s.logger.With("session", s.id)
	s.state.Store(int32(StateAuthenticating))
	return s
}

// ID returns the session identifier stamped on every event
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Login sends the login line. It is attempted once; any failure closes the session.
func (s *Session) Login(ctx context.Context) error {
	switch s.State() {
	case StateClosed:
		return ErrClosed
	case StateAuthenticating:
	default:
		return fmt.Errorf("login already sent")
	}

	if err := s.creds.Validate(); err != nil {
		s.Close()
		return fmt.Errorf("invalid credentials: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	if _, err := io.WriteString(s.conn, LoginLine(s.creds)); err != nil {
		s.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to send login: %w", err)
	}

	if !s.state.CompareAndSwap(int32(StateAuthenticating), int32(StateStreaming)) {
		return ErrClosed
	}
	s.logger.Debug("Login sent", "user", s.creds.User, "filter", s.creds.Filter)
	return nil
}

// Next blocks until a line produces an event. End of stream returns an error
// wrapping io.EOF; after any error the session is closed and later calls
// return ErrClosed.
func (s *Session) Next(ctx context.Context) (*types.Event, error) {
	switch s.State() {
	case StateClosed:
		return nil, ErrClosed
	case StateStreaming:
	default:
		return nil, ErrNotStreaming
	}

	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for s.scanner.Scan() {
		line := s.scanner.Text()
		s.rec.IncrementTotalLines(len(line) + 1)

		c := classify(line, s.keep)
		s.record(line, c)
		if c.event == nil {
			continue
		}
		c.event.SessionID = s.id
		c.event.ReceivedAt = s.now()
		return c.event, nil
	}

	err := s.scanner.Err()
	s.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		return nil, fmt.Errorf("feed stream ended: %w", io.EOF)
	}
	return nil, fmt.Errorf("failed to read from feed: %w", err)
}

func (s *Session) record(line string, c classification) {
	switch c.outcome {
	case outcomeComment:
		s.rec.IncrementServerComments()
		if verified, ok := parseLogresp(line); ok {
			s.rec.SetLoginVerified(verified)
			s.logger.Info("Login acknowledged", "verified", verified, "response", line)
		}
	case outcomeParseError:
		s.rec.IncrementParseErrors()
	case outcomeUnknown:
		s.rec.IncrementUnknownData()
	case outcomeNoIdentity:
		s.rec.IncrementPositions()
		s.rec.IncrementSuppressed()
	case outcomeFiltered:
		s.rec.IncrementPositions()
		s.rec.IncrementIdentified(c.identity.AircraftType)
		s.rec.IncrementSuppressed()
	case outcomeDisplayed:
		s.rec.IncrementPositions()
		s.rec.IncrementIdentified(c.identity.AircraftType)
		s.rec.IncrementDisplayed()
	}
}

// Run logs in and hands every event to handler until the stream ends, ctx is
// cancelled or handler fails.
func (s *Session) Run(ctx context.Context, handler Handler) error {
	if err := s.Login(ctx); err != nil {
		return err
	}
	for {
		event, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if err := handler(ctx, event); err != nil {
			s.Close()
			return fmt.Errorf("event handler failed: %w", err)
		}
	}
}

// Close ends the session and releases the stream. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.closeErr = s.conn.Close()
		s.logger.Debug("Session closed")
	})
	return s.closeErr
}

// scanCompleteLines splits on '\n' and drops one trailing '\r'. A partial
// line at end of stream is discarded, never returned.
func scanCompleteLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[:i], []byte{'\r'}), nil
	}
	return 0, nil, nil
}
