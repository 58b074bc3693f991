package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/saviobatista/ogn-feed/internal/logging"
	"github.com/saviobatista/ogn-feed/internal/ogn"
	"github.com/saviobatista/ogn-feed/internal/types"
)

// Store persists session statistics snapshots
type Store interface {
	StoreSessionStats(ctx context.Context, stats *types.SessionStats) error
}

// Stats tracks feed session statistics
type Stats struct {
	// Line counts
	TotalLines     uint64
	ServerComments uint64
	ParseErrors    uint64
	UnknownData    uint64

	// Position report counts
	Positions  uint64
	Identified uint64
	Displayed  uint64
	Suppressed uint64

	BytesReceived uint64
	loginVerified uint32

	// Session
	SessionID    string
	Server       string
	ConnectedAt  time.Time
	LastLineTime time.Time

	stores []Store
	logger *log.Logger

	mu sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	RegisterMetrics()
	return &Stats{
		ConnectedAt: time.Now(),
		logger:      logging.Discard(),
	}
}

// SetLogger sets the logger used by the persistence loop
func (s *Stats) SetLogger(logger *log.Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// AddStore registers a persistence target
func (s *Stats) AddStore(store Store) {
	s.mu.Lock()
	s.stores = append(s.stores, store)
	s.mu.Unlock()
}

// StartSession resets the per-session counters for a new connection
func (s *Stats) StartSession(sessionID, server string) {
	s.mu.Lock()
	s.SessionID = sessionID
	s.Server = server
	s.ConnectedAt = time.Now()
	s.LastLineTime = time.Time{}
	s.mu.Unlock()

	for _, c := range []*uint64{
		&s.TotalLines, &s.ServerComments, &s.ParseErrors, &s.UnknownData,
		&s.Positions, &s.Identified, &s.Displayed, &s.Suppressed, &s.BytesReceived,
	} {
		atomic.StoreUint64(c, 0)
	}
	atomic.StoreUint32(&s.loginVerified, 0)

	feedSessions.Inc()
	feedLoginVerified.Set(0)
}

// IncrementTotalLines counts one line of n bytes read from the feed
func (s *Stats) IncrementTotalLines(n int) {
	atomic.AddUint64(&s.TotalLines, 1)
	if n > 0 {
		atomic.AddUint64(&s.BytesReceived, uint64(n))
		feedBytes.Add(float64(n))
	}
	s.mu.Lock()
	s.LastLineTime = time.Now()
	s.mu.Unlock()
}

// IncrementServerComments increments the server comment counter
func (s *Stats) IncrementServerComments() {
	atomic.AddUint64(&s.ServerComments, 1)
	feedLines.WithLabelValues(OutcomeServerComment).Inc()
}

// IncrementParseErrors increments the parse error counter
func (s *Stats) IncrementParseErrors() {
	atomic.AddUint64(&s.ParseErrors, 1)
	feedLines.WithLabelValues(OutcomeParseError).Inc()
}

// IncrementUnknownData increments the unknown data counter
func (s *Stats) IncrementUnknownData() {
	atomic.AddUint64(&s.UnknownData, 1)
	feedLines.WithLabelValues(OutcomeUnknownData).Inc()
}

// IncrementPositions increments the position report counter
func (s *Stats) IncrementPositions() {
	atomic.AddUint64(&s.Positions, 1)
}

// IncrementIdentified counts a position report whose comment carried an identity
func (s *Stats) IncrementIdentified(t ogn.AircraftType) {
	atomic.AddUint64(&s.Identified, 1)
	feedIdentified.WithLabelValues(t.String()).Inc()
}

// IncrementDisplayed increments the displayed counter
func (s *Stats) IncrementDisplayed() {
	atomic.AddUint64(&s.Displayed, 1)
	feedLines.WithLabelValues(OutcomeDisplayed).Inc()
}

// IncrementSuppressed counts a position report that produced no event
func (s *Stats) IncrementSuppressed() {
	atomic.AddUint64(&s.Suppressed, 1)
	feedLines.WithLabelValues(OutcomeSuppressed).Inc()
}

// SetLoginVerified records the server's login response
func (s *Stats) SetLoginVerified(verified bool) {
	var v uint32
	if verified {
		v = 1
	}
	atomic.StoreUint32(&s.loginVerified, v)
	feedLoginVerified.Set(float64(v))
}

// LoginVerified reports whether the server accepted the passcode
func (s *Stats) LoginVerified() bool {
	return atomic.LoadUint32(&s.loginVerified) == 1
}

// Snapshot returns a copy of the current statistics
func (s *Stats) Snapshot() *types.SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &types.SessionStats{
		SessionID:      s.SessionID,
		Server:         s.Server,
		ConnectedAt:    s.ConnectedAt,
		LastLineTime:   s.LastLineTime,
		TotalLines:     atomic.LoadUint64(&s.TotalLines),
		ServerComments: atomic.LoadUint64(&s.ServerComments),
		ParseErrors:    atomic.LoadUint64(&s.ParseErrors),
		UnknownData:    atomic.LoadUint64(&s.UnknownData),
		Positions:      atomic.LoadUint64(&s.Positions),
		Identified:     atomic.LoadUint64(&s.Identified),
		Displayed:      atomic.LoadUint64(&s.Displayed),
		Suppressed:     atomic.LoadUint64(&s.Suppressed),
		BytesReceived:  atomic.LoadUint64(&s.BytesReceived),
		LoginVerified:  s.LoginVerified(),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf(
		"Session: %s (%s)\n"+
			"Total Lines: %d\n"+
			"Server Comments: %d\n"+
			"Parse Errors: %d\n"+
			"Unknown Data: %d\n"+
			"Positions: %d\n"+
			"Identified: %d\n"+
			"Displayed: %d\n"+
			"Suppressed: %d\n"+
			"Bytes Received: %d\n"+
			"Login Verified: %t\n"+
			"Uptime: %s",
		snap.SessionID, snap.Server,
		snap.TotalLines,
		snap.ServerComments,
		snap.ParseErrors,
		snap.UnknownData,
		snap.Positions,
		snap.Identified,
		snap.Displayed,
		snap.Suppressed,
		snap.BytesReceived,
		snap.LoginVerified,
		time.Since(snap.ConnectedAt).Truncate(time.Second),
	)
}

// Persist stores the current statistics in every registered store
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	stores := append([]Store(nil), s.stores...)
	s.mu.RUnlock()

	if len(stores) == 0 {
		return fmt.Errorf("no stats store set")
	}

	snap := s.Snapshot()
	var errs []error
	for _, store := range stores {
		if err := store.StoreSessionStats(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartPersistence starts periodic persistence of statistics
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown, on a context that is still live
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := s.Persist(final); err != nil {
				s.log().Warn("Failed to persist final statistics", "err", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Persist(ctx); err != nil {
				s.log().Warn("Failed to persist statistics", "err", err)
			}
		}
	}
}

func (s *Stats) log() *log.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}
