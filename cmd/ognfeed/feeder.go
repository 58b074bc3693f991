package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/saviobatista/ogn-feed/internal/feed"
	"github.com/saviobatista/ogn-feed/internal/stats"
	"github.com/saviobatista/ogn-feed/internal/types"
)

// SessionStore interface for testability
type SessionStore interface {
	CreateSession(ctx context.Context, session *types.FeedSession) error
	EndSession(ctx context.Context, sessionID string, closedAt time.Time, reason string) error
}

// Feeder owns the connection lifecycle: one feed session at a time, retried
// after a delay when Reconnect is set.
type Feeder struct {
	Server  string
	Dial    feed.DialOptions
	Session feed.SessionConfig
	Handler feed.Handler

	Stats         *stats.Stats
	StatsInterval time.Duration
	Sessions      SessionStore

	Reconnect      bool
	ReconnectDelay time.Duration
	Logger         *log.Logger

	persistOnce sync.Once
	wg          sync.WaitGroup
}

// fatalError marks failures a reconnect cannot fix
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Run blocks until ctx is cancelled or the feed fails for good. Cancellation
// is a clean exit.
func (f *Feeder) Run(ctx context.Context) error {
	for {
		err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		var fatal *fatalError
		if errors.As(err, &fatal) || !f.Reconnect {
			return err
		}

		f.Logger.Error("Feed session ended", "err", err, "retry_in", f.ReconnectDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.ReconnectDelay):
		}
	}
}

func (f *Feeder) runOnce(ctx context.Context) error {
	sess, err := feed.Connect(ctx, f.Server, f.Dial, f.Session)
	if err != nil {
		return err
	}
	defer sess.Close()

	f.Stats.StartSession(sess.ID(), f.Server)
	f.recordStart(ctx, sess.ID())
	f.startPersistence(ctx)
	f.Logger.Info("Feed session started", "session", sess.ID(), "server", f.Server, "filter", f.Session.Credentials.Filter)

	var handlerErr error
	err = sess.Run(ctx, func(ctx context.Context, event *types.Event) error {
		if err := f.Handler(ctx, event); err != nil {
			handlerErr = err
			return err
		}
		return nil
	})

	f.recordEnd(ctx, sess.ID(), err)
	f.Logger.Info("Feed session statistics\n" + f.Stats.String())

	if handlerErr != nil {
		return &fatalError{err: err}
	}
	return err
}

func (f *Feeder) recordStart(ctx context.Context, id string) {
	if f.Sessions == nil {
		return
	}
	err := f.Sessions.CreateSession(ctx, &types.FeedSession{
		SessionID:   id,
		Server:      f.Server,
		User:        f.Session.Credentials.User,
		Filter:      f.Session.Credentials.Filter,
		ConnectedAt: time.Now().UTC(),
	})
	if err != nil {
		f.Logger.Warn("Failed to record session", "session", id, "err", err)
	}
}

func (f *Feeder) recordEnd(ctx context.Context, id string, cause error) {
	if f.Sessions == nil {
		return
	}
	reason := "closed"
	if cause != nil {
		reason = cause.Error()
	}
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := f.Sessions.EndSession(endCtx, id, time.Now().UTC(), reason); err != nil {
		f.Logger.Warn("Failed to record session end", "session", id, "err", err)
	}
}

// startPersistence starts the stats loop once a session row exists
func (f *Feeder) startPersistence(ctx context.Context) {
	if f.StatsInterval <= 0 {
		return
	}
	f.persistOnce.Do(func() {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.Stats.StartPersistence(ctx, f.StatsInterval)
		}()
	})
}

// Wait blocks until background persistence has written its final sample.
// ctx passed to Run must be cancelled first.
func (f *Feeder) Wait() {
	f.wg.Wait()
}
