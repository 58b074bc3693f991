package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/saviobatista/ogn-feed/internal/types"
)

// Client stores feed sessions and their stats samples in PostgreSQL
type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Client{db: db}, nil
}

// NewWithDB wraps an existing handle
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// DB exposes the handle for migrations
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping checks the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// CreateSession records a new feed connection. Re-recording an ID is a no-op.
func (c *Client) CreateSession(ctx context.Context, session *types.FeedSession) error {
	query := `
		INSERT INTO feed_sessions (session_id, server, login_user, filter, connected_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err := c.db.ExecContext(ctx, query,
		session.SessionID, session.Server, session.User, session.Filter, session.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", session.SessionID, err)
	}
	return nil
}

// EndSession marks a session closed with the reason it ended
func (c *Client) EndSession(ctx context.Context, sessionID string, closedAt time.Time, reason string) error {
	query := `
		UPDATE feed_sessions SET closed_at = $2, close_reason = $3
		WHERE session_id = $1 AND closed_at IS NULL
	`
	res, err := c.db.ExecContext(ctx, query, sessionID, closedAt, reason)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("session %s not found or already closed", sessionID)
	}
	return nil
}

// GetRecentSessions returns the latest sessions, newest first
func (c *Client) GetRecentSessions(ctx context.Context, limit int) ([]*types.FeedSession, error) {
	query := `
		SELECT session_id, server, login_user, filter, connected_at, closed_at, close_reason
		FROM feed_sessions
		ORDER BY connected_at DESC
		LIMIT $1
	`
	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.FeedSession
	for rows.Next() {
		var (
			s        types.FeedSession
			closedAt sql.NullTime
			reason   sql.NullString
		)
		if err := rows.Scan(&s.SessionID, &s.Server, &s.User, &s.Filter, &s.ConnectedAt, &closedAt, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if closedAt.Valid {
			t := closedAt.Time
			s.ClosedAt = &t
		}
		s.CloseReason = reason.String
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// StoreSessionStats inserts one stats sample
func (c *Client) StoreSessionStats(ctx context.Context, stats *types.SessionStats) error {
	query := `
		INSERT INTO session_stats (
			time, session_id, total_lines, server_comments, parse_errors,
			unknown_data, positions, identified, displayed, suppressed,
			bytes_received, login_verified, last_line_time
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	var lastLine sql.NullTime
	if !stats.LastLineTime.IsZero() {
		lastLine = sql.NullTime{Time: stats.LastLineTime, Valid: true}
	}

	_, err := c.db.ExecContext(ctx, query,
		time.Now().UTC(),
		stats.SessionID,
		int64(stats.TotalLines),
		int64(stats.ServerComments),
		int64(stats.ParseErrors),
		int64(stats.UnknownData),
		int64(stats.Positions),
		int64(stats.Identified),
		int64(stats.Displayed),
		int64(stats.Suppressed),
		int64(stats.BytesReceived),
		stats.LoginVerified,
		lastLine,
	)
	if err != nil {
		return fmt.Errorf("failed to store session stats: %w", err)
	}
	return nil
}

// GetSessionStats returns a session's samples in a time range, newest first
func (c *Client) GetSessionStats(ctx context.Context, sessionID string, start, end time.Time) ([]*types.SessionStats, error) {
	query := `
		SELECT
			s.session_id, f.server, f.connected_at, s.last_line_time,
			s.total_lines, s.server_comments, s.parse_errors, s.unknown_data,
			s.positions, s.identified, s.displayed, s.suppressed,
			s.bytes_received, s.login_verified
		FROM session_stats s
		JOIN feed_sessions f ON f.session_id = s.session_id
		WHERE s.session_id = $1 AND s.time BETWEEN $2 AND $3
		ORDER BY s.time DESC
	`

	rows, err := c.db.QueryContext(ctx, query, sessionID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query session stats: %w", err)
	}
	defer rows.Close()

	var out []*types.SessionStats
	for rows.Next() {
		var (
			s        types.SessionStats
			lastLine sql.NullTime
			counts   [9]int64
		)
		if err := rows.Scan(
			&s.SessionID, &s.Server, &s.ConnectedAt, &lastLine,
			&counts[0], &counts[1], &counts[2], &counts[3],
			&counts[4], &counts[5], &counts[6], &counts[7],
			&counts[8], &s.LoginVerified,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session stats: %w", err)
		}
		s.LastLineTime = lastLine.Time
		s.TotalLines = uint64(counts[0])
		s.ServerComments = uint64(counts[1])
		s.ParseErrors = uint64(counts[2])
		s.UnknownData = uint64(counts[3])
		s.Positions = uint64(counts[4])
		s.Identified = uint64(counts[5])
		s.Displayed = uint64(counts[6])
		s.Suppressed = uint64(counts[7])
		s.BytesReceived = uint64(counts[8])
		out = append(out, &s)
	}
	return out, rows.Err()
}
