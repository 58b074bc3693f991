package migrations

// FeedSessions records every connection made to the feed
var FeedSessions = &Migration{
	Name: "001_feed_sessions",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS feed_sessions (
			session_id TEXT PRIMARY KEY,
			server TEXT NOT NULL,
			login_user TEXT NOT NULL,
			filter TEXT NOT NULL,
			connected_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			close_reason TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_feed_sessions_connected_at ON feed_sessions (connected_at DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS feed_sessions;
	`,
}
