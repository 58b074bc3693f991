package migrations

// SessionStats holds periodic counter samples per session
var SessionStats = &Migration{
	Name: "002_session_stats",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS session_stats (
			time TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL REFERENCES feed_sessions (session_id) ON DELETE CASCADE,
			total_lines BIGINT NOT NULL,
			server_comments BIGINT NOT NULL,
			parse_errors BIGINT NOT NULL,
			unknown_data BIGINT NOT NULL,
			positions BIGINT NOT NULL,
			identified BIGINT NOT NULL,
			displayed BIGINT NOT NULL,
			suppressed BIGINT NOT NULL,
			bytes_received BIGINT NOT NULL,
			login_verified BOOLEAN NOT NULL,
			last_line_time TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_session_stats_session_time ON session_stats (session_id, time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS session_stats;
	`,
}
