package feed

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/saviobatista/ogn-feed/internal/logging"
)

// DefaultServer is the OGN APRS-IS entry point accepting server side filters
const DefaultServer = "aprs.glidernet.org:14580"

// DialOptions tune the TCP connection to the feed
type DialOptions struct {
	Timeout         time.Duration
	KeepAlivePeriod time.Duration
	Logger          *log.Logger
}

// Dial opens the TCP stream to addr
func Dial(ctx context.Context, addr string, opts DialOptions) (net.Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	d := net.Dialer{Timeout: opts.Timeout, KeepAlive: -1}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	configureTCP(conn, addr, opts.KeepAlivePeriod, logger)
	logger.Info("Connected", "peer", conn.RemoteAddr().String())

	return conn, nil
}

// configureTCP configures keepalive and disables Nagle. Failures only warn.
func configureTCP(conn net.Conn, addr string, period time.Duration, logger *log.Logger) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if period == 0 {
		period = 30 * time.Second
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		logger.Warn("Failed to set keepalive", "addr", addr, "err", err)
	}
	if err := tcpConn.SetKeepAlivePeriod(period); err != nil {
		logger.Warn("Failed to set keepalive period", "addr", addr, "err", err)
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		logger.Warn("Could not set TCP_NODELAY on socket", "addr", addr, "err", err)
	}
}

// Connect dials addr and wraps the stream in a Session ready to log in
func Connect(ctx context.Context, addr string, opts DialOptions, cfg SessionConfig) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = opts.Logger
	}
	conn, err := Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return NewSession(conn, cfg), nil
}
