// Package hub serves the live display feed over WebSocket next to health and
// metrics endpoints.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saviobatista/ogn-feed/internal/logging"
	"github.com/saviobatista/ogn-feed/internal/stats"
	"github.com/saviobatista/ogn-feed/internal/types"
)

const (
	// DefaultClientBuffer is the number of events queued per client before it is dropped
	DefaultClientBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StatsSource supplies the snapshot served on /stats
type StatsSource interface {
	Snapshot() *types.SessionStats
}

// Options configures a Hub
type Options struct {
	Logger       *log.Logger
	Stats        StatsSource
	ClientBuffer int
}

type client struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
}

// Hub fans display events out to WebSocket clients. A client whose queue is
// full is disconnected so Broadcast never blocks.
type Hub struct {
	router   *gin.Engine
	upgrader websocket.Upgrader
	logger   *log.Logger
	stats    StatsSource
	buffer   int
	started  time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// New creates a hub with its routes registered
func New(opts Options) *Hub {
	gin.SetMode(gin.ReleaseMode)
	stats.RegisterMetrics()

	h := &Hub{
		router:  gin.New(),
		logger:  opts.Logger,
		stats:   opts.Stats,
		buffer:  opts.ClientBuffer,
		started: time.Now(),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if h.logger == nil {
		h.logger = logging.Discard()
	}
	if h.buffer <= 0 {
		h.buffer = DefaultClientBuffer
	}
	h.router.Use(gin.Recovery())
	h.registerRoutes()
	return h
}

func (h *Hub) registerRoutes() {
	h.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(h.started).Truncate(time.Second).String(),
			"clients": h.Clients(),
		})
	})

	h.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h.router.GET("/stats", func(c *gin.Context) {
		if h.stats == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "stats not available"})
			return
		}
		c.JSON(http.StatusOK, h.stats.Snapshot())
	})

	h.router.GET("/ws", h.serveWS)
}

// Handler returns the HTTP handler serving every route
func (h *Hub) Handler() http.Handler {
	return h.router
}

// Clients returns the number of connected WebSocket clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) serveWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote", c.Request.RemoteAddr, "err", err)
		return
	}

	cl := &client{conn: conn, remote: conn.RemoteAddr().String(), send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[cl] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	stats.SetHubClients(n)
	h.logger.Debug("WebSocket client connected", "remote", cl.remote, "clients", n)

	go h.writePump(cl)
	h.readPump(cl)
}

// readPump discards client messages and notices disconnects
func (h *Hub) readPump(cl *client) {
	defer h.remove(cl)

	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read failed", "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(cl)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(cl)
				return
			}
		}
	}
}

// remove unregisters cl and closes its queue; later calls are no-ops
func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, cl)
	close(cl.send)
	n := len(h.clients)
	h.mu.Unlock()

	stats.SetHubClients(n)
}

// Broadcast queues a display event for every client. Other kinds are ignored.
func (h *Hub) Broadcast(event *types.Event) error {
	if event.Kind != types.KindDisplayLine {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	h.mu.Lock()
	var slow []*client
	for cl := range h.clients {
		select {
		case cl.send <- data:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.Unlock()

	for _, cl := range slow {
		h.logger.Warn("Dropping slow WebSocket client", "remote", cl.remote)
		h.remove(cl)
	}
	return nil
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	for _, cl := range clients {
		h.remove(cl)
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("HTTP hub listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve hub: %w", err)
	case <-ctx.Done():
	}

	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down hub: %w", err)
	}
	return nil
}
