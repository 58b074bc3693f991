package testutils

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/saviobatista/ogn-feed/internal/ogn"
	"github.com/saviobatista/ogn-feed/internal/types"
)

// MockBeaconLine builds an OGN position report carrying id in its comment
func MockBeaconLine(source string, lat, lon float64, id ogn.Identity) string {
	return fmt.Sprintf("%s>APRS,qAS,RECV:/144500h%s/%s'000/000/%s climb+0.0",
		source, formatLatitude(lat), formatLongitude(lon), id.Token())
}

func formatLatitude(lat float64) string {
	hemi := byte('N')
	if lat < 0 {
		hemi, lat = 'S', -lat
	}
	deg, frac := math.Modf(lat)
	return fmt.Sprintf("%02d%05.2f%c", int(deg), frac*60, hemi)
}

func formatLongitude(lon float64) string {
	hemi := byte('E')
	if lon < 0 {
		hemi, lon = 'W', -lon
	}
	deg, frac := math.Modf(lon)
	return fmt.Sprintf("%03d%05.2f%c", int(deg), frac*60, hemi)
}

// MockDisplayEvent creates a display line event for sink tests
func MockDisplayEvent(address string, aircraft ogn.AircraftType) *types.Event {
	event := types.Display("OGN"+address+">APRS,qAS,RECV:/144500h4700.00N/00800.00E'000/000/id1F"+address, &types.DisplayLine{
		Timestamp:    "Today/14:45:00",
		Latitude:     47,
		Longitude:    8,
		AircraftType: aircraft,
		AddressType:  ogn.Ogn,
		Address:      address,
		Source:       "OGN" + address,
		Destination:  "APRS",
		Path:         []string{"qAS", "RECV"},
	})
	event.SessionID = "test-session"
	event.ReceivedAt = time.Now().UTC()
	return event
}

// FakeFeedServer is a loopback APRS-IS server for one client. It records the
// login line, writes the scripted lines and closes the connection.
type FakeFeedServer struct {
	listener net.Listener
	lines    []string
	login    chan string
	holdOpen bool

	mu   sync.Mutex
	conn net.Conn
}

// NewFakeFeedServer starts a server on 127.0.0.1 that sends lines after the login
func NewFakeFeedServer(t *testing.T, lines ...string) *FakeFeedServer {
	t.Helper()
	return startFakeFeedServer(t, false, lines)
}

// NewHoldingFakeFeedServer is NewFakeFeedServer that keeps the connection
// open after the scripted lines until Close.
func NewHoldingFakeFeedServer(t *testing.T, lines ...string) *FakeFeedServer {
	t.Helper()
	return startFakeFeedServer(t, true, lines)
}

func startFakeFeedServer(t *testing.T, hold bool, lines []string) *FakeFeedServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	s := &FakeFeedServer{
		listener: ln,
		lines:    lines,
		login:    make(chan string, 1),
		holdOpen: hold,
	}
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the host:port to dial
func (s *FakeFeedServer) Addr() string {
	return s.listener.Addr().String()
}

// Login waits for the login line the client sent, including its CRLF
func (s *FakeFeedServer) Login(timeout time.Duration) (string, error) {
	select {
	case line := <-s.login:
		return line, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("timeout waiting for login")
	}
}

// Close stops the listener and drops the client
func (s *FakeFeedServer) Close() {
	s.listener.Close()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
}

func (s *FakeFeedServer) serve() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	_, _ = fmt.Fprint(conn, "# aprsc 2.1.14-g5e22b37\r\n")

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		conn.Close()
		return
	}
	s.login <- line

	for _, l := range s.lines {
		if _, err := fmt.Fprint(conn, l+"\r\n"); err != nil {
			return
		}
	}
	if !s.holdOpen {
		conn.Close()
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
