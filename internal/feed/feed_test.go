package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saviobatista/ogn-feed/internal/ogn"
	"github.com/saviobatista/ogn-feed/internal/stats"
	"github.com/saviobatista/ogn-feed/internal/testutils"
	"github.com/saviobatista/ogn-feed/internal/types"
)

var testCreds = Credentials{
	User:       "N0CALL",
	Pass:       ReceiveOnlyPasscode,
	AppName:    "ogn-feed",
	AppVersion: "0.1.0",
	Filter:     "r/47.217/8.804/30",
}

// fakeConn replays a fixed stream and records writes.
type fakeConn struct {
	r        io.Reader
	mu       sync.Mutex
	written  bytes.Buffer
	writes   int
	writeErr error
	closed   bool
}

func newFakeConn(stream string) *fakeConn {
	return &fakeConn{r: strings.NewReader(stream)}
}

func (c *fakeConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.written.Write(p)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func fixedNow() time.Time { return time.Date(2024, 6, 1, 14, 45, 3, 0, time.UTC) }

func TestLoginLine(t *testing.T) {
	got := LoginLine(testCreds)
	assert.Equal(t, "user N0CALL pass -1 vers ogn-feed 0.1.0 filter r/47.217/8.804/30\r\n", got)
}

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Credentials)
		wantErr string
	}{
		{name: "valid", modify: func(c *Credentials) {}},
		{name: "empty user", modify: func(c *Credentials) { c.User = "" }, wantErr: "login user is empty"},
		{name: "empty pass", modify: func(c *Credentials) { c.Pass = "" }, wantErr: "login pass is empty"},
		{name: "empty app name", modify: func(c *Credentials) { c.AppName = "" }, wantErr: "login app name is empty"},
		{name: "empty version", modify: func(c *Credentials) { c.AppVersion = "" }, wantErr: "login app version is empty"},
		{name: "empty filter", modify: func(c *Credentials) { c.Filter = "" }, wantErr: "login filter is empty"},
		{name: "space in filter", modify: func(c *Credentials) { c.Filter = "r/1/2/3 t/p" }, wantErr: "login filter contains whitespace"},
		{name: "newline in user", modify: func(c *Credentials) { c.User = "N0CALL\r\n" }, wantErr: "login user contains whitespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCreds
			tt.modify(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLogresp(t *testing.T) {
	tests := []struct {
		line         string
		wantVerified bool
		wantOK       bool
	}{
		{"# logresp N0CALL verified, server GLIDERN1", true, true},
		{"# logresp N0CALL unverified, server GLIDERN3", false, true},
		{"#logresp N0CALL verified, server GLIDERN1", true, true},
		{"# logresp N0CALL", false, false},
		{"# aprsc 2.1.14-g5e22b37", false, false},
		{"#keepalive", false, false},
	}

	for _, tt := range tests {
		verified, ok := parseLogresp(tt.line)
		assert.Equal(t, tt.wantOK, ok, tt.line)
		assert.Equal(t, tt.wantVerified, verified, tt.line)
	}
}

func TestAircraftTypeIs(t *testing.T) {
	keep := AircraftTypeIs(ogn.Glider, ogn.Hangglider)

	assert.True(t, keep(ogn.Identity{Flags: ogn.Flags{AircraftType: ogn.Glider}}))
	assert.True(t, keep(ogn.Identity{Flags: ogn.Flags{AircraftType: ogn.Hangglider}}))
	assert.False(t, keep(ogn.Identity{Flags: ogn.Flags{AircraftType: ogn.Paraglider}}))
	assert.False(t, AircraftTypeIs()(ogn.Identity{}))

	assert.True(t, DefaultPredicate(ogn.Identity{Flags: ogn.Flags{AircraftType: ogn.Paraglider}}))
	assert.False(t, DefaultPredicate(ogn.Identity{Flags: ogn.Flags{AircraftType: ogn.Glider}}))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		keep       Predicate
		wantKind   types.EventKind
		wantNil    bool
		wantDetail string
	}{
		{name: "server banner", line: "# aprsc 2.1.14-g5e22b37", wantKind: types.KindServerComment},
		{name: "keepalive", line: "#keepalive", wantKind: types.KindServerComment},
		// A comment is never parsed even when it looks like a beacon.
		{name: "comment shaped like beacon", line: "#OGN123>APRS:!4700.00N/00800.00E'id1F123456", wantKind: types.KindServerComment},
		{name: "no header", line: "this is not a beacon", wantKind: types.KindParseError, wantDetail: "invalid header"},
		{name: "empty line", line: "", wantKind: types.KindParseError, wantDetail: "invalid header"},
		{name: "bad position", line: "OGN123>APRS:!47XX.00N/00800.00E'id1F123456", wantKind: types.KindParseError, wantDetail: "invalid position"},
		{name: "status report", line: "LFMX>OGNSDR,TCPIP*,qAC,GLIDERN2:>165803h v0.2.7.RPI-GPU", wantKind: types.KindUnknownData},
		{name: "position without identity", line: "N0CALL>APRS:!4903.50N/07201.75W-no id here", wantNil: true},
		{name: "filtered aircraft", line: "FLRDDA5BA>APRS,qAS,LFMX:/165829h4415.41N/00600.03E'342/049/A=005524 id21DDA5BA -454fpm", wantNil: true},
		{name: "paraglider", line: "OGN123>APRS,qAS,RECV:/144500h4700.00N/00800.00E'000/000/id1F123456 climb+1.2", wantKind: types.KindDisplayLine},
		{name: "accept all", line: "FLRDDA5BA>APRS,qAS,LFMX:/165829h4415.41N/00600.03E'342/049/A=005524 id21DDA5BA -454fpm", keep: AcceptAll, wantKind: types.KindDisplayLine},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := Classify(tt.line, tt.keep)
			if tt.wantNil {
				assert.Nil(t, event)
				return
			}
			require.NotNil(t, event)
			assert.Equal(t, tt.wantKind, event.Kind)
			assert.Equal(t, tt.line, event.Raw)
			if tt.wantDetail != "" {
				assert.Contains(t, event.Detail, tt.wantDetail)
			}
		})
	}
}

func TestClassify_DisplayLine(t *testing.T) {
	event := Classify("OGN123>APRS,qAS,RECV:/144500h4700.00N/00800.00E'000/000/id1F123456 climb+1.2", nil)
	require.NotNil(t, event)
	require.NotNil(t, event.Display)

	assert.Equal(t, &types.DisplayLine{
		Timestamp:    "Today/14:45:00",
		Latitude:     47,
		Longitude:    8,
		AircraftType: ogn.Paraglider,
		AddressType:  ogn.Ogn,
		Address:      "123456",
		Source:       "OGN123",
		Destination:  "APRS",
		Path:         []string{"qAS", "RECV"},
	}, event.Display)
}

func TestClassify_ReservedTypeCodeWithAcceptAll(t *testing.T) {
	// 0x3F carries the reserved aircraft code 0xF, which reads as Unknown.
	event := Classify("OGN123>APRS,qAS,RECV:/144500h4700.00N/00800.00E'000/000/id3F123456 climb+1.2", AcceptAll)
	require.NotNil(t, event)
	require.NotNil(t, event.Display)

	assert.Equal(t, ogn.Unknown, event.Display.AircraftType)
	assert.Equal(t, ogn.Ogn, event.Display.AddressType)
	assert.Equal(t, "123456", event.Display.Address)

	assert.Nil(t, Classify(event.Raw, nil), "Unknown aircraft are not paragliders")
}

func TestClassify_TimestampForms(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"OGN123>APRS:/051430z4700.00N/00800.00E'id1F123456", "05/14:30"},
		{"OGN123>APRS:@051430/4700.00N/00800.00E'id1F123456", "05/14:30"},
		{"OGN123>APRS:/144500h4700.00N/00800.00E'id1F123456", "Today/14:45:00"},
		{"OGN123>APRS:/12345xx4700.00N/00800.00E'id1F123456", "12345xx"},
		{"OGN123>APRS:!4700.00N/00800.00E'id1F123456", "?"},
		{"OGN123>APRS:=4700.00N/00800.00E'id1F123456", "?"},
	}

	for _, tt := range tests {
		event := Classify(tt.line, nil)
		require.NotNil(t, event, tt.line)
		require.Equal(t, types.KindDisplayLine, event.Kind, tt.line)
		assert.Equal(t, tt.want, event.Display.Timestamp, tt.line)
	}
}

var scriptedLines = []string{
	"# aprsc 2.1.14-g5e22b37 22 Jun 2024 GLIDERN3",
	"# logresp N0CALL unverified, server GLIDERN3",
	"OGN123>APRS,qAS,RECV:/144500h4700.00N/00800.00E'000/000/id1F123456 climb+1.2",
	"FLRDDA5BA>APRS,qAS,LFMX:/165829h4415.41N/00600.03E'342/049/A=005524 id21DDA5BA -454fpm",
	"N0CALL>APRS:!4903.50N/07201.75W-no id here",
	"this is not a beacon",
	"#keepalive",
	"LFMX>OGNSDR,TCPIP*,qAC,GLIDERN2:>165803h v0.2.7.RPI-GPU",
	"",
}

func TestSession_Stream(t *testing.T) {
	conn := newFakeConn(crlf(scriptedLines...))
	rec := stats.New()
	session := NewSession(conn, SessionConfig{
		Credentials: testCreds,
		Recorder:    rec,
		SessionID:   "session-1",
		Now:         fixedNow,
	})
	ctx := context.Background()

	assert.Equal(t, StateAuthenticating, session.State())
	require.NoError(t, session.Login(ctx))
	assert.Equal(t, StateStreaming, session.State())
	assert.Equal(t, LoginLine(testCreds), conn.written.String())
	assert.Equal(t, 1, conn.writes)

	var kinds []types.EventKind
	var events []*types.Event
	for {
		event, err := session.Next(ctx)
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
		kinds = append(kinds, event.Kind)
		events = append(events, event)
	}

	assert.Equal(t, []types.EventKind{
		types.KindServerComment,
		types.KindServerComment,
		types.KindDisplayLine,
		types.KindParseError,
		types.KindServerComment,
		types.KindUnknownData,
		types.KindParseError,
	}, kinds)

	for _, event := range events {
		assert.Equal(t, "session-1", event.SessionID)
		assert.Equal(t, fixedNow(), event.ReceivedAt)
	}
	assert.Equal(t, "#keepalive", events[4].Raw)
	assert.Equal(t, "123456", events[2].Display.Address)

	assert.Equal(t, StateClosed, session.State())
	assert.True(t, conn.isClosed())

	_, err := session.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, session.Login(ctx), ErrClosed)

	snap := rec.Snapshot()
	assert.EqualValues(t, 9, snap.TotalLines)
	assert.EqualValues(t, 3, snap.ServerComments)
	assert.EqualValues(t, 2, snap.ParseErrors)
	assert.EqualValues(t, 1, snap.UnknownData)
	assert.EqualValues(t, 3, snap.Positions)
	assert.EqualValues(t, 2, snap.Identified)
	assert.EqualValues(t, 1, snap.Displayed)
	assert.EqualValues(t, 2, snap.Suppressed)
	assert.False(t, snap.LoginVerified)
}

func TestSession_ParseErrorDoesNotStopStream(t *testing.T) {
	conn := newFakeConn(crlf("garbage", "#keepalive"))
	session := NewSession(conn, SessionConfig{Credentials: testCreds})
	ctx := context.Background()
	require.NoError(t, session.Login(ctx))

	first, err := session.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.KindParseError, first.Kind)

	second, err := session.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ServerComment("#keepalive").Raw, second.Raw)
	assert.Equal(t, types.KindServerComment, second.Kind)
}

func TestSession_LineEndings(t *testing.T) {
	// Bare LF is accepted, only one trailing CR is stripped and an unterminated
	// tail is never emitted.
	conn := newFakeConn("#one\n#two\r\r\n#partial")
	session := NewSession(conn, SessionConfig{Credentials: testCreds})
	ctx := context.Background()
	require.NoError(t, session.Login(ctx))

	first, err := session.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "#one", first.Raw)

	second, err := session.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "#two\r", second.Raw)

	_, err = session.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSession_LineTooLong(t *testing.T) {
	conn := newFakeConn(crlf("#" + strings.Repeat("x", 200)))
	session := NewSession(conn, SessionConfig{Credentials: testCreds, MaxLineLength: 64})
	ctx := context.Background()
	require.NoError(t, session.Login(ctx))

	_, err := session.Next(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, bufio.ErrTooLong)
	assert.Contains(t, err.Error(), "failed to read from feed")
	assert.Equal(t, StateClosed, session.State())
}

func TestSession_NextBeforeLogin(t *testing.T) {
	session := NewSession(newFakeConn(crlf("#keepalive")), SessionConfig{Credentials: testCreds})

	_, err := session.Next(context.Background())
	assert.ErrorIs(t, err, ErrNotStreaming)
	assert.Equal(t, StateAuthenticating, session.State())
}

func TestSession_LoginOnce(t *testing.T) {
	conn := newFakeConn("")
	session := NewSession(conn, SessionConfig{Credentials: testCreds})
	ctx := context.Background()

	require.NoError(t, session.Login(ctx))
	err := session.Login(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, conn.writes)
}

func TestSession_LoginInvalidCredentials(t *testing.T) {
	conn := newFakeConn("")
	creds := testCreds
	creds.Filter = ""
	session := NewSession(conn, SessionConfig{Credentials: creds})

	err := session.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
	assert.Equal(t, 0, conn.writes)
	assert.Equal(t, StateClosed, session.State())
}

func TestSession_LoginWriteFailure(t *testing.T) {
	conn := newFakeConn("")
	conn.writeErr = errors.New("broken pipe")
	session := NewSession(conn, SessionConfig{Credentials: testCreds})

	err := session.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send login")
	assert.Equal(t, 1, conn.writes)
	assert.Equal(t, StateClosed, session.State())
	assert.True(t, conn.isClosed())
}

func TestSession_CloseIdempotent(t *testing.T) {
	conn := newFakeConn("")
	session := NewSession(conn, SessionConfig{Credentials: testCreds})

	assert.NoError(t, session.Close())
	assert.NoError(t, session.Close())
	assert.Equal(t, StateClosed, session.State())
	assert.ErrorIs(t, session.Login(context.Background()), ErrClosed)
}

func TestSession_GeneratesID(t *testing.T) {
	a := NewSession(newFakeConn(""), SessionConfig{})
	b := NewSession(newFakeConn(""), SessionConfig{})

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestSession_ContextCancelUnblocksRead(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		// Consume the login, then go silent.
		_, _ = bufio.NewReader(server).ReadString('\n')
	}()

	session := NewSession(client, SessionConfig{Credentials: testCreds})
	require.NoError(t, session.Login(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := session.Next(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancellation")
	}
	assert.Equal(t, StateClosed, session.State())

	_, err := session.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSession_Run(t *testing.T) {
	conn := newFakeConn(crlf(scriptedLines...))
	session := NewSession(conn, SessionConfig{Credentials: testCreds})

	var raws []string
	err := session.Run(context.Background(), func(ctx context.Context, event *types.Event) error {
		raws = append(raws, event.Raw)
		return nil
	})

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, LoginLine(testCreds), conn.written.String())
	require.Len(t, raws, 7)
	assert.Equal(t, scriptedLines[0], raws[0])
	assert.Equal(t, scriptedLines[2], raws[2])
}

func TestSession_RunHandlerError(t *testing.T) {
	conn := newFakeConn(crlf("#one", "#two", "#three"))
	session := NewSession(conn, SessionConfig{Credentials: testCreds})

	calls := 0
	err := session.Run(context.Background(), func(ctx context.Context, event *types.Event) error {
		calls++
		if event.Raw == "#two" {
			return errors.New("stdout closed")
		}
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "event handler failed")
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateClosed, session.State())
}

func TestConnect_FakeServer(t *testing.T) {
	id := ogn.Identity{Address: "DDA5BA", Flags: ogn.Flags{AircraftType: ogn.Paraglider, AddressType: ogn.Flarm}}
	server := testutils.NewFakeFeedServer(t,
		"# logresp N0CALL verified, server GLIDERN1",
		testutils.MockBeaconLine("FLRDDA5BA", 46.5, 7.25, id),
	)
	rec := stats.New()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := Connect(ctx, server.Addr(), DialOptions{}, SessionConfig{Credentials: testCreds, Recorder: rec})
	require.NoError(t, err)

	var events []*types.Event
	err = session.Run(ctx, func(ctx context.Context, event *types.Event) error {
		events = append(events, event)
		return nil
	})
	assert.ErrorIs(t, err, io.EOF)

	login, err := server.Login(time.Second)
	require.NoError(t, err)
	assert.Equal(t, LoginLine(testCreds), login)

	require.Len(t, events, 3)
	assert.Equal(t, types.KindServerComment, events[0].Kind)
	assert.Equal(t, types.KindServerComment, events[1].Kind)
	require.Equal(t, types.KindDisplayLine, events[2].Kind)
	assert.Equal(t, "DDA5BA", events[2].Display.Address)
	assert.Equal(t, ogn.Flarm, events[2].Display.AddressType)
	assert.True(t, rec.LoginVerified())
}

func TestDial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr, DialOptions{Timeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to "+addr)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
