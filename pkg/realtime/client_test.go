package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
)

const waitFor = 2 * time.Second

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

// delays returns the delays of timers matching keep, in scheduling order.
func (c *fakeClock) delays(keep func(time.Duration) bool) []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if keep(t.d) {
			out = append(out, t.d)
		}
	}
	return out
}

type fakeConn struct {
	in   chan []byte
	errs chan error
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	written  [][]byte
	controls [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), errs: make(chan error, 1), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.in:
		return websocket.TextMessage, m, nil
	case err := <-c.errs:
		return 0, nil, err
	case <-c.done:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(_ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) writes() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.written))
	for _, w := range c.written {
		var m map[string]any
		_ = json.Unmarshal(w, &m)
		out = append(out, m)
	}
	return out
}

// scriptedDialer hands out conns in order; once they run out every dial fails.
type scriptedDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *scriptedDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *scriptedDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestClient(d Dialer, clock *fakeClock, h Handlers) *Client {
	return NewClient(Options{
		URL:         "ws://feed.test/ws/events/",
		BaseDelay:   time.Second,
		MaxAttempts: 5,
		Dialer:      d,
		AfterFunc:   clock.AfterFunc,
		Now:         func() time.Time { return time.UnixMilli(1700000000000) },
	}, h)
}

func TestReconnectBackoffThenFailed(t *testing.T) {
	clock := &fakeClock{}
	dialer := &scriptedDialer{}
	errCh := make(chan error, 1)
	c := newTestClient(dialer, clock, Handlers{OnError: func(err error) { errCh <- err }})
	defer c.Close()

	c.Connect()
	require.Eventually(t, func() bool { return clock.count() == 1 }, waitFor, time.Millisecond)

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, d := range want {
		tm := clock.timer(i)
		assert.Equal(t, d, tm.d, "delay of attempt %d", i+1)
		assert.Equal(t, StateReconnecting, c.State())
		assert.Equal(t, i+1, c.Attempts())
		tm.f()
	}

	assert.Equal(t, StateFailed, c.State())
	assert.ErrorIs(t, c.Err(), ErrReconnectExhausted)
	assert.Equal(t, 5, clock.count(), "no sixth retry may be scheduled")
	assert.Equal(t, 6, dialer.count(), "initial dial plus five retries")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrReconnectExhausted)
	case <-time.After(waitFor):
		t.Fatal("OnError not called")
	}
}

func TestConnectFromFailedRetries(t *testing.T) {
	clock := &fakeClock{}
	dialer := &scriptedDialer{}
	c := newTestClient(dialer, clock, Handlers{})
	defer c.Close()

	c.Connect()
	require.Eventually(t, func() bool { return clock.count() == 1 }, waitFor, time.Millisecond)
	for i := range 5 {
		clock.timer(i).f()
	}
	require.Equal(t, StateFailed, c.State())

	conn := newFakeConn()
	dialer.mu.Lock()
	dialer.conns = append(dialer.conns, conn)
	dialer.mu.Unlock()

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, time.Millisecond)
	assert.NoError(t, c.Err())
	assert.Equal(t, 0, c.Attempts())
}

func TestConnectIsIdempotentWhileOpen(t *testing.T) {
	clock := &fakeClock{}
	dialer := &scriptedDialer{conns: []*fakeConn{newFakeConn(), newFakeConn()}}
	c := newTestClient(dialer, clock, Handlers{})
	defer c.Close()

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, time.Millisecond)
	c.Connect()
	c.Connect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.count())
}

func TestCleanCloseSuppressesReconnect(t *testing.T) {
	for _, code := range []int{websocket.CloseNormalClosure, websocket.CloseGoingAway} {
		clock := &fakeClock{}
		conn := newFakeConn()
		dialer := &scriptedDialer{conns: []*fakeConn{conn}}
		disc := make(chan bool, 1)
		c := newTestClient(dialer, clock, Handlers{OnDisconnected: func(clean bool) { disc <- clean }})

		c.Connect()
		require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, time.Millisecond)

		conn.errs <- &websocket.CloseError{Code: code}
		select {
		case clean := <-disc:
			assert.True(t, clean, "code %d", code)
		case <-time.After(waitFor):
			t.Fatalf("code %d: no disconnect callback", code)
		}
		assert.Equal(t, StateDisconnected, c.State())
		assert.Equal(t, 0, clock.count(), "code %d scheduled a reconnect", code)
		c.Close()
	}
}

func TestUnexpectedCloseReconnectsAndResyncs(t *testing.T) {
	clock := &fakeClock{}
	first, second := newFakeConn(), newFakeConn()
	dialer := &scriptedDialer{conns: []*fakeConn{first, second}}
	var mu sync.Mutex
	resyncs, connects := 0, 0
	c := newTestClient(dialer, clock, Handlers{
		OnConnected: func() { mu.Lock(); connects++; mu.Unlock() },
		OnResync:    func() { mu.Lock(); resyncs++; mu.Unlock() },
	})
	defer c.Close()

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, time.Millisecond)

	first.errs <- &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	require.Eventually(t, func() bool { return c.State() == StateReconnecting }, waitFor, time.Millisecond)
	require.Equal(t, 1, clock.count())
	assert.Equal(t, time.Second, clock.timer(0).d)

	clock.timer(0).f()
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 0, c.Attempts())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 1, resyncs)
}

func TestDisconnectSendsNormalClosure(t *testing.T) {
	clock := &fakeClock{}
	conn := newFakeConn()
	c := newTestClient(&scriptedDialer{conns: []*fakeConn{conn}}, clock, Handlers{})

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, time.Millisecond)
	c.Disconnect()

	assert.Equal(t, StateDisconnected, c.State())
	conn.mu.Lock()
	require.Len(t, conn.controls, 1)
	frame := conn.controls[0]
	conn.mu.Unlock()
	assert.Equal(t, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Client disconnect"), frame)

	// the reader sees the local close; that must not reconnect
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, clock.count())
	assert.ErrorIs(t, c.Ping(), ErrNotConnected)
}

func TestDispatch(t *testing.T) {
	clock := &fakeClock{}
	conn := newFakeConn()
	got := make(chan string, 16)
	c := newTestClient(&scriptedDialer{conns: []*fakeConn{conn}}, clock, Handlers{
		OnEventCreated: func(ev intel.Event) { got <- "created:" + ev.ID + ":" + ev.Severity.String() },
		OnEventUpdated: func(ev intel.Event) { got <- "updated:" + ev.ID + ":" + string(ev.Status) },
		OnEventVerified: func(id string, verified bool) {
			if verified {
				got <- "verified:" + id
			} else {
				got <- "unverified:" + id
			}
		},
		OnSystemAlert: func(a SystemAlert) { got <- "alert:" + a.Level + ":" + a.Message },
	})
	defer c.Close()

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, time.Millisecond)

	for _, m := range []string{
		`{"type":"connection_established","message":"hello"}`,
		`{"type":"event_created","event":{"id":7,"severity":"critical","title":"Fire"}}`,
		`{oops`,
		`{"type":"event_created"}`,
		`{"type":"pong"}`,
		`{"type":"mystery","payload":1}`,
		`{"type":"event_updated","event":{"id":"7","status":"ESCALATED"}}`,
		`{"type":"event_verified","event_id":7,"verified":true}`,
		`{"type":"system_alert","message":"Grid unstable"}`,
		`{"type":"system_alert","message":"Flood","level":"critical"}`,
	} {
		conn.in <- []byte(m)
	}

	want := []string{
		"created:7:CRITICAL",
		"updated:7:ESCALATED",
		"verified:7",
		"alert:info:Grid unstable",
		"alert:critical:Flood",
	}
	for _, w := range want {
		select {
		case g := <-got:
			assert.Equal(t, w, g)
		case <-time.After(waitFor):
			t.Fatalf("timed out waiting for %q", w)
		}
	}
	assert.Equal(t, StateConnected, c.State(), "malformed input must not drop the link")
}

func TestSubscribeAndHeartbeat(t *testing.T) {
	clock := &fakeClock{}
	conn := newFakeConn()
	c := NewClient(Options{
		URL:       "ws://feed.test/ws/events/",
		Heartbeat: 30 * time.Second,
		Region:    "Lagos",
		Dialer:    &scriptedDialer{conns: []*fakeConn{conn}},
		AfterFunc: clock.AfterFunc,
		Now:       func() time.Time { return time.UnixMilli(1700000000000) },
	}, Handlers{})
	defer c.Close()

	assert.ErrorIs(t, c.SubscribeRegion("Lagos"), ErrNotConnected)

	c.Connect()
	require.Eventually(t, func() bool { return len(conn.writes()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, map[string]any{"type": "subscribe_region", "region": "Lagos"}, conn.writes()[0])

	require.Equal(t, 1, clock.count())
	hb := clock.timer(0)
	assert.Equal(t, 30*time.Second, hb.d)
	hb.f()

	writes := conn.writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "ping", writes[1]["type"])
	assert.EqualValues(t, 1700000000000, writes[1]["timestamp"])
	assert.Equal(t, 2, clock.count(), "heartbeat reschedules itself")

	c.Disconnect()
	clock.timer(1).f()
	assert.Len(t, conn.writes(), 2, "no heartbeat after disconnect")
}

func TestClientAgainstWebsocketServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection_established","message":"Connected to event stream"}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"event_created","event":{"id":"abc","latitude":6.5,"longitude":3.4,"description":"generated in Lagos region"}}`))
		<-release
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	events := make(chan intel.Event, 1)
	disc := make(chan bool, 1)
	c := NewClient(Options{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Dialer: WebsocketDialer{},
	}, Handlers{
		OnEventCreated: func(ev intel.Event) { events <- ev },
		OnDisconnected: func(clean bool) { disc <- clean },
	})
	defer c.Close()
	c.Connect()

	select {
	case ev := <-events:
		assert.Equal(t, "abc", ev.ID)
		assert.Equal(t, "Lagos", ev.Region)
		assert.InDelta(t, 6.5, ev.Coords.Lat, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	close(release)
	select {
	case clean := <-disc:
		assert.True(t, clean)
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnect")
	}
	assert.Equal(t, StateDisconnected, c.State())
}
