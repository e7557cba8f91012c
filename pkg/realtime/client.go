// Package realtime keeps a live event feed open over a websocket and
// reconnects with exponential backoff when the link drops.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/sentinelcore/sentinel-stream/pkg/config"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
)

// ExhaustedMessage is shown to the operator once automatic reconnects stop.
const ExhaustedMessage = "Unable to connect to real-time feed. Please refresh the page."

var (
	ErrNotConnected       = errors.New("realtime: not connected")
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateReconnecting means the link dropped unexpectedly and a backoff
	// timer is pending.
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "disconnected"
}

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

// WebsocketDialer dials with gorilla/websocket. A nil Dialer uses
// websocket.DefaultDialer.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	c, resp, err := wd.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return c, nil
}

type Timer interface {
	Stop() bool
}

type AfterFuncFactory func(d time.Duration, f func()) Timer

// Handlers receive feed callbacks. Any of them may be nil. Message callbacks
// run on the connection's single reader goroutine, in arrival order.
type Handlers struct {
	OnStateChange   func(State)
	OnConnected     func()
	OnDisconnected  func(clean bool)
	OnEventCreated  func(intel.Event)
	OnEventUpdated  func(intel.Event)
	OnEventVerified func(id string, verified bool)
	OnSystemAlert   func(SystemAlert)
	// OnResync fires after a reconnect; events sent while the link was down
	// are not replayed, so the consumer should refetch.
	OnResync func()
	OnError  func(error)
}

type Options struct {
	URL         string
	BaseDelay   time.Duration
	MaxAttempts int
	Heartbeat   time.Duration
	Region      string

	Dialer    Dialer
	AfterFunc AfterFuncFactory
	Now       func() time.Time
}

// OptionsFromConfig fills Options from the realtime section of the profile.
func OptionsFromConfig(c config.RealtimeConfig) Options {
	return Options{
		URL:         c.URL,
		BaseDelay:   c.BaseDelay,
		MaxAttempts: c.MaxAttempts,
		Heartbeat:   c.Heartbeat,
		Region:      c.Region,
	}
}

type Client struct {
	opts Options
	h    Handlers

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	gen           uint64
	attempts      int
	conn          Conn
	retry         Timer
	heartbeat     Timer
	region        string
	everConnected bool
	err           error
	closed        bool

	writeMu sync.Mutex
}

func NewClient(opts Options, h Handlers) *Client {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{opts: opts, h: h, ctx: ctx, cancel: cancel, region: opts.Region}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts is the number of reconnects scheduled since the last successful
// open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Err returns ErrReconnectExhausted once the client has given up.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Connect opens the feed in the background. It does nothing while a
// connection is open or being established; from Failed it starts over with a
// fresh attempt budget.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		c.mu.Unlock()
		return
	case StateFailed:
		c.attempts = 0
	}
	c.err = nil
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	go c.dial(gen)
}

// Disconnect closes the link with a normal closure and suppresses any
// reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopTimersLocked()
	conn := c.conn
	c.conn = nil
	c.attempts = 0
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		c.closeConn(conn, websocket.CloseNormalClosure, "Client disconnect")
	}
}

// Close tears the client down for good.
func (c *Client) Close() error {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return nil
}

// SubscribeRegion narrows the feed to one region. The region is remembered
// and re-sent after every reconnect.
func (c *Client) SubscribeRegion(region string) error {
	c.mu.Lock()
	c.region = region
	c.mu.Unlock()
	return c.writeJSON(subscribeMessage{Type: TypeSubscribeRegion, Region: region})
}

// Ping sends one heartbeat.
func (c *Client) Ping() error {
	return c.writeJSON(pingMessage{Type: TypePing, Timestamp: c.opts.Now().UnixMilli()})
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn, st := c.conn, c.state
	c.mu.Unlock()
	if conn == nil || st != StateConnected {
		return ErrNotConnected
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) closeConn(conn Conn, code int, text string) {
	c.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.WithError(err).Debug("[realtime] close frame not sent")
	}
	conn.Close()
}

func (c *Client) dial(gen uint64) {
	log.WithField("url", c.opts.URL).Info("[realtime] connecting")
	conn, err := c.opts.Dialer.Dial(c.ctx, c.opts.URL)

	c.mu.Lock()
	if gen != c.gen || c.closed || c.state != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		log.WithError(err).WithField("url", c.opts.URL).Warn("[realtime] dial failed")
		c.lost(gen, err)
		return
	}
	c.conn = conn
	resync := c.everConnected
	c.everConnected = true
	c.attempts = 0
	c.setStateLocked(StateConnected)
	c.scheduleHeartbeatLocked(gen)
	region := c.region
	c.mu.Unlock()

	log.WithField("url", c.opts.URL).Info("[realtime] connected")
	if c.h.OnConnected != nil {
		c.h.OnConnected()
	}
	if resync && c.h.OnResync != nil {
		c.h.OnResync()
	}
	if region != "" {
		if err := c.writeJSON(subscribeMessage{Type: TypeSubscribeRegion, Region: region}); err != nil {
			log.WithError(err).WithField("region", region).Warn("[realtime] subscribe failed")
		}
	}
	go c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.lost(gen, err)
			return
		}
		c.dispatch(msg)
	}
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// lost handles the end of connection gen, whether a failed dial or a closed
// link. Normal and going-away closures are final; anything else schedules a
// retry until the attempt budget runs out.
func (c *Client) lost(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stopTimersLocked()

	if isCleanClose(cause) {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		log.Info("[realtime] server closed the feed")
		if c.h.OnDisconnected != nil {
			c.h.OnDisconnected(true)
		}
		return
	}

	if c.attempts >= c.opts.MaxAttempts {
		c.err = ErrReconnectExhausted
		c.setStateLocked(StateFailed)
		c.mu.Unlock()
		log.WithField("attempts", c.opts.MaxAttempts).Error("[realtime] giving up on the feed")
		if c.h.OnDisconnected != nil {
			c.h.OnDisconnected(false)
		}
		if c.h.OnError != nil {
			c.h.OnError(ErrReconnectExhausted)
		}
		return
	}

	delay := c.opts.BaseDelay * time.Duration(1<<c.attempts)
	c.attempts++
	attempt := c.attempts
	c.gen++
	next := c.gen
	c.setStateLocked(StateReconnecting)
	c.retry = c.opts.AfterFunc(delay, func() { c.reconnect(next) })
	c.mu.Unlock()

	reconnectAttempts.Inc()
	log.WithFields(log.Fields{
		"attempt": attempt,
		"max":     c.opts.MaxAttempts,
		"delay":   delay,
	}).WithError(cause).Warn("[realtime] link lost, reconnecting")
	if c.h.OnDisconnected != nil {
		c.h.OnDisconnected(false)
	}
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.dial(gen)
}

func (c *Client) scheduleHeartbeatLocked(gen uint64) {
	if c.opts.Heartbeat <= 0 {
		return
	}
	c.heartbeat = c.opts.AfterFunc(c.opts.Heartbeat, func() { c.beat(gen) })
}

func (c *Client) beat(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.scheduleHeartbeatLocked(gen)
	c.mu.Unlock()

	if err := c.Ping(); err != nil {
		log.WithError(err).Warn("[realtime] heartbeat failed")
	}
}

func (c *Client) stopTimersLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	connectionState.Set(float64(s))
	if c.h.OnStateChange != nil {
		// state callbacks must not call back into the client
		c.h.OnStateChange(s)
	}
}

func (c *Client) dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		messagesDropped.WithLabelValues("malformed").Inc()
		log.WithError(err).Warn("[realtime] dropping malformed message")
		return
	}
	messagesReceived.WithLabelValues(typeLabel(env.Type)).Inc()

	switch env.Type {
	case TypeConnectionEstablished:
		log.WithField("message", env.Message).Info("[realtime] connection established")
	case TypeEventCreated, TypeEventUpdated:
		ev, ok := decodeEvent(env)
		if !ok {
			return
		}
		if env.Type == TypeEventCreated {
			if c.h.OnEventCreated != nil {
				c.h.OnEventCreated(ev)
			}
		} else if c.h.OnEventUpdated != nil {
			c.h.OnEventUpdated(ev)
		}
	case TypeEventVerified:
		if env.EventID == "" {
			messagesDropped.WithLabelValues("missing_id").Inc()
			log.Warn("[realtime] event_verified without event_id")
			return
		}
		verified := env.Verified != nil && *env.Verified
		if c.h.OnEventVerified != nil {
			c.h.OnEventVerified(string(env.EventID), verified)
		}
	case TypeSystemAlert:
		level := env.Level
		if level == "" {
			level = defaultAlertLevel
		}
		if c.h.OnSystemAlert != nil {
			c.h.OnSystemAlert(SystemAlert{Message: env.Message, Level: level})
		}
	case TypePong:
	case TypeSubscribed:
		log.WithField("region", env.Region).Info("[realtime] subscribed")
	case TypeError:
		log.WithField("message", env.Message).Error("[realtime] server error")
	default:
		log.WithField("type", env.Type).Debug("[realtime] ignoring unknown message type")
	}
}

func decodeEvent(env Envelope) (intel.Event, bool) {
	if len(env.Event) == 0 || bytes.Equal(bytes.TrimSpace(env.Event), []byte("null")) {
		messagesDropped.WithLabelValues("missing_event").Inc()
		log.WithField("type", env.Type).Warn("[realtime] message without event payload")
		return intel.Event{}, false
	}
	ev, err := intel.NormalizeJSON(env.Event)
	if err != nil {
		messagesDropped.WithLabelValues("malformed").Inc()
		log.WithError(err).WithField("type", env.Type).Warn("[realtime] dropping undecodable event")
		return intel.Event{}, false
	}
	return ev, true
}
