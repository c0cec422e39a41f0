package server

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"hr-realtime/internal/events"
	"hr-realtime/internal/metrics"
	"hr-realtime/internal/notify"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Timings tunes the read and write pumps.
type Timings struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultTimings mirrors the configuration defaults.
var DefaultTimings = Timings{
	WriteWait:      10 * time.Second,
	PongWait:       60 * time.Second,
	MaxMessageSize: 512 * 1024,
	SendBuffer:     256,
}

func (t Timings) pingPeriod() time.Duration {
	return (t.PongWait * 9) / 10
}

// Rate limits per minute
type RateLimits struct {
	MaxTypingEvents    int
	MaxMessages        int
	MaxPresenceUpdates int
	MaxCallSignals     int
	MaxPingMessages    int
}

var DefaultRateLimits = RateLimits{
	MaxTypingEvents:    60,
	MaxMessages:        120,
	MaxPresenceUpdates: 30,
	MaxCallSignals:     240,
	MaxPingMessages:    60,
}

// ClientRateLimiter tracks rate limits per client
type ClientRateLimiter struct {
	limits     RateLimits
	tokens     map[string]int
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewClientRateLimiter(limits RateLimits) *ClientRateLimiter {
	rl := &ClientRateLimiter{
		limits: limits,
		now:    time.Now,
	}
	rl.refillTokens()
	rl.lastRefill = rl.now()
	return rl
}

// category groups client events into token buckets. Events without a bucket
// are not limited.
func category(event string) string {
	switch event {
	case events.EventTyping:
		return "typing"
	case events.EventSendMessage:
		return "message"
	case events.EventUpdateStatus, events.EventClientState:
		return "presence"
	case events.EventCallUser, events.EventAnswerCall, events.EventICECandidate, events.EventEndCall:
		return "call"
	case events.EventPing:
		return "ping"
	}
	return ""
}

func (rl *ClientRateLimiter) Allow(event string) bool {
	bucket := category(event)
	if bucket == "" {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.refillTokens()
		rl.lastRefill = now
	}

	if rl.tokens[bucket] > 0 {
		rl.tokens[bucket]--
		return true
	}
	return false
}

func (rl *ClientRateLimiter) refillTokens() {
	rl.tokens = map[string]int{
		"typing":   rl.limits.MaxTypingEvents,
		"message":  rl.limits.MaxMessages,
		"presence": rl.limits.MaxPresenceUpdates,
		"call":     rl.limits.MaxCallSignals,
		"ping":     rl.limits.MaxPingMessages,
	}
}

// Client represents a single WebSocket connection. It is the subscriber
// handed to the messaging channel and reports its view state to the
// notification dispatcher.
type Client struct {
	router       *Router
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	cleanupOnce  sync.Once
	id           string
	userID       string
	rateLimiter  *ClientRateLimiter
	view         atomic.Pointer[notify.ViewState]
	connectedAt  time.Time
	lastActivity atomic.Int64
	timings      Timings
	metrics      *metrics.Metrics
	logger       *WebSocketLogger
}

func NewClient(router *Router, conn *websocket.Conn, userID, clientID string, timings Timings, logger *WebSocketLogger) *Client {
	if timings.SendBuffer <= 0 {
		timings.SendBuffer = DefaultTimings.SendBuffer
	}
	now := time.Now()
	c := &Client{
		router:      router,
		conn:        conn,
		send:        make(chan []byte, timings.SendBuffer),
		done:        make(chan struct{}),
		id:          clientID,
		userID:      userID,
		rateLimiter: NewClientRateLimiter(DefaultRateLimits),
		connectedAt: now,
		timings:     timings,
		logger:      logger,
	}
	if router != nil {
		c.metrics = router.metrics
	}
	c.view.Store(&notify.ViewState{})
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// ViewState returns what the client last reported through client_state.
func (c *Client) ViewState() notify.ViewState {
	return *c.view.Load()
}

func (c *Client) setViewState(v notify.ViewState) {
	c.view.Store(&v)
}

// Send queues an envelope without blocking. A full buffer drops the frame.
func (c *Client) Send(env events.Envelope) bool {
	data, err := env.Bytes()
	if err != nil {
		c.logger.Error("encode frame failed", c.userID, c.id, err, zap.String("frame", env.Event))
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.metrics.FrameDropped()
		c.logger.Warn("client send buffer full", c.userID, c.id, zap.String("frame", env.Event))
		return false
	}
}

// Close stops both pumps. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.router.Disconnect(ctx, c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.timings.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.timings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.timings.PongWait))
		c.touch()
		c.router.Heartbeat(ctx, c)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket unexpected close", c.userID, c.id, err)
			}
			break
		}

		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(c.timings.PongWait))

		c.router.HandleFrame(ctx, c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.timings.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.timings.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.timings.WriteWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.timings.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

			if c.idleFor() > c.timings.PongWait*2 {
				c.logger.Info("client idle timeout", c.userID, c.id)
				return
			}
		}
	}
}
