// Package transport carries protocol packets over websocket connections.
package transport

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var errConnClosed = errors.New("connection closed")

const (
	sendChSize     = 1024
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	maxCloseReason = 123
	rttSmoothing   = 0.25
)

// Options tune a connection.
type Options struct {
	// PingInterval is the latency probe period. Zero disables probing.
	PingInterval time.Duration
	// ReadTimeout closes a connection that sent nothing, not even a pong, for this long.
	ReadTimeout time.Duration
	// RateLimit caps inbound messages per second; zero means unlimited.
	RateLimit float64
	Burst     int
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ReadTimeout == 0 && o.PingInterval > 0 {
		o.ReadTimeout = 5 * o.PingInterval
	}
	if o.Burst <= 0 {
		o.Burst = max(1, int(o.RateLimit))
	}
	return o
}

// Conn is one peer connection with a single writer goroutine. Messages sent
// before Start are held in full and written in order before the writer runs.
// After that sends never block: when the peer falls behind, messages are dropped.
type Conn struct {
	mu      sync.Mutex
	conn    *ws.Conn
	sendCh  chan []byte
	done    chan struct{}
	closed  bool
	started bool
	backlog [][]byte
	reason  string

	session uuid.UUID
	remote  string
	rtt     atomic.Int64
	dropped atomic.Uint64
	limited atomic.Uint64
	limiter *rate.Limiter

	opts   Options
	logger *slog.Logger
}

func newConn(c *ws.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	session := uuid.New()
	conn := &Conn{
		conn:    c,
		sendCh:  make(chan []byte, sendChSize),
		done:    make(chan struct{}),
		session: session,
		remote:  c.RemoteAddr().String(),
		opts:    opts,
		logger:  opts.Logger.With("session", session.String(), "remote", c.RemoteAddr().String()),
	}
	if opts.RateLimit > 0 {
		conn.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst)
	}
	c.SetReadLimit(maxMessageSize)
	return conn
}

// SessionID identifies this connection in logs and persisted sessions.
func (c *Conn) SessionID() uuid.UUID { return c.session }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.remote }

// RTT returns the smoothed round-trip time, zero before the first pong.
func (c *Conn) RTT() time.Duration { return time.Duration(c.rtt.Load()) }

// Dropped returns how many outbound messages were dropped on a full queue.
func (c *Conn) Dropped() uint64 { return c.dropped.Load() }

// Limited returns how many inbound messages the rate limiter discarded.
func (c *Conn) Limited() uint64 { return c.limited.Load() }

// Start writes the backlog, then runs the read, write and probe loops.
// onMessage is called from the read goroutine in arrival order; onClose is
// called once when the connection ends for any reason.
func (c *Conn) Start(onMessage func(raw []byte), onClose func(err error)) {
	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			c.shutdown()
			if onClose != nil {
				onClose(err)
			}
		})
	}

	if err := c.writeBacklog(); err != nil {
		c.logger.Warn("writing backlog failed", "error", err)
		finish(err)
		return
	}

	go c.writeLoop(finish)
	go c.readLoop(onMessage, finish)
	if c.opts.PingInterval > 0 {
		go c.pingLoop()
	}
}

// Send queues a message. Returns false when the message was dropped.
func (c *Conn) Send(data []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if !c.started {
		c.backlog = append(c.backlog, data)
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	select {
	case c.sendCh <- data:
		return true
	default:
		c.dropped.Add(1)
		c.logger.Warn("send channel full, dropping message", "bytes", len(data))
		return false
	}
}

// writeBacklog writes everything sent before Start, each write bounded by
// writeWait. Sends racing with it land in the backlog until it is empty.
func (c *Conn) writeBacklog() error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return errConnClosed
		}
		batch := c.backlog
		c.backlog = nil
		if len(batch) == 0 {
			c.started = true
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		for _, data := range batch {
			if err := c.writeNow(data); err != nil {
				return err
			}
		}
	}
}

// writeLoop drains sendCh and writes messages to the websocket.
func (c *Conn) writeLoop(finish func(error)) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				finish(err)
				return
			}
			if err := c.conn.WriteMessage(ws.BinaryMessage, data); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				finish(err)
				return
			}
		}
	}
}

// readLoop hands inbound binary messages to onMessage.
func (c *Conn) readLoop(onMessage func([]byte), finish func(error)) {
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(payload string) error {
		c.observePong([]byte(payload))
		c.extendReadDeadline()
		return nil
	})

	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				finish(nil)
			default:
				if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					c.logger.Debug("websocket read error", "error", err)
				}
				finish(err)
			}
			return
		}
		c.extendReadDeadline()

		if kind != ws.BinaryMessage {
			c.logger.Debug("ignoring non-binary message", "type", kind)
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			if c.limited.Add(1)%100 == 1 {
				c.logger.Warn("inbound rate limit exceeded, dropping messages", "limited", c.limited.Load())
			}
			continue
		}
		if onMessage != nil {
			onMessage(message)
		}
	}
}

func (c *Conn) extendReadDeadline() {
	if c.opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}

// pingLoop sends the send time as ping payload; the pong echoes it back.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	c.ping()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.ping()
		}
	}
}

func (c *Conn) ping() {
	payload := binary.LittleEndian.AppendUint64(nil, uint64(time.Now().UnixNano()))
	if err := c.conn.WriteControl(ws.PingMessage, payload, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("ping failed", "error", err)
	}
}

func (c *Conn) observePong(payload []byte) {
	if len(payload) != 8 {
		return
	}
	sent := time.Unix(0, int64(binary.LittleEndian.Uint64(payload)))
	sample := time.Since(sent)
	if sample < 0 {
		return
	}
	for {
		old := c.rtt.Load()
		next := int64(sample)
		if old != 0 {
			next = old + int64(rttSmoothing*float64(int64(sample)-old))
		}
		if c.rtt.CompareAndSwap(old, next) {
			return
		}
	}
}

// Close sends a close frame carrying reason and shuts the connection down.
// Queued messages that were not written yet are discarded.
func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.reason = reason
	c.mu.Unlock()

	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	_ = c.conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, reason),
		time.Now().Add(writeWait),
	)
	return c.shutdown()
}

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return c.conn.Close()
}
