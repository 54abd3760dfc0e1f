package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// JoinHeader carries the base64 encoded JoinRequest on the upgrade request.
const JoinHeader = "X-Rocketsync-Join"

const (
	handshakeTimeout = 10 * time.Second
	maxReconnect     = 10
	maxBackoff       = 30 * time.Second
)

var (
	// ErrBadJoinRequest is returned when the join header is missing or malformed.
	ErrBadJoinRequest = errors.New("bad join request")
	// ErrBadJoinResponse is returned when the first server message is not a JoinResponse.
	ErrBadJoinResponse = errors.New("bad join response")
)

// RejectedError reports a join refused by the server.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("join rejected: %s", e.Reason)
}

// EncodeJoinHeader renders a join request for the upgrade header.
func EncodeJoinHeader(req *protocol.JoinRequest) string {
	return base64.StdEncoding.EncodeToString(protocol.Encode(req))
}

// DecodeJoinHeader parses the upgrade header.
func DecodeJoinHeader(value string) (*protocol.JoinRequest, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrBadJoinRequest, JoinHeader)
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJoinRequest, err)
	}
	p, err := protocol.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadJoinRequest, err)
	}
	req, ok := p.(*protocol.JoinRequest)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrBadJoinRequest, p.Type())
	}
	return req, nil
}

// AcceptFunc receives every upgraded connection with its join request. The
// callee must answer with Accept or Reject.
type AcceptFunc func(req *protocol.JoinRequest, c *Conn)

// Listener upgrades HTTP requests carrying a join header.
type Listener struct {
	upgrader ws.Upgrader
	accept   AcceptFunc
	opts     Options
	logger   *slog.Logger
}

// NewListener creates an http.Handler for the websocket endpoint.
func NewListener(accept AcceptFunc, opts Options) *Listener {
	opts = opts.withDefaults()
	return &Listener{
		upgrader: ws.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		accept: accept,
		opts:   opts,
		logger: opts.Logger,
	}
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeJoinHeader(r.Header.Get(JoinHeader))
	if err != nil {
		l.logger.Warn("refusing upgrade", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	l.accept(req, newConn(c, l.opts))
}

// Accept writes the JoinResponse, then everything already sent on c, and
// starts the connection loops. The response is the first message the peer
// receives.
func (c *Conn) Accept(resp *protocol.JoinResponse, onMessage func([]byte), onClose func(error)) error {
	resp.Accepted = true
	if err := c.writeNow(protocol.Encode(resp)); err != nil {
		_ = c.shutdown()
		return err
	}
	if err := c.writeBacklog(); err != nil {
		_ = c.shutdown()
		return err
	}
	c.Start(onMessage, onClose)
	return nil
}

// Reject answers with a refusing JoinResponse and closes with the same reason.
func (c *Conn) Reject(reason string) error {
	err := c.writeNow(protocol.Encode(&protocol.JoinResponse{Accepted: false, Reason: reason}))
	if cerr := c.Close(reason); err == nil {
		err = cerr
	}
	return err
}

// writeNow writes before the writer goroutine exists.
func (c *Conn) writeNow(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(ws.BinaryMessage, data)
}

// Dial connects to a server and completes the join handshake. A refused join
// returns *RejectedError. The returned connection is not started.
func Dial(ctx context.Context, url string, req *protocol.JoinRequest, opts Options) (*Conn, *protocol.JoinResponse, error) {
	opts = opts.withDefaults()
	header := http.Header{}
	header.Set(JoinHeader, EncodeJoinHeader(req))

	dialer := ws.Dialer{HandshakeTimeout: handshakeTimeout}
	wc, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("websocket dial failed (%s): %w", resp.Status, err)
		}
		return nil, nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	if err := wc.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		wc.Close()
		return nil, nil, err
	}
	_, first, err := wc.ReadMessage()
	if err != nil {
		wc.Close()
		var ce *ws.CloseError
		if errors.As(err, &ce) && ce.Text != "" {
			return nil, nil, &RejectedError{Reason: ce.Text}
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrBadJoinResponse, err)
	}
	_ = wc.SetReadDeadline(time.Time{})

	p, err := protocol.Decode(first)
	if err != nil {
		wc.Close()
		return nil, nil, fmt.Errorf("%w: %w", ErrBadJoinResponse, err)
	}
	jr, ok := p.(*protocol.JoinResponse)
	if !ok {
		wc.Close()
		return nil, nil, fmt.Errorf("%w: got %s", ErrBadJoinResponse, p.Type())
	}
	if !jr.Accepted {
		wc.Close()
		return nil, jr, &RejectedError{Reason: jr.Reason}
	}
	return newConn(wc, opts), jr, nil
}

// DialRetry calls Dial with exponential backoff until it succeeds, the join
// is rejected or ctx ends.
func DialRetry(ctx context.Context, url string, req *protocol.JoinRequest, opts Options) (*Conn, *protocol.JoinResponse, error) {
	logger := opts.withDefaults().Logger
	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c, resp, err := Dial(ctx, url, req, opts)
		if err == nil {
			return c, resp, nil
		}
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return nil, resp, err
		}
		lastErr = err
		logger.Warn("dial failed", "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return nil, nil, fmt.Errorf("dial failed after %d attempts: %w", maxReconnect, lastErr)
}
