// Package transport wraps the persistent websocket connection to the
// messaging backend. The adapter is passive: it surfaces inbound events
// through registered callbacks and never retries application-level sends.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/openvibe/messaging-client/internal/model"
	"github.com/openvibe/messaging-client/pkg/logger"
	"github.com/openvibe/messaging-client/pkg/metrics"
)

// ErrNotConnected is reported when a publish is attempted without a session.
var ErrNotConnected = errors.New("websocket not connected")

const (
	defaultReconnectDelay    = 5 * time.Second
	defaultHeartbeatInterval = 4 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
	writeTimeout             = 10 * time.Second
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// ReconnectDelay is the fixed wait between automatic redial attempts.
	ReconnectDelay time.Duration
	// HeartbeatInterval is the ping cadence while connected.
	HeartbeatInterval time.Duration
	// HandshakeTimeout bounds the wait for the server ready frame.
	HandshakeTimeout time.Duration
	Logger           *logger.Logger
}

// Client is the transport adapter. One underlying connection is shared
// process-wide; Connect is idempotent and Disconnect clears every callback
// registration.
type Client struct {
	opts Options
	log  *logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	state  connState
	token  string
	cancel context.CancelFunc

	connectCbs    callbackList[struct{}]
	disconnectCbs callbackList[struct{}]
	messageCbs    callbackList[model.Message]
	typingCbs     callbackList[model.TypingIndicator]
	errorCbs      callbackList[string]
}

// New returns a transport client for the given endpoint.
func New(opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{opts: opts, log: log}
}

// Connect establishes the websocket session authenticated with the given
// bearer token. It returns once the server acknowledges the connection as
// ready. Calling Connect while connected or while an attempt is in flight is
// a no-op; it never creates a second connection.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state != stateDisconnected {
		c.mu.Unlock()
		c.log.Debug("connect skipped, session already active")
		return nil
	}
	c.state = stateConnecting
	c.token = token
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = stateDisconnected
		c.mu.Unlock()
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.state = stateConnected
	c.cancel = cancel
	c.mu.Unlock()

	metrics.WSConnected.Set(1)
	c.log.Info("websocket connected", zap.String("url", c.opts.URL))
	c.connectCbs.fire(struct{}{})

	go c.run(sessionCtx, conn)
	return nil
}

// dial opens a connection and waits for the ready frame.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	c.mu.Lock()
	header.Set("Authorization", "Bearer "+c.token)
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	for {
		_, data, err := conn.Read(readyCtx)
		if err != nil {
			conn.Close(websocket.StatusProtocolError, "handshake failed")
			return nil, fmt.Errorf("websocket handshake: %w", err)
		}
		f, err := DecodeFrame(data)
		if err != nil {
			c.log.Warn("dropping malformed handshake frame", zap.Error(err))
			continue
		}
		switch f.Destination {
		case DestConnected:
			return conn, nil
		case DestErrors:
			msg := decodeErrorBody(f.Body)
			conn.Close(websocket.StatusPolicyViolation, "rejected")
			return nil, fmt.Errorf("websocket handshake rejected: %s", msg)
		default:
			// Traffic before the ready ack is not expected; skip it.
		}
	}
}

// run owns the session: it reads until the connection drops, then redials on
// a fixed delay until the session context is cancelled.
func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	bo := backoff.NewConstantBackOff(c.opts.ReconnectDelay)

	for {
		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		if ctx.Err() != nil {
			c.state = stateDisconnected
			c.mu.Unlock()
			return
		}
		c.state = stateConnecting
		c.mu.Unlock()

		metrics.WSConnected.Set(0)
		c.log.Warn("websocket disconnected, reconnecting",
			zap.Duration("delay", c.opts.ReconnectDelay))
		c.disconnectCbs.fire(struct{}{})

		for {
			select {
			case <-ctx.Done():
				c.mu.Lock()
				c.state = stateDisconnected
				c.mu.Unlock()
				return
			case <-time.After(bo.NextBackOff()):
			}

			metrics.WSReconnectsTotal.Inc()
			next, err := c.dial(ctx)
			if err != nil {
				c.log.Warn("reconnect attempt failed", zap.Error(err))
				continue
			}

			conn = next
			c.mu.Lock()
			c.conn = conn
			c.state = stateConnected
			c.mu.Unlock()

			metrics.WSConnected.Set(1)
			c.log.Info("websocket reconnected")
			c.connectCbs.fire(struct{}{})
			break
		}
	}
}

// readLoop consumes inbound frames until the connection fails. Malformed
// payloads are logged and dropped; they never crash the loop.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go c.heartbeat(hbCtx, conn)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				ctx.Err() == nil {
				c.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		f, err := DecodeFrame(data)
		if err != nil {
			metrics.WSDroppedPayloadsTotal.Inc()
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		metrics.WSFramesTotal.WithLabelValues(f.Destination).Inc()

		switch f.Destination {
		case DestMessages:
			var msg model.Message
			if err := json.Unmarshal(f.Body, &msg); err != nil {
				metrics.WSDroppedPayloadsTotal.Inc()
				c.log.Warn("dropping malformed message payload", zap.Error(err))
				continue
			}
			c.messageCbs.fire(msg)

		case DestTyping:
			var typing model.TypingIndicator
			if err := json.Unmarshal(f.Body, &typing); err != nil {
				metrics.WSDroppedPayloadsTotal.Inc()
				c.log.Warn("dropping malformed typing payload", zap.Error(err))
				continue
			}
			c.typingCbs.fire(typing)

		case DestErrors:
			c.errorCbs.fire(decodeErrorBody(f.Body))

		case DestConnected:
			// Ready ack after a server-side resubscribe; nothing to do.

		default:
			c.log.Debug("ignoring frame for unknown destination",
				zap.String("destination", f.Destination))
		}
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.opts.HeartbeatInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Disconnect tears down the connection and clears every registered callback.
// Safe to call when not connected, and safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.state = stateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}

	c.connectCbs.clear()
	c.disconnectCbs.clear()
	c.messageCbs.clear()
	c.typingCbs.clear()
	c.errorCbs.clear()

	metrics.WSConnected.Set(0)
	c.log.Info("websocket disconnected, callbacks cleared")
}

// IsConnected reports whether a session is established.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// SendMessage publishes a chat message to the send destination. It never
// returns an error: when not connected the failure is reported through the
// error callbacks so the caller's send path stays fire-and-forget.
func (c *Client) SendMessage(recipientID int64, content string) {
	err := c.sendFrame(DestChatSend, model.SendMessageRequest{
		RecipientID: recipientID,
		Content:     content,
	})
	if err != nil {
		c.log.Error("failed to send message",
			zap.Int64("recipient_id", recipientID), zap.Error(err))
		c.errorCbs.fire(err.Error())
		return
	}
	metrics.RecordMessageSent("ws")
}

// SendTypingIndicator publishes a typing pulse for the recipient. Typing
// indicators are best-effort: failures are logged and dropped. The wire body
// is the bare recipient id; the backend times out stale indicators itself.
func (c *Client) SendTypingIndicator(recipientID int64, isTyping bool) {
	if err := c.sendFrame(DestChatTyping, recipientID); err != nil {
		c.log.Debug("typing indicator dropped",
			zap.Int64("recipient_id", recipientID),
			zap.Bool("is_typing", isTyping),
			zap.Error(err))
	}
}

func (c *Client) sendFrame(destination string, body any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == stateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := EncodeFrame(destination, body)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// OnConnect registers a callback for session establishment. The returned
// func unregisters it.
func (c *Client) OnConnect(fn func()) func() {
	return c.connectCbs.add(func(struct{}) { fn() })
}

// OnDisconnect registers a callback for session loss.
func (c *Client) OnDisconnect(fn func()) func() {
	return c.disconnectCbs.add(func(struct{}) { fn() })
}

// OnMessage registers a callback for inbound chat messages.
func (c *Client) OnMessage(fn func(model.Message)) func() {
	return c.messageCbs.add(fn)
}

// OnTyping registers a callback for inbound typing indicators.
func (c *Client) OnTyping(fn func(model.TypingIndicator)) func() {
	return c.typingCbs.add(fn)
}

// OnError registers a callback for transport and server-pushed errors.
func (c *Client) OnError(fn func(string)) func() {
	return c.errorCbs.add(fn)
}
