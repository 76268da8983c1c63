package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/statementdesk/extraction-client/internal/core/domain"
	"github.com/statementdesk/extraction-client/internal/observability/metrics"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Maximum frame size accepted from the peer.
	maxMessageSize = 512 * 1024
)

var errNotConnected = errors.New("not connected")

// streamConn supervises exactly one logical stream per correlation id:
// dial with a bounded handshake, reconnect with capped exponential
// backoff on abnormal closes, permanent stop once the attempt ceiling
// is reached or Close is called.
type streamConn struct {
	cfg     Config
	key     domain.StreamKey
	logger  *slog.Logger
	metrics *metrics.ClientMetrics

	events chan domain.StreamEvent

	mu    sync.Mutex
	conn  *websocket.Conn
	state domain.ConnectionState

	closeCh   chan struct{}
	closeOnce sync.Once
}

func (c *streamConn) Events() <-chan domain.StreamEvent {
	return c.events
}

// State reports the current connection lifecycle state.
func (c *streamConn) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send serializes one outbound frame through the connection. Heartbeats
// and ping replies both go through here, so all writes share one lock.
func (c *streamConn) Send(frame domain.Frame) error {
	data, err := domain.EncodeFrame(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.WrapError(domain.ErrTransport, "send frame", errNotConnected)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return domain.WrapError(domain.ErrTransport, "send frame", err)
	}
	return nil
}

// Close performs an explicit clean disconnect. It cancels reconnection,
// never triggers it, and is a no-op when already closed.
func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)

		c.mu.Lock()
		if c.conn != nil {
			deadline := time.Now().Add(writeWait)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = c.conn.Close()
		}
		c.state = domain.ConnClosed
		c.mu.Unlock()
	})
	return nil
}

func (c *streamConn) supervise(ctx context.Context) {
	defer close(c.events)

	attempts := 0
	for {
		if c.isClosed() || ctx.Err() != nil {
			c.finish(ctx, domain.ConnClosed, attempts, nil)
			return
		}

		state := domain.ConnConnecting
		if attempts > 0 {
			state = domain.ConnReconnecting
		}
		c.setState(state)
		c.emit(ctx, domain.StateEvent(state, attempts, nil))

		conn, err := c.dial(ctx)
		c.metrics.ObserveConnect(serviceLabel, err)
		if err == nil {
			attempts = 0
			c.attach(conn)
			c.setState(domain.ConnConnected)
			c.emit(ctx, domain.StateEvent(domain.ConnConnected, 0, nil))

			// Initial liveness probe; the server's pong confirms the
			// subscription for completion arbitration.
			if probeErr := c.Send(domain.PingFrame(c.key.CorrelationID)); probeErr != nil {
				c.logger.Warn("ws_initial_probe_failed", "error", probeErr)
			}

			stop := make(chan struct{})
			go c.keepalive(stop)
			abnormal := c.readLoop(ctx, conn)
			close(stop)
			c.detach()

			if !abnormal || c.isClosed() || ctx.Err() != nil {
				c.finish(ctx, domain.ConnClosed, 0, nil)
				return
			}
		} else {
			c.logger.Warn("ws_connect_failed", "attempt", attempts, "error", err)
			if c.isClosed() || ctx.Err() != nil {
				c.finish(ctx, domain.ConnClosed, attempts, nil)
				return
			}
		}

		if attempts >= c.cfg.ReconnectMaxAttempts {
			c.logger.Error("ws_reconnect_exhausted", "attempts", attempts)
			c.finish(ctx, domain.ConnDisconnected, attempts, domain.ErrReconnectExhausted)
			return
		}

		delay := c.cfg.backoffDelay(attempts)
		attempts++
		c.metrics.ObserveReconnect()
		c.logger.Info("ws_reconnect_scheduled", "attempt", attempts, "delay_ms", delay.Milliseconds())
		select {
		case <-ctx.Done():
		case <-c.closeCh:
		case <-time.After(delay):
		}
	}
}

// readLoop consumes frames until the connection drops. It reports
// whether the drop was abnormal, which is what decides reconnection.
func (c *streamConn) readLoop(ctx context.Context, conn *websocket.Conn) bool {
	conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return false
			}
			// Normal closure is a deliberate finish; policy violation is
			// a deliberate server-side rejection. Neither reconnects.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.ClosePolicyViolation) {
				c.logger.Info("ws_closed_by_server", "reason", err.Error())
				return false
			}
			c.logger.Warn("ws_read_error", "error", err)
			return true
		}

		frame, parseErr := domain.ParseFrame(data)
		if parseErr != nil {
			c.metrics.ObserveMalformedFrame()
			c.logger.Warn("ws_malformed_frame", "error", parseErr)
			continue
		}
		c.metrics.ObserveFrame(serviceLabel, string(frame.Type))

		// Symmetric keepalive: a server probe is answered immediately.
		if frame.Type == domain.FramePing {
			if pongErr := c.Send(domain.PongFrame(c.key.CorrelationID)); pongErr != nil {
				c.logger.Warn("ws_pong_send_failed", "error", pongErr)
			}
		}

		c.emit(ctx, domain.FrameEvent(frame))
	}
}

func (c *streamConn) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := streamURL(c.cfg.BaseURL, c.key)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if isTimeout(err) {
			return nil, domain.WrapError(domain.ErrConnectTimeout, "dial stream", err)
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	return conn, nil
}

func (c *streamConn) finish(ctx context.Context, state domain.ConnectionState, attempts int, err error) {
	c.setState(state)
	c.emit(ctx, domain.StateEvent(state, attempts, err))
}

func (c *streamConn) emit(ctx context.Context, ev domain.StreamEvent) {
	select {
	case c.events <- ev:
	case <-c.closeCh:
	case <-ctx.Done():
	}
}

func (c *streamConn) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *streamConn) detach() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *streamConn) setState(state domain.ConnectionState) {
	c.mu.Lock()
	if c.state != domain.ConnClosed {
		c.state = state
	}
	c.mu.Unlock()
}

func (c *streamConn) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// streamURL builds the subscription address: correlation id in the
// path, a fresh transport sub-session id and the optional credential
// token in the query. Reconnects mint a new sub-session id.
func streamURL(base string, key domain.StreamKey) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/ws/extraction-progress/" + url.PathEscape(key.CorrelationID))
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("session", domain.NewTransportSessionID())
	if key.Token != "" {
		q.Set("token", key.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
