package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/statementdesk/extraction-client/internal/core/domain"
)

func newStreamServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsBaseURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(base string) Config {
	return Config{
		BaseURL:              base,
		ConnectTimeout:       2 * time.Second,
		HeartbeatInterval:    time.Hour,
		ReconnectBaseDelay:   10 * time.Millisecond,
		ReconnectMaxDelay:    20 * time.Millisecond,
		ReconnectMaxAttempts: 5,
	}
}

func openStream(t *testing.T, ctx context.Context, cfg Config) *streamConn {
	t.Helper()
	s := New(cfg, slog.New(slog.DiscardHandler), nil)
	conn, err := s.Open(ctx, domain.StreamKey{CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sc := conn.(*streamConn)
	t.Cleanup(func() { _ = sc.Close() })
	return sc
}

func waitForState(t *testing.T, events <-chan domain.StreamEvent, want domain.ConnectionState) domain.StateChange {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed before state %q", want)
			}
			if ev.State != nil && ev.State.State == want {
				return *ev.State
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func waitForFrame(t *testing.T, events <-chan domain.StreamEvent, want domain.FrameType) domain.Frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed before frame %q", want)
			}
			if ev.Frame != nil && ev.Frame.Type == want {
				return *ev.Frame
			}
		case <-deadline:
			t.Fatalf("timed out waiting for frame %q", want)
		}
	}
}

func waitForChannelClose(t *testing.T, events <-chan domain.StreamEvent) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("event channel never closed")
		}
	}
}

func TestStreamConnectDeliversFramesThenCleanClose(t *testing.T) {
	pct := 25.0
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(domain.Frame{Type: domain.FrameConnectionEstablished})
		_ = conn.WriteJSON(domain.Frame{Type: domain.FrameProgressUpdate, Progress: &domain.ProgressPayload{
			Stage:      domain.StageTableDetection,
			Percentage: &pct,
		}})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		time.Sleep(100 * time.Millisecond)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc := openStream(t, ctx, testConfig(wsBaseURL(srv)))

	waitForState(t, sc.Events(), domain.ConnConnecting)
	waitForState(t, sc.Events(), domain.ConnConnected)
	waitForFrame(t, sc.Events(), domain.FrameConnectionEstablished)
	frame := waitForFrame(t, sc.Events(), domain.FrameProgressUpdate)
	if frame.Progress == nil || frame.Progress.Stage != domain.StageTableDetection {
		t.Fatalf("unexpected progress frame: %+v", frame)
	}
	waitForState(t, sc.Events(), domain.ConnClosed)
	waitForChannelClose(t, sc.Events())
}

func TestStreamDropsMalformedFrames(t *testing.T) {
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"telemetry"}`))
		_ = conn.WriteJSON(domain.Frame{Type: domain.FrameCompletion, Result: &domain.ExtractionResult{}})
		time.Sleep(100 * time.Millisecond)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc := openStream(t, ctx, testConfig(wsBaseURL(srv)))

	// The first frame to survive parsing must be the completion; the two
	// malformed payloads before it are dropped.
	waitForState(t, sc.Events(), domain.ConnConnected)
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sc.Events():
			if !ok {
				t.Fatalf("event channel closed before any frame")
			}
			if ev.Frame == nil {
				continue
			}
			if ev.Frame.Type != domain.FrameCompletion {
				t.Fatalf("malformed frame leaked through: %+v", ev.Frame)
			}
			return
		case <-deadline:
			t.Fatalf("completion frame never arrived")
		}
	}
}

func TestStreamAnswersServerPing(t *testing.T) {
	gotPong := make(chan domain.Frame, 1)
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(domain.PingFrame("corr-1"))
		for {
			var frame domain.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type == domain.FramePong {
				gotPong <- frame
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc := openStream(t, ctx, testConfig(wsBaseURL(srv)))

	waitForState(t, sc.Events(), domain.ConnConnected)
	select {
	case pong := <-gotPong:
		if pong.UploadID != "corr-1" {
			t.Fatalf("pong carries wrong upload id %q", pong.UploadID)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server ping never answered")
	}
}

func TestStreamSendsPeriodicHeartbeats(t *testing.T) {
	pings := make(chan struct{}, 16)
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		for {
			var frame domain.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type == domain.FramePing {
				pings <- struct{}{}
			}
		}
	})

	cfg := testConfig(wsBaseURL(srv))
	cfg.HeartbeatInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc := openStream(t, ctx, cfg)
	waitForState(t, sc.Events(), domain.ConnConnected)

	// Initial probe plus at least two interval heartbeats.
	for i := 0; i < 3; i++ {
		select {
		case <-pings:
		case <-time.After(3 * time.Second):
			t.Fatalf("heartbeat %d never arrived", i)
		}
	}
}

func TestStreamReconnectsAfterAbnormalClose(t *testing.T) {
	var dials atomic.Int32
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		if dials.Add(1) == 1 {
			// Drop the TCP connection without a close handshake.
			_ = conn.UnderlyingConn().Close()
			return
		}
		var frame domain.Frame
		for conn.ReadJSON(&frame) == nil {
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc := openStream(t, ctx, testConfig(wsBaseURL(srv)))

	waitForState(t, sc.Events(), domain.ConnConnected)
	change := waitForState(t, sc.Events(), domain.ConnReconnecting)
	if change.Attempt != 1 {
		t.Fatalf("first reconnect should be attempt 1, got %d", change.Attempt)
	}
	waitForState(t, sc.Events(), domain.ConnConnected)
	if got := dials.Load(); got != 2 {
		t.Fatalf("expected 2 dials, got %d", got)
	}
}

func TestStreamCloseSuppressesReconnect(t *testing.T) {
	var dials atomic.Int32
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		dials.Add(1)
		var frame domain.Frame
		for conn.ReadJSON(&frame) == nil {
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc := openStream(t, ctx, testConfig(wsBaseURL(srv)))

	waitForState(t, sc.Events(), domain.ConnConnected)
	if err := sc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	waitForChannelClose(t, sc.Events())

	time.Sleep(50 * time.Millisecond)
	if got := dials.Load(); got != 1 {
		t.Fatalf("clean close must not reconnect, got %d dials", got)
	}
	if state := sc.State(); state != domain.ConnClosed {
		t.Fatalf("state after close = %q", state)
	}
}

func TestStreamReconnectExhaustion(t *testing.T) {
	// Plain HTTP endpoint: every dial fails the websocket handshake.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no stream here", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(wsBaseURL(srv))
	cfg.ReconnectMaxAttempts = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc := openStream(t, ctx, cfg)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sc.Events():
			if !ok {
				t.Fatalf("event channel closed without a fatal state event")
			}
			if ev.State == nil || ev.State.Err == nil {
				continue
			}
			if !errors.Is(ev.State.Err, domain.ErrReconnectExhausted) {
				t.Fatalf("fatal error = %v", ev.State.Err)
			}
			if ev.State.Attempt != cfg.ReconnectMaxAttempts {
				t.Fatalf("exhausted at attempt %d, want %d", ev.State.Attempt, cfg.ReconnectMaxAttempts)
			}
			waitForChannelClose(t, sc.Events())
			return
		case <-deadline:
			t.Fatalf("exhaustion never reported")
		}
	}
}

func TestStreamSendWhenDisconnected(t *testing.T) {
	sc := &streamConn{
		cfg:     DefaultConfig(),
		logger:  slog.New(slog.DiscardHandler),
		events:  make(chan domain.StreamEvent, 1),
		closeCh: make(chan struct{}),
	}
	err := sc.Send(domain.PingFrame("corr-1"))
	if !domain.IsKind(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestOpenRejectsEmptyCorrelationID(t *testing.T) {
	s := New(DefaultConfig(), slog.New(slog.DiscardHandler), nil)
	if _, err := s.Open(context.Background(), domain.StreamKey{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestStreamURL(t *testing.T) {
	got, err := streamURL("wss://api.example.com/", domain.StreamKey{CorrelationID: "up 42", Token: "tok"})
	if err != nil {
		t.Fatalf("streamURL() error = %v", err)
	}
	if !strings.Contains(got, "/ws/extraction-progress/up%2042") {
		t.Fatalf("correlation id not escaped into path: %s", got)
	}
	if !strings.Contains(got, "token=tok") || !strings.Contains(got, "session=") {
		t.Fatalf("missing query parameters: %s", got)
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := Config{ReconnectBaseDelay: time.Second, ReconnectMaxDelay: 30 * time.Second}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := cfg.backoffDelay(tc.attempts); got != tc.want {
			t.Fatalf("backoffDelay(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}
