package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/statementdesk/extraction-client/internal/core/domain"
	"github.com/statementdesk/extraction-client/internal/core/ports"
	"github.com/statementdesk/extraction-client/internal/observability/metrics"
)

const serviceLabel = "extraction-client"

type TrackConfig struct {
	CompletionFallback time.Duration
	CloseGrace         time.Duration
	CancelTimeout      time.Duration
}

func DefaultTrackConfig() TrackConfig {
	return TrackConfig{
		CompletionFallback: 30 * time.Second,
		CloseGrace:         time.Second,
		CancelTimeout:      5 * time.Second,
	}
}

func (c TrackConfig) normalize() TrackConfig {
	out := c
	def := DefaultTrackConfig()

	if out.CompletionFallback <= 0 {
		out.CompletionFallback = def.CompletionFallback
	}
	if out.CloseGrace <= 0 {
		out.CloseGrace = def.CloseGrace
	}
	if out.CancelTimeout <= 0 {
		out.CancelTimeout = def.CancelTimeout
	}
	return out
}

// TrackUploadUseCase submits the synchronous upload and the stream
// subscription concurrently and arbitrates their completion signals so
// the caller sees exactly one outcome per correlation id.
type TrackUploadUseCase struct {
	gateway ports.UploadGateway
	stream  ports.ProgressStream
	cfg     TrackConfig
	logger  *slog.Logger
	metrics *metrics.ClientMetrics
}

func NewTrackUploadUseCase(
	gateway ports.UploadGateway,
	stream ports.ProgressStream,
	cfg TrackConfig,
	logger *slog.Logger,
	m *metrics.ClientMetrics,
) *TrackUploadUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackUploadUseCase{
		gateway: gateway,
		stream:  stream,
		cfg:     cfg.normalize(),
		logger:  logger,
		metrics: m,
	}
}

type syncResult struct {
	resp *domain.UploadResponse
	err  error
}

type outcome struct {
	result *domain.ExtractionResult
	err    error
	path   string
}

func (o outcome) status() string {
	switch {
	case o.err == nil:
		return "success"
	case domain.IsKind(o.err, domain.ErrCancelled):
		return "cancelled"
	default:
		return "failure"
	}
}

func (uc *TrackUploadUseCase) Track(ctx context.Context, req ports.TrackRequest) (*domain.ExtractionResult, error) {
	start := time.Now()

	correlationID := req.UploadID
	if correlationID == "" {
		correlationID = domain.NewCorrelationID()
	}
	logger := uc.logger.With("correlation_id", correlationID)

	respCh := make(chan syncResult, 1)
	go func() {
		resp, err := uc.gateway.Upload(ctx, domain.UploadRequest{
			UploadID:   correlationID,
			Filename:   req.Filename,
			Content:    req.Content,
			Parameters: req.Parameters,
		})
		respCh <- syncResult{resp: resp, err: err}
	}()

	conn, err := uc.stream.Open(ctx, domain.StreamKey{CorrelationID: correlationID, Token: req.Token})
	if err != nil {
		// The synchronous path alone still delivers an outcome.
		logger.Warn("stream_open_failed", "error", err)
		conn = nil
	}

	sess := &trackSession{
		uc:            uc,
		req:           req,
		correlationID: correlationID,
		logger:        logger,
		conn:          conn,
		respCh:        respCh,
		state:         domain.NewProgressState(),
	}
	out := sess.run(ctx)

	uc.metrics.ObserveOutcome(serviceLabel, out.path, out.status(), time.Since(start))
	logger.Info("upload_outcome", "path", out.path, "status", out.status())
	return out.result, out.err
}

// trackSession is the single-threaded event loop for one upload: frame
// dispatch, progress reduction, and completion arbitration all happen
// here, in arrival order.
type trackSession struct {
	uc            *TrackUploadUseCase
	req           ports.TrackRequest
	correlationID string
	logger        *slog.Logger

	conn   ports.StreamConn
	respCh chan syncResult

	state      domain.ProgressState
	confirmed  bool
	streamDead bool
	held       *syncResult

	fallback   *time.Timer
	fallbackCh <-chan time.Time
}

func (s *trackSession) run(ctx context.Context) outcome {
	defer s.stopFallback()

	var events <-chan domain.StreamEvent
	if s.conn != nil {
		events = s.conn.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return s.cancelled(ctx.Err())

		case res := <-s.respCh:
			s.respCh = nil
			if out, done := s.reconcileSync(res); done {
				return out
			}

		case <-s.fallbackCh:
			s.logger.Warn("completion_fallback_fired")
			s.teardown()
			return s.syncOutcome(*s.held, "fallback")

		case ev, ok := <-events:
			if !ok {
				events = nil
				if out, done := s.streamLost(nil); done {
					return out
				}
				continue
			}
			if out, done := s.handleStreamEvent(ev); done {
				return out
			}
		}
	}
}

// reconcileSync applies the arbitration rule to the synchronous result:
// conflicts short-circuit, a confirmed stream demotes the response to a
// bounded fallback, anything else resolves immediately.
func (s *trackSession) reconcileSync(res syncResult) (outcome, bool) {
	if res.err != nil {
		if conflict, ok := domain.AsConflict(res.err); ok {
			s.teardown()
			return outcome{err: conflict, path: "conflict"}, true
		}
	}

	if s.confirmed && !s.streamDead {
		s.held = &res
		s.fallback = time.NewTimer(s.uc.cfg.CompletionFallback)
		s.fallbackCh = s.fallback.C
		s.logger.Debug("sync_response_held", "fallback", s.uc.cfg.CompletionFallback)
		return outcome{}, false
	}

	s.teardown()
	return s.syncOutcome(res, "sync"), true
}

func (s *trackSession) handleStreamEvent(ev domain.StreamEvent) (outcome, bool) {
	if ev.State != nil {
		return s.handleStateChange(*ev.State)
	}
	if ev.Frame != nil {
		return s.handleFrame(*ev.Frame)
	}
	return outcome{}, false
}

func (s *trackSession) handleStateChange(change domain.StateChange) (outcome, bool) {
	switch {
	case change.Err != nil:
		return s.streamLost(change.Err)
	case change.State == domain.ConnConnected:
		s.confirmed = true
	case change.State == domain.ConnClosed:
		return s.streamLost(nil)
	case change.State == domain.ConnReconnecting:
		s.logger.Debug("stream_reconnecting", "attempt", change.Attempt)
	}
	return outcome{}, false
}

func (s *trackSession) handleFrame(frame domain.Frame) (outcome, bool) {
	if frame.Housekeeping() {
		// Any liveness evidence confirms the subscription.
		s.confirmed = true
		s.logger.Debug("housekeeping_frame", "type", string(frame.Type))
		return outcome{}, false
	}

	if meta := frameMetadata(frame); meta != nil && s.req.OnMetadata != nil {
		s.req.OnMetadata(*meta)
	}

	next, changed := s.state.Apply(frame)
	s.state = next
	if changed && s.req.OnProgress != nil {
		s.req.OnProgress(s.state)
	}

	if s.state.Terminal == nil {
		return outcome{}, false
	}
	s.stopFallback()

	switch s.state.Terminal.Status {
	case domain.TerminalCancelled:
		s.teardown()
		return outcome{err: domain.WrapError(domain.ErrCancelled, "track upload", errors.New("cancelled by server")), path: "stream"}, true
	case domain.TerminalFailure:
		s.deferredClose()
		return outcome{err: domain.WrapError(domain.ErrProtocol, "track upload", errors.New(s.state.Terminal.Err)), path: "stream"}, true
	default:
		s.deferredClose()
		return outcome{result: s.state.Terminal.Result, path: "stream"}, true
	}
}

// streamLost handles a stream that ended without a terminal frame. A
// held synchronous response becomes the outcome at once; otherwise the
// pending synchronous call decides, and only a fatal stream error with
// nothing to fall back on is surfaced directly.
func (s *trackSession) streamLost(fatal error) (outcome, bool) {
	s.confirmed = false
	s.streamDead = true
	if fatal != nil {
		s.logger.Error("stream_fatal", "error", fatal)
	}
	s.stopFallback()

	if s.held != nil {
		s.teardown()
		return s.syncOutcome(*s.held, "fallback"), true
	}
	// Otherwise the pending synchronous call decides on arrival.
	return outcome{}, false
}

func (s *trackSession) syncOutcome(res syncResult, path string) outcome {
	if res.err != nil {
		return outcome{err: res.err, path: path}
	}
	if res.resp == nil || !res.resp.Success {
		msg := "upload rejected"
		if res.resp != nil && res.resp.Error != "" {
			msg = res.resp.Error
		}
		return outcome{err: domain.WrapError(domain.ErrProtocol, "upload", errors.New(msg)), path: path}
	}
	return outcome{result: res.resp.Result(), path: path}
}

// cancelled runs the user-initiated cancel protocol: best-effort
// server-side cancellation, immediate local teardown, state reset.
func (s *trackSession) cancelled(cause error) outcome {
	cancelCtx, cancel := context.WithTimeout(context.Background(), s.uc.cfg.CancelTimeout)
	defer cancel()
	if err := s.uc.gateway.CancelExtraction(cancelCtx, s.correlationID); err != nil {
		s.logger.Warn("cancel_extraction_failed", "error", err)
	}

	s.teardown()
	s.state = domain.NewProgressState()
	if s.req.OnProgress != nil {
		s.req.OnProgress(s.state)
	}
	return outcome{err: domain.WrapError(domain.ErrCancelled, "track upload", cause), path: "cancel"}
}

func (s *trackSession) teardown() {
	s.stopFallback()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// deferredClose leaves the connection open for a short grace window so
// trailing frames can still arrive, then closes it.
func (s *trackSession) deferredClose() {
	if s.conn == nil {
		return
	}
	conn := s.conn
	time.AfterFunc(s.uc.cfg.CloseGrace, func() {
		_ = conn.Close()
	})
}

func (s *trackSession) stopFallback() {
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
		s.fallbackCh = nil
	}
}

func frameMetadata(frame domain.Frame) *domain.StatementMetadata {
	if frame.Progress == nil || frame.Progress.StageDetails == nil {
		return nil
	}
	return frame.Progress.StageDetails.Metadata
}
