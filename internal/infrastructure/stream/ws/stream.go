package ws

import (
	"context"
	"errors"
	"log/slog"

	"github.com/statementdesk/extraction-client/internal/core/domain"
	"github.com/statementdesk/extraction-client/internal/core/ports"
	"github.com/statementdesk/extraction-client/internal/observability/metrics"
)

const serviceLabel = "extraction-client"

// Stream opens supervised websocket subscriptions to the extraction
// job runner's progress channel. It implements ports.ProgressStream.
type Stream struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.ClientMetrics
}

func New(cfg Config, logger *slog.Logger, m *metrics.ClientMetrics) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		cfg:     cfg.normalize(),
		logger:  logger,
		metrics: m,
	}
}

// Open starts supervision for one logical stream and returns at once.
// Connection progress, parsed frames and fatal failures are reported
// through the returned conn's event channel.
func (s *Stream) Open(ctx context.Context, key domain.StreamKey) (ports.StreamConn, error) {
	if key.CorrelationID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open stream", errors.New("empty correlation id"))
	}

	c := &streamConn{
		cfg:     s.cfg,
		key:     key,
		logger:  s.logger.With("correlation_id", key.CorrelationID),
		metrics: s.metrics,
		events:  make(chan domain.StreamEvent, 64),
		state:   domain.ConnDisconnected,
		closeCh: make(chan struct{}),
	}
	go c.supervise(ctx)
	return c, nil
}
