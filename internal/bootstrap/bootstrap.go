package bootstrap

import (
	"log/slog"

	"github.com/statementdesk/extraction-client/internal/config"
	"github.com/statementdesk/extraction-client/internal/core/ports"
	"github.com/statementdesk/extraction-client/internal/core/usecase"
	"github.com/statementdesk/extraction-client/internal/infrastructure/gateway/extraction"
	"github.com/statementdesk/extraction-client/internal/infrastructure/resilience"
	"github.com/statementdesk/extraction-client/internal/infrastructure/stream/ws"
	"github.com/statementdesk/extraction-client/internal/observability/logging"
	"github.com/statementdesk/extraction-client/internal/observability/metrics"
)

const serviceName = "extraction-client"

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.ClientMetrics

	Gateway ports.UploadGateway
	Stream  ports.ProgressStream
	Tracker ports.UploadTracker
}

// New wires the protocol client from configuration. A nil logger gets
// the default JSON logger.
func New(cfg config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = logging.NewJSONLogger(serviceName, cfg.LogLevel)
	}
	clientMetrics := metrics.NewClientMetrics(serviceName)

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	gateway := extraction.New(cfg.APIBaseURL, cfg.APIToken, cfg.UploadTimeout, executor)

	stream := ws.New(ws.Config{
		BaseURL:              cfg.StreamBaseURL,
		ConnectTimeout:       cfg.ConnectTimeout,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	}, logger, clientMetrics)

	tracker := usecase.NewTrackUploadUseCase(gateway, stream, usecase.TrackConfig{
		CompletionFallback: cfg.CompletionFallback,
		CloseGrace:         cfg.CloseGrace,
		CancelTimeout:      cfg.CancelTimeout,
	}, logger, clientMetrics)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: clientMetrics,

		Gateway: gateway,
		Stream:  stream,
		Tracker: tracker,
	}
}
