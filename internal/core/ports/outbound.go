package ports

import (
	"context"

	"github.com/statementdesk/extraction-client/internal/core/domain"
)

// UploadGateway is the synchronous side of the protocol: the multipart
// upload call and the best-effort server-side cancellation call.
type UploadGateway interface {
	Upload(ctx context.Context, req domain.UploadRequest) (*domain.UploadResponse, error)
	CancelExtraction(ctx context.Context, uploadID string) error
}

// ProgressStream opens one supervised logical stream per correlation id.
// Open returns immediately; connection progress, frames and failures are
// all reported through the returned StreamConn's event channel.
type ProgressStream interface {
	Open(ctx context.Context, key domain.StreamKey) (StreamConn, error)
}

// StreamConn is one logical stream subscription. The events channel is
// closed after a Closed or fatal state event. Close performs a clean
// disconnect, never triggers reconnection, and is idempotent.
type StreamConn interface {
	Events() <-chan domain.StreamEvent
	Send(frame domain.Frame) error
	Close() error
}
