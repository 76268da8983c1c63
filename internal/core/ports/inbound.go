package ports

import (
	"context"
	"io"

	"github.com/statementdesk/extraction-client/internal/core/domain"
)

// UploadTracker is the inbound contract for tracked statement uploads:
// one call delivers exactly one outcome per correlation id, whichever of
// the synchronous response or the progress stream finishes first.
type UploadTracker interface {
	Track(ctx context.Context, req TrackRequest) (*domain.ExtractionResult, error)
}

// TrackRequest describes one upload attempt. UploadID is optional; a
// correlation id is minted when it is empty. The callbacks are invoked
// from the session's event loop and must not block.
type TrackRequest struct {
	UploadID   string
	Filename   string
	Content    io.Reader
	Parameters map[string]string
	Token      string

	OnProgress func(domain.ProgressState)
	OnMetadata func(domain.StatementMetadata)
}
