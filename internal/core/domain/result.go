package domain

import "io"

// StatementTable is one extracted commission table. The business shape
// of the cells is opaque to this client; rows are delivered as-is.
type StatementTable struct {
	Name    string     `json:"name,omitempty"`
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// StatementMetadata is the advisory metadata sub-result extracted early
// in the pipeline, ahead of the final tables.
type StatementMetadata struct {
	Carrier         string  `json:"carrier,omitempty"`
	StatementDate   string  `json:"statement_date,omitempty"`
	TotalCommission float64 `json:"total_commission,omitempty"`
	PageCount       int     `json:"page_count,omitempty"`
}

type ExtractionResult struct {
	Tables                []StatementTable   `json:"tables"`
	ExtractionMethod      string             `json:"extraction_method,omitempty"`
	ProcessingTimeSeconds float64            `json:"processing_time,omitempty"`
	Metadata              *StatementMetadata `json:"metadata,omitempty"`
}

// UploadRequest is the synchronous multipart upload submitted alongside
// the stream subscription. UploadID is the correlation id shared by both.
type UploadRequest struct {
	UploadID   string
	Filename   string
	Content    io.Reader
	Parameters map[string]string
}

// UploadResponse is the synchronous endpoint's own verdict, used as the
// completion fallback when the stream never confirms or never finishes.
type UploadResponse struct {
	Success               bool               `json:"success"`
	Tables                []StatementTable   `json:"tables,omitempty"`
	UploadID              string             `json:"upload_id,omitempty"`
	ExtractionID          string             `json:"extraction_id,omitempty"`
	ExtractionMethod      string             `json:"extraction_method,omitempty"`
	ProcessingTimeSeconds float64            `json:"processing_time,omitempty"`
	Metadata              *StatementMetadata `json:"metadata,omitempty"`
	Error                 string             `json:"error,omitempty"`
}

// Result converts a successful synchronous response into the same shape
// the stream's completion frame delivers.
func (r *UploadResponse) Result() *ExtractionResult {
	return &ExtractionResult{
		Tables:                r.Tables,
		ExtractionMethod:      r.ExtractionMethod,
		ProcessingTimeSeconds: r.ProcessingTimeSeconds,
		Metadata:              r.Metadata,
	}
}

type DuplicateInfo struct {
	ExistingUploadID string `json:"existing_upload_id,omitempty"`
	Filename         string `json:"filename,omitempty"`
	UploadedAt       string `json:"uploaded_at,omitempty"`
	Checksum         string `json:"checksum,omitempty"`
}
