package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/statementdesk/extraction-client/internal/core/domain"
	"github.com/statementdesk/extraction-client/internal/infrastructure/resilience"
)

// Client talks to the synchronous side of the extraction service: the
// multipart upload endpoint and the best-effort cancellation endpoint.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, token string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

// Upload submits the statement and blocks until the endpoint's own
// verdict. The upload POST is never retried: resubmitting the same
// correlation id would trip the duplicate detector.
func (c *Client) Upload(ctx context.Context, req domain.UploadRequest) (*domain.UploadResponse, error) {
	if req.UploadID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("empty upload id"))
	}

	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/extractions", body)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTransport, "upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, decodeConflict(resp.Body)
	}
	if resp.StatusCode >= 300 {
		return nil, newStatusError("upload", resp)
	}

	var out domain.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &out, nil
}

// CancelExtraction asks the job runner to stop the extraction. It is
// fire-and-forget from the caller's perspective; transient failures are
// retried here and anything else is only worth logging upstream.
func (c *Client) CancelExtraction(ctx context.Context, uploadID string) error {
	if uploadID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "cancel extraction", fmt.Errorf("empty upload id"))
	}

	return c.executor.Execute(ctx, "cancel_extraction", func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/extractions/"+uploadID+"/cancel", http.NoBody)
		if err != nil {
			return fmt.Errorf("create cancel request: %w", err)
		}
		c.authorize(httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return domain.WrapError(domain.ErrTransport, "cancel extraction", err)
		}
		defer resp.Body.Close()

		// A job that already finished or was never registered counts as
		// cancelled.
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode >= 300 {
			return newStatusError("cancel extraction", resp)
		}
		return nil
	}, classifyGatewayError)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func encodeMultipart(req domain.UploadRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("upload_id", req.UploadID); err != nil {
		return nil, "", fmt.Errorf("write upload_id field: %w", err)
	}
	for field, value := range req.Parameters {
		if err := writer.WriteField(field, value); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", field, err)
		}
	}

	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if req.Content != nil {
		if _, err := io.Copy(part, req.Content); err != nil {
			return nil, "", fmt.Errorf("copy file content: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finish multipart body: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func decodeConflict(body io.Reader) error {
	var payload struct {
		Error         string               `json:"error"`
		DuplicateInfo domain.DuplicateInfo `json:"duplicate_info"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return &domain.ConflictError{Message: "duplicate submission"}
	}
	return &domain.ConflictError{Message: payload.Error, Duplicate: payload.DuplicateInfo}
}
