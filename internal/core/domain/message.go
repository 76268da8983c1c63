package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type FrameType string

const (
	FrameProgressUpdate        FrameType = "progress_update"
	FrameStepStarted           FrameType = "step_started"
	FrameStepProgress          FrameType = "step_progress"
	FrameStepCompleted         FrameType = "step_completed"
	FrameCompletion            FrameType = "completion"
	FrameError                 FrameType = "error"
	FrameConnectionEstablished FrameType = "connection_established"
	FramePing                  FrameType = "ping"
	FramePong                  FrameType = "pong"
)

// Frame is one protocol message as it appears on the wire. Frames are
// consumed synchronously by the dispatcher and never retained.
type Frame struct {
	Type      FrameType         `json:"type"`
	UploadID  string            `json:"upload_id,omitempty"`
	Progress  *ProgressPayload  `json:"progress,omitempty"`
	Error     *ErrorPayload     `json:"error,omitempty"`
	Result    *ExtractionResult `json:"result,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
}

type ProgressPayload struct {
	Stage         Stage         `json:"stage,omitempty"`
	Percentage    *float64      `json:"progress_percentage,omitempty"`
	Message       string        `json:"message,omitempty"`
	EstimatedTime string        `json:"estimated_time,omitempty"`
	StageDetails  *StageDetails `json:"stage_details,omitempty"`
}

// StageDetails carries stage-specific sub-results. A populated Metadata
// field is forwarded to the metadata callback without affecting the
// terminal outcome.
type StageDetails struct {
	Detail   string             `json:"detail,omitempty"`
	Metadata *StatementMetadata `json:"metadata,omitempty"`
}

type ErrorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

const errorCodeCancelled = "cancelled"

func (e *ErrorPayload) Cancelled() bool {
	return e != nil && strings.EqualFold(e.Code, errorCodeCancelled)
}

var knownFrameTypes = map[FrameType]struct{}{
	FrameProgressUpdate:        {},
	FrameStepStarted:           {},
	FrameStepProgress:          {},
	FrameStepCompleted:         {},
	FrameCompletion:            {},
	FrameError:                 {},
	FrameConnectionEstablished: {},
	FramePing:                  {},
	FramePong:                  {},
}

// ParseFrame decodes a single wire frame. Undecodable bytes and unknown
// frame types are malformed: callers drop and log them without touching
// progress state.
func ParseFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, WrapError(ErrMalformedFrame, "decode frame", err)
	}
	if _, ok := knownFrameTypes[frame.Type]; !ok {
		return Frame{}, WrapError(ErrMalformedFrame, "decode frame", fmt.Errorf("unknown frame type %q", frame.Type))
	}
	return frame, nil
}

// Housekeeping reports whether the frame is a keepalive or handshake
// frame that must never be interpreted as progress or completion.
func (f Frame) Housekeeping() bool {
	switch f.Type {
	case FramePing, FramePong, FrameConnectionEstablished:
		return true
	default:
		return false
	}
}

func PingFrame(uploadID string) Frame {
	return Frame{Type: FramePing, UploadID: uploadID, Timestamp: wireTimestamp()}
}

func PongFrame(uploadID string) Frame {
	return Frame{Type: FramePong, UploadID: uploadID, Timestamp: wireTimestamp()}
}

func wireTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

var errEmptyFrame = errors.New("empty frame")

// EncodeFrame is the single marshalling point for outbound frames.
func EncodeFrame(f Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, WrapError(ErrMalformedFrame, "encode frame", errEmptyFrame)
	}
	return json.Marshal(f)
}
