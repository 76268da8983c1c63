package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConnectTimeout     = errors.New("stream connect timeout")
	ErrTransport          = errors.New("transport failure")
	ErrProtocol           = errors.New("protocol error")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrCancelled          = errors.New("extraction cancelled")
	ErrInvalidInput       = errors.New("invalid input")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ConflictError reports a duplicate statement submission detected by the
// synchronous upload endpoint. It short-circuits completion arbitration.
type ConflictError struct {
	Message   string
	Duplicate DuplicateInfo
}

func (e *ConflictError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "duplicate submission"
	}
	if e.Duplicate.ExistingUploadID != "" {
		return fmt.Sprintf("%s (existing upload %s)", msg, e.Duplicate.ExistingUploadID)
	}
	return msg
}

func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
