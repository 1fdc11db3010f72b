package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrExtraction       = errors.New("extraction failed")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrUpstream         = errors.New("upstream failure")
	ErrTemporary        = errors.New("temporary failure")
	ErrSessionNotFound  = errors.New("session not found")
	ErrMissingSessionID = errors.New("missing session id")

	ErrMissingCredential = errors.New("missing credential")
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

// ExtractionError reports why a document yielded no usable text.
type ExtractionError struct {
	Format Format
	Reason string
	Err    error
}

func NewExtractionError(format Format, reason string, err error) *ExtractionError {
	return &ExtractionError{Format: format, Reason: reason, Err: err}
}

func (e *ExtractionError) Error() string {
	if e == nil {
		return "extraction error"
	}
	msg := fmt.Sprintf("extract %s: %s", e.Format, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}
