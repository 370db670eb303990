package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPreValidation marks malformed, empty or exploit-bearing containers.
	ErrPreValidation = errors.New("pre-validation failure")
	// ErrContentPolicy marks a cascade verdict of unsafe.
	ErrContentPolicy = errors.New("content policy violation")
	// ErrScoring marks a model or inference runtime failure. It is never a
	// content decision.
	ErrScoring = errors.New("scoring infrastructure error")
	// ErrTransient marks network, timeout and object storage failures.
	ErrTransient = errors.New("transient failure")
	// ErrIntegrity marks a concurrent write conflict on a record row.
	ErrIntegrity     = errors.New("integrity conflict")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Rejects reports whether err is a content outcome that maps to the rejected
// status rather than a pipeline failure.
func Rejects(err error) bool {
	return errors.Is(err, ErrPreValidation) || errors.Is(err, ErrContentPolicy)
}

// Retryable reports whether a job that failed with err should be retried.
// Scoring failures leave the record pending, so they retry like transient
// failures.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case Rejects(err):
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, ErrTransient), errors.Is(err, ErrScoring), errors.Is(err, ErrIntegrity):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

// Kind returns a short label for the marker carried by err, suitable for log
// fields and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrPreValidation):
		return "pre_validation"
	case errors.Is(err, ErrContentPolicy):
		return "content_policy"
	case errors.Is(err, ErrScoring):
		return "scoring"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "unknown"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
