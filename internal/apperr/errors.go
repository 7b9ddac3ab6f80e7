// Package apperr defines the error kinds shared by the ingestion and chat paths.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by the collaborator or input that caused it.
type Kind string

const (
	KindConfiguration         Kind = "configuration"
	KindEmbeddingUnavailable  Kind = "embedding_unavailable"
	KindIndexUnavailable      Kind = "index_unavailable"
	KindCompletionUnavailable Kind = "completion_unavailable"
	KindInvalidRequest        Kind = "invalid_request"
	KindInternal              Kind = "internal"
)

// Error is a classified error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Details map[string]string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key/value detail, typically a field validation message.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Sentinels for errors.Is matching.
var (
	ErrConfiguration         = New(KindConfiguration, "invalid configuration", nil)
	ErrEmbeddingUnavailable  = New(KindEmbeddingUnavailable, "embedding service unavailable", nil)
	ErrIndexUnavailable      = New(KindIndexUnavailable, "vector index unavailable", nil)
	ErrCompletionUnavailable = New(KindCompletionUnavailable, "completion service unavailable", nil)
	ErrInvalidRequest        = New(KindInvalidRequest, "invalid request", nil)
)

func Configuration(message string, err error) *Error {
	return New(KindConfiguration, message, err)
}

func EmbeddingUnavailable(message string, err error) *Error {
	return New(KindEmbeddingUnavailable, message, err)
}

func IndexUnavailable(message string, err error) *Error {
	return New(KindIndexUnavailable, message, err)
}

func CompletionUnavailable(message string, err error) *Error {
	return New(KindCompletionUnavailable, message, err)
}

func InvalidRequest(message string) *Error {
	return New(KindInvalidRequest, message, nil)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the human-readable message for err without the kind prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	return err.Error()
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
