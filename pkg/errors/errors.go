// Package errors holds the sentinel errors shared by the engine's packages
// and their mapping onto HTTP status codes. Wrap a sentinel with
// fmt.Errorf("...: %w", ErrX) to keep the mapping.
package errors

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrIndexIO            = errors.New("index i/o failure")
	ErrIndexNotFound      = errors.New("index not found")
	ErrIndexCorrupt       = errors.New("index file corrupt")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternal           = errors.New("internal error")
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{ErrDocumentNotFound, http.StatusNotFound},
	{ErrIndexNotFound, http.StatusNotFound},
	{ErrUnknownParticipant, http.StatusNotFound},
	{ErrInvalidQuery, http.StatusBadRequest},
	{ErrInvalidInput, http.StatusBadRequest},
}

// IsCancellation reports whether err signals a cooperative abort rather than
// a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// HTTPStatusCode maps err onto a response status. Client errors win over
// cancellation; anything unrecognised is a 500.
func HTTPStatusCode(err error) int {
	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	if IsCancellation(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
