package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// Request is a pending request. It outlives a single HTTP exchange: after a
// refresh the same Request is sent again, carrying its retry marker so it can
// trigger at most one refresh.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any

	// ID is sent as X-Request-ID on every attempt, so the original and
	// the replay can be matched in server logs.
	ID string

	retried bool
	token   string // access token attached on the last send
	payload []byte
}

// NewRequest creates a pending request with a fresh request ID.
func NewRequest(method, path string, body any) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Body:   body,
		Header: make(http.Header),
		ID:     uuid.NewString(),
	}
}

// Retried reports whether the request has already been through a refresh.
func (r *Request) Retried() bool {
	return r.retried
}

// encodeBody marshals Body once and reuses the bytes for the replay.
func (r *Request) encodeBody() ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	if r.payload == nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		r.payload = data
	}
	return r.payload, nil
}
