package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxBody bounds JSON request bodies.
const DefaultMaxBody = 64 * 1024

var (
	ErrEmptyBody    = errors.New("request body is required")
	ErrBodyTooLarge = errors.New("request body too large")
)

// DecodeJSON reads at most limit bytes from r and decodes a single JSON document into dst.
// Unknown fields are rejected.
func DecodeJSON(r *http.Request, limit int64, dst any) error {
	if r == nil || r.Body == nil {
		return ErrEmptyBody
	}
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return ErrBodyTooLarge
	}
	if strings.TrimSpace(string(data)) == "" {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON payload: trailing data")
	}
	return nil
}

// DecodeError maps a DecodeJSON failure to its response.
func DecodeError(err error) Error {
	if errors.Is(err, ErrBodyTooLarge) {
		return NewError("invalid_request", err.Error(), http.StatusRequestEntityTooLarge)
	}
	return BadRequest(err.Error())
}
