package client

import (
	"errors"
	"fmt"
	"strings"
)

// RequestError describes a failed submit or probe.
type RequestError struct {
	Op         string // "submit" | "probe"
	URL        string
	StatusCode int // HTTP status, 0 if no response was received
	Code       int // service-level code, 0 if not decoded
	Message    string
	// Decode is set when the response body could not be decoded.
	Decode bool
	Cause  error
}

func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, fmt.Sprintf("%s %s", e.Op, e.URL))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("http=%d", e.StatusCode))
	}
	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsDecodeError reports whether err came from an undecodable response body.
func IsDecodeError(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Decode
}
