// Package httputil provides helpers for reading HTTP payloads safely.
package httputil

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

const (
	// DefaultMaxResponseBodyBytes caps upstream (LLM, embedding) response bodies to 10MB.
	DefaultMaxResponseBodyBytes int64 = 10 * 1024 * 1024

	// DefaultMaxRequestBodyBytes caps inbound chat API request bodies to 1MB.
	DefaultMaxRequestBodyBytes int64 = 1 << 20
)

var ErrBodyTooLarge = errors.New("body too large")

// ReadLimitedBody reads up to maxBytes from reader and returns ErrBodyTooLarge when exceeded.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	limited := io.LimitReader(reader, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		body = body[:int(maxBytes)]
		return body, ErrBodyTooLarge
	}
	return body, nil
}

// DecodeJSONBody reads at most maxBytes from reader and unmarshals them into v.
func DecodeJSONBody(reader io.Reader, maxBytes int64, v any) error {
	body, err := ReadLimitedBody(reader, maxBytes)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
