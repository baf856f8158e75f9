package reasoner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result carries the outcome of decoding a model response into a typed
// value. Callers choose the fallback explicitly instead of relying on a
// recovered panic or zero value.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successfully decoded value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err wraps a decode failure.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Value returns the decoded value and whether decoding succeeded.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.err == nil
}

// OrElse returns the decoded value, or fallback when decoding failed.
func (r Result[T]) OrElse(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}

// Err returns the decode error, or nil on success.
func (r Result[T]) Err() error {
	return r.err
}

// DecodeJSON parses a model completion into T. Markdown code fences around
// the JSON body are stripped, since some models wrap output even in JSON
// mode.
func DecodeJSON[T any](raw string) Result[T] {
	cleaned := stripCodeFence(raw)

	var v T
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return Err[T](fmt.Errorf("reasoner: decode completion: %w", err))
	}
	return Ok(v)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
