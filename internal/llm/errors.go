package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a gateway failure for retry and reporting decisions.
type Kind string

const (
	// KindTransientNetwork covers timeouts, connection failures and
	// 5xx responses. Retryable.
	KindTransientNetwork Kind = "transient_network"

	// KindRateLimited covers 429 and quota exhaustion. Retryable.
	KindRateLimited Kind = "rate_limited"

	// KindInvalidStructuredOutput means the model reply failed JSON
	// decoding after the repair re-prompt.
	KindInvalidStructuredOutput Kind = "invalid_structured_output"

	// KindContextOverflow means the prompt exceeded the model context
	// window. The caller may drop history and try once more.
	KindContextOverflow Kind = "context_overflow"

	// KindProvider covers remaining provider-side failures such as
	// auth errors and content filtering. Not retryable.
	KindProvider Kind = "provider_error"

	// KindCancelled means the request context was cancelled.
	KindCancelled Kind = "cancelled"
)

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransientNetwork, KindRateLimited:
		return true
	}
	return false
}

// Error is a classified gateway failure.
type Error struct {
	Kind     Kind
	Provider string
	Model    string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WrapError classifies err and attaches provider context. Existing
// *Error values pass through unchanged.
func WrapError(provider, model string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{
		Kind:     Classify(err),
		Provider: provider,
		Model:    model,
		Err:      err,
	}
}

// KindOf extracts the failure kind from an error chain, classifying
// raw errors on the fly.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return Classify(err)
}

// Retryable reports whether the error is worth another attempt.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// Classify inspects an error and assigns a failure kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientNetwork
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "429") {
		return KindRateLimited
	}

	if strings.Contains(msg, "context length") ||
		strings.Contains(msg, "context_length_exceeded") ||
		strings.Contains(msg, "maximum context") ||
		strings.Contains(msg, "token limit") ||
		strings.Contains(msg, "prompt is too long") ||
		strings.Contains(msg, "input token count") {
		return KindContextOverflow
	}

	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "gateway timeout") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") {
		return KindTransientNetwork
	}

	return KindProvider
}
