package policy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Execution error codes recorded on failed steps.
const (
	CodeTimeout     = "E_TIMEOUT"
	CodeRateLimit   = "E_RATE_LIMIT"
	CodeToolFailure = "E_TOOL_FAILURE"
	CodeDeadline    = "E_DEADLINE"
	CodeCircuitOpen = "E_CIRCUIT_OPEN"
	CodeSkipped     = "E_SKIPPED"
)

// ToolError is the data form of a tool failure. Tools return it instead of
// panicking so the executor's retry and skip logic operates on values.
type ToolError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Fatal builds a non-retryable tool error.
func Fatal(code, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Transient builds a retryable tool error.
func Transient(code, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Classification is the retry decision for a single failed invocation.
type Classification int

const (
	// FatalFailure records the step as failed immediately.
	FatalFailure Classification = iota
	// RetryableFailure is retried until the attempt budget is exhausted.
	RetryableFailure
)

// Policy centralizes the retryable-vs-fatal decision and the retry budget so
// executor logic stays uniform across tools.
type Policy struct {
	MaxRetries  int
	BackoffBase time.Duration
}

// Default allows 2 retries, so a step gets 3 attempts in total.
func Default() Policy {
	return Policy{MaxRetries: 2, BackoffBase: 250 * time.Millisecond}
}

// Classify is a pure function of the error's classification: timeouts, rate
// limits, and explicitly retryable tool errors are transient; everything
// else is fatal.
func (p Policy) Classify(err error) Classification {
	var te *ToolError
	if errors.As(err, &te) {
		if te.Retryable || te.Code == CodeTimeout || te.Code == CodeRateLimit {
			return RetryableFailure
		}
		return FatalFailure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RetryableFailure
	}
	return FatalFailure
}

// Backoff returns the delay before retry attempt n (0-based), doubling from
// the base each time.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// ErrorCode extracts the taxonomy code from an invocation error.
func ErrorCode(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeToolFailure
}
