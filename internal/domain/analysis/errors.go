package analysis

import (
	"errors"
	"fmt"
)

// Synchronous rejections. These are returned to the caller before any
// external process or API call is made; they never change Analysis.State.
var (
	ErrInvalidConfig     = errors.New("invalid config")
	ErrAlreadyRunning    = errors.New("analysis step already running")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrNotFound          = errors.New("not found")
	ErrSummaryMismatch   = errors.New("summary counts do not match findings")
	ErrSchemaViolation   = errors.New("payload violates canonical schema")
)

// Errorf wraps a sentinel with detail so callers can still errors.Is on it.
func Errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// FailReason tags a *_FAILED state on the Analysis record. Asynchronous step
// failures surface here rather than as errors past the state machine boundary.
type FailReason string

const (
	ReasonToolError       FailReason = "ToolError"
	ReasonTimeout         FailReason = "Timeout"
	ReasonCancelled       FailReason = "Cancelled"
	ReasonSchemaViolation FailReason = "SchemaViolation"
	ReasonReportFailed    FailReason = "ReportFailed"
)
