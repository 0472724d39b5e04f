package plan

import "fmt"

// Validation error codes. These identify caller bugs: a plan that fails
// validation is rejected before any tool executes and is never retried.
const (
	CodeEmpty       = "E_EMPTY"
	CodeSchema      = "E_SCHEMA"
	CodeToolUnknown = "E_TOOL_UNKNOWN"
	CodeDupID       = "E_DUP_ID"
	CodeDanglingRef = "E_DANGLING_REF"
	CodeCycle       = "E_CYCLE"
)

// ValidationError reports the first violation found while validating a plan.
type ValidationError struct {
	Code   string
	StepID string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s: step %q: %s", e.Code, e.StepID, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}
