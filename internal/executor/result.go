package executor

import "time"

// StepStatus is the final state of one step.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// PlanStatus is the final state of a whole run.
type PlanStatus string

const (
	PlanCompleted PlanStatus = "completed"
	PlanPartial   PlanStatus = "partially_completed"
	PlanAborted   PlanStatus = "aborted"
)

// StepResult records the outcome of one step, cache hits included.
type StepResult struct {
	StepID       string     `json:"step_id"`
	Tool         string     `json:"tool"`
	Status       StepStatus `json:"status"`
	Output       any        `json:"output,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempts     int        `json:"attempts"`
	CacheHit     bool       `json:"cache_hit,omitempty"`
	StartedAt    time.Time  `json:"started_at,omitempty"`
	FinishedAt   time.Time  `json:"finished_at,omitempty"`
}

// Event is one entry in the execution trace.
type Event struct {
	Time   time.Time `json:"time"`
	StepID string    `json:"step_id,omitempty"`
	Type   string    `json:"type"`
	Detail string    `json:"detail,omitempty"`
}

// Trace event types.
const (
	EventStepStarted   = "step_started"
	EventStepSucceeded = "step_succeeded"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"
	EventStepRetry     = "step_retry"
	EventCacheHit      = "cache_hit"
	EventBreakerOpen   = "breaker_open"
	EventDeadline      = "plan_deadline"
	EventAborted       = "plan_aborted"
)

// Result is the outcome of a whole plan run. Steps appear in the
// deterministic validation order regardless of how execution interleaved.
type Result struct {
	RunID      string       `json:"run_id"`
	Status     PlanStatus   `json:"status"`
	Steps      []StepResult `json:"steps"`
	Events     []Event      `json:"events,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Step returns the result for a step id, or nil if the id is unknown.
func (r *Result) Step(id string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].StepID == id {
			return &r.Steps[i]
		}
	}
	return nil
}
