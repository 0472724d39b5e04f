package executor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolplan/toolplan/internal/cache"
	"github.com/toolplan/toolplan/internal/metrics"
	"github.com/toolplan/toolplan/internal/plan"
	"github.com/toolplan/toolplan/internal/policy"
	"github.com/toolplan/toolplan/internal/registry"
	"github.com/toolplan/toolplan/internal/sanitize"
)

const (
	DefaultStepTimeout    = 10 * time.Second
	DefaultMaxConcurrency = 4
)

// Invoker runs a tool by name. Implemented by tools.Dispatcher.
type Invoker interface {
	Invoke(ctx context.Context, name string, input map[string]any) (any, error)
}

// Recorder persists finished runs. Implemented by trace.Store.
type Recorder interface {
	SaveRun(ctx context.Context, res *Result) error
}

// Config wires an Engine. Registry and Invoker are required; everything else
// has a working default or is optional.
type Config struct {
	Registry       *registry.Registry
	Invoker        Invoker
	Cache          cache.Cache
	Breakers       *policy.BreakerSet
	Sanitizer      *sanitize.Sanitizer
	Policy         policy.Policy
	Metrics        *metrics.Metrics
	Recorder       Recorder
	StepTimeout    time.Duration
	MaxConcurrency int
}

// Engine validates plans and executes them with purity-aware concurrency.
type Engine struct {
	reg            *registry.Registry
	invoker        Invoker
	cache          cache.Cache
	breakers       *policy.BreakerSet
	sanitizer      *sanitize.Sanitizer
	policy         policy.Policy
	metrics        *metrics.Metrics
	recorder       Recorder
	stepTimeout    time.Duration
	maxConcurrency int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func New(cfg Config) *Engine {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Policy == (policy.Policy{}) {
		cfg.Policy = policy.Default()
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = sanitize.New()
	}
	return &Engine{
		reg:            cfg.Registry,
		invoker:        cfg.Invoker,
		cache:          cfg.Cache,
		breakers:       cfg.Breakers,
		sanitizer:      cfg.Sanitizer,
		policy:         cfg.Policy,
		metrics:        cfg.Metrics,
		recorder:       cfg.Recorder,
		stepTimeout:    cfg.StepTimeout,
		maxConcurrency: cfg.MaxConcurrency,
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// run tracks the mutable state of one plan execution.
type run struct {
	result  *Result
	results map[string]*StepResult
	mu      sync.Mutex
}

func (r *run) event(t time.Time, stepID, typ, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Events = append(r.result.Events, Event{Time: t, StepID: stepID, Type: typ, Detail: detail})
}

// Run validates the plan and executes it. A validation failure returns a nil
// result and the validation error: nothing is invoked. The deadline, when
// positive, bounds when new steps may start; steps already in flight are
// allowed to finish.
func (e *Engine) Run(ctx context.Context, p *plan.Plan, deadline time.Duration) (*Result, error) {
	ordered, err := plan.Validate(e.reg, p)
	if err != nil {
		return nil, err
	}

	start := e.now()
	st := &run{
		result: &Result{
			RunID:     "run_" + uuid.New().String(),
			StartedAt: start,
		},
		results: make(map[string]*StepResult, len(ordered)),
	}
	var deadlineAt time.Time
	if deadline > 0 {
		deadlineAt = start.Add(deadline)
	}

	e.execute(ctx, ordered, st, deadlineAt)

	st.result.FinishedAt = e.now()
	st.result.Steps = make([]StepResult, 0, len(ordered))
	allOK := true
	for _, s := range ordered {
		sr := st.results[s.ID]
		if sr == nil {
			// Unreached steps (caller canceled) count as skipped.
			sr = &StepResult{StepID: s.ID, Tool: s.Tool, Status: StepSkipped, ErrorCode: policy.CodeSkipped}
		}
		if sr.Status != StepSucceeded {
			allOK = false
		}
		st.result.Steps = append(st.result.Steps, *sr)
	}

	switch {
	case ctx.Err() != nil:
		st.result.Status = PlanAborted
	case allOK:
		st.result.Status = PlanCompleted
	default:
		st.result.Status = PlanPartial
	}

	e.metrics.ObservePlan(string(st.result.Status), st.result.FinishedAt.Sub(start))
	if e.recorder != nil {
		// Persist with a fresh context so an aborted run is still recorded.
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.recorder.SaveRun(saveCtx, st.result); err != nil {
			log.Printf("executor: save run %s: %v", st.result.RunID, err)
		}
	}
	return st.result, nil
}

// execute walks the ready frontier until every step has an outcome. Pure and
// read-only steps run as concurrent batches; impure steps run alone, in
// validation order relative to each other.
func (e *Engine) execute(ctx context.Context, ordered []plan.Step, st *run, deadlineAt time.Time) {
	remaining := make([]plan.Step, len(ordered))
	copy(remaining, ordered)

	for len(remaining) > 0 {
		if ctx.Err() != nil {
			now := e.now()
			st.event(now, "", EventAborted, ctx.Err().Error())
			for _, s := range remaining {
				e.finishSkipped(st, s, policy.CodeSkipped, "run aborted")
			}
			return
		}
		if !deadlineAt.IsZero() && !e.now().Before(deadlineAt) {
			now := e.now()
			st.event(now, "", EventDeadline, "plan deadline reached")
			for _, s := range remaining {
				e.finishSkipped(st, s, policy.CodeDeadline, "plan deadline reached before step started")
			}
			return
		}

		// Propagate skips before picking work: a step whose dependency did
		// not succeed can never run.
		var next []plan.Step
		for _, s := range remaining {
			if dep, bad := e.failedDep(st, s); bad {
				e.finishSkipped(st, s, policy.CodeSkipped, "dependency "+dep+" did not succeed")
				continue
			}
			next = append(next, s)
		}
		remaining = next
		if len(remaining) == 0 {
			return
		}

		var batch []plan.Step
		var impure *plan.Step
		for i, s := range remaining {
			if !e.ready(st, s) {
				continue
			}
			spec, err := e.reg.Lookup(s.Tool)
			if err != nil {
				continue
			}
			if spec.Purity.Parallelizable() {
				if len(batch) < e.maxConcurrency {
					batch = append(batch, s)
				}
			} else if impure == nil {
				impure = &remaining[i]
			}
		}
		if len(batch) == 0 {
			if impure == nil {
				// Every remaining step waits on one that is gone. Cannot
				// happen for a validated plan.
				for _, s := range remaining {
					e.finishSkipped(st, s, policy.CodeSkipped, "unreachable step")
				}
				return
			}
			batch = []plan.Step{*impure}
		}

		var wg sync.WaitGroup
		for _, s := range batch {
			wg.Add(1)
			go func(s plan.Step) {
				defer wg.Done()
				e.runStep(ctx, s, st)
			}(s)
		}
		wg.Wait()

		done := make(map[string]bool, len(batch))
		for _, s := range batch {
			done[s.ID] = true
		}
		next = remaining[:0]
		for _, s := range remaining {
			if !done[s.ID] {
				next = append(next, s)
			}
		}
		remaining = next
	}
}

// ready reports whether every dependency of s has succeeded.
func (e *Engine) ready(st *run, s plan.Step) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, dep := range s.After {
		sr, ok := st.results[dep]
		if !ok || sr.Status != StepSucceeded {
			return false
		}
	}
	return true
}

// failedDep returns a dependency of s that failed or was skipped, if any.
func (e *Engine) failedDep(st *run, s plan.Step) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, dep := range s.After {
		if sr, ok := st.results[dep]; ok && sr.Status != StepSucceeded {
			return dep, true
		}
	}
	return "", false
}

func (e *Engine) finishSkipped(st *run, s plan.Step, code, detail string) {
	now := e.now()
	sr := &StepResult{
		StepID:       s.ID,
		Tool:         s.Tool,
		Status:       StepSkipped,
		ErrorCode:    code,
		ErrorMessage: detail,
	}
	st.mu.Lock()
	st.results[s.ID] = sr
	st.mu.Unlock()
	st.event(now, s.ID, EventStepSkipped, detail)
	e.metrics.ObserveStep(s.Tool, string(StepSkipped), 0)
}
