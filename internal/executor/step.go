package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/toolplan/toolplan/internal/cache"
	"github.com/toolplan/toolplan/internal/plan"
	"github.com/toolplan/toolplan/internal/policy"
	"github.com/toolplan/toolplan/internal/registry"
)

// runStep takes one step from ready to a terminal status: breaker check,
// cache lookup, then the invoke-with-retry loop.
func (e *Engine) runStep(ctx context.Context, s plan.Step, st *run) {
	started := e.now()
	sr := &StepResult{StepID: s.ID, Tool: s.Tool, StartedAt: started}
	defer func() {
		sr.FinishedAt = e.now()
		st.mu.Lock()
		st.results[s.ID] = sr
		st.mu.Unlock()
		e.metrics.ObserveStep(s.Tool, string(sr.Status), sr.FinishedAt.Sub(started))
	}()

	st.event(started, s.ID, EventStepStarted, s.Tool)
	e.metrics.StepStarted()
	defer e.metrics.StepFinished()

	input := e.resolveRefs(s, st)
	spec, err := e.reg.Lookup(s.Tool)
	if err != nil {
		// Validation guarantees the tool exists; a miss here is a bug.
		sr.Status = StepFailed
		sr.ErrorCode = policy.CodeToolFailure
		sr.ErrorMessage = err.Error()
		st.event(e.now(), s.ID, EventStepFailed, sr.ErrorMessage)
		return
	}

	if e.breakers != nil && !e.breakers.Allow(s.Tool) {
		sr.Status = StepFailed
		sr.ErrorCode = policy.CodeCircuitOpen
		sr.ErrorMessage = fmt.Sprintf("circuit open for tool %q", s.Tool)
		st.event(e.now(), s.ID, EventBreakerOpen, s.Tool)
		e.metrics.ObserveBreakerOpen(s.Tool)
		return
	}

	cacheable := e.cache != nil && resultTTL(spec) != noCaching
	var key string
	if cacheable {
		key = cache.NormalizeInput(input)
		if value, ok := e.cache.Get(s.Tool, key); ok {
			sr.Status = StepSucceeded
			sr.Output = value
			sr.CacheHit = true
			st.event(e.now(), s.ID, EventCacheHit, s.Tool)
			e.metrics.ObserveCacheHit(s.Tool)
			return
		}
	}

	var output any
	var invokeErr error
	for attempt := 0; ; attempt++ {
		sr.Attempts = attempt + 1
		output, invokeErr = e.invokeWithTimeout(ctx, s.Tool, input)
		if e.breakers != nil {
			e.breakers.Record(s.Tool, invokeErr == nil)
		}
		if invokeErr == nil {
			break
		}
		if e.policy.Classify(invokeErr) != policy.RetryableFailure || attempt >= e.policy.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			break
		}
		st.event(e.now(), s.ID, EventStepRetry,
			fmt.Sprintf("attempt %d failed: %v", attempt+1, invokeErr))
		e.metrics.ObserveRetry(s.Tool)
		e.sleep(ctx, e.policy.Backoff(attempt))
	}

	if invokeErr != nil {
		sr.Status = StepFailed
		sr.ErrorCode = policy.ErrorCode(invokeErr)
		sr.ErrorMessage = invokeErr.Error()
		st.event(e.now(), s.ID, EventStepFailed, sr.ErrorMessage)
		return
	}

	output = e.sanitizeValue(output)
	sr.Status = StepSucceeded
	sr.Output = output
	st.event(e.now(), s.ID, EventStepSucceeded, "")

	if cacheable {
		e.cache.Put(s.Tool, key, output, resultTTL(spec))
	}
}

// noCaching marks tools whose results must never be cached.
const noCaching time.Duration = -1

// resultTTL maps a tool's purity and TTL to a cache lifetime: pure results
// never expire, read-only results live for the declared TTL, and a read-only
// tool without a TTL is not cached at all.
func resultTTL(spec registry.ToolSpec) time.Duration {
	switch spec.Purity {
	case registry.Pure:
		return 0
	case registry.ReadOnly:
		if spec.CacheTTL > 0 {
			return time.Duration(spec.CacheTTL) * time.Second
		}
	}
	return noCaching
}

// resolveRefs substitutes ${step.output} references with the recorded output
// of the referenced step. Validation pinned each reference to a dependency,
// so the output is always present by the time this runs.
func (e *Engine) resolveRefs(s plan.Step, st *run) map[string]any {
	var resolved map[string]any
	for name, v := range s.Input {
		target, ok := plan.ParseRef(v)
		if !ok {
			continue
		}
		st.mu.Lock()
		dep := st.results[target]
		st.mu.Unlock()
		if resolved == nil {
			resolved = make(map[string]any, len(s.Input))
			for k, val := range s.Input {
				resolved[k] = val
			}
		}
		if dep != nil {
			resolved[name] = dep.Output
		} else {
			resolved[name] = nil
		}
	}
	if resolved == nil {
		return s.Input
	}
	return resolved
}

// invokeWithTimeout bounds a single tool invocation. The invocation runs in
// its own goroutine; on timeout the result channel stays buffered so the
// goroutine can still finish and be collected.
func (e *Engine) invokeWithTimeout(ctx context.Context, tool string, input map[string]any) (any, error) {
	type outcome struct {
		value any
		err   error
	}
	callCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		value, err := e.invoker.Invoke(callCtx, tool, input)
		ch <- outcome{value: value, err: err}
	}()

	select {
	case out := <-ch:
		return out.value, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, policy.Transient(policy.CodeTimeout, "tool %q exceeded %s timeout", tool, e.stepTimeout)
	}
}

// sanitizeValue redacts PII from every string reachable in a tool output.
func (e *Engine) sanitizeValue(v any) any {
	switch x := v.(type) {
	case string:
		if found := e.sanitizer.Detect(x); len(found) > 0 {
			for _, category := range found {
				e.metrics.ObserveSanitized(category)
			}
		}
		return e.sanitizer.Sanitize(x)
	case []any:
		for i, item := range x {
			x[i] = e.sanitizeValue(item)
		}
		return x
	case map[string]any:
		for k, item := range x {
			x[k] = e.sanitizeValue(item)
		}
		return x
	default:
		return v
	}
}
