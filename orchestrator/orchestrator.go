// Package orchestrator owns the fan-out/fan-in lifecycle of one task across a
// set of model backends: every backend is invoked concurrently under the task
// deadline (minus a safety margin), transient failures get exactly one retry,
// late responses are discarded, and the surviving responses are handed to the
// fuser. On success a pointer-only CardRef is cached under the task id with a
// short TTL; the raw fused payload never enters the shared cache.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/backend"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/fuser"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/logging"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/observability"
)

// Options configures an Orchestrator.
type Options struct {
	// Fuser reconciles backend responses. Defaults to fuser.New().
	Fuser *fuser.Fuser

	// Cards receives the CardRef of each successful dispatch. Nil disables
	// caching.
	Cards core.CardStore

	// CacheTTL bounds the lifetime of cached CardRefs.
	CacheTTL time.Duration

	// SafetyMargin is subtracted from the task deadline when bounding
	// individual backend calls, reserving headroom for fusion and caching.
	SafetyMargin time.Duration

	// RetryDelay is the pause before the single retry of a transient failure.
	RetryDelay time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Orchestrator dispatches tasks across heterogeneous model backends.
type Orchestrator struct {
	opts Options
}

// New creates an Orchestrator with optional overrides.
func New(optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Fuser:        fuser.New(),
		CacheTTL:     5 * time.Minute,
		SafetyMargin: 50 * time.Millisecond,
		RetryDelay:   100 * time.Millisecond,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Fuser == nil {
		opts.Fuser = fuser.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Orchestrator{opts: opts}
}

// backendResult pairs one backend's identity with its invocation outcome.
type backendResult struct {
	id   string
	resp core.BackendResponse
	err  error
}

// Dispatch fans the task out to every backend concurrently and fuses the
// responses that arrive before the deadline. It fails with ErrInvalidRequest
// before contacting any backend if the inputs are malformed, and with
// ErrAllBackendsFailed only when no backend produced a usable response.
// Backends that are merely slow are recorded as timed out, never as a
// dispatch failure.
func (o *Orchestrator) Dispatch(ctx context.Context, task core.Task, backends []backend.Backend) (core.FusedResult, error) {
	if err := o.validate(task, backends); err != nil {
		observability.DispatchesTotal.WithLabelValues("invalid").Inc()
		return core.FusedResult{}, err
	}

	// Individual calls get the deadline minus the margin so fusion and
	// caching still complete inside the caller's budget.
	callCtx, cancel := context.WithDeadline(ctx, task.Deadline.Add(-o.opts.SafetyMargin))
	defer cancel()

	results := make(chan backendResult, len(backends))
	for _, b := range backends {
		go func(b backend.Backend) {
			resp, err := o.invoke(callCtx, task, b)
			results <- backendResult{id: b.Info().ID, resp: resp, err: err}
		}(b)
	}

	received, failed := o.collect(callCtx, task, backends, results)
	cancel() // snapshot taken; abandon any stragglers

	if len(received) == 0 {
		observability.DispatchesTotal.WithLabelValues("all_failed").Inc()
		return core.FusedResult{}, fmt.Errorf("%w: task %s, %d backends", core.ErrAllBackendsFailed, task.ID, len(backends))
	}

	fused, err := o.opts.Fuser.Fuse(task.ID, received)
	if err != nil {
		// Unreachable with a non-empty response set; surfaced for safety.
		return core.FusedResult{}, err
	}
	fused.Failed = failed

	observability.DispatchesTotal.WithLabelValues("fused").Inc()
	observability.AgreementScore.Observe(fused.AgreementScore)
	o.opts.Logger.Info("dispatch fused",
		"task_id", task.ID,
		"agreement_score", fused.AgreementScore,
		"contributing", len(fused.Contributing),
		"failed", len(fused.Failed))

	o.cache(fused)
	return fused, nil
}

func (o *Orchestrator) validate(task core.Task, backends []backend.Backend) error {
	if err := task.Validate(time.Now()); err != nil {
		return err
	}
	if len(backends) == 0 {
		return fmt.Errorf("%w: no backends", core.ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		id := b.Info().ID
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate backend id %s", core.ErrInvalidRequest, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// invoke runs one backend call with a single retry on transient failure.
// Semantic rejections are returned immediately.
func (o *Orchestrator) invoke(ctx context.Context, task core.Task, b backend.Backend) (core.BackendResponse, error) {
	start := time.Now()
	resp, err := b.Invoke(ctx, task)
	if err == nil {
		o.logCall(b, start, nil)
		return resp, nil
	}
	if !core.IsTransient(err) || ctx.Err() != nil {
		o.logCall(b, start, err)
		return core.BackendResponse{}, err
	}

	timer := time.NewTimer(o.opts.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		o.logCall(b, start, err)
		return core.BackendResponse{}, err
	case <-timer.C:
	}

	resp, retryErr := b.Invoke(ctx, task)
	o.logCall(b, start, retryErr)
	if retryErr != nil {
		return core.BackendResponse{}, retryErr
	}
	return resp, nil
}

func (o *Orchestrator) logCall(b backend.Backend, start time.Time, err error) {
	if ml, ok := o.opts.Logger.(*logging.MeshLogger); ok {
		ml.LogBackendCall(b.Info().ID, time.Since(start), err == nil, err)
	} else if err != nil {
		o.opts.Logger.Warn("backend call failed", "backend", b.Info().ID, "error", err)
	}
}

// collect drains results until every backend reported or the deadline
// elapsed. The returned slices are a deadline-consistent snapshot: a response
// arriving after collect returns is never incorporated.
func (o *Orchestrator) collect(ctx context.Context, task core.Task, backends []backend.Backend, results <-chan backendResult) ([]core.BackendResponse, []string) {
	received := make(map[string]core.BackendResponse, len(backends))
	failed := make(map[string]struct{})

	timer := time.NewTimer(time.Until(task.Deadline.Add(-o.opts.SafetyMargin)))
	defer timer.Stop()

	pending := len(backends)
loop:
	for pending > 0 {
		select {
		case r := <-results:
			pending--
			if r.err != nil {
				failed[r.id] = struct{}{}
				observability.BackendCallsTotal.WithLabelValues(r.id, callOutcome(r.err)).Inc()
				continue
			}
			received[r.id] = r.resp
			observability.BackendCallsTotal.WithLabelValues(r.id, "ok").Inc()
		case <-timer.C:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	responses := make([]core.BackendResponse, 0, len(received))
	for _, resp := range received {
		responses = append(responses, resp)
	}

	// Slots with no verdict at the deadline are recorded as timed out, not
	// as errors.
	failedIDs := make([]string, 0, len(backends)-len(received))
	for _, b := range backends {
		id := b.Info().ID
		if _, ok := received[id]; ok {
			continue
		}
		if _, ok := failed[id]; !ok {
			observability.BackendCallsTotal.WithLabelValues(id, "timeout").Inc()
		}
		failedIDs = append(failedIDs, id)
	}
	sort.Strings(failedIDs)
	return responses, failedIDs
}

func callOutcome(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	if core.IsTransient(err) {
		return "transient"
	}
	return "rejected"
}

// cache stores the pointer-only CardRef of a fused result. Cache failures are
// logged, never surfaced; the dispatch already succeeded.
func (o *Orchestrator) cache(fused core.FusedResult) {
	if o.opts.Cards == nil {
		return
	}
	ref := core.NewCardRef(fused)
	data, err := json.Marshal(ref)
	if err != nil {
		o.opts.Logger.Warn("card ref marshal failed", "task_id", fused.TaskID, "error", err)
		return
	}
	if err := o.opts.Cards.Put(CardKey(fused.TaskID), data, o.opts.CacheTTL); err != nil {
		o.opts.Logger.Warn("card ref cache failed", "task_id", fused.TaskID, "error", err)
	}
}

// CardKey returns the smart-card key under which a task's fused CardRef is cached.
func CardKey(taskID string) string { return "fused:" + taskID }
