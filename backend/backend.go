// Package backend defines the uniform capability interface behind which all
// model providers are plugged into the orchestrator, plus a deterministic
// MockBackend for tests and examples. Concrete adapters live in subpackages
// (anthropic, openai); the set of active backends is chosen at startup, no
// runtime code loading is involved.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
)

// Info contains metadata about a backend implementation.
type Info struct {
	ID       string `json:"id"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
	Model    string `json:"model"`
}

// Backend is the capability interface consumed by the orchestrator: submit a
// task, get a response or a failure within the context deadline. The
// orchestrator treats failure-to-respond-by-deadline identically regardless
// of cause.
//
// Implementations must classify their failures via core.BackendError so the
// orchestrator can distinguish transient faults (retried once) from semantic
// rejections (never retried).
type Backend interface {
	// Invoke submits the task and blocks until a response, a failure, or
	// ctx expiry.
	Invoke(ctx context.Context, task core.Task) (core.BackendResponse, error)

	// Info returns metadata describing this backend.
	Info() Info
}

// mockScript is the canned behavior for one MockBackend invocation.
type mockScript struct {
	payload json.RawMessage
	err     error
	delay   time.Duration
}

// MockBackend is a deterministic in-process Backend useful for tests and
// examples. Behavior is scripted per task kind; unscripted kinds echo the
// task payload after the default delay.
type MockBackend struct {
	mu      sync.Mutex
	info    Info
	scripts map[string]mockScript
	delay   time.Duration
	calls   int
}

// NewMockBackend constructs a MockBackend with the given id.
func NewMockBackend(id string) *MockBackend {
	return &MockBackend{
		info:    Info{ID: id, Provider: "mock", Model: "mock-1"},
		scripts: make(map[string]mockScript),
	}
}

// WithDelay sets the artificial latency applied to every invocation.
func (m *MockBackend) WithDelay(d time.Duration) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Respond scripts a successful payload for the given task kind.
func (m *MockBackend) Respond(kind string, payload json.RawMessage) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[kind] = mockScript{payload: payload}
	return m
}

// FailTransient scripts a retryable failure for the given task kind.
func (m *MockBackend) FailTransient(kind string, cause error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[kind] = mockScript{err: core.NewTransientBackendError(m.info.ID, cause)}
	return m
}

// Reject scripts a semantic rejection for the given task kind.
func (m *MockBackend) Reject(kind string, cause error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[kind] = mockScript{err: core.NewBackendRejection(m.info.ID, cause)}
	return m
}

// Calls returns how many invocations this backend has served.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Invoke implements Backend. The scripted delay is interruptible by ctx so
// deadline tests observe real cancellation.
func (m *MockBackend) Invoke(ctx context.Context, task core.Task) (core.BackendResponse, error) {
	m.mu.Lock()
	m.calls++
	script, scripted := m.scripts[task.Kind]
	delay := m.delay
	if script.delay > 0 {
		delay = script.delay
	}
	m.mu.Unlock()

	start := time.Now()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return core.BackendResponse{}, core.NewTransientBackendError(m.info.ID, ctx.Err())
		case <-timer.C:
		}
	}

	if scripted && script.err != nil {
		return core.BackendResponse{}, script.err
	}

	payload := task.Payload
	if scripted {
		payload = script.payload
	}
	return core.BackendResponse{
		BackendID:  m.info.ID,
		Payload:    payload,
		Latency:    time.Since(start),
		ReceivedAt: time.Now(),
	}, nil
}

// Info implements Backend.
func (m *MockBackend) Info() Info { return m.info }

// TextPrompt extracts the "prompt" field from a task payload of the form
// {"prompt": "..."} used by the provider adapters. Falls back to the raw
// payload string for free-form payloads.
func TextPrompt(task core.Task) (string, error) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(task.Payload, &body); err == nil && body.Prompt != "" {
		return body.Prompt, nil
	}
	var text string
	if err := json.Unmarshal(task.Payload, &text); err == nil && text != "" {
		return text, nil
	}
	return "", fmt.Errorf("task %s: payload carries no prompt", task.ID)
}

// TextResponse packages a provider completion as a backend response payload
// of the form {"text": "..."} so fusion compares like with like.
func TextResponse(backendID, text string, start time.Time) (core.BackendResponse, error) {
	payload, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return core.BackendResponse{}, err
	}
	return core.BackendResponse{
		BackendID:  backendID,
		Payload:    payload,
		Latency:    time.Since(start),
		ReceivedAt: time.Now(),
	}, nil
}
