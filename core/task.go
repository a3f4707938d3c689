package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task is an immutable unit of cognitive work submitted to the orchestrator.
// The payload is opaque to the core; backends interpret it by Kind.
type Task struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	Deadline time.Time       `json:"deadline"`
}

// NewTask creates a task with a generated id and the given deadline.
func NewTask(kind string, payload json.RawMessage, deadline time.Time) Task {
	return Task{ID: uuid.NewString(), Kind: kind, Payload: payload, Deadline: deadline}
}

// Validate checks the constraints every dispatch requires before any backend
// is contacted. Violations surface as ErrInvalidRequest.
func (t Task) Validate(now time.Time) error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing task id", ErrInvalidRequest)
	}
	if t.Kind == "" {
		return fmt.Errorf("%w: missing task kind", ErrInvalidRequest)
	}
	if len(t.Payload) == 0 {
		return fmt.Errorf("%w: empty task payload", ErrInvalidRequest)
	}
	if !t.Deadline.After(now) {
		return fmt.Errorf("%w: deadline not in the future", ErrInvalidRequest)
	}
	return nil
}

// BackendResponse is a single backend's answer to a task. It is owned
// exclusively by the dispatch that requested it and discarded after fusion.
type BackendResponse struct {
	BackendID  string          `json:"backend_id"`
	Payload    json.RawMessage `json:"payload"`
	Latency    time.Duration   `json:"latency"`
	ReceivedAt time.Time       `json:"received_at"`
}

// ResultFlag annotates a FusedResult with a confidence caveat.
type ResultFlag string

const (
	// FlagLowConfidence marks a fusion where two or more backends responded
	// but no two of them agreed.
	FlagLowConfidence ResultFlag = "low_confidence"

	// FlagUnverified marks a fusion backed by a single response, where no
	// cross-check between backends occurred.
	FlagUnverified ResultFlag = "unverified"
)

// FusedResult is the reconciled outcome of one dispatch. The agreement score
// is defined only over backends that responded within the deadline.
type FusedResult struct {
	TaskID         string          `json:"task_id"`
	Payload        json.RawMessage `json:"payload"`
	AgreementScore float64         `json:"agreement_score"`
	Contributing   []string        `json:"contributing"`
	Failed         []string        `json:"failed,omitempty"`
	Flags          []ResultFlag    `json:"flags,omitempty"`
}

// HasFlag reports whether the result carries the given flag.
func (r FusedResult) HasFlag(f ResultFlag) bool {
	for _, flag := range r.Flags {
		if flag == f {
			return true
		}
	}
	return false
}
