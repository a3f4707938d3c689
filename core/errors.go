package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates malformed or empty caller input. It is
	// returned before any backend or peer is contacted and is never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAllBackendsFailed indicates that every backend in a dispatch failed
	// or timed out, leaving no responses to fuse.
	ErrAllBackendsFailed = errors.New("all backends failed")

	// ErrNoResponses is returned by fusion when invoked with zero responses.
	// A FusedResult is never fabricated from nothing.
	ErrNoResponses = errors.New("no responses to fuse")

	// ErrStaleVote indicates a vote carrying a term older than the round's
	// current term. Stale votes are logged and discarded, never fatal.
	ErrStaleVote = errors.New("stale vote")

	// ErrUnknownProposal indicates a vote or tally for a proposal this node
	// has no round for.
	ErrUnknownProposal = errors.New("unknown proposal")

	// ErrDuplicateProposal indicates a proposal id that already has a round.
	ErrDuplicateProposal = errors.New("duplicate proposal")
)

// BackendError wraps a failure reported by (or on behalf of) a single model
// backend. Transient failures (network errors, timeouts) are retried once by
// the orchestrator; semantic rejections are not.
type BackendError struct {
	BackendID string
	Transient bool
	Err       error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	kind := "rejected"
	if e.Transient {
		kind = "transient failure"
	}
	return fmt.Sprintf("backend %s: %s: %v", e.BackendID, kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *BackendError) Unwrap() error { return e.Err }

// NewTransientBackendError marks a retryable backend failure.
func NewTransientBackendError(backendID string, err error) *BackendError {
	return &BackendError{BackendID: backendID, Transient: true, Err: err}
}

// NewBackendRejection marks a semantic rejection that must not be retried.
func NewBackendRejection(backendID string, err error) *BackendError {
	return &BackendError{BackendID: backendID, Transient: false, Err: err}
}

// IsTransient reports whether err is a backend failure worth one retry.
// Errors that do not classify themselves via BackendError are treated as
// semantic rejections and never retried.
func IsTransient(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient
	}
	return false
}
