package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Proposal is an arbitrary canonical-state mutation submitted to the mesh for
// agreement. Immutable after creation.
type Proposal struct {
	ID       string          `json:"id"`
	Proposer string          `json:"proposer"`
	Term     uint64          `json:"term"`
	Payload  json.RawMessage `json:"payload"`
	Created  time.Time       `json:"created"`
}

// NewProposal creates a proposal with a generated id.
func NewProposal(proposer string, term uint64, payload json.RawMessage) Proposal {
	return Proposal{
		ID:       uuid.NewString(),
		Proposer: proposer,
		Term:     term,
		Payload:  payload,
		Created:  time.Now(),
	}
}

// Validate checks the constraints a round requires before solicitation starts.
func (p Proposal) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing proposal id", ErrInvalidRequest)
	}
	if p.Proposer == "" {
		return fmt.Errorf("%w: missing proposer", ErrInvalidRequest)
	}
	if len(p.Payload) == 0 {
		return fmt.Errorf("%w: empty proposal payload", ErrInvalidRequest)
	}
	return nil
}

// Vote is one node's decision on a proposal in a specific term. At most one
// vote per (proposal, voter, term) is counted; same-term duplicates are
// ignored by the engine.
type Vote struct {
	ProposalID string `json:"proposal_id"`
	Voter      string `json:"voter"`
	Term       uint64 `json:"term"`
	Accept     bool   `json:"accept"`
	Reason     string `json:"reason,omitempty"`
}

// Outcome is the terminal-state machine of a consensus round. A round leaves
// OutcomePending exactly once; all other states are terminal.
type Outcome string

const (
	// OutcomePending means the round has not been decided yet.
	OutcomePending Outcome = "pending"
	// OutcomeCommitted means a strict majority of the configured peer set accepted.
	OutcomeCommitted Outcome = "committed"
	// OutcomeRejected means a strict majority of the configured peer set rejected.
	OutcomeRejected Outcome = "rejected"
	// OutcomeTimedOut means the round deadline elapsed without either quorum.
	OutcomeTimedOut Outcome = "timed_out"
)

// Terminal reports whether the outcome permits no further transitions.
func (o Outcome) Terminal() bool { return o != OutcomePending }
