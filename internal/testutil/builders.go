package testutil

import (
	"encoding/json"
	"time"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
)

// ResponseBuilder constructs BackendResponses with sensible defaults.
type ResponseBuilder struct {
	resp core.BackendResponse
}

// NewResponse starts a builder for the given backend id.
func NewResponse(backendID string) *ResponseBuilder {
	return &ResponseBuilder{resp: core.BackendResponse{
		BackendID:  backendID,
		Payload:    json.RawMessage(`{"text":"ok"}`),
		Latency:    10 * time.Millisecond,
		ReceivedAt: time.Now(),
	}}
}

// WithPayload sets the response payload.
func (b *ResponseBuilder) WithPayload(payload string) *ResponseBuilder {
	b.resp.Payload = json.RawMessage(payload)
	return b
}

// WithLatency sets the response latency.
func (b *ResponseBuilder) WithLatency(d time.Duration) *ResponseBuilder {
	b.resp.Latency = d
	return b
}

// Build returns the assembled response.
func (b *ResponseBuilder) Build() core.BackendResponse { return b.resp }

// NewProposal constructs a proposal with a fixed id for deterministic tests.
func NewProposal(id, proposer string, term uint64) core.Proposal {
	return core.Proposal{
		ID:       id,
		Proposer: proposer,
		Term:     term,
		Payload:  json.RawMessage(`{"op":"set","key":"k","value":"v"}`),
		Created:  time.Now(),
	}
}

// Accept builds an accepting vote.
func Accept(proposalID, voter string, term uint64) core.Vote {
	return core.Vote{ProposalID: proposalID, Voter: voter, Term: term, Accept: true}
}

// Reject builds a rejecting vote.
func Reject(proposalID, voter string, term uint64, reason string) core.Vote {
	return core.Vote{ProposalID: proposalID, Voter: voter, Term: term, Accept: false, Reason: reason}
}

// Task constructs a valid task expiring after the given timeout.
func Task(kind string, timeout time.Duration) core.Task {
	return core.NewTask(kind, json.RawMessage(`{"prompt":"hello"}`), time.Now().Add(timeout))
}
