package mesh

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/backend"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/consensus"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/internal/testutil"
)

// meshTransport routes vote requests directly to in-process peer nodes.
type meshTransport struct {
	nodes map[string]*Node
}

func (t *meshTransport) RequestVote(ctx context.Context, peerID string, p core.Proposal) (core.Vote, error) {
	return t.nodes[peerID].HandleVoteRequest(ctx, p)
}

// newMesh wires n fully-connected in-process nodes with the given acceptors.
func newMesh(t *testing.T, acceptors map[string]AcceptorFunc) map[string]*Node {
	t.Helper()
	transport := &meshTransport{nodes: make(map[string]*Node)}
	ids := make([]string, 0, len(acceptors))
	for id := range acceptors {
		ids = append(ids, id)
	}
	for id, acceptor := range acceptors {
		node := NewNode(func(o *Options) {
			o.ID = id
			o.Transport = transport
			o.Acceptor = acceptor
			o.RoundTimeout = time.Second
		})
		for _, peer := range ids {
			if peer != id {
				node.Peers().Add(peer, "")
				node.Peers().Observe(peer)
			}
		}
		transport.nodes[id] = node
	}
	return transport.nodes
}

func TestSubmitProposal_CommitsAcrossMesh(t *testing.T) {
	nodes := newMesh(t, map[string]AcceptorFunc{
		"node-1": AcceptAll,
		"node-2": AcceptAll,
		"node-3": AcceptAll,
	})

	p, outcome, err := nodes["node-1"].SubmitProposal(context.Background(), json.RawMessage(`{"op":"set"}`))
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeCommitted, outcome)
	assert.Equal(t, "node-1", p.Proposer)
	assert.Equal(t, uint64(1), p.Term)

	// The proposer's tally stays stable afterwards.
	tallied, err := nodes["node-1"].Tally(p.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeCommitted, tallied)
}

func TestSubmitProposal_RejectedByMajority(t *testing.T) {
	rejectAll := func(core.Proposal) (bool, string) { return false, "not acceptable" }
	nodes := newMesh(t, map[string]AcceptorFunc{
		"node-1": AcceptAll,
		"node-2": rejectAll,
		"node-3": rejectAll,
	})

	_, outcome, err := nodes["node-1"].SubmitProposal(context.Background(), json.RawMessage(`{"op":"set"}`))
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeRejected, outcome)
}

func TestSubmitProposal_FreshTermPerProposal(t *testing.T) {
	nodes := newMesh(t, map[string]AcceptorFunc{
		"node-1": AcceptAll,
		"node-2": AcceptAll,
		"node-3": AcceptAll,
	})

	p1, _, err := nodes["node-1"].SubmitProposal(context.Background(), json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	p2, _, err := nodes["node-1"].SubmitProposal(context.Background(), json.RawMessage(`{"n":2}`))
	require.NoError(t, err)
	assert.Greater(t, p2.Term, p1.Term)
}

func TestHandleVoteRequest_AdoptsNewerTerm(t *testing.T) {
	node := NewNode(func(o *Options) { o.ID = "node-1" })
	node.Peers().Add("node-2", "")

	vote, err := node.HandleVoteRequest(context.Background(), testutil.NewProposal("p-1", "node-2", 7))
	require.NoError(t, err)
	assert.True(t, vote.Accept)
	assert.Equal(t, uint64(7), vote.Term)
	assert.Equal(t, "node-1", vote.Voter)

	// The proposer's term is adopted and the proposer observed as live.
	assert.Equal(t, uint64(7), node.CurrentTerm())
	assert.Contains(t, node.Peers().LivePeers(), "node-2")
}

func TestHandleVoteRequest_RejectionCarriesReason(t *testing.T) {
	node := NewNode(func(o *Options) {
		o.ID = "node-1"
		o.Acceptor = func(core.Proposal) (bool, string) { return false, "quota exceeded" }
	})

	vote, err := node.HandleVoteRequest(context.Background(), testutil.NewProposal("p-1", "node-2", 1))
	require.NoError(t, err)
	assert.False(t, vote.Accept)
	assert.Equal(t, "quota exceeded", vote.Reason)
}

func TestHandleVoteRequest_InvalidProposal(t *testing.T) {
	node := NewNode(func(o *Options) { o.ID = "node-1" })
	p := testutil.NewProposal("p-1", "node-2", 1)
	p.Payload = nil
	_, err := node.HandleVoteRequest(context.Background(), p)
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestObserveTerm_NeverDecreases(t *testing.T) {
	node := NewNode(func(o *Options) { o.ID = "node-1" })

	node.ObserveTerm(5)
	assert.Equal(t, uint64(5), node.CurrentTerm())

	node.ObserveTerm(3)
	assert.Equal(t, uint64(5), node.CurrentTerm())

	assert.Equal(t, uint64(6), node.NextTerm())
}

func TestReceiveVote_ObservesVoter(t *testing.T) {
	node := NewNode(func(o *Options) {
		o.ID = "node-1"
		o.Transport = consensus.TransportFunc(func(_ context.Context, _ string, _ core.Proposal) (core.Vote, error) {
			return core.Vote{}, context.DeadlineExceeded
		})
	})
	node.Peers().Add("node-2", "")

	require.NoError(t, node.Engine().Open(testutil.NewProposal("p-1", "node-2", 4)))
	require.NoError(t, node.ReceiveVote(testutil.Accept("p-1", "node-2", 4)))

	assert.Contains(t, node.Peers().LivePeers(), "node-2")
	assert.Equal(t, uint64(4), node.CurrentTerm())
}

func TestDispatchTask_UsesNodeBackends(t *testing.T) {
	answer := json.RawMessage(`{"text":"mesh answer"}`)
	node := NewNode(func(o *Options) {
		o.ID = "node-1"
		o.Backends = []backend.Backend{
			backend.NewMockBackend("mock-a").Respond("generate", answer),
			backend.NewMockBackend("mock-b").Respond("generate", answer),
		}
	})

	result, err := node.DispatchTask(context.Background(), testutil.Task("generate", 500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.AgreementScore)
	assert.Len(t, result.Contributing, 2)
}
