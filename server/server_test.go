package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/backend"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/internal/testutil"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/mesh"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/orchestrator"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/smartcard"
)

// newTestServer builds a standalone single-node server: quorum 1, so
// proposals commit on the proposer's own vote.
func newTestServer(t *testing.T) (*Server, *mesh.Node, *smartcard.InMemoryStore) {
	t.Helper()
	cards := smartcard.NewInMemoryStore()
	t.Cleanup(cards.Close)

	answer := json.RawMessage(`{"text":"server answer"}`)
	orch := orchestrator.New(func(o *orchestrator.Options) {
		o.Cards = cards
	})
	node := mesh.NewNode(func(o *mesh.Options) {
		o.ID = "node-1"
		o.RoundTimeout = time.Second
		o.Orchestrator = orch
		o.Backends = []backend.Backend{
			backend.NewMockBackend("mock-a").Respond("generate", answer),
			backend.NewMockBackend("mock-b").Respond("generate", answer),
		}
	})
	srv := New(node, func(o *Options) { o.Cards = cards })
	return srv, node, cards
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, Version, health["version"])

	rec = doJSON(t, srv, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	srv, node, _ := newTestServer(t)
	node.Peers().Add("node-2", "10.0.0.2:8080")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		NodeID     string   `json:"node_id"`
		Configured []string `json:"configured"`
		Live       []string `json:"live"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "node-1", status.NodeID)
	assert.Equal(t, []string{"node-1", "node-2"}, status.Configured)
	assert.Equal(t, []string{"node-1"}, status.Live)
}

func TestDispatchEndpoint(t *testing.T) {
	srv, _, cards := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/tasks",
		`{"kind":"generate","payload":{"prompt":"hello"},"timeout":"2s"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result core.FusedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1.0, result.AgreementScore)
	assert.Len(t, result.Contributing, 2)

	// The dispatch left a CardRef behind, retrievable over the cards endpoint.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/cards/"+result.TaskID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ref core.CardRef
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ref))
	assert.Equal(t, result.TaskID, ref.TaskID)
	assert.NotContains(t, rec.Body.String(), "server answer")

	// Sanity: same content as a direct store read.
	_, err := cards.Get(orchestrator.CardKey(result.TaskID))
	assert.NoError(t, err)
}

func TestDispatchEndpoint_BadRequests(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/tasks", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/tasks",
		`{"kind":"generate","payload":{"prompt":"x"},"timeout":"-1s"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing kind fails task validation before any backend call.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/tasks", `{"payload":{"prompt":"x"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProposeEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/proposals", `{"payload":{"op":"set"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Proposal core.Proposal `json:"proposal"`
		Outcome  core.Outcome  `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, core.OutcomeCommitted, resp.Outcome)
	assert.Equal(t, "node-1", resp.Proposal.Proposer)
}

func TestVoteRequestEndpoint(t *testing.T) {
	srv, node, _ := newTestServer(t)
	node.Peers().Add("node-2", "10.0.0.2:8080")

	p := testutil.NewProposal("p-1", "node-2", 3)
	body, err := json.Marshal(p)
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/votes/request", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var vote core.Vote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vote))
	assert.True(t, vote.Accept)
	assert.Equal(t, "node-1", vote.Voter)
	assert.Equal(t, uint64(3), vote.Term)

	// Handling the request observed the proposer and adopted its term.
	assert.Contains(t, node.Peers().LivePeers(), "node-2")
	assert.Equal(t, uint64(3), node.CurrentTerm())
}

func TestVotePushEndpoint(t *testing.T) {
	srv, node, _ := newTestServer(t)
	node.Peers().Add("node-2", "10.0.0.2:8080")

	require.NoError(t, node.Engine().Open(testutil.NewProposal("p-1", "node-2", 2)))

	push := func(v core.Vote) *httptest.ResponseRecorder {
		body, err := json.Marshal(v)
		require.NoError(t, err)
		return doJSON(t, srv, http.MethodPost, "/api/v1/votes", string(body))
	}

	rec := push(testutil.Accept("p-1", "node-2", 2))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "counted")

	// A stale-term vote is acknowledged, not treated as a sender error.
	rec = push(testutil.Accept("p-1", "node-2", 1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stale")

	rec = push(testutil.Accept("unknown", "node-2", 2))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCardEndpoint_Missing(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/cards/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
