// Package server implements the HTTP/JSON boundary in front of a mesh node:
// task dispatch, proposal submission, node-to-node vote exchange and the
// usual health/readiness/status/metrics endpoints. The wire format is a
// boundary concern; the engines only ever see core types.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/logging"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/mesh"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/orchestrator"
)

// Version is reported by the health and status endpoints.
const Version = "2.0.0"

// Options configures a Server.
type Options struct {
	// Cards, when set, lets GET /api/v1/cards/{task_id} serve cached
	// fused-result references.
	Cards core.CardStore

	// DefaultTaskTimeout applies when a task request carries no deadline.
	DefaultTaskTimeout time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Server exposes one mesh node over HTTP.
type Server struct {
	node *mesh.Node
	opts Options
	mux  *http.ServeMux
}

// New builds the handler for a node.
func New(node *mesh.Node, optFns ...func(o *Options)) *Server {
	opts := Options{
		DefaultTaskTimeout: 10 * time.Second,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{node: node, opts: opts, mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/v1/tasks", s.handleDispatch)
	s.mux.HandleFunc("POST /api/v1/proposals", s.handlePropose)
	s.mux.HandleFunc("POST /api/v1/votes", s.handleVotePush)
	s.mux.HandleFunc("POST /api/v1/votes/request", s.handleVoteRequest)
	s.mux.HandleFunc("GET /api/v1/cards/{task_id}", s.handleCard)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "kenpire-mesh",
		"version": Version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"systems": map[string]string{
			"orchestrator": "operational",
			"consensus":    "operational",
			"smart_cards":  "operational",
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"node_id":      s.node.ID(),
		"current_term": s.node.CurrentTerm(),
		"configured":   s.node.Peers().ConfiguredPeers(),
		"live":         s.node.Peers().LivePeers(),
		"peers":        s.node.Peers().Snapshot(),
	}
	writeJSON(w, http.StatusOK, status)
}

// taskRequest is the dispatch wire shape. Deadline is expressed as a timeout
// so clock skew between client and node never shortens the budget.
type taskRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Timeout string          `json:"timeout,omitempty"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed task request")
		return
	}

	timeout := s.opts.DefaultTaskTimeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = d
	}

	task := core.NewTask(req.Kind, req.Payload, time.Now().Add(timeout))
	result, err := s.node.DispatchTask(r.Context(), task)
	if err != nil {
		s.opts.Logger.Warn("dispatch failed", "task_id", task.ID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// proposalRequest is the submission wire shape; id, proposer and term are
// assigned by this node.
type proposalRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// proposalResponse pairs the created proposal with its terminal outcome so
// callers can distinguish rejected from timed_out without a second call.
type proposalResponse struct {
	Proposal core.Proposal `json:"proposal"`
	Outcome  core.Outcome  `json:"outcome"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed proposal request")
		return
	}

	p, outcome, err := s.node.SubmitProposal(r.Context(), req.Payload)
	if err != nil {
		s.opts.Logger.Warn("proposal failed", "proposal_id", p.ID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, proposalResponse{Proposal: p, Outcome: outcome})
}

func (s *Server) handleVotePush(w http.ResponseWriter, r *http.Request) {
	var v core.Vote
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed vote")
		return
	}

	err := s.node.ReceiveVote(v)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "counted"})
	case errors.Is(err, core.ErrStaleVote):
		// Stale votes are expected during term changes; not an error for
		// the sender.
		writeJSON(w, http.StatusOK, map[string]string{"status": "stale"})
	case errors.Is(err, core.ErrUnknownProposal):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleVoteRequest(w http.ResponseWriter, r *http.Request) {
	var p core.Proposal
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed proposal")
		return
	}

	vote, err := s.node.HandleVoteRequest(r.Context(), p)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, vote)
}

// handleCard serves the cached CardRef of a fused dispatch. The cache holds
// pointers and digests only, so the response never includes the fused payload.
func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	if s.opts.Cards == nil {
		writeError(w, http.StatusNotFound, "card cache disabled")
		return
	}
	taskID := r.PathValue("task_id")
	data, err := s.opts.Cards.Get(orchestrator.CardKey(taskID))
	if err != nil {
		writeError(w, http.StatusNotFound, "card not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrAllBackendsFailed):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrUnknownProposal):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateProposal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
