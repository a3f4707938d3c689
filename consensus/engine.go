// Package consensus implements the quorum-based agreement protocol run
// between mesh nodes. One round exists per proposal; a round commits when a
// strict majority of the configured peer set accepts in the current term,
// rejects as soon as a strict majority rejects, and times out otherwise.
// Votes tagged with an older term are discarded; a newer term fences off and
// resets everything collected so far. Undeliverable votes count as
// abstentions, never as rejections.
package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/logging"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/observability"
)

// Options configures an Engine.
type Options struct {
	// Self is this node's id. It is counted as a voter like any peer.
	Self string

	// Peers supplies the configured and live peer sets.
	Peers PeerView

	// Transport solicits votes from peers. Required for rounds this node
	// proposes; an engine that only receives votes may leave it nil.
	Transport Transport

	// RoundTimeout bounds each round. A round undecided at its deadline
	// transitions to timed_out.
	RoundTimeout time.Duration

	// MaxRetries bounds vote delivery attempts per peer; exhaustion is an
	// abstention.
	MaxRetries int

	// RetryBase and RetryMax shape the exponential backoff between attempts.
	RetryBase time.Duration
	RetryMax  time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Engine runs consensus rounds. Rounds for unrelated proposals proceed fully
// in parallel; the engine-level lock only guards the round registry.
type Engine struct {
	mu     sync.RWMutex
	rounds map[string]*round
	opts   Options
}

// NewEngine creates a consensus engine.
func NewEngine(optFns ...func(o *Options)) *Engine {
	opts := Options{
		RoundTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBase:    100 * time.Millisecond,
		RetryMax:     time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Engine{rounds: make(map[string]*round), opts: opts}
}

// quorum returns the strict-majority threshold over the configured peer set.
// Using the configured (not merely live) count guarantees at most one
// partition can ever reach quorum for a term.
func (e *Engine) quorum() int {
	return len(e.opts.Peers.ConfiguredPeers())/2 + 1
}

// Propose opens a round for the proposal, solicits votes from live peers and
// blocks until the round reaches a terminal outcome or its deadline elapses.
// The proposer's own accept is counted immediately.
func (e *Engine) Propose(ctx context.Context, p core.Proposal) (core.Outcome, error) {
	if err := p.Validate(); err != nil {
		return core.OutcomePending, err
	}

	deadline := time.Now().Add(e.opts.RoundTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	r := newRound(p)

	e.mu.Lock()
	if _, exists := e.rounds[p.ID]; exists {
		e.mu.Unlock()
		return core.OutcomePending, fmt.Errorf("%w: %s", core.ErrDuplicateProposal, p.ID)
	}
	e.rounds[p.ID] = r
	e.mu.Unlock()

	// The proposer votes for its own proposal.
	if err := e.ReceiveVote(core.Vote{ProposalID: p.ID, Voter: e.opts.Self, Term: p.Term, Accept: true}); err != nil {
		return core.OutcomePending, err
	}

	solicitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	if e.opts.Transport == nil {
		// Receive-only engine: the round still runs on pushed votes and
		// reaches a terminal outcome at its deadline.
		e.opts.Logger.Warn("no transport configured, skipping vote solicitation", "proposal_id", p.ID)
	} else {
		for _, peerID := range e.opts.Peers.LivePeers() {
			if peerID == e.opts.Self {
				continue
			}
			go e.solicit(solicitCtx, peerID, p)
		}
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-r.decided:
	case <-timer.C:
		r.expire()
	case <-ctx.Done():
		r.expire()
	}

	outcome := r.Outcome()
	term, accepts, rejects, _ := r.snapshot()
	observability.ConsensusRoundsTotal.WithLabelValues(string(outcome)).Inc()
	e.logRound(p.ID, term, outcome, accepts, rejects)
	return outcome, nil
}

// solicit requests one peer's vote with bounded retries. Exhausted delivery
// is an abstention: logged, never a reject.
func (e *Engine) solicit(ctx context.Context, peerID string, p core.Proposal) {
	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxRetries; attempt++ {
		vote, err := e.opts.Transport.RequestVote(ctx, peerID, p)
		if err == nil {
			if rvErr := e.ReceiveVote(vote); rvErr != nil {
				e.opts.Logger.Debug("solicited vote discarded", "peer", peerID, "proposal_id", p.ID, "error", rvErr)
			}
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		timer := time.NewTimer(backoffDelay(e.opts.RetryBase, e.opts.RetryMax, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	observability.VotesTotal.WithLabelValues("abstained").Inc()
	e.opts.Logger.Warn("vote undeliverable, counting abstention", "peer", peerID, "proposal_id", p.ID, "error", lastErr)
}

// ReceiveVote applies a vote arriving from a peer (or from this node itself).
// Stale votes return ErrStaleVote; duplicates and votes for already-terminal
// rounds are silently idempotent. A vote that decides the round unblocks the
// waiting Propose call.
func (e *Engine) ReceiveVote(v core.Vote) error {
	e.mu.RLock()
	r, ok := e.rounds[v.ProposalID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownProposal, v.ProposalID)
	}

	disp, outcome, err := r.receive(v, e.quorum())
	observability.VotesTotal.WithLabelValues(string(disp)).Inc()
	if err != nil {
		e.opts.Logger.Debug("vote discarded", "proposal_id", v.ProposalID, "voter", v.Voter, "term", v.Term, "disposition", string(disp))
		return err
	}
	if outcome.Terminal() && disp == dispositionCounted {
		term, accepts, rejects, _ := r.snapshot()
		e.opts.Logger.Debug("round decided by vote", "proposal_id", v.ProposalID, "term", term, "outcome", string(outcome), "accepts", accepts, "rejects", rejects)
	}
	return nil
}

// Tally returns the round's current outcome. Calling Tally repeatedly on a
// terminal round returns the same outcome every time.
func (e *Engine) Tally(proposalID string) (core.Outcome, error) {
	e.mu.RLock()
	r, ok := e.rounds[proposalID]
	e.mu.RUnlock()
	if !ok {
		return core.OutcomePending, fmt.Errorf("%w: %s", core.ErrUnknownProposal, proposalID)
	}
	return r.Outcome(), nil
}

// Open registers a round for a proposal received from a remote proposer so
// that this node can tally pushed votes for it. The round expires on its own
// deadline; no votes are solicited.
func (e *Engine) Open(p core.Proposal) error {
	if err := p.Validate(); err != nil {
		return err
	}
	deadline := time.Now().Add(e.opts.RoundTimeout)
	r := newRound(p)

	e.mu.Lock()
	if _, exists := e.rounds[p.ID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrDuplicateProposal, p.ID)
	}
	e.rounds[p.ID] = r
	e.mu.Unlock()

	go func() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		select {
		case <-r.decided:
		case <-timer.C:
			r.expire()
		}
	}()
	return nil
}

func (e *Engine) logRound(proposalID string, term uint64, outcome core.Outcome, accepts, rejects int) {
	if ml, ok := e.opts.Logger.(*logging.MeshLogger); ok {
		ml.LogConsensusRound(proposalID, term, string(outcome), accepts, rejects)
		return
	}
	e.opts.Logger.Info("consensus round finished",
		"proposal_id", proposalID,
		"term", term,
		"outcome", string(outcome),
		"accepts", accepts,
		"rejects", rejects)
}
