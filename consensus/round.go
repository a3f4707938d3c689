package consensus

import (
	"sync"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
)

// disposition classifies what the round did with an incoming vote. Used for
// logging and metrics only.
type disposition string

const (
	dispositionCounted   disposition = "counted"
	dispositionDuplicate disposition = "duplicate"
	dispositionStale     disposition = "stale"
	dispositionIgnored   disposition = "ignored" // round already terminal
)

// round holds the mutable tally for one proposal. Each round has its own
// mutex so unrelated proposals never contend; the engine map itself is the
// only other synchronization point.
//
// Invariants:
//   - outcome leaves OutcomePending exactly once; terminal states are final
//   - at most one counted vote per voter per term
//   - a vote with a newer term advances the round term and discards every
//     previously collected vote (term-fencing)
type round struct {
	mu       sync.Mutex
	proposal core.Proposal
	term     uint64
	votes    map[string]core.Vote
	outcome  core.Outcome
	decided  chan struct{}
}

func newRound(p core.Proposal) *round {
	return &round{
		proposal: p,
		term:     p.Term,
		votes:    make(map[string]core.Vote),
		outcome:  core.OutcomePending,
		decided:  make(chan struct{}),
	}
}

// receive applies one vote under the round lock and evaluates both quorums
// against the given threshold (strict majority of the configured peer set).
// It returns how the vote was treated and the outcome after application.
func (r *round) receive(v core.Vote, threshold int) (disposition, core.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outcome.Terminal() {
		return dispositionIgnored, r.outcome, nil
	}

	switch {
	case v.Term < r.term:
		return dispositionStale, r.outcome, core.ErrStaleVote
	case v.Term > r.term:
		// Term-fencing: a newer term invalidates every acceptance collected
		// under the old one.
		r.term = v.Term
		r.votes = make(map[string]core.Vote)
	}

	if _, dup := r.votes[v.Voter]; dup {
		// Same-term duplicates are idempotent; the first vote stands.
		return dispositionDuplicate, r.outcome, nil
	}
	r.votes[v.Voter] = v

	accepts, rejects := r.tallyLocked()
	switch {
	case accepts >= threshold:
		r.finalizeLocked(core.OutcomeCommitted)
	case rejects >= threshold:
		// Fail fast: no need to wait out the deadline once the reject quorum
		// is reached.
		r.finalizeLocked(core.OutcomeRejected)
	}
	return dispositionCounted, r.outcome, nil
}

// expire transitions a still-pending round to timed_out. Safe to call on an
// already-terminal round.
func (r *round) expire() core.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.outcome.Terminal() {
		r.finalizeLocked(core.OutcomeTimedOut)
	}
	return r.outcome
}

func (r *round) finalizeLocked(o core.Outcome) {
	r.outcome = o
	close(r.decided)
}

func (r *round) tallyLocked() (accepts, rejects int) {
	for _, v := range r.votes {
		if v.Accept {
			accepts++
		} else {
			rejects++
		}
	}
	return accepts, rejects
}

// snapshot returns the current term, counts and outcome for logging.
func (r *round) snapshot() (term uint64, accepts, rejects int, outcome core.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	accepts, rejects = r.tallyLocked()
	return r.term, accepts, rejects, r.outcome
}

// Outcome returns the round's current outcome.
func (r *round) Outcome() core.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}
