// Package fuser reconciles divergent backend responses into a single fused
// result with an agreement score. Responses are grouped into semantic
// equivalence classes by a caller-pluggable comparison function; the majority
// class wins, with a deterministic latency / backend-id tie-break so fusion
// is reproducible for identical inputs.
package fuser

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
)

// EquivalenceFunc reports whether two response payloads carry the same
// semantic answer. The comparison must be symmetric.
type EquivalenceFunc func(a, b json.RawMessage) bool

// ByteEquality is the default equivalence: payloads are equal iff their
// canonical bytes match. Sufficient for structured payloads produced by the
// backend adapters; callers fusing free-form text should supply a similarity
// function instead.
func ByteEquality(a, b json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
}

// Options configures a Fuser.
type Options struct {
	// Equivalence groups responses into agreement classes. Defaults to
	// ByteEquality.
	Equivalence EquivalenceFunc
}

// Fuser computes fused results from backend response sets.
type Fuser struct {
	opts Options
}

// New creates a Fuser with optional overrides.
func New(optFns ...func(o *Options)) *Fuser {
	opts := Options{Equivalence: ByteEquality}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Equivalence == nil {
		opts.Equivalence = ByteEquality
	}
	return &Fuser{opts: opts}
}

// Fuse computes the fused result for the responses that arrived within the
// dispatch deadline. Zero responses is a terminal failure (ErrNoResponses);
// the caller records failed and timed-out backends separately.
func (f *Fuser) Fuse(taskID string, responses []core.BackendResponse) (core.FusedResult, error) {
	if len(responses) == 0 {
		return core.FusedResult{}, core.ErrNoResponses
	}

	classes := f.classify(responses)
	winner := pickWinner(classes)
	best := bestResponse(winner)

	contributing := make([]string, 0, len(responses))
	for _, r := range responses {
		contributing = append(contributing, r.BackendID)
	}
	sort.Strings(contributing)

	result := core.FusedResult{
		TaskID:         taskID,
		Payload:        best.Payload,
		AgreementScore: float64(len(winner)) / float64(len(responses)),
		Contributing:   contributing,
	}

	switch {
	case len(responses) == 1:
		// Trivial majority: confident in itself, but no cross-check occurred.
		result.AgreementScore = 1.0
		result.Flags = append(result.Flags, core.FlagUnverified)
	case len(winner) == 1:
		// Two or more responders, none agreeing.
		result.Flags = append(result.Flags, core.FlagLowConfidence)
	}

	return result, nil
}

// classify performs greedy single-linkage grouping: each response joins the
// first class whose representative it is equivalent to.
func (f *Fuser) classify(responses []core.BackendResponse) [][]core.BackendResponse {
	var classes [][]core.BackendResponse
outer:
	for _, r := range responses {
		for i, class := range classes {
			if f.opts.Equivalence(class[0].Payload, r.Payload) {
				classes[i] = append(classes[i], r)
				continue outer
			}
		}
		classes = append(classes, []core.BackendResponse{r})
	}
	return classes
}

// pickWinner selects the largest class; ties prefer the class containing the
// lowest-latency response, then the lexicographically lowest backend id.
// The ordering is total, keeping fusion deterministic.
func pickWinner(classes [][]core.BackendResponse) []core.BackendResponse {
	winner := classes[0]
	for _, class := range classes[1:] {
		switch {
		case len(class) > len(winner):
			winner = class
		case len(class) == len(winner):
			if responseLess(bestResponse(class), bestResponse(winner)) {
				winner = class
			}
		}
	}
	return winner
}

// bestResponse returns the class representative used for the fused payload:
// lowest latency first, backend id as the final deterministic tie-break.
func bestResponse(class []core.BackendResponse) core.BackendResponse {
	best := class[0]
	for _, r := range class[1:] {
		if responseLess(r, best) {
			best = r
		}
	}
	return best
}

func responseLess(a, b core.BackendResponse) bool {
	if a.Latency != b.Latency {
		return a.Latency < b.Latency
	}
	return a.BackendID < b.BackendID
}
