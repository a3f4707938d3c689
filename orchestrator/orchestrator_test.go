package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/backend"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/internal/testutil"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/smartcard"
)

func TestDispatch_AgreementWithOneSlowBackend(t *testing.T) {
	answer := json.RawMessage(`{"text":"42"}`)
	fast1 := backend.NewMockBackend("mock-a").Respond("generate", answer)
	fast2 := backend.NewMockBackend("mock-b").Respond("generate", answer)
	slow := backend.NewMockBackend("mock-c").Respond("generate", answer).WithDelay(2 * time.Second)

	o := New()
	task := testutil.Task("generate", 500*time.Millisecond)

	start := time.Now()
	result, err := o.Dispatch(context.Background(), task, []backend.Backend{fast1, fast2, slow})
	require.NoError(t, err)

	// The slow backend must not stretch the dispatch past the deadline.
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1.0, result.AgreementScore)
	assert.ElementsMatch(t, []string{"mock-a", "mock-b"}, result.Contributing)
	assert.Equal(t, []string{"mock-c"}, result.Failed)
	assert.Empty(t, result.Flags)
}

func TestDispatch_AllBackendsFail(t *testing.T) {
	cause := errors.New("boom")
	b1 := backend.NewMockBackend("mock-a").Reject("generate", cause)
	b2 := backend.NewMockBackend("mock-b").Reject("generate", cause)

	cards := smartcard.NewInMemoryStore()
	defer cards.Close()

	o := New(func(o *Options) { o.Cards = cards })
	task := testutil.Task("generate", 500*time.Millisecond)

	_, err := o.Dispatch(context.Background(), task, []backend.Backend{b1, b2})
	assert.ErrorIs(t, err, core.ErrAllBackendsFailed)

	// A failed dispatch must leave nothing behind in the card store.
	_, getErr := cards.Get(CardKey(task.ID))
	assert.ErrorIs(t, getErr, smartcard.ErrCardNotFound)
}

func TestDispatch_InvalidRequest(t *testing.T) {
	o := New()
	b := backend.NewMockBackend("mock-a")

	tests := []struct {
		name     string
		task     core.Task
		backends []backend.Backend
	}{
		{
			name:     "empty payload",
			task:     core.NewTask("generate", nil, time.Now().Add(time.Second)),
			backends: []backend.Backend{b},
		},
		{
			name:     "deadline in the past",
			task:     core.NewTask("generate", json.RawMessage(`{}`), time.Now().Add(-time.Second)),
			backends: []backend.Backend{b},
		},
		{
			name:     "no backends",
			task:     testutil.Task("generate", time.Second),
			backends: nil,
		},
		{
			name:     "duplicate backend ids",
			task:     testutil.Task("generate", time.Second),
			backends: []backend.Backend{backend.NewMockBackend("dup"), backend.NewMockBackend("dup")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Dispatch(context.Background(), tt.task, tt.backends)
			assert.ErrorIs(t, err, core.ErrInvalidRequest)
		})
	}

	// Validation failures never reach a backend.
	assert.Equal(t, 0, b.Calls())
}

func TestDispatch_TransientFailureRetriedOnce(t *testing.T) {
	b := backend.NewMockBackend("mock-a").FailTransient("generate", errors.New("connection reset"))

	o := New(func(o *Options) { o.RetryDelay = time.Millisecond })
	task := testutil.Task("generate", 500*time.Millisecond)

	_, err := o.Dispatch(context.Background(), task, []backend.Backend{b})
	assert.ErrorIs(t, err, core.ErrAllBackendsFailed)
	assert.Equal(t, 2, b.Calls())
}

func TestDispatch_RejectionNotRetried(t *testing.T) {
	b := backend.NewMockBackend("mock-a").Reject("generate", errors.New("content policy"))

	o := New(func(o *Options) { o.RetryDelay = time.Millisecond })
	task := testutil.Task("generate", 500*time.Millisecond)

	_, err := o.Dispatch(context.Background(), task, []backend.Backend{b})
	assert.ErrorIs(t, err, core.ErrAllBackendsFailed)
	assert.Equal(t, 1, b.Calls())
}

func TestDispatch_PartialFailureStillFuses(t *testing.T) {
	answer := json.RawMessage(`{"text":"ok"}`)
	good := backend.NewMockBackend("mock-a").Respond("generate", answer)
	bad := backend.NewMockBackend("mock-b").Reject("generate", errors.New("refused"))

	o := New()
	task := testutil.Task("generate", 500*time.Millisecond)

	result, err := o.Dispatch(context.Background(), task, []backend.Backend{good, bad})
	require.NoError(t, err)

	assert.Equal(t, []string{"mock-a"}, result.Contributing)
	assert.Equal(t, []string{"mock-b"}, result.Failed)
	assert.True(t, result.HasFlag(core.FlagUnverified))
}

func TestDispatch_CachesCardRefOnly(t *testing.T) {
	answer := json.RawMessage(`{"text":"cached answer"}`)
	b1 := backend.NewMockBackend("mock-a").Respond("generate", answer)
	b2 := backend.NewMockBackend("mock-b").Respond("generate", answer)

	cards := smartcard.NewInMemoryStore()
	defer cards.Close()

	o := New(func(o *Options) {
		o.Cards = cards
		o.CacheTTL = time.Minute
	})
	task := testutil.Task("generate", 500*time.Millisecond)

	result, err := o.Dispatch(context.Background(), task, []backend.Backend{b1, b2})
	require.NoError(t, err)

	data, err := cards.Get(CardKey(task.ID))
	require.NoError(t, err)

	var ref core.CardRef
	require.NoError(t, json.Unmarshal(data, &ref))
	assert.Equal(t, task.ID, ref.TaskID)
	assert.Equal(t, result.AgreementScore, ref.AgreementScore)
	assert.NotEmpty(t, ref.PayloadDigest)

	// The cache holds the digest, never the payload itself.
	assert.NotContains(t, string(data), "cached answer")
}

func TestDispatch_CancelledContext(t *testing.T) {
	slow := backend.NewMockBackend("mock-a").WithDelay(time.Second)

	o := New()
	task := testutil.Task("generate", 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Dispatch(ctx, task, []backend.Backend{slow})
	assert.ErrorIs(t, err, core.ErrAllBackendsFailed)
}
