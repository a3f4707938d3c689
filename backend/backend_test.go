package backend

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
)

func newTask(kind string, payload string) core.Task {
	return core.NewTask(kind, json.RawMessage(payload), time.Now().Add(time.Second))
}

func TestMockBackend_EchoesUnscriptedKinds(t *testing.T) {
	m := NewMockBackend("mock-1")

	resp, err := m.Invoke(context.Background(), newTask("anything", `{"prompt":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "mock-1", resp.BackendID)
	assert.JSONEq(t, `{"prompt":"hi"}`, string(resp.Payload))
	assert.Equal(t, 1, m.Calls())
}

func TestMockBackend_ScriptedBehaviors(t *testing.T) {
	m := NewMockBackend("mock-1").
		Respond("good", json.RawMessage(`{"text":"ok"}`)).
		FailTransient("flaky", errors.New("reset")).
		Reject("bad", errors.New("policy"))

	resp, err := m.Invoke(context.Background(), newTask("good", `{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"ok"}`, string(resp.Payload))

	_, err = m.Invoke(context.Background(), newTask("flaky", `{}`))
	assert.True(t, core.IsTransient(err))

	_, err = m.Invoke(context.Background(), newTask("bad", `{}`))
	require.Error(t, err)
	assert.False(t, core.IsTransient(err))
}

func TestMockBackend_DelayInterruptedByContext(t *testing.T) {
	m := NewMockBackend("mock-1").WithDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Invoke(ctx, newTask("slow", `{}`))
	assert.True(t, core.IsTransient(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTextPrompt(t *testing.T) {
	prompt, err := TextPrompt(newTask("generate", `{"prompt":"explain quorums"}`))
	require.NoError(t, err)
	assert.Equal(t, "explain quorums", prompt)

	prompt, err = TextPrompt(newTask("generate", `"bare string prompt"`))
	require.NoError(t, err)
	assert.Equal(t, "bare string prompt", prompt)

	_, err = TextPrompt(newTask("generate", `{"other":"field"}`))
	assert.Error(t, err)
}

func TestTextResponse(t *testing.T) {
	start := time.Now().Add(-10 * time.Millisecond)
	resp, err := TextResponse("b1", "an answer", start)
	require.NoError(t, err)

	assert.Equal(t, "b1", resp.BackendID)
	assert.JSONEq(t, `{"text":"an answer"}`, string(resp.Payload))
	assert.GreaterOrEqual(t, resp.Latency, 10*time.Millisecond)
}
