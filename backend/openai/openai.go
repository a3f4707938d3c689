// Package openai provides a backend adapter using the OpenAI Chat Completions
// API. It submits the task prompt as a single user message and returns the
// first choice's message content as the response payload.
package openai

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/openai/openai-go"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/backend"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
)

// Options configure the OpenAI backend adapter. Fields mirror a subset of
// Chat Completion parameters intentionally kept minimal; extend via
// functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Backend wraps the OpenAI Chat Completions API behind the generic
// backend.Backend interface.
type Backend struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI backend using the official client.
func New(optFns ...func(o *Options)) *Backend {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI backend from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Backend{client: client, opts: opts}
}

// Invoke implements backend.Backend.
func (b *Backend) Invoke(ctx context.Context, task core.Task) (core.BackendResponse, error) {
	id := b.Info().ID

	prompt, err := backend.TextPrompt(task)
	if err != nil {
		return core.BackendResponse{}, core.NewBackendRejection(id, err)
	}

	start := time.Now()
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Model:               b.opts.Model,
		Temperature:         openai.Float(b.opts.Temperature),
		MaxCompletionTokens: openai.Int(b.opts.MaxCompletionTokens),
	})
	if err != nil {
		return core.BackendResponse{}, classify(id, err)
	}
	if len(resp.Choices) == 0 {
		return core.BackendResponse{}, core.NewBackendRejection(id, errors.New("no choices returned"))
	}

	text := resp.Choices[0].Message.Content
	if text == "" {
		return core.BackendResponse{}, core.NewBackendRejection(id, errors.New("empty completion"))
	}

	return backend.TextResponse(id, text, start)
}

// Info returns metadata describing this OpenAI backend.
func (b *Backend) Info() backend.Info {
	return backend.Info{
		ID:       "openai:" + b.opts.Model,
		Provider: "openai",
		Model:    b.opts.Model,
	}
}

// classify maps SDK errors onto the shared taxonomy: timeouts and network
// faults are transient, everything else is a provider-side rejection.
func classify(backendID string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return core.NewTransientBackendError(backendID, err)
	}
	return core.NewBackendRejection(backendID, err)
}
