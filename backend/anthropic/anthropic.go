// Package anthropic provides a backend adapter for the Anthropic Claude API.
package anthropic

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/backend"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
)

// Options configures the Anthropic backend adapter (model id, temperature,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Backend wraps the Anthropic Messages API behind the generic backend.Backend
// interface. Tasks are submitted as a single user message built from the task
// payload prompt; the concatenated text blocks of the reply become the
// response payload.
type Backend struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic backend using the official client.
func New(optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Backend{client: &client, opts: opts}
}

// WithModel sets the model from its string id, for callers that do not import
// the SDK directly.
func WithModel(id string) func(o *Options) {
	return func(o *Options) { o.Model = anthropic.Model(id) }
}

// NewFromClient creates a new Anthropic backend from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
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
	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       b.opts.Model,
		MaxTokens:   b.opts.MaxTokens,
		Temperature: anthropic.Float(b.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return core.BackendResponse{}, classify(id, err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	if text == "" {
		return core.BackendResponse{}, core.NewBackendRejection(id, errors.New("empty completion"))
	}

	return backend.TextResponse(id, text, start)
}

// Info returns metadata describing this Anthropic backend.
func (b *Backend) Info() backend.Info {
	return backend.Info{
		ID:       "anthropic:" + string(b.opts.Model),
		Provider: "anthropic",
		Model:    string(b.opts.Model),
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
