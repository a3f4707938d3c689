package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/consensus"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/mesh"
)

// HTTPTransport delivers vote solicitations to peers over the same HTTP/JSON
// surface this package serves. Peer addresses are resolved through the mesh
// peer table; a successful round-trip also refreshes the peer's liveness.
type HTTPTransport struct {
	table  *mesh.PeerTable
	client *http.Client
	scheme string
}

// TransportOptions configures an HTTPTransport.
type TransportOptions struct {
	// Client defaults to an http.Client with a 2s timeout. Per-request
	// deadlines still come from the solicitation ctx.
	Client *http.Client

	// Scheme defaults to "http".
	Scheme string
}

// NewHTTPTransport creates a transport resolving peers from the given table.
func NewHTTPTransport(table *mesh.PeerTable, optFns ...func(o *TransportOptions)) *HTTPTransport {
	opts := TransportOptions{
		Client: &http.Client{Timeout: 2 * time.Second},
		Scheme: "http",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HTTPTransport{table: table, client: opts.Client, scheme: opts.Scheme}
}

var _ consensus.Transport = (*HTTPTransport)(nil)

// RequestVote implements consensus.Transport.
func (t *HTTPTransport) RequestVote(ctx context.Context, peerID string, p core.Proposal) (core.Vote, error) {
	addr, ok := t.table.Addr(peerID)
	if !ok {
		return core.Vote{}, fmt.Errorf("transport: unknown peer %s", peerID)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return core.Vote{}, err
	}

	url := fmt.Sprintf("%s://%s/api/v1/votes/request", t.scheme, addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return core.Vote{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return core.Vote{}, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return core.Vote{}, fmt.Errorf("transport: peer %s returned %d", peerID, resp.StatusCode)
	}

	var vote core.Vote
	if err := json.NewDecoder(resp.Body).Decode(&vote); err != nil {
		return core.Vote{}, fmt.Errorf("transport: decode vote from %s: %w", peerID, err)
	}

	t.table.Observe(peerID)
	return vote, nil
}
