// Command kenpire runs a KenPire mesh node: an HTTP API in front of the
// multi-backend orchestrator and the mesh consensus engine.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	kenpire "github.com/kendomaschk/kenpire-mesh-os-codespaces"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/backend"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/backend/anthropic"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/backend/openai"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/config"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/consensus"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/logging"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/mesh"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/observability"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/server"
)

func main() {
	root := &cobra.Command{
		Use:   "kenpire",
		Short: "KenPire mesh node",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a mesh node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to TOML configuration file")
	return cmd
}

func serve(cfg config.Config) error {
	logger := newLogger(cfg)
	observability.Register()

	transportHolder := &lazyTransport{}
	m := kenpire.New(func(o *kenpire.Options) {
		o.NodeID = cfg.Node.ID
		o.Peers = peersFromConfig(cfg)
		o.Backends = backendsFromConfig(cfg)
		o.Transport = transportHolder
		o.LivenessWindow = cfg.Mesh.LivenessWindow.Duration
		o.RoundTimeout = cfg.Mesh.RoundTimeout.Duration
		o.SafetyMargin = cfg.Orchestrator.SafetyMargin.Duration
		o.RetryDelay = cfg.Orchestrator.RetryDelay.Duration
		o.CacheTTL = cfg.Orchestrator.CacheTTL.Duration
		o.Logger = logger
	})
	transportHolder.Transport = server.NewHTTPTransport(m.Node().Peers())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Mesh.GossipBind != "" && len(cfg.Mesh.Peers) > 0 {
		liveness, err := mesh.NewLiveness(m.Node().Peers(), mesh.LivenessOptions{
			NodeID: cfg.Node.ID,
			Bind:   cfg.Mesh.GossipBind,
		})
		if err != nil {
			return err
		}
		if err := liveness.Start(ctx); err != nil {
			return err
		}
		if err := liveness.Join(cfg.Mesh.GossipSeeds); err != nil {
			logger.Warn("gossip join failed, relying on vote traffic for liveness", "error", err)
		}
	}

	handler := server.New(m.Node(), func(o *server.Options) {
		o.Cards = m.Cards()
		o.Logger = logger
	})
	srv := &http.Server{Addr: cfg.Node.HTTPAddr, Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("mesh node serving", "node_id", cfg.Node.ID, "addr", cfg.Node.HTTPAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running node's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/status", addr))
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var status map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return err
			}
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "node HTTP address")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the node version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(server.Version)
		},
	}
}

func newLogger(cfg config.Config) logging.Logger {
	lc := logging.DefaultLoggerConfig()
	lc.Format = cfg.Log.Format
	lc.NodeID = cfg.Node.ID
	switch cfg.Log.Level {
	case "debug":
		lc.Level = logging.LogLevelDebug
	case "warn":
		lc.Level = logging.LogLevelWarn
	case "error":
		lc.Level = logging.LogLevelError
	default:
		lc.Level = logging.LogLevelInfo
	}
	return logging.NewLogger(lc)
}

func peersFromConfig(cfg config.Config) []kenpire.Peer {
	peers := make([]kenpire.Peer, 0, len(cfg.Mesh.Peers))
	for _, p := range cfg.Mesh.Peers {
		peers = append(peers, kenpire.Peer{ID: p.ID, Addr: p.Addr})
	}
	return peers
}

func backendsFromConfig(cfg config.Config) []backend.Backend {
	var backends []backend.Backend
	if cfg.Backends.OpenAI.Enabled {
		backends = append(backends, openai.New(func(o *openai.Options) {
			if cfg.Backends.OpenAI.Model != "" {
				o.Model = cfg.Backends.OpenAI.Model
			}
		}))
	}
	if cfg.Backends.Anthropic.Enabled {
		var optFns []func(o *anthropic.Options)
		if cfg.Backends.Anthropic.Model != "" {
			optFns = append(optFns, anthropic.WithModel(cfg.Backends.Anthropic.Model))
		}
		backends = append(backends, anthropic.New(optFns...))
	}
	if cfg.Backends.Mock || len(backends) == 0 {
		backends = append(backends, backend.NewMockBackend("mock-1"))
	}
	return backends
}

// lazyTransport breaks the construction cycle between the node (which needs
// a transport) and the HTTP transport (which needs the node's peer table).
type lazyTransport struct {
	Transport consensus.Transport
}

func (l *lazyTransport) RequestVote(ctx context.Context, peerID string, p core.Proposal) (core.Vote, error) {
	if l.Transport == nil {
		return core.Vote{}, fmt.Errorf("transport not initialized")
	}
	return l.Transport.RequestVote(ctx, peerID, p)
}
