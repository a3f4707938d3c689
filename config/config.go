// Package config loads the node configuration from a TOML file, filling in
// safe defaults for anything omitted. Library components are configured with
// functional options; this package only serves the CLI entry point.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full node configuration.
type Config struct {
	Node         NodeConfig         `toml:"node"`
	Mesh         MeshConfig         `toml:"mesh"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Backends     BackendsConfig     `toml:"backends"`
	Log          LogConfig          `toml:"log"`
}

// NodeConfig identifies the node and its listen addresses.
type NodeConfig struct {
	ID       string `toml:"id"`
	HTTPAddr string `toml:"http_addr"`
}

// PeerConfig names one configured mesh peer.
type PeerConfig struct {
	ID   string `toml:"id"`
	Addr string `toml:"addr"`
}

// MeshConfig shapes the consensus and liveness behavior.
type MeshConfig struct {
	Peers          []PeerConfig `toml:"peers"`
	GossipBind     string       `toml:"gossip_bind"`
	GossipSeeds    []string     `toml:"gossip_seeds"`
	LivenessWindow duration     `toml:"liveness_window"`
	RoundTimeout   duration     `toml:"round_timeout"`
}

// OrchestratorConfig shapes dispatch behavior.
type OrchestratorConfig struct {
	SafetyMargin duration `toml:"safety_margin"`
	RetryDelay   duration `toml:"retry_delay"`
	CacheTTL     duration `toml:"cache_ttl"`
}

// BackendsConfig selects which provider adapters to activate at startup.
type BackendsConfig struct {
	OpenAI    ProviderConfig `toml:"openai"`
	Anthropic ProviderConfig `toml:"anthropic"`
	Mock      bool           `toml:"mock"`
}

// ProviderConfig enables one provider backend.
type ProviderConfig struct {
	Enabled bool   `toml:"enabled"`
	Model   string `toml:"model"`
}

// LogConfig shapes structured logging output.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or text
}

// duration wraps time.Duration for TOML string parsing ("250ms", "5s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the baseline configuration for a standalone node.
func Default() Config {
	return Config{
		Node: NodeConfig{ID: "node-1", HTTPAddr: ":8080"},
		Mesh: MeshConfig{
			GossipBind:     ":7946",
			LivenessWindow: duration{15 * time.Second},
			RoundTimeout:   duration{5 * time.Second},
		},
		Orchestrator: OrchestratorConfig{
			SafetyMargin: duration{50 * time.Millisecond},
			RetryDelay:   duration{100 * time.Millisecond},
			CacheTTL:     duration{5 * time.Minute},
		},
		Backends: BackendsConfig{Mock: true},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the TOML file at path on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("config: node.id must not be empty")
	}
	seen := map[string]struct{}{c.Node.ID: {}}
	for _, p := range c.Mesh.Peers {
		if p.ID == "" || p.Addr == "" {
			return fmt.Errorf("config: mesh peer entries need both id and addr")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("config: duplicate peer id %s", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}
