package mesh

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
)

// LivenessOptions configures the gossip-based peer liveness feed.
type LivenessOptions struct {
	// NodeID is this node's unique identifier; it becomes the memberlist
	// node name, so it must match the id peers have configured for us.
	NodeID string

	// Bind is the gossip bind address in host:port form.
	Bind string

	// Advertise is the address peers use to reach this node. If empty,
	// memberlist derives it from Bind.
	Advertise string

	// Tuning parameters (optional). Zero means memberlist defaults.
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// Liveness feeds a PeerTable from HashiCorp memberlist gossip: joins and
// probes mark peers as observed, failure detection marks them dead. The
// configured peer set is never changed by gossip; only reachability is.
type Liveness struct {
	mu    sync.Mutex
	opts  LivenessOptions
	table *PeerTable
	ml    *memberlist.Memberlist
}

// NewLiveness creates a liveness feed updating the given table.
func NewLiveness(table *PeerTable, opts LivenessOptions) (*Liveness, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("liveness: empty NodeID")
	}
	if opts.Bind == "" {
		return nil, fmt.Errorf("liveness: empty Bind address")
	}
	return &Liveness{opts: opts, table: table}, nil
}

// Start launches the underlying memberlist instance. The instance shuts down
// when ctx is cancelled.
func (l *Liveness) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ml != nil {
		return nil
	}

	cfg := memberlist.DefaultLANConfig()
	cfg.Name = l.opts.NodeID

	host, portStr, err := net.SplitHostPort(l.opts.Bind)
	if err != nil {
		return fmt.Errorf("liveness: invalid bind address %q: %w", l.opts.Bind, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("liveness: invalid bind port %q", portStr)
	}
	cfg.BindAddr = host
	cfg.BindPort = port

	if l.opts.Advertise != "" {
		ahost, aportStr, err := net.SplitHostPort(l.opts.Advertise)
		if err != nil {
			return fmt.Errorf("liveness: invalid advertise address %q: %w", l.opts.Advertise, err)
		}
		aport, err := strconv.Atoi(aportStr)
		if err != nil {
			return fmt.Errorf("liveness: invalid advertise port %q", aportStr)
		}
		cfg.AdvertiseAddr = ahost
		cfg.AdvertisePort = aport
	}

	if l.opts.ProbeInterval > 0 {
		cfg.ProbeInterval = l.opts.ProbeInterval
	}
	if l.opts.ProbeTimeout > 0 {
		cfg.ProbeTimeout = l.opts.ProbeTimeout
	}

	cfg.Events = &tableDelegate{table: l.table, self: l.opts.NodeID}

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return err
	}
	l.ml = ml

	go func() {
		<-ctx.Done()
		_ = l.Stop()
	}()
	return nil
}

// Join contacts seed gossip addresses to enter the cluster.
func (l *Liveness) Join(seeds []string) error {
	l.mu.Lock()
	ml := l.ml
	l.mu.Unlock()
	if ml == nil {
		return fmt.Errorf("liveness: not started")
	}
	if len(seeds) == 0 {
		return nil
	}
	_, err := ml.Join(seeds)
	return err
}

// Stop leaves the gossip cluster and shuts the instance down.
func (l *Liveness) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ml == nil {
		return nil
	}
	_ = l.ml.Leave(time.Second)
	err := l.ml.Shutdown()
	l.ml = nil
	return err
}

// tableDelegate adapts memberlist events to peer table updates. Memberlist
// conflates explicit leave and failure detection; both mark the peer dead.
type tableDelegate struct {
	table *PeerTable
	self  string
}

func (d *tableDelegate) NotifyJoin(n *memberlist.Node) {
	if n == nil || n.Name == d.self {
		return
	}
	d.table.Observe(n.Name)
}

func (d *tableDelegate) NotifyLeave(n *memberlist.Node) {
	if n == nil || n.Name == d.self {
		return
	}
	d.table.MarkDead(n.Name)
}

func (d *tableDelegate) NotifyUpdate(n *memberlist.Node) {
	if n == nil || n.Name == d.self {
		return
	}
	d.table.Observe(n.Name)
}
