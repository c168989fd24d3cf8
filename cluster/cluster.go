// Package cluster runs the membership protocol that keeps table replicas
// consistent as nodes join and leave. The designated master creates the
// schema at startup; member nodes attach a local replica of the table when
// they observe peers joining. Query serving never goes through this
// package; coordination happens only through the shared store.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/unkn0wn-root/relcache/log"
)

const eventBuffer = 256

// Replicator is the schema facet of the store the manager drives: creating
// the table on the master and attaching the local replica on member nodes.
// EnsureTable must be idempotent; "already exists" is success.
type Replicator interface {
	EnsureTable(ctx context.Context) error
}

// Config describes one node's view of the cluster.
type Config struct {
	// Table is the name of the replicated table this node participates in.
	Table string

	// Master designates this node as the schema owner. Exactly one node
	// per cluster should be master.
	Master bool

	// Replicator attaches the local replica. Usually the node's store.
	Replicator Replicator

	// NodeName must be unique per cluster. Empty uses the hostname.
	NodeName string

	// BindAddr/BindPort are the gossip endpoint. Port 0 picks a free one.
	BindAddr string
	BindPort int

	// Seeds are peer gossip addresses joined at startup and re-merged on
	// membership changes.
	Seeds []string

	Logger log.Logger

	// ShutdownTimeout bounds the gossip leave broadcast. 0 => 3s.
	ShutdownTimeout time.Duration
}

// Manager is the long-lived membership process for one node. It owns no
// query path; its only writes are schema and replica bootstrap.
type Manager struct {
	cfg Config
	log log.Logger

	mu      sync.Mutex
	list    *memberlist.Memberlist
	events  chan memberlist.NodeEvent
	stop    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool

	shutdownTimeout time.Duration
}

// New validates the configuration. The node does not touch the network
// until Start.
func New(cfg Config) (*Manager, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("cluster: table is required")
	}
	if cfg.Replicator == nil {
		return nil, fmt.Errorf("cluster: replicator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NopLogger{}
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 3 * time.Second
	}
	return &Manager{
		cfg:             cfg,
		log:             cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// Start brings the node into the cluster: schema bootstrap, gossip
// membership, seed join, then the event loop. A schema failure on the
// master is fatal; on a member it is logged and retried on the next join
// event.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started.Load() {
		return nil
	}

	if m.cfg.Master {
		if err := m.cfg.Replicator.EnsureTable(ctx); err != nil {
			return fmt.Errorf("cluster: schema bootstrap for table %q: %w", m.cfg.Table, err)
		}
		m.log.Info("schema ready", log.Fields{"table": m.cfg.Table, "role": "master"})
	} else {
		// a cold-started member acquires its replica immediately instead
		// of waiting for a peer to join
		if err := m.cfg.Replicator.EnsureTable(ctx); err != nil {
			m.log.Warn("replica bootstrap failed; retrying on next join event",
				log.Fields{"table": m.cfg.Table, "err": err})
		}
	}

	mconf := memberlist.DefaultLANConfig()
	if m.cfg.NodeName != "" {
		mconf.Name = m.cfg.NodeName
	}
	if m.cfg.BindAddr != "" {
		mconf.BindAddr = m.cfg.BindAddr
	}
	mconf.BindPort = m.cfg.BindPort
	mconf.AdvertisePort = mconf.BindPort
	mconf.LogOutput = logWriter{m.log}

	m.events = make(chan memberlist.NodeEvent, eventBuffer)
	mconf.Events = &memberlist.ChannelEventDelegate{Ch: m.events}

	list, err := memberlist.Create(mconf)
	if err != nil {
		return fmt.Errorf("cluster: creating memberlist: %w", err)
	}
	m.list = list

	if len(m.cfg.Seeds) > 0 {
		if _, err := list.Join(m.cfg.Seeds); err != nil {
			// transient: peers may not be up yet; join events and
			// mergePeers pick them up later
			m.log.Warn("seed join failed", log.Fields{"seeds": m.cfg.Seeds, "err": err})
		}
	}

	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.eventLoop()

	m.started.Store(true)
	m.log.Info("membership manager started",
		log.Fields{"node": list.LocalNode().Name, "table": m.cfg.Table, "master": m.cfg.Master})
	return nil
}

// Stop leaves the cluster gracefully and shuts the event loop down.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started.Swap(false) {
		return nil
	}

	close(m.stop)
	m.wg.Wait()

	return errors.Join(
		m.list.Leave(m.shutdownTimeout),
		m.list.Shutdown(),
	)
}

// Members returns the gossip addresses of all live nodes including self.
func (m *Manager) Members() []string {
	m.mu.Lock()
	list := m.list
	m.mu.Unlock()
	if list == nil {
		return nil
	}
	nodes := list.Members()
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeAddr(n))
	}
	return out
}

func (m *Manager) eventLoop() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.events:
			switch ev.Event {
			case memberlist.NodeJoin:
				m.handleJoin(ev.Node)
			case memberlist.NodeLeave:
				// the store's own replica accounting handles removal
				m.log.Info("node left", log.Fields{"node": ev.Node.Name})
			case memberlist.NodeUpdate:
			}
		case <-m.stop:
			return
		}
	}
}

// handleJoin attaches the local replica when a peer joins. Masters skip it:
// they already own the table, and re-ensuring on every join would be a
// redundant table rewrite. Failures are not retried here; the next join
// event attempts again.
func (m *Manager) handleJoin(node *memberlist.Node) {
	if node == nil {
		return
	}
	if m.list != nil && node.Name == m.list.LocalNode().Name {
		return
	}
	m.log.Debug("node joined", log.Fields{"node": node.Name, "addr": nodeAddr(node)})

	if m.cfg.Master {
		return
	}

	m.mergePeers()

	if err := m.cfg.Replicator.EnsureTable(context.Background()); err != nil {
		m.log.Error("replica add failed", log.Fields{"table": m.cfg.Table, "node": node.Name, "err": err})
		return
	}
	m.log.Info("local replica ensured", log.Fields{"table": m.cfg.Table})
}

// mergePeers joins any configured seed not currently in the member set, so
// the node's cluster view is complete before the replica is attached.
func (m *Manager) mergePeers() {
	if m.list == nil || len(m.cfg.Seeds) == 0 {
		return
	}
	current := make(map[string]struct{})
	for _, n := range m.list.Members() {
		current[nodeAddr(n)] = struct{}{}
	}
	var extra []string
	for _, seed := range m.cfg.Seeds {
		if _, ok := current[seed]; !ok {
			extra = append(extra, seed)
		}
	}
	if len(extra) == 0 {
		return
	}
	if _, err := m.list.Join(extra); err != nil {
		m.log.Warn("peer merge failed", log.Fields{"peers": extra, "err": err})
	}
}

func nodeAddr(n *memberlist.Node) string {
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// logWriter routes memberlist's internal log lines to the debug level.
type logWriter struct{ l log.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.l.Debug(string(p), nil)
	return len(p), nil
}
