package cluster

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/memberlist"
)

type fakeReplicator struct {
	calls atomic.Int64
	fail  atomic.Bool
}

func (f *fakeReplicator) EnsureTable(context.Context) error {
	f.calls.Add(1)
	if f.fail.Load() {
		return errors.New("replica add refused")
	}
	return nil
}

func localConfig(rep Replicator, master bool, seeds []string) Config {
	return Config{
		Table:      "users",
		Master:     master,
		Replicator: rep,
		BindAddr:   "127.0.0.1",
		BindPort:   0, // pick a free port
		Seeds:      seeds,
	}
}

func startNode(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Skipf("gossip unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

// TestNewValidation rejects missing table or replicator.
func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Replicator: &fakeReplicator{}}); err == nil {
		t.Fatal("missing table must fail")
	}
	if _, err := New(Config{Table: "t"}); err == nil {
		t.Fatal("missing replicator must fail")
	}
}

// TestMasterCreatesSchemaOnStart: the master ensures the table before
// entering steady state.
func TestMasterCreatesSchemaOnStart(t *testing.T) {
	rep := &fakeReplicator{}
	cfg := localConfig(rep, true, nil)
	cfg.NodeName = "master-schema"
	startNode(t, cfg)

	if rep.calls.Load() != 1 {
		t.Fatalf("EnsureTable calls: got %d, want 1", rep.calls.Load())
	}
}

// TestMasterSchemaFailureAborts: an unrecoverable schema failure is fatal
// to bootstrap.
func TestMasterSchemaFailureAborts(t *testing.T) {
	rep := &fakeReplicator{}
	rep.fail.Store(true)
	m, err := New(localConfig(rep, true, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("master Start must fail when schema bootstrap fails")
	}
}

// TestMemberColdStartAcquiresReplica: a cold-started non-master attaches
// its replica immediately rather than waiting for a join event.
func TestMemberColdStartAcquiresReplica(t *testing.T) {
	rep := &fakeReplicator{}
	cfg := localConfig(rep, false, nil)
	cfg.NodeName = "member-cold"
	startNode(t, cfg)

	if rep.calls.Load() != 1 {
		t.Fatalf("EnsureTable calls: got %d, want 1", rep.calls.Load())
	}
}

// TestMemberReplicaFailureIsNotFatal: a member that cannot attach its
// replica still starts; a later join event retries.
func TestMemberReplicaFailureIsNotFatal(t *testing.T) {
	rep := &fakeReplicator{}
	rep.fail.Store(true)
	cfg := localConfig(rep, false, nil)
	cfg.NodeName = "member-degraded"
	startNode(t, cfg)

	if rep.calls.Load() != 1 {
		t.Fatalf("EnsureTable attempts: got %d, want 1", rep.calls.Load())
	}
}

// TestJoinEventTriggersReplica: when a peer joins, the non-master node
// re-ensures its local replica; node-down causes no crash.
func TestJoinEventTriggersReplica(t *testing.T) {
	masterRep := &fakeReplicator{}
	mcfg := localConfig(masterRep, true, nil)
	mcfg.NodeName = "node-master"
	master := startNode(t, mcfg)

	seed := nodeAddr(masterLocal(t, master))

	memberRep := &fakeReplicator{}
	ccfg := localConfig(memberRep, false, []string{seed})
	ccfg.NodeName = "node-member"
	member := startNode(t, ccfg)

	// cold-start ensure plus the join-event ensure
	waitFor(t, func() bool { return memberRep.calls.Load() >= 2 })
	// the master never re-ensures on joins
	if masterRep.calls.Load() != 1 {
		t.Fatalf("master EnsureTable calls: got %d, want 1", masterRep.calls.Load())
	}

	// peer leaving must not crash the survivor
	if err := member.Stop(context.Background()); err != nil {
		t.Fatalf("member Stop: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := masterRep.calls.Load(); got != 1 {
		t.Fatalf("node-down must be a no-op, EnsureTable calls: %d", got)
	}
}

func masterLocal(t *testing.T, m *Manager) *memberlist.Node {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.list == nil {
		t.Fatal("manager has no memberlist")
	}
	return m.list.LocalNode()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
