package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/log"
	"github.com/noriteio/norite/pkg/metrics"
)

var _ KeyValueStore = (*RaftStore)(nil)

// Config configures a RaftStore: TCP transport, file snapshot store,
// bolt-backed log/stable stores, and timeouts tuned for LAN failover.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	// Bootstrap starts a new single-node cluster. A process joining an
	// existing cluster leaves this false and is added as a voter by the
	// current leader out-of-band (operator/CLI action, not in core scope).
	Bootstrap bool

	// LeaseTTL bounds how long a partitioned leader keeps acting as one.
	// Zero keeps the LAN-tuned default below.
	LeaseTTL time.Duration

	// StoreTimeout bounds a Put/Delete whose caller context carries no
	// deadline of its own.
	StoreTimeout time.Duration
}

// RaftStore is the KeyValueStore implementation: a bbolt-backed bucket
// projection fed through a hashicorp/raft group so every Put/Delete is
// replicated before becoming visible, and raft leadership literally is
// the cluster leader lease.
type RaftStore struct {
	nodeID       string
	storeTimeout time.Duration

	raft *raft.Raft
	fsm  *fsm
	db   *bucketDB

	mu       sync.RWMutex
	watchers map[string][]chan Change

	leaderLossOnce sync.Once
}

// New opens (or creates) a RaftStore rooted at cfg.DataDir.
func New(cfg Config) (*RaftStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := openBucketDB(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	f := newFSM(db)

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	// Tuned for LAN failover rather than hashicorp's WAN-conservative
	// defaults.
	raftConfig.HeartbeatTimeout = 500 * time.Millisecond
	raftConfig.ElectionTimeout = 500 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 250 * time.Millisecond
	if cfg.LeaseTTL > 0 {
		raftConfig.LeaderLeaseTimeout = cfg.LeaseTTL
		if cfg.LeaseTTL > raftConfig.HeartbeatTimeout {
			raftConfig.HeartbeatTimeout = cfg.LeaseTTL
			raftConfig.ElectionTimeout = cfg.LeaseTTL
		}
	}

	notifyCh := make(chan bool, 1)
	raftConfig.NotifyCh = notifyCh

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, f, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}

	if cfg.Bootstrap {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: raftConfig.LocalID, Address: transport.LocalAddr()}},
		})
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
		}
	}

	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = 10 * time.Second
	}
	s := &RaftStore{
		nodeID:       cfg.NodeID,
		storeTimeout: storeTimeout,
		raft:         r,
		fsm:          f,
		db:           db,
		watchers:     make(map[string][]chan Change),
	}

	go s.watchLeadership(notifyCh)

	return s, nil
}

// watchLeadership enforces the cluster-leader-lease contract: losing
// leadership is process-fatal, and the next leader re-hydrates from
// the replicated bbolt projection on its own restart.
func (s *RaftStore) watchLeadership(notifyCh <-chan bool) {
	for isLeader := range notifyCh {
		metrics.RaftLeader.Set(boolToFloat(isLeader))
		if !isLeader {
			s.leaderLossOnce.Do(func() {
				log.Fatal("lost cluster leader lease; exiting for a new leader to take over")
			})
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// IsLeader reports whether this process currently holds the cluster
// leader lease.
func (s *RaftStore) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// RefreshMetrics updates the raft gauges that are derived rather than
// incremented at call sites; the metrics collector calls it on a timer.
func (s *RaftStore) RefreshMetrics() {
	future := s.raft.GetConfiguration()
	if err := future.Error(); err == nil {
		metrics.RaftPeers.Set(float64(len(future.Configuration().Servers)))
	}
	metrics.RaftAppliedIndex.Set(float64(s.raft.AppliedIndex()))
}

func (s *RaftStore) applyTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return s.storeTimeout
}

func (s *RaftStore) apply(ctx context.Context, cmd fsmCommand) error {
	if !s.IsLeader() {
		return errs.LeaseLost(fmt.Errorf("this process does not hold the cluster leader lease"))
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode fsm command: %w", err)
	}

	timer := metrics.NewTimer()
	future := s.raft.Apply(data, s.applyTimeout(ctx))
	timer.ObserveDuration(metrics.RaftApplyDuration)

	if err := future.Error(); err != nil {
		if err == raft.ErrLeadershipLost || err == raft.ErrNotLeader {
			return errs.LeaseLost(err)
		}
		return errs.StoreUnavailable(err)
	}

	metrics.RaftAppliedIndex.Set(float64(s.raft.AppliedIndex()))

	resp, _ := future.Response().(*fsmResponse)
	if resp != nil && resp.Err != nil {
		return resp.Err
	}
	return nil
}

// Get fetches a single value directly from the local bbolt projection.
// Reads are served locally without going through raft; the sequencer
// already serializes writers per key, and nothing here needs stronger
// read linearizability than that.
func (s *RaftStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	value, _, ok, err := s.db.get(key.Kind, key.UUID)
	return value, ok, err
}

// Put replicates a write through raft before it is visible locally.
func (s *RaftStore) Put(ctx context.Context, key Key, value []byte, expectedRevision *uint64) error {
	err := s.apply(ctx, fsmCommand{
		Op:               fsmPut,
		Kind:             key.Kind,
		UUID:             key.UUID,
		Value:            json.RawMessage(value),
		ExpectedRevision: expectedRevision,
	})
	if err == nil {
		s.notify(Change{Key: key, Type: ChangePut, Value: value})
	}
	return err
}

// Delete replicates a delete through raft. Deleting an absent key is not
// an error.
func (s *RaftStore) Delete(ctx context.Context, key Key) error {
	err := s.apply(ctx, fsmCommand{Op: fsmDelete, Kind: key.Kind, UUID: key.UUID})
	if err == nil {
		s.notify(Change{Key: key, Type: ChangeDelete})
	}
	return err
}

// List returns every value currently stored under kind, for Spec-cache
// rehydration on startup.
func (s *RaftStore) List(ctx context.Context, kind string) (map[string][]byte, error) {
	return s.db.list(kind)
}

// WatchPrefix streams Change notifications for keys of the given kind.
func (s *RaftStore) WatchPrefix(ctx context.Context, kind string) (<-chan Change, error) {
	ch := make(chan Change, 32)
	s.mu.Lock()
	s.watchers[kind] = append(s.watchers[kind], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		peers := s.watchers[kind]
		for i, c := range peers {
			if c == ch {
				s.watchers[kind] = append(peers[:i], peers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (s *RaftStore) notify(change Change) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.watchers[change.Key.Kind] {
		select {
		case ch <- change:
		default:
		}
	}
}

// Close releases the raft transport and bbolt handle.
func (s *RaftStore) Close() error {
	if s.raft != nil {
		_ = s.raft.Shutdown().Error()
	}
	return s.db.close()
}
