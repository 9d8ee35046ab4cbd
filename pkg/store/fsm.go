package store

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
)

// fsmOp tags a replicated Spec-store mutation: a single put/delete
// pair parameterized by key, rather than one command per resource
// kind.
type fsmOp string

const (
	fsmPut    fsmOp = "put"
	fsmDelete fsmOp = "delete"
)

// fsmCommand is one raft log entry: a Put or Delete against the bbolt
// bucket layer, carrying the optional expected revision for CAS.
type fsmCommand struct {
	Op               fsmOp           `json:"op"`
	Kind             string          `json:"kind"`
	UUID             string          `json:"uuid"`
	Value            json.RawMessage `json:"value,omitempty"`
	ExpectedRevision *uint64         `json:"expected_revision,omitempty"`
}

// fsmResponse is what fsm.Apply returns; raft hands this back to the
// caller via the ApplyFuture.
type fsmResponse struct {
	Err error
}

// fsm is the raft.FSM applying committed Spec-store mutations to the
// local bbolt projection. Every Put/Delete is first replicated as a raft
// log entry and only visible once the commit index passes it; the
// FSM's serial apply is what gives the expected-revision check its
// compare-and-swap semantics.
type fsm struct {
	db *bucketDB
}

func newFSM(db *bucketDB) *fsm {
	return &fsm{db: db}
}

func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd fsmCommand
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return &fsmResponse{Err: fmt.Errorf("decode fsm command: %w", err)}
	}

	switch cmd.Op {
	case fsmPut:
		err := f.db.put(cmd.Kind, cmd.UUID, cmd.Value, cmd.ExpectedRevision)
		return &fsmResponse{Err: err}
	case fsmDelete:
		err := f.db.delete(cmd.Kind, cmd.UUID)
		return &fsmResponse{Err: err}
	default:
		return &fsmResponse{Err: fmt.Errorf("unknown fsm op: %s", cmd.Op)}
	}
}

// fsmSnapshot is a point-in-time copy of every bucket, keyed by kind then
// uuid, each value the raw record envelope (so Restore preserves
// revisions exactly).
type fsmSnapshot struct {
	Buckets map[string]map[string][]byte
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	buckets, err := f.db.dumpAll()
	if err != nil {
		return nil, fmt.Errorf("snapshot bucket store: %w", err)
	}
	return &fsmSnapshot{Buckets: buckets}, nil
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode fsm snapshot: %w", err)
	}
	return f.db.loadAll(snap.Buckets)
}
