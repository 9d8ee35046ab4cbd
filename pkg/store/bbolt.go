package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/noriteio/norite/pkg/errs"
	bolt "go.etcd.io/bbolt"
)

// record is the envelope stored under every key: the caller's raw value
// plus a monotonic revision used for CAS, so concurrent writers with
// stale views are rejected.
type record struct {
	Revision uint64          `json:"revision"`
	Data     json.RawMessage `json:"data"`
}

// bucketDB wraps a bbolt database where each resource kind (NexusSpec,
// PoolSpec, ReplicaSpec, NodeSpec, VolumeSpec, ...) gets its own
// top-level bucket, keyed by UUID; buckets are created on demand per
// kind.
type bucketDB struct {
	db *bolt.DB
}

func openBucketDB(dataDir string) (*bucketDB, error) {
	path := filepath.Join(dataDir, "spec-store.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt store: %w", err)
	}
	return &bucketDB{db: db}, nil
}

func (b *bucketDB) close() error {
	return b.db.Close()
}

func (b *bucketDB) get(kind, uuid string) ([]byte, uint64, bool, error) {
	var value []byte
	var revision uint64
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kind))
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(uuid))
		if raw == nil {
			return nil
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode record %s/%s: %w", kind, uuid, err)
		}
		value = []byte(rec.Data)
		revision = rec.Revision
		ok = true
		return nil
	})
	return value, revision, ok, err
}

func (b *bucketDB) put(kind, uuid string, value []byte, expectedRevision *uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(kind))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", kind, err)
		}
		var current record
		if raw := bucket.Get([]byte(uuid)); raw != nil {
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("decode record %s/%s: %w", kind, uuid, err)
			}
		}
		if expectedRevision != nil && *expectedRevision != current.Revision {
			return errs.New(errs.PreconditionFailed, kind, "RevisionMismatch",
				fmt.Sprintf("expected revision %d, have %d", *expectedRevision, current.Revision))
		}
		next := record{Revision: current.Revision + 1, Data: json.RawMessage(value)}
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode record %s/%s: %w", kind, uuid, err)
		}
		return bucket.Put([]byte(uuid), encoded)
	})
}

func (b *bucketDB) delete(kind, uuid string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kind))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(uuid))
	})
}

func (b *bucketDB) list(kind string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kind))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %s/%s: %w", kind, k, err)
			}
			out[string(k)] = []byte(rec.Data)
			return nil
		})
	})
	return out, err
}

// dumpAll copies every bucket's raw (revision-wrapped) records, keyed by
// bucket name then record key, for raft snapshotting.
func (b *bucketDB) dumpAll() (map[string]map[string][]byte, error) {
	out := make(map[string]map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bolt.Bucket) error {
			records := make(map[string][]byte)
			if err := bucket.ForEach(func(k, v []byte) error {
				cp := make([]byte, len(v))
				copy(cp, v)
				records[string(k)] = cp
				return nil
			}); err != nil {
				return err
			}
			out[string(name)] = records
			return nil
		})
	})
	return out, err
}

// loadAll replaces every bucket's contents with the given snapshot,
// preserving the raw revision-wrapped record bytes exactly.
func (b *bucketDB) loadAll(buckets map[string]map[string][]byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for name, records := range buckets {
			bucket, err := tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
			for k, v := range records {
				if err := bucket.Put([]byte(k), v); err != nil {
					return fmt.Errorf("restore %s/%s: %w", name, k, err)
				}
			}
		}
		return nil
	})
}
