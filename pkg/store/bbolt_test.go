package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBucketDBPutGetCAS(t *testing.T) {
	db, err := openBucketDB(t.TempDir())
	require.NoError(t, err)
	defer db.close()

	require.NoError(t, db.put("NexusSpec", "n1", []byte(`{"size":1}`), nil))

	value, rev, ok, err := db.get("NexusSpec", "n1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), rev)
	require.JSONEq(t, `{"size":1}`, string(value))

	// Stale revision is rejected.
	stale := uint64(0)
	err = db.put("NexusSpec", "n1", []byte(`{"size":2}`), &stale)
	require.Error(t, err)

	// Correct revision succeeds.
	current := rev
	require.NoError(t, db.put("NexusSpec", "n1", []byte(`{"size":2}`), &current))

	_, rev2, _, err := db.get("NexusSpec", "n1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), rev2)
}

func TestBucketDBDeleteAbsentIsNotError(t *testing.T) {
	db, err := openBucketDB(t.TempDir())
	require.NoError(t, err)
	defer db.close()

	require.NoError(t, db.delete("NexusSpec", "missing"))
}

func TestBucketDBList(t *testing.T) {
	db, err := openBucketDB(t.TempDir())
	require.NoError(t, err)
	defer db.close()

	require.NoError(t, db.put("PoolSpec", "p1", []byte(`{"node_id":"a"}`), nil))
	require.NoError(t, db.put("PoolSpec", "p2", []byte(`{"node_id":"b"}`), nil))

	all, err := db.list("PoolSpec")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Contains(t, all, "p1")
	require.Contains(t, all, "p2")
}

func TestBucketDBDumpAndLoad(t *testing.T) {
	db, err := openBucketDB(t.TempDir())
	require.NoError(t, err)
	defer db.close()

	require.NoError(t, db.put("PoolSpec", "p1", []byte(`{"node_id":"a"}`), nil))

	dump, err := db.dumpAll()
	require.NoError(t, err)
	require.Contains(t, dump, "PoolSpec")

	db2, err := openBucketDB(t.TempDir())
	require.NoError(t, err)
	defer db2.close()

	require.NoError(t, db2.loadAll(dump))
	value, _, ok, err := db2.get("PoolSpec", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"node_id":"a"}`, string(value))
}
