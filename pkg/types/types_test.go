package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNexusChildEqualComparesFullValue(t *testing.T) {
	a := NexusChild{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"}
	b := NexusChild{ReplicaUUID: "r1", ShareURI: "nvmf://a/r1"}
	c := NexusChild{ReplicaUUID: "r2", ShareURI: "nvmf://a/r1"}
	raw := NexusChild{URI: "nvmf://a/r1"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(raw))
}

func TestDisownedByVolumeIsIdempotent(t *testing.T) {
	n := NexusSpec{UUID: "n1", VolumeOwner: "v1"}
	n.DisownedByVolume()
	assert.Empty(t, n.VolumeOwner)
	n.DisownedByVolume()
	assert.Empty(t, n.VolumeOwner)
}

func TestSpecStatusRuntimeOnlyMeaningfulInCreated(t *testing.T) {
	created := Created(RuntimeDegraded)
	assert.True(t, created.IsCreated())
	assert.Equal(t, RuntimeDegraded, created.Runtime)

	deleting := SpecStatus{Kind: SpecStatusDeleting}
	assert.False(t, deleting.IsCreated())
	assert.False(t, deleting.IsDeleted())
}

// Stored payloads must tolerate unknown fields and default new ones, so
// a spec written by a newer version round-trips through an older reader.
func TestSpecDecodingToleratesUnknownFields(t *testing.T) {
	payload := []byte(`{
		"uuid": "n1",
		"node_id": "node-a",
		"spec_status": {"kind": "Created", "runtime": "Online"},
		"some_future_field": {"nested": true}
	}`)

	var spec NexusSpec
	require.NoError(t, json.Unmarshal(payload, &spec))
	assert.Equal(t, "n1", spec.UUID)
	assert.Equal(t, Created(RuntimeOnline), spec.SpecStatus)
	assert.Nil(t, spec.Operation)
}
