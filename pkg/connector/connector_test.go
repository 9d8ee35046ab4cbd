package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
		Size uint64 `json:"size"`
	}

	codec := jsonCodec{}
	encoded, err := codec.Marshal(payload{Name: "p1", Size: 42})
	require.NoError(t, err)

	var decoded payload
	require.NoError(t, codec.Unmarshal(encoded, &decoded))
	require.Equal(t, payload{Name: "p1", Size: 42}, decoded)
	require.Equal(t, "json", codec.Name())
}

func TestNewAppliesDefaultTimeouts(t *testing.T) {
	c := New(Config{})
	require.Equal(t, 5*time.Second, c.cfg.DialTimeout)
	require.Equal(t, 10*time.Second, c.cfg.RequestTimeout)

	c2 := New(Config{DialTimeout: time.Second, RequestTimeout: 2 * time.Second})
	require.Equal(t, time.Second, c2.cfg.DialTimeout)
	require.Equal(t, 2*time.Second, c2.cfg.RequestTimeout)
}

func TestForgetAndCloseOnEmptyPool(t *testing.T) {
	c := New(Config{})
	// Forgetting an endpoint never dialed is a no-op, not an error.
	c.Forget("10.0.0.1:10124")
	require.NoError(t, c.Close())
}
