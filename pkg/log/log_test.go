package log

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Init("verbose", true, io.Discard))
}

func TestInitJSONOutputCarriesChildFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init("debug", true, &buf))

	logger := WithResource("Nexus", "n1")
	logger.Debug().Msg("probing")

	out := buf.String()
	assert.Contains(t, out, `"resource_kind":"Nexus"`)
	assert.Contains(t, out, `"resource_id":"n1"`)
}

func TestInitLevelGatesOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init("warn", true, &buf))

	logger := WithComponent("test")
	logger.Info().Msg("quiet")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("loud")
	assert.Contains(t, buf.String(), "loud")
}
