package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfUnwrapsThroughChains(t *testing.T) {
	base := OpInProgress("Nexus")
	wrapped := fmt.Errorf("handling request: %w", base)

	assert.Equal(t, Conflict, KindOf(wrapped))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NodeUnavailable("node-a", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, Unavailable, KindOf(err))
	assert.Contains(t, err.Error(), "NodeUnavailable")
}

func TestErrorStringCarriesResourceAndCode(t *testing.T) {
	err := NotFoundErr("Replica", "r1")
	assert.Equal(t, `Replica[NotFound]: Replica "r1" not found`, err.Error())

	bare := New(Aborted, "", "LeaseLost", "lease expired")
	assert.Equal(t, "LeaseLost: lease expired", bare.Error())
}
