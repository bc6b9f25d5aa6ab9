package dxmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coeit/dxmem/internal/status"
)

func TestOpenCloseRoundTrip(t *testing.T) {
	m, err := Open(1 << 16)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, m.Close())
}

func TestOpenAppliesNodeID(t *testing.T) {
	m, err := Open(1<<16, WithNodeID(7))
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, uint16(7), m.NodeID())
}

func TestOpenDefaultsToNoopStats(t *testing.T) {
	m, err := Open(1 << 16)
	require.NoError(t, err)
	defer m.Close()

	require.NotNil(t, m.Stats())
	// Noop must tolerate calls without panicking.
	m.Stats().IncOp("get")
}

type countingStats struct {
	ops int
}

func (c *countingStats) IncOp(string)           { c.ops++ }
func (c *countingStats) AddBytes(string, int64) {}
func (c *countingStats) IncLockWait(string)     {}
func (c *countingStats) IncOOM()                {}

func TestOpenWiresInjectedStats(t *testing.T) {
	cs := &countingStats{}
	m, err := Open(1<<16, WithStats(cs))
	require.NoError(t, err)
	defer m.Close()

	cid, st := m.Create(8)
	require.Equal(t, status.OK, st)
	require.True(t, cid.Valid())
	require.Equal(t, 1, cs.ops)
}

func TestShouldRunDefragFalseWhenDisabled(t *testing.T) {
	m, err := Open(1 << 16)
	require.NoError(t, err)
	defer m.Close()

	require.False(t, m.ShouldRunDefrag())
}

func TestWithDefragPolicyEnablesDetectorAndRunner(t *testing.T) {
	m, err := Open(1<<16, WithDefragPolicy(32, -1))
	require.NoError(t, err)
	defer m.Close()

	require.NotNil(t, m.detector)
	require.NotNil(t, m.defragRunner)

	result, err := m.RunDefragPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Moved)
}
