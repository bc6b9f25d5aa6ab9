package defrag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coeit/dxmem/internal/barrier"
	"github.com/coeit/dxmem/internal/cidtable"
	"github.com/coeit/dxmem/internal/heap"
	"github.com/coeit/dxmem/internal/lock"
	"github.com/coeit/dxmem/internal/status"
)

func newTestRunner(t *testing.T, heapSize uint64, batchSize int) (*heap.Heap, *cidtable.Table, *Runner) {
	t.Helper()
	h, err := heap.Init(heapSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	table := cidtable.New(1)
	b := barrier.New()
	l := lock.New(table)
	sel := NewSelector(batchSize)
	return h, table, NewRunner(h, table, b, l, sel, -1)
}

func TestRunPassRelocatesEntryAndPreservesBytes(t *testing.T) {
	h, table, runner := newTestRunner(t, 1<<16, 10)

	words, err := h.Malloc([]uint32{32})
	require.NoError(t, err)
	cid := table.ReserveLid()
	require.Equal(t, status.OK, table.Insert(cid, words[0]))

	payload := []byte("the quick brown fox jumps over!!")
	require.NoError(t, h.WriteBytes(words[0].Address(), payload[:32]))

	result, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Moved)

	handle, st := table.Translate(cid)
	require.Equal(t, status.OK, st)

	out := make([]byte, 32)
	require.NoError(t, h.ReadBytes(handle.Address(), out))
	require.Equal(t, payload[:32], out)
}

func TestRunPassSkipsPinnedEntries(t *testing.T) {
	h, table, runner := newTestRunner(t, 1<<16, 10)

	words, err := h.Malloc([]uint32{16})
	require.NoError(t, err)
	pinnedWord := words[0].WithPinned(true)
	cid := table.ReserveLid()
	require.Equal(t, status.OK, table.Insert(cid, pinnedWord))

	result, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Moved)

	handle, st := table.Translate(cid)
	require.Equal(t, status.OK, st)
	require.Equal(t, words[0].Address(), handle.Address(), "pinned entry must not move")
}

func TestRunPassReclaimsZombiesFirst(t *testing.T) {
	h, table, runner := newTestRunner(t, 1<<16, 10)

	words, err := h.Malloc([]uint32{16})
	require.NoError(t, err)
	cid := table.ReserveLid()
	require.Equal(t, status.OK, table.Insert(cid, words[0]))

	handle, _ := table.Translate(cid)
	table.MarkZombie(handle)

	result, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.ZombiesReclaimed)

	reused := table.ReserveLid()
	require.Equal(t, cid.LocalID(), reused.LocalID())
}

func TestRunPassLeavesNonCandidateUntouched(t *testing.T) {
	h, table, runner := newTestRunner(t, 1<<16, 0)
	words, err := h.Malloc([]uint32{16})
	require.NoError(t, err)
	cid := table.ReserveLid()
	require.Equal(t, status.OK, table.Insert(cid, words[0]))

	result, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Moved)

	handle, st := table.Translate(cid)
	require.Equal(t, status.OK, st)
	require.Equal(t, words[0].Address(), handle.Address())
}

func TestRunPassSkipsRemovedEntry(t *testing.T) {
	h, table, runner := newTestRunner(t, 1<<16, 10)
	words, err := h.Malloc([]uint32{16})
	require.NoError(t, err)
	cid := table.ReserveLid()
	require.Equal(t, status.OK, table.Insert(cid, words[0]))

	handle, _ := table.Translate(cid)
	table.MarkZombie(handle)
	require.NoError(t, h.Free(words[0]))

	result, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Moved)
	require.Equal(t, 1, result.ZombiesReclaimed)
}
