package defrag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coeit/dxmem/internal/address"
	"github.com/coeit/dxmem/internal/cidtable"
	"github.com/coeit/dxmem/internal/status"
)

func TestSelectorExcludesPinnedEntries(t *testing.T) {
	table := cidtable.New(1)

	cidFree := table.ReserveLid()
	require.Equal(t, status.OK, table.Insert(cidFree, address.New(10, 8)))

	cidPinned := table.ReserveLid()
	require.Equal(t, status.OK, table.Insert(cidPinned, address.New(20, 8).WithPinned(true)))

	sel := NewSelector(10)
	candidates := sel.Select(table)

	require.Len(t, candidates, 1)
	require.Equal(t, cidFree.LocalID(), candidates[0].CID.LocalID())
}

func TestSelectorRespectsBatchSize(t *testing.T) {
	table := cidtable.New(1)
	for i := 0; i < 5; i++ {
		cid := table.ReserveLid()
		require.Equal(t, status.OK, table.Insert(cid, address.New(uint64(i*16), 8)))
	}

	sel := NewSelector(2)
	candidates := sel.Select(table)
	require.Len(t, candidates, 2)
}
