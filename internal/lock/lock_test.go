package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coeit/dxmem/internal/address"
	"github.com/coeit/dxmem/internal/cidtable"
	"github.com/coeit/dxmem/internal/status"
)

func newEntry(t *testing.T) (*cidtable.Table, address.CID, *Locker) {
	t.Helper()
	tbl := cidtable.New(1)
	cid := tbl.ReserveLid()
	require.Equal(t, status.OK, tbl.Insert(cid, address.New(100, 10)))
	return tbl, cid, New(tbl)
}

func TestAcquireReleaseReadLockRoundTrip(t *testing.T) {
	tbl, cid, l := newEntry(t)

	h, st := tbl.Translate(cid)
	require.Equal(t, status.OK, st)

	require.Equal(t, status.OK, l.AcquireReadLock(h, -1))
	require.Equal(t, uint8(1), h.Current.ReadLocks())

	l.ReleaseReadLock(h)
	require.Equal(t, uint8(0), h.Current.ReadLocks())
}

func TestMultipleReadersConcurrently(t *testing.T) {
	tbl, cid, l := newEntry(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, st := tbl.Translate(cid)
			require.Equal(t, status.OK, st)
			require.Equal(t, status.OK, l.AcquireReadLock(h, -1))
			time.Sleep(time.Millisecond)
			l.ReleaseReadLock(h)
		}()
	}
	wg.Wait()

	h, _ := tbl.Translate(cid)
	require.Equal(t, uint8(0), h.Current.ReadLocks())
}

func TestWriteLockExcludesReaders(t *testing.T) {
	tbl, cid, l := newEntry(t)

	wh, st := tbl.Translate(cid)
	require.Equal(t, status.OK, st)
	require.Equal(t, status.OK, l.AcquireWriteLock(wh, -1))

	rh, _ := tbl.Translate(cid)
	require.Equal(t, status.LockTimeout, l.AcquireReadLock(rh, 0))

	l.ReleaseWriteLock(wh)

	rh2, _ := tbl.Translate(cid)
	require.Equal(t, status.OK, l.AcquireReadLock(rh2, 0))
}

// TestWriteLockWaitsForReadersThenTimesOut exercises scenario S5: a writer
// waiting on an outstanding reader with a bounded timeout gives up and
// releases the write-lock bit it provisionally set, rather than leaving the
// entry permanently unwritable.
func TestWriteLockWaitsForReadersThenTimesOut(t *testing.T) {
	tbl, cid, l := newEntry(t)

	rh, _ := tbl.Translate(cid)
	require.Equal(t, status.OK, l.AcquireReadLock(rh, -1))

	wh, _ := tbl.Translate(cid)
	st := l.AcquireWriteLock(wh, 20)
	require.Equal(t, status.LockTimeout, st)

	fresh, _ := tbl.Translate(cid)
	require.False(t, fresh.Current.WriteLocked(), "timed-out writer must release the write-lock bit")
	require.Equal(t, uint8(1), fresh.Current.ReadLocks())
}

func TestWriteLockSucceedsAfterReaderReleases(t *testing.T) {
	tbl, cid, l := newEntry(t)

	rh, _ := tbl.Translate(cid)
	require.Equal(t, status.OK, l.AcquireReadLock(rh, -1))

	done := make(chan status.Status, 1)
	go func() {
		wh, _ := tbl.Translate(cid)
		done <- l.AcquireWriteLock(wh, -1)
	}()

	time.Sleep(5 * time.Millisecond)
	l.ReleaseReadLock(rh)

	require.Equal(t, status.OK, <-done)
}

func TestAcquireReadLockOneShotTimeoutWhenWriteLocked(t *testing.T) {
	tbl, cid, l := newEntry(t)

	wh, _ := tbl.Translate(cid)
	require.Equal(t, status.OK, l.AcquireWriteLock(wh, -1))

	rh, _ := tbl.Translate(cid)
	start := time.Now()
	st := l.AcquireReadLock(rh, 0)
	elapsed := time.Since(start)

	require.Equal(t, status.LockTimeout, st)
	require.Less(t, elapsed, 5*time.Millisecond, "a zero timeout must not yield or sleep")
}

func TestAcquireLockOnInvalidEntryReturnsInvalidID(t *testing.T) {
	tbl, cid, l := newEntry(t)

	h, _ := tbl.Translate(cid)
	tbl.MarkZombie(h)

	require.Equal(t, status.InvalidID, l.AcquireReadLock(h, -1))
	require.Equal(t, status.InvalidID, l.AcquireWriteLock(h, -1))
}

func TestSecondWriterBlocksUntilFirstReleases(t *testing.T) {
	tbl, cid, l := newEntry(t)

	h1, _ := tbl.Translate(cid)
	require.Equal(t, status.OK, l.AcquireWriteLock(h1, -1))

	h2, _ := tbl.Translate(cid)
	st := l.AcquireWriteLock(h2, 20)
	require.Equal(t, status.LockTimeout, st)

	l.ReleaseWriteLock(h1)

	h3, _ := tbl.Translate(cid)
	require.Equal(t, status.OK, l.AcquireWriteLock(h3, -1))
	l.ReleaseWriteLock(h3)
}
