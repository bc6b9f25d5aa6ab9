package address

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeLengthRoundTrip(t *testing.T) {
	sizes := []uint64{0, 1, 127, 2047, 2048, 4095, 1 << 20, (1 << 32) - 1}
	for _, size := range sizes {
		enc := EncodeLength(size)
		w := New(0, size)
		got := DecodeLength(w, enc.OverflowBytes)
		require.Equal(t, size, got, "size=%d", size)
	}
}

func TestEmbeddedVsSplitThreshold(t *testing.T) {
	w := New(0, EmbeddedLengthLimit)
	require.True(t, w.Embedded())
	require.Empty(t, EncodeLength(EmbeddedLengthLimit).OverflowBytes)

	w2 := New(0, EmbeddedLengthLimit+1)
	require.False(t, w2.Embedded())
	require.NotEmpty(t, EncodeLength(EmbeddedLengthLimit + 1).OverflowBytes)
}

func TestScenarioS2OverflowPrefixSingleByte(t *testing.T) {
	// create(2048): 2048 = 0x800. low byte = 0x00, high bits = 0x08 (1 byte).
	enc := EncodeLength(2048)
	require.False(t, enc.Embedded)
	require.Equal(t, []byte{0x08}, enc.OverflowBytes)

	w := New(0x1000, 2048)
	require.Equal(t, DecodeLength(w, enc.OverflowBytes), uint64(2048))
}

func TestAddressRoundTrip(t *testing.T) {
	w := New(12345, 100)
	require.Equal(t, uint64(12345), w.Address())

	w2 := w.WithAddress(99999)
	require.Equal(t, uint64(99999), w2.Address())
	// length field preserved
	require.Equal(t, DecodeLength(w2, nil), uint64(100))
}

func TestLockAndPinBits(t *testing.T) {
	w := New(0, 10)
	require.False(t, w.WriteLocked())
	require.Equal(t, uint8(0), w.ReadLocks())
	require.False(t, w.Pinned())

	w = w.WithReadLocks(5)
	require.Equal(t, uint8(5), w.ReadLocks())

	w = w.WithWriteLocked(true)
	require.True(t, w.WriteLocked())
	require.Equal(t, uint8(5), w.ReadLocks(), "write lock bit must not disturb reader count field")

	w = w.WithPinned(true)
	require.True(t, w.Pinned())
	require.True(t, w.WriteLocked())
}

func TestReadLockSaturation(t *testing.T) {
	w := New(0, 10).WithReadLocks(MaxReadLocks)
	require.Equal(t, uint8(MaxReadLocks), w.ReadLocks())
	require.Equal(t, uint8(127), w.ReadLocks())
}

func TestSentinels(t *testing.T) {
	require.True(t, Word(Free).IsFree())
	require.False(t, Word(Free).IsValid())

	require.True(t, Word(Zombie).IsZombie())
	require.False(t, Word(Zombie).IsValid())

	valid := New(10, 20)
	require.True(t, valid.IsValid())
}

func TestInvalidAddressNeverValid(t *testing.T) {
	w := New(0, 10).WithAddress(InvalidAddress)
	require.False(t, w.IsValid())
}

func TestCIDPackUnpack(t *testing.T) {
	c := NewCID(42, 1234567890)
	require.Equal(t, uint16(42), c.NodeID())
	require.Equal(t, uint64(1234567890), c.LocalID())
	require.True(t, c.Valid())
}

func TestCIDZeroLocalIsInvalid(t *testing.T) {
	c := NewCID(7, 0)
	require.False(t, c.Valid())
}

func TestCIDMaxLocalID(t *testing.T) {
	c := NewCID(1, MaxLocalID)
	require.Equal(t, uint64(MaxLocalID), c.LocalID())
}
