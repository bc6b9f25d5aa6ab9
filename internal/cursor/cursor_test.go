package cursor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coeit/dxmem/internal/testutil"
)

func TestFixedWidthRoundTrip(t *testing.T) {
	buf := testutil.NewBuffer(make([]byte, 64))
	w := New(nil, buf)

	require.NoError(t, w.WriteUint8(0xAB))
	require.NoError(t, w.WriteUint16(0x1234))
	require.NoError(t, w.WriteUint32(0xDEADBEEF))
	require.NoError(t, w.WriteUint64(0x0102030405060708))

	r := New(buf, nil)
	v8, err := r.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), v8)

	v16, err := r.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), v16)

	v32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), v32)

	v64, err := r.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), v64)
}

func TestCompactNumberRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 16384, 1 << 40, ^uint64(0)}

	for _, v := range cases {
		buf := testutil.NewBuffer(make([]byte, 0, 16))
		w := New(nil, buf)
		require.NoError(t, w.WriteCompactNumber(v))

		r := New(buf, nil)
		got, err := r.ReadCompactNumber()
		require.NoError(t, err)
		require.Equal(t, v, got, "value %d round trip", v)
	}
}

func TestCompactNumberSingleByteUnderneath128(t *testing.T) {
	buf := testutil.NewBuffer(make([]byte, 1))
	w := New(nil, buf)
	require.NoError(t, w.WriteCompactNumber(42))
	require.Equal(t, []byte{42}, buf.Bytes())
}

func TestStringRoundTrip(t *testing.T) {
	buf := testutil.NewBuffer(make([]byte, 0, 64))
	w := New(nil, buf)
	require.NoError(t, w.WriteString("hello, dxmem"))

	r := New(buf, nil)
	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello, dxmem", s)
}

func TestEmptyStringRoundTrip(t *testing.T) {
	buf := testutil.NewBuffer(make([]byte, 0, 8))
	w := New(nil, buf)
	require.NoError(t, w.WriteString(""))

	r := New(buf, nil)
	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "", s)
}

func TestBytesRoundTrip(t *testing.T) {
	buf := testutil.NewBuffer(make([]byte, 8))
	w := New(nil, buf)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, w.WriteBytes(data))

	r := New(buf, nil)
	got, err := r.ReadBytes(8)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestSequentialMixedRecord(t *testing.T) {
	buf := testutil.NewBuffer(make([]byte, 0, 64))
	w := New(nil, buf)
	require.NoError(t, w.WriteUint32(7))
	require.NoError(t, w.WriteString("chunk"))
	require.NoError(t, w.WriteCompactNumber(4096))

	r := New(buf, nil)
	n, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(7), n)

	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "chunk", s)

	cn, err := r.ReadCompactNumber()
	require.NoError(t, err)
	require.Equal(t, uint64(4096), cn)
}

func TestSeekRepositions(t *testing.T) {
	buf := testutil.NewBuffer(make([]byte, 16))
	w := New(nil, buf)
	require.NoError(t, w.WriteUint32(1))
	require.NoError(t, w.WriteUint32(2))

	r := New(buf, nil)
	r.Seek(4)
	v, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(2), v)
}
