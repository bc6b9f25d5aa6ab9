// Package cursor implements the sequential read/write cursor used by
// import/export (SPEC_FULL.md §4.I): fixed-width integers, a compact
// variable-length number encoding, length-prefixed strings, and raw byte
// runs, all tracked against an explicit position rather than a one-shot
// offset.
//
// Grounded on the teacher's variable-width address codec helpers
// (readAddressFromBytes/writeAddressToBytes, which already switch on
// byte-width to pack/unpack integers), generalized here into a stateful
// cursor over an io.ReaderAt/io.WriterAt source.
package cursor

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/coeit/dxmem/internal/bufpool"
)

// Cursor sequentially reads from r and/or writes to w, starting at
// position 0. Either r or w may be nil if the cursor is used in one
// direction only.
type Cursor struct {
	r   io.ReaderAt
	w   io.WriterAt
	pos int64
}

// New constructs a Cursor over r/w starting at position 0.
func New(r io.ReaderAt, w io.WriterAt) *Cursor {
	return &Cursor{r: r, w: w}
}

// Pos returns the current byte offset.
func (c *Cursor) Pos() int64 { return c.pos }

// Seek repositions the cursor to an absolute offset.
func (c *Cursor) Seek(pos int64) { c.pos = pos }

func (c *Cursor) readAt(n int) ([]byte, error) {
	buf := bufpool.Get(n)
	if _, err := c.r.ReadAt(buf[:n], c.pos); err != nil {
		bufpool.Put(buf)
		return nil, fmt.Errorf("cursor: read at %d: %w", c.pos, err)
	}
	c.pos += int64(n)
	return buf[:n], nil
}

func (c *Cursor) writeAt(b []byte) error {
	if _, err := c.w.WriteAt(b, c.pos); err != nil {
		return fmt.Errorf("cursor: write at %d: %w", c.pos, err)
	}
	c.pos += int64(len(b))
	return nil
}

// ReadUint8 reads a single byte.
func (c *Cursor) ReadUint8() (uint8, error) {
	buf, err := c.readAt(1)
	if err != nil {
		return 0, err
	}
	v := buf[0]
	bufpool.Put(buf)
	return v, nil
}

// WriteUint8 writes a single byte.
func (c *Cursor) WriteUint8(v uint8) error {
	return c.writeAt([]byte{v})
}

// ReadUint16 reads a little-endian uint16.
func (c *Cursor) ReadUint16() (uint16, error) {
	buf, err := c.readAt(2)
	if err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(buf)
	bufpool.Put(buf)
	return v, nil
}

// WriteUint16 writes v as little-endian.
func (c *Cursor) WriteUint16(v uint16) error {
	buf := bufpool.Get(2)
	defer bufpool.Put(buf)
	binary.LittleEndian.PutUint16(buf[:2], v)
	return c.writeAt(buf[:2])
}

// ReadUint32 reads a little-endian uint32.
func (c *Cursor) ReadUint32() (uint32, error) {
	buf, err := c.readAt(4)
	if err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(buf)
	bufpool.Put(buf)
	return v, nil
}

// WriteUint32 writes v as little-endian.
func (c *Cursor) WriteUint32(v uint32) error {
	buf := bufpool.Get(4)
	defer bufpool.Put(buf)
	binary.LittleEndian.PutUint32(buf[:4], v)
	return c.writeAt(buf[:4])
}

// ReadUint64 reads a little-endian uint64.
func (c *Cursor) ReadUint64() (uint64, error) {
	buf, err := c.readAt(8)
	if err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(buf)
	bufpool.Put(buf)
	return v, nil
}

// WriteUint64 writes v as little-endian.
func (c *Cursor) WriteUint64(v uint64) error {
	buf := bufpool.Get(8)
	defer bufpool.Put(buf)
	binary.LittleEndian.PutUint64(buf[:8], v)
	return c.writeAt(buf[:8])
}

// ReadCompactNumber decodes a 7-bit-group, high-bit-continuation varint.
func (c *Cursor) ReadCompactNumber() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := c.ReadUint8()
		if err != nil {
			return 0, fmt.Errorf("cursor: compact number: %w", err)
		}
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("cursor: compact number overflows 64 bits")
		}
	}
}

// WriteCompactNumber encodes v as 7-bit groups with a continuation bit,
// least-significant group first.
func (c *Cursor) WriteCompactNumber(v uint64) error {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		if err := c.WriteUint8(b); err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}

// ReadBytes reads exactly n raw bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	buf, err := c.readAt(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf)
	bufpool.Put(buf)
	return out, nil
}

// WriteBytes writes b verbatim.
func (c *Cursor) WriteBytes(b []byte) error {
	return c.writeAt(b)
}

// ReadString reads a compact-number length prefix followed by that many
// raw bytes, decoded as a string.
func (c *Cursor) ReadString() (string, error) {
	n, err := c.ReadCompactNumber()
	if err != nil {
		return "", fmt.Errorf("cursor: string length: %w", err)
	}
	b, err := c.ReadBytes(int(n))
	if err != nil {
		return "", fmt.Errorf("cursor: string body: %w", err)
	}
	return string(b), nil
}

// WriteString writes s as a compact-number length prefix followed by its
// raw bytes.
func (c *Cursor) WriteString(s string) error {
	if err := c.WriteCompactNumber(uint64(len(s))); err != nil {
		return err
	}
	return c.WriteBytes([]byte(s))
}
