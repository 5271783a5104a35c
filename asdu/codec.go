package asdu

import (
	"encoding/binary"
	"fmt"
	"math"
)

// All multi-byte scalars on the wire are little-endian (spec.md §4.2).

func appendUint16(buf []byte, v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return append(buf, b...)
}

func appendUint32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return append(buf, b...)
}

func appendIOA(buf []byte, ioa IOA, width int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(ioa))
	return append(buf, b[:width]...)
}

func decodeIOA(b []byte, width int) IOA {
	var raw [4]byte
	copy(raw[:width], b[:width])
	return IOA(binary.LittleEndian.Uint32(raw[:]))
}

func appendCommonAddr(buf []byte, ca CommonAddr, width int) []byte {
	if width == 1 {
		return append(buf, byte(ca))
	}
	return appendUint16(buf, uint16(ca))
}

func decodeCommonAddr(b []byte, width int) CommonAddr {
	if width == 1 {
		return CommonAddr(b[0])
	}
	return CommonAddr(binary.LittleEndian.Uint16(b))
}

// cursor is a small read cursor over a decode buffer. It never panics
// on underrun; an underrun is recorded in its err field, which callers
// check once at the end of a decode sequence.
type cursor struct {
	data []byte
	pos  int
	err  error
}

func (c *cursor) need(n int) []byte {
	if c.err != nil {
		return make([]byte, n)
	}
	if c.pos+n > len(c.data) {
		c.err = fmt.Errorf("asdu: information object truncated: need %d bytes at offset %d, have %d", n, c.pos, len(c.data))
		return make([]byte, n)
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b
}

func (c *cursor) byte() byte {
	return c.need(1)[0]
}

func (c *cursor) ioa(width int) IOA {
	return decodeIOA(c.need(width), width)
}

func (c *cursor) uint16() uint16 {
	return binary.LittleEndian.Uint16(c.need(2))
}

func (c *cursor) int16() int16 {
	return int16(c.uint16())
}

func (c *cursor) uint32() uint32 {
	return binary.LittleEndian.Uint32(c.need(4))
}

func (c *cursor) float32() float32 {
	return math.Float32frombits(c.uint32())
}

func (c *cursor) cp24() CP24Time2a {
	var t CP24Time2a
	copy(t[:], c.need(3))
	return t
}

func (c *cursor) cp56() CP56Time2a {
	var t CP56Time2a
	copy(t[:], c.need(7))
	return t
}

func (c *cursor) bcr() BinaryCounterReading {
	return parseBCR(c.need(5))
}

func (c *cursor) remaining() int {
	return len(c.data) - c.pos
}
