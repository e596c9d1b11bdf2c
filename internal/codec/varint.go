package codec

import (
	"errors"
	"io"
)

// maxVarintLen is the maximum number of bytes a varint can occupy.
// A uint64 requires at most 10 bytes in LEB128 encoding.
const maxVarintLen = 10

// ErrVarintOverflow reports a varint that keeps setting its
// continuation bit past the 10 bytes a uint64 can need. That is
// corruption, not a short read.
var ErrVarintOverflow = errors.New("varint exceeds 10 bytes")

// appendUvarint appends the LEB128 encoding of v to dst: 7 bits of
// data per byte, MSB set while more bytes follow.
func appendUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// uvarintLen returns the number of bytes appendUvarint will use for v.
func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}

// readUvarint decodes a varint from r, reading one byte at a time so
// it never consumes past the end of the encoded value. EOF at any
// position, including before the first byte, surfaces as
// io.ErrUnexpectedEOF; stream decoders rely on that to mean "need
// more bytes" uniformly.
func readUvarint(r io.Reader) (uint64, error) {
	var (
		v     uint64
		shift uint
		buf   [1]byte
	)
	for i := 0; ; i++ {
		if i == maxVarintLen {
			return 0, ErrVarintOverflow
		}
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		b := buf[0]
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
	}
}
