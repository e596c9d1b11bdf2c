package codec

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 0x7f, 0x80, 0x81, 0x3fff, 0x4000,
		300, 1 << 21, 1 << 32, 1<<63 - 1, 1 << 63, 1<<64 - 1,
	}
	for _, v := range values {
		encoded := appendUvarint(nil, v)
		if len(encoded) != uvarintLen(v) {
			t.Fatalf("value %d: encoded %d bytes, uvarintLen says %d", v, len(encoded), uvarintLen(v))
		}
		decoded, err := readUvarint(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("value %d: %v", v, err)
		}
		if decoded != v {
			t.Fatalf("round trip mismatch: got %d, want %d", decoded, v)
		}
	}
}

func TestUvarintKnownEncodings(t *testing.T) {
	cases := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{0x7f, []byte{0x7f}},
		{0x80, []byte{0x80, 0x01}},
		{0x81, []byte{0x81, 0x01}},
		{300, []byte{0xac, 0x02}},
	}
	for _, c := range cases {
		got := appendUvarint(nil, c.v)
		if !bytes.Equal(got, c.want) {
			t.Fatalf("value %d: got % x, want % x", c.v, got, c.want)
		}
	}
}

func TestReadUvarintOverflow(t *testing.T) {
	// Eleven continuation bytes: more than a uint64 can ever need.
	data := bytes.Repeat([]byte{0xff}, 11)
	_, err := readUvarint(bytes.NewReader(data))
	if !errors.Is(err, ErrVarintOverflow) {
		t.Fatalf("expected ErrVarintOverflow, got %v", err)
	}
}

func TestReadUvarintEOF(t *testing.T) {
	// EOF before the first byte and mid-varint both classify as
	// unexpected EOF so stream decoders treat them as short reads.
	for _, data := range [][]byte{{}, {0x80}, {0xff, 0xff}} {
		_, err := readUvarint(bytes.NewReader(data))
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("input % x: expected io.ErrUnexpectedEOF, got %v", data, err)
		}
	}
}

func TestReadUvarintStopsAtTerminator(t *testing.T) {
	// The byte after the varint must stay unread.
	r := bytes.NewReader([]byte{0xac, 0x02, 0x99})
	v, err := readUvarint(r)
	if err != nil {
		t.Fatal(err)
	}
	if v != 300 {
		t.Fatalf("got %d, want 300", v)
	}
	if r.Len() != 1 {
		t.Fatalf("reader should have 1 byte left, has %d", r.Len())
	}
}
