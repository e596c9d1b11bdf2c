package codec

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeFrameKnownBytes(t *testing.T) {
	var buf bytes.Buffer
	n, err := encodeFrame(&buf, frame{serial: 0x42, ident: 0x81, data: []byte("hello")})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x08, 0x42, 0x81, 0x01, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("encoded frame mismatch:\ngot  % x\nwant % x", buf.Bytes(), want)
	}
	if n != len(want) {
		t.Fatalf("reported %d bytes written, want %d", n, len(want))
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := frame{serial: 7, ident: 3, data: []byte("payload bytes")}
	if _, err := encodeFrame(&buf, in); err != nil {
		t.Fatal(err)
	}
	out, err := decodeFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if out.serial != in.serial || out.ident != in.ident {
		t.Fatalf("header mismatch: got serial=%d ident=%d, want serial=%d ident=%d",
			out.serial, out.ident, in.serial, in.ident)
	}
	if !bytes.Equal(out.data, in.data) {
		t.Fatalf("payload mismatch: got %q, want %q", out.data, in.data)
	}
	if out.compressed {
		t.Fatal("compressed flag should not be set")
	}
}

func TestFrameSizeSweep(t *testing.T) {
	// Sizes chosen to cross varint length boundaries in the length
	// prefix and to include a payload above 16MiB.
	sizes := []int{1, 127, 128, 247, 256, 65536, 16 * 1024 * 1024}
	for _, size := range sizes {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i * 7)
		}
		var buf bytes.Buffer
		in := frame{serial: uint64(size), ident: 9, data: payload}
		n, err := encodeFrame(&buf, in)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if n != buf.Len() {
			t.Fatalf("size %d: reported %d bytes, buffer has %d", size, n, buf.Len())
		}
		out, err := decodeFrame(&buf)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if out.serial != in.serial || out.ident != in.ident {
			t.Fatalf("size %d: header mismatch", size)
		}
		if !bytes.Equal(out.data, payload) {
			t.Fatalf("size %d: payload mismatch", size)
		}
	}
}

func TestFrameCompressedFlag(t *testing.T) {
	var buf bytes.Buffer
	in := frame{serial: 1, ident: 2, data: []byte("zzzz"), compressed: true}
	if _, err := encodeFrame(&buf, in); err != nil {
		t.Fatal(err)
	}
	// The flag lives in the top bit of the length varint, so the
	// encoded prefix must differ from the uncompressed form.
	if buf.Bytes()[0]&0x80 == 0 {
		t.Fatal("length prefix of a compressed frame should need more than one byte")
	}
	out, err := decodeFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !out.compressed {
		t.Fatal("compressed flag lost in round trip")
	}
	if !bytes.Equal(out.data, in.data) {
		t.Fatalf("payload mismatch: got %q, want %q", out.data, in.data)
	}
}

func TestDecodeFrameLengthUnderflow(t *testing.T) {
	// Declared length 1 cannot cover a serial varint plus an ident
	// varint, so the decoder must reject the frame as corrupt.
	data := appendUvarint(nil, 1)
	data = appendUvarint(data, 5)
	data = appendUvarint(data, 5)
	_, err := decodeFrame(bytes.NewReader(data))
	var corrupt *CorruptFrameError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptFrameError, got %v", err)
	}
}

func TestDecodeFrameTooLarge(t *testing.T) {
	data := appendUvarint(nil, maxFrameBytes+1)
	data = appendUvarint(data, 1)
	data = appendUvarint(data, 1)
	_, err := decodeFrame(bytes.NewReader(data))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	if _, err := encodeFrame(&buf, frame{serial: 1, ident: 1, data: []byte("hello")}); err != nil {
		t.Fatal(err)
	}
	// Drop the last two payload bytes.
	data := buf.Bytes()[:buf.Len()-2]
	_, err := decodeFrame(bytes.NewReader(data))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestDecodeFrameEmptyInput(t *testing.T) {
	_, err := decodeFrame(bytes.NewReader(nil))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

// --- Fuzz tests ---

// FuzzDecodeFrame feeds arbitrary bytes to the frame decoder. Any
// input may fail to decode, but none may panic or over-allocate.
func FuzzDecodeFrame(f *testing.F) {
	var seed bytes.Buffer
	encodeFrame(&seed, frame{serial: 0x42, ident: 0x81, data: []byte("hello")})
	f.Add(seed.Bytes())
	f.Add([]byte{0x08, 0x42, 0x81, 0x01, 'h', 'e', 'l', 'l', 'o'})
	f.Add([]byte{0x00})
	f.Add(bytes.Repeat([]byte{0xff}, 12))

	f.Fuzz(func(t *testing.T, data []byte) {
		decodeFrame(bytes.NewReader(data))
	})
}

// FuzzFrameRoundTrip checks that every frame we can encode decodes
// back to the same header and payload.
func FuzzFrameRoundTrip(f *testing.F) {
	f.Add(uint64(1), uint64(3), []byte("payload"), false)
	f.Add(uint64(0), uint64(0), []byte{}, true)

	f.Fuzz(func(t *testing.T, serial, ident uint64, data []byte, compressed bool) {
		if len(data) > 1<<20 {
			data = data[:1<<20]
		}
		var buf bytes.Buffer
		in := frame{serial: serial, ident: ident, data: data, compressed: compressed}
		if _, err := encodeFrame(&buf, in); err != nil {
			t.Fatal(err)
		}
		out, err := decodeFrame(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if out.serial != serial || out.ident != ident || out.compressed != compressed {
			t.Fatalf("header mismatch: got %+v", out)
		}
		if !bytes.Equal(out.data, data) {
			t.Fatal("payload mismatch")
		}
	})
}
