package codec

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func encodePdus(t *testing.T, pdus ...*DecodedPdu) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, d := range pdus {
		if _, err := Encode(&buf, d.Serial, d.Pdu); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestStreamDecodeByteAtATime(t *testing.T) {
	wire := encodePdus(t, &DecodedPdu{Serial: 7, Pdu: &WriteToPane{PaneID: 2, Data: []byte("hi")}})

	var buf []byte
	for i, b := range wire {
		buf = append(buf, b)
		decoded, err := StreamDecode(&buf)
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		if i < len(wire)-1 {
			if decoded != nil {
				t.Fatalf("decoded after %d of %d bytes", i+1, len(wire))
			}
			continue
		}
		if decoded == nil {
			t.Fatal("no pdu after the full frame arrived")
		}
		if decoded.Serial != 7 {
			t.Fatalf("got serial %d, want 7", decoded.Serial)
		}
		write, ok := decoded.Pdu.(*WriteToPane)
		if !ok {
			t.Fatalf("expected *WriteToPane, got %T", decoded.Pdu)
		}
		if string(write.Data) != "hi" {
			t.Fatalf("got data %q, want %q", write.Data, "hi")
		}
	}
	if len(buf) != 0 {
		t.Fatalf("buffer should be drained, has %d bytes", len(buf))
	}
}

func TestStreamDecodeBackToBack(t *testing.T) {
	buf := encodePdus(t,
		&DecodedPdu{Serial: 1, Pdu: &Ping{}},
		&DecodedPdu{Serial: 2, Pdu: &Pong{}},
	)

	first, err := StreamDecode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if first == nil {
		t.Fatal("expected first pdu")
	}
	if _, ok := first.Pdu.(*Ping); !ok {
		t.Fatalf("expected *Ping, got %T", first.Pdu)
	}

	second, err := StreamDecode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if second == nil {
		t.Fatal("expected second pdu")
	}
	if _, ok := second.Pdu.(*Pong); !ok {
		t.Fatalf("expected *Pong, got %T", second.Pdu)
	}

	third, err := StreamDecode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if third != nil {
		t.Fatalf("empty buffer decoded %s", PduName(third.Pdu))
	}
}

func TestStreamDecodeKeepsPartialSuccessor(t *testing.T) {
	whole := encodePdus(t,
		&DecodedPdu{Serial: 1, Pdu: &Ping{}},
		&DecodedPdu{Serial: 2, Pdu: &WriteToPane{PaneID: 1, Data: []byte("payload")}},
	)
	// First frame plus half of the second.
	firstLen := len(encodePdus(t, &DecodedPdu{Serial: 1, Pdu: &Ping{}}))
	cut := firstLen + (len(whole)-firstLen)/2
	buf := append([]byte(nil), whole[:cut]...)

	decoded, err := StreamDecode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if decoded == nil {
		t.Fatal("first pdu should decode")
	}
	if !bytes.Equal(buf, whole[firstLen:cut]) {
		t.Fatal("partial second frame was not preserved")
	}

	// The rest arrives; the second frame completes.
	buf = append(buf, whole[cut:]...)
	decoded, err = StreamDecode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if decoded == nil {
		t.Fatal("second pdu should decode")
	}
	if decoded.Serial != 2 {
		t.Fatalf("got serial %d, want 2", decoded.Serial)
	}
}

func TestStreamDecodeCorruptIsFatal(t *testing.T) {
	// Underflowing length is corruption, not a short read: it must
	// not be reported as "need more bytes".
	buf := appendUvarint(nil, 1)
	buf = appendUvarint(buf, 5)
	buf = appendUvarint(buf, 5)
	_, err := StreamDecode(&buf)
	var corrupt *CorruptFrameError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptFrameError, got %v", err)
	}
}

func TestTryReadAndDecodeTwoThenClose(t *testing.T) {
	wire := encodePdus(t,
		&DecodedPdu{Serial: 1, Pdu: &Ping{}},
		&DecodedPdu{Serial: 2, Pdu: &Pong{}},
	)
	r := bytes.NewReader(wire)
	var buf []byte

	first, err := TryReadAndDecode(r, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := first.Pdu.(*Ping); !ok {
		t.Fatalf("expected *Ping, got %T", first.Pdu)
	}

	second, err := TryReadAndDecode(r, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := second.Pdu.(*Pong); !ok {
		t.Fatalf("expected *Pong, got %T", second.Pdu)
	}

	// Stream exhausted: the close surfaces as an unexpected EOF so
	// callers have a single condition to watch for.
	_, err = TryReadAndDecode(r, &buf)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestTryReadAndDecodeDribblingReader(t *testing.T) {
	wire := encodePdus(t, &DecodedPdu{Serial: 5, Pdu: &WriteToPane{PaneID: 9, Data: []byte("slow link")}})
	r := iotest.OneByteReader(bytes.NewReader(wire))
	var buf []byte

	decoded, err := TryReadAndDecode(r, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Serial != 5 {
		t.Fatalf("got serial %d, want 5", decoded.Serial)
	}
	write, ok := decoded.Pdu.(*WriteToPane)
	if !ok {
		t.Fatalf("expected *WriteToPane, got %T", decoded.Pdu)
	}
	if string(write.Data) != "slow link" {
		t.Fatalf("got %q, want %q", write.Data, "slow link")
	}
}

func TestTryReadAndDecodeMidFrameClose(t *testing.T) {
	wire := encodePdus(t, &DecodedPdu{Serial: 1, Pdu: &WriteToPane{PaneID: 1, Data: []byte("truncated")}})
	r := bytes.NewReader(wire[:len(wire)-3])
	var buf []byte

	_, err := TryReadAndDecode(r, &buf)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

// --- Fuzz tests ---

// FuzzStreamDecode drives the incremental decoder over arbitrary
// buffers, draining every decodable pdu. Must never panic and must
// always make progress or stop.
func FuzzStreamDecode(f *testing.F) {
	f.Add(encodePdusForFuzz())
	f.Add([]byte{0x08, 0x42, 0x81, 0x01, 'h', 'e', 'l', 'l', 'o'})
	f.Add([]byte{0x00, 0x00, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		buf := append([]byte(nil), data...)
		for i := 0; i < 100; i++ {
			before := len(buf)
			decoded, err := StreamDecode(&buf)
			if err != nil {
				return
			}
			if decoded == nil {
				if len(buf) != before {
					t.Fatal("no pdu decoded but buffer length changed")
				}
				return
			}
			if len(buf) >= before {
				t.Fatal("pdu decoded but buffer did not shrink")
			}
		}
	})
}

func encodePdusForFuzz() []byte {
	var buf bytes.Buffer
	Encode(&buf, 1, &Ping{})
	Encode(&buf, 2, &WriteToPane{PaneID: 3, Data: []byte("seed")})
	return buf.Bytes()
}
