package codec

import (
	"errors"
	"fmt"
	"io"
)

// Wire format, one frame per PDU:
//
//	varint(tagged_length) varint(serial) varint(ident) payload
//
// tagged_length carries the compression flag in its top bit; the
// remaining bits count the serial varint, the ident varint and the
// payload together. The header is varint-coded so small frames pay a
// few bytes, not a fixed header.
const compressedMask = uint64(1) << 63

// maxFrameBytes bounds a frame's declared length so a corrupt or
// hostile length cannot trigger an arbitrarily large allocation.
const maxFrameBytes = 256 << 20

// ErrFrameTooLarge reports a frame above maxFrameBytes in either
// direction.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// CorruptFrameError reports a frame whose fields cannot be reconciled
// with each other or with the connection state. It usually means the
// peer is not speaking this protocol at all.
type CorruptFrameError struct {
	Reason string
}

func (e *CorruptFrameError) Error() string { return "corrupt frame: " + e.Reason }

type frame struct {
	serial     uint64
	ident      uint64
	data       []byte
	compressed bool
}

// encodeFrame writes f as one contiguous buffer so that, with nodelay
// set on the transport, a small frame goes out in a single packet.
// Returns the total number of bytes written.
func encodeFrame(w io.Writer, f frame) (int, error) {
	length := uint64(len(f.data)) + uint64(uvarintLen(f.serial)) + uint64(uvarintLen(f.ident))
	if length > maxFrameBytes {
		return 0, ErrFrameTooLarge
	}
	tagged := length
	if f.compressed {
		tagged |= compressedMask
	}
	buf := make([]byte, 0, uvarintLen(tagged)+int(length))
	buf = appendUvarint(buf, tagged)
	buf = appendUvarint(buf, f.serial)
	buf = appendUvarint(buf, f.ident)
	buf = append(buf, f.data...)
	if _, err := w.Write(buf); err != nil {
		return 0, fmt.Errorf("writing pdu: %w", err)
	}
	return len(buf), nil
}

// decodeFrame reads one frame from r, blocking until the frame is
// complete. The length arithmetic is validated before the payload is
// believed: the declared length must cover the serial and ident
// varints it claims to include.
func decodeFrame(r io.Reader) (frame, error) {
	var f frame

	tagged, err := readUvarint(r)
	if err != nil {
		return f, fmt.Errorf("reading pdu length: %w", err)
	}
	f.compressed = tagged&compressedMask != 0
	length := tagged &^ compressedMask
	if length > maxFrameBytes {
		return f, ErrFrameTooLarge
	}

	f.serial, err = readUvarint(r)
	if err != nil {
		return f, fmt.Errorf("reading pdu serial: %w", err)
	}
	f.ident, err = readUvarint(r)
	if err != nil {
		return f, fmt.Errorf("reading pdu ident: %w", err)
	}

	overhead := uint64(uvarintLen(f.serial)) + uint64(uvarintLen(f.ident))
	if length < overhead {
		return f, &CorruptFrameError{Reason: fmt.Sprintf(
			"sizes don't make sense: total len %d, serial len %d, ident len %d",
			length, uvarintLen(f.serial), uvarintLen(f.ident))}
	}

	dataLen := length - overhead
	f.data = make([]byte, dataLen)
	if dataLen > 0 {
		if _, err := io.ReadFull(r, f.data); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return f, fmt.Errorf("reading %d bytes of pdu data: %w", dataLen, err)
		}
	}
	return f, nil
}
