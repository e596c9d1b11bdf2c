// Package codec implements the mux wire protocol: LEB128-framed PDUs
// with CBOR bodies and optional zstd compression.
//
// Requests travel with a nonzero, strictly increasing serial; the
// response to a request echoes its serial. Serial 0 marks a
// server-initiated (unilateral) PDU. Idents identify the PDU variant
// and are a protocol constant forever: the registry below is append
// only, and retired idents are never reassigned.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
)

// Version is the protocol compatibility number exchanged by
// GetCodecVersion. Bump it whenever a PDU is added or a body shape
// changes; both ends must agree before any other call.
const Version uint64 = 12

// Pdu is implemented by every protocol data unit. The method is
// unexported so the set of PDUs is closed; decoding relies on the
// registry being exhaustive.
type Pdu interface {
	ident() uint64
}

// DecodedPdu pairs a decoded PDU with the serial it arrived under.
type DecodedPdu struct {
	Serial uint64
	Pdu    Pdu
}

// Invalid stands in for a PDU whose ident this build does not know.
// Decoding produces it instead of failing so an older build can keep
// talking to a newer peer; the unknown payload is discarded. Invalid
// cannot be encoded.
type Invalid struct {
	Ident uint64
}

func (p *Invalid) ident() uint64 { return p.Ident }

// pduRegistry is the append-only list of every PDU this build speaks.
// Idents live on the types themselves (see messages.go); the registry
// exists so decode can construct by ident and tests can prove no
// ident is duplicated or reuses a retired slot.
var pduRegistry = []func() Pdu{
	func() Pdu { return &ErrorResponse{} },
	func() Pdu { return &Ping{} },
	func() Pdu { return &Pong{} },
	func() Pdu { return &ListPanes{} },
	func() Pdu { return &ListPanesResponse{} },
	func() Pdu { return &Spawn{} },
	func() Pdu { return &SpawnResponse{} },
	func() Pdu { return &WriteToPane{} },
	func() Pdu { return &UnitResponse{} },
	func() Pdu { return &SendKeyDown{} },
	func() Pdu { return &SendMouseEvent{} },
	func() Pdu { return &SendPaste{} },
	func() Pdu { return &Resize{} },
	func() Pdu { return &SetClipboard{} },
	func() Pdu { return &GetLines{} },
	func() Pdu { return &GetLinesResponse{} },
	func() Pdu { return &GetPaneRenderChanges{} },
	func() Pdu { return &GetPaneRenderChangesResponse{} },
	func() Pdu { return &GetCodecVersion{} },
	func() Pdu { return &GetCodecVersionResponse{} },
	func() Pdu { return &GetTlsCreds{} },
	func() Pdu { return &GetTlsCredsResponse{} },
	func() Pdu { return &LivenessResponse{} },
	func() Pdu { return &SearchScrollbackRequest{} },
	func() Pdu { return &SearchScrollbackResponse{} },
	func() Pdu { return &SetPaneZoomed{} },
	func() Pdu { return &SplitPane{} },
}

// retiredIdents belonged to PDUs that no longer exist. They must
// never be reassigned: an old peer would decode the new PDU as the
// old one.
var retiredIdents = map[uint64]bool{
	5: true, 6: true, 15: true, 16: true, 17: true, 18: true, 19: true, 21: true,
}

var pduByIdent = func() map[uint64]func() Pdu {
	m := make(map[uint64]func() Pdu, len(pduRegistry))
	for _, ctor := range pduRegistry {
		m[ctor().ident()] = ctor
	}
	return m
}()

// PduName returns the variant name for logs and metrics labels.
func PduName(p Pdu) string {
	if inv, ok := p.(*Invalid); ok {
		return fmt.Sprintf("Invalid(%d)", inv.Ident)
	}
	t := reflect.TypeOf(p)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// PduPaneID returns the routing pane id for pane-scoped PDUs. The
// connection engine uses it to route unilateral PDUs; a unilateral
// PDU without one is a protocol violation.
func PduPaneID(p Pdu) (PaneID, bool) {
	switch v := p.(type) {
	case *GetPaneRenderChangesResponse:
		return v.PaneID, true
	case *SetClipboard:
		return v.PaneID, true
	}
	return 0, false
}

// Encode frames and writes one PDU under the given serial, returning
// the total number of bytes written.
func Encode(w io.Writer, serial uint64, p Pdu) (int, error) {
	if inv, ok := p.(*Invalid); ok {
		return 0, fmt.Errorf("refusing to encode Invalid pdu (ident %d)", inv.Ident)
	}
	data, compressed, err := encodeBody(p)
	if err != nil {
		return 0, fmt.Errorf("encoding %s: %w", PduName(p), err)
	}
	n, err := encodeFrame(w, frame{
		serial:     serial,
		ident:      p.ident(),
		data:       data,
		compressed: compressed,
	})
	if err != nil {
		return 0, err
	}
	observeFrame("encode", PduName(p), len(data), compressed)
	return n, nil
}

// Decode reads one PDU from r, blocking until a full frame arrives.
func Decode(r io.Reader) (*DecodedPdu, error) {
	f, err := decodeFrame(r)
	if err != nil {
		return nil, err
	}
	ctor, ok := pduByIdent[f.ident]
	if !ok {
		// A newer peer sent something this build does not understand.
		// That is not an error; the payload is dropped.
		return &DecodedPdu{Serial: f.serial, Pdu: &Invalid{Ident: f.ident}}, nil
	}
	p := ctor()
	if err := decodeBody(f.data, f.compressed, p); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", PduName(p), err)
	}
	observeFrame("decode", PduName(p), len(f.data), f.compressed)
	return &DecodedPdu{Serial: f.serial, Pdu: p}, nil
}

// StreamDecode attempts to decode one PDU from the front of *buf. On
// success the consumed prefix is removed by shifting the remainder
// down, so *buf keeps its capacity across calls. A nil PDU with a nil
// error means the buffer does not yet hold a complete frame.
func StreamDecode(buf *[]byte) (*DecodedPdu, error) {
	r := bytes.NewReader(*buf)
	decoded, err := Decode(r)
	if err != nil {
		// Ran out of bytes inside the frame: not an error, the rest
		// has not arrived yet. Anything else is real.
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil
		}
		return nil, err
	}
	consumed := len(*buf) - r.Len()
	n := copy(*buf, (*buf)[consumed:])
	*buf = (*buf)[:n]
	return decoded, nil
}

// readChunkSize bounds each read when pulling bytes for the streaming
// decoder.
const readChunkSize = 4096

// TryReadAndDecode returns the next PDU arriving on r, carrying
// partial frames across calls in *buf. A read that returns no bytes
// fails with io.ErrUnexpectedEOF: the peer closed the stream, whether
// or not a frame was torn by it.
func TryReadAndDecode(r io.Reader, buf *[]byte) (*DecodedPdu, error) {
	for {
		decoded, err := StreamDecode(buf)
		if err != nil || decoded != nil {
			return decoded, err
		}
		var chunk [readChunkSize]byte
		n, err := r.Read(chunk[:])
		if n > 0 {
			*buf = append(*buf, chunk[:n]...)
			continue
		}
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
}
