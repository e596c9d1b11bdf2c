package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// compressThresh is the body size in bytes above which encoding tries
// zstd. Tiny bodies never win from compression, so they skip the
// attempt entirely.
const compressThresh = 32

// Bodies are CBOR with Core Deterministic Encoding: the same PDU
// always produces identical bytes. Decoding ignores unknown fields,
// which is what lets one codec version tolerate additive changes from
// a slightly newer peer.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	// Shared across all connections; both are safe for concurrent use.
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: cbor encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: cbor decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeBody serializes a PDU body, compressing it when that wins. A
// body whose compressed form is no smaller is kept raw, so the flag
// on the wire always means "smaller than the original".
func encodeBody(v any) (data []byte, compressed bool, err error) {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("encoding pdu body: %w", err)
	}
	if len(raw) <= compressThresh {
		return raw, false, nil
	}
	z := zstdEncoder.EncodeAll(raw, nil)
	if len(z) >= len(raw) {
		return raw, false, nil
	}
	return z, true, nil
}

// decodeBody deserializes a PDU body into v, decompressing first when
// the frame was flagged compressed.
func decodeBody(data []byte, compressed bool, v any) error {
	if compressed {
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("decompressing pdu body: %w", err)
		}
		data = raw
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding pdu body: %w", err)
	}
	return nil
}
