package commsutil

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	comms "github.com/nats-io/nats.go"
)

const codecLogPrefix = "commsutil:codec"

// Header values describing payload compression.
const (
	HeaderContentEncoding = "Content-Encoding"
	EncodingZstd          = "zstd"
)

// maxDecodedPayload bounds the memory a single compressed payload may expand to.
const maxDecodedPayload = 64 << 20

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedPayload))
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// CompressPayload zstd-compresses data when it is at least threshold bytes long.
// A threshold of zero or less disables compression. The second result reports
// whether the output is compressed.
func CompressPayload(data []byte, threshold int) ([]byte, bool, error) {
	if threshold <= 0 || len(data) < threshold {
		return data, false, nil
	}
	enc, _, err := zstdCodecs()
	if err != nil {
		return nil, false, fmt.Errorf("%s - zstd unavailable: %w", codecLogPrefix, err)
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), true, nil
}

// DecompressPayload reverses CompressPayload.
func DecompressPayload(data []byte) ([]byte, error) {
	_, dec, err := zstdCodecs()
	if err != nil {
		return nil, fmt.Errorf("%s - zstd unavailable: %w", codecLogPrefix, err)
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to decompress payload: %w", codecLogPrefix, err)
	}
	return out, nil
}

// NewMsg encodes v as the body of a message for subject, compressing it above threshold.
func NewMsg(subject string, v interface{}, threshold int) (*comms.Msg, error) {
	data, err := EncodePayload(v)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode payload: %w", codecLogPrefix, err)
	}
	body, compressed, err := CompressPayload(data, threshold)
	if err != nil {
		return nil, err
	}
	msg := comms.NewMsg(subject)
	msg.Data = body
	if compressed {
		msg.Header.Set(HeaderContentEncoding, EncodingZstd)
	}
	return msg, nil
}

// ReadMsg decodes the body of msg into v, decompressing it when the header says so.
func ReadMsg(msg *comms.Msg, v interface{}) error {
	data := msg.Data
	if msg.Header != nil && msg.Header.Get(HeaderContentEncoding) == EncodingZstd {
		var err error
		if data, err = DecompressPayload(data); err != nil {
			return err
		}
	}
	if err := DecodePayload(data, v); err != nil {
		return fmt.Errorf("%s - failed to decode payload: %w", codecLogPrefix, err)
	}
	return nil
}
