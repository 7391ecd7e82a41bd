package run

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/MikhailWahib/stratadb/internal/config"
)

// Codec identifies how a data block is stored.
type Codec byte

const (
	CodecNone Codec = iota
	CodecZstd
	CodecLZ4
)

// blockHeaderSize is [1 byte codec][4 bytes raw length].
const blockHeaderSize = 5

// ParseCodec maps a config compression name to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", config.CompressionNone:
		return CodecNone, nil
	case config.CompressionZstd:
		return CodecZstd, nil
	case config.CompressionLZ4:
		return CodecLZ4, nil
	}
	return CodecNone, fmt.Errorf("run: unknown codec %q", name)
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return config.CompressionNone
	case CodecZstd:
		return config.CompressionZstd
	case CodecLZ4:
		return config.CompressionLZ4
	}
	return fmt.Sprintf("codec(%d)", byte(c))
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// zstdCoders returns process-wide coders. EncodeAll and DecodeAll are safe
// for concurrent use.
func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// encodeBlock frames raw with a header, compressing it when that saves space.
func encodeBlock(codec Codec, raw []byte) ([]byte, error) {
	var payload []byte
	switch codec {
	case CodecZstd:
		enc, _, err := zstdCoders()
		if err != nil {
			return nil, fmt.Errorf("run: init zstd: %w", err)
		}
		payload = enc.EncodeAll(raw, nil)
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("run: lz4 compress: %w", err)
		}
		payload = buf[:n]
	}

	// Store uncompressed when compression does not help
	if len(payload) == 0 || len(payload) >= len(raw) {
		codec, payload = CodecNone, raw
	}

	out := make([]byte, blockHeaderSize, blockHeaderSize+len(payload))
	out[0] = byte(codec)
	binary.BigEndian.PutUint32(out[1:blockHeaderSize], uint32(len(raw)))
	return append(out, payload...), nil
}

// decodeBlock reverses encodeBlock.
func decodeBlock(stored []byte) ([]byte, error) {
	if len(stored) < blockHeaderSize {
		return nil, fmt.Errorf("%w: block shorter than header", ErrCorrupt)
	}
	codec := Codec(stored[0])
	rawLen := int(binary.BigEndian.Uint32(stored[1:blockHeaderSize]))
	payload := stored[blockHeaderSize:]

	switch codec {
	case CodecNone:
		if len(payload) != rawLen {
			return nil, fmt.Errorf("%w: block length mismatch", ErrCorrupt)
		}
		return payload, nil
	case CodecZstd:
		_, dec, err := zstdCoders()
		if err != nil {
			return nil, fmt.Errorf("run: init zstd: %w", err)
		}
		raw, err := dec.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if len(raw) != rawLen {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return raw, nil
	case CodecLZ4:
		raw := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: unknown block codec %d", ErrCorrupt, codec)
}
