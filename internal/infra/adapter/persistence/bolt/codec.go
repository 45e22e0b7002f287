package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// CompressionThreshold is the minimum value size before compression is tried.
	CompressionThreshold = 2048

	// MaxDecompressedSize caps decompression to guard against compression bombs.
	MaxDecompressedSize = 10 * 1024 * 1024

	encodingIdentity byte = 0
	encodingZstd     byte = 1

	headerSize = 1 + 8 // encoding + expiry (unix nanos, 0 = none)
)

var (
	// ErrCorrupted is returned when a stored record cannot be decoded.
	ErrCorrupted = errors.New("bolt: corrupted record")

	// ErrDecompressionBomb is returned when a value inflates past MaxDecompressedSize.
	ErrDecompressionBomb = errors.New("bolt: decompressed value exceeds maximum size")
)

// record layout: [encoding:1][expiresAt:8 big endian unix nanos][payload]
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &codec{encoder: enc, decoder: dec}, nil
}

func (c *codec) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

func (c *codec) encode(value []byte, expiresAt time.Time) []byte {
	encoding := encodingIdentity
	payload := value

	if len(value) >= CompressionThreshold {
		c.mu.RLock()
		enc := c.encoder
		c.mu.RUnlock()
		if enc != nil {
			if compressed := enc.EncodeAll(value, nil); len(compressed) < len(value) {
				encoding = encodingZstd
				payload = compressed
			}
		}
	}

	out := make([]byte, headerSize+len(payload))
	out[0] = encoding
	var nanos int64
	if !expiresAt.IsZero() {
		nanos = expiresAt.UnixNano()
	}
	binary.BigEndian.PutUint64(out[1:headerSize], uint64(nanos))
	copy(out[headerSize:], payload)
	return out
}

// expiry reads only the header.
func expiry(raw []byte) (time.Time, error) {
	if len(raw) < headerSize {
		return time.Time{}, ErrCorrupted
	}
	nanos := int64(binary.BigEndian.Uint64(raw[1:headerSize]))
	if nanos == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, nanos), nil
}

func (c *codec) decode(raw []byte) ([]byte, error) {
	if len(raw) < headerSize {
		return nil, ErrCorrupted
	}
	payload := raw[headerSize:]

	switch raw[0] {
	case encodingIdentity:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case encodingZstd:
		c.mu.RLock()
		dec := c.decoder
		c.mu.RUnlock()
		if dec == nil {
			return nil, errors.New("bolt: decoder not initialized")
		}
		out, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing value: %w", err)
		}
		if len(out) > MaxDecompressedSize {
			return nil, ErrDecompressionBomb
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %d", ErrCorrupted, raw[0])
	}
}
