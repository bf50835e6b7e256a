// Package compression wraps zstd for blobs at rest.
package compression

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// MinSize is the smallest input worth compressing.
const MinSize = 128

// Every encoded blob starts with one of these bytes.
const (
	encodingRaw  byte = 0x00
	encodingZstd byte = 0x01
)

var errEmpty = errors.New("compression: missing encoding header")

// Compressor compresses blobs before they hit the disk. Output that would
// not be smaller than its input is kept raw; the leading encoding byte
// tells the two apart, never the payload itself.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

// New returns a compressor. Levels 1-3 map to fastest, default and better
// compression; anything else uses the default.
func New(level int, enabled bool) (*Compressor, error) {
	if !enabled {
		return &Compressor{}, nil
	}

	encoderLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		encoder.Close()
		return nil, err
	}

	return &Compressor{encoder: encoder, decoder: decoder, enabled: true}, nil
}

// Compress returns data prefixed with its encoding byte.
func (c *Compressor) Compress(data []byte) []byte {
	if !c.enabled || len(data) < MinSize {
		return raw(data)
	}

	compressed := c.encoder.EncodeAll(data, append(make([]byte, 0, len(data)), encodingZstd))
	if len(compressed) >= len(data)+1 {
		return raw(data)
	}
	return compressed
}

func raw(data []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, encodingRaw)
	return append(out, data...)
}

// Decompress reverses Compress. Blobs written while compression was
// disabled stay readable.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errEmpty
	}
	switch data[0] {
	case encodingRaw:
		return data[1:], nil
	case encodingZstd:
	default:
		return nil, fmt.Errorf("compression: unknown encoding 0x%02x", data[0])
	}

	decoder := c.decoder
	if decoder == nil {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer d.Close()
		decoder = d
	}
	return decoder.DecodeAll(data[1:], nil)
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
