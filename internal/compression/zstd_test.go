package compression

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	c, err := New(2, true)
	require.NoError(t, err)
	defer c.Close()

	data := bytes.Repeat([]byte("\x00asm\x0d\x00\x01\x00component"), 64)
	compressed := c.Compress(data)
	assert.Less(t, len(compressed), len(data))

	out, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCompressSkipsSmallInput(t *testing.T) {
	c, err := New(1, true)
	require.NoError(t, err)
	defer c.Close()

	data := []byte("\x00asm\x01\x00\x00\x00")
	encoded := c.Compress(data)
	assert.Equal(t, append([]byte{encodingRaw}, data...), encoded)

	out, err := c.Decompress(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDisabledCompressorReadsCompressedData(t *testing.T) {
	enabled, err := New(3, true)
	require.NoError(t, err)
	defer enabled.Close()

	data := bytes.Repeat([]byte("layer"), 100)
	compressed := enabled.Compress(data)

	disabled, err := New(0, false)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{encodingRaw}, data...), disabled.Compress(data))

	out, err := disabled.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestZstdInputKeepsItsBytes(t *testing.T) {
	c, err := New(2, true)
	require.NoError(t, err)
	defer c.Close()

	// an already compressed payload does not shrink and is stored raw
	payload := make([]byte, 4096)
	_, err = rand.Read(payload)
	require.NoError(t, err)
	frame := c.encoder.EncodeAll(payload, nil)
	require.GreaterOrEqual(t, len(frame), MinSize)

	out, err := c.Decompress(c.Compress(frame))
	require.NoError(t, err)
	assert.Equal(t, frame, out)
}

func TestDecompressRejectsUnknownEncoding(t *testing.T) {
	c, err := New(2, true)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decompress(nil)
	assert.Error(t, err)

	_, err = c.Decompress([]byte{0x28, 0xb5, 0x2f, 0xfd})
	assert.Error(t, err)
}
