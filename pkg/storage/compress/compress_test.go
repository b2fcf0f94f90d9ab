package compress

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_SkipsSmallPayloads(t *testing.T) {
	c := NewSmartCompressor()
	assert.Equal(t, AlgorithmNone, c.Select(10, "text/plain"))
}

func TestSelect_SkipsIncompressibleMimeTypes(t *testing.T) {
	c := NewSmartCompressor()
	assert.Equal(t, AlgorithmNone, c.Select(10000, "image/png"))
}

func TestSelect_PrefersZstdMaxAboveLargeThreshold(t *testing.T) {
	c := NewSmartCompressor()
	c.LargeThreshold = 100
	assert.Equal(t, AlgorithmZstdMax, c.Select(200, "text/plain"))
}

func TestSelect_DefaultsToZstd(t *testing.T) {
	c := NewSmartCompressor()
	assert.Equal(t, AlgorithmZstd, c.Select(1000, "text/plain"))
}

func TestRoundTrip_AllAlgorithmsAreIdentity(t *testing.T) {
	payload := make([]byte, 8192)
	rand.Read(payload)

	for _, algo := range []Algorithm{AlgorithmNone, AlgorithmLz4, AlgorithmZstd, AlgorithmZstdMax} {
		encoded, err := Encode(algo, payload)
		require.NoError(t, err, algo)
		decoded, err := Decode(algo, encoded)
		require.NoError(t, err, algo)
		assert.True(t, bytes.Equal(payload, decoded), algo)
	}
}

func TestDecode_UnknownAlgorithmReturnsInputUnchanged(t *testing.T) {
	data := []byte("unchanged")
	out, err := Decode(Algorithm("not-a-real-algorithm"), data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCompress_ProducesInfoWithRatio(t *testing.T) {
	c := NewSmartCompressor()
	payload := bytes.Repeat([]byte("a"), 4096)
	out, info, err := c.Compress(payload, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, len(payload), info.OriginalSize)
	assert.Equal(t, len(out), info.CompressedSize)
	assert.Less(t, info.CompressedSize, info.OriginalSize)
}
