package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDataRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("The passage text compresses well because prose repeats. ", 50))

	for _, algo := range []CompressionAlgorithm{CompressionNone, CompressionGzip, CompressionZlib, CompressionBrotli} {
		compressed, err := CompressData(data, algo)
		require.NoError(t, err, "compress with %s", algo)

		restored, err := DecompressData(compressed, algo)
		require.NoError(t, err, "decompress with %s", algo)
		assert.Equal(t, data, restored, "round trip with %s", algo)
	}
}

func TestCompressDataUnknownAlgorithm(t *testing.T) {
	_, err := CompressData([]byte("x"), CompressionAlgorithm("lz4"))
	assert.Error(t, err)

	_, err = DecompressData([]byte("x"), CompressionAlgorithm("lz4"))
	assert.Error(t, err)
}

func TestGetBestCompression(t *testing.T) {
	assert.Equal(t, CompressionNone, GetBestCompression([]byte("short")))
	assert.Equal(t, CompressionBrotli, GetBestCompression([]byte(strings.Repeat("a", 500))))
}

func TestCompressTextRoundTrip(t *testing.T) {
	text := strings.Repeat("A long passage about patient listening and naming feelings. ", 40)

	compressed, algo, err := CompressText(text)
	require.NoError(t, err)
	assert.Equal(t, CompressionBrotli, algo)
	assert.Less(t, len(compressed), len(text))

	restored, err := DecompressText(compressed, algo)
	require.NoError(t, err)
	assert.Equal(t, text, restored)
}

func TestCompressTextShortSkipsCompression(t *testing.T) {
	compressed, algo, err := CompressText("tiny")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, algo)
	assert.Equal(t, "tiny", string(compressed))
}
