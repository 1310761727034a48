package checkpoint

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressBlockRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte(`{"id":1,"name":"user-1","balance":10},`), 200)
	random := []byte{0x9c, 0x01, 0xfe, 0x42, 0x17, 0x88, 0x3a, 0xd0}

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			for _, data := range [][]byte{compressible, random, {}} {
				block, err := compressBlock(data, c)
				require.NoError(t, err)

				out, err := decompressBlock(block, c)
				require.NoError(t, err)
				assert.Equal(t, len(data), len(out))
				assert.True(t, bytes.Equal(data, out))
			}

			block, err := compressBlock(compressible, c)
			require.NoError(t, err)
			if c == CompressionNone {
				assert.Len(t, block, blockHeaderSize+len(compressible))
			} else {
				assert.Less(t, len(block), len(compressible)/2)
			}
		})
	}
}

func TestDecompressBlockRejectsDamage(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 512)
	block, err := compressBlock(data, CompressionZstd)
	require.NoError(t, err)

	_, err = decompressBlock(block[:4], CompressionZstd)
	assert.ErrorIs(t, err, errShortBlock)

	_, err = decompressBlock(block[:len(block)-1], CompressionZstd)
	assert.Error(t, err)

	_, err = decompressBlock(block, CompressionNone)
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	got, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, got)

	_, err = ParseCompression("snappy")
	assert.Error(t, err)
}

func TestLayout(t *testing.T) {
	l := layout{prefix: "ckpt"}
	rev := formatRevision(7)

	assert.Equal(t, "00000000000000000007", rev)
	assert.Equal(t, "ckpt/CURRENT", l.current())
	assert.Equal(t, "ckpt/00000000000000000007/manifest.json", l.manifest(rev))
	assert.Equal(t, "ckpt/00000000000000000007/eu%2Faccounts.snap", l.table(rev, "eu/accounts"))
	assert.Equal(t, "ckpt/", l.root())
	assert.Equal(t, "", layout{}.root())
	assert.Equal(t, "CURRENT", layout{}.current())

	n, ok := parseRevision(rev)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), n)
	_, ok = parseRevision("7")
	assert.False(t, ok)
}
