package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaylog/pkg/dberrors"
)

func TestCompressor_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"symbol":"ACME","price":101.25}`), 64)

	for _, algo := range []Algorithm{None, Gzip, Zstd} {
		t.Run(algo.String(), func(t *testing.T) {
			c, err := New(algo)
			require.NoError(t, err)
			defer c.Close()

			rec, err := c.Compress(payload)
			require.NoError(t, err)
			assert.Equal(t, byte(algo), rec[0])
			if algo != None {
				assert.Less(t, len(rec), len(payload))
			}

			out, err := c.Decompress(rec)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestCompressor_ReadsOtherAlgorithms(t *testing.T) {
	gz, err := New(Gzip)
	require.NoError(t, err)
	defer gz.Close()
	zs, err := New(Zstd)
	require.NoError(t, err)
	defer zs.Close()

	rec, err := gz.Compress([]byte("written with gzip"))
	require.NoError(t, err)
	out, err := zs.Decompress(rec)
	require.NoError(t, err)
	assert.Equal(t, "written with gzip", string(out))
}

func TestCompressor_CorruptInput(t *testing.T) {
	c, err := New(Zstd)
	require.NoError(t, err)
	defer c.Close()

	for name, rec := range map[string][]byte{
		"empty":       {},
		"unknown tag": {9, 1, 2},
		"bad zstd":    {byte(Zstd), 1, 2, 3},
		"bad gzip":    {byte(Gzip), 1, 2, 3},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decompress(rec)
			assert.ErrorIs(t, err, dberrors.ErrCorruptRecord)
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	for name, want := range map[string]Algorithm{"": None, "none": None, "gzip": Gzip, "zstd": Zstd} {
		got, err := ParseAlgorithm(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseAlgorithm("lz4")
	assert.ErrorIs(t, err, dberrors.ErrInvalidArgument)
}
