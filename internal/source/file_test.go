package source

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSourceReadRange(t *testing.T) {
	f, err := os.CreateTemp("", "filesource-*.bin")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = f.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	src, err := OpenFile(f.Name())
	require.NoError(t, err)
	defer src.Cleanup()

	assert.EqualValues(t, 16, src.Size())

	buf, err := src.ReadRange(context.Background(), 4, 6)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(buf))
}

func TestFileSourceReadRangePastEndErrors(t *testing.T) {
	f, err := os.CreateTemp("", "filesource-*.bin")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = f.Write([]byte("short"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	src, err := OpenFile(f.Name())
	require.NoError(t, err)
	defer src.Cleanup()

	_, err = src.ReadRange(context.Background(), 0, 100)
	assert.Error(t, err)
}

func TestOpenFileMissingErrors(t *testing.T) {
	_, err := OpenFile("/nonexistent/path/to/model.safetensors")
	assert.Error(t, err)
}
