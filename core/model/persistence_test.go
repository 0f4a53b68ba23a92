package model

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Rows   int
	Values []float32
}

func TestMarshalUnmarshal(t *testing.T) {
	in := snapshot{Rows: 2, Values: []float32{1, 2.5}}
	data, err := Marshal("SNAP", &in)
	require.NoError(t, err)
	assert.Equal(t, "SNAP", string(data[:4]))

	var out snapshot
	require.NoError(t, Unmarshal(data, "SNAP", &out))
	assert.Equal(t, in, out)
}

func TestDecodeRejects(t *testing.T) {
	data, err := Marshal("SNAP", &snapshot{Rows: 1})
	require.NoError(t, err)

	var out snapshot
	assert.Error(t, Unmarshal(data, "NOPE", &out), "wrong magic")
	assert.Error(t, Unmarshal(data[:2], "SNAP", &out), "short header")
	assert.Error(t, Unmarshal(data[:6], "SNAP", &out), "truncated body")
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.bin")
	in := snapshot{Rows: 3, Values: []float32{0, 1, 2}}
	require.NoError(t, SaveFile(path, "DMX1", &in))

	var out snapshot
	require.NoError(t, LoadFile(path, "DMX1", &out))
	assert.Equal(t, in, out)

	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing.bin"), "DMX1", &out))
}
