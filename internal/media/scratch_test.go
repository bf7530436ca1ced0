package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratch_SpillReadRemove(t *testing.T) {
	base := t.TempDir()
	scratch, err := NewScratch(base)
	require.NoError(t, err)

	path, err := scratch.Spill("input.mp4", []byte("payload"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, base))
	assert.Equal(t, path, scratch.Path("input.mp4"))

	data, err := scratch.Read("input.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	scratch.Remove()
	_, err = os.Stat(scratch.Path("input.mp4"))
	assert.True(t, os.IsNotExist(err))

	// Remove is idempotent
	scratch.Remove()
}

func TestScratch_ReadMissingFile(t *testing.T) {
	scratch, err := NewScratch(t.TempDir())
	require.NoError(t, err)
	defer scratch.Remove()

	_, err = scratch.Read("absent.bin")
	assert.Error(t, err)
}

func TestScratch_CreatesNestedBase(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "scratch")
	scratch, err := NewScratch(base)
	require.NoError(t, err)
	defer scratch.Remove()

	_, err = scratch.Spill("f", []byte("x"))
	assert.NoError(t, err)
}

func TestScratch_EmptyBaseUsesSystemTemp(t *testing.T) {
	scratch, err := NewScratch("")
	require.NoError(t, err)
	defer scratch.Remove()

	path, err := scratch.Spill("f", []byte("x"))
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestScratch_DirsAreUnique(t *testing.T) {
	base := t.TempDir()

	first, err := NewScratch(base)
	require.NoError(t, err)
	defer first.Remove()
	second, err := NewScratch(base)
	require.NoError(t, err)
	defer second.Remove()

	assert.NotEqual(t, first.Path("f"), second.Path("f"))
}
