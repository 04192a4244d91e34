package job

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *TempStore {
	t.Helper()
	store, err := NewTempStore(filepath.Join(t.TempDir(), "nested", "tmp"), zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestTempStore_CreateUniqueNames(t *testing.T) {
	store := newTestStore(t)

	a, err := store.Create("Same Title")
	require.NoError(t, err)
	defer a.Close()
	b, err := store.Create("Same Title")
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Name(), b.Name())
	for _, f := range []*os.File{a, b} {
		base := filepath.Base(f.Name())
		assert.Contains(t, base, "-Same_Title-")
		assert.True(t, strings.HasSuffix(base, ".mp3"))
		assert.Equal(t, store.Dir(), filepath.Dir(f.Name()))
	}
}

func TestTempStore_CreateCapsTitle(t *testing.T) {
	store := newTestStore(t)
	f, err := store.Create(strings.Repeat("x", 300))
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, filepath.Base(f.Name()), "-"+strings.Repeat("x", tempStemMaxRune)+"-")
	assert.NotContains(t, filepath.Base(f.Name()), strings.Repeat("x", tempStemMaxRune+1))
}

func TestTempStore_Remove(t *testing.T) {
	store := newTestStore(t)
	f, err := store.Create("remove me")
	require.NoError(t, err)
	f.Close()

	require.NoError(t, store.Remove(f.Name()))
	_, err = os.Stat(f.Name())
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Remove(f.Name()), "removing twice is fine")
	assert.NoError(t, store.Remove(""))
}

func TestTempStore_Sweep(t *testing.T) {
	store := newTestStore(t)

	old, err := store.Create("old")
	require.NoError(t, err)
	old.Close()
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old.Name(), past, past))

	fresh, err := store.Create("fresh")
	require.NoError(t, err)
	fresh.Close()

	other := filepath.Join(store.Dir(), "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("keep"), 0o600))
	require.NoError(t, os.Chtimes(other, past, past))

	removed, err := store.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old.Name())
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, fresh.Name())
	assert.FileExists(t, other)
}

func chtimes(path string, at time.Time) error {
	return os.Chtimes(path, at, at)
}
