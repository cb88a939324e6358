package tasks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlayPersists(t *testing.T) {
	dir := t.TempDir()

	o := NewOverlay(dir, "https://api.example.com", zerolog.Nop())
	o.Set(7, OverlayEntry{Status: StatusInProgress, Description: "halfway"})

	info, err := os.Stat(filepath.Join(dir, "overlay.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened := NewOverlay(dir, "https://api.example.com", zerolog.Nop())
	e, ok := reopened.Get(7)
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, e.Status)
	assert.Equal(t, "halfway", e.Description)

	_, ok = reopened.Get(8)
	assert.False(t, ok)
}

func TestOverlayOriginsAreSeparate(t *testing.T) {
	dir := t.TempDir()

	a := NewOverlay(dir, "https://a.example.com", zerolog.Nop())
	b := NewOverlay(dir, "https://b.example.com", zerolog.Nop())
	a.Set(1, OverlayEntry{Description: "from a"})
	b.Set(1, OverlayEntry{Description: "from b"})

	ea, _ := NewOverlay(dir, "https://a.example.com", zerolog.Nop()).Get(1)
	eb, _ := NewOverlay(dir, "https://b.example.com", zerolog.Nop()).Get(1)
	assert.Equal(t, "from a", ea.Description)
	assert.Equal(t, "from b", eb.Description)
}

func TestOverlayEmptyEntryRemoves(t *testing.T) {
	o := NewOverlay(t.TempDir(), "o", zerolog.Nop())
	o.Set(1, OverlayEntry{Status: StatusInProgress})
	o.Set(1, OverlayEntry{})

	_, ok := o.Get(1)
	assert.False(t, ok)

	o.Set(2, OverlayEntry{Description: "x"})
	o.Delete(2)
	_, ok = o.Get(2)
	assert.False(t, ok)
}

func TestOverlayCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "overlay.json"), []byte("{not json"), 0600))

	o := NewOverlay(dir, "o", zerolog.Nop())
	_, ok := o.Get(1)
	assert.False(t, ok, "unreadable overlay reads as empty")

	o.Set(1, OverlayEntry{Description: "fresh"})
	e, ok := NewOverlay(dir, "o", zerolog.Nop()).Get(1)
	require.True(t, ok)
	assert.Equal(t, "fresh", e.Description)
}

func TestOverlayNullFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "overlay.json"), []byte("null"), 0600))

	o := NewOverlay(dir, "o", zerolog.Nop())
	_, ok := o.Get(1)
	assert.False(t, ok)

	o.Set(1, OverlayEntry{Status: StatusInProgress})
	e, ok := NewOverlay(dir, "o", zerolog.Nop()).Get(1)
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, e.Status)
}

func TestOverlayInMemory(t *testing.T) {
	o := NewOverlay("", "", zerolog.Nop())
	assert.Empty(t, o.Path())

	o.Set(3, OverlayEntry{Status: StatusInProgress})
	e, ok := o.Get(3)
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, e.Status)
}
