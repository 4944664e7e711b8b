package donki

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 5)

	ts := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	require.NoError(t, c.Write([]byte(`[{"activityID":"CME-1"}]`), ts))

	data, gotTS, err := c.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, `[{"activityID":"CME-1"}]`, string(data))
	assert.Equal(t, ts.Unix(), gotTS.Unix())
}

func TestCacheLoadLatestPicksNewest(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 5)

	base := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	require.NoError(t, c.Write([]byte(`old`), base))
	require.NoError(t, c.Write([]byte(`mid`), base.Add(time.Hour)))
	require.NoError(t, c.Write([]byte(`new`), base.Add(2*time.Hour)))

	data, _, err := c.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestCachePrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 2)

	base := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Write([]byte("x"), base.Add(time.Duration(i)*time.Hour)))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCacheEmptyDir(t *testing.T) {
	c := NewCache(t.TempDir(), 5)

	_, _, err := c.LoadLatest()
	assert.Error(t, err)
}

func TestCacheMissingDir(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "does-not-exist"), 5)

	_, _, err := c.LoadLatest()
	assert.Error(t, err)
}

func TestCacheIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 5)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cme_garbage.json"), []byte("x"), 0644))

	ts := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	require.NoError(t, c.Write([]byte(`ok`), ts))

	data, _, err := c.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}
