package donki

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshNow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCatalog))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := NewStore()
	ref := NewRefresher(newTestFetcher(srv.URL), store, NewCache(dir, 5), time.Minute, testLogger())

	require.NoError(t, ref.RefreshNow(context.Background()))

	ds := store.Get()
	require.NotNil(t, ds)
	assert.Len(t, ds.Events, 2)
	assert.NotContains(t, ds.Source, "TESTKEY", "source URL must not leak the API key")

	// The raw payload was snapshotted to disk.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRefreshKeepsDatasetOnEmptyCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	store := NewStore()
	existing := NewDataset("donki", time.Now().UTC(), []CMEEvent{{ID: "CME-1", SpeedKmPerSec: 500}})
	store.Set(existing)

	ref := NewRefresher(newTestFetcher(srv.URL), store, nil, time.Minute, testLogger())

	err := ref.RefreshNow(context.Background())
	require.Error(t, err)
	assert.Same(t, existing, store.Get(), "empty catalog must not replace the dataset")
}

func TestRefreshKeepsDatasetOnFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store := NewStore()
	existing := NewDataset("donki", time.Now().UTC(), []CMEEvent{{ID: "CME-1", SpeedKmPerSec: 500}})
	store.Set(existing)

	ref := NewRefresher(newTestFetcher(srv.URL), store, nil, time.Minute, testLogger())

	require.Error(t, ref.RefreshNow(context.Background()))
	assert.Same(t, existing, store.Get())
}

func TestStoreAgeSeconds(t *testing.T) {
	store := NewStore()
	assert.Less(t, store.AgeSeconds(), 0.0, "empty store reports negative age")

	store.Set(NewDataset("donki", time.Now().UTC().Add(-30*time.Second), nil))
	age := store.AgeSeconds()
	assert.GreaterOrEqual(t, age, 30.0)
	assert.Less(t, age, 35.0)
}

func TestDatasetRangeAndFind(t *testing.T) {
	a := CMEEvent{ID: "A", StartTime: time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC)}
	b := CMEEvent{ID: "B", StartTime: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)}
	c := CMEEvent{ID: "C", StartTime: time.Date(2026, 3, 14, 5, 0, 0, 0, time.UTC)}

	ds := NewDataset("donki", time.Now().UTC(), []CMEEvent{a, b, c})

	assert.Equal(t, a.StartTime, ds.Range.Min)
	assert.Equal(t, b.StartTime, ds.Range.Max)

	got, ok := ds.Find("C")
	require.True(t, ok)
	assert.Equal(t, "C", got.ID)

	_, ok = ds.Find("Z")
	assert.False(t, ok)
}
