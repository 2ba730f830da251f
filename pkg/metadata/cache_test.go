package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theHdd4/trinity-orchestrator/pkg/storage"
)

type countingProfiler struct {
	calls int
	fail  map[string]bool
}

func (p *countingProfiler) Profile(_ context.Context, path string) (*FileMetadata, error) {
	p.calls++
	if p.fail[path] {
		return nil, errors.New("profiler down")
	}
	return &FileMetadata{
		Path:     path,
		Columns:  []string{"region", "revenue"},
		RowCount: 100,
	}, nil
}

func TestCacheServesFreshEntries(t *testing.T) {
	blob := storage.NewMemBlobStore()
	ctx := context.Background()
	require.NoError(t, blob.Put(ctx, "sales.arrow", []byte("v1")))

	profiler := &countingProfiler{}
	cache := NewCache(blob, profiler, time.Minute)

	meta, err := cache.Get(ctx, "sales.arrow")
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "revenue"}, meta.Columns)
	assert.Equal(t, 1, profiler.calls)

	// Unchanged file within TTL: no re-profile.
	_, err = cache.Get(ctx, "sales.arrow")
	require.NoError(t, err)
	assert.Equal(t, 1, profiler.calls)
}

func TestCacheReprofilesOnContentChange(t *testing.T) {
	blob := storage.NewMemBlobStore()
	ctx := context.Background()
	require.NoError(t, blob.Put(ctx, "sales.arrow", []byte("v1")))

	profiler := &countingProfiler{}
	cache := NewCache(blob, profiler, time.Minute)

	_, err := cache.Get(ctx, "sales.arrow")
	require.NoError(t, err)

	require.NoError(t, blob.Put(ctx, "sales.arrow", []byte("v2 rewritten")))
	_, err = cache.Get(ctx, "sales.arrow")
	require.NoError(t, err)
	assert.Equal(t, 2, profiler.calls)
}

func TestCacheReprofilesAfterTTL(t *testing.T) {
	blob := storage.NewMemBlobStore()
	ctx := context.Background()
	require.NoError(t, blob.Put(ctx, "sales.arrow", []byte("v1")))

	profiler := &countingProfiler{}
	cache := NewCache(blob, profiler, time.Millisecond)

	_, err := cache.Get(ctx, "sales.arrow")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = cache.Get(ctx, "sales.arrow")
	require.NoError(t, err)
	assert.Equal(t, 2, profiler.calls)
}

func TestCacheGetMissingFile(t *testing.T) {
	cache := NewCache(storage.NewMemBlobStore(), &countingProfiler{}, time.Minute)
	_, err := cache.Get(context.Background(), "missing.arrow")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetAllDegradesToBarePaths(t *testing.T) {
	blob := storage.NewMemBlobStore()
	ctx := context.Background()
	require.NoError(t, blob.Put(ctx, "good.arrow", []byte("v1")))
	require.NoError(t, blob.Put(ctx, "bad.arrow", []byte("v1")))

	profiler := &countingProfiler{fail: map[string]bool{"bad.arrow": true}}
	cache := NewCache(blob, profiler, time.Minute)

	metas := cache.GetAll(ctx, []string{"good.arrow", "bad.arrow", "missing.arrow"})
	require.Len(t, metas, 3)
	assert.NotEmpty(t, metas[0].Columns)
	// Failed profiles keep the entry with only a path so the planner still
	// sees the file exists.
	assert.Equal(t, "bad.arrow", metas[1].Path)
	assert.Empty(t, metas[1].Columns)
	assert.Equal(t, "missing.arrow", metas[2].Path)
}

func TestInvalidateDropsEntry(t *testing.T) {
	blob := storage.NewMemBlobStore()
	ctx := context.Background()
	require.NoError(t, blob.Put(ctx, "sales.arrow", []byte("v1")))

	profiler := &countingProfiler{}
	cache := NewCache(blob, profiler, time.Minute)

	_, err := cache.Get(ctx, "sales.arrow")
	require.NoError(t, err)
	cache.Invalidate("sales.arrow")

	_, err = cache.Get(ctx, "sales.arrow")
	require.NoError(t, err)
	assert.Equal(t, 2, profiler.calls)
}
