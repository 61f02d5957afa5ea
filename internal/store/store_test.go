package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "kwai_clickid", "ABC123", 0))

	val, ok, err := s.Get(ctx, "kwai_clickid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ABC123", val)

	// A fresh store instance must see the persisted value.
	reloaded, err := NewFileStore(path)
	require.NoError(t, err)
	val, ok, err = reloaded.Get(ctx, "kwai_clickid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ABC123", val)

	require.NoError(t, reloaded.Delete(ctx, "kwai_clickid"))
	_, ok, err = reloaded.Get(ctx, "kwai_clickid")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreExpiry(t *testing.T) {
	s, err := NewFileStore("")
	require.NoError(t, err)

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "kwai_clickid", "ABC123", 30*24*time.Hour))

	_, ok, err := s.Get(ctx, "kwai_clickid")
	require.NoError(t, err)
	assert.True(t, ok)

	current = current.Add(31 * 24 * time.Hour)
	_, ok, err = s.Get(ctx, "kwai_clickid")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must read as absent")
}

func TestFileStoreMissingKey(t *testing.T) {
	s, err := NewFileStore("")
	require.NoError(t, err)

	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Delete(context.Background(), "nope"))
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "kwai")

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "kwai_mmpcode", "PL", time.Hour))

	val, ok, err := s.Get(ctx, "kwai_mmpcode")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "PL", val)

	// TTL expiry via miniredis clock.
	mr.FastForward(2 * time.Hour)
	_, ok, err = s.Get(ctx, "kwai_mmpcode")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "kwai_mmpcode", "PL", 0))
	require.NoError(t, s.Delete(ctx, "kwai_mmpcode"))
	_, ok, err = s.Get(ctx, "kwai_mmpcode")
	require.NoError(t, err)
	assert.False(t, ok)
}
