package repurchase

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betlabs/kwai-pipeline/internal/store"
)

func TestLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	kv, err := store.NewFileStore(path)
	require.NoError(t, err)
	ledger := NewLedger(kv)
	ctx := context.Background()

	at := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)
	require.NoError(t, ledger.RecordPurchase(ctx, at, 199.99))

	anchor, value, ok, err := ledger.LastPurchase(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, anchor.Equal(at), "full purchase instant must round-trip, got %s", anchor)
	assert.Equal(t, 199.99, value)

	won, err := ledger.MarkFired(ctx, Day1, at.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, won)

	// Survives a reload from disk.
	kv2, err := store.NewFileStore(path)
	require.NoError(t, err)
	ledger2 := NewLedger(kv2)

	fired, err := ledger2.Fired(ctx, Day1)
	require.NoError(t, err)
	assert.True(t, fired)

	won, err = ledger2.MarkFired(ctx, Day1, at.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, won, "milestone must not be winnable twice")
}

func TestFiredRecordSurvivesNewPurchase(t *testing.T) {
	kv, err := store.NewFileStore("")
	require.NoError(t, err)
	ledger := NewLedger(kv)
	ctx := context.Background()

	first := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.RecordPurchase(ctx, first, 10))
	_, err = ledger.MarkFired(ctx, Day1, first.Add(24*time.Hour))
	require.NoError(t, err)

	require.NoError(t, ledger.RecordPurchase(ctx, first.AddDate(0, 0, 3), 20))

	fired, err := ledger.Fired(ctx, Day1)
	require.NoError(t, err)
	assert.True(t, fired, "fired record is never cleared by a new purchase")

	anchor, value, ok, err := ledger.LastPurchase(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, anchor.Equal(first.AddDate(0, 0, 3)))
	assert.Equal(t, 20.0, value)
}

func TestLedgerEmpty(t *testing.T) {
	kv, err := store.NewFileStore("")
	require.NoError(t, err)
	ledger := NewLedger(kv)
	ctx := context.Background()

	_, _, ok, err := ledger.LastPurchase(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	checked, err := ledger.LastChecked(ctx)
	require.NoError(t, err)
	assert.Empty(t, checked)

	fired, err := ledger.Fired(ctx, Day7)
	require.NoError(t, err)
	assert.False(t, fired)
}
