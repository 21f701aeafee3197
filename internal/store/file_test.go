package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(token string, opened time.Time) Snapshot {
	return Snapshot{
		Token:      token,
		Symbol:     "PEPE",
		Status:     "holding",
		BuyTxHash:  "0xabc",
		EntryPrice: decimal.RequireFromString("0.00000115"),
		Amount:     decimal.RequireFromString("43478.26"),
		Remaining:  decimal.RequireFromString("43478.26"),
		Invested:   decimal.RequireFromString("0.05"),
		TotalCost:  decimal.RequireFromString("0.0515"),
		OpenedAt:   opened,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "positions.gob")
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleSnapshot("0xbbb", t0.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, sampleSnapshot("0xaaa", t0)))
	require.NoError(t, s.Close())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	all, err := reopened.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "0xaaa", all[0].Token)
	assert.True(t, all[0].EntryPrice.Equal(decimal.RequireFromString("0.00000115")))
	assert.True(t, all[0].OpenedAt.Equal(t0))

	require.NoError(t, reopened.Delete(ctx, "0xaaa"))
	again, err := OpenFile(path)
	require.NoError(t, err)
	all, _ = again.LoadAll(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, "0xbbb", all[0].Token)
}

func TestFileStoreTotals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.gob")
	ctx := context.Background()

	s, err := OpenFile(path)
	require.NoError(t, err)
	_, found, err := s.LoadTotals(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	totals := Totals{
		Realized:  decimal.RequireFromString("0.194"),
		Invested:  decimal.RequireFromString("0.203"),
		FeesPaid:  decimal.RequireFromString("0.0071"),
		UpdatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveTotals(ctx, totals))
	require.NoError(t, s.Save(ctx, sampleSnapshot("0xaaa", totals.UpdatedAt)))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	got, found, err := reopened.LoadTotals(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Realized.Equal(totals.Realized))
	assert.True(t, got.Invested.Equal(totals.Invested))
	assert.True(t, got.FeesPaid.Equal(totals.FeesPaid))
	assert.True(t, got.UpdatedAt.Equal(totals.UpdatedAt))

	all, err := reopened.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFileStoreMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenFile(filepath.Join(dir, "missing.gob"))
	require.NoError(t, err)
	all, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	empty := filepath.Join(dir, "empty.gob")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = OpenFile(empty)
	assert.NoError(t, err)

	corrupt := filepath.Join(dir, "corrupt.gob")
	require.NoError(t, os.WriteFile(corrupt, []byte("not gob"), 0o644))
	_, err = OpenFile(corrupt)
	assert.Error(t, err)
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "none", "", "")
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)

	s, err = Open(ctx, "file", filepath.Join(t.TempDir(), "p.gob"), "")
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(ctx, "redis", "", "")
	assert.Error(t, err)
}
