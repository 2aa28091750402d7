package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibkr-turtle-bot-go/internal/models"
)

func newTestRepository(t *testing.T) Repository {
	t.Helper()
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func floatPtr(v float64) *float64 { return &v }

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepository(t)

	record, err := repo.Get("TQQQ")
	require.NoError(t, err)
	assert.Nil(t, record, "a missing key must return (nil, nil)")
}

func TestRepository_SetAndGet(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now().UTC().Truncate(time.Second)

	want := &models.TradeRecord{
		Time:           now,
		LongEntryPrice: floatPtr(123.45),
	}
	require.NoError(t, repo.Set("TQQQ", want))

	got, err := repo.Get("TQQQ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Time.Equal(now))
	require.NotNil(t, got.LongEntryPrice)
	assert.Equal(t, 123.45, *got.LongEntryPrice)
	assert.Nil(t, got.ShortEntryPrice)
}

func TestRepository_OverwriteInPlace(t *testing.T) {
	repo := newTestRepository(t)

	first := &models.TradeRecord{Time: time.Now(), LongEntryPrice: floatPtr(100)}
	require.NoError(t, repo.Set("TQQQ", first))

	// An exit rewrites the record with the price cleared, it never deletes
	// the key: the timestamp must survive for cooldown checks.
	later := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	second := &models.TradeRecord{Time: later, LongEntryPrice: nil}
	require.NoError(t, repo.Set("TQQQ", second))

	got, err := repo.Get("TQQQ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.LongEntryPrice)
	assert.True(t, got.Time.Equal(later))
}

func TestRepository_SymbolsAreIsolated(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Set("TQQQ", &models.TradeRecord{Time: time.Now(), LongEntryPrice: floatPtr(100)}))
	require.NoError(t, repo.Set("SOXL", &models.TradeRecord{Time: time.Now(), ShortEntryPrice: floatPtr(42)}))

	tqqq, err := repo.Get("TQQQ")
	require.NoError(t, err)
	require.NotNil(t, tqqq)
	require.NotNil(t, tqqq.LongEntryPrice)
	assert.Nil(t, tqqq.ShortEntryPrice)

	soxl, err := repo.Get("SOXL")
	require.NoError(t, err)
	require.NotNil(t, soxl)
	assert.Nil(t, soxl.LongEntryPrice)
	require.NotNil(t, soxl.ShortEntryPrice)
	assert.Equal(t, 42.0, *soxl.ShortEntryPrice)
}

func TestTradeRecord_WireShape(t *testing.T) {
	// The stored value format is shared with the reference deployment:
	// field names and the null-price convention must stay stable.
	entry := 123.45
	record := &models.TradeRecord{
		Time:           time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC),
		LongEntryPrice: &entry,
	}
	data, err := json.Marshal(record)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "time")
	assert.Contains(t, raw, "longEntryPrice")
	assert.Contains(t, raw, "shortEntryPrice")
	assert.Equal(t, "null", string(raw["shortEntryPrice"]))
}

func TestRepository_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	repo, err := NewBadgerRepository(dir)
	require.NoError(t, err)
	require.NoError(t, repo.Set("TQQQ", &models.TradeRecord{Time: time.Now(), LongEntryPrice: floatPtr(77)}))
	require.NoError(t, repo.Close())

	reopened, err := NewBadgerRepository(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("TQQQ")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.LongEntryPrice)
	assert.Equal(t, 77.0, *got.LongEntryPrice)
}
