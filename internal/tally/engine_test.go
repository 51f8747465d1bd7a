package tally

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutribot/internal/models"
	"nutribot/internal/storage"
)

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(context.Background(), filepath.Join(t.TempDir(), "tally.db"), storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestAggregate_NoEntriesIsZero(t *testing.T) {
	e := NewEngine(newStore(t), time.UTC)

	totals, err := e.Aggregate(context.Background(), 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.Totals{}, totals)

	report, err := e.Daily(context.Background(), 1, time.Now())
	require.NoError(t, err)
	assert.Empty(t, report.Entries)
	assert.NotNil(t, report.Entries)
}

func TestAggregate_FieldWiseSums(t *testing.T) {
	s := newStore(t)
	loc := mustLoc(t, "America/Sao_Paulo")
	e := NewEngine(s, loc)
	ctx := context.Background()

	day := time.Date(2026, 5, 4, 9, 0, 0, 0, loc)
	a := models.LedgerEntry{UserID: 1, Description: "a", ProteinG: 10.1, CarbsG: 20.2, FatG: 3.3, CaloriesKcal: 150.5, CommittedAt: day}
	b := models.LedgerEntry{UserID: 1, Description: "b", ProteinG: 0.7, CarbsG: 1.9, FatG: 0.05, CaloriesKcal: 12.25, CommittedAt: day.Add(3 * time.Hour)}
	for _, en := range []models.LedgerEntry{a, b} {
		_, err := s.Append(ctx, en)
		require.NoError(t, err)
	}

	totals, err := e.Aggregate(ctx, 1, day)
	require.NoError(t, err)
	assert.InDelta(t, a.ProteinG+b.ProteinG, totals.ProteinG, 1e-6)
	assert.InDelta(t, a.CarbsG+b.CarbsG, totals.CarbsG, 1e-6)
	assert.InDelta(t, a.FatG+b.FatG, totals.FatG, 1e-6)
	assert.InDelta(t, a.CaloriesKcal+b.CaloriesKcal, totals.CaloriesKcal, 1e-6)
}

func TestAggregate_EachEntryCountedOnceOnItsOwnDate(t *testing.T) {
	s := newStore(t)
	loc := mustLoc(t, "America/Sao_Paulo")
	e := NewEngine(s, loc)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, loc)
	var committed []models.LedgerEntry
	for i := 0; i < 12; i++ {
		at := base.Add(time.Duration(i) * 9 * time.Hour)
		uid := int64(i%3 + 1)
		entry, err := s.Append(ctx, models.LedgerEntry{
			UserID: uid, Description: "x",
			ProteinG: float64(i), CarbsG: float64(2 * i), FatG: 0.5, CaloriesKcal: float64(10 * i),
			CommittedAt: at,
		})
		require.NoError(t, err)
		committed = append(committed, entry)
	}

	// Expected per (user, date) computed independently.
	want := map[int64]map[string]models.Totals{}
	for _, en := range committed {
		d := FormatDate(en.CommittedAt, loc)
		if want[en.UserID] == nil {
			want[en.UserID] = map[string]models.Totals{}
		}
		tot := want[en.UserID][d]
		tot.Add(en)
		want[en.UserID][d] = tot
	}

	for uid, byDate := range want {
		for d, tot := range byDate {
			day, err := time.ParseInLocation(DateLayout, d, loc)
			require.NoError(t, err)
			got, err := e.Aggregate(ctx, uid, day)
			require.NoError(t, err)
			assert.InDelta(t, tot.ProteinG, got.ProteinG, 1e-6, "user %d %s", uid, d)
			assert.InDelta(t, tot.CaloriesKcal, got.CaloriesKcal, 1e-6, "user %d %s", uid, d)
		}
	}
}

type failingSource struct{}

func (failingSource) QueryByUserAndDate(context.Context, int64, time.Time, *time.Location) ([]models.LedgerEntry, error) {
	return nil, models.ErrStorageUnavailable
}

func TestAggregate_StorageErrorPropagates(t *testing.T) {
	_, err := NewEngine(failingSource{}, time.UTC).Aggregate(context.Background(), 1, time.Now())
	require.True(t, errors.Is(err, models.ErrStorageUnavailable))
}

func TestDaily_NilLocationQueriesInUTC(t *testing.T) {
	s := newStore(t)
	e := NewEngine(s, nil)
	ctx := context.Background()

	// 23:30 UTC on May 4th is already May 5th east of Greenwich.
	at := time.Date(2026, 5, 4, 23, 30, 0, 0, time.UTC)
	_, err := s.Append(ctx, models.LedgerEntry{UserID: 1, Description: "ceia", CaloriesKcal: 300, CommittedAt: at})
	require.NoError(t, err)

	report, err := e.Daily(ctx, 1, at.In(mustLoc(t, "Asia/Tokyo")))
	require.NoError(t, err)
	assert.Equal(t, "2026-05-04", report.Date)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, 300.0, report.Totals.CaloriesKcal)
}

func TestYesterday(t *testing.T) {
	loc := mustLoc(t, "America/Sao_Paulo")

	// 08:00 local on March 1st; yesterday is Feb 28th (2026 is not a leap year).
	firing := time.Date(2026, 3, 1, 8, 0, 0, 0, loc)
	assert.Equal(t, "2026-02-28", FormatDate(Yesterday(firing, loc), loc))

	// 01:00 UTC Jan 1st is still Dec 31st in São Paulo, so yesterday is Dec 30th.
	utc := time.Date(2027, 1, 1, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-12-30", FormatDate(Yesterday(utc, loc), loc))
}
