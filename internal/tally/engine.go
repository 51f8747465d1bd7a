// Package tally aggregates ledger entries per user per calendar day in the
// reporting timezone.
package tally

import (
	"context"
	"fmt"
	"time"

	"nutribot/internal/models"
)

// DateLayout is how report dates are written.
const DateLayout = "2006-01-02"

type entrySource interface {
	QueryByUserAndDate(ctx context.Context, userID int64, day time.Time, loc *time.Location) ([]models.LedgerEntry, error)
}

// Engine computes daily totals. A day argument is any instant on that
// calendar day; its date is taken in the engine's location.
type Engine struct {
	store entrySource
	loc   *time.Location
}

func NewEngine(store entrySource, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{store: store, loc: loc}
}

// Aggregate returns the field-wise sums for the day. No entries yields
// all-zero totals, not an error.
func (e *Engine) Aggregate(ctx context.Context, userID int64, day time.Time) (models.Totals, error) {
	report, err := e.Daily(ctx, userID, day)
	if err != nil {
		return models.Totals{}, err
	}
	return report.Totals, nil
}

// Daily returns the itemized entries and their totals from a single query.
func (e *Engine) Daily(ctx context.Context, userID int64, day time.Time) (models.DailyReport, error) {
	entries, err := e.store.QueryByUserAndDate(ctx, userID, day, e.loc)
	if err != nil {
		return models.DailyReport{}, fmt.Errorf("tally: user %d on %s: %w", userID, FormatDate(day, e.loc), err)
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return models.DailyReport{
		UserID:  userID,
		Date:    FormatDate(day, e.loc),
		Entries: entries,
		Totals:  Sum(entries),
	}, nil
}

// Sum adds entries field by field.
func Sum(entries []models.LedgerEntry) models.Totals {
	var t models.Totals
	for _, e := range entries {
		t.Add(e)
	}
	return t
}

// StartOfDay is local midnight of now's date in loc.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// Yesterday is local midnight of the day before now's date in loc.
func Yesterday(now time.Time, loc *time.Location) time.Time {
	return StartOfDay(now, loc).AddDate(0, 0, -1)
}

func FormatDate(day time.Time, loc *time.Location) string {
	return day.In(loc).Format(DateLayout)
}
