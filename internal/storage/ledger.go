package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"nutribot/internal/models"
)

const ledgerTable = "ledger_entries"

var ledgerColumns = []string{
	"id", "user_id", "description", "protein_g", "carbs_g", "fat_g", "calories_kcal", "committed_at",
}

// Append inserts one committed entry. There is no dedup.
func (s *SQLiteStorage) Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query, args, err := sq.Insert(ledgerTable).
		Columns("user_id", "description", "protein_g", "carbs_g", "fat_g", "calories_kcal", "committed_at").
		Values(entry.UserID, entry.Description, entry.ProteinG, entry.CarbsG, entry.FatG, entry.CaloriesKcal,
			formatTime(entry.CommittedAt)).
		ToSql()
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("storage: build insert: %w", err)
	}

	res, err := s.writer.ExecContext(ctx, query, args...)
	if err != nil {
		return models.LedgerEntry{}, unavailable("append entry", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.LedgerEntry{}, unavailable("append entry id", err)
	}

	entry.ID = id
	entry.CommittedAt = entry.CommittedAt.UTC()
	return entry, nil
}

// DeleteAllForUser removes every entry of one user and reports how many went away.
func (s *SQLiteStorage) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query, args, err := sq.Delete(ledgerTable).Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("storage: build delete: %w", err)
	}

	res, err := s.writer.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, unavailable("delete entries", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("delete entries count", err)
	}
	return n, nil
}

// DayBounds returns [start, end) of the calendar day of t in loc.
// end is computed with AddDate so 23h and 25h DST days are handled.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// QueryByUserAndDate returns the user's entries committed on day (in loc),
// in insertion order.
func (s *SQLiteStorage) QueryByUserAndDate(ctx context.Context, userID int64, day time.Time, loc *time.Location) ([]models.LedgerEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start, end := DayBounds(day, loc)

	query, args, err := sq.Select(ledgerColumns...).
		From(ledgerTable).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.GtOrEq{"committed_at": formatTime(start)}).
		Where(sq.Lt{"committed_at": formatTime(end)}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select: %w", err)
	}

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query entries", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate entries", err)
	}

	return entries, nil
}

// ListUsersWithAnyEntry lists everyone who ever logged food. Diagnostics only;
// the report audience comes from ListUsersWithReportsEnabled.
func (s *SQLiteStorage) ListUsersWithAnyEntry(ctx context.Context) ([]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query, args, err := sq.Select("DISTINCT user_id").From(ledgerTable).OrderBy("user_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select: %w", err)
	}
	return s.queryUserIDs(ctx, "list ledger users", query, args)
}

func (s *SQLiteStorage) queryUserIDs(ctx context.Context, op, query string, args []interface{}) ([]int64, error) {
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return ids, nil
}

func scanEntry(rows *sql.Rows) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var committedStr string
	err := rows.Scan(
		&entry.ID, &entry.UserID, &entry.Description,
		&entry.ProteinG, &entry.CarbsG, &entry.FatG, &entry.CaloriesKcal,
		&committedStr)
	if err != nil {
		return models.LedgerEntry{}, unavailable("scan entry", err)
	}

	if entry.CommittedAt, err = parseTime(committedStr); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("storage: failed to parse committed_at: %w", err)
	}
	return entry, nil
}
