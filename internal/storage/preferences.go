package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"nutribot/internal/models"
)

const preferencesTable = "user_preferences"

// EnsurePreference creates the default (reports enabled) row on first
// interaction and returns the current one.
func (s *SQLiteStorage) EnsurePreference(ctx context.Context, userID int64) (models.UserPreference, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := formatTime(s.now())
	query, args, err := sq.Insert(preferencesTable).
		Columns("user_id", "reports_enabled", "created_at", "updated_at").
		Values(userID, true, now, now).
		Suffix("ON CONFLICT(user_id) DO NOTHING").
		ToSql()
	if err != nil {
		return models.UserPreference{}, fmt.Errorf("storage: build upsert: %w", err)
	}

	if _, err := s.writer.ExecContext(ctx, query, args...); err != nil {
		return models.UserPreference{}, unavailable("ensure preference", err)
	}

	pref, _, err := s.getPreference(ctx, s.writer, userID)
	return pref, err
}

// SetReportsEnabled flips the opt-in flag, creating the row if needed.
func (s *SQLiteStorage) SetReportsEnabled(ctx context.Context, userID int64, enabled bool) (models.UserPreference, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := formatTime(s.now())
	query, args, err := sq.Insert(preferencesTable).
		Columns("user_id", "reports_enabled", "created_at", "updated_at").
		Values(userID, enabled, now, now).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET reports_enabled = excluded.reports_enabled, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return models.UserPreference{}, fmt.Errorf("storage: build upsert: %w", err)
	}

	if _, err := s.writer.ExecContext(ctx, query, args...); err != nil {
		return models.UserPreference{}, unavailable("set preference", err)
	}

	pref, _, err := s.getPreference(ctx, s.writer, userID)
	return pref, err
}

// GetPreference returns the stored preference, or the default when the user
// has none yet.
func (s *SQLiteStorage) GetPreference(ctx context.Context, userID int64) (models.UserPreference, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pref, found, err := s.getPreference(ctx, s.reader, userID)
	if err != nil {
		return models.UserPreference{}, err
	}
	if !found {
		return models.UserPreference{UserID: userID, ReportsEnabled: true}, nil
	}
	return pref, nil
}

// ListUsersWithReportsEnabled is the report audience, read fresh on every call.
func (s *SQLiteStorage) ListUsersWithReportsEnabled(ctx context.Context) ([]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query, args, err := sq.Select("user_id").
		From(preferencesTable).
		Where(sq.Eq{"reports_enabled": true}).
		OrderBy("user_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select: %w", err)
	}
	return s.queryUserIDs(ctx, "list report audience", query, args)
}

func (s *SQLiteStorage) getPreference(ctx context.Context, db *sql.DB, userID int64) (models.UserPreference, bool, error) {
	query, args, err := sq.Select("user_id", "reports_enabled", "created_at", "updated_at").
		From(preferencesTable).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return models.UserPreference{}, false, fmt.Errorf("storage: build select: %w", err)
	}

	var pref models.UserPreference
	var createdStr, updatedStr string
	err = db.QueryRowContext(ctx, query, args...).Scan(&pref.UserID, &pref.ReportsEnabled, &createdStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserPreference{}, false, nil
	}
	if err != nil {
		return models.UserPreference{}, false, unavailable("get preference", err)
	}

	if pref.CreatedAt, err = parseTime(createdStr); err != nil {
		return models.UserPreference{}, false, fmt.Errorf("storage: failed to parse created_at: %w", err)
	}
	if pref.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return models.UserPreference{}, false, fmt.Errorf("storage: failed to parse updated_at: %w", err)
	}
	return pref, true, nil
}
