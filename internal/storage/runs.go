package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"nutribot/internal/models"
)

const runsTable = "report_runs"

// RecordRun appends one finished report run.
func (s *SQLiteStorage) RecordRun(ctx context.Context, run models.ReportRun) (models.ReportRun, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query, args, err := sq.Insert(runsTable).
		Columns("report_date", "run_trigger", "started_at", "finished_at", "audience", "delivered", "failed").
		Values(run.Date, string(run.Trigger), formatTime(run.StartedAt), formatTime(run.FinishedAt),
			run.Audience, run.Delivered, run.Failed).
		ToSql()
	if err != nil {
		return models.ReportRun{}, fmt.Errorf("storage: build insert: %w", err)
	}

	res, err := s.writer.ExecContext(ctx, query, args...)
	if err != nil {
		return models.ReportRun{}, unavailable("record run", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return models.ReportRun{}, unavailable("record run id", err)
	}
	return run, nil
}

// LastRun returns the most recent scheduled or catch-up run. Manual runs are
// ops checks and do not count as the day's delivery.
func (s *SQLiteStorage) LastRun(ctx context.Context) (models.ReportRun, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query, args, err := sq.Select("id", "report_date", "run_trigger", "started_at", "finished_at", "audience", "delivered", "failed").
		From(runsTable).
		Where(sq.NotEq{"run_trigger": string(models.TriggerManual)}).
		OrderBy("report_date DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return models.ReportRun{}, false, fmt.Errorf("storage: build select: %w", err)
	}

	var run models.ReportRun
	var trigger, startedStr, finishedStr string
	err = s.reader.QueryRowContext(ctx, query, args...).Scan(
		&run.ID, &run.Date, &trigger, &startedStr, &finishedStr, &run.Audience, &run.Delivered, &run.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReportRun{}, false, nil
	}
	if err != nil {
		return models.ReportRun{}, false, unavailable("last run", err)
	}

	run.Trigger = models.RunTrigger(trigger)
	if run.StartedAt, err = parseTime(startedStr); err != nil {
		return models.ReportRun{}, false, fmt.Errorf("storage: failed to parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finishedStr); err != nil {
		return models.ReportRun{}, false, fmt.Errorf("storage: failed to parse finished_at: %w", err)
	}
	return run, true, nil
}
