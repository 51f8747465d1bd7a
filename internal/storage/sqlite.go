// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"nutribot/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Timestamps are stored as fixed-width UTC text so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Options tunes the connection pools.
type Options struct {
	ReadConns    int
	BusyTimeout  time.Duration
	QueryTimeout time.Duration
}

// SQLiteStorage holds the ledger, the preference table and the report run log.
// Writes go through a single-connection pool; reads use a separate pool so a
// long aggregation never queues behind interactive inserts.
type SQLiteStorage struct {
	writer       *sql.DB
	reader       *sql.DB
	queryTimeout time.Duration
	now          func() time.Time
}

func NewSQLiteStorage(ctx context.Context, dbPath string, opts Options) (*SQLiteStorage, error) {
	if opts.ReadConns <= 0 {
		opts.ReadConns = 4
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	writer, err := sql.Open("sqlite", dsn(dbPath, opts.BusyTimeout, true))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	storage := &SQLiteStorage{
		writer:       writer,
		queryTimeout: opts.QueryTimeout,
		now:          time.Now,
	}

	if err := storage.migrate(ctx); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn(dbPath, opts.BusyTimeout, false))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	reader.SetMaxOpenConns(opts.ReadConns)
	reader.SetMaxIdleConns(opts.ReadConns)
	reader.SetConnMaxIdleTime(time.Minute)
	storage.reader = reader

	if err := storage.Ping(ctx); err != nil {
		storage.Close()
		return nil, err
	}

	return storage, nil
}

func dsn(path string, busy time.Duration, write bool) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if write {
		q.Set("_txlock", "immediate")
	} else {
		q.Add("_pragma", "query_only(1)")
	}
	return path + "?" + q.Encode()
}

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.writer, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Ping checks both pools.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.writer.PingContext(ctx); err != nil {
		return unavailable("ping writer", err)
	}
	if err := s.reader.PingContext(ctx); err != nil {
		return unavailable("ping reader", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	var firstErr error
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *SQLiteStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("storage: %s: %w: %w", op, models.ErrStorageUnavailable, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
