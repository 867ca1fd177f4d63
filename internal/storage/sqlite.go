package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS locks (
	key     TEXT PRIMARY KEY,
	readers INTEGER NOT NULL DEFAULT 0,
	writer  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS meta (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// SqliteLocker coordinates processes sharing a storage root on one
// filesystem. Lock state lives in a SQLite database next to the storage, so
// it survives process restarts and is visible to every local peer.
type SqliteLocker struct {
	db   *sql.DB
	path string
}

// NewSqliteLocker opens (creating if needed) the lock database at path.
func NewSqliteLocker(path string) (*SqliteLocker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating lock db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening lock db: %w", err)
	}
	// A single connection serializes all lock transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: configuring lock db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrating lock db: %w", err)
	}
	return &SqliteLocker{db: db, path: path}, nil
}

// Close releases the underlying database.
func (l *SqliteLocker) Close() error { return l.db.Close() }

func (l *SqliteLocker) StartReading(ctx context.Context, key Key) (bool, error) {
	return l.reserve(ctx, key, func(readers, writer int64) (int64, int64, bool) {
		if writer > 0 {
			return readers, writer, false
		}
		return readers + 1, writer, true
	})
}

func (l *SqliteLocker) StopReading(ctx context.Context, key Key) error {
	ok, err := l.reserve(ctx, key, func(readers, writer int64) (int64, int64, bool) {
		if readers < 1 {
			return readers, writer, false
		}
		return readers - 1, writer, true
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("storage: release of unheld read lock for %q", key)
	}
	return nil
}

func (l *SqliteLocker) StartWriting(ctx context.Context, key Key) (bool, error) {
	return l.reserve(ctx, key, func(readers, writer int64) (int64, int64, bool) {
		if writer > 0 || readers > 0 {
			return readers, writer, false
		}
		return readers, 1, true
	})
}

func (l *SqliteLocker) StopWriting(ctx context.Context, key Key) error {
	ok, err := l.reserve(ctx, key, func(readers, writer int64) (int64, int64, bool) {
		if writer != 1 {
			return readers, writer, false
		}
		return readers, 0, true
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("storage: release of unheld write lock for %q", key)
	}
	return nil
}

// reserve runs a check-and-update on a lock row inside one transaction.
func (l *SqliteLocker) reserve(ctx context.Context, key Key, update func(readers, writer int64) (int64, int64, bool)) (bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("storage: lock transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var readers, writer int64
	err = tx.QueryRowContext(ctx, "SELECT readers, writer FROM locks WHERE key = ?", key).Scan(&readers, &writer)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("storage: reading lock row: %w", err)
	}

	newReaders, newWriter, ok := update(readers, writer)
	if !ok {
		return false, nil
	}

	if newReaders == 0 && newWriter == 0 {
		_, err = tx.ExecContext(ctx, "DELETE FROM locks WHERE key = ?", key)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO locks (key, readers, writer) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET readers = excluded.readers, writer = excluded.writer`,
			key, newReaders, newWriter)
	}
	if err != nil {
		return false, fmt.Errorf("storage: updating lock row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("storage: committing lock update: %w", err)
	}
	return true, nil
}

func (l *SqliteLocker) Size(ctx context.Context) (int64, error) {
	var size int64
	err := l.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE name = 'volume'").Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: reading volume: %w", err)
	}
	return size, nil
}

func (l *SqliteLocker) SetSize(ctx context.Context, size int64) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO meta (name, value) VALUES ('volume', ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, size)
	if err != nil {
		return fmt.Errorf("storage: setting volume: %w", err)
	}
	return nil
}

func (l *SqliteLocker) AddSize(ctx context.Context, delta int64) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO meta (name, value) VALUES ('volume', ?)
		ON CONFLICT(name) DO UPDATE SET value = meta.value + ?`, delta, delta)
	if err != nil {
		return fmt.Errorf("storage: adding volume: %w", err)
	}
	return nil
}
