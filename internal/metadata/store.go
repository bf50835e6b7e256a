// Package metadata keeps image, known package and WIT records in sqlite.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/aweris/wasmpkg/internal/migrations"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("metadata: not found")

const timeLayout = "2006-01-02 15:04:05.000"

const now = `strftime('%Y-%m-%d %H:%M:%f', 'now')`

// Store is the sqlite backed metadata store. It is safe for concurrent use
// within one process; all statements share a single connection.
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// Open opens (creating if needed) the database at path, applies pending
// migrations and reclassifies known tags.
func Open(ctx context.Context, path string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open metadata db %s: %w", path, err)
	}

	if err := migrations.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, log: log}
	changed, err := s.RescanKnownPackageTags(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if changed > 0 {
		log.WithField("count", changed).Debug("reclassified known package tags")
	}
	return s, nil
}

// MigrationInfo reports applied and compiled-in schema versions.
func (s *Store) MigrationInfo(ctx context.Context) (migrations.Info, error) {
	return migrations.Get(ctx, s.db)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.DateTime, s)
	}
	return t
}
