// Package migrations applies the forward-only metadata schema.
//
// Scripts are embedded at build time and applied in ascending version order.
// Every applied version is recorded in the migrations table, so running the
// full set again is a no-op:
//
//	db/
//	  migrations   (version, applied_at)
//	  image, known_package, known_package_tag, wit_interface, ...
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
)

//go:embed sql/*.sql
var scripts embed.FS

const bookkeeping = "sql/00_migrations.sql"

// Migration is a single versioned schema change.
type Migration struct {
	Version int
	Name    string
	File    string
}

// All is the ordered list of compiled-in migrations. Append only.
var All = []Migration{
	{Version: 1, Name: "init", File: "sql/01_init.sql"},
	{Version: 2, Name: "known_packages", File: "sql/02_known_packages.sql"},
	{Version: 3, Name: "known_package_tags", File: "sql/03_known_package_tags.sql"},
	{Version: 4, Name: "image_size", File: "sql/04_image_size.sql"},
	{Version: 5, Name: "tag_type", File: "sql/05_tag_type.sql"},
	{Version: 6, Name: "wit_interface", File: "sql/06_wit_interface.sql"},
	{Version: 7, Name: "package_name", File: "sql/07_package_name.sql"},
}

// Info describes the migration state of a database.
type Info struct {
	Current int // highest applied version
	Total   int // highest compiled-in version
}

// Error reports a migration that could not be applied.
type Error struct {
	Version int
	Name    string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("migration %d (%s): %v", e.Version, e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Runner applies a list of migrations to a database.
type Runner struct {
	migrations []Migration
	fsys       fs.FS
}

// NewRunner returns a runner over the compiled-in migrations.
func NewRunner() *Runner {
	return &Runner{migrations: All, fsys: scripts}
}

// Total returns the highest version the runner knows about.
func (r *Runner) Total() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version
}

// Run applies every migration newer than the current version. Each
// migration runs in its own transaction together with its version record;
// the first failure aborts the run.
func (r *Runner) Run(ctx context.Context, db *sql.DB) error {
	if err := r.ensureTable(ctx, db); err != nil {
		return err
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range r.migrations {
		if m.Version <= current {
			continue
		}
		if err := r.apply(ctx, db, m); err != nil {
			return &Error{Version: m.Version, Name: m.Name, Err: err}
		}
	}
	return nil
}

// Info returns the current and total migration versions.
func (r *Runner) Info(ctx context.Context, db *sql.DB) (Info, error) {
	if err := r.ensureTable(ctx, db); err != nil {
		return Info{}, err
	}
	current, err := currentVersion(ctx, db)
	if err != nil {
		return Info{}, err
	}
	return Info{Current: current, Total: r.Total()}, nil
}

func (r *Runner) ensureTable(ctx context.Context, db *sql.DB) error {
	script, err := fs.ReadFile(r.fsys, bookkeeping)
	if err != nil {
		return fmt.Errorf("read %s: %w", bookkeeping, err)
	}
	if _, err := db.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, db *sql.DB, m Migration) (err error) {
	script, err := fs.ReadFile(r.fsys, m.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", m.File, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, string(script)); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO migrations (version) VALUES (?)`, m.Version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	return v, nil
}

// Run applies the compiled-in migrations to db.
func Run(ctx context.Context, db *sql.DB) error {
	return NewRunner().Run(ctx, db)
}

// Get returns the migration state of db for the compiled-in migrations.
func Get(ctx context.Context, db *sql.DB) (Info, error) {
	return NewRunner().Info(ctx, db)
}
