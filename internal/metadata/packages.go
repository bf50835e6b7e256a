package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const searchLimit = 100

// UpsertKnownPackage records that registry/repository was seen. The
// description is only filled when unset. A non-empty tag is upserted with
// its computed classification.
func (s *Store) UpsertKnownPackage(ctx context.Context, registry, repository, tag, description string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var pkgID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO known_package (registry, repository, description) VALUES (?, ?, ?)
			 ON CONFLICT (registry, repository) DO UPDATE SET
			     last_seen_at = `+now+`,
			     description  = COALESCE(known_package.description, excluded.description)
			 RETURNING id`,
			registry, repository, nullable(description),
		).Scan(&pkgID)
		if err != nil {
			return err
		}
		if tag == "" {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO known_package_tag (known_package_id, tag, tag_type) VALUES (?, ?, ?)
			 ON CONFLICT (known_package_id, tag) DO UPDATE SET
			     last_seen_at = `+now+`,
			     tag_type     = excluded.tag_type`,
			pkgID, tag, string(TagTypeFromTag(tag)),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert known package %s/%s: %w", registry, repository, err)
	}
	return nil
}

// GetKnownPackage returns the entry for registry/repository with its tags.
func (s *Store) GetKnownPackage(ctx context.Context, registry, repository string) (*KnownPackage, error) {
	pkgs, err := s.queryPackages(ctx,
		`WHERE registry = ? AND repository = ?`, registry, repository)
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, ErrNotFound
	}
	return &pkgs[0], nil
}

// SearchKnownPackages matches query literally as a substring of registry
// or repository. At most 100 rows are returned.
func (s *Store) SearchKnownPackages(ctx context.Context, query string) ([]KnownPackage, error) {
	q := likeEscaper.Replace(query)
	return s.queryPackages(ctx,
		`WHERE registry LIKE '%' || ? || '%' ESCAPE '\'
		    OR repository LIKE '%' || ? || '%' ESCAPE '\'`, q, q)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListKnownPackages returns up to 100 known packages.
func (s *Store) ListKnownPackages(ctx context.Context) ([]KnownPackage, error) {
	return s.queryPackages(ctx, ``)
}

// RescanKnownPackageTags recomputes the classification of every tag and
// returns the number of rows that changed.
func (s *Store) RescanKnownPackageTags(ctx context.Context) (int, error) {
	type row struct {
		id      int64
		tag     string
		tagType string
	}

	changed := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, tag, tag_type FROM known_package_tag`)
		if err != nil {
			return err
		}
		var stale []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.id, &r.tag, &r.tagType); err != nil {
				rows.Close()
				return err
			}
			if string(TagTypeFromTag(r.tag)) != r.tagType {
				stale = append(stale, r)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, r := range stale {
			if _, err := tx.ExecContext(ctx,
				`UPDATE known_package_tag SET tag_type = ? WHERE id = ?`,
				string(TagTypeFromTag(r.tag)), r.id); err != nil {
				return err
			}
		}
		changed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rescan known package tags: %w", err)
	}
	return changed, nil
}

func (s *Store) queryPackages(ctx context.Context, where string, args ...any) ([]KnownPackage, error) {
	query := `SELECT id, registry, repository, description, last_seen_at, created_at FROM known_package ` +
		where + ` ORDER BY repository, registry LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, searchLimit)...)
	if err != nil {
		return nil, fmt.Errorf("query known packages: %w", err)
	}

	var pkgs []KnownPackage
	for rows.Next() {
		var (
			p             KnownPackage
			desc          sql.NullString
			seen, created string
		)
		if err := rows.Scan(&p.ID, &p.Registry, &p.Repository, &desc, &seen, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan known package: %w", err)
		}
		p.Description = desc.String
		p.LastSeenAt = parseTime(seen)
		p.CreatedAt = parseTime(created)
		pkgs = append(pkgs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// single connection: tags are loaded once the package cursor is closed
	for i := range pkgs {
		if err := s.loadTags(ctx, &pkgs[i]); err != nil {
			return nil, err
		}
	}
	return pkgs, nil
}

func (s *Store) loadTags(ctx context.Context, p *KnownPackage) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, tag_type FROM known_package_tag
		 WHERE known_package_id = ?
		 ORDER BY last_seen_at DESC, id DESC`, p.ID)
	if err != nil {
		return fmt.Errorf("query tags of %s: %w", p.Reference(), err)
	}
	defer rows.Close()

	for rows.Next() {
		var tag, tagType string
		if err := rows.Scan(&tag, &tagType); err != nil {
			return err
		}
		switch TagType(tagType) {
		case TagSignature:
			p.SignatureTags = append(p.SignatureTags, tag)
		case TagAttestation:
			p.AttestationTags = append(p.AttestationTags, tag)
		default:
			p.Tags = append(p.Tags, tag)
		}
	}
	return rows.Err()
}

// errNoRows reports sql.ErrNoRows as ErrNotFound.
func errNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
