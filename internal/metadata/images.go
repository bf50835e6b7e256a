package metadata

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

const imageColumns = `id, ref_registry, ref_repository, ref_mirror_registry, ref_tag, ref_digest,
	manifest, size_on_disk, created_at`

// InsertImage stores a new image row unless one with the same identity
// exists, in which case the existing id is returned with AlreadyExists.
func (s *Store) InsertImage(ctx context.Context, id Identity, manifest []byte, size int64) (InsertResult, int64, error) {
	var (
		result InsertResult
		rowID  int64
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM image
			 WHERE ref_registry = ? AND ref_repository = ? AND ref_tag IS ? AND ref_digest IS ?`,
			id.Registry, id.Repository, nullable(id.Tag), nullable(id.Digest),
		).Scan(&rowID)
		switch {
		case err == nil:
			result = AlreadyExists
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO image (ref_registry, ref_repository, ref_mirror_registry, ref_tag, ref_digest, manifest, size_on_disk)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id.Registry, id.Repository, nullable(id.MirrorRegistry), nullable(id.Tag), nullable(id.Digest),
			string(manifest), size,
		)
		if err != nil {
			return err
		}
		rowID, err = res.LastInsertId()
		result = Inserted
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("insert image %s/%s: %w", id.Registry, id.Repository, err)
	}
	return result, rowID, nil
}

// ImageExists reports whether a row with exactly this identity exists.
func (s *Store) ImageExists(ctx context.Context, id Identity) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM image
		 WHERE ref_registry = ? AND ref_repository = ? AND ref_tag IS ? AND ref_digest IS ?`,
		id.Registry, id.Repository, nullable(id.Tag), nullable(id.Digest),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check image: %w", err)
	}
	return n > 0, nil
}

// ListImages returns every image ordered by repository, registry and tag.
func (s *Store) ListImages(ctx context.Context) ([]ImageEntry, error) {
	return s.queryImages(ctx,
		`SELECT `+imageColumns+` FROM image ORDER BY ref_repository, ref_registry, ref_tag, id`)
}

// GetImage returns the image with the given row id.
func (s *Store) GetImage(ctx context.Context, imageID int64) (*ImageEntry, error) {
	images, err := s.queryImages(ctx, `SELECT `+imageColumns+` FROM image WHERE id = ?`, imageID)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, ErrNotFound
	}
	return &images[0], nil
}

// FindImages returns rows matching registry and repository, and tag or
// digest when those are set.
func (s *Store) FindImages(ctx context.Context, id Identity) ([]ImageEntry, error) {
	where, args := matchClause(id)
	return s.queryImages(ctx, `SELECT `+imageColumns+` FROM image WHERE `+where+` ORDER BY id`, args...)
}

// DeleteImage removes the rows FindImages would return. WIT links go with
// them through the foreign key cascade.
func (s *Store) DeleteImage(ctx context.Context, id Identity) (bool, error) {
	where, args := matchClause(id)
	res, err := s.db.ExecContext(ctx, `DELETE FROM image WHERE `+where, args...)
	if err != nil {
		return false, fmt.Errorf("delete image %s/%s: %w", id.Registry, id.Repository, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func matchClause(id Identity) (string, []any) {
	conds := []string{"ref_registry = ?", "ref_repository = ?"}
	args := []any{id.Registry, id.Repository}
	if id.Tag != "" {
		conds = append(conds, "ref_tag = ?")
		args = append(args, id.Tag)
	}
	if id.Digest != "" {
		conds = append(conds, "ref_digest = ?")
		args = append(args, id.Digest)
	}
	return strings.Join(conds, " AND "), args
}

func (s *Store) queryImages(ctx context.Context, query string, args ...any) ([]ImageEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var out []ImageEntry
	for rows.Next() {
		var (
			e                   ImageEntry
			mirror, tag, digest sql.NullString
			manifest, created   string
		)
		if err := rows.Scan(&e.ID, &e.RefRegistry, &e.RefRepository, &mirror, &tag, &digest,
			&manifest, &e.SizeOnDisk, &created); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		e.RefMirrorRegistry = mirror.String
		e.RefTag = tag.String
		e.RefDigest = digest.String
		e.CreatedAt = parseTime(created)

		m, err := v1.ParseManifest(bytes.NewReader([]byte(manifest)))
		if err != nil {
			return nil, fmt.Errorf("image %d: parse manifest: %w", e.ID, err)
		}
		e.Manifest = m
		out = append(out, e)
	}
	return out, rows.Err()
}
