package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const witColumns = `w.id, w.wit_text, w.package_name, w.world_name, w.import_count, w.export_count, w.created_at`

// InsertWitInterface stores w unless a row with identical text exists, in
// which case the existing id is returned.
func (s *Store) InsertWitInterface(ctx context.Context, w WitInterface) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM wit_interface WHERE wit_text = ? ORDER BY id LIMIT 1`, w.WitText).Scan(&id)
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO wit_interface (wit_text, package_name, world_name, import_count, export_count)
			 VALUES (?, ?, ?, ?, ?)`,
			w.WitText, nullable(w.PackageName), nullable(w.WorldName), w.ImportCount, w.ExportCount)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert wit interface: %w", err)
	}
	return id, nil
}

// LinkImageWitInterface associates an image with an interface. Linking
// twice is a no-op.
func (s *Store) LinkImageWitInterface(ctx context.Context, imageID, witID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO image_wit_interface (image_id, wit_interface_id) VALUES (?, ?)`,
		imageID, witID)
	if err != nil {
		return fmt.Errorf("link image %d to wit interface %d: %w", imageID, witID, err)
	}
	return nil
}

// WitInterfaceForImage returns the interface linked to imageID.
func (s *Store) WitInterfaceForImage(ctx context.Context, imageID int64) (*WitInterface, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+witColumns+` FROM wit_interface w
		 JOIN image_wit_interface iw ON iw.wit_interface_id = w.id
		 WHERE iw.image_id = ?
		 ORDER BY w.id LIMIT 1`, imageID)
	w, err := scanWit(row)
	if err != nil {
		return nil, errNoRows(err)
	}
	return &w, nil
}

// ListWitInterfaces returns all interfaces ordered by world name.
func (s *Store) ListWitInterfaces(ctx context.Context) ([]WitInterface, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+witColumns+` FROM wit_interface w ORDER BY w.world_name, w.id`)
	if err != nil {
		return nil, fmt.Errorf("query wit interfaces: %w", err)
	}
	defer rows.Close()

	var out []WitInterface
	for rows.Next() {
		w, err := scanWit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListWitInterfacesWithImages pairs each linked interface with the image it
// belongs to, ordered by world name then repository.
func (s *Store) ListWitInterfacesWithImages(ctx context.Context) ([]WitInterfaceImage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+witColumns+`, i.id, i.ref_registry, i.ref_repository, i.ref_tag, i.ref_digest
		 FROM wit_interface w
		 JOIN image_wit_interface iw ON iw.wit_interface_id = w.id
		 JOIN image i ON i.id = iw.image_id
		 ORDER BY w.world_name, i.ref_repository, i.id`)
	if err != nil {
		return nil, fmt.Errorf("query wit interfaces with images: %w", err)
	}
	defer rows.Close()

	var out []WitInterfaceImage
	for rows.Next() {
		var (
			w           WitInterface
			pkg, world  sql.NullString
			created     string
			img         ImageEntry
			tag, digest sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.WitText, &pkg, &world, &w.ImportCount, &w.ExportCount, &created,
			&img.ID, &img.RefRegistry, &img.RefRepository, &tag, &digest); err != nil {
			return nil, fmt.Errorf("scan wit interface: %w", err)
		}
		w.PackageName = pkg.String
		w.WorldName = world.String
		w.CreatedAt = parseTime(created)
		img.RefTag = tag.String
		img.RefDigest = digest.String

		out = append(out, WitInterfaceImage{Interface: w, ImageID: img.ID, Reference: img.Reference()})
	}
	return out, rows.Err()
}

// DeleteWitInterface removes an interface and its links.
func (s *Store) DeleteWitInterface(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wit_interface WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete wit interface %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWit(sc scanner) (WitInterface, error) {
	var (
		w          WitInterface
		pkg, world sql.NullString
		created    string
	)
	if err := sc.Scan(&w.ID, &w.WitText, &pkg, &world, &w.ImportCount, &w.ExportCount, &created); err != nil {
		return WitInterface{}, err
	}
	w.PackageName = pkg.String
	w.WorldName = world.String
	w.CreatedAt = parseTime(created)
	return w, nil
}
