package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dotside-studios/closet-nfc/closet"
	"github.com/dotside-studios/closet-nfc/nfc"
)

const garmentColumns = `id, name, COALESCE(type, ''), COALESCE(color, ''), COALESCE(season, ''),
	COALESCE(style, ''), COALESCE(image_url, ''), COALESCE(user_id, ''), box_id, nfc_tag_id,
	barcode_id, status, usage_count, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanGarment(row scanner) (*closet.Garment, error) {
	var g closet.Garment
	var boxID, tagID, barcode sql.NullString
	var status string
	err := row.Scan(&g.ID, &g.Name, &g.Type, &g.Color, &g.Season, &g.Style, &g.ImageURL, &g.UserID,
		&boxID, &tagID, &barcode, &status, &g.UsageCount, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	g.BoxID, g.NFCTagID, g.BarcodeID = ptr(boxID), ptr(tagID), ptr(barcode)
	g.Status = closet.Status(status)
	return &g, nil
}

func (s *Store) garmentWhere(ctx context.Context, column, value string) (*closet.Garment, error) {
	query := s.rebind(`SELECT ` + garmentColumns + ` FROM garments WHERE ` + column + ` = ? LIMIT 1`)
	g, err := scanGarment(s.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, closet.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("garment by %s: %w", column, err)
	}
	return g, nil
}

func (s *Store) GarmentByNFCTag(ctx context.Context, tagID string) (*closet.Garment, error) {
	return s.garmentWhere(ctx, "nfc_tag_id", tagID)
}

func (s *Store) GarmentByBarcode(ctx context.Context, code string) (*closet.Garment, error) {
	return s.garmentWhere(ctx, "barcode_id", code)
}

func (s *Store) garmentsIn(ctx context.Context, column string, values []string) ([]closet.Garment, error) {
	if len(values) == 0 {
		return nil, nil
	}
	pred, args := s.inClause(column, values)
	query := s.rebind(`SELECT ` + garmentColumns + ` FROM garments WHERE ` + pred + ` ORDER BY created_at, id`)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("garments by %s: %w", column, err)
	}
	defer rows.Close()

	var out []closet.Garment
	for rows.Next() {
		g, err := scanGarment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan garment: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *Store) GarmentsByNFCTags(ctx context.Context, tagIDs []string) ([]closet.Garment, error) {
	return s.garmentsIn(ctx, "nfc_tag_id", tagIDs)
}

func (s *Store) GarmentsByBarcodes(ctx context.Context, codes []string) ([]closet.Garment, error) {
	return s.garmentsIn(ctx, "barcode_id", codes)
}

func (s *Store) Garments(ctx context.Context, ids []string) ([]closet.Garment, error) {
	return s.garmentsIn(ctx, "id", ids)
}

func (s *Store) BoxByNFCTag(ctx context.Context, tagID string) (*closet.Box, error) {
	var (
		b        closet.Box
		location sql.NullString
		tag      sql.NullString
	)
	query := s.rebind(`SELECT id, name, location, nfc_tag_id FROM boxes WHERE nfc_tag_id = ? LIMIT 1`)
	err := s.db.QueryRowContext(ctx, query, tagID).Scan(&b.ID, &b.Name, &location, &tag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, closet.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("box by nfc_tag_id: %w", err)
	}
	b.Location = location.String
	b.NFCTagID = ptr(tag)
	return &b, nil
}

func entityTable(t nfc.EntityType) (string, error) {
	switch t {
	case nfc.EntityGarment:
		return "garments", nil
	case nfc.EntityBox:
		return "boxes", nil
	}
	return "", fmt.Errorf("unknown entity type %q", t)
}

func (s *Store) EntityNFCTag(ctx context.Context, ref nfc.EntityRef) (string, error) {
	table, err := entityTable(ref.Type)
	if err != nil {
		return "", err
	}
	var tag sql.NullString
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT nfc_tag_id FROM `+table+` WHERE id = ?`), ref.ID).Scan(&tag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", closet.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read %s tag: %w", ref.Type, err)
	}
	return tag.String, nil
}

func (s *Store) SetEntityNFCTag(ctx context.Context, ref nfc.EntityRef, tagID string) (bool, error) {
	table, err := entityTable(ref.Type)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE `+table+` SET nfc_tag_id = ? WHERE id = ?`), nullable(&tagID), ref.ID)
	if err != nil {
		return false, fmt.Errorf("update %s tag: %w", ref.Type, err)
	}
	return rowsMatched(res, "update "+string(ref.Type)+" tag")
}

func (s *Store) Boxes(ctx context.Context) ([]closet.Box, error) {
	query := s.rebind(`
		SELECT b.id, b.name, b.location, b.nfc_tag_id, COUNT(g.id)
		FROM boxes b
		LEFT JOIN garments g ON g.box_id = b.id AND g.status = ?
		GROUP BY b.id, b.name, b.location, b.nfc_tag_id, b.created_at
		ORDER BY b.created_at, b.id`)
	rows, err := s.db.QueryContext(ctx, query, string(closet.StatusAvailable))
	if err != nil {
		return nil, fmt.Errorf("list boxes: %w", err)
	}
	defer rows.Close()

	var out []closet.Box
	for rows.Next() {
		var (
			b             closet.Box
			location, tag sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.Name, &location, &tag, &b.GarmentCount); err != nil {
			return nil, fmt.Errorf("scan box: %w", err)
		}
		b.Location = location.String
		b.NFCTagID = ptr(tag)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) AssignGarments(ctx context.Context, boxID string, garmentIDs []string) (int, error) {
	if len(garmentIDs) == 0 {
		return 0, nil
	}
	pred, args := s.inClause("id", garmentIDs)
	query := s.rebind(`UPDATE garments SET box_id = ?, status = ? WHERE ` + pred)
	res, err := s.db.ExecContext(ctx, query, append([]any{boxID, string(closet.StatusAvailable)}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("assign garments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("assign garments: %w", err)
	}
	return int(n), nil
}

func (s *Store) CreateGarment(ctx context.Context, g *closet.Garment) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = closet.StatusAvailable
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	query := s.rebind(`
		INSERT INTO garments (id, name, type, color, season, style, image_url, user_id,
			box_id, nfc_tag_id, barcode_id, status, usage_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, g.ID, g.Name, g.Type, g.Color, g.Season, g.Style, g.ImageURL, g.UserID,
		nullable(g.BoxID), nullable(g.NFCTagID), nullable(g.BarcodeID), string(g.Status), g.UsageCount, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert garment: %w", err)
	}
	return nil
}

func (s *Store) CreateBox(ctx context.Context, b *closet.Box) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	query := s.rebind(`INSERT INTO boxes (id, name, location, nfc_tag_id, created_at) VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, b.ID, b.Name, b.Location, nullable(b.NFCTagID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert box: %w", err)
	}
	return nil
}

func (s *Store) UpdateBox(ctx context.Context, b *closet.Box) (bool, error) {
	query := s.rebind(`UPDATE boxes SET name = ?, location = ?, nfc_tag_id = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, b.Name, b.Location, nullable(b.NFCTagID), b.ID)
	if err != nil {
		return false, fmt.Errorf("update box: %w", err)
	}
	return rowsMatched(res, "update box")
}

// DeleteBox relies on the ON DELETE SET NULL foreign key to detach garments.
func (s *Store) DeleteBox(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM boxes WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("delete box: %w", err)
	}
	return rowsMatched(res, "delete box")
}

func rowsMatched(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}
