package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"facesync/internal/models"
)

var ErrRecordNotFound = errors.New("image record not found")

// Cursor is the position of the last record of a page in
// (uploaded_at desc, id desc) order.
type Cursor struct {
	UploadedAt time.Time
	ID         string
}

// After reports whether rec sorts strictly after the cursor position. It is
// the keyset predicate of ListByUser; ids compare bytewise, as the id column
// uses the "C" collation.
func (c Cursor) After(rec models.ImageRecord) bool {
	if rec.UploadedAt.Equal(c.UploadedAt) {
		return rec.ID < c.ID
	}
	return rec.UploadedAt.Before(c.UploadedAt)
}

// CursorOf returns the cursor pointing at rec.
func CursorOf(rec models.ImageRecord) Cursor {
	return Cursor{UploadedAt: rec.UploadedAt, ID: rec.ID}
}

type ListOptions struct {
	After *Cursor
	Limit int
	Kind  models.ImageKind
}

type ImageRepository struct {
	pool *pgxpool.Pool
}

func NewImageRepository(pool *pgxpool.Pool) *ImageRepository {
	return &ImageRepository{pool: pool}
}

func (r *ImageRepository) Create(ctx context.Context, rec models.ImageRecord) error {
	const query = `
		INSERT INTO image_records (
			id, user_id, image_url, file_name, kind, original_id, uploaded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.UserID,
		rec.ImageURL,
		rec.FileName,
		rec.Kind,
		rec.OriginalID,
		rec.UploadedAt,
	)
	return err
}

func (r *ImageRepository) GetByID(ctx context.Context, userID, id string) (models.ImageRecord, error) {
	const query = `
		SELECT id, user_id, image_url, file_name, kind, original_id, uploaded_at
		FROM image_records
		WHERE user_id = $1 AND id = $2
	`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ImageRecord{}, ErrRecordNotFound
		}
		return models.ImageRecord{}, err
	}
	return rec, nil
}

// ListByUser returns the next page of a user's records strictly after
// opts.After, newest first.
func (r *ImageRepository) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]models.ImageRecord, error) {
	const query = `
		SELECT id, user_id, image_url, file_name, kind, original_id, uploaded_at
		FROM image_records
		WHERE user_id = $1
		  AND ($2::text = '' OR kind = $2)
		  AND ($3::timestamptz IS NULL OR (uploaded_at, id) < ($3, $4))
		ORDER BY uploaded_at DESC, id DESC
		LIMIT $5
	`

	var (
		afterAt *time.Time
		afterID string
	)
	if opts.After != nil {
		at := opts.After.UploadedAt
		afterAt = &at
		afterID = opts.After.ID
	}

	rows, err := r.pool.Query(ctx, query, userID, string(opts.Kind), afterAt, afterID, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]models.ImageRecord, 0, opts.Limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *ImageRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (models.ImageRecord, error) {
	var rec models.ImageRecord
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.ImageURL,
		&rec.FileName,
		&rec.Kind,
		&rec.OriginalID,
		&rec.UploadedAt,
	)
	return rec, err
}
