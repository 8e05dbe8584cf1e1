package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is idempotent; it runs on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS image_records (
		id          TEXT COLLATE "C" PRIMARY KEY,
		user_id     TEXT NOT NULL,
		image_url   TEXT NOT NULL,
		file_name   TEXT NULL,
		kind        TEXT NOT NULL CHECK (kind IN ('original', 'cropped')),
		original_id TEXT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS image_records_user_page_idx
		ON image_records (user_id, uploaded_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS image_records_original_idx
		ON image_records (user_id, original_id) WHERE original_id IS NOT NULL`,
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
