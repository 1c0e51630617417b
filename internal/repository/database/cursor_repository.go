package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type CursorRepository struct {
	db *sqlx.DB
}

func NewCursorRepository(db *sqlx.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

func (r *CursorRepository) Load(ctx context.Context, account string) (uint64, error) {
	var wm int64
	err := r.db.GetContext(ctx, &wm, r.db.Rebind(`SELECT watermark FROM sync_cursors WHERE account = ?`), account)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(wm), nil
}

func (r *CursorRepository) Save(ctx context.Context, account string, watermark uint64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sync_cursors (account, watermark, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (account) DO UPDATE SET
			watermark = CASE WHEN EXCLUDED.watermark > sync_cursors.watermark
				THEN EXCLUDED.watermark ELSE sync_cursors.watermark END,
			updated_at = EXCLUDED.updated_at`), account, int64(watermark), ts(time.Now()))
	if err != nil {
		return fmt.Errorf("saving cursor for %s: %w", account, err)
	}
	return nil
}
