package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"mailbot/internal/repository"
)

type RawRepository struct {
	db *sqlx.DB
}

func NewRawRepository(db *sqlx.DB) *RawRepository {
	return &RawRepository{db: db}
}

func (r *RawRepository) Has(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM raw_messages WHERE id = ?`), id); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RawRepository) Get(ctx context.Context, id string) ([]byte, error) {
	var payload []byte
	err := r.db.GetContext(ctx, &payload, r.db.Rebind(`SELECT payload FROM raw_messages WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return payload, nil
}

func (r *RawRepository) Put(ctx context.Context, id string, payload []byte) error {
	query := r.db.Rebind(`
		INSERT INTO raw_messages (id, payload, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at`)
	if _, err := r.db.ExecContext(ctx, query, id, payload, ts(time.Now())); err != nil {
		return fmt.Errorf("caching raw message %s: %w", id, err)
	}
	return nil
}
