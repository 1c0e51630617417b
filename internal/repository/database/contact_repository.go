package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"mailbot/internal/model"
	"mailbot/internal/repository"
)

type ContactRepository struct {
	db *sqlx.DB
}

func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) FindByAddress(ctx context.Context, address string) (*model.ContactProfile, error) {
	contact := &model.ContactProfile{}
	err := r.db.GetContext(ctx, contact, r.db.Rebind(`
		SELECT address, profile, message_count, first_seen, last_seen
		FROM contacts WHERE address = ?`), address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return contact, nil
}

func (r *ContactRepository) Touch(ctx context.Context, address string, seen time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO contacts (address, profile, message_count, first_seen, last_seen)
		VALUES (?, '', 1, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			message_count = contacts.message_count + 1,
			last_seen = EXCLUDED.last_seen`), address, ts(seen), ts(seen))
	return err
}

func (r *ContactRepository) SetProfile(ctx context.Context, address, profile string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE contacts SET profile = ? WHERE address = ?`), profile, address)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
