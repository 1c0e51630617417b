package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"mailbot/internal/model"
	"mailbot/internal/repository"
)

const messageColumns = `id, account, thread_id, sender, recipient, subject, snippet, received_at,
	category, importance, action, summary, deep_summary, agent_output, history_id, processed_at`

type MessageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Upsert(ctx context.Context, record *model.MessageRecord) error {
	query := r.db.Rebind(`
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			account = EXCLUDED.account,
			thread_id = EXCLUDED.thread_id,
			sender = EXCLUDED.sender,
			recipient = EXCLUDED.recipient,
			subject = EXCLUDED.subject,
			snippet = EXCLUDED.snippet,
			received_at = EXCLUDED.received_at,
			category = EXCLUDED.category,
			importance = EXCLUDED.importance,
			action = EXCLUDED.action,
			summary = EXCLUDED.summary,
			deep_summary = EXCLUDED.deep_summary,
			agent_output = EXCLUDED.agent_output,
			history_id = EXCLUDED.history_id,
			processed_at = EXCLUDED.processed_at`)
	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.Account, record.ThreadID, record.From, record.To,
		record.Subject, record.Snippet, ts(record.Date),
		record.Category, record.Importance, record.Action, record.Summary,
		record.DeepSummary, record.AgentOutput, int64(record.HistoryID), ts(record.ProcessedAt))
	if err != nil {
		return fmt.Errorf("upserting message %s: %w", record.ID, err)
	}
	return nil
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.MessageRecord, error) {
	record := &model.MessageRecord{}
	err := r.db.GetContext(ctx, record, r.db.Rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

func (r *MessageRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM messages WHERE id = ?`), id); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *MessageRepository) MaxHistoryID(ctx context.Context, account string) (uint64, error) {
	var max int64
	err := r.db.GetContext(ctx, &max,
		r.db.Rebind(`SELECT COALESCE(MAX(history_id), 0) FROM messages WHERE account = ?`), account)
	if err != nil {
		return 0, err
	}
	return uint64(max), nil
}

func (r *MessageRepository) FindCandidates(ctx context.Context, since time.Time, label string, minImportance int) ([]*model.MessageRecord, error) {
	var records []*model.MessageRecord
	err := r.db.SelectContext(ctx, &records, r.db.Rebind(`
		SELECT `+messageColumns+` FROM messages
		WHERE received_at >= ? AND (category = ? OR importance >= ?)
		ORDER BY received_at, id`), ts(since), label, minImportance)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *MessageRepository) FindRecent(ctx context.Context, limit int) ([]*model.MessageRecord, error) {
	var records []*model.MessageRecord
	err := r.db.SelectContext(ctx, &records, r.db.Rebind(`
		SELECT `+messageColumns+` FROM messages
		ORDER BY received_at DESC, id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	return records, nil
}
