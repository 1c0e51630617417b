package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"mailbot/internal/model"
	"mailbot/internal/repository"
)

const taskColumns = `id, message_id, kind, title, description, target_at, scheduled_for,
	sent, account, thread_id, created_at`

type TaskRepository struct {
	db *sqlx.DB
}

func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) InsertIfAbsent(ctx context.Context, task *model.Task) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id, kind) DO NOTHING`)
	res, err := r.db.ExecContext(ctx, query,
		task.ID, task.MessageID, string(task.Kind), task.Title, task.Description,
		ts(task.TargetAt), ts(task.ScheduledFor), task.Sent, task.Account, task.ThreadID,
		ts(task.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("inserting %s task for %s: %w", task.Kind, task.MessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *TaskRepository) MessageIDsWithTasks(ctx context.Context) (map[string]bool, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT DISTINCT message_id FROM tasks`); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *TaskRepository) FindDue(ctx context.Context, now time.Time) ([]*model.Task, error) {
	var tasks []*model.Task
	err := r.db.SelectContext(ctx, &tasks, r.db.Rebind(`
		SELECT `+taskColumns+` FROM tasks
		WHERE sent = FALSE AND scheduled_for <= ?
		ORDER BY scheduled_for, created_at`), ts(now))
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *TaskRepository) MarkSent(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE tasks SET sent = TRUE WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("marking task %s sent: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *TaskRepository) FindAll(ctx context.Context, pendingOnly bool, limit int) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if pendingOnly {
		query += ` WHERE sent = FALSE`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	var tasks []*model.Task
	if err := r.db.SelectContext(ctx, &tasks, r.db.Rebind(query), limit); err != nil {
		return nil, err
	}
	return tasks, nil
}
