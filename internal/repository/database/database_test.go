package database

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbot/internal/model"
	"mailbot/internal/repository"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func record(id string, date time.Time, category string, importance int) *model.MessageRecord {
	return &model.MessageRecord{
		ID:          id,
		Account:     "me@example.com",
		ThreadID:    "t-" + id,
		From:        "alice@example.com",
		Subject:     "subject " + id,
		Date:        date,
		Category:    category,
		Importance:  importance,
		HistoryID:   100,
		ProcessedAt: date,
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, runMigrations(db))

	var version int
	require.NoError(t, db.Get(&version, "SELECT MAX(version) FROM schema_version"))
	assert.Equal(t, len(migrations), version)
}

func TestMessageUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	rec := record("m1", now, "Social", 3)
	require.NoError(t, repo.Upsert(ctx, rec))

	rec.Category = "Important"
	rec.Importance = 9
	rec.DeepSummary = "details"
	require.NoError(t, repo.Upsert(ctx, rec))

	got, err := repo.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Important", got.Category)
	assert.Equal(t, 9, got.Importance)
	assert.Equal(t, "details", got.DeepSummary)
	assert.True(t, got.Date.Equal(now))

	recent, err := repo.FindRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	exists, err := repo.Exists(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMessageMaxHistoryIDPerAccount(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))
	now := time.Now()

	a := record("a", now, "Social", 1)
	a.HistoryID = 500
	b := record("b", now, "Social", 1)
	b.HistoryID = 900
	b.Account = "other@example.com"
	require.NoError(t, repo.Upsert(ctx, a))
	require.NoError(t, repo.Upsert(ctx, b))

	max, err := repo.MaxHistoryID(ctx, "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), max)

	max, err = repo.MaxHistoryID(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Zero(t, max)
}

func TestMessageFindCandidates(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, record("old", now.AddDate(0, 0, -30), "Important", 9)))
	require.NoError(t, repo.Upsert(ctx, record("a", now.Add(-3*time.Hour), "Important", 5)))
	require.NoError(t, repo.Upsert(ctx, record("b", now.Add(-2*time.Hour), "Other", 9)))
	require.NoError(t, repo.Upsert(ctx, record("low", now.Add(-90*time.Minute), "Social", 2)))
	require.NoError(t, repo.Upsert(ctx, record("c", now.Add(-time.Hour), "Important", 8)))

	got, err := repo.FindCandidates(ctx, now.AddDate(0, 0, -7), "Important", 7)
	require.NoError(t, err)

	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestRawCache(t *testing.T) {
	ctx := context.Background()
	repo := NewRawRepository(newTestDB(t))

	has, err := repo.Has(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, has)

	payload := []byte{0x00, 0xff, 'h', 'i'}
	require.NoError(t, repo.Put(ctx, "m1", payload))
	require.NoError(t, repo.Put(ctx, "m1", payload))

	got, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = repo.Get(ctx, "m2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTaskUniquenessAndDispatch(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestDB(t))
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	event := model.NewTask("m1", model.TaskEvent, "Dentist", now.Add(48*time.Hour), now.Add(24*time.Hour))
	inserted, err := repo.InsertIfAbsent(ctx, event)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := model.NewTask("m1", model.TaskEvent, "Dentist again", now, now)
	inserted, err = repo.InsertIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	reminder := model.NewTask("m1", model.TaskReminder, "Pay invoice", now, now.Add(-time.Hour))
	inserted, err = repo.InsertIfAbsent(ctx, reminder)
	require.NoError(t, err)
	assert.True(t, inserted)

	ids, err := repo.MessageIDsWithTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"m1": true}, ids)

	due, err := repo.FindDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, reminder.ID, due[0].ID)
	assert.Equal(t, model.TaskReminder, due[0].Kind)

	// Exactly at the scheduled time counts as due.
	due, err = repo.FindDue(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 2)

	require.NoError(t, repo.MarkSent(ctx, reminder.ID))
	due, err = repo.FindDue(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, event.ID, due[0].ID)

	pending, err := repo.FindAll(ctx, true, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := repo.FindAll(ctx, false, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, repo.MarkSent(ctx, "missing"), repository.ErrNotFound)
}

func TestContactTouchAndProfile(t *testing.T) {
	ctx := context.Background()
	repo := NewContactRepository(newTestDB(t))
	first := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	later := first.Add(72 * time.Hour)

	assert.ErrorIs(t, repo.SetProfile(ctx, "bob@example.com", "{}"), repository.ErrNotFound)

	require.NoError(t, repo.Touch(ctx, "bob@example.com", first))
	require.NoError(t, repo.Touch(ctx, "bob@example.com", later))
	require.NoError(t, repo.SetProfile(ctx, "bob@example.com", `{"role":"landlord"}`))

	c, err := repo.FindByAddress(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, c.MessageCount)
	assert.True(t, c.FirstSeen.Equal(first))
	assert.True(t, c.LastSeen.Equal(later))
	assert.Equal(t, `{"role":"landlord"}`, c.Profile)
}

func TestCursorNeverMovesBackward(t *testing.T) {
	ctx := context.Background()
	repo := NewCursorRepository(newTestDB(t))

	wm, err := repo.Load(ctx, "me@example.com")
	require.NoError(t, err)
	assert.Zero(t, wm)

	require.NoError(t, repo.Save(ctx, "me@example.com", 200))
	require.NoError(t, repo.Save(ctx, "me@example.com", 150))

	wm, err = repo.Load(ctx, "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), wm)
}
