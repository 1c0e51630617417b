package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mailbot/internal/model"
	"mailbot/internal/repository"
)

type InMemoryMessageRepository struct {
	records map[string]*model.MessageRecord
	mutex   sync.RWMutex
}

func NewInMemoryMessageRepository() *InMemoryMessageRepository {
	return &InMemoryMessageRepository{
		records: make(map[string]*model.MessageRecord),
	}
}

func (r *InMemoryMessageRepository) Upsert(ctx context.Context, record *model.MessageRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cp := *record
	r.records[record.ID] = &cp
	return nil
}

func (r *InMemoryMessageRepository) FindByID(ctx context.Context, id string) (*model.MessageRecord, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	cp := *record
	return &cp, nil
}

func (r *InMemoryMessageRepository) Exists(ctx context.Context, id string) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.records[id]
	return exists, nil
}

func (r *InMemoryMessageRepository) MaxHistoryID(ctx context.Context, account string) (uint64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var max uint64
	for _, record := range r.records {
		if record.Account == account && record.HistoryID > max {
			max = record.HistoryID
		}
	}
	return max, nil
}

func (r *InMemoryMessageRepository) FindCandidates(ctx context.Context, since time.Time, label string, minImportance int) ([]*model.MessageRecord, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []*model.MessageRecord
	for _, record := range r.records {
		if record.Date.Before(since) {
			continue
		}
		if record.Category != label && record.Importance < minImportance {
			continue
		}
		cp := *record
		out = append(out, &cp)
	}
	sortByArrival(out)
	return out, nil
}

func (r *InMemoryMessageRepository) FindRecent(ctx context.Context, limit int) ([]*model.MessageRecord, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]*model.MessageRecord, 0, len(r.records))
	for _, record := range r.records {
		cp := *record
		out = append(out, &cp)
	}
	sortByArrival(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByArrival(records []*model.MessageRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].ID < records[j].ID
	})
}

type InMemoryRawRepository struct {
	payloads map[string][]byte
	mutex    sync.RWMutex
}

func NewInMemoryRawRepository() *InMemoryRawRepository {
	return &InMemoryRawRepository{
		payloads: make(map[string][]byte),
	}
}

func (r *InMemoryRawRepository) Has(ctx context.Context, id string) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.payloads[id]
	return exists, nil
}

func (r *InMemoryRawRepository) Get(ctx context.Context, id string) ([]byte, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	payload, exists := r.payloads[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	return append([]byte(nil), payload...), nil
}

func (r *InMemoryRawRepository) Put(ctx context.Context, id string, payload []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.payloads[id] = append([]byte(nil), payload...)
	return nil
}

type taskKey struct {
	messageID string
	kind      model.TaskKind
}

type InMemoryTaskRepository struct {
	tasks  map[string]*model.Task
	unique map[taskKey]string
	order  []string
	mutex  sync.RWMutex
}

func NewInMemoryTaskRepository() *InMemoryTaskRepository {
	return &InMemoryTaskRepository{
		tasks:  make(map[string]*model.Task),
		unique: make(map[taskKey]string),
	}
}

func (r *InMemoryTaskRepository) InsertIfAbsent(ctx context.Context, task *model.Task) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := taskKey{messageID: task.MessageID, kind: task.Kind}
	if _, exists := r.unique[key]; exists {
		return false, nil
	}
	cp := *task
	r.tasks[task.ID] = &cp
	r.unique[key] = task.ID
	r.order = append(r.order, task.ID)
	return true, nil
}

func (r *InMemoryTaskRepository) MessageIDsWithTasks(ctx context.Context) (map[string]bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := make(map[string]bool, len(r.unique))
	for key := range r.unique {
		ids[key.messageID] = true
	}
	return ids, nil
}

func (r *InMemoryTaskRepository) FindDue(ctx context.Context, now time.Time) ([]*model.Task, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var due []*model.Task
	for _, id := range r.order {
		task := r.tasks[id]
		if task.Due(now) {
			cp := *task
			due = append(due, &cp)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	return due, nil
}

func (r *InMemoryTaskRepository) MarkSent(ctx context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	task, exists := r.tasks[id]
	if !exists {
		return repository.ErrNotFound
	}
	task.Sent = true
	return nil
}

func (r *InMemoryTaskRepository) FindAll(ctx context.Context, pendingOnly bool, limit int) ([]*model.Task, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []*model.Task
	for i := len(r.order) - 1; i >= 0; i-- {
		task := r.tasks[r.order[i]]
		if pendingOnly && task.Sent {
			continue
		}
		cp := *task
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type InMemoryContactRepository struct {
	contacts map[string]*model.ContactProfile
	mutex    sync.RWMutex
}

func NewInMemoryContactRepository() *InMemoryContactRepository {
	return &InMemoryContactRepository{
		contacts: make(map[string]*model.ContactProfile),
	}
}

func (r *InMemoryContactRepository) FindByAddress(ctx context.Context, address string) (*model.ContactProfile, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	contact, exists := r.contacts[address]
	if !exists {
		return nil, repository.ErrNotFound
	}
	cp := *contact
	return &cp, nil
}

func (r *InMemoryContactRepository) Touch(ctx context.Context, address string, seen time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	contact, exists := r.contacts[address]
	if !exists {
		r.contacts[address] = &model.ContactProfile{
			Address:      address,
			MessageCount: 1,
			FirstSeen:    seen,
			LastSeen:     seen,
		}
		return nil
	}
	contact.MessageCount++
	contact.LastSeen = seen
	return nil
}

func (r *InMemoryContactRepository) SetProfile(ctx context.Context, address, profile string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	contact, exists := r.contacts[address]
	if !exists {
		return repository.ErrNotFound
	}
	contact.Profile = profile
	return nil
}

type InMemoryCursorRepository struct {
	cursors map[string]uint64
	mutex   sync.RWMutex
}

func NewInMemoryCursorRepository() *InMemoryCursorRepository {
	return &InMemoryCursorRepository{
		cursors: make(map[string]uint64),
	}
}

func (r *InMemoryCursorRepository) Load(ctx context.Context, account string) (uint64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.cursors[account], nil
}

func (r *InMemoryCursorRepository) Save(ctx context.Context, account string, watermark uint64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if watermark > r.cursors[account] {
		r.cursors[account] = watermark
	}
	return nil
}
