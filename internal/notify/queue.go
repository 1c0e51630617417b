package notify

import (
	"context"
	"sync"

	"mailbot/internal/model"
)

// maxQueued bounds the replies kept when nobody is waiting for them.
const maxQueued = 256

// ReplyQueue buffers inbound replies until a waiter claims them. Push never
// blocks; replies nobody matches stay queued in arrival order.
type ReplyQueue struct {
	mutex  sync.Mutex
	items  []model.Reply
	signal chan struct{}
}

func NewReplyQueue() *ReplyQueue {
	return &ReplyQueue{signal: make(chan struct{})}
}

func (q *ReplyQueue) Push(r model.Reply) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.items = append(q.items, r)
	if len(q.items) > maxQueued {
		q.items = q.items[len(q.items)-maxQueued:]
	}
	close(q.signal)
	q.signal = make(chan struct{})
}

// Await removes and returns the oldest reply accepted by match, waiting for
// one to arrive if needed.
func (q *ReplyQueue) Await(ctx context.Context, match func(model.Reply) bool) (model.Reply, error) {
	for {
		q.mutex.Lock()
		for i, r := range q.items {
			if match(r) {
				q.items = append(q.items[:i], q.items[i+1:]...)
				q.mutex.Unlock()
				return r, nil
			}
		}
		wait := q.signal
		q.mutex.Unlock()

		select {
		case <-ctx.Done():
			return model.Reply{}, ctx.Err()
		case <-wait:
		}
	}
}

func (q *ReplyQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}
