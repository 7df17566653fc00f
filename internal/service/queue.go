package service

import (
	"context"
	"sync"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"
)

// messageQueue is the bounded FIFO between Discord ingestion and the single
// Minecraft consumer. When full, the oldest entries are dropped and counted;
// the consumer reports one aggregated overflow figure per episode instead of
// one warning per dropped message.
type messageQueue struct {
	mu       sync.Mutex
	items    []model.ChatMessage
	capacity int
	dropped  int
	wake     chan struct{}
}

func newMessageQueue(capacity int) *messageQueue {
	return &messageQueue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Push appends in arrival order, dropping the oldest entry on overflow.
func (q *messageQueue) Push(msg model.ChatMessage) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	if len(q.items) > q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop blocks until a message is available or ctx is cancelled. overflow is
// non-zero exactly once per overflow episode: when the queue first falls
// back under capacity it carries the total number of dropped messages.
func (q *messageQueue) Pop(ctx context.Context) (msg model.ChatMessage, overflow int, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg = q.items[0]
			q.items = q.items[1:]
			if q.dropped > 0 && len(q.items) < q.capacity {
				overflow = q.dropped
				q.dropped = 0
			}
			q.mu.Unlock()
			return msg, overflow, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.ChatMessage{}, 0, false
		case <-q.wake:
		}
	}
}

// TryPop is Pop without blocking, used while draining at shutdown.
func (q *messageQueue) TryPop() (model.ChatMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.ChatMessage{}, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
