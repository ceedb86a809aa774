package eventlog

import (
	"context"
	"errors"
	"sync"
	"time"

	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/core/storage"
)

// Handler consumes an accepted event. Handlers run synchronously after the
// event is durable and must not assume any ordering between each other.
type Handler func(ctx context.Context, event *v1.Event)

// Log is the append-only event log with fan-out. Record persists the event
// first and notifies subscribers only for events that were actually appended,
// so a replayed duplicate never triggers a second evaluation pass.
type Log struct {
	store storage.EventStore

	mu       sync.RWMutex
	handlers []Handler
}

func NewLog(store storage.EventStore) *Log {
	if store == nil {
		panic("eventlog: store must not be nil")
	}
	return &Log{store: store}
}

// Subscribe registers a handler for every subsequently accepted event.
func (l *Log) Subscribe(h Handler) {
	if h == nil {
		return
	}
	l.mu.Lock()
	l.handlers = append(l.handlers, h)
	l.mu.Unlock()
}

// Record appends the event and notifies subscribers exactly once. Duplicate
// ids return storage.ErrDuplicate without notifying anyone.
func (l *Log) Record(ctx context.Context, event *v1.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := l.store.RecordEvent(ctx, event); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return storage.ErrDuplicate
		}
		return err
	}

	l.mu.RLock()
	handlers := l.handlers
	l.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
	return nil
}

// Replay feeds stored events after the cursor through the given handler in
// strict seq order and returns the last seq seen.
func (l *Log) Replay(ctx context.Context, cursor int64, batchSize int, h Handler) (int64, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	for {
		events, err := l.store.RetrieveEventsAfterCursor(ctx, cursor, batchSize)
		if err != nil {
			return cursor, err
		}
		if len(events) == 0 {
			return cursor, nil
		}
		for _, event := range events {
			h(ctx, event)
			cursor = event.Seq
		}
	}
}
