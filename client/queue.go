package client

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Op is one queued mutating call, replayed as-is when the queue drains.
type Op struct {
	Name string
	Do   func(ctx context.Context) error
}

// OfflineQueue holds mutating writes while the client is offline and
// replays them FIFO on reconnect. While online it is a passthrough.
type OfflineQueue struct {
	mu      sync.Mutex
	logger  *log.Logger
	online  bool
	pending []Op
}

// NewOfflineQueue creates a queue that starts online.
func NewOfflineQueue(logger *log.Logger) *OfflineQueue {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &OfflineQueue{logger: logger, online: true}
}

// Online reports the current connectivity assumption.
func (q *OfflineQueue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Pending returns how many writes wait for reconnection.
func (q *OfflineQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Submit executes op immediately when online, or queues it for replay.
// Queued submissions return nil; their errors surface on drain.
func (q *OfflineQueue) Submit(ctx context.Context, op Op) error {
	q.mu.Lock()
	if !q.online {
		q.pending = append(q.pending, op)
		n := len(q.pending)
		q.mu.Unlock()
		q.logger.WithFields(log.Fields{"op": op.Name, "pending": n}).Debug("queued write while offline")
		return nil
	}
	q.mu.Unlock()
	return op.Do(ctx)
}

// SetOnline flips connectivity. Going online drains the queue in the
// original submission order; a failing entry stops the drain and stays
// queued together with everything behind it.
func (q *OfflineQueue) SetOnline(ctx context.Context, online bool) error {
	q.mu.Lock()
	q.online = online
	if !online {
		q.mu.Unlock()
		return nil
	}
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for i, op := range pending {
		if err := op.Do(ctx); err != nil {
			q.logger.WithError(err).WithField("op", op.Name).Warn("offline queue replay failed")
			q.mu.Lock()
			q.pending = append(append([]Op(nil), pending[i:]...), q.pending...)
			q.mu.Unlock()
			return err
		}
	}
	return nil
}
