package client

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/akwean/TaskFlow-gre/domain"
)

// DefaultReorderBatchDelay coalesces the cascade of order writes one
// drag gesture produces into a minimal set of requests.
const DefaultReorderBatchDelay = 50 * time.Millisecond

// DragKind says which conceptual entity was dragged. A drag routes to
// exactly one of the two reorder paths, never both.
type DragKind int

const (
	DragCard DragKind = iota
	DragList
)

// DragEnd describes where a drag gesture dropped its entity.
type DragEnd struct {
	Kind       DragKind
	ID         string
	FromListID string
	ToListID   string
	ToIndex    int
}

// OrderSender issues the ordering write calls to the server.
type OrderSender interface {
	SendCardMove(ctx context.Context, cardID, toListID string, toIndex int) error
	SendListOrder(ctx context.Context, lists []domain.List) error
}

// Reorderer applies drag results optimistically to the board view and
// batches the resulting network writes behind a short timer. Rapid
// successive drags of the same card collapse to its final position.
type Reorderer struct {
	mu           sync.Mutex
	state        *BoardState
	queue        *OfflineQueue
	sender       OrderSender
	logger       *log.Logger
	delay        time.Duration
	pendingCards map[string]DragEnd
	cardOrder    []string
	listsPending bool
	timer        *time.Timer
	closed       bool
}

// NewReorderer wires the drag pipeline together.
func NewReorderer(state *BoardState, queue *OfflineQueue, sender OrderSender, delay time.Duration, logger *log.Logger) *Reorderer {
	if delay <= 0 {
		delay = DefaultReorderBatchDelay
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reorderer{
		state:        state,
		queue:        queue,
		sender:       sender,
		logger:       logger,
		delay:        delay,
		pendingCards: map[string]DragEnd{},
	}
}

// DragEnded routes a finished drag to the card or list reorder path,
// applies it locally and schedules the batched write.
func (r *Reorderer) DragEnded(drag DragEnd) {
	switch drag.Kind {
	case DragCard:
		r.state.MoveCardLocal(drag.ID, drag.FromListID, drag.ToListID, drag.ToIndex)
		r.mu.Lock()
		if prev, ok := r.pendingCards[drag.ID]; ok {
			// The card moved again before the batch fired; keep the
			// original source list so the server closes the right gap.
			drag.FromListID = prev.FromListID
		} else {
			r.cardOrder = append(r.cardOrder, drag.ID)
		}
		r.pendingCards[drag.ID] = drag
		r.armLocked()
		r.mu.Unlock()
	case DragList:
		r.state.MoveListLocal(drag.ID, drag.ToIndex)
		r.mu.Lock()
		r.listsPending = true
		r.armLocked()
		r.mu.Unlock()
	}
}

func (r *Reorderer) armLocked() {
	if r.closed {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, func() {
		if err := r.Flush(context.Background()); err != nil {
			r.logger.WithError(err).Warn("batched reorder write failed")
		}
	})
}

// Flush sends the batched writes now. Errors stop the flush; whatever
// did not go out stays pending for the next attempt.
func (r *Reorderer) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	cards := make([]DragEnd, 0, len(r.pendingCards))
	for _, id := range r.cardOrder {
		cards = append(cards, r.pendingCards[id])
	}
	r.pendingCards = map[string]DragEnd{}
	r.cardOrder = nil
	lists := r.listsPending
	r.listsPending = false
	r.mu.Unlock()

	for i, drag := range cards {
		d := drag
		err := r.queue.Submit(ctx, Op{
			Name: "card:move",
			Do: func(ctx context.Context) error {
				return r.sender.SendCardMove(ctx, d.ID, d.ToListID, d.ToIndex)
			},
		})
		if err != nil {
			r.restore(cards[i:], lists)
			return err
		}
	}
	if lists {
		snapshot := r.state.Lists()
		err := r.queue.Submit(ctx, Op{
			Name: "lists:reorder",
			Do: func(ctx context.Context) error {
				return r.sender.SendListOrder(ctx, snapshot)
			},
		})
		if err != nil {
			r.restore(nil, true)
			return err
		}
	}
	return nil
}

// restore puts undelivered batch entries back so the next flush retries
// them. A card the user dragged again while the flush was in flight is
// already pending with a newer position; the stale entry is dropped.
func (r *Reorderer) restore(cards []DragEnd, lists bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, d := range cards {
		if _, ok := r.pendingCards[d.ID]; ok {
			continue
		}
		r.pendingCards[d.ID] = d
		ids = append(ids, d.ID)
	}
	if len(ids) > 0 {
		r.cardOrder = append(ids, r.cardOrder...)
	}
	if lists {
		r.listsPending = true
	}
}

// Close clears the batch timer so no write fires after teardown.
func (r *Reorderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
