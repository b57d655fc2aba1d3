package client

import (
	"context"
	"reflect"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/akwean/TaskFlow-gre/domain"
)

// DefaultEditDebounce coalesces rapid edits (typing) into one write.
const DefaultEditDebounce = 400 * time.Millisecond

// CardWriter sends the card's current state to the server.
type CardWriter func(ctx context.Context, card domain.Card) error

// CardEditor tracks one card's edit session. The card moves through
// clean, dirty and in-flight states: local edits apply immediately and
// arm a debounce timer, the timer (or an explicit Flush) writes the
// pending state through, and inbound broadcasts merge in only when
// they are provably newer than the last-acknowledged baseline.
type CardEditor struct {
	mu       sync.Mutex
	writer   CardWriter
	logger   *log.Logger
	delay    time.Duration
	card     domain.Card
	baseline domain.Card
	dirty    bool
	inflight bool
	timer    *time.Timer
	closed   bool
}

// NewCardEditor starts an edit session with card as the acknowledged
// baseline.
func NewCardEditor(card domain.Card, writer CardWriter, delay time.Duration, logger *log.Logger) *CardEditor {
	if delay <= 0 {
		delay = DefaultEditDebounce
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &CardEditor{
		writer:   writer,
		logger:   logger,
		delay:    delay,
		card:     card,
		baseline: card,
	}
}

// Card returns the current local view of the card.
func (e *CardEditor) Card() domain.Card {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.card
}

// Dirty reports whether local edits have not been written through yet.
func (e *CardEditor) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// Edit applies a local mutation optimistically and arms the debounce
// timer. Each keystroke re-arms it, so only a quiet period writes.
func (e *CardEditor) Edit(mutate func(*domain.Card)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	mutate(&e.card)
	e.dirty = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.delay, func() {
		if err := e.Flush(context.Background()); err != nil {
			e.logger.WithError(err).Warn("debounced card write failed")
		}
	})
}

// Flush short-circuits the debounce timer and writes the pending state
// now. A write is skipped entirely when the local state is structurally
// identical to the baseline.
func (e *CardEditor) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if !e.dirty || reflect.DeepEqual(e.card, e.baseline) {
		e.dirty = false
		e.mu.Unlock()
		return nil
	}
	snapshot := e.card
	e.dirty = false
	e.inflight = true
	e.mu.Unlock()

	err := e.writer(ctx, snapshot)

	e.mu.Lock()
	e.inflight = false
	if err != nil {
		// The write may land later or not at all; keep the edit dirty so
		// the next flush retries it.
		e.dirty = true
		e.mu.Unlock()
		return err
	}
	if !e.dirty {
		e.card = snapshot
	}
	e.baseline = snapshot
	redo := e.dirty
	e.mu.Unlock()
	if redo {
		return e.Flush(ctx)
	}
	return nil
}

// MergeRemote folds an inbound broadcast for this card into the local
// view. The broadcast is ignored unless its update timestamp is newer
// than the local baseline. When local edits are pending, fields the
// edit has not touched adopt the remote value while touched fields keep
// the local one; checklists in particular are never clobbered while
// locally dirty, since a half-typed checklist edit is usually larger
// than what the server has. Returns whether anything was adopted.
func (e *CardEditor) MergeRemote(remote domain.Card) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if !remote.UpdatedAt.After(e.baseline.UpdatedAt) {
		return false
	}
	if !e.dirty && !e.inflight {
		e.card = remote
		e.baseline = remote
		return true
	}

	merged := remote
	if e.card.Title != e.baseline.Title {
		merged.Title = e.card.Title
	}
	if e.card.Description != e.baseline.Description {
		merged.Description = e.card.Description
	}
	if !reflect.DeepEqual(e.card.Labels, e.baseline.Labels) {
		merged.Labels = e.card.Labels
	}
	if !reflect.DeepEqual(e.card.Members, e.baseline.Members) {
		merged.Members = e.card.Members
	}
	if !equalDueDates(e.card.DueDate, e.baseline.DueDate) {
		merged.DueDate = e.card.DueDate
	}
	if !reflect.DeepEqual(e.card.Checklists, e.baseline.Checklists) {
		merged.Checklists = e.card.Checklists
	}
	e.card = merged
	e.baseline = remote
	e.dirty = !reflect.DeepEqual(e.card, e.baseline)
	return true
}

// Close tears down the session. Pending debounce timers are cleared so
// no stale write fires after the card's editor went away.
func (e *CardEditor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func equalDueDates(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
