package client

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/akwean/TaskFlow-gre/domain"
)

type sentCardMove struct {
	CardID   string
	ToListID string
	ToIndex  int
}

type recordingSender struct {
	mu        sync.Mutex
	err       error
	cardMoves []sentCardMove
	listCalls [][]string
}

func (s *recordingSender) SendCardMove(_ context.Context, cardID, toListID string, toIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.cardMoves = append(s.cardMoves, sentCardMove{cardID, toListID, toIndex})
	return nil
}

func (s *recordingSender) SendListOrder(_ context.Context, lists []domain.List) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	ids := make([]string, len(lists))
	for i, l := range lists {
		ids[i] = l.ID
	}
	s.listCalls = append(s.listCalls, ids)
	return nil
}

func (s *recordingSender) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func newTestReorderer(t *testing.T) (*Reorderer, *BoardState, *recordingSender) {
	t.Helper()
	state := seedState()
	sender := &recordingSender{}
	r := NewReorderer(state, NewOfflineQueue(quietLogger()), sender, time.Hour, quietLogger())
	t.Cleanup(r.Close)
	return r, state, sender
}

func TestDragCardRoutesToCardMove(t *testing.T) {
	r, state, sender := newTestReorderer(t)

	r.DragEnded(DragEnd{Kind: DragCard, ID: "A", FromListID: "l1", ToListID: "l2", ToIndex: 1})
	if got := cardIDs(state.Cards("l2")); !reflect.DeepEqual(got, []string{"C", "A"}) {
		t.Fatalf("optimistic move not applied: %v", got)
	}

	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.cardMoves) != 1 || len(sender.listCalls) != 0 {
		t.Fatalf("card drag must produce exactly one card write: %+v %+v", sender.cardMoves, sender.listCalls)
	}
	if sender.cardMoves[0] != (sentCardMove{"A", "l2", 1}) {
		t.Fatalf("wrong move sent: %+v", sender.cardMoves[0])
	}
}

func TestDragListRoutesToBulkReorder(t *testing.T) {
	r, _, sender := newTestReorderer(t)

	r.DragEnded(DragEnd{Kind: DragList, ID: "l2", ToIndex: 0})
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.listCalls) != 1 || len(sender.cardMoves) != 0 {
		t.Fatalf("list drag must produce exactly one bulk write: %+v %+v", sender.listCalls, sender.cardMoves)
	}
	if !reflect.DeepEqual(sender.listCalls[0], []string{"l2", "l1"}) {
		t.Fatalf("bulk write must carry the new order: %v", sender.listCalls[0])
	}
}

func TestRapidCardDragsCoalesce(t *testing.T) {
	r, _, sender := newTestReorderer(t)

	// Same card dropped twice before the batch fires: only the final
	// position goes out.
	r.DragEnded(DragEnd{Kind: DragCard, ID: "A", FromListID: "l1", ToListID: "l2", ToIndex: 0})
	r.DragEnded(DragEnd{Kind: DragCard, ID: "A", FromListID: "l2", ToListID: "l1", ToIndex: 1})
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.cardMoves) != 1 {
		t.Fatalf("rapid drags must coalesce, got %+v", sender.cardMoves)
	}
	if sender.cardMoves[0] != (sentCardMove{"A", "l1", 1}) {
		t.Fatalf("final position must win: %+v", sender.cardMoves[0])
	}
}

func TestBatchTimerFires(t *testing.T) {
	state := seedState()
	sender := &recordingSender{}
	r := NewReorderer(state, NewOfflineQueue(quietLogger()), sender, 20*time.Millisecond, quietLogger())
	defer r.Close()

	r.DragEnded(DragEnd{Kind: DragCard, ID: "B", FromListID: "l1", ToListID: "l1", ToIndex: 0})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sender.mu.Lock()
		n := len(sender.cardMoves)
		sender.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("batch timer never fired")
}

func TestFailedFlushKeepsBatchPending(t *testing.T) {
	r, _, sender := newTestReorderer(t)
	ctx := context.Background()

	r.DragEnded(DragEnd{Kind: DragCard, ID: "A", FromListID: "l1", ToListID: "l2", ToIndex: 1})
	r.DragEnded(DragEnd{Kind: DragCard, ID: "B", FromListID: "l1", ToListID: "l2", ToIndex: 2})
	r.DragEnded(DragEnd{Kind: DragList, ID: "l2", ToIndex: 0})

	sender.fail(errors.New("server unreachable"))
	if err := r.Flush(ctx); err == nil {
		t.Fatal("flush must report the send failure")
	}

	sender.fail(nil)
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	want := []sentCardMove{{"A", "l2", 1}, {"B", "l2", 2}}
	if !reflect.DeepEqual(sender.cardMoves, want) {
		t.Fatalf("undelivered card moves must survive the failure: %+v", sender.cardMoves)
	}
	if len(sender.listCalls) != 1 {
		t.Fatalf("undelivered list reorder must survive the failure: %+v", sender.listCalls)
	}
}

func TestOfflineDragsReplayInOrder(t *testing.T) {
	state := seedState()
	sender := &recordingSender{}
	queue := NewOfflineQueue(quietLogger())
	r := NewReorderer(state, queue, sender, time.Hour, quietLogger())
	defer r.Close()

	ctx := context.Background()
	_ = queue.SetOnline(ctx, false)

	r.DragEnded(DragEnd{Kind: DragCard, ID: "A", FromListID: "l1", ToListID: "l2", ToIndex: 1})
	r.DragEnded(DragEnd{Kind: DragCard, ID: "B", FromListID: "l1", ToListID: "l2", ToIndex: 2})
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(sender.cardMoves) != 0 {
		t.Fatalf("offline writes must queue, got %+v", sender.cardMoves)
	}

	if err := queue.SetOnline(ctx, true); err != nil {
		t.Fatalf("drain: %v", err)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	want := []sentCardMove{{"A", "l2", 1}, {"B", "l2", 2}}
	if !reflect.DeepEqual(sender.cardMoves, want) {
		t.Fatalf("replay out of order: %+v", sender.cardMoves)
	}
}
