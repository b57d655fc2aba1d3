package client

import (
	"sort"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/akwean/TaskFlow-gre/domain"
	"github.com/akwean/TaskFlow-gre/realtime"
)

// BoardState is the client-side in-memory view of one board. Local
// mutations apply optimistically; Apply folds inbound broadcast events
// into the view. Reorder snapshots are adopted wholesale, so replaying
// the same snapshot is a no-op.
type BoardState struct {
	mu      sync.Mutex
	board   domain.Board
	lists   []domain.List
	cards   map[string][]domain.Card
	deleted bool
}

// NewBoardState seeds a view from a full fetch.
func NewBoardState(board domain.Board, lists []domain.List, cards map[string][]domain.Card) *BoardState {
	s := &BoardState{
		board: board,
		lists: append([]domain.List(nil), lists...),
		cards: map[string][]domain.Card{},
	}
	sortLists(s.lists)
	for listID, cs := range cards {
		cp := append([]domain.Card(nil), cs...)
		sortCards(cp)
		s.cards[listID] = cp
	}
	return s
}

// Board returns a copy of the current board.
func (s *BoardState) Board() domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// Deleted reports whether the board was removed on the server.
func (s *BoardState) Deleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// Lists returns the lists in display order.
func (s *BoardState) Lists() []domain.List {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.List(nil), s.lists...)
}

// Cards returns the cards of one list in display order.
func (s *BoardState) Cards(listID string) []domain.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Card(nil), s.cards[listID]...)
}

type boardEventPayload struct {
	Board domain.Board `json:"board"`
}

type boardIDEventPayload struct {
	BoardID string `json:"boardId"`
}

type listEventPayload struct {
	List domain.List `json:"list"`
}

type listIDEventPayload struct {
	ListID string `json:"listId"`
}

type listsReorderedEventPayload struct {
	Lists []domain.List `json:"lists"`
}

type cardEventPayload struct {
	Card domain.Card `json:"card"`
}

type cardUpdatedEventPayload struct {
	Card      domain.Card `json:"card"`
	OldListID string      `json:"oldListId"`
	NewListID string      `json:"newListId"`
}

type cardDeletedEventPayload struct {
	CardID string `json:"cardId"`
	ListID string `json:"listId"`
}

type cardsReorderedEventPayload struct {
	ListID string        `json:"listId"`
	Cards  []domain.Card `json:"cards"`
}

// Apply folds a broadcast event into the view. Unknown events are
// ignored; handlers are idempotent so at-least-once delivery is safe.
func (s *BoardState) Apply(event string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch event {
	case realtime.EventBoardUpdated:
		var p boardEventPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.Board.ID == s.board.ID {
			s.board = p.Board
		}
	case realtime.EventBoardDeleted:
		var p boardIDEventPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.BoardID == s.board.ID {
			s.deleted = true
		}
	case realtime.EventListCreated, realtime.EventListUpdated:
		var p listEventPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return err
		}
		s.upsertList(p.List)
	case realtime.EventListDeleted:
		var p listIDEventPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return err
		}
		s.removeList(p.ListID)
	case realtime.EventListsReordered:
		var p listsReorderedEventPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return err
		}
		s.lists = append([]domain.List(nil), p.Lists...)
		sortLists(s.lists)
	case realtime.EventCardCreated:
		var p cardEventPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return err
		}
		s.upsertCard(p.Card)
	case realtime.EventCardUpdated:
		var p cardUpdatedEventPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.OldListID != "" && p.OldListID != p.Card.ListID {
			s.removeCard(p.OldListID, p.Card.ID)
		}
		s.upsertCard(p.Card)
	case realtime.EventCardDeleted:
		var p cardDeletedEventPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return err
		}
		s.removeCard(p.ListID, p.CardID)
	case realtime.EventCardsReordered:
		var p cardsReorderedEventPayload
		if err := sonic.Unmarshal(data, &p); err != nil {
			return err
		}
		cards := append([]domain.Card(nil), p.Cards...)
		sortCards(cards)
		s.cards[p.ListID] = cards
	}
	return nil
}

func (s *BoardState) upsertList(l domain.List) {
	for i, existing := range s.lists {
		if existing.ID == l.ID {
			s.lists[i] = l
			sortLists(s.lists)
			return
		}
	}
	s.lists = append(s.lists, l)
	sortLists(s.lists)
}

func (s *BoardState) removeList(listID string) {
	for i, l := range s.lists {
		if l.ID == listID {
			s.lists = append(s.lists[:i], s.lists[i+1:]...)
			break
		}
	}
	delete(s.cards, listID)
}

func (s *BoardState) upsertCard(c domain.Card) {
	cards := s.cards[c.ListID]
	for i, existing := range cards {
		if existing.ID == c.ID {
			cards[i] = c
			sortCards(cards)
			s.cards[c.ListID] = cards
			return
		}
	}
	cards = append(cards, c)
	sortCards(cards)
	s.cards[c.ListID] = cards
}

func (s *BoardState) removeCard(listID, cardID string) {
	cards := s.cards[listID]
	for i, c := range cards {
		if c.ID == cardID {
			s.cards[listID] = append(cards[:i], cards[i+1:]...)
			return
		}
	}
}

// MoveCardLocal splices a card into its target position before the
// server confirms, renumbering both lists densely so the view matches
// what the authoritative snapshot will say.
func (s *BoardState) MoveCardLocal(cardID, fromListID, toListID string, toIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source := s.cards[fromListID]
	var moved *domain.Card
	for i, c := range source {
		if c.ID == cardID {
			card := c
			moved = &card
			source = append(source[:i], source[i+1:]...)
			break
		}
	}
	if moved == nil {
		return
	}
	renumber(source)
	s.cards[fromListID] = source

	dest := source
	if toListID != fromListID {
		dest = s.cards[toListID]
	}
	if toIndex < 0 {
		toIndex = 0
	}
	if toIndex > len(dest) {
		toIndex = len(dest)
	}
	moved.ListID = toListID
	dest = append(dest, domain.Card{})
	copy(dest[toIndex+1:], dest[toIndex:])
	dest[toIndex] = *moved
	renumber(dest)
	s.cards[toListID] = dest
}

// MoveListLocal splices a list into its target position optimistically.
func (s *BoardState) MoveListLocal(listID string, toIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var moved *domain.List
	for i, l := range s.lists {
		if l.ID == listID {
			list := l
			moved = &list
			s.lists = append(s.lists[:i], s.lists[i+1:]...)
			break
		}
	}
	if moved == nil {
		return
	}
	if toIndex < 0 {
		toIndex = 0
	}
	if toIndex > len(s.lists) {
		toIndex = len(s.lists)
	}
	s.lists = append(s.lists, domain.List{})
	copy(s.lists[toIndex+1:], s.lists[toIndex:])
	s.lists[toIndex] = *moved
	for i := range s.lists {
		s.lists[i].Order = i
	}
}

func renumber(cards []domain.Card) {
	for i := range cards {
		cards[i].Order = i
	}
}

func sortCards(cards []domain.Card) {
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Order < cards[j].Order })
}

func sortLists(lists []domain.List) {
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].Order < lists[j].Order })
}
