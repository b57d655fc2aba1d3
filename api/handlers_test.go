package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/akwean/TaskFlow-gre/domain"
	"github.com/akwean/TaskFlow-gre/realtime"
)

type fakeStore struct {
	mu     sync.Mutex
	boards map[string]domain.Board
	lists  map[string]domain.List
	cards  map[string]domain.Card
	users  map[string]domain.User // keyed by email
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		boards: map[string]domain.Board{},
		lists:  map[string]domain.List{},
		cards:  map[string]domain.Card{},
		users:  map[string]domain.User{},
	}
}

func (f *fakeStore) FetchBoards(_ context.Context, userID string) ([]domain.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Board
	for _, b := range f.boards {
		if b.HasMember(userID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) FetchBoard(_ context.Context, boardID string) (*domain.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[boardID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (f *fakeStore) InsertBoard(_ context.Context, b domain.Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards[b.ID] = b
	return nil
}

func (f *fakeStore) UpdateBoard(_ context.Context, b domain.Board) error {
	return f.InsertBoard(context.Background(), b)
}

func (f *fakeStore) DeleteBoard(_ context.Context, boardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.boards, boardID)
	return nil
}

func (f *fakeStore) FetchLists(_ context.Context, boardID string) ([]domain.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.List
	for _, l := range f.lists {
		if l.BoardID == boardID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStore) FetchList(_ context.Context, listID string) (*domain.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lists[listID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (f *fakeStore) InsertList(_ context.Context, l domain.List) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[l.ID] = l
	return nil
}

func (f *fakeStore) UpdateList(_ context.Context, l domain.List) error {
	return f.InsertList(context.Background(), l)
}

func (f *fakeStore) UpdateListOrder(_ context.Context, _, listID string, order int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lists[listID]
	if !ok {
		return domain.ErrNotFound
	}
	l.Order = order
	f.lists[listID] = l
	return nil
}

func (f *fakeStore) DeleteList(_ context.Context, _, listID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lists, listID)
	return nil
}

func (f *fakeStore) FetchCards(_ context.Context, listID string) ([]domain.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Card
	for _, c := range f.cards {
		if c.ListID == listID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStore) FetchCard(_ context.Context, cardID string) (*domain.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[cardID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeStore) InsertCard(_ context.Context, c domain.Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards[c.ID] = c
	return nil
}

func (f *fakeStore) UpdateCard(_ context.Context, c domain.Card) error {
	return f.InsertCard(context.Background(), c)
}

func (f *fakeStore) UpdateCardOrder(_ context.Context, _, cardID string, order int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[cardID]
	if !ok {
		return domain.ErrNotFound
	}
	c.Order = order
	f.cards[cardID] = c
	return nil
}

func (f *fakeStore) MoveCard(_ context.Context, c domain.Card, _ string) error {
	return f.InsertCard(context.Background(), c)
}

func (f *fakeStore) DeleteCard(_ context.Context, _, cardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cards, cardID)
	return nil
}

func (f *fakeStore) FindUserByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type emittedEvent struct {
	Room    string
	Event   string
	Payload any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (f *fakeBroadcaster) EmitToBoard(boardID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emittedEvent{Room: "board:" + boardID, Event: event, Payload: payload})
}

func (f *fakeBroadcaster) EmitToUser(userID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emittedEvent{Room: "user:" + userID, Event: event, Payload: payload})
}

func (f *fakeBroadcaster) byEvent(event string) []emittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emittedEvent
	for _, e := range f.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeAuth struct{ userID string }

func (a fakeAuth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	return a.userID, nil
}

type fixture struct {
	e     *echo.Echo
	store *fakeStore
	rt    *fakeBroadcaster
}

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	e := echo.New()
	store := newFakeStore()
	rt := &fakeBroadcaster{}
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	Register(e, store, fakeAuth{userID: userID}, rt, logger)
	return &fixture{e: e, store: store, rt: rt}
}

func (fx *fixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	rec := httptest.NewRecorder()
	fx.e.ServeHTTP(rec, req)
	return rec
}

func (fx *fixture) seedBoard(ownerID string, memberIDs ...string) domain.Board {
	members := []domain.Member{{UserID: ownerID, Role: domain.RoleAdmin}}
	for _, id := range memberIDs {
		members = append(members, domain.Member{UserID: id, Role: domain.RoleMember})
	}
	board := domain.Board{
		ID:         "board-1",
		Title:      "Sprint",
		Background: domain.DefaultBackground,
		OwnerID:    ownerID,
		Members:    members,
		Visibility: domain.VisibilityPrivate,
	}
	fx.store.boards[board.ID] = board
	return board
}

func (fx *fixture) seedList(id, boardID string, order int) domain.List {
	l := domain.List{ID: id, Title: id, BoardID: boardID, Order: order}
	fx.store.lists[id] = l
	return l
}

func (fx *fixture) seedCard(id, listID string, order int) domain.Card {
	c := domain.Card{ID: id, Title: id, ListID: listID, Order: order}
	fx.store.cards[id] = c
	return c
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestCreateCardAppendsAfterMax(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	fx.seedList("l1", "board-1", 0)
	fx.seedCard("a", "l1", 0)
	fx.seedCard("b", "l1", 1)

	rec := fx.request(t, http.MethodPost, "/api/lists/l1/cards", map[string]string{"title": "new card"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	card := decodeBody[domain.Card](t, rec)
	if card.Order != 2 {
		t.Fatalf("expected order 2, got %d", card.Order)
	}

	// Round-trip: the new card comes back last from the list fetch.
	rec = fx.request(t, http.MethodGet, "/api/lists/l1/cards", nil)
	cards := decodeBody[[]domain.Card](t, rec)
	if len(cards) != 3 || cards[2].ID != card.ID {
		t.Fatalf("expected new card at the end, got %+v", cards)
	}
	if events := fx.rt.byEvent(realtime.EventCardCreated); len(events) != 1 {
		t.Fatalf("expected one card:created broadcast, got %d", len(events))
	}
}

func TestCreateCardEmptyListStartsAtZero(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	fx.seedList("l1", "board-1", 0)

	rec := fx.request(t, http.MethodPost, "/api/lists/l1/cards", map[string]string{"title": "first"})
	card := decodeBody[domain.Card](t, rec)
	if card.Order != 0 {
		t.Fatalf("expected order 0 on empty list, got %d", card.Order)
	}
}

func TestMoveCardWithinList(t *testing.T) {
	// [A(0), B(1), C(2)]: move C to index 0 -> C=0, A=1, B=2.
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	fx.seedList("l1", "board-1", 0)
	fx.seedCard("A", "l1", 0)
	fx.seedCard("B", "l1", 1)
	fx.seedCard("C", "l1", 2)

	rec := fx.request(t, http.MethodPut, "/api/cards/C", map[string]any{"order": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	want := map[string]int{"C": 0, "A": 1, "B": 2}
	for id, order := range want {
		if got := fx.store.cards[id].Order; got != order {
			t.Errorf("card %s: expected order %d, got %d", id, order, got)
		}
	}

	snapshots := fx.rt.byEvent(realtime.EventCardsReordered)
	if len(snapshots) != 1 {
		t.Fatalf("expected one cards:reordered snapshot, got %d", len(snapshots))
	}
	payload := snapshots[0].Payload.(cardsReorderedPayload)
	if payload.ListID != "l1" || len(payload.Cards) != 3 {
		t.Fatalf("unexpected snapshot: %+v", payload)
	}
	if payload.Cards[0].ID != "C" {
		t.Fatalf("snapshot not in authoritative order: %+v", payload.Cards)
	}
}

func TestMoveCardAcrossLists(t *testing.T) {
	// L1=[A(0),B(1)], L2=[C(0)]: move A to L2 index 1 -> L1=[B(0)], L2=[C(0),A(1)].
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	fx.seedList("l1", "board-1", 0)
	fx.seedList("l2", "board-1", 1)
	fx.seedCard("A", "l1", 0)
	fx.seedCard("B", "l1", 1)
	fx.seedCard("C", "l2", 0)

	rec := fx.request(t, http.MethodPut, "/api/cards/A", map[string]any{"list": "l2", "order": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if a := fx.store.cards["A"]; a.ListID != "l2" || a.Order != 1 {
		t.Fatalf("A: expected l2/1, got %s/%d", a.ListID, a.Order)
	}
	if b := fx.store.cards["B"]; b.Order != 0 {
		t.Fatalf("B: expected source gap closed to 0, got %d", b.Order)
	}
	if c := fx.store.cards["C"]; c.ListID != "l2" || c.Order != 0 {
		t.Fatalf("C: expected l2/0, got %s/%d", c.ListID, c.Order)
	}

	// Both the target and the source list get authoritative snapshots.
	snapshots := fx.rt.byEvent(realtime.EventCardsReordered)
	if len(snapshots) != 2 {
		t.Fatalf("expected two cards:reordered snapshots, got %d", len(snapshots))
	}
	listIDs := map[string]bool{}
	for _, s := range snapshots {
		listIDs[s.Payload.(cardsReorderedPayload).ListID] = true
	}
	if !listIDs["l1"] || !listIDs["l2"] {
		t.Fatalf("snapshots should cover both lists, got %v", listIDs)
	}
}

func TestUpdateCardRejectsMalformedChecklists(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	fx.seedList("l1", "board-1", 0)
	fx.seedCard("A", "l1", 0)

	rec := fx.request(t, http.MethodPut, "/api/cards/A", map[string]any{
		"checklists": map[string]string{"title": "not an array"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-array checklists, got %d", rec.Code)
	}
	// No partial write applied.
	if got := fx.store.cards["A"].Checklists; got != nil {
		t.Fatalf("checklists must stay untouched, got %+v", got)
	}
}

func TestUpdateCardMissing(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	rec := fx.request(t, http.MethodPut, "/api/cards/ghost", map[string]any{"title": "x"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestNonMemberCannotEdit(t *testing.T) {
	fx := newFixture(t, "stranger")
	fx.seedBoard("owner")
	fx.seedList("l1", "board-1", 0)
	fx.seedCard("A", "l1", 0)

	rec := fx.request(t, http.MethodPut, "/api/cards/A", map[string]any{"title": "hijack"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = fx.request(t, http.MethodGet, "/api/boards/board-1", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on board fetch, got %d", rec.Code)
	}
}

func TestReorderListsBulk(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	fx.seedList("a", "board-1", 0)
	fx.seedList("b", "board-1", 1)
	fx.seedList("c", "board-1", 2)

	rec := fx.request(t, http.MethodPost, "/api/boards/board-1/lists/reorder", map[string]any{
		"order": []map[string]any{
			{"id": "c", "order": 0},
			{"id": "a", "order": 1},
			{"id": "b", "order": 2},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	lists := decodeBody[[]domain.List](t, rec)
	if lists[0].ID != "c" || lists[1].ID != "a" || lists[2].ID != "b" {
		t.Fatalf("unexpected order: %+v", lists)
	}
	for i, l := range lists {
		if l.Order != i {
			t.Fatalf("orders not dense: %+v", lists)
		}
	}
	if events := fx.rt.byEvent(realtime.EventListsReordered); len(events) != 1 {
		t.Fatalf("expected one lists:reordered broadcast, got %d", len(events))
	}
}

func TestDeleteListCascadesCards(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	fx.seedList("l1", "board-1", 0)
	fx.seedCard("A", "l1", 0)
	fx.seedCard("B", "l1", 1)

	rec := fx.request(t, http.MethodDelete, "/api/lists/l1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(fx.store.cards) != 0 {
		t.Fatalf("cards not cascaded: %+v", fx.store.cards)
	}
	if events := fx.rt.byEvent(realtime.EventListDeleted); len(events) != 1 {
		t.Fatalf("expected list:deleted broadcast, got %d", len(events))
	}
}

func TestDeleteBoardCascades(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	fx.seedList("l1", "board-1", 0)
	fx.seedList("l2", "board-1", 1)
	fx.seedCard("A", "l1", 0)
	fx.seedCard("B", "l2", 0)

	rec := fx.request(t, http.MethodDelete, "/api/boards/board-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(fx.store.boards) != 0 || len(fx.store.lists) != 0 || len(fx.store.cards) != 0 {
		t.Fatal("cascade delete left orphans")
	}
}

func TestOnlyOwnerDeletesBoard(t *testing.T) {
	fx := newFixture(t, "admin")
	board := fx.seedBoard("owner", "admin")
	fx.store.boards[board.ID] = domain.Board{
		ID: board.ID, OwnerID: "owner",
		Members: []domain.Member{
			{UserID: "owner", Role: domain.RoleAdmin},
			{UserID: "admin", Role: domain.RoleAdmin},
		},
	}
	rec := fx.request(t, http.MethodDelete, "/api/boards/board-1", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admins must not delete boards, got %d", rec.Code)
	}
}

func TestAddBoardMember(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	fx.store.users["bob@example.com"] = domain.User{ID: "bob", Email: "bob@example.com"}

	rec := fx.request(t, http.MethodPost, "/api/boards/board-1/members", map[string]string{"email": "bob@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if board := fx.store.boards["board-1"]; !board.HasMember("bob") {
		t.Fatal("bob not added to board")
	}
	if events := fx.rt.byEvent(realtime.EventDashboardBoardAdded); len(events) != 1 || events[0].Room != "user:bob" {
		t.Fatalf("expected dashboard:boardAdded in bob's personal room, got %+v", events)
	}

	// Adding again is rejected.
	rec = fx.request(t, http.MethodPost, "/api/boards/board-1/members", map[string]string{"email": "bob@example.com"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate member, got %d", rec.Code)
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Message != "User is already a member" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
}

func TestAddBoardMemberUnknownEmail(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	rec := fx.request(t, http.MethodPost, "/api/boards/board-1/members", map[string]string{"email": "ghost@example.com"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Message != "User not found" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
}

func TestRemoveBoardMemberForceLeave(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner", "bob")

	rec := fx.request(t, http.MethodDelete, "/api/boards/board-1/members/bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if board := fx.store.boards["board-1"]; board.HasMember("bob") {
		t.Fatal("bob still a member")
	}
	if events := fx.rt.byEvent(realtime.EventBoardForceLeft); len(events) != 1 || events[0].Room != "user:bob" {
		t.Fatalf("expected board:forceLeave in bob's personal room, got %+v", events)
	}

	// The owner cannot be removed.
	rec = fx.request(t, http.MethodDelete, "/api/boards/board-1/members/owner", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 removing owner, got %d", rec.Code)
	}
}

func TestDeleteCardClosesGap(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	fx.seedList("l1", "board-1", 0)
	fx.seedCard("A", "l1", 0)
	fx.seedCard("B", "l1", 1)
	fx.seedCard("C", "l1", 2)

	rec := fx.request(t, http.MethodDelete, "/api/cards/B", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if a, c := fx.store.cards["A"].Order, fx.store.cards["C"].Order; a != 0 || c != 1 {
		t.Fatalf("gap not closed: A=%d C=%d", a, c)
	}
	if events := fx.rt.byEvent(realtime.EventCardsReordered); len(events) != 1 {
		t.Fatalf("expected snapshot after delete, got %d", len(events))
	}
}

func TestCardOrderInvariantAfterMixedOperations(t *testing.T) {
	fx := newFixture(t, "owner")
	fx.seedBoard("owner")
	fx.seedList("l1", "board-1", 0)
	fx.seedList("l2", "board-1", 1)
	for i, id := range []string{"A", "B", "C", "D"} {
		fx.seedCard(id, "l1", i)
	}

	fx.request(t, http.MethodPut, "/api/cards/D", map[string]any{"order": 1})
	fx.request(t, http.MethodPut, "/api/cards/A", map[string]any{"list": "l2", "order": 0})
	fx.request(t, http.MethodDelete, "/api/cards/B", nil)
	fx.request(t, http.MethodPut, "/api/cards/C", map[string]any{"order": 0})

	for _, listID := range []string{"l1", "l2"} {
		cards, _ := fx.store.FetchCards(context.Background(), listID)
		for i, card := range cards {
			if card.Order != i {
				t.Fatalf("list %s orders not dense: %+v", listID, cards)
			}
		}
	}
}
