package domain

import (
	"sort"
	"testing"
)

func cardSet(listID string, ids ...string) []Card {
	cards := make([]Card, len(ids))
	for i, id := range ids {
		cards[i] = Card{ID: id, ListID: listID, Order: i}
	}
	return cards
}

func applyPlacements(cards []Card, placements []Placement) map[string]Placement {
	out := make(map[string]Placement, len(placements))
	for _, p := range placements {
		out[p.ID] = p
	}
	return out
}

func assertDense(t *testing.T, placements []Placement, listID string, wantLen int) {
	t.Helper()
	orders := []int{}
	for _, p := range placements {
		if p.ListID == listID {
			orders = append(orders, p.Order)
		}
	}
	if len(orders) != wantLen {
		t.Fatalf("list %s: expected %d placements, got %d", listID, wantLen, len(orders))
	}
	sort.Ints(orders)
	for i, o := range orders {
		if o != i {
			t.Fatalf("list %s: orders not dense, got %v", listID, orders)
		}
	}
}

func TestNextCardOrder(t *testing.T) {
	if got := NextCardOrder(nil); got != 0 {
		t.Fatalf("empty list: expected 0, got %d", got)
	}
	cards := cardSet("l1", "a", "b", "c")
	if got := NextCardOrder(cards); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	// Gappy state still appends after the max.
	cards[2].Order = 7
	if got := NextCardOrder(cards); got != 8 {
		t.Fatalf("gappy list: expected 8, got %d", got)
	}
}

func TestMoveCardWithinListToFront(t *testing.T) {
	// Cards [A(0), B(1), C(2)], move C to index 0: expect C=0, A=1, B=2.
	cards := cardSet("l1", "A", "B", "C")
	got := applyPlacements(cards, MoveCardWithinList(cards, "C", 0))

	want := map[string]int{"C": 0, "A": 1, "B": 2}
	for id, order := range want {
		if got[id].Order != order {
			t.Errorf("card %s: expected order %d, got %d", id, order, got[id].Order)
		}
	}
	assertDense(t, MoveCardWithinList(cards, "C", 0), "l1", 3)
}

func TestMoveCardWithinListClampsTarget(t *testing.T) {
	cards := cardSet("l1", "A", "B", "C")
	got := applyPlacements(cards, MoveCardWithinList(cards, "A", 99))
	if got["A"].Order != 2 {
		t.Fatalf("target past end should clamp to %d, got %d", 2, got["A"].Order)
	}
	got = applyPlacements(cards, MoveCardWithinList(cards, "C", -5))
	if got["C"].Order != 0 {
		t.Fatalf("negative target should clamp to 0, got %d", got["C"].Order)
	}
}

func TestMoveCardWithinListRepairsGaps(t *testing.T) {
	cards := []Card{
		{ID: "A", ListID: "l1", Order: 3},
		{ID: "B", ListID: "l1", Order: 3},
		{ID: "C", ListID: "l1", Order: 9},
	}
	placements := MoveCardWithinList(cards, "B", 1)
	assertDense(t, placements, "l1", 3)
}

func TestMoveCardAcrossLists(t *testing.T) {
	// L1=[A(0),B(1)], L2=[C(0)]; move A to L2 at index 1.
	// Expected: L1=[B(0)]; L2=[C(0), A(1)].
	source := cardSet("l1", "A", "B")
	dest := cardSet("l2", "C")

	placements := MoveCardAcrossLists(source, dest, "A", "l2", 1)
	got := applyPlacements(nil, placements)

	if p := got["B"]; p.ListID != "l1" || p.Order != 0 {
		t.Errorf("B: expected l1/0, got %s/%d", p.ListID, p.Order)
	}
	if p := got["C"]; p.ListID != "l2" || p.Order != 0 {
		t.Errorf("C: expected l2/0, got %s/%d", p.ListID, p.Order)
	}
	if p := got["A"]; p.ListID != "l2" || p.Order != 1 {
		t.Errorf("A: expected l2/1, got %s/%d", p.ListID, p.Order)
	}
	assertDense(t, placements, "l1", 1)
	assertDense(t, placements, "l2", 2)
}

func TestMoveCardAcrossListsToHead(t *testing.T) {
	source := cardSet("l1", "A", "B", "C")
	dest := cardSet("l2", "X", "Y")

	placements := MoveCardAcrossLists(source, dest, "B", "l2", 0)
	got := applyPlacements(nil, placements)

	if p := got["B"]; p.ListID != "l2" || p.Order != 0 {
		t.Fatalf("B: expected l2/0, got %s/%d", p.ListID, p.Order)
	}
	if got["X"].Order != 1 || got["Y"].Order != 2 {
		t.Fatalf("dest shift wrong: X=%d Y=%d", got["X"].Order, got["Y"].Order)
	}
	if got["A"].Order != 0 || got["C"].Order != 1 {
		t.Fatalf("source gap not closed: A=%d C=%d", got["A"].Order, got["C"].Order)
	}
}

func TestCloseCardGap(t *testing.T) {
	cards := cardSet("l1", "A", "B", "C", "D")
	placements := CloseCardGap(cards, "B")
	got := applyPlacements(nil, placements)
	if got["A"].Order != 0 || got["C"].Order != 1 || got["D"].Order != 2 {
		t.Fatalf("unexpected orders after delete: %+v", got)
	}
	assertDense(t, placements, "l1", 3)
}

func TestReorderLists(t *testing.T) {
	lists := []List{
		{ID: "a", BoardID: "b1", Order: 0},
		{ID: "b", BoardID: "b1", Order: 1},
		{ID: "c", BoardID: "b1", Order: 2},
	}
	placements := ReorderLists(lists, []string{"c", "a", "b"})
	got := applyPlacements(nil, placements)
	if got["c"].Order != 0 || got["a"].Order != 1 || got["b"].Order != 2 {
		t.Fatalf("unexpected list orders: %+v", got)
	}
}

func TestReorderListsPartialAndUnknownIDs(t *testing.T) {
	lists := []List{
		{ID: "a", BoardID: "b1", Order: 0},
		{ID: "b", BoardID: "b1", Order: 1},
		{ID: "c", BoardID: "b1", Order: 2},
	}
	// Unknown id ignored, unnamed lists keep relative order after named ones.
	placements := ReorderLists(lists, []string{"ghost", "b"})
	got := applyPlacements(nil, placements)
	if got["b"].Order != 0 {
		t.Fatalf("b should lead, got %d", got["b"].Order)
	}
	if got["a"].Order != 1 || got["c"].Order != 2 {
		t.Fatalf("remaining lists misordered: a=%d c=%d", got["a"].Order, got["c"].Order)
	}
	if len(placements) != 3 {
		t.Fatalf("expected 3 placements, got %d", len(placements))
	}
}

func TestCapabilitiesFor(t *testing.T) {
	board := &Board{
		ID:      "b1",
		OwnerID: "owner",
		Members: []Member{
			{UserID: "owner", Role: RoleAdmin},
			{UserID: "admin", Role: RoleAdmin},
			{UserID: "member", Role: RoleMember},
		},
	}
	cases := []struct {
		userID string
		want   Capabilities
	}{
		{"owner", Capabilities{true, true, true}},
		{"admin", Capabilities{true, true, true}},
		{"member", Capabilities{true, true, false}},
		{"stranger", Capabilities{}},
		{"", Capabilities{}},
	}
	for _, tc := range cases {
		if got := CapabilitiesFor(tc.userID, board); got != tc.want {
			t.Errorf("user %q: expected %+v, got %+v", tc.userID, tc.want, got)
		}
	}
	if got := CapabilitiesFor("owner", nil); got != (Capabilities{}) {
		t.Errorf("nil board should grant nothing, got %+v", got)
	}
}
