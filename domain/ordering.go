package domain

import "sort"

// The ordering engine keeps card orders dense within a list and list orders
// dense within a board. Every move re-derives the full numbering from the
// relative order of the survivors, so a gappy or duplicated prior state is
// repaired rather than propagated. The server serializes each update
// independently; whichever renumbering commits last wins and is broadcast as
// an authoritative snapshot that clients adopt wholesale.

// Placement assigns a new order (and, for cross-list card moves, a new list)
// to one entity.
type Placement struct {
	ID     string
	ListID string
	Order  int
}

// NextCardOrder returns the order for a card appended to cards: one past the
// current maximum, or 0 for an empty list. Appending never renumbers.
func NextCardOrder(cards []Card) int {
	max := -1
	for _, c := range cards {
		if c.Order > max {
			max = c.Order
		}
	}
	return max + 1
}

// NextListOrder is the list-level counterpart of NextCardOrder.
func NextListOrder(lists []List) int {
	max := -1
	for _, l := range lists {
		if l.Order > max {
			max = l.Order
		}
	}
	return max + 1
}

// MoveCardWithinList renumbers a list for a move of cardID to target index
// within the same list. cards is the list's current card set including the
// moved card, in any order. The returned placements cover every card whose
// order changes conceptually: the survivors are laid out 0..n-1 by their
// current relative order with a slot opened at min(target, n) for the moved
// card.
func MoveCardWithinList(cards []Card, cardID string, target int) []Placement {
	listID := ""
	others := make([]Card, 0, len(cards))
	for _, c := range cards {
		if c.ID == cardID {
			listID = c.ListID
			continue
		}
		others = append(others, c)
	}
	sortByOrder(others)
	if target < 0 {
		target = 0
	}
	if target > len(others) {
		target = len(others)
	}
	placements := make([]Placement, 0, len(others)+1)
	for i, c := range others {
		ord := i
		if i >= target {
			ord = i + 1
		}
		placements = append(placements, Placement{ID: c.ID, ListID: c.ListID, Order: ord})
	}
	placements = append(placements, Placement{ID: cardID, ListID: listID, Order: target})
	return placements
}

// MoveCardAcrossLists renumbers both sides of a cross-list move. source is
// the origin list's card set including the moved card; dest is the target
// list's current card set. The origin closes its gap densely, the target
// opens a slot at min(target, len(dest)). The moved card's placement carries
// destListID.
func MoveCardAcrossLists(source, dest []Card, cardID, destListID string, target int) []Placement {
	remaining := make([]Card, 0, len(source))
	for _, c := range source {
		if c.ID == cardID {
			continue
		}
		remaining = append(remaining, c)
	}
	sortByOrder(remaining)
	placements := make([]Placement, 0, len(remaining)+len(dest)+1)
	for i, c := range remaining {
		placements = append(placements, Placement{ID: c.ID, ListID: c.ListID, Order: i})
	}

	destCards := make([]Card, len(dest))
	copy(destCards, dest)
	sortByOrder(destCards)
	if target < 0 {
		target = 0
	}
	if target > len(destCards) {
		target = len(destCards)
	}
	for i, c := range destCards {
		ord := i
		if i >= target {
			ord = i + 1
		}
		placements = append(placements, Placement{ID: c.ID, ListID: c.ListID, Order: ord})
	}
	placements = append(placements, Placement{ID: cardID, ListID: destListID, Order: target})
	return placements
}

// CloseCardGap renumbers a list densely after cardID was removed from it.
func CloseCardGap(cards []Card, cardID string) []Placement {
	remaining := make([]Card, 0, len(cards))
	for _, c := range cards {
		if c.ID == cardID {
			continue
		}
		remaining = append(remaining, c)
	}
	sortByOrder(remaining)
	placements := make([]Placement, 0, len(remaining))
	for i, c := range remaining {
		placements = append(placements, Placement{ID: c.ID, ListID: c.ListID, Order: i})
	}
	return placements
}

// ReorderLists assigns orders 0..N-1 from the position of each list's id in
// orderedIDs. This is a bulk replace rather than an incremental shuffle:
// list counts per board are small, and a full snapshot avoids any
// partial-failure ambiguity. IDs absent from orderedIDs keep their relative
// order after the named ones; ids that match no list are ignored.
func ReorderLists(lists []List, orderedIDs []string) []Placement {
	byID := make(map[string]List, len(lists))
	for _, l := range lists {
		byID[l.ID] = l
	}
	placements := make([]Placement, 0, len(lists))
	seen := make(map[string]bool, len(orderedIDs))
	next := 0
	for _, id := range orderedIDs {
		l, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		placements = append(placements, Placement{ID: l.ID, ListID: l.BoardID, Order: next})
		next++
	}
	rest := make([]List, 0, len(lists))
	for _, l := range lists {
		if !seen[l.ID] {
			rest = append(rest, l)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Order < rest[j].Order })
	for _, l := range rest {
		placements = append(placements, Placement{ID: l.ID, ListID: l.BoardID, Order: next})
		next++
	}
	return placements
}

func sortByOrder(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Order < cards[j].Order })
}
