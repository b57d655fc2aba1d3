package realtime

import "sort"

// Presence derives the online summary for a board from the current room
// membership: total connection count plus the unique set of authenticated
// user ids. Anonymous connections raise the count but contribute no id;
// multiple tabs of one user collapse to a single id.
func (h *Hub) Presence(boardID string) PresencePayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[BoardRoom(boardID)]
	seen := make(map[string]struct{})
	userIDs := make([]string, 0, len(members))
	for _, c := range members {
		if c.UserID == "" {
			continue
		}
		if _, dup := seen[c.UserID]; dup {
			continue
		}
		seen[c.UserID] = struct{}{}
		userIDs = append(userIDs, c.UserID)
	}
	sort.Strings(userIDs)
	return PresencePayload{Count: len(members), UserIDs: userIDs}
}

// BroadcastPresence recomputes and emits the board's presence summary.
// Called on every join, leave and disconnect; presence is recomputed on
// mutation rather than polled so the snapshot always reflects the
// membership change that triggered it.
func (h *Hub) BroadcastPresence(boardID string) {
	h.EmitToBoard(boardID, EventPresenceUpdate, h.Presence(boardID))
}

// SetListFocus toggles the connection's hover focus on a list and returns
// the list's new occupancy counter.
func (h *Hub) SetListFocus(boardID, listID, connID string, focused bool) ListPresencePayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	lists, ok := h.focus[boardID]
	if !ok {
		lists = make(map[string]map[string]struct{})
		h.focus[boardID] = lists
	}
	set, ok := lists[listID]
	if !ok {
		set = make(map[string]struct{})
		lists[listID] = set
	}
	if focused {
		set[connID] = struct{}{}
	} else {
		delete(set, connID)
		if len(set) == 0 {
			delete(lists, listID)
			if len(lists) == 0 {
				delete(h.focus, boardID)
			}
		}
	}
	return ListPresencePayload{ListID: listID, Count: len(set)}
}

// ListFocusCount returns the current occupancy counter for one list.
func (h *Hub) ListFocusCount(boardID, listID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.focus[boardID][listID])
}

// clearFocusLocked drops every focus entry the connection holds on the
// board and reports the lists whose counters changed. Caller holds h.mu.
func (h *Hub) clearFocusLocked(boardID, connID string) []ListPresencePayload {
	lists, ok := h.focus[boardID]
	if !ok {
		return nil
	}
	var changed []ListPresencePayload
	for listID, set := range lists {
		if _, in := set[connID]; !in {
			continue
		}
		delete(set, connID)
		changed = append(changed, ListPresencePayload{ListID: listID, Count: len(set)})
		if len(set) == 0 {
			delete(lists, listID)
		}
	}
	if len(lists) == 0 {
		delete(h.focus, boardID)
	}
	return changed
}
