package realtime

import "encoding/json"

// Realtime event names. Client-to-server events are handled by the session
// dispatcher; server-to-client events are produced by handlers and the hub.
const (
	EventJoinBoard  = "join-board"
	EventLeaveBoard = "leave-board"

	EventCursorMove       = "cursor:move"
	EventCursorLeave      = "cursor:leave"
	EventTypingBoardTitle = "typing:boardTitle"
	EventTypingCard       = "typing:card"
	EventListFocus        = "list:focus"

	EventListPresence   = "list:presence"
	EventPresenceUpdate = "presence:update"
	EventAuthError      = "auth:error"

	EventBoardCreated   = "board:created"
	EventBoardUpdated   = "board:updated"
	EventBoardDeleted   = "board:deleted"
	EventBoardForceLeft = "board:forceLeave"

	EventDashboardBoardAdded   = "dashboard:boardAdded"
	EventDashboardBoardRemoved = "dashboard:boardRemoved"

	EventListCreated    = "list:created"
	EventListUpdated    = "list:updated"
	EventListDeleted    = "list:deleted"
	EventListsReordered = "lists:reordered"

	EventCardCreated    = "card:created"
	EventCardUpdated    = "card:updated"
	EventCardDeleted    = "card:deleted"
	EventCardsReordered = "cards:reordered"
)

// Envelope is the wire frame for every socket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client-to-server payloads.

type joinBoardPayload struct {
	BoardID string `json:"boardId"`
}

type cursorMoveRequest struct {
	BoardID string  `json:"boardId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Name    string  `json:"name"`
	Color   string  `json:"color"`
}

type cursorLeaveRequest struct {
	BoardID string `json:"boardId"`
}

type typingBoardTitleRequest struct {
	BoardID  string `json:"boardId"`
	IsTyping bool   `json:"isTyping"`
}

type typingCardRequest struct {
	BoardID  string `json:"boardId"`
	CardID   string `json:"cardId"`
	IsTyping bool   `json:"isTyping"`
}

type listFocusRequest struct {
	BoardID string `json:"boardId"`
	ListID  string `json:"listId"`
	Focused bool   `json:"focused"`
}

// Server-to-client payloads. Ephemeral relays are tagged with the sender's
// socket and user id so receivers can tell self from others and drop stale
// cursors on leave or disconnect.

// CursorMovePayload is the broadcast form of a cursor update.
type CursorMovePayload struct {
	SocketID string  `json:"socketId"`
	UserID   string  `json:"userId,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Name     string  `json:"name"`
	Color    string  `json:"color"`
}

// CursorLeavePayload removes a cursor by socket id.
type CursorLeavePayload struct {
	SocketID string `json:"socketId"`
}

// TypingBoardTitlePayload is the broadcast form of a title typing toggle.
type TypingBoardTitlePayload struct {
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// TypingCardPayload is the broadcast form of a card typing toggle.
type TypingCardPayload struct {
	UserID   string `json:"userId,omitempty"`
	CardID   string `json:"cardId"`
	IsTyping bool   `json:"isTyping"`
}

// ListPresencePayload carries the live occupancy counter for one list.
type ListPresencePayload struct {
	ListID string `json:"listId"`
	Count  int    `json:"count"`
}

// PresencePayload is the board-wide online summary.
type PresencePayload struct {
	Count   int      `json:"count"`
	UserIDs []string `json:"userIds"`
}

// AuthErrorPayload is sent to a single connection when a join is rejected.
type AuthErrorPayload struct {
	Message string `json:"message"`
}
