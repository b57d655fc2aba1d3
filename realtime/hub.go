package realtime

import (
	"sort"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// sendBuffer bounds the per-connection outbound queue. Delivery is best
// effort: a connection that cannot drain its queue loses frames rather than
// stalling the broadcast path.
const sendBuffer = 64

// Conn is one registered socket connection. The hub owns these entries
// exclusively; everything else reads them through hub methods.
type Conn struct {
	ID     string
	UserID string // empty for anonymous connections

	// mu guards send against close: delivery happens outside the hub
	// mutex, so a disconnect racing a broadcast must not close the
	// channel under a sender.
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// Send returns the outbound frame channel for the connection's write pump.
func (c *Conn) Send() <-chan []byte { return c.send }

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// BoardRoom is the broadcast scope for all connections viewing one board.
func BoardRoom(boardID string) string { return "board:" + boardID }

// UserRoom is the personal broadcast scope for targeted delivery.
func UserRoom(userID string) string { return "user:" + userID }

// Hub is the room and connection registry plus the scoped broadcaster. All
// room membership and list-focus state lives here, mutated only under the
// hub mutex so presence reads always see the mutation that triggered them.
// An optional Bus fans durable events out to other instances.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*Conn
	rooms map[string]map[string]*Conn
	// focus: boardID -> listID -> set of connection ids hovering the list.
	focus map[string]map[string]map[string]struct{}

	bus    *Bus
	logger *log.Logger
}

// NewHub creates a hub. bus may be nil for single-instance deployments.
func NewHub(bus *Bus, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
		focus:  make(map[string]map[string]map[string]struct{}),
		bus:    bus,
		logger: logger,
	}
}

// Register creates a connection entry for an accepted socket. userID is
// empty for anonymous connections.
func (h *Hub) Register(userID string) *Conn {
	conn := &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		send:   make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()
	return conn
}

// Unregister removes the connection from the registry and every room it
// joined, and clears its list-focus entries. It returns the board ids the
// connection was viewing and, per board, the focus counters that changed, so
// the caller can broadcast the settled presence afterwards.
func (h *Hub) Unregister(connID string) (boards []string, focusChanges map[string][]ListPresencePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return nil, nil
	}
	delete(h.conns, connID)

	focusChanges = make(map[string][]ListPresencePayload)
	for room, members := range h.rooms {
		if _, in := members[connID]; !in {
			continue
		}
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
		if boardID, ok := boardIDFromRoom(room); ok {
			boards = append(boards, boardID)
			for _, change := range h.clearFocusLocked(boardID, connID) {
				focusChanges[boardID] = append(focusChanges[boardID], change)
			}
		}
	}
	conn.close()
	return boards, focusChanges
}

// JoinRoom adds the connection to a room. Authorization happens in the
// session layer before this is called.
func (h *Hub) JoinRoom(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[connID] = conn
}

// LeaveRoom removes the connection from a room.
func (h *Hub) LeaveRoom(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// InRoom reports whether the connection currently belongs to the room.
func (h *Hub) InRoom(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	_, in := members[connID]
	return in
}

// MembersOf returns the ids of the connections currently in the room.
func (h *Hub) MembersOf(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomsOf returns every room the connection has joined.
func (h *Hub) RoomsOf(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var rooms []string
	for room, members := range h.rooms {
		if _, in := members[connID]; in {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

// EmitToBoard broadcasts an event to every connection in the board's room.
// Delivery is at-least-once for currently connected members and fire and
// forget; nothing is queued for disconnected users.
func (h *Hub) EmitToBoard(boardID, event string, payload any) {
	h.emit(BoardRoom(boardID), event, payload)
}

// EmitToUser delivers an event to the user's personal room on every device.
func (h *Hub) EmitToUser(userID, event string, payload any) {
	h.emit(UserRoom(userID), event, payload)
}

// EmitToConn delivers an event to a single connection, bypassing rooms.
// Used for per-connection errors such as a rejected join.
func (h *Hub) EmitToConn(connID, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.WithFields(log.Fields{"event": event, "error": err}).Error("encode frame")
		return
	}
	h.mu.Lock()
	conn, ok := h.conns[connID]
	h.mu.Unlock()
	if ok {
		h.deliver(conn, frame, event)
	}
}

func (h *Hub) emit(room, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.WithFields(log.Fields{"event": event, "error": err}).Error("encode frame")
		return
	}
	h.deliverLocal(room, event, frame)
	if h.bus != nil && busEligible(event) {
		h.bus.Publish(room, event, frame)
	}
}

// deliverLocal fans a pre-encoded frame out to the local members of a room.
func (h *Hub) deliverLocal(room, event string, frame []byte) {
	h.mu.Lock()
	members := make([]*Conn, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.Unlock()
	for _, c := range members {
		h.deliver(c, frame, event)
	}
}

func (h *Hub) deliver(c *Conn, frame []byte, event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.logger.WithFields(log.Fields{"conn": c.ID, "event": event}).Warn("send buffer full, dropping frame")
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(Envelope{Event: event, Data: data})
}

// busEligible excludes presence summaries from cross-instance relay: they
// are computed from local room state and each instance derives its own.
func busEligible(event string) bool {
	switch event {
	case EventPresenceUpdate, EventListPresence, EventAuthError:
		return false
	}
	return true
}

func boardIDFromRoom(room string) (string, bool) {
	const prefix = "board:"
	if len(room) > len(prefix) && room[:len(prefix)] == prefix {
		return room[len(prefix):], true
	}
	return "", false
}
