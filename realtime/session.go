package realtime

import (
	"context"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// BoardAccess answers whether a user may view a board. Backed by the store;
// the session evaluates it once per join attempt.
type BoardAccess interface {
	CanView(ctx context.Context, userID, boardID string) (bool, error)
}

// session is the per-connection event dispatcher. Incoming frames are
// decoded and routed here; everything it touches on the hub is serialized
// by the hub mutex.
type session struct {
	hub    *Hub
	conn   *Conn
	access BoardAccess
	logger *log.Logger
}

func newSession(hub *Hub, conn *Conn, access BoardAccess, logger *log.Logger) *session {
	return &session{hub: hub, conn: conn, access: access, logger: logger}
}

// handleFrame decodes one inbound frame and dispatches it. Unknown events
// and malformed payloads are dropped; a broken socket is handled by the
// read loop, not here.
func (s *session) handleFrame(ctx context.Context, frame []byte) {
	var env Envelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		s.logger.WithFields(log.Fields{"conn": s.conn.ID, "error": err}).Debug("malformed frame")
		return
	}
	switch env.Event {
	case EventJoinBoard:
		var p joinBoardPayload
		if sonic.Unmarshal(env.Data, &p) != nil || p.BoardID == "" {
			return
		}
		s.joinBoard(ctx, p.BoardID)
	case EventLeaveBoard:
		var p joinBoardPayload
		if sonic.Unmarshal(env.Data, &p) != nil || p.BoardID == "" {
			return
		}
		s.hub.LeaveRoom(s.conn.ID, BoardRoom(p.BoardID))
		s.hub.BroadcastPresence(p.BoardID)
	case EventCursorMove:
		var p cursorMoveRequest
		if sonic.Unmarshal(env.Data, &p) != nil || p.BoardID == "" {
			return
		}
		if !s.inBoard(p.BoardID) {
			return
		}
		s.hub.EmitToBoard(p.BoardID, EventCursorMove, CursorMovePayload{
			SocketID: s.conn.ID,
			UserID:   s.conn.UserID,
			X:        p.X,
			Y:        p.Y,
			Name:     p.Name,
			Color:    p.Color,
		})
	case EventCursorLeave:
		var p cursorLeaveRequest
		if sonic.Unmarshal(env.Data, &p) != nil || p.BoardID == "" {
			return
		}
		if !s.inBoard(p.BoardID) {
			return
		}
		s.hub.EmitToBoard(p.BoardID, EventCursorLeave, CursorLeavePayload{SocketID: s.conn.ID})
	case EventTypingBoardTitle:
		var p typingBoardTitleRequest
		if sonic.Unmarshal(env.Data, &p) != nil || p.BoardID == "" {
			return
		}
		if !s.inBoard(p.BoardID) {
			return
		}
		s.hub.EmitToBoard(p.BoardID, EventTypingBoardTitle, TypingBoardTitlePayload{
			UserID:   s.conn.UserID,
			IsTyping: p.IsTyping,
		})
	case EventTypingCard:
		var p typingCardRequest
		if sonic.Unmarshal(env.Data, &p) != nil || p.BoardID == "" || p.CardID == "" {
			return
		}
		if !s.inBoard(p.BoardID) {
			return
		}
		s.hub.EmitToBoard(p.BoardID, EventTypingCard, TypingCardPayload{
			UserID:   s.conn.UserID,
			CardID:   p.CardID,
			IsTyping: p.IsTyping,
		})
	case EventListFocus:
		var p listFocusRequest
		if sonic.Unmarshal(env.Data, &p) != nil || p.BoardID == "" || p.ListID == "" {
			return
		}
		if !s.inBoard(p.BoardID) {
			return
		}
		counter := s.hub.SetListFocus(p.BoardID, p.ListID, s.conn.ID, p.Focused)
		s.hub.EmitToBoard(p.BoardID, EventListPresence, counter)
	default:
		s.logger.WithFields(log.Fields{"conn": s.conn.ID, "event": env.Event}).Debug("unhandled event")
	}
}

// joinBoard runs the capability check before any room mutation. A rejected
// join emits auth:error on this connection only and leaves membership
// untouched, so the caller never appears in subsequent presence updates.
func (s *session) joinBoard(ctx context.Context, boardID string) {
	allowed, err := s.access.CanView(ctx, s.conn.UserID, boardID)
	if err != nil {
		s.logger.WithFields(log.Fields{"board": boardID, "error": err}).Error("board access check")
		s.hub.EmitToConn(s.conn.ID, EventAuthError, AuthErrorPayload{Message: "Unable to validate board access"})
		return
	}
	if !allowed {
		s.hub.EmitToConn(s.conn.ID, EventAuthError, AuthErrorPayload{Message: "Not authorized to join board"})
		return
	}
	s.hub.JoinRoom(s.conn.ID, BoardRoom(boardID))
	s.hub.BroadcastPresence(boardID)
}

// teardown settles room bookkeeping for a disconnect, then recomputes
// presence for each affected board. Membership is removed before the
// recompute so the departing connection can never appear in the snapshot.
func (s *session) teardown() {
	boards, focusChanges := s.hub.Unregister(s.conn.ID)
	for _, boardID := range boards {
		for _, counter := range focusChanges[boardID] {
			s.hub.EmitToBoard(boardID, EventListPresence, counter)
		}
		s.hub.BroadcastPresence(boardID)
	}
}

func (s *session) inBoard(boardID string) bool {
	return s.hub.InRoom(s.conn.ID, BoardRoom(boardID))
}
