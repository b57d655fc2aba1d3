package api

import (
	"context"

	"github.com/akwean/TaskFlow-gre/domain"
)

// BoardAccess adapts the store to the realtime layer's join-time
// authorization check: a connection may join a board room only when its
// user can view the board.
type BoardAccess struct {
	store Storage
}

// NewBoardAccess creates the adapter.
func NewBoardAccess(store Storage) *BoardAccess {
	return &BoardAccess{store: store}
}

// CanView reports whether userID may view boardID. A missing board or an
// anonymous user is simply not allowed; only storage failures error.
func (a *BoardAccess) CanView(ctx context.Context, userID, boardID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	board, err := a.store.FetchBoard(ctx, boardID)
	if err != nil {
		return false, err
	}
	if board == nil {
		return false, nil
	}
	return domain.CapabilitiesFor(userID, board).CanView, nil
}
