package api

import (
	"context"

	"github.com/akwean/TaskFlow-gre/domain"
)

// Storage abstracts persistence for handlers. FetchBoard, FetchList and
// FetchCard return nil when the entity does not exist.
type Storage interface {
	FetchBoards(ctx context.Context, userID string) ([]domain.Board, error)
	FetchBoard(ctx context.Context, boardID string) (*domain.Board, error)
	InsertBoard(ctx context.Context, b domain.Board) error
	UpdateBoard(ctx context.Context, b domain.Board) error
	DeleteBoard(ctx context.Context, boardID string) error

	FetchLists(ctx context.Context, boardID string) ([]domain.List, error)
	FetchList(ctx context.Context, listID string) (*domain.List, error)
	InsertList(ctx context.Context, l domain.List) error
	UpdateList(ctx context.Context, l domain.List) error
	UpdateListOrder(ctx context.Context, boardID, listID string, order int) error
	DeleteList(ctx context.Context, boardID, listID string) error

	FetchCards(ctx context.Context, listID string) ([]domain.Card, error)
	FetchCard(ctx context.Context, cardID string) (*domain.Card, error)
	InsertCard(ctx context.Context, c domain.Card) error
	UpdateCard(ctx context.Context, c domain.Card) error
	UpdateCardOrder(ctx context.Context, listID, cardID string, order int) error
	// MoveCard rewrites a card under its new list, removing the row held
	// under fromListID.
	MoveCard(ctx context.Context, c domain.Card, fromListID string) error
	DeleteCard(ctx context.Context, listID, cardID string) error

	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Broadcaster delivers realtime events to board rooms and personal rooms.
// Delivery is fire and forget; handlers never block on it.
type Broadcaster interface {
	EmitToBoard(boardID, event string, payload any)
	EmitToUser(userID, event string, payload any)
}
