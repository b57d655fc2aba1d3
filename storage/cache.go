package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akwean/TaskFlow-gre/domain"
)

type backend interface {
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
	MoveCard(ctx context.Context, c domain.Card, fromListID string) error
	DeleteCard(ctx context.Context, listID, cardID string) error

	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Cache wraps a backing store with Redis-backed caching for the hot
// collection reads: a user's dashboard, a board's lists and a list's
// cards. Every mutation evicts the collections it touches, so readers
// never see a snapshot older than the last local write.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	var boards []domain.Board
	if c.load(ctx, boardsCacheKey(userID), &boards) {
		return boards, nil
	}
	boards, err := c.base.FetchBoards(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, boardsCacheKey(userID), boards)
	return boards, nil
}

func (c *Cache) FetchBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	return c.base.FetchBoard(ctx, boardID)
}

func (c *Cache) InsertBoard(ctx context.Context, b domain.Board) error {
	if err := c.base.InsertBoard(ctx, b); err != nil {
		return err
	}
	c.evictDashboards(ctx, b.Members)
	return nil
}

func (c *Cache) UpdateBoard(ctx context.Context, b domain.Board) error {
	// The previous member set matters too: a removed member's dashboard
	// must stop showing this board.
	prev, err := c.base.FetchBoard(ctx, b.ID)
	if err != nil {
		return err
	}
	if err := c.base.UpdateBoard(ctx, b); err != nil {
		return err
	}
	c.evictDashboards(ctx, b.Members)
	if prev != nil {
		c.evictDashboards(ctx, prev.Members)
	}
	return nil
}

func (c *Cache) DeleteBoard(ctx context.Context, boardID string) error {
	prev, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if err := c.base.DeleteBoard(ctx, boardID); err != nil {
		return err
	}
	if prev != nil {
		c.evictDashboards(ctx, prev.Members)
	}
	c.evict(ctx, listsCacheKey(boardID))
	return nil
}

func (c *Cache) FetchLists(ctx context.Context, boardID string) ([]domain.List, error) {
	var lists []domain.List
	if c.load(ctx, listsCacheKey(boardID), &lists) {
		return lists, nil
	}
	lists, err := c.base.FetchLists(ctx, boardID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, listsCacheKey(boardID), lists)
	return lists, nil
}

func (c *Cache) FetchList(ctx context.Context, listID string) (*domain.List, error) {
	return c.base.FetchList(ctx, listID)
}

func (c *Cache) InsertList(ctx context.Context, l domain.List) error {
	if err := c.base.InsertList(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(l.BoardID))
	return nil
}

func (c *Cache) UpdateList(ctx context.Context, l domain.List) error {
	if err := c.base.UpdateList(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(l.BoardID))
	return nil
}

func (c *Cache) UpdateListOrder(ctx context.Context, boardID, listID string, order int) error {
	if err := c.base.UpdateListOrder(ctx, boardID, listID, order); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(boardID))
	return nil
}

func (c *Cache) DeleteList(ctx context.Context, boardID, listID string) error {
	if err := c.base.DeleteList(ctx, boardID, listID); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(boardID), cardsCacheKey(listID))
	return nil
}

func (c *Cache) FetchCards(ctx context.Context, listID string) ([]domain.Card, error) {
	var cards []domain.Card
	if c.load(ctx, cardsCacheKey(listID), &cards) {
		return cards, nil
	}
	cards, err := c.base.FetchCards(ctx, listID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, cardsCacheKey(listID), cards)
	return cards, nil
}

func (c *Cache) FetchCard(ctx context.Context, cardID string) (*domain.Card, error) {
	return c.base.FetchCard(ctx, cardID)
}

func (c *Cache) InsertCard(ctx context.Context, card domain.Card) error {
	if err := c.base.InsertCard(ctx, card); err != nil {
		return err
	}
	c.evict(ctx, cardsCacheKey(card.ListID))
	return nil
}

func (c *Cache) UpdateCard(ctx context.Context, card domain.Card) error {
	if err := c.base.UpdateCard(ctx, card); err != nil {
		return err
	}
	c.evict(ctx, cardsCacheKey(card.ListID))
	return nil
}

func (c *Cache) UpdateCardOrder(ctx context.Context, listID, cardID string, order int) error {
	if err := c.base.UpdateCardOrder(ctx, listID, cardID, order); err != nil {
		return err
	}
	c.evict(ctx, cardsCacheKey(listID))
	return nil
}

func (c *Cache) MoveCard(ctx context.Context, card domain.Card, fromListID string) error {
	if err := c.base.MoveCard(ctx, card, fromListID); err != nil {
		return err
	}
	c.evict(ctx, cardsCacheKey(card.ListID), cardsCacheKey(fromListID))
	return nil
}

func (c *Cache) DeleteCard(ctx context.Context, listID, cardID string) error {
	if err := c.base.DeleteCard(ctx, listID, cardID); err != nil {
		return err
	}
	c.evict(ctx, cardsCacheKey(listID))
	return nil
}

func (c *Cache) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return c.base.FindUserByEmail(ctx, email)
}

func (c *Cache) load(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil || len(keys) == 0 {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func (c *Cache) evictDashboards(ctx context.Context, members []domain.Member) {
	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, boardsCacheKey(m.UserID))
	}
	c.evict(ctx, keys...)
}

func boardsCacheKey(userID string) string {
	return "boards:" + userID
}

func listsCacheKey(boardID string) string {
	return "lists:" + boardID
}

func cardsCacheKey(listID string) string {
	return "cards:" + listID
}
