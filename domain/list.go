package domain

import "time"

// List is a column on a board. Order is a dense 0-based integer unique
// within the board; after any successful mutation the set of orders for a
// board's lists is exactly {0..N-1}.
type List struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	BoardID   string    `json:"boardId"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
