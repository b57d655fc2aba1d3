package domain

import "time"

// Label is a colored tag on a card.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ChecklistItem is one line of a checklist.
type ChecklistItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Checklist groups items under a title.
type Checklist struct {
	Title string          `json:"title"`
	Items []ChecklistItem `json:"items"`
}

// Card is a single task on a list. Order is a dense 0-based integer unique
// within the list.
type Card struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	ListID      string      `json:"listId"`
	Order       int         `json:"order"`
	Labels      []Label     `json:"labels"`
	Members     []string    `json:"members"`
	DueDate     *time.Time  `json:"dueDate,omitempty"`
	Checklists  []Checklist `json:"checklists"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
