package domain

// User is the slice of account data the board service needs. Account
// creation and credential handling live elsewhere; this service only
// resolves users for membership changes and presence display.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
}
