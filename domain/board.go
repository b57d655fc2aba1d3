package domain

import "time"

// Role describes what a board member may do.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Visibility controls who can discover a board.
type Visibility string

const (
	VisibilityPrivate   Visibility = "private"
	VisibilityWorkspace Visibility = "workspace"
	VisibilityPublic    Visibility = "public"
)

// DefaultBackground is applied to boards created without one.
const DefaultBackground = "#0079bf"

// Member ties a user to a board with a role.
type Member struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// Board is the top-level collaboration scope. It owns its lists, which in
// turn own their cards; deleting a board cascades to both.
type Board struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Background string     `json:"background"`
	OwnerID    string     `json:"ownerId"`
	Members    []Member   `json:"members"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Capabilities is the result of a single authorization evaluation for one
// actor against one board.
type Capabilities struct {
	CanView  bool
	CanEdit  bool
	CanAdmin bool
}

// CapabilitiesFor evaluates what userID may do on b. The owner holds every
// capability, admins everything but ownership transfer, plain members can
// view and edit. An empty userID is an anonymous actor with no capabilities.
func CapabilitiesFor(userID string, b *Board) Capabilities {
	if b == nil || userID == "" {
		return Capabilities{}
	}
	if b.OwnerID == userID {
		return Capabilities{CanView: true, CanEdit: true, CanAdmin: true}
	}
	for _, m := range b.Members {
		if m.UserID != userID {
			continue
		}
		c := Capabilities{CanView: true, CanEdit: true}
		if m.Role == RoleAdmin {
			c.CanAdmin = true
		}
		return c
	}
	return Capabilities{}
}

// HasMember reports whether userID is the owner or appears in the member set.
func (b *Board) HasMember(userID string) bool {
	return CapabilitiesFor(userID, b).CanView
}
