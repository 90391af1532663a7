package persistence

import (
	"time"

	"github.com/example/party-scheduler/internal/cycle"
)

// Role describes a member's standing within a server.
type Role string

const (
	// RoleOwner is held by the server creator.
	RoleOwner Role = "owner"
	// RoleAdmin may manage settings, games and parties.
	RoleAdmin Role = "admin"
	// RoleMember is a regular participant.
	RoleMember Role = "member"
)

// GameKind tags which catalog a GameRef points at.
type GameKind string

const (
	// GameKindDefault references the global catalog.
	GameKindDefault GameKind = "default"
	// GameKindCustom references a server scoped game.
	GameKindCustom GameKind = "custom"
)

// GameRef is a tagged reference to a default or custom game.
type GameRef struct {
	Kind GameKind
	ID   string
}

// IsZero reports whether the reference is unset.
func (g GameRef) IsZero() bool {
	return g.Kind == "" && g.ID == ""
}

// Key renders the reference as "kind:id".
func (g GameRef) Key() string {
	return string(g.Kind) + ":" + g.ID
}

// Server is a group of users sharing a timetable.
type Server struct {
	ID          string
	Name        string
	OwnerID     string
	ResetTime   cycle.ResetTime
	ResetPaused bool
	MaxMembers  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ServerMember records a user's membership in a server.
type ServerMember struct {
	ServerID string
	UserID   string
	Role     Role
	JoinedAt time.Time
}

// TimetableEntry is a standalone reservation of a join time.
type TimetableEntry struct {
	ID         string
	ServerID   string
	UserID     string
	Slot       time.Time
	Game       GameRef
	CycleStart time.Time
	CreatedAt  time.Time
}

// Party is a capacity bounded group joining a game at a slot.
type Party struct {
	ID         string
	ServerID   string
	CreatorID  string
	Slot       time.Time
	Game       GameRef
	Capacity   int
	Members    []string
	CycleStart time.Time
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasMember reports whether userID belongs to the party.
func (p Party) HasMember(userID string) bool {
	for _, member := range p.Members {
		if member == userID {
			return true
		}
	}
	return false
}

// DefaultGame is an entry of the global game catalog.
type DefaultGame struct {
	ID   string
	Name string
}

// CustomGame is a server scoped game.
type CustomGame struct {
	ID        string
	ServerID  string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}
