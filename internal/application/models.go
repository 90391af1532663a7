package application

import (
	"time"

	"github.com/example/party-scheduler/internal/persistence"
)

// Game is a resolved catalog entry.
type Game struct {
	Ref      persistence.GameRef
	Name     string
	ServerID string
}

// EntryView is a timetable entry with its resolved game name.
type EntryView struct {
	persistence.TimetableEntry
	GameName string
}

// PartyView is a party with its resolved game name.
type PartyView struct {
	persistence.Party
	GameName string
}

// Full reports whether the party has no free seats left.
func (p PartyView) Full() bool {
	return len(p.Members) >= p.Capacity
}

// CreateServerParams wraps the data required to create a server.
type CreateServerParams struct {
	UserID     string `validate:"required"`
	Name       string `validate:"required,max=100"`
	ResetTime  string `validate:"omitempty,hhmm"`
	MaxMembers int    `validate:"gte=0"`
}

// UpdateServerSettingsParams carries optional settings changes. Nil fields are left untouched.
type UpdateServerSettingsParams struct {
	ServerID    string  `validate:"required"`
	UserID      string  `validate:"required"`
	Name        *string `validate:"omitempty,min=1,max=100"`
	ResetTime   *string `validate:"omitempty,hhmm"`
	ResetPaused *bool
	MaxMembers  *int `validate:"omitempty,gte=0"`
}

// MembershipParams identifies a user acting on their own server membership.
type MembershipParams struct {
	ServerID string `validate:"required"`
	UserID   string `validate:"required"`
}

// RoleChangeParams identifies the member whose role an owner changes.
type RoleChangeParams struct {
	ServerID     string `validate:"required"`
	UserID       string `validate:"required"`
	TargetUserID string `validate:"required"`
}

// ReserveEntryParams wraps the data required to reserve a join time.
type ReserveEntryParams struct {
	ServerID string    `validate:"required"`
	UserID   string    `validate:"required"`
	Slot     time.Time `validate:"required"`
	GameKind string    `validate:"required,oneof=default custom"`
	GameID   string    `validate:"required"`
}

// CreatePartyParams wraps the data required to open a party.
type CreatePartyParams struct {
	ServerID string    `validate:"required"`
	UserID   string    `validate:"required"`
	Slot     time.Time `validate:"required"`
	GameKind string    `validate:"required,oneof=default custom"`
	GameID   string    `validate:"required"`
	Capacity int       `validate:"gte=1"`
}

// PartyMemberParams identifies a user acting on a party.
type PartyMemberParams struct {
	ServerID string `validate:"required"`
	PartyID  string `validate:"required"`
	UserID   string `validate:"required"`
}

// SwitchPartyParams moves a user from their current party into another one.
// An empty FromPartyID means the user's current party, if any.
type SwitchPartyParams struct {
	ServerID    string `validate:"required"`
	UserID      string `validate:"required"`
	FromPartyID string
	ToPartyID   string `validate:"required"`
}

// ListTimetableParams narrows the current cycle timetable.
type ListTimetableParams struct {
	ServerID   string `validate:"required"`
	GameQuery  string `validate:"max=100"`
	SortByGame bool
}

// CreateCustomGameParams wraps the data required to add a server scoped game.
type CreateCustomGameParams struct {
	ServerID string `validate:"required"`
	UserID   string `validate:"required"`
	Name     string `validate:"required,max=50"`
}

// DeleteCustomGameParams identifies a custom game to remove.
type DeleteCustomGameParams struct {
	ServerID string `validate:"required"`
	UserID   string `validate:"required"`
	GameID   string `validate:"required"`
}

func gameRef(kind, id string) persistence.GameRef {
	return persistence.GameRef{Kind: persistence.GameKind(kind), ID: id}
}
