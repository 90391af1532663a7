package persistence

import (
	"context"
	"time"
)

// EntryFilter narrows timetable entry queries. Zero fields are ignored.
type EntryFilter struct {
	ServerID   string
	UserID     string
	CycleStart *time.Time
	SlotFrom   *time.Time
	SlotTo     *time.Time
	Game       *GameRef
}

// PartyFilter narrows party queries. Zero fields are ignored.
type PartyFilter struct {
	ServerID   string
	MemberID   string
	CycleStart *time.Time
	SlotFrom   *time.Time
	SlotTo     *time.Time
	Game       *GameRef
}

// Reader exposes the queries shared by stores and transactions.
type Reader interface {
	GetServer(ctx context.Context, id string) (Server, error)
	GetMember(ctx context.Context, serverID, userID string) (ServerMember, error)
	ListMembers(ctx context.Context, serverID string) ([]ServerMember, error)
	CountMembers(ctx context.Context, serverID string) (int, error)

	GetEntry(ctx context.Context, id string) (TimetableEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]TimetableEntry, error)

	GetParty(ctx context.Context, id string) (Party, error)
	ListParties(ctx context.Context, filter PartyFilter) ([]Party, error)

	GetDefaultGame(ctx context.Context, id string) (DefaultGame, error)
	ListDefaultGames(ctx context.Context) ([]DefaultGame, error)
	GetCustomGame(ctx context.Context, id string) (CustomGame, error)
	ListCustomGames(ctx context.Context, serverID string) ([]CustomGame, error)
}

// Writer exposes the mutations available inside a unit of work.
type Writer interface {
	CreateServer(ctx context.Context, server Server) error
	UpdateServer(ctx context.Context, server Server) error

	AddMember(ctx context.Context, member ServerMember) error
	UpdateMember(ctx context.Context, member ServerMember) error
	RemoveMember(ctx context.Context, serverID, userID string) error

	CreateEntry(ctx context.Context, entry TimetableEntry) error
	UpdateEntry(ctx context.Context, entry TimetableEntry) error
	DeleteEntry(ctx context.Context, id string) error
	// MoveEntry re-keys an entry to the cycle starting at cycleStart. A clash with
	// another entry of the same user in that cycle yields ErrDuplicate.
	MoveEntry(ctx context.Context, id string, cycleStart time.Time) error

	CreateParty(ctx context.Context, party Party) error
	// UpdateParty persists party when the stored version equals party.Version and
	// increments it. A mismatch yields ErrVersionConflict.
	UpdateParty(ctx context.Context, party Party) (Party, error)
	DeleteParty(ctx context.Context, id string) error
	// MoveParty re-keys a party to the cycle starting at cycleStart and bumps its version.
	MoveParty(ctx context.Context, id string, cycleStart time.Time) error

	UpsertDefaultGame(ctx context.Context, game DefaultGame) error
	CreateCustomGame(ctx context.Context, game CustomGame) error
	DeleteCustomGame(ctx context.Context, id string) error

	// PurgeBefore removes entries and parties whose cycle started before cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Tx is a unit of work. Writes become visible to other readers only on commit.
type Tx interface {
	Reader
	Writer
}

// TxFunc runs inside a unit of work; a non-nil error rolls it back.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the persistence collaborator consumed by the application layer.
type Store interface {
	Reader
	WithinTx(ctx context.Context, fn TxFunc) error
	Close() error
}
