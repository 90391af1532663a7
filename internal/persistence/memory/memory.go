// Package memory provides an in-process persistence.Store used by tests and
// single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/party-scheduler/internal/persistence"
)

// Storage keeps all records in maps guarded by a RWMutex. A unit of work holds
// the write lock and mutates a private copy that replaces the live state on commit.
type Storage struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	servers      map[string]persistence.Server
	members      map[string]map[string]persistence.ServerMember
	entries      map[string]persistence.TimetableEntry
	parties      map[string]persistence.Party
	defaultGames map[string]persistence.DefaultGame
	customGames  map[string]persistence.CustomGame
}

var _ persistence.Store = (*Storage)(nil)

// Open returns an empty Storage.
func Open() *Storage {
	return &Storage{state: newState()}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// WithinTx runs fn against a private copy of the state and publishes it when fn succeeds.
func (s *Storage) WithinTx(ctx context.Context, fn persistence.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Storage) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// --- Reader implementation on the committed state ---

// GetServer retrieves a server by ID.
func (s *Storage) GetServer(ctx context.Context, id string) (persistence.Server, error) {
	return s.read().getServer(id)
}

// GetMember retrieves a membership record.
func (s *Storage) GetMember(ctx context.Context, serverID, userID string) (persistence.ServerMember, error) {
	return s.read().getMember(serverID, userID)
}

// ListMembers returns members ordered by join time.
func (s *Storage) ListMembers(ctx context.Context, serverID string) ([]persistence.ServerMember, error) {
	return s.read().listMembers(serverID), nil
}

// CountMembers returns the number of members in a server.
func (s *Storage) CountMembers(ctx context.Context, serverID string) (int, error) {
	return len(s.read().members[serverID]), nil
}

// GetEntry retrieves a timetable entry by ID.
func (s *Storage) GetEntry(ctx context.Context, id string) (persistence.TimetableEntry, error) {
	return s.read().getEntry(id)
}

// ListEntries returns entries matching filter ordered by slot then ID.
func (s *Storage) ListEntries(ctx context.Context, filter persistence.EntryFilter) ([]persistence.TimetableEntry, error) {
	return s.read().listEntries(filter), nil
}

// GetParty retrieves a party by ID.
func (s *Storage) GetParty(ctx context.Context, id string) (persistence.Party, error) {
	return s.read().getParty(id)
}

// ListParties returns parties matching filter ordered by slot then ID.
func (s *Storage) ListParties(ctx context.Context, filter persistence.PartyFilter) ([]persistence.Party, error) {
	return s.read().listParties(filter), nil
}

// GetDefaultGame retrieves a catalog game.
func (s *Storage) GetDefaultGame(ctx context.Context, id string) (persistence.DefaultGame, error) {
	return s.read().getDefaultGame(id)
}

// ListDefaultGames returns the global catalog ordered by name.
func (s *Storage) ListDefaultGames(ctx context.Context) ([]persistence.DefaultGame, error) {
	return s.read().listDefaultGames(), nil
}

// GetCustomGame retrieves a server scoped game.
func (s *Storage) GetCustomGame(ctx context.Context, id string) (persistence.CustomGame, error) {
	return s.read().getCustomGame(id)
}

// ListCustomGames returns a server's games ordered by name.
func (s *Storage) ListCustomGames(ctx context.Context, serverID string) ([]persistence.CustomGame, error) {
	return s.read().listCustomGames(serverID), nil
}

// --- Unit of work ---

type tx struct {
	state *state
}

func (t *tx) GetServer(ctx context.Context, id string) (persistence.Server, error) {
	return t.state.getServer(id)
}

func (t *tx) GetMember(ctx context.Context, serverID, userID string) (persistence.ServerMember, error) {
	return t.state.getMember(serverID, userID)
}

func (t *tx) ListMembers(ctx context.Context, serverID string) ([]persistence.ServerMember, error) {
	return t.state.listMembers(serverID), nil
}

func (t *tx) CountMembers(ctx context.Context, serverID string) (int, error) {
	return len(t.state.members[serverID]), nil
}

func (t *tx) GetEntry(ctx context.Context, id string) (persistence.TimetableEntry, error) {
	return t.state.getEntry(id)
}

func (t *tx) ListEntries(ctx context.Context, filter persistence.EntryFilter) ([]persistence.TimetableEntry, error) {
	return t.state.listEntries(filter), nil
}

func (t *tx) GetParty(ctx context.Context, id string) (persistence.Party, error) {
	return t.state.getParty(id)
}

func (t *tx) ListParties(ctx context.Context, filter persistence.PartyFilter) ([]persistence.Party, error) {
	return t.state.listParties(filter), nil
}

func (t *tx) GetDefaultGame(ctx context.Context, id string) (persistence.DefaultGame, error) {
	return t.state.getDefaultGame(id)
}

func (t *tx) ListDefaultGames(ctx context.Context) ([]persistence.DefaultGame, error) {
	return t.state.listDefaultGames(), nil
}

func (t *tx) GetCustomGame(ctx context.Context, id string) (persistence.CustomGame, error) {
	return t.state.getCustomGame(id)
}

func (t *tx) ListCustomGames(ctx context.Context, serverID string) ([]persistence.CustomGame, error) {
	return t.state.listCustomGames(serverID), nil
}

func (t *tx) CreateServer(ctx context.Context, server persistence.Server) error {
	if _, ok := t.state.servers[server.ID]; ok {
		return fmt.Errorf("memory: server %s: %w", server.ID, persistence.ErrDuplicate)
	}
	t.state.servers[server.ID] = server
	return nil
}

func (t *tx) UpdateServer(ctx context.Context, server persistence.Server) error {
	existing, ok := t.state.servers[server.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	server.OwnerID = existing.OwnerID
	server.CreatedAt = existing.CreatedAt
	t.state.servers[server.ID] = server
	return nil
}

func (t *tx) AddMember(ctx context.Context, member persistence.ServerMember) error {
	if _, ok := t.state.servers[member.ServerID]; !ok {
		return fmt.Errorf("memory: server %s: %w", member.ServerID, persistence.ErrNotFound)
	}
	members := t.state.members[member.ServerID]
	if members == nil {
		members = make(map[string]persistence.ServerMember)
		t.state.members[member.ServerID] = members
	}
	if _, ok := members[member.UserID]; ok {
		return fmt.Errorf("memory: member %s: %w", member.UserID, persistence.ErrDuplicate)
	}
	members[member.UserID] = member
	return nil
}

func (t *tx) UpdateMember(ctx context.Context, member persistence.ServerMember) error {
	members := t.state.members[member.ServerID]
	existing, ok := members[member.UserID]
	if !ok {
		return persistence.ErrNotFound
	}
	member.JoinedAt = existing.JoinedAt
	members[member.UserID] = member
	return nil
}

func (t *tx) RemoveMember(ctx context.Context, serverID, userID string) error {
	members := t.state.members[serverID]
	if _, ok := members[userID]; !ok {
		return persistence.ErrNotFound
	}
	delete(members, userID)
	return nil
}

func (t *tx) CreateEntry(ctx context.Context, entry persistence.TimetableEntry) error {
	if _, ok := t.state.entries[entry.ID]; ok {
		return fmt.Errorf("memory: entry %s: %w", entry.ID, persistence.ErrDuplicate)
	}
	for _, existing := range t.state.entries {
		if existing.ServerID == entry.ServerID && existing.UserID == entry.UserID && existing.CycleStart.Equal(entry.CycleStart) {
			return fmt.Errorf("memory: entry for user %s in cycle: %w", entry.UserID, persistence.ErrDuplicate)
		}
	}
	t.state.entries[entry.ID] = entry
	return nil
}

func (t *tx) UpdateEntry(ctx context.Context, entry persistence.TimetableEntry) error {
	existing, ok := t.state.entries[entry.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	entry.ServerID = existing.ServerID
	entry.UserID = existing.UserID
	entry.CycleStart = existing.CycleStart
	entry.CreatedAt = existing.CreatedAt
	t.state.entries[entry.ID] = entry
	return nil
}

func (t *tx) DeleteEntry(ctx context.Context, id string) error {
	if _, ok := t.state.entries[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(t.state.entries, id)
	return nil
}

func (t *tx) MoveEntry(ctx context.Context, id string, cycleStart time.Time) error {
	entry, ok := t.state.entries[id]
	if !ok {
		return persistence.ErrNotFound
	}
	for otherID, other := range t.state.entries {
		if otherID != id && other.ServerID == entry.ServerID && other.UserID == entry.UserID && other.CycleStart.Equal(cycleStart) {
			return fmt.Errorf("memory: entry for user %s in cycle: %w", entry.UserID, persistence.ErrDuplicate)
		}
	}
	entry.CycleStart = cycleStart
	t.state.entries[id] = entry
	return nil
}

func (t *tx) CreateParty(ctx context.Context, party persistence.Party) error {
	if _, ok := t.state.parties[party.ID]; ok {
		return fmt.Errorf("memory: party %s: %w", party.ID, persistence.ErrDuplicate)
	}
	if party.Capacity < 1 || len(party.Members) > party.Capacity {
		return persistence.ErrConstraintViolation
	}
	party.Members = cloneStrings(party.Members)
	t.state.parties[party.ID] = party
	return nil
}

func (t *tx) UpdateParty(ctx context.Context, party persistence.Party) (persistence.Party, error) {
	existing, ok := t.state.parties[party.ID]
	if !ok {
		return persistence.Party{}, persistence.ErrNotFound
	}
	if existing.Version != party.Version {
		return persistence.Party{}, persistence.ErrVersionConflict
	}
	if len(party.Members) > existing.Capacity {
		return persistence.Party{}, persistence.ErrConstraintViolation
	}
	updated := existing
	updated.Members = cloneStrings(party.Members)
	updated.Version = existing.Version + 1
	updated.UpdatedAt = party.UpdatedAt
	t.state.parties[party.ID] = updated
	return cloneParty(updated), nil
}

func (t *tx) MoveParty(ctx context.Context, id string, cycleStart time.Time) error {
	party, ok := t.state.parties[id]
	if !ok {
		return persistence.ErrNotFound
	}
	party.CycleStart = cycleStart
	party.Version++
	t.state.parties[id] = party
	return nil
}

func (t *tx) DeleteParty(ctx context.Context, id string) error {
	if _, ok := t.state.parties[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(t.state.parties, id)
	return nil
}

func (t *tx) UpsertDefaultGame(ctx context.Context, game persistence.DefaultGame) error {
	t.state.defaultGames[game.ID] = game
	return nil
}

func (t *tx) CreateCustomGame(ctx context.Context, game persistence.CustomGame) error {
	if _, ok := t.state.customGames[game.ID]; ok {
		return fmt.Errorf("memory: game %s: %w", game.ID, persistence.ErrDuplicate)
	}
	for _, existing := range t.state.customGames {
		if existing.ServerID == game.ServerID && strings.EqualFold(existing.Name, game.Name) {
			return fmt.Errorf("memory: game name %q: %w", game.Name, persistence.ErrDuplicate)
		}
	}
	t.state.customGames[game.ID] = game
	return nil
}

func (t *tx) DeleteCustomGame(ctx context.Context, id string) error {
	if _, ok := t.state.customGames[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(t.state.customGames, id)
	return nil
}

func (t *tx) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for id, entry := range t.state.entries {
		if entry.CycleStart.Before(cutoff) {
			delete(t.state.entries, id)
			removed++
		}
	}
	for id, party := range t.state.parties {
		if party.CycleStart.Before(cutoff) {
			delete(t.state.parties, id)
			removed++
		}
	}
	return removed, nil
}

// --- State helpers ---

func newState() *state {
	return &state{
		servers:      make(map[string]persistence.Server),
		members:      make(map[string]map[string]persistence.ServerMember),
		entries:      make(map[string]persistence.TimetableEntry),
		parties:      make(map[string]persistence.Party),
		defaultGames: make(map[string]persistence.DefaultGame),
		customGames:  make(map[string]persistence.CustomGame),
	}
}

func (s *state) clone() *state {
	out := newState()
	for id, server := range s.servers {
		out.servers[id] = server
	}
	for serverID, members := range s.members {
		copied := make(map[string]persistence.ServerMember, len(members))
		for userID, member := range members {
			copied[userID] = member
		}
		out.members[serverID] = copied
	}
	for id, entry := range s.entries {
		out.entries[id] = entry
	}
	for id, party := range s.parties {
		out.parties[id] = cloneParty(party)
	}
	for id, game := range s.defaultGames {
		out.defaultGames[id] = game
	}
	for id, game := range s.customGames {
		out.customGames[id] = game
	}
	return out
}

func (s *state) getServer(id string) (persistence.Server, error) {
	server, ok := s.servers[id]
	if !ok {
		return persistence.Server{}, persistence.ErrNotFound
	}
	return server, nil
}

func (s *state) getMember(serverID, userID string) (persistence.ServerMember, error) {
	member, ok := s.members[serverID][userID]
	if !ok {
		return persistence.ServerMember{}, persistence.ErrNotFound
	}
	return member, nil
}

func (s *state) listMembers(serverID string) []persistence.ServerMember {
	members := make([]persistence.ServerMember, 0, len(s.members[serverID]))
	for _, member := range s.members[serverID] {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members
}

func (s *state) getEntry(id string) (persistence.TimetableEntry, error) {
	entry, ok := s.entries[id]
	if !ok {
		return persistence.TimetableEntry{}, persistence.ErrNotFound
	}
	return entry, nil
}

func (s *state) listEntries(filter persistence.EntryFilter) []persistence.TimetableEntry {
	entries := make([]persistence.TimetableEntry, 0)
	for _, entry := range s.entries {
		if matchesEntryFilter(entry, filter) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Slot.Equal(entries[j].Slot) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Slot.Before(entries[j].Slot)
	})
	return entries
}

func (s *state) getParty(id string) (persistence.Party, error) {
	party, ok := s.parties[id]
	if !ok {
		return persistence.Party{}, persistence.ErrNotFound
	}
	return cloneParty(party), nil
}

func (s *state) listParties(filter persistence.PartyFilter) []persistence.Party {
	parties := make([]persistence.Party, 0)
	for _, party := range s.parties {
		if matchesPartyFilter(party, filter) {
			parties = append(parties, cloneParty(party))
		}
	}
	sort.Slice(parties, func(i, j int) bool {
		if parties[i].Slot.Equal(parties[j].Slot) {
			return parties[i].ID < parties[j].ID
		}
		return parties[i].Slot.Before(parties[j].Slot)
	})
	return parties
}

func (s *state) getDefaultGame(id string) (persistence.DefaultGame, error) {
	game, ok := s.defaultGames[id]
	if !ok {
		return persistence.DefaultGame{}, persistence.ErrNotFound
	}
	return game, nil
}

func (s *state) listDefaultGames() []persistence.DefaultGame {
	games := make([]persistence.DefaultGame, 0, len(s.defaultGames))
	for _, game := range s.defaultGames {
		games = append(games, game)
	}
	sort.Slice(games, func(i, j int) bool {
		if games[i].Name == games[j].Name {
			return games[i].ID < games[j].ID
		}
		return games[i].Name < games[j].Name
	})
	return games
}

func (s *state) getCustomGame(id string) (persistence.CustomGame, error) {
	game, ok := s.customGames[id]
	if !ok {
		return persistence.CustomGame{}, persistence.ErrNotFound
	}
	return game, nil
}

func (s *state) listCustomGames(serverID string) []persistence.CustomGame {
	games := make([]persistence.CustomGame, 0)
	for _, game := range s.customGames {
		if game.ServerID == serverID {
			games = append(games, game)
		}
	}
	sort.Slice(games, func(i, j int) bool {
		if games[i].Name == games[j].Name {
			return games[i].ID < games[j].ID
		}
		return games[i].Name < games[j].Name
	})
	return games
}

func matchesEntryFilter(entry persistence.TimetableEntry, filter persistence.EntryFilter) bool {
	if filter.ServerID != "" && entry.ServerID != filter.ServerID {
		return false
	}
	if filter.UserID != "" && entry.UserID != filter.UserID {
		return false
	}
	if filter.CycleStart != nil && !entry.CycleStart.Equal(*filter.CycleStart) {
		return false
	}
	if !inRange(entry.Slot, filter.SlotFrom, filter.SlotTo) {
		return false
	}
	if filter.Game != nil && entry.Game != *filter.Game {
		return false
	}
	return true
}

func matchesPartyFilter(party persistence.Party, filter persistence.PartyFilter) bool {
	if filter.ServerID != "" && party.ServerID != filter.ServerID {
		return false
	}
	if filter.MemberID != "" && !party.HasMember(filter.MemberID) {
		return false
	}
	if filter.CycleStart != nil && !party.CycleStart.Equal(*filter.CycleStart) {
		return false
	}
	if !inRange(party.Slot, filter.SlotFrom, filter.SlotTo) {
		return false
	}
	if filter.Game != nil && party.Game != *filter.Game {
		return false
	}
	return true
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*to) {
		return false
	}
	return true
}

func cloneParty(party persistence.Party) persistence.Party {
	party.Members = cloneStrings(party.Members)
	return party
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
