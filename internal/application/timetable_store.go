package application

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/example/party-scheduler/internal/cycle"
	"github.com/example/party-scheduler/internal/persistence"
)

// TimetableStore applies the standalone entry rules: one entry per user per
// cycle, slots inside the current cycle window and no entry while the user
// belongs to a party. Mutations run inside a unit of work owned by the Engine.
type TimetableStore struct {
	store       persistence.Store
	games       *GameCatalog
	calc        cycle.Calculator
	idGenerator func() string
	now         func() time.Time
}

// NewTimetableStore wires dependencies for timetable operations.
func NewTimetableStore(store persistence.Store, games *GameCatalog, calc cycle.Calculator, idGenerator func() string, now func() time.Time) *TimetableStore {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &TimetableStore{store: store, games: games, calc: calc, idGenerator: idGenerator, now: now}
}

// reserve creates or replaces the user's entry for the current cycle.
func (s *TimetableStore) reserve(ctx context.Context, tx persistence.Tx, scope serverScope, userID string, slot time.Time, ref persistence.GameRef) (EntryView, bool, error) {
	if !scope.window.Contains(slot) {
		return EntryView{}, false, validationFailure("slot", "slot must fall within the current cycle")
	}
	game, err := s.games.resolveWith(ctx, tx, scope.server.ID, ref)
	if err != nil {
		return EntryView{}, false, err
	}

	parties, err := tx.ListParties(ctx, persistence.PartyFilter{ServerID: scope.server.ID, MemberID: userID, CycleStart: scope.cycleStart()})
	if err != nil {
		return EntryView{}, false, err
	}
	if len(parties) > 0 {
		return EntryView{}, false, &ConflictError{Reason: "already a member of a party this cycle", PartyID: parties[0].ID}
	}

	existing, err := s.current(ctx, tx, scope, userID)
	if err != nil {
		return EntryView{}, false, err
	}
	if existing != nil {
		existing.Slot = slot.UTC()
		existing.Game = ref
		if err := tx.UpdateEntry(ctx, *existing); err != nil {
			return EntryView{}, false, mapRepoError(err)
		}
		return EntryView{TimetableEntry: *existing, GameName: game.Name}, true, nil
	}

	entry := persistence.TimetableEntry{
		ID:         s.idGenerator(),
		ServerID:   scope.server.ID,
		UserID:     userID,
		Slot:       slot.UTC(),
		Game:       ref,
		CycleStart: scope.window.Start,
		CreatedAt:  scope.now,
	}
	if err := tx.CreateEntry(ctx, entry); err != nil {
		return EntryView{}, false, mapRepoError(err)
	}
	return EntryView{TimetableEntry: entry, GameName: game.Name}, false, nil
}

// remove deletes the user's entry for the current cycle and returns it, or nil when absent.
func (s *TimetableStore) remove(ctx context.Context, tx persistence.Tx, scope serverScope, userID string) (*persistence.TimetableEntry, error) {
	existing, err := s.current(ctx, tx, scope, userID)
	if err != nil || existing == nil {
		return nil, err
	}
	if err := tx.DeleteEntry(ctx, existing.ID); err != nil {
		return nil, mapRepoError(err)
	}
	return existing, nil
}

func (s *TimetableStore) current(ctx context.Context, r persistence.Reader, scope serverScope, userID string) (*persistence.TimetableEntry, error) {
	entries, err := r.ListEntries(ctx, persistence.EntryFilter{ServerID: scope.server.ID, UserID: userID, CycleStart: scope.cycleStart()})
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	entry := entries[0]
	return &entry, nil
}

// ListForCycle returns the entries of the cycle starting at cycleStart, slot ascending then id ascending.
func (s *TimetableStore) ListForCycle(ctx context.Context, serverID string, cycleStart time.Time) ([]EntryView, error) {
	if s == nil {
		return nil, errors.New("TimetableStore is nil")
	}
	start := cycleStart.UTC()
	entries, err := s.store.ListEntries(ctx, persistence.EntryFilter{ServerID: serverID, CycleStart: &start})
	if err != nil {
		return nil, err
	}
	names, err := s.games.names(ctx, s.store, serverID)
	if err != nil {
		return nil, err
	}
	return entryViews(entries, names), nil
}

// ListFiltered returns the current cycle's entries whose game name contains
// gameQuery (case-insensitive). With sortByGame, entries are grouped by the
// first appearance of each game and stay time ordered within a group.
func (s *TimetableStore) ListFiltered(ctx context.Context, serverID, gameQuery string, sortByGame bool) ([]EntryView, error) {
	if s == nil {
		return nil, errors.New("TimetableStore is nil")
	}
	server, err := s.store.GetServer(ctx, serverID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, notFound("server", serverID)
		}
		return nil, err
	}
	start := s.calc.Start(server.ResetTime, server.ResetPaused, s.now())
	views, err := s.ListForCycle(ctx, serverID, start)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(gameQuery))
	if query != "" {
		filtered := views[:0]
		for _, view := range views {
			if strings.Contains(strings.ToLower(view.GameName), query) {
				filtered = append(filtered, view)
			}
		}
		views = filtered
	}

	if sortByGame {
		groupOf := make(map[string]int)
		for _, view := range views {
			key := view.Game.Key()
			if _, ok := groupOf[key]; !ok {
				groupOf[key] = len(groupOf)
			}
		}
		sort.SliceStable(views, func(i, j int) bool {
			return groupOf[views[i].Game.Key()] < groupOf[views[j].Game.Key()]
		})
	}
	return views, nil
}

func entryViews(entries []persistence.TimetableEntry, names map[string]string) []EntryView {
	views := make([]EntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, EntryView{TimetableEntry: entry, GameName: gameName(names, entry.Game)})
	}
	return views
}

func gameName(names map[string]string, ref persistence.GameRef) string {
	if name, ok := names[ref.Key()]; ok {
		return name
	}
	return ref.ID
}
