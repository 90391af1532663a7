package application

import (
	"context"
	"errors"
	"time"

	"github.com/example/party-scheduler/internal/persistence"
)

// PartyStore applies the party rules: capacity is never exceeded and a user
// belongs to at most one party per server and cycle.
type PartyStore struct {
	store       persistence.Store
	games       *GameCatalog
	idGenerator func() string
}

// NewPartyStore wires dependencies for party operations.
func NewPartyStore(store persistence.Store, games *GameCatalog, idGenerator func() string) *PartyStore {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	return &PartyStore{store: store, games: games, idGenerator: idGenerator}
}

// membership returns the party userID belongs to in the current cycle, or nil.
func (s *PartyStore) membership(ctx context.Context, r persistence.Reader, scope serverScope, userID string) (*persistence.Party, error) {
	parties, err := r.ListParties(ctx, persistence.PartyFilter{ServerID: scope.server.ID, MemberID: userID, CycleStart: scope.cycleStart()})
	if err != nil || len(parties) == 0 {
		return nil, err
	}
	party := parties[0]
	return &party, nil
}

func (s *PartyStore) get(ctx context.Context, r persistence.Reader, scope serverScope, partyID string) (persistence.Party, error) {
	party, err := r.GetParty(ctx, partyID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Party{}, notFound("party", partyID)
		}
		return persistence.Party{}, err
	}
	if party.ServerID != scope.server.ID {
		return persistence.Party{}, notFound("party", partyID)
	}
	return party, nil
}

// create opens a party with the creator as its first member.
func (s *PartyStore) create(ctx context.Context, tx persistence.Tx, scope serverScope, slot time.Time, ref persistence.GameRef, capacity int) (PartyView, error) {
	if capacity < 1 {
		return PartyView{}, validationFailure("capacity", "capacity must be at least 1")
	}
	if !scope.window.Contains(slot) {
		return PartyView{}, validationFailure("slot", "slot must fall within the current cycle")
	}
	game, err := s.games.resolveWith(ctx, tx, scope.server.ID, ref)
	if err != nil {
		return PartyView{}, err
	}
	current, err := s.membership(ctx, tx, scope, scope.userID())
	if err != nil {
		return PartyView{}, err
	}
	if current != nil {
		return PartyView{}, &ConflictError{Reason: "already a member of a party this cycle", PartyID: current.ID}
	}

	party := persistence.Party{
		ID:         s.idGenerator(),
		ServerID:   scope.server.ID,
		CreatorID:  scope.userID(),
		Slot:       slot.UTC(),
		Game:       ref,
		Capacity:   capacity,
		Members:    []string{scope.userID()},
		CycleStart: scope.window.Start,
		CreatedAt:  scope.now,
		UpdatedAt:  scope.now,
	}
	if err := tx.CreateParty(ctx, party); err != nil {
		return PartyView{}, mapRepoError(err)
	}
	return PartyView{Party: party, GameName: game.Name}, nil
}

// join adds userID to the party. joined is false when the user was already a member.
func (s *PartyStore) join(ctx context.Context, tx persistence.Tx, scope serverScope, partyID, userID string) (persistence.Party, bool, error) {
	party, err := s.get(ctx, tx, scope, partyID)
	if err != nil {
		return persistence.Party{}, false, err
	}
	if !party.CycleStart.Equal(scope.window.Start) {
		return persistence.Party{}, false, &ConflictError{Reason: "party belongs to a past cycle", PartyID: party.ID}
	}
	if party.HasMember(userID) {
		return party, false, nil
	}
	current, err := s.membership(ctx, tx, scope, userID)
	if err != nil {
		return persistence.Party{}, false, err
	}
	if current != nil {
		return persistence.Party{}, false, &ConflictError{Reason: "already a member of another party this cycle", PartyID: current.ID}
	}
	if len(party.Members) >= party.Capacity {
		return persistence.Party{}, false, &CapacityExceededError{Resource: "party", ID: party.ID, Capacity: party.Capacity}
	}

	party.Members = append(party.Members, userID)
	party.UpdatedAt = scope.now
	updated, err := tx.UpdateParty(ctx, party)
	if err != nil {
		if errors.Is(err, persistence.ErrConstraintViolation) {
			return persistence.Party{}, false, &CapacityExceededError{Resource: "party", ID: party.ID, Capacity: party.Capacity}
		}
		return persistence.Party{}, false, err
	}
	return updated, true, nil
}

// leave removes userID from the party. The party persists even when empty.
func (s *PartyStore) leave(ctx context.Context, tx persistence.Tx, scope serverScope, partyID, userID string) (persistence.Party, error) {
	party, err := s.get(ctx, tx, scope, partyID)
	if err != nil {
		return persistence.Party{}, err
	}
	if !party.HasMember(userID) {
		return persistence.Party{}, notFound("party member", userID)
	}

	remaining := make([]string, 0, len(party.Members)-1)
	for _, member := range party.Members {
		if member != userID {
			remaining = append(remaining, member)
		}
	}
	party.Members = remaining
	party.UpdatedAt = scope.now
	return tx.UpdateParty(ctx, party)
}

// remove deletes the party. Only its creator or a server owner or admin may do so.
func (s *PartyStore) remove(ctx context.Context, tx persistence.Tx, scope serverScope, partyID string) (persistence.Party, error) {
	party, err := s.get(ctx, tx, scope, partyID)
	if err != nil {
		return persistence.Party{}, err
	}
	if party.CreatorID != scope.userID() && !scope.canManage() {
		return persistence.Party{}, permissionDenied("only the creator or a server admin can delete a party")
	}
	if err := tx.DeleteParty(ctx, party.ID); err != nil {
		return persistence.Party{}, mapRepoError(err)
	}
	return party, nil
}

// ListForCycle returns the parties of the cycle starting at cycleStart, slot ascending then id ascending.
func (s *PartyStore) ListForCycle(ctx context.Context, serverID string, cycleStart time.Time) ([]PartyView, error) {
	if s == nil {
		return nil, errors.New("PartyStore is nil")
	}
	start := cycleStart.UTC()
	parties, err := s.store.ListParties(ctx, persistence.PartyFilter{ServerID: serverID, CycleStart: &start})
	if err != nil {
		return nil, err
	}
	names, err := s.games.names(ctx, s.store, serverID)
	if err != nil {
		return nil, err
	}
	views := make([]PartyView, 0, len(parties))
	for _, party := range parties {
		views = append(views, PartyView{Party: party, GameName: gameName(names, party.Game)})
	}
	return views, nil
}
