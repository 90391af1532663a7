package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/party-scheduler/internal/cycle"
	"github.com/example/party-scheduler/internal/persistence"
)

// cycleMove re-keys one entry or party.
type cycleMove struct {
	id      string
	party   bool
	users   []string
	from    time.Time
	to      time.Time
	partyID string
}

// rekeyCycles moves entries and parties of the live cycle under before, and any
// cycle after it, into the cycle their slot falls into under after. Slots that
// precede the new current window are kept in it so live commitments never drop
// into history. A change that would leave a user with two commitments in one
// cycle fails with a ConflictError.
func rekeyCycles(ctx context.Context, tx persistence.Tx, calc cycle.Calculator, before, after persistence.Server, now time.Time) error {
	oldWindow := calc.Window(before.ResetTime, before.ResetPaused, now)
	newWindow := calc.Window(after.ResetTime, after.ResetPaused, now)
	if oldWindow.Start.Equal(newWindow.Start) && oldWindow.End.Equal(newWindow.End) {
		return nil
	}

	affected := func(cycleStart time.Time) bool {
		if before.ResetPaused {
			return cycleStart.Equal(cycle.Epoch)
		}
		return !cycleStart.Before(oldWindow.Start)
	}
	target := func(slot time.Time) time.Time {
		start := calc.Start(after.ResetTime, after.ResetPaused, slot)
		if start.Before(newWindow.Start) {
			return newWindow.Start
		}
		return start
	}

	entries, err := tx.ListEntries(ctx, persistence.EntryFilter{ServerID: after.ID})
	if err != nil {
		return err
	}
	parties, err := tx.ListParties(ctx, persistence.PartyFilter{ServerID: after.ID})
	if err != nil {
		return err
	}

	moving := make(map[string]struct{})
	var moves []cycleMove
	for _, entry := range entries {
		if !affected(entry.CycleStart) {
			continue
		}
		moving[entry.ID] = struct{}{}
		moves = append(moves, cycleMove{id: entry.ID, users: []string{entry.UserID}, from: entry.CycleStart, to: target(entry.Slot)})
	}
	for _, party := range parties {
		if !affected(party.CycleStart) {
			continue
		}
		moving[party.ID] = struct{}{}
		moves = append(moves, cycleMove{id: party.ID, party: true, users: party.Members, from: party.CycleStart, to: target(party.Slot), partyID: party.ID})
	}

	claimed := make(map[string]cycleMove)
	for _, move := range moves {
		for _, userID := range move.users {
			key := userID + "|" + move.to.UTC().Format(time.RFC3339)
			if prior, ok := claimed[key]; ok {
				partyID := move.partyID
				if partyID == "" {
					partyID = prior.partyID
				}
				return &ConflictError{Reason: fmt.Sprintf("reset change merges two commitments of user %s", userID), PartyID: partyID}
			}
			claimed[key] = move
			if err := ensureFreeInCycle(ctx, tx, after.ID, userID, move.to, moving); err != nil {
				return err
			}
		}
	}

	// Backward moves run oldest first and forward moves newest first so an
	// entry never lands on a cycle another entry of the same user still holds.
	sort.SliceStable(moves, func(i, j int) bool {
		bi, bj := moves[i].to.Before(moves[i].from), moves[j].to.Before(moves[j].from)
		if bi != bj {
			return bi
		}
		if bi {
			return moves[i].from.Before(moves[j].from)
		}
		return moves[i].from.After(moves[j].from)
	})

	for _, move := range moves {
		if move.to.Equal(move.from) {
			continue
		}
		if move.party {
			err = tx.MoveParty(ctx, move.id, move.to)
		} else {
			err = tx.MoveEntry(ctx, move.id, move.to)
		}
		if err != nil {
			return mapRepoError(err)
		}
	}
	return nil
}

// ensureFreeInCycle fails when userID holds an entry or party in the cycle
// starting at cycleStart other than the records in moving.
func ensureFreeInCycle(ctx context.Context, r persistence.Reader, serverID, userID string, cycleStart time.Time, moving map[string]struct{}) error {
	entries, err := r.ListEntries(ctx, persistence.EntryFilter{ServerID: serverID, UserID: userID, CycleStart: &cycleStart})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if _, ok := moving[entry.ID]; !ok {
			return &ConflictError{Reason: fmt.Sprintf("user %s already has an entry in the cycle starting %s", userID, cycleStart.UTC().Format(time.RFC3339))}
		}
	}
	parties, err := r.ListParties(ctx, persistence.PartyFilter{ServerID: serverID, MemberID: userID, CycleStart: &cycleStart})
	if err != nil {
		return err
	}
	for _, party := range parties {
		if _, ok := moving[party.ID]; !ok {
			return &ConflictError{Reason: fmt.Sprintf("user %s is already in a party in the cycle starting %s", userID, cycleStart.UTC().Format(time.RFC3339)), PartyID: party.ID}
		}
	}
	return nil
}
