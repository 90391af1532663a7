package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/party-scheduler/internal/persistence"
)

// tx is the unit of work handed to persistence.TxFunc.
type tx struct {
	reader
}

func (t *tx) CreateServer(ctx context.Context, server persistence.Server) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO servers (`+serverColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		server.ID, server.Name, server.OwnerID, server.ResetTime.String(), server.ResetPaused,
		server.MaxMembers, formatTime(server.CreatedAt), formatTime(server.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: server %s: %w", server.ID, mapError(err))
	}
	return nil
}

// UpdateServer writes the mutable settings. Owner and creation time are kept.
func (t *tx) UpdateServer(ctx context.Context, server persistence.Server) error {
	result, err := t.q.ExecContext(ctx,
		`UPDATE servers SET name = ?, reset_time = ?, reset_paused = ?, max_members = ?, updated_at = ? WHERE id = ?`,
		server.Name, server.ResetTime.String(), server.ResetPaused, server.MaxMembers, formatTime(server.UpdatedAt), server.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update server %s: %w", server.ID, mapError(err))
	}
	return affectedOne(result)
}

func (t *tx) AddMember(ctx context.Context, member persistence.ServerMember) error {
	if _, err := t.GetServer(ctx, member.ServerID); err != nil {
		return fmt.Errorf("sqlite: server %s: %w", member.ServerID, err)
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO server_members (server_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		member.ServerID, member.UserID, string(member.Role), formatTime(member.JoinedAt))
	if err != nil {
		return fmt.Errorf("sqlite: member %s: %w", member.UserID, mapError(err))
	}
	return nil
}

func (t *tx) UpdateMember(ctx context.Context, member persistence.ServerMember) error {
	result, err := t.q.ExecContext(ctx,
		`UPDATE server_members SET role = ? WHERE server_id = ? AND user_id = ?`,
		string(member.Role), member.ServerID, member.UserID)
	if err != nil {
		return fmt.Errorf("sqlite: update member %s: %w", member.UserID, mapError(err))
	}
	return affectedOne(result)
}

func (t *tx) RemoveMember(ctx context.Context, serverID, userID string) error {
	result, err := t.q.ExecContext(ctx,
		`DELETE FROM server_members WHERE server_id = ? AND user_id = ?`, serverID, userID)
	if err != nil {
		return fmt.Errorf("sqlite: remove member %s: %w", userID, mapError(err))
	}
	return affectedOne(result)
}

func (t *tx) CreateEntry(ctx context.Context, entry persistence.TimetableEntry) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO timetable_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ServerID, entry.UserID, formatTime(entry.Slot), string(entry.Game.Kind), entry.Game.ID,
		formatTime(entry.CycleStart), formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: entry %s: %w", entry.ID, mapError(err))
	}
	return nil
}

// UpdateEntry replaces the slot and game. Ownership and cycle are kept.
func (t *tx) UpdateEntry(ctx context.Context, entry persistence.TimetableEntry) error {
	result, err := t.q.ExecContext(ctx,
		`UPDATE timetable_entries SET slot = ?, game_kind = ?, game_id = ? WHERE id = ?`,
		formatTime(entry.Slot), string(entry.Game.Kind), entry.Game.ID, entry.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update entry %s: %w", entry.ID, mapError(err))
	}
	return affectedOne(result)
}

func (t *tx) DeleteEntry(ctx context.Context, id string) error {
	result, err := t.q.ExecContext(ctx, `DELETE FROM timetable_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete entry %s: %w", id, mapError(err))
	}
	return affectedOne(result)
}

func (t *tx) MoveEntry(ctx context.Context, id string, cycleStart time.Time) error {
	result, err := t.q.ExecContext(ctx,
		`UPDATE timetable_entries SET cycle_start = ? WHERE id = ?`, formatTime(cycleStart), id)
	if err != nil {
		return fmt.Errorf("sqlite: move entry %s: %w", id, mapError(err))
	}
	return affectedOne(result)
}

func (t *tx) CreateParty(ctx context.Context, party persistence.Party) error {
	if party.Capacity < 1 || len(party.Members) > party.Capacity {
		return persistence.ErrConstraintViolation
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO parties (`+partyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		party.ID, party.ServerID, party.CreatorID, formatTime(party.Slot), string(party.Game.Kind), party.Game.ID,
		party.Capacity, formatTime(party.CycleStart), party.Version, formatTime(party.CreatedAt), formatTime(party.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: party %s: %w", party.ID, mapError(err))
	}
	return t.writeMembers(ctx, party.ID, party.Members)
}

// UpdateParty replaces the member list when the stored version still matches.
func (t *tx) UpdateParty(ctx context.Context, party persistence.Party) (persistence.Party, error) {
	var capacity, version int
	err := t.q.QueryRowContext(ctx, `SELECT capacity, version FROM parties WHERE id = ?`, party.ID).Scan(&capacity, &version)
	if err != nil {
		return persistence.Party{}, notFoundOr(err, "update party %s", party.ID)
	}
	if version != party.Version {
		return persistence.Party{}, persistence.ErrVersionConflict
	}
	if len(party.Members) > capacity {
		return persistence.Party{}, persistence.ErrConstraintViolation
	}

	result, err := t.q.ExecContext(ctx,
		`UPDATE parties SET version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		formatTime(party.UpdatedAt), party.ID, party.Version)
	if err != nil {
		return persistence.Party{}, fmt.Errorf("sqlite: update party %s: %w", party.ID, mapError(err))
	}
	if err := affectedOne(result); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Party{}, persistence.ErrVersionConflict
		}
		return persistence.Party{}, err
	}

	if _, err := t.q.ExecContext(ctx, `DELETE FROM party_members WHERE party_id = ?`, party.ID); err != nil {
		return persistence.Party{}, fmt.Errorf("sqlite: clear party members %s: %w", party.ID, mapError(err))
	}
	if err := t.writeMembers(ctx, party.ID, party.Members); err != nil {
		return persistence.Party{}, err
	}
	return t.GetParty(ctx, party.ID)
}

func (t *tx) MoveParty(ctx context.Context, id string, cycleStart time.Time) error {
	result, err := t.q.ExecContext(ctx,
		`UPDATE parties SET cycle_start = ?, version = version + 1 WHERE id = ?`, formatTime(cycleStart), id)
	if err != nil {
		return fmt.Errorf("sqlite: move party %s: %w", id, mapError(err))
	}
	return affectedOne(result)
}

func (t *tx) DeleteParty(ctx context.Context, id string) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM party_members WHERE party_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete party members %s: %w", id, mapError(err))
	}
	result, err := t.q.ExecContext(ctx, `DELETE FROM parties WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete party %s: %w", id, mapError(err))
	}
	return affectedOne(result)
}

func (t *tx) UpsertDefaultGame(ctx context.Context, game persistence.DefaultGame) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO default_games (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		game.ID, game.Name)
	if err != nil {
		return fmt.Errorf("sqlite: default game %s: %w", game.ID, mapError(err))
	}
	return nil
}

func (t *tx) CreateCustomGame(ctx context.Context, game persistence.CustomGame) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO custom_games (id, server_id, name, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		game.ID, game.ServerID, game.Name, game.CreatedBy, formatTime(game.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: game name %q: %w", game.Name, mapError(err))
	}
	return nil
}

func (t *tx) DeleteCustomGame(ctx context.Context, id string) error {
	result, err := t.q.ExecContext(ctx, `DELETE FROM custom_games WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete game %s: %w", id, mapError(err))
	}
	return affectedOne(result)
}

// PurgeBefore removes entries and parties whose cycle started before cutoff
// and returns how many of them were deleted.
func (t *tx) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	bound := formatTime(cutoff)

	entries, err := t.q.ExecContext(ctx, `DELETE FROM timetable_entries WHERE cycle_start < ?`, bound)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge entries: %w", mapError(err))
	}
	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM party_members WHERE party_id IN (SELECT id FROM parties WHERE cycle_start < ?)`, bound); err != nil {
		return 0, fmt.Errorf("sqlite: purge party members: %w", mapError(err))
	}
	parties, err := t.q.ExecContext(ctx, `DELETE FROM parties WHERE cycle_start < ?`, bound)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge parties: %w", mapError(err))
	}

	removedEntries, err := entries.RowsAffected()
	if err != nil {
		return 0, err
	}
	removedParties, err := parties.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removedEntries + removedParties), nil
}

func (t *tx) writeMembers(ctx context.Context, partyID string, members []string) error {
	for position, userID := range members {
		_, err := t.q.ExecContext(ctx,
			`INSERT INTO party_members (party_id, user_id, position) VALUES (?, ?, ?)`,
			partyID, userID, position)
		if err != nil {
			return fmt.Errorf("sqlite: party %s member %s: %w", partyID, userID, mapError(err))
		}
	}
	return nil
}
