package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/party-scheduler/internal/cycle"
	"github.com/example/party-scheduler/internal/persistence"
)

const (
	serverColumns = `id, name, owner_id, reset_time, reset_paused, max_members, created_at, updated_at`
	entryColumns  = `id, server_id, user_id, slot, game_kind, game_id, cycle_start, created_at`
	partyColumns  = `id, server_id, creator_id, slot, game_kind, game_id, capacity, cycle_start, version, created_at, updated_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

// reader implements persistence.Reader against either the pool or a transaction.
// Every query drains its rows before the next one starts so that a single
// connection is enough.
type reader struct {
	q queryer
}

func (r reader) GetServer(ctx context.Context, id string) (persistence.Server, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	server, err := scanServer(row)
	if err != nil {
		return persistence.Server{}, notFoundOr(err, "get server %s", id)
	}
	return server, nil
}

func (r reader) GetMember(ctx context.Context, serverID, userID string) (persistence.ServerMember, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT server_id, user_id, role, joined_at FROM server_members WHERE server_id = ? AND user_id = ?`,
		serverID, userID)
	member, err := scanMember(row)
	if err != nil {
		return persistence.ServerMember{}, notFoundOr(err, "get member %s/%s", serverID, userID)
	}
	return member, nil
}

func (r reader) ListMembers(ctx context.Context, serverID string) ([]persistence.ServerMember, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT server_id, user_id, role, joined_at FROM server_members WHERE server_id = ? ORDER BY joined_at, user_id`,
		serverID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list members: %w", err)
	}
	defer rows.Close()

	members := make([]persistence.ServerMember, 0)
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (r reader) CountMembers(ctx context.Context, serverID string) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_members WHERE server_id = ?`, serverID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count members: %w", err)
	}
	return count, nil
}

func (r reader) GetEntry(ctx context.Context, id string) (persistence.TimetableEntry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM timetable_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err != nil {
		return persistence.TimetableEntry{}, notFoundOr(err, "get entry %s", id)
	}
	return entry, nil
}

func (r reader) ListEntries(ctx context.Context, filter persistence.EntryFilter) ([]persistence.TimetableEntry, error) {
	var where conditions
	where.eq("server_id", filter.ServerID)
	where.eq("user_id", filter.UserID)
	where.at("cycle_start", filter.CycleStart)
	where.slotRange(filter.SlotFrom, filter.SlotTo)
	where.game(filter.Game)

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM timetable_entries`+where.sql()+` ORDER BY slot, id`, where.args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]persistence.TimetableEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r reader) GetParty(ctx context.Context, id string) (persistence.Party, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = ?`, id)
	party, err := scanParty(row)
	if err != nil {
		return persistence.Party{}, notFoundOr(err, "get party %s", id)
	}
	parties := []persistence.Party{party}
	if err := r.loadMembers(ctx, parties); err != nil {
		return persistence.Party{}, err
	}
	return parties[0], nil
}

func (r reader) ListParties(ctx context.Context, filter persistence.PartyFilter) ([]persistence.Party, error) {
	var where conditions
	where.eq("server_id", filter.ServerID)
	if filter.MemberID != "" {
		where.add(`EXISTS (SELECT 1 FROM party_members pm WHERE pm.party_id = parties.id AND pm.user_id = ?)`, filter.MemberID)
	}
	where.at("cycle_start", filter.CycleStart)
	where.slotRange(filter.SlotFrom, filter.SlotTo)
	where.game(filter.Game)

	parties, err := r.queryParties(ctx, `SELECT `+partyColumns+` FROM parties`+where.sql()+` ORDER BY slot, id`, where.args...)
	if err != nil {
		return nil, err
	}
	if err := r.loadMembers(ctx, parties); err != nil {
		return nil, err
	}
	return parties, nil
}

func (r reader) GetDefaultGame(ctx context.Context, id string) (persistence.DefaultGame, error) {
	var game persistence.DefaultGame
	err := r.q.QueryRowContext(ctx, `SELECT id, name FROM default_games WHERE id = ?`, id).Scan(&game.ID, &game.Name)
	if err != nil {
		return persistence.DefaultGame{}, notFoundOr(err, "get default game %s", id)
	}
	return game, nil
}

func (r reader) ListDefaultGames(ctx context.Context) ([]persistence.DefaultGame, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name FROM default_games ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list default games: %w", err)
	}
	defer rows.Close()

	games := make([]persistence.DefaultGame, 0)
	for rows.Next() {
		var game persistence.DefaultGame
		if err := rows.Scan(&game.ID, &game.Name); err != nil {
			return nil, fmt.Errorf("sqlite: scan default game: %w", err)
		}
		games = append(games, game)
	}
	return games, rows.Err()
}

func (r reader) GetCustomGame(ctx context.Context, id string) (persistence.CustomGame, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, server_id, name, created_by, created_at FROM custom_games WHERE id = ?`, id)
	game, err := scanCustomGame(row)
	if err != nil {
		return persistence.CustomGame{}, notFoundOr(err, "get custom game %s", id)
	}
	return game, nil
}

func (r reader) ListCustomGames(ctx context.Context, serverID string) ([]persistence.CustomGame, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, server_id, name, created_by, created_at FROM custom_games WHERE server_id = ? ORDER BY name COLLATE BINARY, id`,
		serverID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list custom games: %w", err)
	}
	defer rows.Close()

	games := make([]persistence.CustomGame, 0)
	for rows.Next() {
		game, err := scanCustomGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	return games, rows.Err()
}

func (r reader) queryParties(ctx context.Context, query string, args ...any) ([]persistence.Party, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list parties: %w", err)
	}
	defer rows.Close()

	parties := make([]persistence.Party, 0)
	for rows.Next() {
		party, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		parties = append(parties, party)
	}
	return parties, rows.Err()
}

// loadMembers fills the Members of each party in join order.
func (r reader) loadMembers(ctx context.Context, parties []persistence.Party) error {
	if len(parties) == 0 {
		return nil
	}
	index := make(map[string]int, len(parties))
	placeholders := make([]string, len(parties))
	args := make([]any, len(parties))
	for i, party := range parties {
		index[party.ID] = i
		placeholders[i] = "?"
		args[i] = party.ID
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT party_id, user_id FROM party_members WHERE party_id IN (`+strings.Join(placeholders, ", ")+`) ORDER BY party_id, position`,
		args...)
	if err != nil {
		return fmt.Errorf("sqlite: load party members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var partyID, userID string
		if err := rows.Scan(&partyID, &userID); err != nil {
			return fmt.Errorf("sqlite: scan party member: %w", err)
		}
		i := index[partyID]
		parties[i].Members = append(parties[i].Members, userID)
	}
	return rows.Err()
}

func scanServer(row rowScanner) (persistence.Server, error) {
	var (
		server               persistence.Server
		resetTime            string
		createdAt, updatedAt string
	)
	if err := row.Scan(&server.ID, &server.Name, &server.OwnerID, &resetTime, &server.ResetPaused,
		&server.MaxMembers, &createdAt, &updatedAt); err != nil {
		return persistence.Server{}, err
	}
	var err error
	if server.ResetTime, err = cycle.ParseResetTime(resetTime); err != nil {
		return persistence.Server{}, fmt.Errorf("sqlite: server %s: %w", server.ID, err)
	}
	if server.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Server{}, err
	}
	if server.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Server{}, err
	}
	return server, nil
}

func scanMember(row rowScanner) (persistence.ServerMember, error) {
	var (
		member   persistence.ServerMember
		role     string
		joinedAt string
	)
	if err := row.Scan(&member.ServerID, &member.UserID, &role, &joinedAt); err != nil {
		return persistence.ServerMember{}, err
	}
	member.Role = persistence.Role(role)
	var err error
	member.JoinedAt, err = parseTime(joinedAt)
	return member, err
}

func scanEntry(row rowScanner) (persistence.TimetableEntry, error) {
	var (
		entry                       persistence.TimetableEntry
		kind                        string
		slot, cycleStart, createdAt string
	)
	if err := row.Scan(&entry.ID, &entry.ServerID, &entry.UserID, &slot, &kind, &entry.Game.ID,
		&cycleStart, &createdAt); err != nil {
		return persistence.TimetableEntry{}, err
	}
	entry.Game.Kind = persistence.GameKind(kind)
	return entry, parseTimes(
		timeField{slot, &entry.Slot},
		timeField{cycleStart, &entry.CycleStart},
		timeField{createdAt, &entry.CreatedAt},
	)
}

func scanParty(row rowScanner) (persistence.Party, error) {
	var (
		party                                  persistence.Party
		kind                                   string
		slot, cycleStart, createdAt, updatedAt string
	)
	if err := row.Scan(&party.ID, &party.ServerID, &party.CreatorID, &slot, &kind, &party.Game.ID,
		&party.Capacity, &cycleStart, &party.Version, &createdAt, &updatedAt); err != nil {
		return persistence.Party{}, err
	}
	party.Game.Kind = persistence.GameKind(kind)
	return party, parseTimes(
		timeField{slot, &party.Slot},
		timeField{cycleStart, &party.CycleStart},
		timeField{createdAt, &party.CreatedAt},
		timeField{updatedAt, &party.UpdatedAt},
	)
}

func scanCustomGame(row rowScanner) (persistence.CustomGame, error) {
	var (
		game      persistence.CustomGame
		createdAt string
	)
	if err := row.Scan(&game.ID, &game.ServerID, &game.Name, &game.CreatedBy, &createdAt); err != nil {
		return persistence.CustomGame{}, err
	}
	var err error
	game.CreatedAt, err = parseTime(createdAt)
	return game, err
}

type timeField struct {
	raw  string
	dest *time.Time
}

func parseTimes(fields ...timeField) error {
	for _, field := range fields {
		t, err := parseTime(field.raw)
		if err != nil {
			return err
		}
		*field.dest = t
	}
	return nil
}

// notFoundOr maps sql.ErrNoRows to persistence.ErrNotFound and annotates anything else.
func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	return fmt.Errorf("sqlite: "+format+": %w", append(args, err)...)
}

// conditions accumulates an AND-joined WHERE clause.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) add(clause string, args ...any) {
	c.clauses = append(c.clauses, clause)
	c.args = append(c.args, args...)
}

func (c *conditions) eq(column, value string) {
	if value != "" {
		c.add(column+" = ?", value)
	}
}

func (c *conditions) at(column string, value *time.Time) {
	if value != nil {
		c.add(column+" = ?", formatTime(*value))
	}
}

func (c *conditions) slotRange(from, to *time.Time) {
	if from != nil {
		c.add("slot >= ?", formatTime(*from))
	}
	if to != nil {
		c.add("slot < ?", formatTime(*to))
	}
}

func (c *conditions) game(ref *persistence.GameRef) {
	if ref != nil {
		c.add("game_kind = ? AND game_id = ?", string(ref.Kind), ref.ID)
	}
}

func (c *conditions) sql() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}
