package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/party-scheduler/internal/cycle"
	"github.com/example/party-scheduler/internal/persistence"
)

// EngineDeps groups the collaborators of the Engine.
type EngineDeps struct {
	Store      persistence.Store
	Games      *GameCatalog
	Timetable  *TimetableStore
	Parties    *PartyStore
	Stats      *StatsAggregator
	Calculator cycle.Calculator
	Gate       *KeyedMutex
	Notifier   Notifier
	Now        func() time.Time
	Logger     *slog.Logger
	// JoinRetries bounds the attempts of a party join after optimistic version conflicts.
	JoinRetries int
}

// Engine is the only entry point that mutates entries and parties. Every
// operation holds the server's gate, runs in one unit of work and dispatches
// its events after commit.
type Engine struct {
	store     persistence.Store
	games     *GameCatalog
	timetable *TimetableStore
	parties   *PartyStore
	stats     *StatsAggregator
	calc      cycle.Calculator
	gate      *KeyedMutex
	notifier  Notifier
	retry     retryPolicy
	now       func() time.Time
	logger    *slog.Logger
}

// NewEngine wires the reconciliation engine.
func NewEngine(deps EngineDeps) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Gate == nil {
		deps.Gate = NewKeyedMutex()
	}
	if deps.Notifier == nil {
		deps.Notifier = NoopNotifier{}
	}
	return &Engine{
		store:     deps.Store,
		games:     deps.Games,
		timetable: deps.Timetable,
		parties:   deps.Parties,
		stats:     deps.Stats,
		calc:      deps.Calculator,
		gate:      deps.Gate,
		notifier:  deps.Notifier,
		retry:     newRetryPolicy(deps.JoinRetries),
		now:       deps.Now,
		logger:    defaultLogger(deps.Logger),
	}
}

// mutation collects the events of one unit of work.
type mutation struct {
	now    time.Time
	events []Event
}

func (m *mutation) emit(event Event) {
	event.OccurredAt = m.now
	m.events = append(m.events, event)
}

func (e *Engine) mutate(ctx context.Context, serverID, userID string, fn func(ctx context.Context, tx persistence.Tx, scope serverScope, m *mutation) error) error {
	if e == nil {
		return errors.New("Engine is nil")
	}
	unlock := e.gate.Lock(serverID)
	defer unlock()

	m := &mutation{now: e.now().UTC()}
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		m.events = m.events[:0]
		scope, err := loadScope(ctx, tx, e.calc, serverID, userID, m.now)
		if err != nil {
			return err
		}
		return fn(ctx, tx, scope, m)
	})
	if err != nil {
		return err
	}

	e.stats.Invalidate(serverID)
	for _, event := range m.events {
		if pubErr := e.notifier.Publish(ctx, event); pubErr != nil {
			serviceLogger(ctx, e.logger, "reconciliation", "publish").WarnContext(ctx, "event delivery failed",
				"event", event.Type, "server_id", event.ServerID, "error", pubErr)
		}
	}
	return nil
}

func (e *Engine) log(ctx context.Context, operation, serverID, userID string) *slog.Logger {
	return serviceLogger(ctx, e.logger, "reconciliation", operation, "server_id", serverID, "user_id", userID)
}

func retiredEvent(m *mutation, entry *persistence.TimetableEntry) {
	if entry == nil {
		return
	}
	m.emit(Event{Type: EventEntryCancelled, ServerID: entry.ServerID, UserID: entry.UserID, EntryID: entry.ID, Slot: entry.Slot})
}

// ReserveEntry records or replaces the caller's join time for the current cycle.
func (e *Engine) ReserveEntry(ctx context.Context, params ReserveEntryParams) (EntryView, error) {
	logger := e.log(ctx, "reserve_entry", params.ServerID, params.UserID)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "entry reservation")
		return EntryView{}, err
	}

	var view EntryView
	err := e.mutate(ctx, params.ServerID, params.UserID, func(ctx context.Context, tx persistence.Tx, scope serverScope, m *mutation) error {
		var err error
		view, _, err = e.timetable.reserve(ctx, tx, scope, params.UserID, params.Slot, gameRef(params.GameKind, params.GameID))
		if err != nil {
			return err
		}
		m.emit(Event{Type: EventEntryReserved, ServerID: view.ServerID, UserID: view.UserID, EntryID: view.ID, Slot: view.Slot})
		return nil
	})
	logOutcome(ctx, logger, err, "entry reservation", "entry_id", view.ID)
	if err != nil {
		return EntryView{}, err
	}
	return view, nil
}

// CancelEntry removes the caller's current cycle entry. Cancelling without an entry is a no-op.
func (e *Engine) CancelEntry(ctx context.Context, params MembershipParams) error {
	logger := e.log(ctx, "cancel_entry", params.ServerID, params.UserID)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "entry cancellation")
		return err
	}

	err := e.mutate(ctx, params.ServerID, params.UserID, func(ctx context.Context, tx persistence.Tx, scope serverScope, m *mutation) error {
		removed, err := e.timetable.remove(ctx, tx, scope, params.UserID)
		if err != nil {
			return err
		}
		retiredEvent(m, removed)
		return nil
	})
	logOutcome(ctx, logger, err, "entry cancellation")
	return err
}

// CreateParty opens a party with the caller as first member and retires their standalone entry.
func (e *Engine) CreateParty(ctx context.Context, params CreatePartyParams) (PartyView, error) {
	logger := e.log(ctx, "create_party", params.ServerID, params.UserID)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "party creation")
		return PartyView{}, err
	}

	var view PartyView
	err := e.mutate(ctx, params.ServerID, params.UserID, func(ctx context.Context, tx persistence.Tx, scope serverScope, m *mutation) error {
		var err error
		view, err = e.parties.create(ctx, tx, scope, params.Slot, gameRef(params.GameKind, params.GameID), params.Capacity)
		if err != nil {
			return err
		}
		retired, err := e.timetable.remove(ctx, tx, scope, params.UserID)
		if err != nil {
			return err
		}
		retiredEvent(m, retired)
		m.emit(Event{Type: EventPartyCreated, ServerID: view.ServerID, UserID: params.UserID, PartyID: view.ID, Slot: view.Slot})
		if view.Full() {
			m.emit(Event{Type: EventPartyCapacityReached, ServerID: view.ServerID, PartyID: view.ID, Slot: view.Slot})
		}
		return nil
	})
	logOutcome(ctx, logger, err, "party creation", "party_id", view.ID)
	if err != nil {
		return PartyView{}, err
	}
	return view, nil
}

// JoinParty adds the caller to a party and retires their standalone entry.
// Joining a party the caller already belongs to is a no-op.
func (e *Engine) JoinParty(ctx context.Context, params PartyMemberParams) (PartyView, error) {
	logger := e.log(ctx, "join_party", params.ServerID, params.UserID)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "party join")
		return PartyView{}, err
	}

	var party persistence.Party
	var capacity int
	err := e.retry.run(ctx, func(ctx context.Context) error {
		return e.mutate(ctx, params.ServerID, params.UserID, func(ctx context.Context, tx persistence.Tx, scope serverScope, m *mutation) error {
			return e.joinLocked(ctx, tx, scope, m, params.PartyID, &party, &capacity)
		})
	})
	if errors.Is(err, persistence.ErrVersionConflict) {
		err = &CapacityExceededError{Resource: "party", ID: params.PartyID, Capacity: capacity}
	}
	logOutcome(ctx, logger, err, "party join", "party_id", params.PartyID)
	if err != nil {
		return PartyView{}, err
	}
	return e.partyView(ctx, party)
}

func (e *Engine) joinLocked(ctx context.Context, tx persistence.Tx, scope serverScope, m *mutation, partyID string, out *persistence.Party, capacity *int) error {
	userID := scope.userID()
	party, joined, err := e.parties.join(ctx, tx, scope, partyID, userID)
	if err != nil {
		var full *CapacityExceededError
		if errors.As(err, &full) {
			*capacity = full.Capacity
		}
		return err
	}
	*out = party
	*capacity = party.Capacity
	if !joined {
		return nil
	}
	retired, err := e.timetable.remove(ctx, tx, scope, userID)
	if err != nil {
		return err
	}
	retiredEvent(m, retired)
	m.emit(Event{Type: EventPartyJoined, ServerID: party.ServerID, UserID: userID, PartyID: party.ID, Slot: party.Slot})
	if len(party.Members) >= party.Capacity {
		m.emit(Event{Type: EventPartyCapacityReached, ServerID: party.ServerID, PartyID: party.ID, Slot: party.Slot})
	}
	return nil
}

// SwitchParty leaves the caller's current party and joins another in one unit of work.
func (e *Engine) SwitchParty(ctx context.Context, params SwitchPartyParams) (PartyView, error) {
	logger := e.log(ctx, "switch_party", params.ServerID, params.UserID)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "party switch")
		return PartyView{}, err
	}

	var party persistence.Party
	var capacity int
	err := e.retry.run(ctx, func(ctx context.Context) error {
		return e.mutate(ctx, params.ServerID, params.UserID, func(ctx context.Context, tx persistence.Tx, scope serverScope, m *mutation) error {
			fromID := params.FromPartyID
			if fromID == "" {
				current, err := e.parties.membership(ctx, tx, scope, params.UserID)
				if err != nil {
					return err
				}
				if current != nil {
					fromID = current.ID
				}
			}
			if fromID != "" && fromID != params.ToPartyID {
				left, err := e.parties.leave(ctx, tx, scope, fromID, params.UserID)
				if err != nil {
					return err
				}
				m.emit(Event{Type: EventPartyLeft, ServerID: left.ServerID, UserID: params.UserID, PartyID: left.ID, Slot: left.Slot})
			}
			return e.joinLocked(ctx, tx, scope, m, params.ToPartyID, &party, &capacity)
		})
	})
	if errors.Is(err, persistence.ErrVersionConflict) {
		err = &CapacityExceededError{Resource: "party", ID: params.ToPartyID, Capacity: capacity}
	}
	logOutcome(ctx, logger, err, "party switch", "from_party_id", params.FromPartyID, "to_party_id", params.ToPartyID)
	if err != nil {
		return PartyView{}, err
	}
	return e.partyView(ctx, party)
}

// LeaveParty removes the caller from a party. The party survives even when empty
// and the caller's retired entry is not restored.
func (e *Engine) LeaveParty(ctx context.Context, params PartyMemberParams) error {
	logger := e.log(ctx, "leave_party", params.ServerID, params.UserID)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "party leave")
		return err
	}

	err := e.mutate(ctx, params.ServerID, params.UserID, func(ctx context.Context, tx persistence.Tx, scope serverScope, m *mutation) error {
		party, err := e.parties.leave(ctx, tx, scope, params.PartyID, params.UserID)
		if err != nil {
			return err
		}
		m.emit(Event{Type: EventPartyLeft, ServerID: party.ServerID, UserID: params.UserID, PartyID: party.ID, Slot: party.Slot})
		return nil
	})
	logOutcome(ctx, logger, err, "party leave", "party_id", params.PartyID)
	return err
}

// DeleteParty removes a party on behalf of its creator or a server owner or admin.
func (e *Engine) DeleteParty(ctx context.Context, params PartyMemberParams) error {
	logger := e.log(ctx, "delete_party", params.ServerID, params.UserID)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "party deletion")
		return err
	}

	err := e.mutate(ctx, params.ServerID, params.UserID, func(ctx context.Context, tx persistence.Tx, scope serverScope, m *mutation) error {
		party, err := e.parties.remove(ctx, tx, scope, params.PartyID)
		if err != nil {
			return err
		}
		m.emit(Event{Type: EventPartyDeleted, ServerID: party.ServerID, UserID: params.UserID, PartyID: party.ID, Slot: party.Slot})
		return nil
	})
	logOutcome(ctx, logger, err, "party deletion", "party_id", params.PartyID)
	return err
}

// DeleteCustomGame removes a server scoped game together with every entry and
// party that references it.
func (e *Engine) DeleteCustomGame(ctx context.Context, params DeleteCustomGameParams) error {
	logger := e.log(ctx, "delete_custom_game", params.ServerID, params.UserID)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "custom game deletion")
		return err
	}

	removed := 0
	err := e.mutate(ctx, params.ServerID, params.UserID, func(ctx context.Context, tx persistence.Tx, scope serverScope, m *mutation) error {
		removed = 0
		if !scope.canManage() {
			return permissionDenied("only owners and admins manage games")
		}
		game, err := tx.GetCustomGame(ctx, params.GameID)
		if err != nil || game.ServerID != scope.server.ID {
			if err == nil || errors.Is(err, persistence.ErrNotFound) {
				return notFound("game", params.GameID)
			}
			return err
		}

		ref := persistence.GameRef{Kind: persistence.GameKindCustom, ID: game.ID}
		entries, err := tx.ListEntries(ctx, persistence.EntryFilter{ServerID: scope.server.ID, Game: &ref})
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := tx.DeleteEntry(ctx, entry.ID); err != nil {
				return mapRepoError(err)
			}
			retiredEvent(m, &entry)
		}
		parties, err := tx.ListParties(ctx, persistence.PartyFilter{ServerID: scope.server.ID, Game: &ref})
		if err != nil {
			return err
		}
		for _, party := range parties {
			if err := tx.DeleteParty(ctx, party.ID); err != nil {
				return mapRepoError(err)
			}
			m.emit(Event{Type: EventPartyDeleted, ServerID: party.ServerID, UserID: params.UserID, PartyID: party.ID, Slot: party.Slot})
		}
		removed = len(entries) + len(parties)
		return mapRepoError(tx.DeleteCustomGame(ctx, game.ID))
	})
	logOutcome(ctx, logger, err, "custom game deletion", "game_id", params.GameID, "cascaded", removed)
	return err
}

// LeaveServer drops the caller's membership after clearing their current
// entry and party membership. The owner cannot leave.
func (e *Engine) LeaveServer(ctx context.Context, params MembershipParams) error {
	logger := e.log(ctx, "leave_server", params.ServerID, params.UserID)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "server leave")
		return err
	}

	err := e.mutate(ctx, params.ServerID, params.UserID, func(ctx context.Context, tx persistence.Tx, scope serverScope, m *mutation) error {
		if scope.member.Role == persistence.RoleOwner {
			return permissionDenied("the owner cannot leave the server")
		}
		removed, err := e.timetable.remove(ctx, tx, scope, params.UserID)
		if err != nil {
			return err
		}
		retiredEvent(m, removed)

		current, err := e.parties.membership(ctx, tx, scope, params.UserID)
		if err != nil {
			return err
		}
		if current != nil {
			left, err := e.parties.leave(ctx, tx, scope, current.ID, params.UserID)
			if err != nil {
				return err
			}
			m.emit(Event{Type: EventPartyLeft, ServerID: left.ServerID, UserID: params.UserID, PartyID: left.ID, Slot: left.Slot})
		}
		return mapRepoError(tx.RemoveMember(ctx, params.ServerID, params.UserID))
	})
	logOutcome(ctx, logger, err, "server leave")
	return err
}

// ListTimetable returns the current cycle's entries for a server member.
func (e *Engine) ListTimetable(ctx context.Context, userID string, params ListTimetableParams) ([]EntryView, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if _, _, err := requireMember(ctx, e.store, params.ServerID, userID); err != nil {
		return nil, err
	}
	return e.timetable.ListFiltered(ctx, params.ServerID, params.GameQuery, params.SortByGame)
}

// ListParties returns the current cycle's parties for a server member.
func (e *Engine) ListParties(ctx context.Context, serverID, userID string) ([]PartyView, error) {
	server, _, err := requireMember(ctx, e.store, serverID, userID)
	if err != nil {
		return nil, err
	}
	start := e.calc.Start(server.ResetTime, server.ResetPaused, e.now())
	return e.parties.ListForCycle(ctx, serverID, start)
}

// Purge removes entries and parties whose cycle started before cutoff.
func (e *Engine) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	if e == nil {
		return 0, errors.New("Engine is nil")
	}
	var removed int
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		removed, err = tx.PurgeBefore(ctx, cutoff.UTC())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge before %s: %w", cutoff.UTC().Format(time.RFC3339), err)
	}
	e.stats.InvalidateAll()
	serviceLogger(ctx, e.logger, "reconciliation", "purge").InfoContext(ctx, "expired cycles purged", "cutoff", cutoff.UTC(), "removed", removed)
	return removed, nil
}

// PurgeExpired purges everything older than retention relative to now.
func (e *Engine) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	if e == nil {
		return 0, errors.New("Engine is nil")
	}
	return e.Purge(ctx, e.now().Add(-retention))
}

func (e *Engine) partyView(ctx context.Context, party persistence.Party) (PartyView, error) {
	game, err := e.games.Resolve(ctx, party.ServerID, party.Game)
	if err != nil {
		// The mutation is already committed, so the view falls back to the game id.
		level := slog.LevelWarn
		if errors.Is(err, ErrNotFound) {
			level = slog.LevelDebug
		}
		e.log(ctx, "party_view", party.ServerID, "").Log(ctx, level, "party game lookup failed",
			"party_id", party.ID, "game_id", party.Game.ID, "error", err, "error_kind", ErrorKind(err))
		return PartyView{Party: party, GameName: party.Game.ID}, nil
	}
	return PartyView{Party: party, GameName: game.Name}, nil
}
