package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/party-scheduler/internal/application"
	"github.com/example/party-scheduler/internal/cycle"
	"github.com/example/party-scheduler/internal/persistence"
	"github.com/example/party-scheduler/internal/persistence/memory"
)

// Harness wires every application service against one store with a
// deterministic clock and identifier sequence.
type Harness struct {
	Store      persistence.Store
	Clock      *Clock
	IDs        *IDGenerator
	Calculator cycle.Calculator
	Gate       *application.KeyedMutex
	Notifier   *RecordingNotifier

	Games     *application.GameCatalog
	Timetable *application.TimetableStore
	Parties   *application.PartyStore
	Stats     *application.StatsAggregator
	Engine    *application.Engine
	Servers   *application.ServerService
}

type harnessConfig struct {
	store       persistence.Store
	clock       *Clock
	location    *time.Location
	joinRetries int
	logger      *slog.Logger
}

// HarnessOption configures NewHarness.
type HarnessOption func(*harnessConfig)

// WithStore runs the harness against store instead of a fresh in-memory one.
func WithStore(store persistence.Store) HarnessOption {
	return func(cfg *harnessConfig) { cfg.store = store }
}

// WithClock overrides the harness clock.
func WithClock(clock *Clock) HarnessOption {
	return func(cfg *harnessConfig) { cfg.clock = clock }
}

// WithLocation sets the reference timezone of the cycle calculator.
func WithLocation(loc *time.Location) HarnessOption {
	return func(cfg *harnessConfig) { cfg.location = loc }
}

// WithJoinRetries bounds party join retries.
func WithJoinRetries(n int) HarnessOption {
	return func(cfg *harnessConfig) { cfg.joinRetries = n }
}

// WithLogger overrides the discarding logger.
func WithLogger(logger *slog.Logger) HarnessOption {
	return func(cfg *harnessConfig) { cfg.logger = logger }
}

// NewHarness builds the services and seeds DefaultGames.
func NewHarness(tb testing.TB, opts ...HarnessOption) *Harness {
	tb.Helper()

	cfg := harnessConfig{location: time.UTC}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.store == nil {
		cfg.store = memory.Open()
	}
	if cfg.clock == nil {
		cfg.clock = NewClock(time.Time{})
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &Harness{
		Store:      cfg.store,
		Clock:      cfg.clock,
		IDs:        NewIDGenerator("id"),
		Calculator: cycle.NewCalculator(cfg.location),
		Gate:       application.NewKeyedMutex(),
		Notifier:   &RecordingNotifier{},
	}
	now := h.Clock.NowFunc()
	ids := h.IDs.NextFunc()

	h.Games = application.NewGameCatalog(h.Store, ids, now, cfg.logger)
	h.Timetable = application.NewTimetableStore(h.Store, h.Games, h.Calculator, ids, now)
	h.Parties = application.NewPartyStore(h.Store, h.Games, ids)
	h.Stats = application.NewStatsAggregator(h.Store, h.Games, h.Calculator, now, time.Minute, cfg.logger)
	h.Engine = application.NewEngine(application.EngineDeps{
		Store:       h.Store,
		Games:       h.Games,
		Timetable:   h.Timetable,
		Parties:     h.Parties,
		Stats:       h.Stats,
		Calculator:  h.Calculator,
		Gate:        h.Gate,
		Notifier:    h.Notifier,
		Now:         now,
		Logger:      cfg.logger,
		JoinRetries: cfg.joinRetries,
	})
	h.Servers = application.NewServerService(h.Store, h.Calculator, h.Gate, h.Stats, cycle.MustParseResetTime(DefaultResetTime), ids, now, cfg.logger)

	if err := h.Games.SeedDefaults(context.Background(), DefaultGames()); err != nil {
		tb.Fatalf("seed default games: %v", err)
	}
	return h
}

// SeedServer creates a server owned by ownerID and joins memberIDs to it.
func (h *Harness) SeedServer(tb testing.TB, ownerID string, memberIDs ...string) persistence.Server {
	tb.Helper()
	ctx := context.Background()

	server, err := h.Servers.CreateServer(ctx, application.CreateServerParams{UserID: ownerID, Name: "Night Owls"})
	if err != nil {
		tb.Fatalf("create server: %v", err)
	}
	for _, memberID := range memberIDs {
		if _, err := h.Servers.JoinServer(ctx, application.MembershipParams{ServerID: server.ID, UserID: memberID}); err != nil {
			tb.Fatalf("join server %s: %v", memberID, err)
		}
	}
	return server
}

// Reserve is a shorthand for Engine.ReserveEntry with a default game.
func (h *Harness) Reserve(ctx context.Context, serverID, userID string, slot time.Time, gameID string) (application.EntryView, error) {
	return h.Engine.ReserveEntry(ctx, application.ReserveEntryParams{
		ServerID: serverID,
		UserID:   userID,
		Slot:     slot,
		GameKind: string(persistence.GameKindDefault),
		GameID:   gameID,
	})
}

// CreateParty is a shorthand for Engine.CreateParty with a default game.
func (h *Harness) CreateParty(ctx context.Context, serverID, userID string, slot time.Time, gameID string, capacity int) (application.PartyView, error) {
	return h.Engine.CreateParty(ctx, application.CreatePartyParams{
		ServerID: serverID,
		UserID:   userID,
		Slot:     slot,
		GameKind: string(persistence.GameKindDefault),
		GameID:   gameID,
		Capacity: capacity,
	})
}

// Join is a shorthand for Engine.JoinParty.
func (h *Harness) Join(ctx context.Context, serverID, partyID, userID string) (application.PartyView, error) {
	return h.Engine.JoinParty(ctx, application.PartyMemberParams{ServerID: serverID, PartyID: partyID, UserID: userID})
}
