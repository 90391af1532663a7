package application_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/party-scheduler/internal/application"
	"github.com/example/party-scheduler/internal/persistence"
	"github.com/example/party-scheduler/internal/persistence/memory"
	"github.com/example/party-scheduler/internal/testfixtures"
)

func listEntries(t *testing.T, h *testfixtures.Harness, serverID string) []application.EntryView {
	t.Helper()
	start := h.Calculator.Start(testfixtures.ReferenceResetTime(), false, h.Clock.Now())
	entries, err := h.Timetable.ListForCycle(context.Background(), serverID, start)
	if err != nil {
		t.Fatalf("ListForCycle failed: %v", err)
	}
	return entries
}

func getParty(t *testing.T, h *testfixtures.Harness, id string) persistence.Party {
	t.Helper()
	party, err := h.Store.GetParty(context.Background(), id)
	if err != nil {
		t.Fatalf("GetParty(%s) failed: %v", id, err)
	}
	return party
}

func TestEngine_ReserveReplacesEntryInSameCycle(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice")
	ctx := context.Background()

	first, err := h.Reserve(ctx, server.ID, "alice", testfixtures.SlotAt(18, 0), "valorant")
	if err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	second, err := h.Reserve(ctx, server.ID, "alice", testfixtures.SlotAt(19, 0), "overwatch-2")
	if err != nil {
		t.Fatalf("second reserve failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected replacement to keep id %s, got %s", first.ID, second.ID)
	}

	entries := listEntries(t, h, server.ID)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(entries))
	}
	got := entries[0]
	if !got.Slot.Equal(testfixtures.SlotAt(19, 0)) || got.GameName != "Overwatch 2" {
		t.Fatalf("expected 19:00/Overwatch 2, got %v/%s", got.Slot, got.GameName)
	}
}

func TestEngine_ReserveValidation(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice")
	ctx := context.Background()

	t.Run("slot outside the current cycle", func(t *testing.T) {
		_, err := h.Reserve(ctx, server.ID, "alice", testfixtures.SlotAt(5, 0).Add(2*time.Hour), "valorant")
		var vErr *application.ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["slot"] == "" {
			t.Fatalf("expected slot validation error, got %v", err)
		}
	})

	t.Run("missing game reference", func(t *testing.T) {
		_, err := h.Engine.ReserveEntry(ctx, application.ReserveEntryParams{ServerID: server.ID, UserID: "alice", Slot: testfixtures.SlotAt(20, 0)})
		var vErr *application.ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["game_id"] == "" || vErr.FieldErrors["game_kind"] == "" {
			t.Fatalf("expected game validation errors, got %v", err)
		}
	})

	t.Run("unknown game", func(t *testing.T) {
		_, err := h.Reserve(ctx, server.ID, "alice", testfixtures.SlotAt(20, 0), "tetris")
		if !errors.Is(err, application.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("non member", func(t *testing.T) {
		_, err := h.Reserve(ctx, server.ID, "mallory", testfixtures.SlotAt(20, 0), "valorant")
		if !errors.Is(err, application.ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied, got %v", err)
		}
	})

	t.Run("unknown server", func(t *testing.T) {
		_, err := h.Reserve(ctx, "missing", "alice", testfixtures.SlotAt(20, 0), "valorant")
		if !errors.Is(err, application.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	if entries := listEntries(t, h, server.ID); len(entries) != 0 {
		t.Fatalf("failed reservations must not persist entries, got %d", len(entries))
	}
}

func TestEngine_CancelIsIdempotent(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice")
	ctx := context.Background()

	params := application.MembershipParams{ServerID: server.ID, UserID: "alice"}
	if err := h.Engine.CancelEntry(ctx, params); err != nil {
		t.Fatalf("cancel without entry should succeed, got %v", err)
	}
	if len(h.Notifier.Events()) != 0 {
		t.Fatalf("no-op cancel must not emit events")
	}

	if _, err := h.Reserve(ctx, server.ID, "alice", testfixtures.SlotAt(20, 0), "valorant"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := h.Engine.CancelEntry(ctx, params); err != nil {
			t.Fatalf("cancel #%d failed: %v", i+1, err)
		}
	}
	if entries := listEntries(t, h, server.ID); len(entries) != 0 {
		t.Fatalf("expected no entries after cancel, got %d", len(entries))
	}
	types := h.Notifier.Types()
	if len(types) != 2 || types[0] != application.EventEntryReserved || types[1] != application.EventEntryCancelled {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestEngine_ReconciliationRoundTrip(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice", "bob")
	ctx := context.Background()

	if _, err := h.Reserve(ctx, server.ID, "alice", testfixtures.SlotAt(18, 0), "valorant"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	party, err := h.CreateParty(ctx, server.ID, "bob", testfixtures.SlotAt(21, 0), "valorant", 4)
	if err != nil {
		t.Fatalf("create party failed: %v", err)
	}

	h.Notifier.Reset()
	joined, err := h.Join(ctx, server.ID, party.ID, "alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if !joined.HasMember("alice") || joined.Members[0] != "bob" {
		t.Fatalf("unexpected members %v", joined.Members)
	}
	if entries := listEntries(t, h, server.ID); len(entries) != 0 {
		t.Fatalf("joining must retire the standalone entry, got %d entries", len(entries))
	}
	types := h.Notifier.Types()
	if len(types) != 2 || types[0] != application.EventEntryCancelled || types[1] != application.EventPartyJoined {
		t.Fatalf("unexpected events %v", types)
	}

	if err := h.Engine.LeaveParty(ctx, application.PartyMemberParams{ServerID: server.ID, PartyID: party.ID, UserID: "alice"}); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if entries := listEntries(t, h, server.ID); len(entries) != 0 {
		t.Fatalf("leaving must not resurrect the entry, got %d entries", len(entries))
	}
	if getParty(t, h, party.ID).HasMember("alice") {
		t.Fatalf("alice should no longer be a member")
	}

	err = h.Engine.LeaveParty(ctx, application.PartyMemberParams{ServerID: server.ID, PartyID: party.ID, UserID: "alice"})
	if !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("leaving twice should report ErrNotFound, got %v", err)
	}
}

func TestEngine_CapacityScenario(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "a", "b", "c", "d")
	ctx := context.Background()

	party, err := h.CreateParty(ctx, server.ID, "a", testfixtures.SlotAt(20, 0), "valorant", 3)
	if err != nil {
		t.Fatalf("create party failed: %v", err)
	}
	for _, user := range []string{"b", "c"} {
		if _, err := h.Join(ctx, server.ID, party.ID, user); err != nil {
			t.Fatalf("join %s failed: %v", user, err)
		}
	}
	_, err = h.Join(ctx, server.ID, party.ID, "d")
	var full *application.CapacityExceededError
	if !errors.As(err, &full) || full.Capacity != 3 {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}

	types := h.Notifier.Types()
	if types[len(types)-1] != application.EventPartyCapacityReached {
		t.Fatalf("expected capacity reached event last, got %v", types)
	}

	stats, err := h.Stats.Today(ctx, server.ID)
	if err != nil {
		t.Fatalf("Today failed: %v", err)
	}
	if stats.PeakHour != 20 || stats.PeakHourCount != 3 {
		t.Fatalf("expected peak 3 at hour 20, got %d at %d", stats.PeakHourCount, stats.PeakHour)
	}
}

func TestEngine_ConcurrentJoinsNeverOversell(t *testing.T) {
	t.Parallel()
	const contenders = 24

	users := make([]string, contenders)
	for i := range users {
		users[i] = "user-" + string(rune('a'+i))
	}
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", users...)
	ctx := context.Background()

	// One seat remains after the creator takes theirs.
	party, err := h.CreateParty(ctx, server.ID, "owner", testfixtures.SlotAt(22, 0), "valorant", 2)
	if err != nil {
		t.Fatalf("create party failed: %v", err)
	}

	var successes, rejected atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, user := range users {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			<-start
			_, err := h.Join(ctx, server.ID, party.ID, user)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, application.ErrCapacityExceeded):
				rejected.Add(1)
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(user)
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 || rejected.Load() != contenders-1 {
		t.Fatalf("expected 1 success and %d rejections, got %d/%d", contenders-1, successes.Load(), rejected.Load())
	}
	if members := getParty(t, h, party.ID).Members; len(members) != 2 {
		t.Fatalf("party oversold: %v", members)
	}
}

func TestEngine_PartyConflicts(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice", "bob")
	ctx := context.Background()

	first, err := h.CreateParty(ctx, server.ID, "alice", testfixtures.SlotAt(20, 0), "valorant", 3)
	if err != nil {
		t.Fatalf("create party failed: %v", err)
	}
	second, err := h.CreateParty(ctx, server.ID, "bob", testfixtures.SlotAt(21, 0), "valorant", 3)
	if err != nil {
		t.Fatalf("create party failed: %v", err)
	}

	t.Run("reserve while in a party", func(t *testing.T) {
		_, err := h.Reserve(ctx, server.ID, "alice", testfixtures.SlotAt(19, 0), "valorant")
		var conflict *application.ConflictError
		if !errors.As(err, &conflict) || conflict.PartyID != first.ID {
			t.Fatalf("expected ConflictError naming %s, got %v", first.ID, err)
		}
	})

	t.Run("create while in a party", func(t *testing.T) {
		_, err := h.CreateParty(ctx, server.ID, "alice", testfixtures.SlotAt(22, 0), "valorant", 2)
		if !errors.Is(err, application.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("join another party", func(t *testing.T) {
		_, err := h.Join(ctx, server.ID, second.ID, "alice")
		var conflict *application.ConflictError
		if !errors.As(err, &conflict) || conflict.PartyID != first.ID {
			t.Fatalf("expected ConflictError naming %s, got %v", first.ID, err)
		}
	})

	t.Run("joining own party is a no-op", func(t *testing.T) {
		before := getParty(t, h, first.ID)
		view, err := h.Join(ctx, server.ID, first.ID, "alice")
		if err != nil {
			t.Fatalf("expected no-op join, got %v", err)
		}
		if len(view.Members) != 1 || getParty(t, h, first.ID).Version != before.Version {
			t.Fatalf("no-op join must not modify the party")
		}
	})

	t.Run("capacity below one", func(t *testing.T) {
		_, err := h.CreateParty(ctx, server.ID, "owner", testfixtures.SlotAt(22, 0), "valorant", 0)
		var vErr *application.ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["capacity"] == "" {
			t.Fatalf("expected capacity validation error, got %v", err)
		}
	})
}

func TestEngine_CreatePartyRetiresCreatorEntry(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice")
	ctx := context.Background()

	if _, err := h.Reserve(ctx, server.ID, "alice", testfixtures.SlotAt(18, 0), "valorant"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	party, err := h.CreateParty(ctx, server.ID, "alice", testfixtures.SlotAt(20, 0), "valorant", 1)
	if err != nil {
		t.Fatalf("create party failed: %v", err)
	}
	if len(listEntries(t, h, server.ID)) != 0 {
		t.Fatalf("creating a party must retire the creator's entry")
	}
	if party.CreatorID != "alice" || len(party.Members) != 1 || party.Members[0] != "alice" {
		t.Fatalf("creator must be the first member: %+v", party.Party)
	}
	if !party.Full() {
		t.Fatalf("capacity-1 party should be full at creation")
	}
}

func TestEngine_SwitchParty(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice", "bob", "carol")
	ctx := context.Background()

	from, _ := h.CreateParty(ctx, server.ID, "alice", testfixtures.SlotAt(20, 0), "valorant", 3)
	to, _ := h.CreateParty(ctx, server.ID, "bob", testfixtures.SlotAt(21, 0), "valorant", 2)
	full, _ := h.CreateParty(ctx, server.ID, "carol", testfixtures.SlotAt(22, 0), "valorant", 1)
	if _, err := h.Join(ctx, server.ID, from.ID, "owner"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	_, err := h.Engine.SwitchParty(ctx, application.SwitchPartyParams{ServerID: server.ID, UserID: "owner", ToPartyID: full.ID})
	if !errors.Is(err, application.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if !getParty(t, h, from.ID).HasMember("owner") {
		t.Fatalf("failed switch must leave the original membership intact")
	}

	switched, err := h.Engine.SwitchParty(ctx, application.SwitchPartyParams{ServerID: server.ID, UserID: "owner", FromPartyID: from.ID, ToPartyID: to.ID})
	if err != nil {
		t.Fatalf("switch failed: %v", err)
	}
	if !switched.HasMember("owner") || getParty(t, h, from.ID).HasMember("owner") {
		t.Fatalf("expected owner to move from %s to %s", from.ID, to.ID)
	}
}

func TestEngine_DeleteParty(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice", "bob")
	ctx := context.Background()

	party, _ := h.CreateParty(ctx, server.ID, "alice", testfixtures.SlotAt(20, 0), "valorant", 3)
	if _, err := h.Join(ctx, server.ID, party.ID, "bob"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	err := h.Engine.DeleteParty(ctx, application.PartyMemberParams{ServerID: server.ID, PartyID: party.ID, UserID: "bob"})
	if !errors.Is(err, application.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for a plain member, got %v", err)
	}

	if err := h.Engine.DeleteParty(ctx, application.PartyMemberParams{ServerID: server.ID, PartyID: party.ID, UserID: "owner"}); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
	if _, err := h.Store.GetParty(ctx, party.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected party to be gone, got %v", err)
	}
	if len(listEntries(t, h, server.ID)) != 0 {
		t.Fatalf("deleting a party must not resurrect entries")
	}
}

func TestEngine_JoinPastCycleParty(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice")
	ctx := context.Background()

	party, _ := h.CreateParty(ctx, server.ID, "owner", testfixtures.SlotAt(20, 0), "valorant", 3)
	h.Clock.Advance(24 * time.Hour)

	_, err := h.Join(ctx, server.ID, party.ID, "alice")
	if !errors.Is(err, application.ErrConflict) {
		t.Fatalf("expected ErrConflict for a past cycle party, got %v", err)
	}

	// A new cycle frees the creator for a new commitment.
	if _, err := h.Reserve(ctx, server.ID, "owner", testfixtures.SlotAt(20, 0).Add(24*time.Hour), "valorant"); err != nil {
		t.Fatalf("reserve in the new cycle failed: %v", err)
	}
}

func TestEngine_PausedResetUsesSingleOpenCycle(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner")
	ctx := context.Background()

	paused := true
	if _, err := h.Servers.UpdateSettings(ctx, application.UpdateServerSettingsParams{ServerID: server.ID, UserID: "owner", ResetPaused: &paused}); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	later := testfixtures.SlotAt(20, 0).AddDate(0, 0, 3)
	entry, err := h.Reserve(ctx, server.ID, "owner", later, "valorant")
	if err != nil {
		t.Fatalf("reserve while paused failed: %v", err)
	}
	if !entry.CycleStart.Equal(time.Unix(0, 0)) {
		t.Fatalf("expected epoch cycle start, got %v", entry.CycleStart)
	}
}

func TestEngine_DeleteCustomGameCascades(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice", "bob")
	ctx := context.Background()

	_, err := h.Games.CreateCustomGame(ctx, application.CreateCustomGameParams{ServerID: server.ID, UserID: "alice", Name: "Lethal Company"})
	if !errors.Is(err, application.ErrPermissionDenied) {
		t.Fatalf("expected members to be denied, got %v", err)
	}
	game, err := h.Games.CreateCustomGame(ctx, application.CreateCustomGameParams{ServerID: server.ID, UserID: "owner", Name: "Lethal Company"})
	if err != nil {
		t.Fatalf("create custom game failed: %v", err)
	}
	if _, err := h.Games.CreateCustomGame(ctx, application.CreateCustomGameParams{ServerID: server.ID, UserID: "owner", Name: "lethal company"}); !errors.Is(err, application.ErrConflict) {
		t.Fatalf("expected duplicate name conflict, got %v", err)
	}

	if _, err := h.Engine.ReserveEntry(ctx, application.ReserveEntryParams{ServerID: server.ID, UserID: "alice", Slot: testfixtures.SlotAt(20, 0), GameKind: "custom", GameID: game.Ref.ID}); err != nil {
		t.Fatalf("reserve custom game failed: %v", err)
	}
	party, err := h.Engine.CreateParty(ctx, application.CreatePartyParams{ServerID: server.ID, UserID: "bob", Slot: testfixtures.SlotAt(21, 0), GameKind: "custom", GameID: game.Ref.ID, Capacity: 4})
	if err != nil {
		t.Fatalf("create custom party failed: %v", err)
	}
	if _, err := h.Reserve(ctx, server.ID, "owner", testfixtures.SlotAt(22, 0), "valorant"); err != nil {
		t.Fatalf("reserve default game failed: %v", err)
	}

	if err := h.Engine.DeleteCustomGame(ctx, application.DeleteCustomGameParams{ServerID: server.ID, UserID: "owner", GameID: game.Ref.ID}); err != nil {
		t.Fatalf("delete custom game failed: %v", err)
	}

	entries := listEntries(t, h, server.ID)
	if len(entries) != 1 || entries[0].UserID != "owner" {
		t.Fatalf("expected only the default game entry to survive, got %+v", entries)
	}
	if _, err := h.Store.GetParty(ctx, party.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected dependent party to be deleted, got %v", err)
	}
	if _, err := h.Games.Resolve(ctx, server.ID, game.Ref); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected game to be gone, got %v", err)
	}
}

func TestEngine_LeaveServerClearsCommitments(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice")
	ctx := context.Background()

	party, _ := h.CreateParty(ctx, server.ID, "owner", testfixtures.SlotAt(20, 0), "valorant", 3)
	if _, err := h.Join(ctx, server.ID, party.ID, "alice"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if err := h.Engine.LeaveServer(ctx, application.MembershipParams{ServerID: server.ID, UserID: "owner"}); !errors.Is(err, application.ErrPermissionDenied) {
		t.Fatalf("owner must not leave, got %v", err)
	}
	if err := h.Engine.LeaveServer(ctx, application.MembershipParams{ServerID: server.ID, UserID: "alice"}); err != nil {
		t.Fatalf("leave server failed: %v", err)
	}
	if getParty(t, h, party.ID).HasMember("alice") {
		t.Fatalf("leaving the server must drop party membership")
	}
	if _, err := h.Store.GetMember(ctx, server.ID, "alice"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected membership to be removed, got %v", err)
	}
}

func TestEngine_ListTimetableFiltersAndGroups(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "u1", "u2", "u3")
	ctx := context.Background()

	reservations := []struct {
		user string
		hour int
		game string
	}{
		{"u1", 19, "valorant"},
		{"u2", 20, "league-of-legends"},
		{"u3", 21, "valorant"},
		{"owner", 22, "league-of-legends"},
	}
	for _, r := range reservations {
		if _, err := h.Reserve(ctx, server.ID, r.user, testfixtures.SlotAt(r.hour, 0), r.game); err != nil {
			t.Fatalf("reserve %s failed: %v", r.user, err)
		}
	}

	filtered, err := h.Engine.ListTimetable(ctx, "u1", application.ListTimetableParams{ServerID: server.ID, GameQuery: "LEAG"})
	if err != nil {
		t.Fatalf("ListTimetable failed: %v", err)
	}
	if len(filtered) != 2 || filtered[0].UserID != "u2" || filtered[1].UserID != "owner" {
		t.Fatalf("unexpected filtered entries %+v", filtered)
	}

	grouped, err := h.Engine.ListTimetable(ctx, "u1", application.ListTimetableParams{ServerID: server.ID, SortByGame: true})
	if err != nil {
		t.Fatalf("ListTimetable failed: %v", err)
	}
	wantUsers := []string{"u1", "u3", "u2", "owner"}
	for i, user := range wantUsers {
		if grouped[i].UserID != user {
			t.Fatalf("position %d: expected %s, got %s", i, user, grouped[i].UserID)
		}
	}

	if _, err := h.Engine.ListTimetable(ctx, "stranger", application.ListTimetableParams{ServerID: server.ID}); !errors.Is(err, application.ErrPermissionDenied) {
		t.Fatalf("expected non members to be denied, got %v", err)
	}
}

func TestEngine_PublishFailureDoesNotFailMutation(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner")
	h.Notifier.FailWith(errors.New("broker down"))

	if _, err := h.Reserve(context.Background(), server.ID, "owner", testfixtures.SlotAt(20, 0), "valorant"); err != nil {
		t.Fatalf("expected reserve to succeed despite publish failure, got %v", err)
	}
	if len(listEntries(t, h, server.ID)) != 1 {
		t.Fatalf("expected committed entry")
	}
}

func TestEngine_PurgeExpired(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "alice")
	ctx := context.Background()

	if _, err := h.Reserve(ctx, server.ID, "owner", testfixtures.SlotAt(20, 0), "valorant"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := h.CreateParty(ctx, server.ID, "alice", testfixtures.SlotAt(21, 0), "valorant", 2); err != nil {
		t.Fatalf("create party failed: %v", err)
	}

	h.Clock.Advance(10 * 24 * time.Hour)
	removed, err := h.Engine.PurgeExpired(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 purged records, got %d", removed)
	}
}

// conflictingStore makes the first failures party updates report a version
// conflict, as a concurrent writer sharing the database would.
type conflictingStore struct {
	persistence.Store
	failures atomic.Int32
}

func (s *conflictingStore) WithinTx(ctx context.Context, fn persistence.TxFunc) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		return fn(ctx, &conflictingTx{Tx: tx, store: s})
	})
}

type conflictingTx struct {
	persistence.Tx
	store *conflictingStore
}

func (t *conflictingTx) UpdateParty(ctx context.Context, party persistence.Party) (persistence.Party, error) {
	if t.store.failures.Add(-1) >= 0 {
		return persistence.Party{}, persistence.ErrVersionConflict
	}
	return t.Tx.UpdateParty(ctx, party)
}

func TestEngine_JoinRetriesVersionConflicts(t *testing.T) {
	t.Parallel()

	t.Run("recovers within the retry budget", func(t *testing.T) {
		store := &conflictingStore{Store: memory.Open()}
		h := testfixtures.NewHarness(t, testfixtures.WithStore(store), testfixtures.WithJoinRetries(3))
		server := h.SeedServer(t, "owner", "alice")
		party, _ := h.CreateParty(context.Background(), server.ID, "owner", testfixtures.SlotAt(20, 0), "valorant", 3)

		store.failures.Store(2)
		view, err := h.Join(context.Background(), server.ID, party.ID, "alice")
		if err != nil {
			t.Fatalf("expected join to succeed after retries, got %v", err)
		}
		if !view.HasMember("alice") {
			t.Fatalf("expected alice to be a member")
		}
	})

	t.Run("surfaces capacity exceeded when exhausted", func(t *testing.T) {
		store := &conflictingStore{Store: memory.Open()}
		h := testfixtures.NewHarness(t, testfixtures.WithStore(store), testfixtures.WithJoinRetries(3))
		server := h.SeedServer(t, "owner", "alice")
		party, _ := h.CreateParty(context.Background(), server.ID, "owner", testfixtures.SlotAt(20, 0), "valorant", 3)

		store.failures.Store(10)
		_, err := h.Join(context.Background(), server.ID, party.ID, "alice")
		if !errors.Is(err, application.ErrCapacityExceeded) {
			t.Fatalf("expected ErrCapacityExceeded, got %v", err)
		}
		if getParty(t, h, party.ID).HasMember("alice") {
			t.Fatalf("failed join must not persist membership")
		}
	})
}

// catalogOutageStore fails default game lookups made outside a unit of work.
type catalogOutageStore struct {
	persistence.Store
}

func (catalogOutageStore) GetDefaultGame(context.Context, string) (persistence.DefaultGame, error) {
	return persistence.DefaultGame{}, errors.New("catalog unavailable")
}

func TestEngine_PartyViewFallsBackWhenGameLookupFails(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := testfixtures.NewHarness(t, testfixtures.WithStore(catalogOutageStore{Store: memory.Open()}), testfixtures.WithLogger(logger))
	server := h.SeedServer(t, "owner", "alice")
	ctx := context.Background()

	party, err := h.CreateParty(ctx, server.ID, "owner", testfixtures.SlotAt(20, 0), "valorant", 3)
	if err != nil || party.GameName != "Valorant" {
		t.Fatalf("create party failed: %+v (%v)", party, err)
	}

	view, err := h.Join(ctx, server.ID, party.ID, "alice")
	if err != nil {
		t.Fatalf("a committed join must not fail on the view lookup, got %v", err)
	}
	if view.GameName != "valorant" || !view.HasMember("alice") {
		t.Fatalf("expected the game id as fallback name, got %+v", view)
	}

	logged := buf.String()
	if !strings.Contains(logged, `"msg":"party game lookup failed"`) || !strings.Contains(logged, "catalog unavailable") || !strings.Contains(logged, `"level":"WARN"`) {
		t.Fatalf("expected a warning about the failed lookup, got %s", logged)
	}
}
