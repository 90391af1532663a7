package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/example/party-scheduler/internal/testfixtures"
)

func TestStats_TodayEmptyServer(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner")

	stats, err := h.Stats.Today(context.Background(), server.ID)
	if err != nil {
		t.Fatalf("Today failed: %v", err)
	}
	if stats.SampleCount != 0 || stats.PeakHourCount != 0 || stats.TopGame.Count != 0 || stats.AvgMinuteOfDay != 0 {
		t.Fatalf("expected zero values, got %+v", stats)
	}

	weekly, err := h.Stats.Weekly(context.Background(), server.ID)
	if err != nil {
		t.Fatalf("Weekly failed: %v", err)
	}
	if weekly.SampleCount != 0 || len(weekly.TopUsers) != 0 {
		t.Fatalf("expected empty weekly stats, got %+v", weekly)
	}
}

func TestStats_TodayAggregates(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "u1", "u2", "u3", "u4")
	ctx := context.Background()

	// League of Legends reaches two samples first in id order, then Valorant ties it.
	reservations := []struct {
		user   string
		hour   int
		minute int
		game   string
	}{
		{"u1", 19, 0, "league-of-legends"},
		{"u2", 21, 30, "league-of-legends"},
		{"u3", 20, 0, "valorant"},
		{"u4", 20, 15, "valorant"},
	}
	for _, r := range reservations {
		if _, err := h.Reserve(ctx, server.ID, r.user, testfixtures.SlotAt(r.hour, r.minute), r.game); err != nil {
			t.Fatalf("reserve %s failed: %v", r.user, err)
		}
	}

	stats, err := h.Stats.Today(ctx, server.ID)
	if err != nil {
		t.Fatalf("Today failed: %v", err)
	}
	if stats.SampleCount != 4 {
		t.Fatalf("expected 4 samples, got %d", stats.SampleCount)
	}
	if stats.TopGame.Name != "League of Legends" || stats.TopGame.Count != 2 {
		t.Fatalf("unexpected top game %+v", stats.TopGame)
	}
	// (1140 + 1290 + 1200 + 1215) / 4 = 1211.25
	if stats.AvgMinuteOfDay != 1211 {
		t.Fatalf("expected truncated average 1211, got %d", stats.AvgMinuteOfDay)
	}
	wantHourly := map[int]int{18: 0, 19: 1, 20: 3, 21: 4, 23: 4}
	for hour, want := range wantHourly {
		if stats.HourlyCounts[hour] != want {
			t.Fatalf("hour %d: expected %d, got %d", hour, want, stats.HourlyCounts[hour])
		}
	}
	if stats.PeakHour != 21 || stats.PeakHourCount != 4 {
		t.Fatalf("expected peak 4 at 21, got %d at %d", stats.PeakHourCount, stats.PeakHour)
	}
}

func TestStats_TodayRefreshesAfterMutation(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner")
	ctx := context.Background()

	if _, err := h.Stats.Today(ctx, server.ID); err != nil {
		t.Fatalf("Today failed: %v", err)
	}
	if _, err := h.Reserve(ctx, server.ID, "owner", testfixtures.SlotAt(20, 0), "valorant"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	stats, err := h.Stats.Today(ctx, server.ID)
	if err != nil {
		t.Fatalf("Today failed: %v", err)
	}
	if stats.SampleCount != 1 {
		t.Fatalf("expected cached stats to be invalidated, got %d samples", stats.SampleCount)
	}
}

func TestStats_WeeklyAggregates(t *testing.T) {
	t.Parallel()
	h := testfixtures.NewHarness(t)
	server := h.SeedServer(t, "owner", "u1", "u2", "u3")
	ctx := context.Background()

	// Monday 2024-01-15.
	if _, err := h.Reserve(ctx, server.ID, "u1", testfixtures.SlotAt(20, 0), "valorant"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	party, err := h.CreateParty(ctx, server.ID, "u2", testfixtures.SlotAt(21, 0), "valorant", 3)
	if err != nil {
		t.Fatalf("create party failed: %v", err)
	}
	if _, err := h.Join(ctx, server.ID, party.ID, "u3"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// Tuesday 2024-01-16.
	h.Clock.Advance(24 * time.Hour)
	tuesday := time.Date(2024, time.January, 16, 18, 30, 0, 0, time.UTC)
	if _, err := h.Reserve(ctx, server.ID, "u1", tuesday, "league-of-legends"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := h.Reserve(ctx, server.ID, "owner", tuesday.Add(time.Hour), "league-of-legends"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	stats, err := h.Stats.Weekly(ctx, server.ID)
	if err != nil {
		t.Fatalf("Weekly failed: %v", err)
	}
	if stats.SampleCount != 5 {
		t.Fatalf("expected 5 samples, got %d", stats.SampleCount)
	}
	wantStart := time.Date(2024, time.January, 10, 6, 0, 0, 0, time.UTC)
	if !stats.Window.Start.Equal(wantStart) {
		t.Fatalf("expected window start %v, got %v", wantStart, stats.Window.Start)
	}

	if len(stats.TopUsers) != 3 {
		t.Fatalf("expected 3 top users, got %+v", stats.TopUsers)
	}
	if stats.TopUsers[0].UserID != "u1" || stats.TopUsers[0].Count != 2 {
		t.Fatalf("unexpected leader %+v", stats.TopUsers[0])
	}
	if stats.TopUsers[1].UserID != "owner" || stats.TopUsers[2].UserID != "u2" {
		t.Fatalf("ties must break by user id: %+v", stats.TopUsers)
	}

	monday := stats.DayAverages[time.Monday]
	if monday.SampleCount != 3 || monday.AvgMinuteOfDay != (1200+1260+1260)/3 {
		t.Fatalf("unexpected Monday average %+v", monday)
	}
	tue := stats.DayAverages[time.Tuesday]
	if tue.SampleCount != 2 || tue.AvgMinuteOfDay != (1110+1170)/2 {
		t.Fatalf("unexpected Tuesday average %+v", tue)
	}
	if sunday := stats.DayAverages[time.Sunday]; sunday.SampleCount != 0 || sunday.AvgMinuteOfDay != 0 {
		t.Fatalf("expected empty Sunday, got %+v", sunday)
	}

	mondayGames := stats.DayGames[time.Monday]
	if len(mondayGames) != 1 || mondayGames[0].Name != "Valorant" || mondayGames[0].Count != 3 {
		t.Fatalf("unexpected Monday games %+v", mondayGames)
	}
	tuesdayGames := stats.DayGames[time.Tuesday]
	if len(tuesdayGames) != 1 || tuesdayGames[0].Name != "League of Legends" || tuesdayGames[0].Count != 2 {
		t.Fatalf("unexpected Tuesday games %+v", tuesdayGames)
	}
}
