package application

import (
	"testing"
	"time"

	"github.com/example/party-scheduler/internal/persistence"
)

func TestCollectSamples_PartyMembersKeepJoinOrder(t *testing.T) {
	t.Parallel()

	slot := time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC)
	game := persistence.GameRef{Kind: persistence.GameKindDefault, ID: "valorant"}
	entries := []persistence.TimetableEntry{{ID: "id-2", UserID: "carol", Slot: slot, Game: game}}
	parties := []persistence.Party{{ID: "id-1", Members: []string{"zoe", "mia", "adam"}, Slot: slot, Game: game}}

	samples := collectSamples(entries, parties)

	want := []string{"zoe", "mia", "adam", "carol"}
	if len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(samples))
	}
	for i, userID := range want {
		if samples[i].userID != userID {
			t.Fatalf("sample %d = %s, want %s (%+v)", i, samples[i].userID, userID, samples)
		}
	}
}
