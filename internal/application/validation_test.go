package application

import (
	"errors"
	"testing"
	"time"
)

func TestValidateParams(t *testing.T) {
	t.Parallel()

	t.Run("valid params pass", func(t *testing.T) {
		err := validateParams(CreatePartyParams{
			ServerID: "srv", UserID: "u1", Slot: time.Now(), GameKind: "default", GameID: "valo", Capacity: 3,
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("field errors are keyed in snake case", func(t *testing.T) {
		err := validateParams(CreatePartyParams{ServerID: "srv", GameKind: "board", Capacity: 0})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		for _, field := range []string{"user_id", "slot", "game_kind", "game_id", "capacity"} {
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Fatalf("expected error for %s, got %v", field, vErr.FieldErrors)
			}
		}
		if got := vErr.FieldErrors["capacity"]; got != "capacity must be at least 1" {
			t.Fatalf("unexpected capacity message %q", got)
		}
	})

	t.Run("reset time uses HH:MM", func(t *testing.T) {
		bad := "25:00"
		err := validateParams(UpdateServerSettingsParams{ServerID: "srv", UserID: "u1", ResetTime: &bad})
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["reset_time"] != "reset time must use HH:MM" {
			t.Fatalf("expected reset_time error, got %v", err)
		}

		good := "05:30"
		if err := validateParams(UpdateServerSettingsParams{ServerID: "srv", UserID: "u1", ResetTime: &good}); err != nil {
			t.Fatalf("expected valid reset time, got %v", err)
		}
	})
}

func TestSnakeCase(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"ServerID":     "server_id",
		"GameKind":     "game_kind",
		"TargetUserID": "target_user_id",
		"Slot":         "slot",
		"HTTPPort":     "http_port",
	}
	for in, want := range cases {
		if got := snakeCase(in); got != want {
			t.Fatalf("snakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
