package cycle

import (
	"testing"
	"time"
)

func TestParseResetTime(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    ResetTime
		wantErr bool
	}{
		{in: "06:00", want: ResetTime{Hour: 6}},
		{in: "6:30", want: ResetTime{Hour: 6, Minute: 30}},
		{in: "23:59", want: ResetTime{Hour: 23, Minute: 59}},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "1200", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseResetTime(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseResetTime(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseResetTime(%q) returned error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseResetTime(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if MustParseResetTime("07:05").String() != "07:05" {
		t.Fatalf("expected String to render HH:MM")
	}
}

func TestCalculator_Start(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(time.UTC)
	reset := MustParseResetTime("06:00")

	t.Run("before reset falls into previous day", func(t *testing.T) {
		asOf := time.Date(2024, 1, 15, 5, 59, 59, 0, time.UTC)
		want := time.Date(2024, 1, 14, 6, 0, 0, 0, time.UTC)
		if got := calc.Start(reset, false, asOf); !got.Equal(want) {
			t.Fatalf("Start = %v, want %v", got, want)
		}
	})

	t.Run("boundary instant is inclusive", func(t *testing.T) {
		asOf := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
		if got := calc.Start(reset, false, asOf); !got.Equal(asOf) {
			t.Fatalf("Start = %v, want %v", got, asOf)
		}
	})

	t.Run("paused returns epoch", func(t *testing.T) {
		asOf := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
		if got := calc.Start(reset, true, asOf); !got.Equal(Epoch) {
			t.Fatalf("Start = %v, want epoch", got)
		}
		w := calc.Window(reset, true, asOf)
		if !w.Contains(asOf) || !w.Contains(asOf.AddDate(5, 0, 0)) {
			t.Fatalf("paused window should stay open: %+v", w)
		}
	})
}

func TestCalculator_WindowInReferenceZone(t *testing.T) {
	t.Parallel()

	seoul := time.FixedZone("KST", 9*60*60)
	calc := NewCalculator(seoul)
	reset := MustParseResetTime("06:00")

	// 2024-01-15 03:00 KST is before the local reset, so the window opened on the 14th.
	asOf := time.Date(2024, 1, 14, 18, 0, 0, 0, time.UTC)
	w := calc.Window(reset, false, asOf)
	wantStart := time.Date(2024, 1, 14, 6, 0, 0, 0, seoul)
	if !w.Start.Equal(wantStart) {
		t.Fatalf("window start = %v, want %v", w.Start, wantStart)
	}
	if !w.End.Equal(wantStart.Add(24 * time.Hour)) {
		t.Fatalf("window end = %v", w.End)
	}
	if w.Contains(w.End) {
		t.Fatalf("window end must be exclusive")
	}
	if !w.Contains(w.Start) {
		t.Fatalf("window start must be inclusive")
	}
}

func TestCalculator_Trailing(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(time.UTC)
	reset := MustParseResetTime("06:00")
	asOf := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	w := calc.Trailing(reset, asOf, 7)
	if want := time.Date(2024, 1, 9, 6, 0, 0, 0, time.UTC); !w.Start.Equal(want) {
		t.Fatalf("trailing start = %v, want %v", w.Start, want)
	}
	if want := time.Date(2024, 1, 16, 6, 0, 0, 0, time.UTC); !w.End.Equal(want) {
		t.Fatalf("trailing end = %v, want %v", w.End, want)
	}
}

func TestCalculator_ClockHelpers(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(time.FixedZone("KST", 9*60*60))
	ts := time.Date(2024, 1, 15, 11, 30, 0, 0, time.UTC) // 20:30 KST, Monday

	if got := calc.MinuteOfDay(ts); got != 20*60+30 {
		t.Fatalf("MinuteOfDay = %d", got)
	}
	if got := calc.Hour(ts); got != 20 {
		t.Fatalf("Hour = %d", got)
	}
	if got := calc.Weekday(ts); got != time.Monday {
		t.Fatalf("Weekday = %v", got)
	}
}
