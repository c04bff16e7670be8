package nextrun

import (
	"errors"
	"testing"
	"time"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tzdata for %s not available: %v", name, err)
	}
	return loc
}

func TestNextRunUTCAfterConvertsZone(t *testing.T) {
	t.Parallel()
	ny := mustLoad(t, "America/New_York")

	// 2026-01-15 08:00 in New York (EST, UTC-5).
	seed := time.Date(2026, 1, 15, 8, 0, 0, 0, ny)
	got, err := NextRunUTCAfter("0 9 * * *", "America/New_York", seed)
	if err != nil {
		t.Fatalf("NextRunUTCAfter error: %v", err)
	}
	want := time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
	if got.Location() != time.UTC {
		t.Fatalf("location = %s, want UTC", got.Location())
	}
}

func TestNextRunUTCAfterIsStrictlyAfter(t *testing.T) {
	t.Parallel()
	seed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	got, err := NextRunUTCAfter("0 9 * * *", "UTC", seed)
	if err != nil {
		t.Fatalf("NextRunUTCAfter error: %v", err)
	}
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s (must never return the seed instant)", got, want)
	}
}

func TestNextRunUTCFallsBackToUTC(t *testing.T) {
	t.Parallel()
	seed := time.Date(2026, 5, 10, 12, 3, 0, 0, time.UTC)
	for _, tz := range []string{"", "Not/AZone", "  "} {
		got, err := NextRunUTCAfter("*/5 * * * *", tz, seed)
		if err != nil {
			t.Fatalf("tz %q: unexpected error: %v", tz, err)
		}
		want := time.Date(2026, 5, 10, 12, 5, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Fatalf("tz %q: got %s, want %s", tz, got, want)
		}
	}
}

func TestNextRunUTCSyntax(t *testing.T) {
	t.Parallel()
	seed := time.Date(2026, 6, 1, 8, 59, 30, 0, time.UTC) // Monday
	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{name: "step", expr: "*/5 * * * *", want: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
		{name: "range", expr: "0 9-10 * * *", want: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
		{name: "list", expr: "0,30 10 * * *", want: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)},
		{name: "day name", expr: "0 9 * * WED", want: time.Date(2026, 6, 3, 9, 0, 0, 0, time.UTC)},
		{name: "month name", expr: "0 0 1 JUL *", want: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)},
		{name: "descriptor", expr: "@daily", want: time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NextRunUTCAfter(tt.expr, "UTC", seed)
			if err != nil {
				t.Fatalf("NextRunUTCAfter(%q) error: %v", tt.expr, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextRunUTCAfter(%q) = %s, want %s", tt.expr, got, tt.want)
			}
		})
	}
}

func TestNextRunUTCMonotonic(t *testing.T) {
	t.Parallel()
	pairs := []struct{ expr, tz string }{
		{"*/5 * * * *", "UTC"},
		{"0 9 * * MON-FRI", "Asia/Jakarta"},
		{"30 2 * * *", "Asia/Kolkata"}, // half-hour offset
		{"0 0 1 * *", "Pacific/Auckland"},
	}
	for _, p := range pairs {
		cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 200; i++ {
			next, err := NextRunUTCAfter(p.expr, p.tz, cur)
			if err != nil {
				t.Fatalf("%s/%s step %d: %v", p.expr, p.tz, i, err)
			}
			if !next.After(cur) {
				t.Fatalf("%s/%s step %d: %s is not after %s", p.expr, p.tz, i, next, cur)
			}
			cur = next
		}
	}
}

func TestNextRunUTCFromNowIsFuture(t *testing.T) {
	t.Parallel()
	before := time.Now()
	got, err := NextRunUTC("* * * * *", "Asia/Tokyo")
	if err != nil {
		t.Fatalf("NextRunUTC error: %v", err)
	}
	if !got.After(before) {
		t.Fatalf("got %s, want after %s", got, before)
	}
	if got.Location() != time.UTC {
		t.Fatalf("location = %s, want UTC", got.Location())
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate("0 9 * * *", "Europe/London"); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
	if err := Validate("0 9 * * *", ""); err != nil {
		t.Fatalf("empty timezone rejected: %v", err)
	}
	if err := Validate("0 9 * *", "UTC"); err == nil {
		t.Fatal("expected error for 4-field expression")
	}
	if err := Validate("0 9 * * *", "Mars/Olympus"); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
	if err := Validate("0 0 30 2 *", "UTC"); !errors.Is(err, ErrNoNextRun) {
		t.Fatalf("err = %v, want ErrNoNextRun", err)
	}
}
