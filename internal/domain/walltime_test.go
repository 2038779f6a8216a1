package domain

import (
	"testing"
	"time"
)

func TestParseWalltime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"00:00:01", time.Second},
		{"01:00:00", time.Hour},
		{"10:30", 10*time.Minute + 30*time.Second},
		{"45", 45 * time.Second},
		{"72:00:00", 72 * time.Hour},
		{" 00:01:00 ", time.Minute},
	}
	for _, c := range cases {
		got, err := ParseWalltime(c.in)
		if err != nil {
			t.Fatalf("ParseWalltime(%q) failed: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseWalltime(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseWalltimeInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1:2:3:4", "-5", "01:-1:00", "1h30m"} {
		if _, err := ParseWalltime(in); err == nil {
			t.Fatalf("ParseWalltime(%q) should fail", in)
		}
	}
}

func TestFormatWalltime(t *testing.T) {
	if got := FormatWalltime(time.Hour + 2*time.Minute + 3*time.Second); got != "01:02:03" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := FormatWalltime(-time.Second); got != "00:00:00" {
		t.Fatalf("negative duration should clamp to zero, got %s", got)
	}
}

func TestWalltimeRoundTrip(t *testing.T) {
	want := 3*time.Hour + 25*time.Minute + 9*time.Second
	got, err := ParseWalltime(FormatWalltime(want))
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %v, want %v", got, want)
	}
}
