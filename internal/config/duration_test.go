package config

import (
	"testing"
	"time"
)

func TestParseDurationVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"PT5S", 5 * time.Second},
		{"PT0.5S", 500 * time.Millisecond},
		{"PT7M", 7 * time.Minute},
		{"PT1H30M", 90 * time.Minute},
		{"P1DT2H", 26 * time.Hour},
		{"pt20s", 20 * time.Second},
		{"-PT30S", -30 * time.Second},
		{"30s", 30 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"0s", 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDuration(tt.raw)
			if err != nil {
				t.Fatalf("ParseDuration(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseDuration(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDurationInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "P", "PT", "5", "PT5X", "P5M", "five seconds"} {
		if _, err := ParseDuration(raw); err == nil {
			t.Errorf("ParseDuration(%q): expected error", raw)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("", 7*time.Minute)
	if err != nil || d != 7*time.Minute {
		t.Fatalf("got (%v, %v), want (7m, nil)", d, err)
	}
	d, err = ParseDurationOrDefault("PT10S", 7*time.Minute)
	if err != nil || d != 10*time.Second {
		t.Fatalf("got (%v, %v), want (10s, nil)", d, err)
	}
}

func TestParsePositiveDuration(t *testing.T) {
	t.Parallel()
	if _, err := ParsePositiveDuration("PT0S"); err == nil {
		t.Fatal("expected error for zero duration")
	}
	if _, err := ParsePositiveDuration("-PT5S"); err == nil {
		t.Fatal("expected error for negative duration")
	}
}
