package core

import (
	"testing"
	"time"
)

func TestParseISO8601Duration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"PT1S", 1 * time.Second, false},
		{"PT30S", 30 * time.Second, false},
		{"PT5M", 5 * time.Minute, false},
		{"PT1H30M45S", 1*time.Hour + 30*time.Minute + 45*time.Second, false},
		{"PT0.5S", 500 * time.Millisecond, false},
		{"P7D", 7 * 24 * time.Hour, false},
		{"P1DT12H", 36 * time.Hour, false},

		{"", 0, true},
		{"1S", 0, true},
		{"PT", 0, true},
		{"P", 0, true},
		{"invalid", 0, true},
		{"PT0S", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseISO8601Duration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseISO8601Duration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseISO8601Duration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatISO8601Duration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "PT0S"},
		{time.Second, "PT1S"},
		{90 * time.Second, "PT1M30S"},
		{time.Hour, "PT1H"},
		{36 * time.Hour, "PT36H"},
		{1500 * time.Millisecond, "PT1.500S"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatISO8601Duration(tt.input); got != tt.want {
				t.Errorf("FormatISO8601Duration(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestISO8601DurationRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{time.Second, time.Minute, 61 * time.Minute, 60 * time.Second} {
		got, err := ParseISO8601Duration(FormatISO8601Duration(d))
		if err != nil {
			t.Fatalf("round trip %v: %v", d, err)
		}
		if got != d {
			t.Errorf("round trip %v = %v", d, got)
		}
	}
}
