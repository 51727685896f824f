package core

import "testing"

func TestNewJobID(t *testing.T) {
	id := NewJobID()
	if id == "" {
		t.Fatal("NewJobID() returned empty string")
	}
	if !IsValidJobID(id) {
		t.Errorf("NewJobID() = %q, not a valid UUID", id)
	}
	if id[14] != '7' {
		t.Errorf("NewJobID() = %q, want version 7", id)
	}
}

func TestNewJobIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewJobID()
		if seen[id] {
			t.Fatalf("duplicate job id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestIsValidJobID(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"01912345-6789-7abc-8def-0123456789ab", true},
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"", false},
		{"not-a-uuid", false},
		{"01912345-6789-7abc-8def", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsValidJobID(tt.input); got != tt.want {
				t.Errorf("IsValidJobID(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
