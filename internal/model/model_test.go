package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusQueued, StatusInProgress, true},
		{StatusQueued, StatusDone, true},
		{StatusQueued, StatusFailed, true},
		{StatusInProgress, StatusDone, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusQueued, false},
		{StatusDone, StatusFailed, false},
		{StatusDone, StatusInProgress, false},
		{StatusFailed, StatusDone, false},
		{StatusFailed, StatusQueued, false},
		{"bogus", StatusDone, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{StatusDone, StatusFailed} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = false, want true", s)
		}
	}
	for _, s := range []string{StatusQueued, StatusInProgress, ""} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = true, want false", s)
		}
	}
}

func TestValidKind(t *testing.T) {
	if !ValidKind(KindAnalyze) || !ValidKind(KindForecast) {
		t.Error("expected analyze and forecast to be valid kinds")
	}
	if ValidKind("train") {
		t.Error("ValidKind(\"train\") = true, want false")
	}
}
