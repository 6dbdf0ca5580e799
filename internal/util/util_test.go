package util

import (
	"strings"
	"testing"
	"time"
)

func TestParseEnvHelpers(t *testing.T) {
	t.Setenv("VX_BOOL", "yes")
	t.Setenv("VX_INT", "8")
	t.Setenv("VX_BAD_INT", "-2")
	t.Setenv("VX_DUR", "45s")
	t.Setenv("VX_STR", "  value ")

	if !ParseBoolEnv("VX_BOOL", false) {
		t.Error("expected true")
	}
	if got := ParseIntEnv("VX_INT", 1); got != 8 {
		t.Errorf("expected 8, got %d", got)
	}
	if got := ParseIntEnv("VX_BAD_INT", 4); got != 4 {
		t.Errorf("expected default 4, got %d", got)
	}
	if got := ParseDurationEnv("VX_DUR", time.Second); got != 45*time.Second {
		t.Errorf("expected 45s, got %v", got)
	}
	if got := GetenvDefault("VX_STR", "x"); got != "value" {
		t.Errorf("expected trimmed value, got %q", got)
	}
	if got := GetenvDefault("VX_UNSET", "x"); got != "x" {
		t.Errorf("expected default, got %q", got)
	}
}

func TestNewUUID(t *testing.T) {
	a, b := NewUUID(), NewUUID()
	if a == b || !IsUUID(a) || !IsUUID(b) {
		t.Errorf("expected two distinct valid uuids, got %q %q", a, b)
	}
	if IsUUID("not-a-uuid") {
		t.Error("expected invalid uuid to be rejected")
	}
}

func TestGenerateParticipantID(t *testing.T) {
	id := GenerateParticipantID("VX")
	if !strings.HasPrefix(id, "VX-") || len(id) != len("VX-XXXX-XXXX") {
		t.Fatalf("unexpected participant id %q", id)
	}
	for _, c := range strings.ReplaceAll(strings.TrimPrefix(id, "VX"), "-", "") {
		if !strings.ContainsRune(participantIDAlphabet, c) {
			t.Errorf("unexpected character %q in %q", c, id)
		}
	}
}
