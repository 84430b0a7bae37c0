package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("TEST_BOOL", tt.value)
		if got := ParseBoolEnv("TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", "12")
	if got := ParseIntEnv("TEST_INT", 3); got != 12 {
		t.Errorf("expected 12, got %d", got)
	}
	t.Setenv("TEST_INT", "-1")
	if got := ParseIntEnv("TEST_INT", 3); got != 3 {
		t.Errorf("expected default for negative, got %d", got)
	}
	t.Setenv("TEST_INT", "abc")
	if got := ParseIntEnv("TEST_INT", 3); got != 3 {
		t.Errorf("expected default for garbage, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR", "30")
	if got := ParseDurationEnv("TEST_DUR", time.Second); got != 30*time.Second {
		t.Errorf("expected bare integer as seconds, got %v", got)
	}
	t.Setenv("TEST_DUR", "24h")
	if got := ParseDurationEnv("TEST_DUR", time.Second); got != 24*time.Hour {
		t.Errorf("expected 24h, got %v", got)
	}
	t.Setenv("TEST_DUR", "soon")
	if got := ParseDurationEnv("TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("expected default, got %v", got)
	}
}
