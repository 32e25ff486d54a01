package sanitize

import (
	"errors"
	"strings"
	"testing"
)

func TestString_SizeLimit(t *testing.T) {
	limit := DefaultMaxInputSize

	tests := []struct {
		name      string
		inputSize int
		wantErr   bool
	}{
		{"Under Limit", limit - 1, false},
		{"Exact Limit", limit, false},
		{"Over Limit", limit + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := strings.Repeat("a", tt.inputSize)
			_, err := String(input)
			if tt.wantErr {
				if !errors.Is(err, ErrInputTooLarge) {
					t.Errorf("String() expected ErrInputTooLarge for size %d, got %v", tt.inputSize, err)
				}
			} else if err != nil {
				t.Errorf("String() unexpected error: %v", err)
			}
		})
	}
}

func TestString_ControlChars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Normal Text", "Hello World", "Hello World"},
		{"Safe Controls", "Line1\nLine2\tTabbed", "Line1\nLine2\tTabbed"},
		{"ANSI Code", "\x1b[31mRed\x1b[0m", "[31mRed[0m"},
		{"Null Byte", "Null\x00Byte", "NullByte"},
		{"Bell", "Ding\x07", "Ding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := String(tt.input)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestString_InvalidUTF8(t *testing.T) {
	if _, err := String("bad \xff byte"); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("Expected ErrInvalidUTF8, got %v", err)
	}
}

func TestString_EnvOverride(t *testing.T) {
	t.Setenv(EnvMaxInputSize, "10")

	if _, err := String("12345678901"); err == nil {
		t.Error("Expected error for input > 10 when env var is set")
	}
	if _, err := String("12345"); err != nil {
		t.Error("Unexpected error for valid input")
	}
}

func TestInputs_Nested(t *testing.T) {
	got, err := Inputs(map[string]any{
		"log":   "disk\x07 full",
		"limit": 3.0,
		"tags":  []any{"a\x00", "b"},
		"meta":  map[string]any{"host": "web\x1b1"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got["log"] != "disk full" || got["limit"] != 3.0 {
		t.Errorf("Unexpected values: %v", got)
	}
	if tags := got["tags"].([]any); tags[0] != "a" {
		t.Errorf("Nested slice not cleaned: %v", tags)
	}
	if meta := got["meta"].(map[string]any); meta["host"] != "web1" {
		t.Errorf("Nested map not cleaned: %v", meta)
	}
}

func TestInputs_EmptyName(t *testing.T) {
	if _, err := Inputs(map[string]any{"": "x"}); err == nil {
		t.Error("Expected error for empty input name")
	}
}
