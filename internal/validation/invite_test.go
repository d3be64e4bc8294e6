package validation

import (
	"strings"
	"testing"
)

func TestGenerateInviteCode(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		code, err := GenerateInviteCode()
		if err != nil {
			t.Fatalf("GenerateInviteCode error: %v", err)
		}
		if !IsValidInviteCode(code) {
			t.Fatalf("generated code %q is not valid", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code generated: %q", code)
		}
		seen[code] = true
	}
}

func TestIsValidInviteCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"valid", "ABCDEF2345", true},
		{"too short", "ABC", false},
		{"too long", "ABCDEF23456", false},
		{"lowercase", "abcdef2345", false},
		{"ambiguous zero", "ABCDEF2340", false},
		{"ambiguous letter O", "ABCDEF234O", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidInviteCode(tt.code); got != tt.want {
				t.Fatalf("IsValidInviteCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestNormalizeInviteCode(t *testing.T) {
	code := NormalizeInviteCode("  abcdef2345 ")
	if code != "ABCDEF2345" {
		t.Fatalf("NormalizeInviteCode = %q, want ABCDEF2345", code)
	}
	if !IsValidInviteCode(code) {
		t.Fatalf("normalized code %q must be valid", code)
	}
	if strings.ContainsAny(code, " \t") {
		t.Fatalf("normalized code contains whitespace: %q", code)
	}
}
