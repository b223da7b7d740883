// ABOUTME: Tests for invite code generation and checksum validation

package invite

import (
	"regexp"
	"testing"
)

func TestGenerate_RoundTrip(t *testing.T) {
	format := regexp.MustCompile(`^FRPT-[A-HJ-KM-NP-Z2-9]{4}-[A-HJ-KM-NP-Z2-9]{4}$`)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if !format.MatchString(code) {
			t.Fatalf("Generate() = %q, malformed", code)
		}
		if !Validate(code) {
			t.Fatalf("Validate(%q) = false for a generated code", code)
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Errorf("only %d distinct codes out of 200", len(seen))
	}
}

func TestValidate_KnownVectors(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		// All-A body sums to zero, so its check character is A.
		{"FRPT-AAAA-AAAA", true},
		{"FRPT-BBBB-BBB7", true},
		// Wrong check character.
		{"FRPT-AAAA-AAAB", false},
		{"FRPT-BBBB-BBB8", false},
		// Single-character slip in the body.
		{"FRPT-AAAB-AAAA", false},
		// Format violations.
		{"FRPT-AAAA-AAA", false},
		{"FRPT-AAAA-AAAAA", false},
		{"frpt-aaaa-aaaa", false},
		{"XXXX-AAAA-AAAA", false},
		{"FRPTAAAAAAAA", false},
		{"", false},
		// I passes the coarse format check but is outside the charset.
		{"FRPT-IIII-IIIA", false},
		// 0 and 1 are excluded outright.
		{"FRPT-A0AA-AAAA", false},
		{"FRPT-A1AA-AAAA", false},
	}

	for _, tt := range tests {
		if got := Validate(tt.code); got != tt.want {
			t.Errorf("Validate(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestChecksum_RejectsOutOfCharset(t *testing.T) {
	if _, ok := checksum("AAAAAIA"); ok {
		t.Error("checksum should reject characters outside the charset")
	}
	if _, ok := checksum("AAAAAAA"); !ok {
		t.Error("checksum should accept a clean body")
	}
}
