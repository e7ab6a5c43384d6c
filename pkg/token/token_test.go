package token

import "testing"

func TestVerifyEqual(t *testing.T) {
	tests := []struct {
		name      string
		presented string
		stored    string
		want      bool
	}{
		{"equal", "abc123", "abc123", true},
		{"different", "abc123", "abc124", false},
		{"different length", "abc", "abc123", false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyEqual(tt.presented, tt.stored); got != tt.want {
				t.Errorf("VerifyEqual(%q, %q) = %v, want %v", tt.presented, tt.stored, got, tt.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("token-a")
	b := Fingerprint("token-b")

	if len(a) != 16 {
		t.Errorf("Fingerprint length = %d, want 16", len(a))
	}
	if a == b {
		t.Error("distinct tokens should have distinct fingerprints")
	}
	if a != Fingerprint("token-a") {
		t.Error("Fingerprint should be deterministic")
	}
}
