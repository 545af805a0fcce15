package natskv

import (
	"testing"
	"time"
)

func TestEnvelope(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name    string
		expires time.Time
		at      time.Time
		live    bool
	}{
		{"no expiry", time.Time{}, now.Add(24 * time.Hour), true},
		{"before expiry", now.Add(time.Minute), now, true},
		{"at expiry", now.Add(time.Minute), now.Add(time.Minute), false},
		{"after expiry", now.Add(time.Minute), now.Add(time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, live := unseal(seal([]byte(`{"v":1}`), tt.expires), tt.at)
			if live != tt.live {
				t.Fatalf("live = %v, want %v", live, tt.live)
			}
			if live && string(data) != `{"v":1}` {
				t.Fatalf("data = %q", data)
			}
		})
	}

	if _, live := unseal([]byte("short"), now); live {
		t.Error("a value without a header must read as expired")
	}
}

func TestEncodeKey_KVSafe(t *testing.T) {
	for _, key := range []string{"knowledge/plans/v1", "state/tasks/a b", "cache/ü"} {
		enc := encodeKey(key)
		for _, r := range enc {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
				t.Fatalf("encodeKey(%q) = %q contains %q", key, enc, r)
			}
		}
	}
}
