package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"zero", "0", false},
		{"small", "1", false},
		{"large", "1000000000000000000000000", false},
		{"leading zero", "0123", true},
		{"negative", "-5", true},
		{"decimal point", "1.5", true},
		{"empty", "", true},
		{"non-numeric", "abc", true},
	}
	for _, tt := range tests {
		_, err := ParseAmount(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: got err=%v, wantErr=%v", tt.name, err, tt.wantErr)
		}
	}
}

func TestTokenAmount_GreaterThanOrEqual(t *testing.T) {
	a, _ := ParseAmount("100")
	b, _ := ParseAmount("50")
	if !a.GreaterThanOrEqual(b) {
		t.Error("expected 100 >= 50")
	}
	if b.GreaterThanOrEqual(a) {
		t.Error("expected 50 < 100")
	}
	if !a.GreaterThanOrEqual(a) {
		t.Error("expected equal amounts to satisfy >=")
	}
}

func TestTokenAmount_JSONRoundTrip(t *testing.T) {
	amt, err := ParseAmount("123456789012345678901234567890")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := json.Marshal(amt)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	want := `"123456789012345678901234567890"`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
	var back TokenAmount
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if back.Cmp(amt) != 0 {
		t.Errorf("round trip mismatch: %s != %s", back, amt)
	}
}

func TestTokenAmount_IsZero(t *testing.T) {
	if !ZeroAmount().IsZero() {
		t.Error("expected zero amount to be zero")
	}
	nonZero, _ := ParseAmount("1")
	if nonZero.IsZero() {
		t.Error("expected 1 to be non-zero")
	}
}
