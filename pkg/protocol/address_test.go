package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseAddress_EVM(t *testing.T) {
	valid := "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
	addr, err := ParseAddress(FamilyEVM, valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.String() != valid {
		t.Errorf("got %q, want %q", addr.String(), valid)
	}

	if _, err := ParseAddress(FamilyEVM, "not-an-address"); err == nil {
		t.Error("expected error for malformed evm address")
	}
	if _, err := ParseAddress(FamilyEVM, "0x123"); err == nil {
		t.Error("expected error for short evm address")
	}
}

func TestParseAddress_Solana(t *testing.T) {
	valid := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	if _, err := ParseAddress(FamilySolana, valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseAddress(FamilySolana, "not-base58!!!"); err == nil {
		t.Error("expected error for invalid base58")
	}
}

func TestParseAddress_Near(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"named mainnet", "alice.near", false},
		{"named testnet", "bob.testnet", false},
		{"implicit hex", "ff001122334455667788990011223344556677889900112233445566778899ab", false},
		{"bad suffix", "alice.eth", true},
	}
	for _, tt := range tests {
		_, err := ParseAddress(FamilyNear, tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: got err=%v, wantErr=%v", tt.name, err, tt.wantErr)
		}
	}
}

func TestParseAddress_Stellar(t *testing.T) {
	account := "GAAACAQDAQCQMBYIBEFAWDANBYHRAEISCMKBKFQXDAMRUGY4DUPB7JZX"
	contract := "CAAACAQDAQCQMBYIBEFAWDANBYHRAEISCMKBKFQXDAMRUGY4DUPB6N4O"
	if _, err := ParseAddress(FamilyStellar, account); err != nil {
		t.Fatalf("unexpected error for account strkey: %v", err)
	}
	if _, err := ParseAddress(FamilyStellar, contract); err != nil {
		t.Fatalf("unexpected error for contract strkey: %v", err)
	}
	if _, err := ParseAddress(FamilyStellar, "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); err == nil {
		t.Error("expected checksum failure for corrupted strkey")
	}
}

func TestMixedAddress_JSONRoundTrip(t *testing.T) {
	addr, err := ParseAddress(FamilyEVM, "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := json.Marshal(addr)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var back MixedAddress
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if !addr.EqualFold(back) {
		t.Errorf("round trip mismatch: %v != %v", addr, back)
	}
}

func TestMixedAddress_EqualFold(t *testing.T) {
	a, _ := ParseAddress(FamilyEVM, "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")
	b, _ := ParseAddress(FamilyEVM, "0x742D35CC6634C0532925A3B844BC9E7595F0BEB0")
	if !a.EqualFold(b) {
		t.Error("expected case-insensitive equality for evm addresses")
	}
}
