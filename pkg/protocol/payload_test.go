package protocol

import "testing"

func TestPaymentPayload_InnerVariantFamily(t *testing.T) {
	evmAddr, _ := ParseAddress(FamilyEVM, "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")
	amt, _ := ParseAmount("1000000")

	p := PaymentPayload{
		X402Version: 1,
		Scheme:      SchemeExact,
		Network:     NetworkBase,
		Evm: &EvmExactPayload{
			From:        evmAddr,
			To:          evmAddr,
			Value:       amt,
			ValidAfter:  0,
			ValidBefore: 1893456000,
			Nonce:       "0x00",
			Signature:   "0x00",
		},
	}
	fam, err := p.InnerVariantFamily()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fam != FamilyEVM {
		t.Errorf("got %q, want %q", fam, FamilyEVM)
	}
}

func TestPaymentPayload_NoVariantSet(t *testing.T) {
	p := PaymentPayload{X402Version: 1, Scheme: SchemeExact, Network: NetworkBase}
	if _, err := p.InnerVariantFamily(); err == nil {
		t.Error("expected error when no inner variant is set")
	}
}

func TestPaymentPayload_MultipleVariantsSet(t *testing.T) {
	p := PaymentPayload{
		Evm:    &EvmExactPayload{},
		Solana: &SolanaExactPayload{},
	}
	if _, err := p.InnerVariantFamily(); err == nil {
		t.Error("expected error when multiple inner variants are set")
	}
}
