package stellar

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

const testPassphrase = "Test SDF Network ; September 2015"

func mustAccountAddress(t *testing.T, pub ed25519.PublicKey) string {
	t.Helper()
	addr, err := strkey.Encode(strkey.VersionByteAccountID, pub)
	if err != nil {
		t.Fatalf("encode account address: %v", err)
	}
	return addr
}

func mustContractAddress(t *testing.T, id [32]byte) string {
	t.Helper()
	addr, err := strkey.Encode(strkey.VersionByteContract, id[:])
	if err != nil {
		t.Fatalf("encode contract address: %v", err)
	}
	return addr
}

func scAddressAccount(pub ed25519.PublicKey) xdr.ScAddress {
	var raw xdr.Uint256
	copy(raw[:], pub)
	accID := xdr.AccountId(xdr.PublicKey{Type: xdr.PublicKeyTypePublicKeyTypeEd25519, Ed25519: &raw})
	return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &accID}
}

func scAddressContract(id [32]byte) xdr.ScAddress {
	h := xdr.Hash(id)
	return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &h}
}

func scValAddress(addr xdr.ScAddress) xdr.ScVal {
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &addr}
}

func scValI128(v int64) xdr.ScVal {
	i := &xdr.Int128Parts{Hi: 0, Lo: xdr.Uint64(v)}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: i}
}

func scValSym(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

func scValBytes(b []byte) xdr.ScVal {
	bs := xdr.ScBytes(b)
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &bs}
}

func sigMap(pub, sig []byte) xdr.ScVal {
	m := xdr.ScMap{
		{Key: scValSym("public_key"), Val: scValBytes(pub)},
		{Key: scValSym("signature"), Val: scValBytes(sig)},
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &m}
}

func buildTransferEntry(t *testing.T, contractID [32]byte, from, to xdr.ScAddress, amount int64, nonce int64, expLedger uint32) xdr.SorobanAuthorizationEntry {
	t.Helper()
	call := &xdr.InvokeContractArgs{
		ContractAddress: scAddressContract(contractID),
		FunctionName:    "transfer",
		Args:            []xdr.ScVal{scValAddress(from), scValAddress(to), scValI128(amount)},
	}
	invocation := xdr.SorobanAuthorizedInvocation{
		Function: xdr.SorobanAuthorizedFunction{
			Type:       xdr.SorobanAuthorizedFunctionTypeSorobanAuthorizedFunctionTypeContractFn,
			ContractFn: call,
		},
	}
	creds := xdr.SorobanCredentials{
		Type: xdr.SorobanCredentialsTypeSorobanCredentialsAddress,
		Address: &xdr.SorobanAddressCredentials{
			Address:                   from,
			Nonce:                     xdr.Int64(nonce),
			SignatureExpirationLedger: xdr.Uint32(expLedger),
			Signature:                 xdr.ScVal{Type: xdr.ScValTypeScvVoid},
		},
	}
	return xdr.SorobanAuthorizationEntry{Credentials: creds, RootInvocation: invocation}
}

func signEntry(t *testing.T, entry xdr.SorobanAuthorizationEntry, priv ed25519.PrivateKey) xdr.SorobanAuthorizationEntry {
	t.Helper()
	hash, err := signaturePreimageHash(testPassphrase, entry)
	if err != nil {
		t.Fatalf("signaturePreimageHash: %v", err)
	}
	sig := ed25519.Sign(priv, hash[:])
	entry.Credentials.Address.Signature = sigMap([]byte(priv.Public().(ed25519.PublicKey)), sig)
	return entry
}

func TestDecodeTransferInvocation_Success(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	var contractID [32]byte
	contractID[0] = 7
	payerAddr := scAddressAccount(pub)
	payTo := scAddressAccount(pub)
	entry := buildTransferEntry(t, contractID, payerAddr, payTo, 1000, 1, 100)

	transfer, err := decodeTransferInvocation(entry)
	if err != nil {
		t.Fatalf("decodeTransferInvocation: %v", err)
	}
	if transfer.Amount != 1000 {
		t.Errorf("amount = %d, want 1000", transfer.Amount)
	}
	wantContract := mustContractAddress(t, contractID)
	if transfer.ContractID != wantContract {
		t.Errorf("contract = %s, want %s", transfer.ContractID, wantContract)
	}
}

func TestDecodeTransferInvocation_RejectsSubInvocations(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	var contractID [32]byte
	entry := buildTransferEntry(t, contractID, scAddressAccount(pub), scAddressAccount(pub), 1, 1, 100)
	entry.RootInvocation.SubInvocations = []xdr.SorobanAuthorizedInvocation{{}}

	if _, err := decodeTransferInvocation(entry); err == nil {
		t.Fatal("expected error for sub-invocations")
	}
}

func TestDecodeTransferInvocation_RejectsWrongFunction(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	var contractID [32]byte
	entry := buildTransferEntry(t, contractID, scAddressAccount(pub), scAddressAccount(pub), 1, 1, 100)
	entry.RootInvocation.Function.ContractFn.FunctionName = "approve"

	if _, err := decodeTransferInvocation(entry); err == nil {
		t.Fatal("expected error for wrong function name")
	}
}

func TestVerifyCredentialsSignature_SingleSigner(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var contractID [32]byte
	entry := buildTransferEntry(t, contractID, scAddressAccount(pub), scAddressAccount(pub), 1, 1, 100)
	entry = signEntry(t, entry, priv)

	hash, err := signaturePreimageHash(testPassphrase, entry)
	if err != nil {
		t.Fatalf("signaturePreimageHash: %v", err)
	}
	addr := mustAccountAddress(t, pub)
	valid, err := verifyCredentialsSignature(entry, hash, addr)
	if err != nil {
		t.Fatalf("verifyCredentialsSignature: %v", err)
	}
	if !valid {
		t.Fatal("expected signature to be valid")
	}
}

func TestVerifyCredentialsSignature_MultiSigSorted(t *testing.T) {
	pub1, priv1, _ := ed25519.GenerateKey(nil)
	pub2, priv2, _ := ed25519.GenerateKey(nil)
	var contractID [32]byte
	entry := buildTransferEntry(t, contractID, scAddressAccount(pub1), scAddressAccount(pub1), 1, 1, 100)

	hash, err := signaturePreimageHash(testPassphrase, entry)
	if err != nil {
		t.Fatalf("signaturePreimageHash: %v", err)
	}
	sig1 := ed25519.Sign(priv1, hash[:])
	sig2 := ed25519.Sign(priv2, hash[:])
	entries := []xdr.ScVal{sigMap(pub1, sig1), sigMap(pub2, sig2)}
	if bytes.Compare(pub1, pub2) > 0 {
		entries[0], entries[1] = entries[1], entries[0]
	}
	vec := xdr.ScVec(entries)
	entry.Credentials.Address.Signature = xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &vec}

	addr := mustAccountAddress(t, pub1)
	valid, err := verifyCredentialsSignature(entry, hash, addr)
	if err != nil {
		t.Fatalf("verifyCredentialsSignature: %v", err)
	}
	if !valid {
		t.Fatal("expected multi-sig signature to be valid")
	}
}

func TestVerifyCredentialsSignature_RejectsEmptyVector(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	var contractID [32]byte
	entry := buildTransferEntry(t, contractID, scAddressAccount(pub), scAddressAccount(pub), 1, 1, 100)
	empty := xdr.ScVec{}
	entry.Credentials.Address.Signature = xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &empty}

	var zero [32]byte
	addr := mustAccountAddress(t, pub)
	if _, err := verifyCredentialsSignature(entry, zero, addr); err == nil {
		t.Fatal("expected error for empty signature vector")
	}
}

func TestVerifyCredentialsSignature_RejectsUnsorted(t *testing.T) {
	pub1, priv1, _ := ed25519.GenerateKey(nil)
	pub2, priv2, _ := ed25519.GenerateKey(nil)
	var contractID [32]byte
	entry := buildTransferEntry(t, contractID, scAddressAccount(pub1), scAddressAccount(pub1), 1, 1, 100)

	hash, err := signaturePreimageHash(testPassphrase, entry)
	if err != nil {
		t.Fatalf("signaturePreimageHash: %v", err)
	}
	sig1 := ed25519.Sign(priv1, hash[:])
	sig2 := ed25519.Sign(priv2, hash[:])
	entries := []xdr.ScVal{sigMap(pub1, sig1), sigMap(pub2, sig2)}
	if bytes.Compare(pub1, pub2) < 0 {
		entries[0], entries[1] = entries[1], entries[0]
	}
	vec := xdr.ScVec(entries)
	entry.Credentials.Address.Signature = xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &vec}

	addr := mustAccountAddress(t, pub1)
	if _, err := verifyCredentialsSignature(entry, hash, addr); err == nil {
		t.Fatal("expected error for unsorted multi-sig vector")
	}
}

func TestVerifyCredentialsSignature_NoMatchingEntry(t *testing.T) {
	pub1, _, _ := ed25519.GenerateKey(nil)
	pub2, priv2, _ := ed25519.GenerateKey(nil)
	var contractID [32]byte
	entry := buildTransferEntry(t, contractID, scAddressAccount(pub1), scAddressAccount(pub1), 1, 1, 100)

	hash, err := signaturePreimageHash(testPassphrase, entry)
	if err != nil {
		t.Fatalf("signaturePreimageHash: %v", err)
	}
	sig2 := ed25519.Sign(priv2, hash[:])
	entry.Credentials.Address.Signature = sigMap(pub2, sig2)

	addr := mustAccountAddress(t, pub1)
	if _, err := verifyCredentialsSignature(entry, hash, addr); err == nil {
		t.Fatal("expected error when no signature entry matches expected address")
	}
}

func TestSignaturePreimageHash_Deterministic(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	var contractID [32]byte
	entry := buildTransferEntry(t, contractID, scAddressAccount(pub), scAddressAccount(pub), 1, 1, 100)

	h1, err := signaturePreimageHash(testPassphrase, entry)
	if err != nil {
		t.Fatalf("signaturePreimageHash: %v", err)
	}
	h2, err := signaturePreimageHash(testPassphrase, entry)
	if err != nil {
		t.Fatalf("signaturePreimageHash: %v", err)
	}
	if h1 != h2 {
		t.Fatal("expected deterministic preimage hash")
	}

	h3, err := signaturePreimageHash("different passphrase", entry)
	if err != nil {
		t.Fatalf("signaturePreimageHash: %v", err)
	}
	if h1 == h3 {
		t.Fatal("expected different passphrase to change the hash")
	}
}

func TestDecodeAuthEntry_RoundTrip(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var contractID [32]byte
	entry := buildTransferEntry(t, contractID, scAddressAccount(pub), scAddressAccount(pub), 500, 2, 200)
	entry = signEntry(t, entry, priv)

	raw, err := xdrMarshal(entry)
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	b64 := base64.StdEncoding.EncodeToString(raw)

	decoded, err := decodeAuthEntry(b64)
	if err != nil {
		t.Fatalf("decodeAuthEntry: %v", err)
	}
	transfer, err := decodeTransferInvocation(decoded)
	if err != nil {
		t.Fatalf("decodeTransferInvocation: %v", err)
	}
	if transfer.Amount != 500 {
		t.Errorf("amount = %d, want 500", transfer.Amount)
	}
}

func xdrMarshal(entry xdr.SorobanAuthorizationEntry) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, entry); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func TestDecodeCredentials_RejectsSourceAccountCredentials(t *testing.T) {
	entry := xdr.SorobanAuthorizationEntry{
		Credentials: xdr.SorobanCredentials{Type: xdr.SorobanCredentialsTypeSorobanCredentialsSourceAccount},
	}
	if _, err := decodeCredentials(entry); err == nil {
		t.Fatal("expected error for source-account credentials")
	}
}

func TestScAddressToStrkey_Contract(t *testing.T) {
	var id [32]byte
	copy(id[:], sha256Sum([]byte("contract")))
	addr := scAddressContract(id)
	got, err := scAddressToStrkey(addr)
	if err != nil {
		t.Fatalf("scAddressToStrkey: %v", err)
	}
	want := mustContractAddress(t, id)
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func sha256Sum(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}
