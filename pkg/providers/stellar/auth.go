package stellar

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// decodeAuthEntry base64-XDR-decodes a client-submitted
// SorobanAuthorizationEntry.
func decodeAuthEntry(b64 string) (xdr.SorobanAuthorizationEntry, error) {
	var entry xdr.SorobanAuthorizationEntry
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return entry, fmt.Errorf("decode base64: %w", err)
	}
	if err := xdr.SafeUnmarshal(raw, &entry); err != nil {
		return entry, fmt.Errorf("unmarshal xdr: %w", err)
	}
	return entry, nil
}

// transferInvocation is the decoded shape of a transfer(from, to, amount)
// root invocation on an SAC (Stellar Asset Contract).
type transferInvocation struct {
	ContractID string
	From       string
	To         string
	Amount     int64
}

// decodeTransferInvocation requires entry's root invocation to be exactly
// a contract function call named "transfer" with three arguments
// (address, address, i128) and no sub-invocations.
func decodeTransferInvocation(entry xdr.SorobanAuthorizationEntry) (transferInvocation, error) {
	var out transferInvocation
	root := entry.RootInvocation
	if len(root.SubInvocations) != 0 {
		return out, fmt.Errorf("root invocation carries sub-invocations")
	}
	fn := root.Function
	if fn.Type != xdr.SorobanAuthorizedFunctionTypeSorobanAuthorizedFunctionTypeContractFn {
		return out, fmt.Errorf("root invocation is not a contract function call")
	}
	call := fn.ContractFn
	if call == nil {
		return out, fmt.Errorf("missing contract function invocation")
	}
	if string(call.FunctionName) != "transfer" {
		return out, fmt.Errorf("unexpected function %q", call.FunctionName)
	}
	if len(call.Args) != 3 {
		return out, fmt.Errorf("expected 3 transfer arguments, got %d", len(call.Args))
	}

	contractID, err := scAddressToStrkey(call.ContractAddress)
	if err != nil {
		return out, fmt.Errorf("decode contract address: %w", err)
	}
	from, err := scValToAddress(call.Args[0])
	if err != nil {
		return out, fmt.Errorf("decode from argument: %w", err)
	}
	to, err := scValToAddress(call.Args[1])
	if err != nil {
		return out, fmt.Errorf("decode to argument: %w", err)
	}
	amount, err := scValToI128(call.Args[2])
	if err != nil {
		return out, fmt.Errorf("decode amount argument: %w", err)
	}

	out.ContractID = contractID
	out.From = from
	out.To = to
	out.Amount = amount
	return out, nil
}

func scAddressToStrkey(addr xdr.ScAddress) (string, error) {
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if addr.AccountId == nil {
			return "", fmt.Errorf("missing account id")
		}
		pk, ok := addr.AccountId.GetEd25519()
		if !ok {
			return "", fmt.Errorf("account id is not ed25519")
		}
		return strkey.Encode(strkey.VersionByteAccountID, pk[:])
	case xdr.ScAddressTypeScAddressTypeContract:
		if addr.ContractId == nil {
			return "", fmt.Errorf("missing contract id")
		}
		return strkey.Encode(strkey.VersionByteContract, (*addr.ContractId)[:])
	default:
		return "", fmt.Errorf("unsupported sc address type %d", addr.Type)
	}
}

func scValToAddress(v xdr.ScVal) (string, error) {
	if v.Type != xdr.ScValTypeScvAddress || v.Address == nil {
		return "", fmt.Errorf("expected address value, got %d", v.Type)
	}
	return scAddressToStrkey(*v.Address)
}

func scValToI128(v xdr.ScVal) (int64, error) {
	if v.Type != xdr.ScValTypeScvI128 || v.I128 == nil {
		return 0, fmt.Errorf("expected i128 value, got %d", v.Type)
	}
	if v.I128.Hi != 0 {
		return 0, fmt.Errorf("amount exceeds int64 range")
	}
	return int64(v.I128.Lo), nil
}

// credentialsInfo is the decoded shape of a SorobanCredentials entry for
// the SOROBAN_CREDENTIALS_ADDRESS case: the only case the facilitator
// accepts, since SOURCE_ACCOUNT credentials carry no explicit nonce or
// expiry the facilitator can check ahead of submission.
type credentialsInfo struct {
	Address          string
	Nonce            int64
	ExpirationLedger uint32
}

func decodeCredentials(entry xdr.SorobanAuthorizationEntry) (credentialsInfo, error) {
	var out credentialsInfo
	creds := entry.Credentials
	if creds.Type != xdr.SorobanCredentialsTypeSorobanCredentialsAddress || creds.Address == nil {
		return out, fmt.Errorf("expected address credentials, got type %d", creds.Type)
	}
	addr, err := scAddressToStrkey(creds.Address.Address)
	if err != nil {
		return out, fmt.Errorf("decode credentials address: %w", err)
	}
	out.Address = addr
	out.Nonce = int64(creds.Address.Nonce)
	out.ExpirationLedger = uint32(creds.Address.SignatureExpirationLedger)
	return out, nil
}

type sigEntry struct {
	PublicKey []byte
	Signature []byte
}

// verifyCredentialsSignature checks the credentials' signature ScVal
// against the preimage hash. Per the reference Stellar account auth
// contract, the signature is either a single {public_key, signature} map
// (single-signer account) or a vector of such maps sorted by public key
// (multi-sig account); any other shape, including an empty vector, is
// rejected rather than silently accepted.
func verifyCredentialsSignature(entry xdr.SorobanAuthorizationEntry, preimageHash [32]byte, expectedAddress string) (bool, error) {
	creds := entry.Credentials
	if creds.Type != xdr.SorobanCredentialsTypeSorobanCredentialsAddress || creds.Address == nil {
		return false, fmt.Errorf("expected address credentials")
	}
	entries, err := decodeSignatureEntries(creds.Address.Signature)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, fmt.Errorf("empty signature vector")
	}
	if !sort.SliceIsSorted(entries, func(i, j int) bool {
		return string(entries[i].PublicKey) < string(entries[j].PublicKey)
	}) {
		return false, fmt.Errorf("multi-sig entries not sorted by public key")
	}

	expectedRaw, err := strkey.Decode(strkey.VersionByteAccountID, expectedAddress)
	if err != nil {
		return false, fmt.Errorf("decode expected address: %w", err)
	}

	for _, e := range entries {
		if len(e.PublicKey) != ed25519.PublicKeySize || len(e.Signature) != ed25519.SignatureSize {
			return false, fmt.Errorf("malformed signature entry")
		}
		if string(e.PublicKey) != string(expectedRaw) {
			continue
		}
		return ed25519.Verify(e.PublicKey, preimageHash[:], e.Signature), nil
	}
	return false, fmt.Errorf("no signature entry matches expected address")
}

// decodeSignatureEntries normalizes both accepted signature shapes (a
// single map, or a vector of maps) into a slice.
func decodeSignatureEntries(sig xdr.ScVal) ([]sigEntry, error) {
	switch sig.Type {
	case xdr.ScValTypeScvVec:
		if sig.Vec == nil {
			return nil, fmt.Errorf("nil signature vector")
		}
		out := make([]sigEntry, 0, len(*sig.Vec))
		for _, item := range *sig.Vec {
			e, err := decodeSignatureMap(item)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case xdr.ScValTypeScvMap:
		e, err := decodeSignatureMap(sig)
		if err != nil {
			return nil, err
		}
		return []sigEntry{e}, nil
	default:
		return nil, fmt.Errorf("unsupported signature shape %d", sig.Type)
	}
}

func decodeSignatureMap(v xdr.ScVal) (sigEntry, error) {
	var out sigEntry
	if v.Type != xdr.ScValTypeScvMap || v.Map == nil {
		return out, fmt.Errorf("expected signature map")
	}
	for _, entry := range *v.Map {
		key, ok := entry.Key.GetSym()
		if !ok {
			continue
		}
		switch string(key) {
		case "public_key":
			b, ok := entry.Val.GetBytes()
			if !ok {
				return out, fmt.Errorf("public_key is not bytes")
			}
			out.PublicKey = []byte(b)
		case "signature":
			b, ok := entry.Val.GetBytes()
			if !ok {
				return out, fmt.Errorf("signature is not bytes")
			}
			out.Signature = []byte(b)
		}
	}
	if out.PublicKey == nil || out.Signature == nil {
		return out, fmt.Errorf("signature map missing public_key or signature")
	}
	return out, nil
}
