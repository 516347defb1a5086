package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// verifyEOA recovers the signer of digest from a 65-byte ECDSA signature and
// checks it against expected.
func verifyEOA(digest [32]byte, sig []byte, expected common.Address) (bool, error) {
	if len(sig) != 65 {
		return false, fmt.Errorf("eoa signature must be 65 bytes, got %d", len(sig))
	}
	adjusted := make([]byte, 65)
	copy(adjusted, sig)
	if adjusted[64] >= 27 {
		adjusted[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest[:], adjusted)
	if err != nil {
		return false, fmt.Errorf("recover pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey) == expected, nil
}

// verifyEIP1271 calls isValidSignature(bytes32,bytes) on a deployed
// contract wallet and checks for the standard magic return value.
func verifyEIP1271(ctx context.Context, backend ethBackend, wallet common.Address, digest [32]byte, sig []byte) (bool, error) {
	result, err := callContract(ctx, backend, wallet, isValidSignatureABI, "isValidSignature", digest, sig)
	if err != nil {
		return false, err
	}
	magic, ok := result.([4]byte)
	if !ok {
		return false, fmt.Errorf("isValidSignature: unexpected return type %T", result)
	}
	return magic == eip1271MagicValue, nil
}

// verifyUniversal verifies a signature that may come from an EOA, a
// deployed ERC-1271 contract wallet, or a counterfactual ERC-6492-wrapped
// contract wallet. allowUndeployed governs whether an ERC-6492 signature
// from a not-yet-deployed wallet is accepted (true in verify, since
// deployment happens during settle).
func verifyUniversal(ctx context.Context, backend ethBackend, signer common.Address, digest [32]byte, sig []byte, allowUndeployed bool) (bool, wrappedSignature, error) {
	parsed, err := parseSignature(sig)
	if err != nil {
		return false, wrappedSignature{}, err
	}

	if len(parsed.Inner) == 65 && !parsed.HasDeploymentInfo() {
		ok, err := verifyEOA(digest, parsed.Inner, signer)
		return ok, parsed, err
	}

	code, err := backend.CodeAt(ctx, signer, nil)
	if err != nil {
		return false, parsed, fmt.Errorf("get code: %w", err)
	}

	if len(code) == 0 {
		if parsed.HasDeploymentInfo() {
			if !allowUndeployed {
				return false, parsed, fmt.Errorf("undeployed smart wallet not allowed at this stage")
			}
			return true, parsed, nil
		}
		ok, err := verifyEOA(digest, parsed.Inner, signer)
		return ok, parsed, err
	}

	ok, err := verifyEIP1271(ctx, backend, signer, digest, parsed.Inner)
	return ok, parsed, err
}
