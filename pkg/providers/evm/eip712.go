package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/x402fac/facilitator/pkg/protocol"
)

var transferWithAuthorizationTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// authorizationDigest computes the EIP-712 signing hash for an EIP-3009
// TransferWithAuthorization message: keccak256(0x19 0x01 || domainSeparator
// || structHash). tokenName/tokenVersion come from the token deployment
// registry, since they are part of the signing domain but not of the wire
// payload.
func authorizationDigest(auth protocol.EvmExactPayload, chainID uint64, verifyingContract, tokenName, tokenVersion string, nonce [32]byte) ([32]byte, error) {
	var digest [32]byte

	typedData := apitypes.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(chainID)),
			VerifyingContract: verifyingContract,
		},
		Message: map[string]interface{}{
			"from":        common.HexToAddress(auth.From.String()).Hex(),
			"to":          common.HexToAddress(auth.To.String()).Hex(),
			"value":       auth.Value.BigInt(),
			"validAfter":  big.NewInt(auth.ValidAfter),
			"validBefore": big.NewInt(auth.ValidBefore),
			"nonce":       nonce[:],
		},
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return digest, fmt.Errorf("hash struct: %w", err)
	}
	domainHash, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return digest, fmt.Errorf("hash domain: %w", err)
	}

	raw := append([]byte{0x19, 0x01}, domainHash...)
	raw = append(raw, dataHash...)
	copy(digest[:], crypto.Keccak256(raw))
	return digest, nil
}
