package evm

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc6492MagicSuffix is bytes32(uint256(keccak256("erc6492.invalid.signature")) - 1),
// appended to a wrapped signature to mark it as ERC-6492.
var erc6492MagicSuffix = common.Hex2Bytes("6492649264926492649264926492649264926492649264926492649264926492")

// wrappedSignature is the parsed form of an ERC-6492 signature: the
// counterfactual deployment (Factory, FactoryCalldata) plus the inner
// signature the deployed or counterfactual wallet should actually verify.
// A plain non-wrapped signature parses to a zero Factory with Inner set to
// the original bytes.
type wrappedSignature struct {
	Factory         common.Address
	FactoryCalldata []byte
	Inner           []byte
}

// HasDeploymentInfo reports whether this signature carries ERC-6492
// counterfactual-deploy calldata.
func (w wrappedSignature) HasDeploymentInfo() bool {
	return w.Factory != (common.Address{}) && len(w.FactoryCalldata) > 0
}

var erc6492ArgTypes = func() abi.Arguments {
	addressTy, _ := abi.NewType("address", "", nil)
	bytesTy, _ := abi.NewType("bytes", "", nil)
	return abi.Arguments{{Type: addressTy}, {Type: bytesTy}, {Type: bytesTy}}
}()

// parseSignature unwraps sig if it carries the ERC-6492 suffix, or returns
// it unchanged as Inner otherwise.
func parseSignature(sig []byte) (wrappedSignature, error) {
	if len(sig) < 32 || !bytes.Equal(sig[len(sig)-32:], erc6492MagicSuffix) {
		return wrappedSignature{Inner: sig}, nil
	}

	encoded := sig[:len(sig)-32]
	unpacked, err := erc6492ArgTypes.Unpack(encoded)
	if err != nil {
		return wrappedSignature{}, fmt.Errorf("unpack erc6492 wrapper: %w", err)
	}
	if len(unpacked) != 3 {
		return wrappedSignature{}, fmt.Errorf("erc6492 wrapper: expected 3 fields, got %d", len(unpacked))
	}

	factory, ok := unpacked[0].(common.Address)
	if !ok {
		return wrappedSignature{}, fmt.Errorf("erc6492 wrapper: factory field is not an address")
	}
	factoryCalldata, ok := unpacked[1].([]byte)
	if !ok {
		return wrappedSignature{}, fmt.Errorf("erc6492 wrapper: factoryCalldata field is not bytes")
	}
	inner, ok := unpacked[2].([]byte)
	if !ok {
		return wrappedSignature{}, fmt.Errorf("erc6492 wrapper: signature field is not bytes")
	}

	return wrappedSignature{Factory: factory, FactoryCalldata: factoryCalldata, Inner: inner}, nil
}
