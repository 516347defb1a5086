package near

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/near/borsh-go"
)

// storageDepositYoctoNear is the fixed deposit NEP-145 token contracts
// charge to register an account for balance storage, in yoctoNEAR
// (0.00125 NEAR — the de facto standard most fungible-token contracts use).
var storageDepositYoctoNear = mustUint128("1250000000000000000000")

func mustUint128(decimal string) uint128 {
	v, ok := new(big.Int).SetString(decimal, 10)
	if !ok {
		panic("near: invalid uint128 literal " + decimal)
	}
	be := v.FillBytes(make([]byte, 16))
	var out uint128
	for i := 0; i < 16; i++ {
		out[i] = be[15-i]
	}
	return out
}

// outerAction is nearcore's full Action enum (including Delegate), used
// for the facilitator's wrapping transaction. It mirrors innerAction with
// one additional variant.
type outerAction struct {
	borsh.Enum
	CreateAccount  struct{}
	DeployContract deployContractAction
	FunctionCall   functionCallAction
	Transfer       transferAction
	Stake          stakeAction
	AddKey         addKeyAction
	DeleteKey      deleteKeyAction
	DeleteAccount  deleteAccountAction
	Delegate       signedDelegateAction
}

const (
	outerActionFunctionCall = 2
	outerActionDelegate     = 8
)

func functionCallOuterAction(methodName string, args []byte, gas uint64, deposit uint128) outerAction {
	return outerAction{
		Enum: outerActionFunctionCall,
		FunctionCall: functionCallAction{
			MethodName: methodName,
			Args:       args,
			Gas:        gas,
			Deposit:    deposit,
		},
	}
}

func delegateOuterAction(sda signedDelegateAction) outerAction {
	return outerAction{Enum: outerActionDelegate, Delegate: sda}
}

// transaction mirrors nearcore's (legacy, still-accepted) Transaction V0
// wire shape: signer, signer's declared key, a strictly increasing nonce,
// the target contract, a recent block hash bounding validity, and actions.
type transaction struct {
	SignerID   string
	PublicKey  publicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []outerAction
}

type signedTransaction struct {
	Transaction transaction
	Signature   signature
}

// signTransaction borsh-serializes tx, signs sha256 of the serialized
// bytes with the facilitator's ed25519 key (NEAR's transaction signing
// convention), and returns the borsh-serialized SignedTransaction.
func signTransaction(tx transaction, key ed25519.PrivateKey) ([]byte, error) {
	serialized, err := borsh.Serialize(tx)
	if err != nil {
		return nil, fmt.Errorf("borsh serialize transaction: %w", err)
	}
	hash := sha256.Sum256(serialized)
	sig := ed25519.Sign(key, hash[:])

	var sigField signature
	sigField.Enum = signatureED25519
	copy(sigField.ED25519[:], sig)

	st := signedTransaction{Transaction: tx, Signature: sigField}
	out, err := borsh.Serialize(st)
	if err != nil {
		return nil, fmt.Errorf("borsh serialize signed transaction: %w", err)
	}
	return out, nil
}
