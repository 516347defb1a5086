package near

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/near/borsh-go"
)

// uint128 is NEAR's 16-byte little-endian fixed-width balance encoding.
type uint128 [16]byte

func (u uint128) BigInt() *big.Int {
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = u[15-i]
	}
	return new(big.Int).SetBytes(be)
}

// publicKey mirrors nearcore's PublicKey enum: a one-byte curve tag
// followed by the key bytes.
type publicKey struct {
	borsh.Enum
	ED25519   [32]byte
	SECP256K1 [64]byte
}

// signature mirrors nearcore's Signature enum.
type signature struct {
	borsh.Enum
	ED25519   [64]byte
	SECP256K1 [65]byte
}

type functionCallAction struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    uint128
}

type transferAction struct {
	Deposit uint128
}

type deployContractAction struct {
	Code []byte
}

type stakeAction struct {
	Stake     uint128
	PublicKey publicKey
}

type accessKeyFunctionCallPermission struct {
	Allowance   *uint128
	ReceiverID  string
	MethodNames []string
}

type accessKeyPermission struct {
	borsh.Enum
	FunctionCall accessKeyFunctionCallPermission
	FullAccess   struct{}
}

type accessKey struct {
	Nonce      uint64
	Permission accessKeyPermission
}

type addKeyAction struct {
	PublicKey publicKey
	AccessKey accessKey
}

type deleteKeyAction struct {
	PublicKey publicKey
}

type deleteAccountAction struct {
	BeneficiaryID string
}

// innerAction is nearcore's NonDelegateAction: the same Action enum as a
// top-level transaction action, minus the Delegate variant itself (a
// delegate action's inner actions can never recursively delegate).
type innerAction struct {
	borsh.Enum
	CreateAccount  struct{}
	DeployContract deployContractAction
	FunctionCall   functionCallAction
	Transfer       transferAction
	Stake          stakeAction
	AddKey         addKeyAction
	DeleteKey      deleteKeyAction
	DeleteAccount  deleteAccountAction
}

const (
	innerActionFunctionCall = 2
	publicKeyED25519        = 0
	signatureED25519        = 0
)

// delegateAction mirrors nearcore's DelegateAction, the payload a NEP-366
// meta-transaction payer signs. ReceiverID is the single contract every
// action in Actions is applied against.
type delegateAction struct {
	SenderID       string
	ReceiverID     string
	Actions        []innerAction
	Nonce          uint64
	MaxBlockHeight uint64
	PublicKey      publicKey
}

type signedDelegateAction struct {
	DelegateAction delegateAction
	Signature      signature
}

func decodeSignedDelegateAction(raw []byte) (signedDelegateAction, error) {
	var sda signedDelegateAction
	if err := borsh.Deserialize(&sda, raw); err != nil {
		return sda, fmt.Errorf("borsh deserialize signed delegate action: %w", err)
	}
	return sda, nil
}

// delegateActionDiscriminant is NEP-366's SignableMessageType discriminant
// for DelegateAction (2^30 + 366), prefixed as a little-endian u32 before
// the borsh-serialized DelegateAction to form the signed preimage.
const delegateActionDiscriminant uint32 = 1<<30 + 366

// signableHash computes the NEP-366 signable message hash for da:
// sha256(u32_le(discriminant) || borsh(da)).
func signableHash(da delegateAction) ([32]byte, error) {
	var zero [32]byte
	serialized, err := borsh.Serialize(da)
	if err != nil {
		return zero, fmt.Errorf("borsh serialize delegate action: %w", err)
	}

	var buf bytes.Buffer
	var discBytes [4]byte
	binary.LittleEndian.PutUint32(discBytes[:], delegateActionDiscriminant)
	buf.Write(discBytes[:])
	buf.Write(serialized)

	return sha256.Sum256(buf.Bytes()), nil
}

// verifyDelegateSignature checks sda.Signature against sda.DelegateAction's
// NEP-366 signable hash using the public key embedded in the delegate
// action itself (the payer's declared signing key).
func verifyDelegateSignature(sda signedDelegateAction) (bool, error) {
	if sda.Signature.Enum != signatureED25519 {
		return false, fmt.Errorf("unsupported signature curve %d", sda.Signature.Enum)
	}
	if sda.DelegateAction.PublicKey.Enum != publicKeyED25519 {
		return false, fmt.Errorf("unsupported public key curve %d", sda.DelegateAction.PublicKey.Enum)
	}

	hash, err := signableHash(sda.DelegateAction)
	if err != nil {
		return false, err
	}

	pub := ed25519.PublicKey(sda.DelegateAction.PublicKey.ED25519[:])
	sig := sda.Signature.ED25519[:]
	return ed25519.Verify(pub, hash[:], sig), nil
}

// singleFunctionCall returns the delegate action's lone FunctionCall
// action, or an error if it does not contain exactly one.
func singleFunctionCall(da delegateAction) (functionCallAction, error) {
	var found *functionCallAction
	for i := range da.Actions {
		a := da.Actions[i]
		if a.Enum != innerActionFunctionCall {
			return functionCallAction{}, fmt.Errorf("delegate action contains non-function-call action (variant %d)", a.Enum)
		}
		if found != nil {
			return functionCallAction{}, fmt.Errorf("delegate action contains more than one action")
		}
		fc := a.FunctionCall
		found = &fc
	}
	if found == nil {
		return functionCallAction{}, fmt.Errorf("delegate action contains no actions")
	}
	return *found, nil
}
