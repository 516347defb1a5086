package evm

// transferWithAuthorizationVRSABI is EIP-3009's transferWithAuthorization
// overload taking a raw (v, r, s) ECDSA signature, used for EOA payers.
const transferWithAuthorizationVRSABI = `[{
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "validAfter", "type": "uint256"},
		{"name": "validBefore", "type": "uint256"},
		{"name": "nonce", "type": "bytes32"},
		{"name": "v", "type": "uint8"},
		{"name": "r", "type": "bytes32"},
		{"name": "s", "type": "bytes32"}
	],
	"name": "transferWithAuthorization",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

// transferWithAuthorizationBytesABI is the bytes-signature overload, used
// for ERC-1271/ERC-6492 smart-wallet payers.
const transferWithAuthorizationBytesABI = `[{
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "validAfter", "type": "uint256"},
		{"name": "validBefore", "type": "uint256"},
		{"name": "nonce", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"name": "transferWithAuthorization",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

const authorizationStateABI = `[{
	"inputs": [
		{"name": "authorizer", "type": "address"},
		{"name": "nonce", "type": "bytes32"}
	],
	"name": "authorizationState",
	"outputs": [{"name": "", "type": "bool"}],
	"stateMutability": "view",
	"type": "function"
}]`

const balanceOfABI = `[{
	"constant": true,
	"inputs": [{"name": "account", "type": "address"}],
	"name": "balanceOf",
	"outputs": [{"name": "", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}]`

const isValidSignatureABI = `[{
	"inputs": [
		{"name": "hash", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"name": "isValidSignature",
	"outputs": [{"name": "magicValue", "type": "bytes4"}],
	"stateMutability": "view",
	"type": "function"
}]`

// eip1271MagicValue is bytes4(keccak256("isValidSignature(bytes32,bytes)")),
// returned by a compliant contract wallet when a signature is valid.
var eip1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}
