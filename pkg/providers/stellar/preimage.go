package stellar

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/stellar/go/xdr"
)

// signaturePreimageHash computes the hash a Soroban address-credentials
// signature is taken over: sha256 of an XDR HashIDPreimage of type
// ENVELOPE_TYPE_SOROBAN_AUTHORIZATION, built from the credentials' own
// nonce/expiration plus the authorized invocation tree. This lets the
// provider recompute the exact signed bytes from the wire payload alone,
// without needing the client to additionally submit a detached hash.
func signaturePreimageHash(networkPassphrase string, entry xdr.SorobanAuthorizationEntry) ([32]byte, error) {
	var zero [32]byte
	creds := entry.Credentials
	if creds.Type != xdr.SorobanCredentialsTypeSorobanCredentialsAddress || creds.Address == nil {
		return zero, fmt.Errorf("expected address credentials")
	}

	networkID := sha256.Sum256([]byte(networkPassphrase))

	preimage := xdr.HashIdPreimage{
		Type: xdr.EnvelopeTypeEnvelopeTypeSorobanAuthorization,
		SorobanAuthorization: &xdr.HashIdPreimageSorobanAuthorization{
			NetworkId:                 xdr.Hash(networkID),
			Nonce:                     creds.Address.Nonce,
			SignatureExpirationLedger: creds.Address.SignatureExpirationLedger,
			Invocation:                entry.RootInvocation,
		},
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, preimage); err != nil {
		return zero, fmt.Errorf("marshal hash id preimage: %w", err)
	}
	return sha256.Sum256(buf.Bytes()), nil
}
