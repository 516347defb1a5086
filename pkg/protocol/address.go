package protocol

import (
	"encoding/base32"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"
)

// MixedAddress is a sum type over the four address encodings the
// facilitator understands. It is syntactically validated on Parse;
// semantic validity (does this account exist, is it the right kind of
// account) is left to the provider that owns the network.
type MixedAddress struct {
	family Family
	raw    string
}

var (
	evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	nearNamedRe  = regexp.MustCompile(`^[a-z0-9_-]{2,64}(\.[a-z0-9_-]{2,64})*\.(near|testnet)$`)
	nearHexRe    = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// ParseAddress validates raw against the encoding rules for family and
// returns a MixedAddress wrapping it. The raw string is kept verbatim
// (case is not normalized) since EIP-55 checksums and strkey casing are
// both meaningful.
func ParseAddress(family Family, raw string) (MixedAddress, error) {
	raw = strings.TrimSpace(raw)
	switch family {
	case FamilyEVM:
		if !evmAddressRe.MatchString(raw) {
			return MixedAddress{}, fmt.Errorf("protocol: invalid evm address %q", raw)
		}
	case FamilySolana:
		decoded, err := base58.Decode(raw)
		if err != nil || len(decoded) != 32 {
			return MixedAddress{}, fmt.Errorf("protocol: invalid solana address %q", raw)
		}
	case FamilyNear:
		if !nearNamedRe.MatchString(raw) && !nearHexRe.MatchString(raw) {
			return MixedAddress{}, fmt.Errorf("protocol: invalid near account id %q", raw)
		}
	case FamilyStellar:
		if len(raw) < 2 || (raw[0] != 'G' && raw[0] != 'C') {
			return MixedAddress{}, fmt.Errorf("protocol: invalid stellar address %q", raw)
		}
		if _, err := decodeStrkeyPayload(raw); err != nil {
			return MixedAddress{}, fmt.Errorf("protocol: invalid stellar strkey %q: %w", raw, err)
		}
	default:
		return MixedAddress{}, fmt.Errorf("protocol: unknown address family %q", family)
	}
	return MixedAddress{family: family, raw: raw}, nil
}

// Family returns which encoding this address uses.
func (a MixedAddress) Family() Family { return a.family }

// String returns the address in its natural per-family encoding.
func (a MixedAddress) String() string { return a.raw }

// IsZero reports whether this is the unparsed zero value.
func (a MixedAddress) IsZero() bool { return a.raw == "" }

// EqualFold compares two addresses for equality, case-insensitively for
// EVM hex addresses (which are case-insensitive modulo EIP-55 checksum
// casing) and exactly otherwise.
func (a MixedAddress) EqualFold(other MixedAddress) bool {
	if a.family != other.family {
		return false
	}
	if a.family == FamilyEVM {
		return strings.EqualFold(a.raw, other.raw)
	}
	return a.raw == other.raw
}

func (a MixedAddress) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.raw)
}

// UnmarshalJSON parses the address without knowing its family; callers
// that need family validation should reparse with ParseAddress once the
// network (and therefore the expected family) is known. This matches the
// wire format, which carries addresses as bare strings.
func (a *MixedAddress) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.raw = raw
	a.family = guessFamily(raw)
	return nil
}

// guessFamily infers an encoding from shape alone, used only to populate
// MixedAddress.Family() before cross-field validation runs. It never
// rejects input — ParseAddress does that once the expected family is
// known from the network.
func guessFamily(raw string) Family {
	switch {
	case evmAddressRe.MatchString(raw):
		return FamilyEVM
	case len(raw) > 0 && (raw[0] == 'G' || raw[0] == 'C'):
		return FamilyStellar
	case nearNamedRe.MatchString(raw) || nearHexRe.MatchString(raw):
		return FamilyNear
	default:
		return FamilySolana
	}
}

// decodeStrkeyPayload does a best-effort structural decode of a Stellar
// strkey (version byte + payload + 2-byte CRC16-XModem checksum, base32
// encoded) sufficient to catch malformed addresses. Full key-type specific
// validation lives in the Stellar provider.
func decodeStrkeyPayload(raw string) ([]byte, error) {
	decoded, err := base32Decode(raw)
	if err != nil {
		return nil, err
	}
	if len(decoded) < 3 {
		return nil, fmt.Errorf("strkey too short")
	}
	payload := decoded[:len(decoded)-2]
	checksum := decoded[len(decoded)-2:]
	want := crc16XModem(payload)
	if want[0] != checksum[0] || want[1] != checksum[1] {
		return nil, fmt.Errorf("strkey checksum mismatch")
	}
	return payload, nil
}

func base32Decode(s string) ([]byte, error) {
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
}

func crc16XModem(data []byte) [2]byte {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return [2]byte{byte(crc), byte(crc >> 8)}
}
