package encryption

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/crypto/sha3"
)

// Hash domains used across the engine. Changing any of them invalidates every
// stored signature and proof.
const (
	DomainBlind       = "ewp/blind-schnorr/v1"
	DomainNullifier   = "ewp/nullifier/v1"
	DomainEligibility = "ewp/eligibility/v1"
	DomainWrap        = "ewp/ecies-wrap/v1"
	DomainBallot      = "ewp/ballot-hash/v1"
	DomainLeaf        = "ewp/bb-leaf/v1"
	DomainNode        = "ewp/bb-node/v1"
	DomainEmpty       = "ewp/bb-empty/v1"
	DomainRoll        = "ewp/voter-roll/v1"
	DomainManifest    = "ewp/manifest/v1"
	DomainTx          = "ewp/vcl-tx/v1"
	DomainRequest     = "ewp/cast-request/v1"
	DomainTally       = "ewp/tally-result/v1"
)

// Hash computes SHA-256(domain ‖ 0x00 ‖ parts...).
func Hash(domain string, parts ...[]byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// HashHex is Hash encoded as lowercase hex.
func HashHex(domain string, parts ...[]byte) string {
	return hex.EncodeToString(Hash(domain, parts...))
}

// HashToScalar maps a domain-separated hash onto a scalar mod q.
func HashToScalar(domain string, parts ...[]byte) kyber.Scalar {
	return Suite.Scalar().SetBytes(Hash(domain, parts...))
}

// SHA256 is the plain, undomained digest.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Keccak256 computes the legacy Keccak-256 hash of the concatenated inputs.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// EncodeB64 encodes b as unpadded base64url.
func EncodeB64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeB64 decodes unpadded base64url.
func DecodeB64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// EncodeHex encodes b as lowercase hex without prefix.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex decodes unprefixed hex.
func DecodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
