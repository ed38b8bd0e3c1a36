package encryption

import (
	"crypto/ecdsa"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/xerrors"
)

// Signer is the engine's secp256k1 signing identity. It signs manifests,
// challenges, tree heads, ledger events, receipts and tallies. Its kid is
// the checksummed address derived from the public key, so a signature alone
// is enough to recover and check the signer.
type Signer struct {
	key *ecdsa.PrivateKey
	kid string
}

// NewSigner generates a new signing key.
func NewSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return newSigner(key), nil
}

// SignerFromHex restores a signer from its hex private key.
func SignerFromHex(keyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, err
	}
	return newSigner(key), nil
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key: key,
		kid: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

// Kid returns the signer's key id.
func (s *Signer) Kid() string {
	return s.kid
}

// KeyHex serializes the private key for the state blob.
func (s *Signer) KeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(s.key))
}

// PublicKeyHex serializes the uncompressed public key.
func (s *Signer) PublicKeyHex() string {
	return hexutil.Encode(crypto.FromECDSAPub(&s.key.PublicKey))
}

// Sign creates a recoverable signature over Keccak256(data).
func (s *Signer) Sign(data []byte) (string, error) {
	sig, err := crypto.Sign(Keccak256(data), s.key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// SignCanonical signs the canonical JSON of v.
func (s *Signer) SignCanonical(v interface{}) (string, error) {
	data, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return s.Sign(data)
}

// RecoverKid returns the key id that produced sig over data.
func RecoverKid(data []byte, sig string) (string, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return "", err
	}
	if len(raw) != crypto.SignatureLength {
		return "", xerrors.New("signature must be 65 bytes")
	}
	pub, err := crypto.SigToPub(Keccak256(data), raw)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// VerifySignature checks that sig over data was made by kid.
func VerifySignature(kid string, data []byte, sig string) bool {
	if !common.IsHexAddress(kid) {
		return false
	}
	got, err := RecoverKid(data, sig)
	if err != nil {
		return false
	}
	return got == common.HexToAddress(kid).Hex()
}

// VerifyCanonical checks a signature over the canonical JSON of v.
func VerifyCanonical(kid string, v interface{}, sig string) bool {
	data, err := Canonical(v)
	if err != nil {
		return false
	}
	return VerifySignature(kid, data, sig)
}
