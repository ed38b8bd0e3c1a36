package ledger

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
	jose "gopkg.in/square/go-jose.v2"

	"ewp-backend/encryption"
	"ewp-backend/models"
)

// AckAlg is the JWS algorithm of ledger acknowledgments.
const AckAlg = string(jose.ES256)

// AckKey is a ledger node's P-256 acknowledgment key. Acks are compact JWS
// over the canonical ack body; kid is the key's RFC 7638 thumbprint.
type AckKey struct {
	jwk    jose.JSONWebKey
	signer jose.Signer
}

// GenerateAckKey creates a fresh acknowledgment key.
func GenerateAckKey() (*AckKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return newAckKey(priv)
}

func newAckKey(priv *ecdsa.PrivateKey) (*AckKey, error) {
	jwk := jose.JSONWebKey{Key: priv, Algorithm: AckAlg, Use: "sig"}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, err
	}
	jwk.KeyID = encryption.EncodeB64(tp)
	opts := (&jose.SignerOptions{}).WithHeader("kid", jwk.KeyID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: priv}, opts)
	if err != nil {
		return nil, err
	}
	return &AckKey{jwk: jwk, signer: signer}, nil
}

// LoadAckKey reads a private JWK from path, creating and saving a new key
// if the file does not exist.
func LoadAckKey(path string) (*AckKey, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		key, err := GenerateAckKey()
		if err != nil {
			return nil, err
		}
		return key, key.Save(path)
	}
	if err != nil {
		return nil, xerrors.Errorf("read ack key: %v", err)
	}
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, xerrors.Errorf("decode ack key: %v", err)
	}
	priv, ok := jwk.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, xerrors.New("ack key file does not hold an EC private key")
	}
	return newAckKey(priv)
}

// Save writes the private JWK to path with owner-only permissions.
func (k *AckKey) Save(path string) error {
	data, err := json.MarshalIndent(k.jwk, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Kid returns the key id.
func (k *AckKey) Kid() string {
	return k.jwk.KeyID
}

// PublicJWK returns the public half for publication.
func (k *AckKey) PublicJWK() jose.JSONWebKey {
	return k.jwk.Public()
}

// ackBody is what an ack signs.
type ackBody struct {
	NodeID    string          `json:"node_id"`
	Role      models.NodeRole `json:"role"`
	Index     uint64          `json:"index"`
	EntryHash string          `json:"entry_hash"`
	TxID      string          `json:"tx_id"`
}

func bodyOf(a *models.LedgerAck) ackBody {
	return ackBody{
		NodeID:    a.NodeID,
		Role:      a.Role,
		Index:     a.Index,
		EntryHash: a.EntryHash,
		TxID:      a.TxID,
	}
}

// Acknowledge signs an accepted entry.
func (k *AckKey) Acknowledge(nodeID string, role models.NodeRole, entry *models.LedgerEntry) (*models.LedgerAck, error) {
	ack := &models.LedgerAck{
		NodeID:    nodeID,
		Role:      role,
		Index:     entry.Index,
		EntryHash: entry.Hash,
		TxID:      entry.Event.TxID,
		Alg:       AckAlg,
		Kid:       k.Kid(),
	}
	payload, err := encryption.Canonical(bodyOf(ack))
	if err != nil {
		return nil, err
	}
	jws, err := k.signer.Sign(payload)
	if err != nil {
		return nil, xerrors.Errorf("sign ack: %v", err)
	}
	ack.Sig, err = jws.CompactSerialize()
	if err != nil {
		return nil, err
	}
	return ack, nil
}

// VerifyAck checks an ack against a node's published key.
func VerifyAck(ack *models.LedgerAck, pub jose.JSONWebKey) bool {
	if ack == nil || ack.Sig == "" || ack.Kid != pub.KeyID {
		return false
	}
	jws, err := jose.ParseSigned(ack.Sig)
	if err != nil {
		return false
	}
	payload, err := jws.Verify(pub)
	if err != nil {
		return false
	}
	want, err := encryption.Canonical(bodyOf(ack))
	if err != nil {
		return false
	}
	return string(payload) == string(want)
}
