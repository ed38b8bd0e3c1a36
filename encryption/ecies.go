package encryption

import (
	"go.dedis.ch/kyber/v3"
)

// SuiteID names the key-wrap construction and is bound into every wrap's AAD.
const SuiteID = "EWP-ECIES-P256-SHA256-AESGCM"

func wrapAAD(electionID, ballotID string) ([]byte, error) {
	return Canonical(map[string]string{
		"election_id": electionID,
		"ballot_id":   ballotID,
		"suite_id":    SuiteID,
	})
}

func wrapKey(shared kyber.Point, electionID, ballotID string) []byte {
	return Hash(DomainWrap, EncodePoint(shared), []byte(electionID), []byte{0}, []byte(ballotID))
}

// WrapKey encrypts a ballot key to the election public key pk. It returns
// IV‖ciphertext and the ephemeral point E = e·G.
func WrapKey(pk kyber.Point, key []byte, electionID, ballotID string) ([]byte, kyber.Point, error) {
	e, E := GenerateKeyPair()
	shared := Suite.Point().Mul(e, pk)

	aad, err := wrapAAD(electionID, ballotID)
	if err != nil {
		return nil, nil, err
	}
	wrapped, err := Seal(wrapKey(shared, electionID, ballotID), key, aad)
	if err != nil {
		return nil, nil, err
	}
	return wrapped, E, nil
}

// UnwrapKey recovers the ballot key with the election secret x. Any tag or
// AAD mismatch yields (nil, false).
func UnwrapKey(x kyber.Scalar, wrapped []byte, ephemeral kyber.Point, electionID, ballotID string) ([]byte, bool) {
	if x == nil || ephemeral == nil {
		return nil, false
	}
	shared := Suite.Point().Mul(x, ephemeral)
	aad, err := wrapAAD(electionID, ballotID)
	if err != nil {
		return nil, false
	}
	key, err := Open(wrapKey(shared, electionID, ballotID), wrapped, aad)
	if err != nil {
		return nil, false
	}
	return key, true
}
