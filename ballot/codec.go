// Package ballot encrypts, decrypts, validates and audits ballots.
package ballot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"ewp-backend/encryption"
	"ewp-backend/models"
)

// ValidityProofPlaceholder marks that no ballot validity proof is attached.
const ValidityProofPlaceholder = "none"

// Sealed is a freshly encrypted ballot together with the secrets needed to
// spoil it.
type Sealed struct {
	Ballot    models.EncryptedBallot
	Plaintext models.BallotPlaintext
	Secrets   models.BallotSecrets
}

func ballotAAD(electionID, ballotID string) ([]byte, error) {
	return encryption.Canonical(map[string]string{
		"election_id": electionID,
		"ballot_id":   ballotID,
	})
}

// Hash returns the public ballot hash of an IV‖ciphertext blob.
func Hash(packed []byte) string {
	return encryption.HashHex(encryption.DomainBallot, packed)
}

// Encrypt validates the selections against the manifest and seals them
// under a fresh ballot key wrapped to the election public key.
func Encrypt(m *models.ElectionManifest, selections []models.ContestSelection, now time.Time) (*Sealed, error) {
	pt := models.BallotPlaintext{
		ElectionID: m.ElectionID,
		ManifestID: m.ManifestID,
		BallotID:   uuid.New().String(),
		Contests:   selections,
		CastAt:     models.FormatTime(now),
	}
	if pt.Contests == nil {
		pt.Contests = []models.ContestSelection{}
	}
	if err := Validate(m, &pt); err != nil {
		return nil, err
	}

	key, err := encryption.RandomBytes(encryption.KeySize)
	if err != nil {
		return nil, err
	}
	iv, err := encryption.RandomBytes(encryption.IVSize)
	if err != nil {
		return nil, err
	}
	packed, err := seal(key, iv, &pt)
	if err != nil {
		return nil, err
	}

	pk, err := encryption.PointFromB64(m.ElectionPublicKey)
	if err != nil {
		return nil, xerrors.Errorf("election public key: %v", err)
	}
	wrapped, epk, err := encryption.WrapKey(pk, key, m.ElectionID, pt.BallotID)
	if err != nil {
		return nil, xerrors.Errorf("wrap ballot key: %v", err)
	}

	return &Sealed{
		Ballot: models.EncryptedBallot{
			BallotID:         pt.BallotID,
			Ciphertext:       encryption.EncodeB64(packed),
			ValidityProof:    ValidityProofPlaceholder,
			BallotHash:       Hash(packed),
			WrappedBallotKey: encryption.EncodeB64(wrapped),
			WrappedKeyEPK:    encryption.PointB64(epk),
		},
		Plaintext: pt,
		Secrets: models.BallotSecrets{
			BallotKey: encryption.EncodeB64(key),
			IV:        encryption.EncodeB64(iv),
		},
	}, nil
}

func seal(key, iv []byte, pt *models.BallotPlaintext) ([]byte, error) {
	body, err := encryption.Canonical(pt)
	if err != nil {
		return nil, err
	}
	aad, err := ballotAAD(pt.ElectionID, pt.BallotID)
	if err != nil {
		return nil, err
	}
	return encryption.SealWithIV(key, iv, body, aad)
}

// Decrypt unwraps the ballot key with the election secret and opens the
// ballot.
func Decrypt(x kyber.Scalar, electionID string, eb *models.EncryptedBallot) (*models.BallotPlaintext, error) {
	wrapped, err := encryption.DecodeB64(eb.WrappedBallotKey)
	if err != nil {
		return nil, xerrors.Errorf("wrapped key: %v", err)
	}
	epk, err := encryption.PointFromB64(eb.WrappedKeyEPK)
	if err != nil {
		return nil, xerrors.Errorf("ephemeral key: %v", err)
	}
	key, ok := encryption.UnwrapKey(x, wrapped, epk, electionID, eb.BallotID)
	if !ok {
		return nil, xerrors.New("ballot key does not unwrap")
	}
	return DecryptWithKey(key, electionID, eb)
}

// DecryptWithKey opens a ballot with an already known ballot key.
func DecryptWithKey(key []byte, electionID string, eb *models.EncryptedBallot) (*models.BallotPlaintext, error) {
	packed, err := encryption.DecodeB64(eb.Ciphertext)
	if err != nil {
		return nil, xerrors.Errorf("ciphertext: %v", err)
	}
	aad, err := ballotAAD(electionID, eb.BallotID)
	if err != nil {
		return nil, err
	}
	body, err := encryption.Open(key, packed, aad)
	if err != nil {
		return nil, xerrors.Errorf("decrypt ballot: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var pt models.BallotPlaintext
	if err := dec.Decode(&pt); err != nil {
		return nil, xerrors.Errorf("decode plaintext: %v", err)
	}
	if pt.BallotID != eb.BallotID {
		return nil, xerrors.New("plaintext ballot id does not match envelope")
	}
	return &pt, nil
}

// Validate checks a plaintext against the manifest: every referenced contest
// must exist, appear once, and select one of its declared options.
func Validate(m *models.ElectionManifest, pt *models.BallotPlaintext) error {
	if pt.ElectionID != m.ElectionID {
		return models.NewError(models.ErrBallotInvalid, "ballot is for election %s", pt.ElectionID)
	}
	if m.ManifestID != "" && pt.ManifestID != m.ManifestID {
		return models.NewError(models.ErrBallotInvalid, "ballot is for manifest %s", pt.ManifestID)
	}
	return ValidateSelections(m, pt.Contests)
}

// ValidateSelections checks selections alone.
func ValidateSelections(m *models.ElectionManifest, selections []models.ContestSelection) error {
	seen := make(map[string]bool)
	for _, s := range selections {
		c := m.Contest(s.ContestID)
		if c == nil {
			return models.NewError(models.ErrBallotInvalid, "unknown contest %q", s.ContestID)
		}
		if seen[s.ContestID] {
			return models.NewError(models.ErrBallotInvalid, "contest %q selected twice", s.ContestID)
		}
		seen[s.ContestID] = true
		if !c.HasOption(s.Selection) {
			return models.NewError(models.ErrBallotInvalid, "%q is not an option of contest %q", s.Selection, s.ContestID)
		}
	}
	return nil
}

// CheckEnvelope verifies the public envelope: the ballot hash must match
// the ciphertext and both key-wrap fields must be present.
func CheckEnvelope(eb *models.EncryptedBallot) error {
	if eb.BallotID == "" {
		return models.NewError(models.ErrBallotInvalid, "ballot id missing")
	}
	if eb.WrappedBallotKey == "" || eb.WrappedKeyEPK == "" {
		return models.NewError(models.ErrBallotInvalid, "ballot key wrap incomplete")
	}
	packed, err := encryption.DecodeB64(eb.Ciphertext)
	if err != nil || len(packed) <= encryption.IVSize {
		return models.NewError(models.ErrBallotInvalid, "ciphertext malformed")
	}
	if Hash(packed) != eb.BallotHash {
		return models.NewError(models.ErrBallotInvalid, "ballot hash does not match ciphertext").
			WithDetail("ballot_id", eb.BallotID)
	}
	return nil
}

// Spoil discloses a ballot's secrets for cast-as-intended auditing.
func Spoil(s *Sealed, now time.Time) *models.SpoiledBallot {
	return &models.SpoiledBallot{
		Ballot:    s.Ballot,
		Plaintext: s.Plaintext,
		Secrets:   s.Secrets,
		SpoiledAt: models.FormatTime(now),
	}
}

// VerifySpoiled re-encrypts the revealed plaintext with the disclosed key
// and IV and byte-compares the result with the published ciphertext.
func VerifySpoiled(m *models.ElectionManifest, sb *models.SpoiledBallot) *models.VerificationReport {
	report := models.NewReport("spoiled_ballot")

	report.Add("ballot_id", sb.Plaintext.BallotID == sb.Ballot.BallotID, "")
	report.Add("envelope", CheckEnvelope(&sb.Ballot) == nil, "")

	key, err1 := encryption.DecodeB64(sb.Secrets.BallotKey)
	iv, err2 := encryption.DecodeB64(sb.Secrets.IV)
	if err1 != nil || err2 != nil {
		report.Add("reencryption", false, "disclosed secrets malformed")
	} else {
		packed, err := seal(key, iv, &sb.Plaintext)
		same := err == nil && encryption.EncodeB64(packed) == sb.Ballot.Ciphertext
		report.Add("reencryption", same, fmt.Sprintf("%d contests", len(sb.Plaintext.Contests)))
	}

	if m != nil {
		err := Validate(m, &sb.Plaintext)
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		report.Add("manifest_selections", err == nil, detail)
	}
	return report
}
