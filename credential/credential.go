// Package credential creates certified voter credentials and the
// election-scoped eligibility proofs built from them.
package credential

import (
	"fmt"
	"time"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"ewp-backend/encryption"
	"ewp-backend/models"
)

// DIDPrefix prefixes every credential DID.
const DIDPrefix = "did:ewp:"

// Issuer is a manifest-listed blind signer.
type Issuer struct {
	Index int
	*encryption.BlindIssuer
}

// DID derives the credential identifier from its public key.
func DID(pub kyber.Point) string {
	return DIDPrefix + encryption.EncodeHex(encryption.Keccak256(encryption.EncodePoint(pub)))
}

// Create generates a key pair and collects a blind signature on the public
// key from every issuer. Each run verifies its own output before it is kept.
func Create(issuers []Issuer, now time.Time) (*models.Credential, error) {
	if len(issuers) == 0 {
		return nil, xerrors.New("no issuers")
	}
	priv, pub := encryption.GenerateKeyPair()
	msg := encryption.EncodePoint(pub)

	cred := &models.Credential{
		DID:        DID(pub),
		PublicKey:  encryption.PointB64(pub),
		PrivateKey: encryption.ScalarB64(priv),
		IssuedAt:   models.FormatTime(now),
	}
	for _, is := range issuers {
		sig, err := encryption.BlindSchnorrIssuance(is.BlindIssuer, msg)
		if err != nil {
			return nil, xerrors.Errorf("issuer %d: %v", is.Index, err)
		}
		cred.IssuerSignatures = append(cred.IssuerSignatures, models.IssuerSignature{
			IssuerIndex: is.Index,
			R:           encryption.PointB64(sig.R),
			S:           encryption.ScalarB64(sig.S),
		})
	}
	return cred, nil
}

// Nullifier is H(domain ‖ credential_pub ‖ election_id), hex encoded. It is
// deterministic, so every cast by one credential in one election collides.
func Nullifier(credentialPub, electionID string) (string, error) {
	pub, err := encryption.DecodeB64(credentialPub)
	if err != nil {
		return "", xerrors.Errorf("credential public key: %v", err)
	}
	return encryption.HashHex(encryption.DomainNullifier, pub, []byte(electionID)), nil
}

// Transcript is the message a knowledge proof signs.
func Transcript(in models.PublicInputs) ([]byte, error) {
	return encryption.CanonicalHash(encryption.DomainEligibility, in)
}

// BuildEligibilityProof signs the transcript with the credential key and
// attaches its issuer signatures.
func BuildEligibilityProof(cred *models.Credential, in models.PublicInputs) (*models.EligibilityProof, error) {
	priv, err := encryption.ScalarFromB64(cred.PrivateKey)
	if err != nil {
		return nil, xerrors.Errorf("credential private key: %v", err)
	}
	msg, err := Transcript(in)
	if err != nil {
		return nil, err
	}
	sig, err := encryption.SignKnowledge(priv, msg)
	if err != nil {
		return nil, xerrors.Errorf("knowledge proof: %v", err)
	}
	return &models.EligibilityProof{
		PublicInputs:     in,
		CredentialPub:    cred.PublicKey,
		IssuerSignatures: append([]models.IssuerSignature(nil), cred.IssuerSignatures...),
		KnowledgeSig:     encryption.EncodeB64(sig),
	}, nil
}

// VerifyIssuerSignatures counts the distinct manifest issuers whose blind
// signature on credentialPub verifies.
func VerifyIssuerSignatures(m *models.ElectionManifest, credentialPub string, sigs []models.IssuerSignature) (int, []string) {
	var problems []string
	msg, err := encryption.DecodeB64(credentialPub)
	if err != nil {
		return 0, []string{"credential public key is not base64url"}
	}
	seen := make(map[int]bool)
	valid := 0
	for _, s := range sigs {
		if seen[s.IssuerIndex] {
			problems = append(problems, fmt.Sprintf("issuer %d listed twice", s.IssuerIndex))
			continue
		}
		seen[s.IssuerIndex] = true

		key := m.Issuer(s.IssuerIndex)
		if key == nil {
			problems = append(problems, fmt.Sprintf("issuer %d not in manifest", s.IssuerIndex))
			continue
		}
		pk, err1 := encryption.PointFromB64(key.PublicKey)
		r, err2 := encryption.PointFromB64(s.R)
		sc, err3 := encryption.ScalarFromB64(s.S)
		if err1 != nil || err2 != nil || err3 != nil {
			problems = append(problems, fmt.Sprintf("issuer %d signature malformed", s.IssuerIndex))
			continue
		}
		if !encryption.VerifyBlindSchnorr(pk, msg, &encryption.BlindSignature{R: r, S: sc}) {
			problems = append(problems, fmt.Sprintf("issuer %d signature invalid", s.IssuerIndex))
			continue
		}
		valid++
	}
	return valid, problems
}

// VerifyEligibilityProof runs every eligibility check against the manifest
// and the inputs expected for the request under review.
func VerifyEligibilityProof(m *models.ElectionManifest, proof *models.EligibilityProof, expected models.PublicInputs) *models.VerificationReport {
	report := models.NewReport("eligibility_proof")

	report.Add("public_inputs", proof.PublicInputs == expected, "")

	valid, problems := VerifyIssuerSignatures(m, proof.CredentialPub, proof.IssuerSignatures)
	detail := fmt.Sprintf("%d of %d required issuer signatures valid", valid, m.IssuerThreshold.T)
	if len(problems) > 0 {
		detail = fmt.Sprintf("%s; %v", detail, problems)
	}
	report.Add("issuer_threshold", valid >= m.IssuerThreshold.T && m.IssuerThreshold.T > 0, detail)

	pub, err := encryption.PointFromB64(proof.CredentialPub)
	sig, err2 := encryption.DecodeB64(proof.KnowledgeSig)
	msg, err3 := Transcript(proof.PublicInputs)
	ok := err == nil && err2 == nil && err3 == nil && encryption.VerifyKnowledge(pub, msg, sig)
	report.Add("knowledge_signature", ok, "")
	return report
}
