package service

import (
	"fmt"
	"time"

	"golang.org/x/xerrors"

	"ewp-backend/encryption"
	"ewp-backend/models"
	"ewp-backend/registry"
)

// ManifestID is the hex hash of the manifest with id and signature cleared.
func ManifestID(m *models.ElectionManifest) (string, error) {
	h, err := encryption.CanonicalHash(encryption.DomainManifest, m.IDBody())
	if err != nil {
		return "", err
	}
	return encryption.EncodeHex(h), nil
}

// SignManifest sets the manifest id and signs the result.
func SignManifest(signer *encryption.Signer, m *models.ElectionManifest) error {
	id, err := ManifestID(m)
	if err != nil {
		return err
	}
	m.ManifestID = id
	sig, err := signer.SignCanonical(m.SigningBody())
	if err != nil {
		return xerrors.Errorf("failed to sign manifest: %v", err)
	}
	m.Signature = &models.Signature{Alg: models.SignatureAlg, Kid: signer.Kid(), Sig: sig}
	return nil
}

// VerifyManifestSignature checks the manifest id and signature.
func VerifyManifestSignature(m *models.ElectionManifest) bool {
	if m == nil || m.Signature == nil {
		return false
	}
	id, err := ManifestID(m)
	if err != nil || id != m.ManifestID {
		return false
	}
	return m.Signature.Alg == models.SignatureAlg &&
		encryption.VerifyCanonical(m.Signature.Kid, m.SigningBody(), m.Signature.Sig)
}

// VerifyManifest runs every structural and cryptographic manifest check.
func VerifyManifest(m *models.ElectionManifest) *models.VerificationReport {
	report := models.NewReport("manifest")
	if m == nil {
		report.Add("present", false, "no manifest")
		return report
	}

	id, err := ManifestID(m)
	report.Add("manifest_id", err == nil && id == m.ManifestID, "")
	report.Add("signature", VerifyManifestSignature(m), "")
	report.Add("version", m.EWPVersion == models.EWPVersion, m.EWPVersion)
	report.Add("suite", m.SuiteID == encryption.SuiteID, m.SuiteID)

	start, err1 := models.ParseTime(m.NotBefore)
	end, err2 := models.ParseTime(m.NotAfter)
	report.Add("validity_window", err1 == nil && err2 == nil && start.Before(end), "")

	_, err = encryption.PointFromB64(m.ElectionPublicKey)
	report.Add("election_public_key", err == nil, "")

	keysOK := len(m.Issuers) == m.IssuerThreshold.N
	for _, is := range m.Issuers {
		if _, err := encryption.PointFromB64(is.PublicKey); err != nil {
			keysOK = false
		}
	}
	report.Add("issuers", keysOK && m.IssuerThreshold.T >= 1 && m.IssuerThreshold.T <= m.IssuerThreshold.N,
		fmt.Sprintf("%d-of-%d", m.IssuerThreshold.T, m.IssuerThreshold.N))

	trusteesOK := len(m.Trustees) == m.TrusteeThreshold.N
	for _, t := range m.Trustees {
		if _, err := encryption.PointFromB64(t.PublicKey); err != nil {
			trusteesOK = false
		}
	}
	report.Add("trustees", trusteesOK && m.TrusteeThreshold.T >= 2 && m.TrusteeThreshold.T <= m.TrusteeThreshold.N,
		fmt.Sprintf("%d-of-%d", m.TrusteeThreshold.T, m.TrusteeThreshold.N))

	contestsOK := len(m.Contests) > 0
	seen := make(map[string]bool)
	for _, c := range m.Contests {
		if seen[c.ContestID] || len(c.Options) == 0 {
			contestsOK = false
		}
		seen[c.ContestID] = true
	}
	report.Add("contests", contestsOK, fmt.Sprintf("%d contests", len(m.Contests)))
	return report
}

// checkManifestForCast verifies the active manifest and that the request
// targets it while its window is open.
func checkManifestForCast(st *models.ElectionState, req *models.CastRequest, now time.Time) *models.Error {
	m := st.Manifest
	if !VerifyManifestSignature(m) {
		return models.NewError(models.ErrBadManifest, "active manifest does not verify")
	}
	if req.EWPVersion != m.EWPVersion {
		return models.NewError(models.ErrBadManifest, "unsupported protocol version %q", req.EWPVersion)
	}
	if req.ElectionID != m.ElectionID || req.JurisdictionID != m.JurisdictionID || req.ManifestID != m.ManifestID {
		return models.NewError(models.ErrBadManifest, "request does not match the active manifest").
			WithDetail("manifest_id", m.ManifestID)
	}
	session, err := SessionFromManifest(m)
	if err != nil {
		return models.NewError(models.ErrBadManifest, "manifest window unreadable")
	}
	if st.Tally != nil {
		session.End()
	}
	if !session.IsActive(now) {
		return models.NewError(models.ErrBadManifest, "election is not open for casting").
			WithDetail("not_before", m.NotBefore).
			WithDetail("not_after", m.NotAfter)
	}
	return nil
}

// verifyRollCommitment checks the stored roll against the manifest commitment.
func verifyRollCommitment(st *models.ElectionState) bool {
	return registry.FromVoterIDs(st.VoterRoll).Commitment() == st.Manifest.VoterRoll
}
