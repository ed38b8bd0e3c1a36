package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"ewp-backend/blockchain/ledger"
	"ewp-backend/blockchain/merkle"
	"ewp-backend/credential"
	"ewp-backend/encryption"
	"ewp-backend/models"
	"ewp-backend/registry"
)

// IssueCredential certifies a credential for a voter on the roll. Issuing
// again for the same voter returns the stored credential unchanged.
func (vs *VotingService) IssueCredential(ctx context.Context, voterID string) (*models.Credential, error) {
	start := time.Now()
	var (
		cred *models.Credential
		ev   *models.VclEvent
	)
	err := vs.update(func(st *models.ElectionState) error {
		if existing := st.Credentials[voterID]; existing != nil {
			cred = existing
			return nil
		}
		m := st.Manifest

		// 1. Roll membership and commitment
		roll := registry.FromVoterIDs(st.VoterRoll)
		if _, err := roll.GetVoterDetails(voterID); err != nil {
			return models.NewError(models.ErrUnauthorized, "voter is not on the roll")
		}
		proof, err := roll.MembershipProof(voterID)
		if err != nil || proof.RootHash != m.VoterRoll.Root ||
			proof.LeafHash != encryption.EncodeHex(registry.RollLeaf(voterID)) || !merkle.VerifyProof(proof) {
			return models.NewError(models.ErrBadManifest, "voter is not under the manifest roll commitment")
		}
		if len(roll.VoterIDs()) != m.VoterRoll.Ceiling {
			return models.NewError(models.ErrBadManifest, "voter roll does not match manifest ceiling")
		}

		// 2. Ceiling
		if len(st.Credentials) >= m.VoterRoll.Ceiling {
			return models.NewError(models.ErrBadRequest, "issuance ceiling of %d reached", m.VoterRoll.Ceiling)
		}

		// 3. Blind issuance from every issuer
		is, err := issuers(st)
		if err != nil {
			return err
		}
		c, err := credential.Create(is, vs.now())
		if err != nil {
			return err
		}
		valid, problems := credential.VerifyIssuerSignatures(m, c.PublicKey, c.IssuerSignatures)
		if valid < m.IssuerThreshold.T {
			log.Errorf("Issued credential carries %d valid issuer signatures: %v", valid, problems)
			return models.NewError(models.ErrInternal, "credential certification failed")
		}

		// 4. Anchor
		indices := make([]int, 0, len(c.IssuerSignatures))
		for _, s := range c.IssuerSignatures {
			indices = append(indices, s.IssuerIndex)
		}
		ev, err = ledger.NewEvent(vs.signer, &models.CredentialIssuedPayload{
			ElectionID: m.ElectionID,
			DID:        c.DID,
			Issuers:    indices,
		}, vs.now())
		if err != nil {
			return err
		}
		st.Credentials[voterID] = c
		st.Events = append(st.Events, *ev)
		cred = c
		return nil
	})
	if err != nil {
		return nil, asError("issue credential", err)
	}
	if ev != nil {
		vs.metrics.RecordIssuance(start)
		log.WithField("tx_id", ev.TxID).Info("Credential issued")
		vs.replicateAndRecord(ctx, ev)
	}
	return cred, nil
}

// IssueChallenge creates a signed single-use cast challenge.
func (vs *VotingService) IssueChallenge() (*models.Challenge, error) {
	var ch *models.Challenge
	err := vs.update(func(st *models.ElectionState) error {
		raw, err := encryption.RandomBytes(32)
		if err != nil {
			return err
		}
		ttl := vs.cfg.ChallengeTTL.Duration
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		now := vs.now()
		c := &models.Challenge{
			ChallengeID: uuid.New().String(),
			ElectionID:  st.Manifest.ElectionID,
			Challenge:   encryption.EncodeB64(raw),
			IssuedAt:    models.FormatTime(now),
			ExpiresAt:   models.FormatTime(now.Add(ttl)),
		}
		c.Signature, err = vs.signature(c.Body())
		if err != nil {
			return err
		}
		st.Challenges[c.ChallengeID] = c
		ch = c
		return nil
	})
	if err != nil {
		return nil, asError("issue challenge", err)
	}
	return ch, nil
}

// VerifyChallenge checks a challenge's server signature.
func VerifyChallenge(c *models.Challenge) bool {
	if c == nil || c.Signature == nil {
		return false
	}
	return encryption.VerifyCanonical(c.Signature.Kid, c.Body(), c.Signature.Sig)
}

// checkChallenge accepts only a known, correctly signed, unused and
// unexpired challenge whose value matches the request. Every failure is
// reported as expired so callers fetch a fresh one.
func checkChallenge(st *models.ElectionState, kid string, req *models.CastRequest, now time.Time) *models.Error {
	c := st.Challenges[req.ChallengeID]
	switch {
	case c == nil:
		return models.NewError(models.ErrChallengeExpired, "unknown challenge")
	case c.Used:
		return models.NewError(models.ErrChallengeExpired, "challenge already used")
	case c.ElectionID != req.ElectionID || c.Challenge != req.Challenge:
		return models.NewError(models.ErrChallengeExpired, "challenge does not match request")
	case !VerifyChallenge(c) || c.Signature.Kid != kid:
		return models.NewError(models.ErrChallengeExpired, "challenge signature invalid")
	}
	expires, err := models.ParseTime(c.ExpiresAt)
	if err != nil || !now.Before(expires) {
		return models.NewError(models.ErrChallengeExpired, "challenge expired").
			WithDetail("expires_at", c.ExpiresAt)
	}
	return nil
}
