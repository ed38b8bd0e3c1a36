package service

import (
	"ewp-backend/ballot"
	"ewp-backend/blockchain/evb"
	"ewp-backend/credential"
	"ewp-backend/models"
)

// EncryptBallot seals selections for the active manifest.
func (vs *VotingService) EncryptBallot(selections []models.ContestSelection) (*ballot.Sealed, error) {
	var sealed *ballot.Sealed
	err := vs.view(func(st *models.ElectionState) error {
		var err error
		sealed, err = ballot.Encrypt(st.Manifest, selections, vs.now())
		return err
	})
	if err != nil {
		return nil, asError("encrypt ballot", err)
	}
	return sealed, nil
}

// SpoilBallot reveals a ballot's secrets instead of casting it. A ballot
// already on the board cannot be spoiled.
func (vs *VotingService) SpoilBallot(sealed *ballot.Sealed) (*models.SpoiledBallot, error) {
	var sb *models.SpoiledBallot
	err := vs.update(func(st *models.ElectionState) error {
		if evb.New(st, vs.signer).FindBallot(sealed.Ballot.BallotID) != nil {
			return models.NewError(models.ErrBallotInvalid, "ballot was cast and cannot be spoiled")
		}
		sb = ballot.Spoil(sealed, vs.now())
		st.Spoiled[sb.Ballot.BallotID] = sb
		return nil
	})
	if err != nil {
		return nil, asError("spoil ballot", err)
	}
	return sb, nil
}

// VerifySpoiledBallot audits a revealed ballot and checks it never reached
// the board.
func (vs *VotingService) VerifySpoiledBallot(sb *models.SpoiledBallot) (*models.VerificationReport, error) {
	var report *models.VerificationReport
	err := vs.view(func(st *models.ElectionState) error {
		report = ballot.VerifySpoiled(st.Manifest, sb)
		onBoard := evb.New(st, vs.signer).FindBallot(sb.Ballot.BallotID) != nil
		report.Add("not_cast", !onBoard, "")
		return nil
	})
	return report, asError("verify spoiled ballot", err)
}

// BuildCastRequest assembles a cast request for the credential held for
// voterID, bound to challenge.
func (vs *VotingService) BuildCastRequest(voterID string, challenge *models.Challenge, sealed *ballot.Sealed) (*models.CastRequest, error) {
	var req *models.CastRequest
	err := vs.view(func(st *models.ElectionState) error {
		cred := st.Credentials[voterID]
		if cred == nil {
			return models.NewError(models.ErrNotFound, "no credential issued for voter")
		}
		m := st.Manifest
		nullifier, err := credential.Nullifier(cred.PublicKey, m.ElectionID)
		if err != nil {
			return err
		}
		proof, err := credential.BuildEligibilityProof(cred, models.PublicInputs{
			ElectionID:     m.ElectionID,
			JurisdictionID: m.JurisdictionID,
			Nullifier:      nullifier,
			Challenge:      challenge.Challenge,
		})
		if err != nil {
			return err
		}
		req = &models.CastRequest{
			EWPVersion:       m.EWPVersion,
			ElectionID:       m.ElectionID,
			JurisdictionID:   m.JurisdictionID,
			ManifestID:       m.ManifestID,
			ChallengeID:      challenge.ChallengeID,
			Challenge:        challenge.Challenge,
			Nullifier:        nullifier,
			EligibilityProof: *proof,
			EncryptedBallot:  sealed.Ballot,
		}
		return nil
	})
	if err != nil {
		return nil, asError("build cast request", err)
	}
	return req, nil
}
