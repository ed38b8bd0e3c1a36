package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"ewp-backend/anonymizer"
	"ewp-backend/ballot"
	"ewp-backend/blockchain/evb"
	"ewp-backend/blockchain/ledger"
	"ewp-backend/encryption"
	"ewp-backend/models"
)

// TallyResultHash is the hash anchored by the tally event.
func TallyResultHash(t *models.TallyResult) (string, error) {
	h, err := encryption.CanonicalHash(encryption.DomainTally, t.SigningBody())
	if err != nil {
		return "", err
	}
	return encryption.EncodeHex(h), nil
}

// selectShares picks the named trustee shares, or the first t when none
// are named. Every share is checked against its published commitment.
func selectShares(st *models.ElectionState, trusteeIDs []string) ([]encryption.Share, error) {
	m := st.Manifest
	byID := make(map[string]models.TrusteeShareRecord, len(st.TrusteeShares))
	for _, s := range st.TrusteeShares {
		byID[s.ID] = s
	}
	if len(trusteeIDs) == 0 {
		for i := 0; i < m.TrusteeThreshold.T && i < len(st.TrusteeShares); i++ {
			trusteeIDs = append(trusteeIDs, st.TrusteeShares[i].ID)
		}
	}
	commitments := make(map[string]string, len(m.Trustees))
	for _, t := range m.Trustees {
		commitments[t.ID] = t.PublicKey
	}

	var shares []encryption.Share
	for _, id := range trusteeIDs {
		rec, ok := byID[id]
		if !ok {
			return nil, models.NewError(models.ErrNotFound, "unknown trustee %q", id)
		}
		y, err := encryption.ScalarFromB64(rec.Y)
		if err != nil {
			return nil, xerrors.Errorf("trustee %s share: %v", id, err)
		}
		if encryption.PointB64(encryption.PublicFromScalar(y)) != commitments[id] {
			return nil, models.NewError(models.ErrBadRequest, "share of trustee %q does not match its commitment", id)
		}
		shares = append(shares, encryption.Share{X: rec.X, Y: y})
	}
	return shares, nil
}

// reconstruct combines shares and requires the result to match the
// manifest's election public key. Too few shares reconstruct a wrong
// secret, which this check rejects.
func reconstruct(m *models.ElectionManifest, shares []encryption.Share) (kyber.Scalar, error) {
	x, err := encryption.ShamirCombine(shares)
	if err != nil {
		return nil, models.NewError(models.ErrBadRequest, "combine trustee shares: %v", err)
	}
	if encryption.PointB64(encryption.PublicFromScalar(x)) != m.ElectionPublicKey {
		return nil, models.NewError(models.ErrBadRequest,
			"reconstructed key does not match the election public key").
			WithDetail("shares", len(shares)).
			WithDetail("threshold", m.TrusteeThreshold.T)
	}
	// kyber's interpolation must agree with ours on the same shares.
	y, err := encryption.RecoverWithThreshold(shares, m.TrusteeThreshold.T, m.TrusteeThreshold.N)
	if err != nil || !y.Equal(x) {
		return nil, xerrors.Errorf("trustee share interpolations disagree: %v", err)
	}
	return x, nil
}

// countBallots decrypts and counts every ballot on the board in shuffled
// order. Ballots that fail to unwrap, decrypt or validate are excluded.
func countBallots(st *models.ElectionState, x kyber.Scalar) (map[string]map[string]int, int, int, error) {
	m := st.Manifest
	totals := make(map[string]map[string]int, len(m.Contests))
	for _, c := range m.Contests {
		totals[c.ContestID] = make(map[string]int, len(c.Options))
		for _, o := range c.Options {
			totals[c.ContestID][o.ID] = 0
		}
	}

	leaves, err := anonymizer.ShuffleLeaves(st.Leaves)
	if err != nil {
		return nil, 0, 0, err
	}
	counted, excluded := 0, 0
	for _, leaf := range leaves {
		eb := leaf.Payload.EncryptedBallot
		if leaf.Payload.Kind != models.LeafBallotCast || eb == nil {
			continue
		}
		pt, err := ballot.Decrypt(x, m.ElectionID, eb)
		if err == nil {
			err = ballot.Validate(m, pt)
		}
		if err != nil {
			log.WithField("index", leaf.Index).Warnf("Ballot excluded from tally: %v", err)
			excluded++
			continue
		}
		for _, sel := range pt.Contests {
			totals[sel.ContestID][sel.Selection]++
		}
		counted++
	}
	return totals, counted, excluded, nil
}

// PublishTally reconstructs the election key from trustee shares, counts
// the board and publishes the signed result. Once published, the tally is
// returned unchanged and casting is closed.
func (vs *VotingService) PublishTally(ctx context.Context, trusteeIDs []string) (*models.TallyResult, error) {
	start := time.Now()
	var (
		result *models.TallyResult
		ev     *models.VclEvent
	)
	err := vs.update(func(st *models.ElectionState) error {
		if st.Tally != nil {
			result = st.Tally
			return nil
		}
		m := st.Manifest
		if !VerifyManifestSignature(m) {
			return models.NewError(models.ErrBadManifest, "active manifest does not verify")
		}

		// 1. Reconstruct
		shares, err := selectShares(st, trusteeIDs)
		if err != nil {
			return err
		}
		x, err := reconstruct(m, shares)
		if err != nil {
			return err
		}

		// 2. Board must be committed
		board := evb.New(st, vs.signer)
		root, err := board.Root()
		if err != nil {
			return err
		}
		latest := st.LatestSTH()
		if latest != nil && (latest.RootHash != root || latest.TreeSize != len(st.Leaves)) {
			return models.NewError(models.ErrInternal, "board does not match its latest tree head")
		}

		// 3. Count
		totals, counted, excluded, err := countBallots(st, x)
		if err != nil {
			return err
		}
		t := &models.TallyResult{
			TallyID:       uuid.New().String(),
			ElectionID:    m.ElectionID,
			ManifestID:    m.ManifestID,
			BallotCount:   counted,
			ExcludedCount: excluded,
			SpoiledCount:  len(st.Spoiled),
			Totals:        totals,
			TreeSize:      len(st.Leaves),
			RootHash:      root,
			PublishedAt:   models.FormatTime(vs.now()),
		}
		if t.Signature, err = vs.signature(t.SigningBody()); err != nil {
			return err
		}

		// 4. Anchor
		resultHash, err := TallyResultHash(t)
		if err != nil {
			return err
		}
		ev, err = ledger.NewEvent(vs.signer, &models.TallyPublishedPayload{
			ElectionID:    m.ElectionID,
			TallyID:       t.TallyID,
			BallotCount:   t.BallotCount,
			ExcludedCount: t.ExcludedCount,
			RootHash:      t.RootHash,
			ResultHash:    resultHash,
		}, vs.now())
		if err != nil {
			return err
		}
		t.TxID = ev.TxID
		st.Events = append(st.Events, *ev)
		st.Tally = t
		result = t
		return nil
	})
	if err != nil {
		return nil, asError("publish tally", err)
	}
	if ev != nil {
		vs.metrics.RecordTally(start)
		log.WithFields(log.Fields{
			"election_id": result.ElectionID,
			"tx_id":       ev.TxID,
		}).Infof("Tally published: %d counted, %d excluded", result.BallotCount, result.ExcludedCount)
		vs.replicateAndRecord(ctx, ev)
	}
	return result, nil
}

// VerifyTally checks the tally signature, its ledger anchor and that it
// covers the board it claims.
func (vs *VotingService) VerifyTally(t *models.TallyResult) (*models.VerificationReport, error) {
	var report *models.VerificationReport
	err := vs.view(func(st *models.ElectionState) error {
		report = verifyTally(st, t)
		return nil
	})
	return report, asError("verify tally", err)
}

func verifyTally(st *models.ElectionState, t *models.TallyResult) *models.VerificationReport {
	report := models.NewReport("tally")
	m := st.Manifest

	sigOK := t.Signature != nil &&
		t.Signature.Kid == m.Signature.Kid &&
		encryption.VerifyCanonical(t.Signature.Kid, t.SigningBody(), t.Signature.Sig)
	report.Add("signature", sigOK, "")
	report.Add("manifest", t.ElectionID == m.ElectionID && t.ManifestID == m.ManifestID, "")

	anchorOK := false
	if ev := st.FindEvent(t.TxID); ev != nil && ledger.VerifyEvent(ev) == nil {
		if p, ok := ev.Payload.(*models.TallyPublishedPayload); ok {
			h, err := TallyResultHash(t)
			anchorOK = err == nil && p.ResultHash == h && p.TallyID == t.TallyID && p.RootHash == t.RootHash
		}
	}
	report.Add("ledger_anchor", anchorOK, t.TxID)

	headOK := false
	for _, sth := range st.STHs {
		if sth.TreeSize == t.TreeSize && sth.RootHash == t.RootHash {
			headOK = true
		}
	}
	if t.TreeSize == 0 {
		root, err := evb.New(st, nil).Root()
		headOK = err == nil && root == t.RootHash
	}
	report.Add("tree_head", headOK, fmt.Sprintf("size %d", t.TreeSize))

	ballots := 0
	for _, l := range st.Leaves {
		if l.Index < t.TreeSize && l.Payload.Kind == models.LeafBallotCast {
			ballots++
		}
	}
	report.Add("ballot_accounting", t.BallotCount+t.ExcludedCount == ballots,
		fmt.Sprintf("%d counted + %d excluded of %d", t.BallotCount, t.ExcludedCount, ballots))

	sum := true
	for _, c := range m.Contests {
		n := 0
		for _, v := range t.Totals[c.ContestID] {
			n += v
		}
		if n > t.BallotCount {
			sum = false
		}
	}
	report.Add("totals", sum, "")
	return report
}
