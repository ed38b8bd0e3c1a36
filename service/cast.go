package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"ewp-backend/ballot"
	"ewp-backend/blockchain/evb"
	"ewp-backend/blockchain/ledger"
	"ewp-backend/blockchain/merkle"
	"ewp-backend/credential"
	"ewp-backend/encryption"
	"ewp-backend/models"
)

// RequestHash is the idempotency fingerprint of a cast request.
func RequestHash(req *models.CastRequest) (string, error) {
	h, err := encryption.CanonicalHash(encryption.DomainRequest, req)
	if err != nil {
		return "", err
	}
	return encryption.EncodeHex(h), nil
}

// anchored is what the locked part of a cast hands to replication.
type anchored struct {
	leaf    models.BbLeaf
	sth     models.SignedTreeHead
	proof   *models.InclusionProof
	castEv  *models.VclEvent
	sthEv   *models.VclEvent
	ballot  models.EncryptedBallot
	request *models.CastRequest
	// resumed marks a stalled cast rebuilt from the stored state; it is
	// not replicated again.
	resumed bool
}

// CastBallot runs the cast protocol and returns the exact response bytes.
// Retrying with the same idempotency key and body returns the same bytes;
// an empty key falls back to the request hash. On failure the error is
// always a *models.Error.
func (vs *VotingService) CastBallot(ctx context.Context, idempotencyKey string, req *models.CastRequest) ([]byte, error) {
	if !vs.castSlots.TryAcquire(1) {
		return nil, models.NewError(models.ErrGatewayOverloaded, "too many casts in flight")
	}
	defer vs.castSlots.Release(1)

	start := time.Now()
	resp, err := vs.castBallot(ctx, idempotencyKey, req)
	vs.metrics.RecordCast(start, err == nil)
	return resp, asError("cast ballot", err)
}

func (vs *VotingService) castBallot(ctx context.Context, key string, req *models.CastRequest) ([]byte, error) {
	if req == nil {
		return nil, models.NewError(models.ErrBadRequest, "empty cast request")
	}
	reqHash, err := RequestHash(req)
	if err != nil {
		return nil, models.NewError(models.ErrBadRequest, "request cannot be canonicalized")
	}
	if key == "" {
		key = reqHash
	}

	a, cached, fraud, err := vs.anchorCast(key, reqHash, req)
	if fraud != nil {
		vs.replicateAndRecord(ctx, fraud)
	}
	if err != nil || cached != nil {
		return cached, err
	}

	rep := &Replication{}
	if !a.resumed {
		rep = vs.replicateAndRecord(ctx, a.castEv, a.sthEv)
	}
	return vs.finishCast(key, a, rep)
}

// anchorCast runs every check and, on success, appends the ballot to the
// board and the local ledger under one save. A nullifier collision is
// persisted as a fraud flag even though the cast is rejected.
func (vs *VotingService) anchorCast(key, reqHash string, req *models.CastRequest) (*anchored, []byte, *models.VclEvent, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	st, err := vs.store.Load()
	if err != nil {
		return nil, nil, nil, notInitialized(err)
	}
	now := vs.now()

	// 1. Idempotency
	if rec := st.Idempotency[key]; rec != nil {
		if rec.RequestHash != reqHash {
			return nil, nil, nil, models.NewError(models.ErrIdempotencyMismatch,
				"idempotency key was used with a different request")
		}
		if rec.Status == models.IdempotencyPending {
			if !vs.stalled(rec, now) {
				return nil, nil, nil, models.NewError(models.ErrGatewayOverloaded,
					"cast with this idempotency key is still in progress")
			}
			a, err := resumeCast(st, rec, req)
			if err != nil {
				return nil, nil, nil, err
			}
			log.WithFields(log.Fields{
				"election_id": req.ElectionID,
				"tx_id":       rec.CastTxID,
			}).Warn("Finishing stalled cast")
			return a, nil, nil, nil
		}
		return nil, []byte(rec.Response), nil, nil
	}

	// 2. Manifest
	if e := checkManifestForCast(st, req, now); e != nil {
		return nil, nil, nil, e
	}

	// 3. Challenge
	if e := checkChallenge(st, vs.signer.Kid(), req, now); e != nil {
		return nil, nil, nil, e
	}

	// 4. Eligibility proof
	proof := &req.EligibilityProof
	nullifier, err := credential.Nullifier(proof.CredentialPub, st.Manifest.ElectionID)
	if err != nil || nullifier != req.Nullifier {
		return nil, nil, nil, models.NewError(models.ErrProofInvalid, "nullifier does not derive from the credential")
	}
	report := credential.VerifyEligibilityProof(st.Manifest, proof, models.PublicInputs{
		ElectionID:     req.ElectionID,
		JurisdictionID: req.JurisdictionID,
		Nullifier:      req.Nullifier,
		Challenge:      req.Challenge,
	})
	if !report.OK() {
		return nil, nil, nil, models.NewError(models.ErrProofInvalid, "eligibility proof rejected").
			WithDetail("checks", failedChecks(report))
	}

	// 5. Nullifier uniqueness
	if prior := findCast(st, req.Nullifier); prior != nil {
		fraud, err := ledger.NewEvent(vs.signer, &models.FraudFlagPayload{
			CaseID:           uuid.New().String(),
			ElectionID:       req.ElectionID,
			Reason:           models.ReasonNullifierReuse,
			EvidenceStrength: models.EvidenceCryptographic,
			Status:           models.FraudPendingReview,
			Severity:         models.SeverityHigh,
			Nullifier:        req.Nullifier,
			ChallengeID:      req.ChallengeID,
			PriorTxID:        prior.TxID,
		}, now)
		if err != nil {
			return nil, nil, nil, err
		}
		st.Events = append(st.Events, *fraud)
		if err := vs.saveLocked(st); err != nil {
			return nil, nil, nil, err
		}
		log.WithFields(log.Fields{
			"election_id": req.ElectionID,
			"tx_id":       fraud.TxID,
		}).Warn("Nullifier reuse flagged")
		return nil, nil, fraud, models.NewError(models.ErrNullifierUsed, "nullifier already used").
			WithDetail("prior_tx_id", prior.TxID)
	}

	// 6. Envelope
	if err := ballot.CheckEnvelope(&req.EncryptedBallot); err != nil {
		return nil, nil, nil, err
	}
	board := evb.New(st, vs.signer).WithClock(vs.now)
	if board.FindBallot(req.EncryptedBallot.BallotID) != nil {
		return nil, nil, nil, models.NewError(models.ErrBallotInvalid, "ballot id already on the board")
	}
	if st.Spoiled[req.EncryptedBallot.BallotID] != nil {
		return nil, nil, nil, models.NewError(models.ErrBallotInvalid, "ballot was spoiled")
	}

	// 7. Anchor
	a, err := vs.anchor(st, board, req, now)
	if err != nil {
		return nil, nil, nil, err
	}
	st.Idempotency[key] = &models.IdempotencyRecord{
		Key:         key,
		RequestHash: reqHash,
		Status:      models.IdempotencyPending,
		CreatedAt:   models.FormatTime(now),
		CastTxID:    a.castEv.TxID,
		STHTxID:     a.sthEv.TxID,
	}
	if err := vs.saveLocked(st); err != nil {
		return nil, nil, nil, err
	}
	log.WithFields(log.Fields{
		"election_id": req.ElectionID,
		"index":       a.leaf.Index,
		"tx_id":       a.castEv.TxID,
	}).Info("Ballot cast recorded")
	return a, nil, nil, nil
}

func (vs *VotingService) anchor(st *models.ElectionState, board *evb.EVB, req *models.CastRequest, now time.Time) (*anchored, error) {
	ch := st.Challenges[req.ChallengeID]
	ch.Used = true
	ch.UsedAt = models.FormatTime(now)

	eb := req.EncryptedBallot
	leaf, err := board.Append(models.LeafPayload{
		Kind:            models.LeafBallotCast,
		ElectionID:      req.ElectionID,
		Nullifier:       req.Nullifier,
		EncryptedBallot: &eb,
		ReceivedAt:      models.FormatTime(now),
	})
	if err != nil {
		return nil, err
	}
	sth, err := board.IssueSTH()
	if err != nil {
		return nil, err
	}
	proof, err := board.InclusionProof(leaf.Index)
	if err != nil {
		return nil, err
	}

	castEv, err := ledger.NewEvent(vs.signer, &models.BallotCastPayload{
		ElectionID:     req.ElectionID,
		JurisdictionID: req.JurisdictionID,
		ManifestID:     req.ManifestID,
		BallotID:       eb.BallotID,
		Nullifier:      req.Nullifier,
		BallotHash:     eb.BallotHash,
		LeafIndex:      leaf.Index,
		LeafHash:       leaf.LeafHash,
		RootHash:       sth.RootHash,
		TreeSize:       sth.TreeSize,
	}, now)
	if err != nil {
		return nil, err
	}
	sthEv, err := ledger.NewEvent(vs.signer, &models.STHPublishedPayload{
		ElectionID: req.ElectionID,
		STH:        *sth,
	}, now)
	if err != nil {
		return nil, err
	}
	st.Events = append(st.Events, *castEv, *sthEv)

	return &anchored{
		leaf:    *leaf,
		sth:     *sth,
		proof:   proof,
		castEv:  castEv,
		sthEv:   sthEv,
		ballot:  eb,
		request: req,
	}, nil
}

// stalled reports whether a pending record outlived the replication
// window, meaning the cast that created it never finished.
func (vs *VotingService) stalled(rec *models.IdempotencyRecord, now time.Time) bool {
	created, err := models.ParseTime(rec.CreatedAt)
	if err != nil || rec.CastTxID == "" {
		return false
	}
	timeout := vs.cfg.ReplicationTimeout.Duration
	if timeout <= 0 {
		timeout = ledger.DefaultTimeout
	}
	return now.Sub(created) > timeout
}

// resumeCast rebuilds the anchored cast a pending record points at. The
// inclusion proof is taken against the tree head issued with the cast.
func resumeCast(st *models.ElectionState, rec *models.IdempotencyRecord, req *models.CastRequest) (*anchored, error) {
	castEv, sthEv := findEvent(st, rec.CastTxID), findEvent(st, rec.STHTxID)
	if castEv == nil || sthEv == nil {
		return nil, xerrors.Errorf("pending cast %s has no anchored events", rec.Key)
	}
	cast, ok := castEv.Payload.(*models.BallotCastPayload)
	if !ok {
		return nil, xerrors.Errorf("event %s is not a ballot cast", castEv.TxID)
	}
	published, ok := sthEv.Payload.(*models.STHPublishedPayload)
	if !ok {
		return nil, xerrors.Errorf("event %s is not a tree head", sthEv.TxID)
	}
	board := evb.New(st, nil)
	leaf, err := board.Leaf(cast.LeafIndex)
	if err != nil {
		return nil, err
	}
	if leaf.Payload.EncryptedBallot == nil {
		return nil, xerrors.Errorf("leaf %d carries no ballot", leaf.Index)
	}
	hashes := board.LeafHashes()
	if published.STH.TreeSize > len(hashes) {
		return nil, xerrors.Errorf("tree head covers %d leaves, board has %d", published.STH.TreeSize, len(hashes))
	}
	proof, err := merkle.ProofHex(hashes[:published.STH.TreeSize], leaf.Index)
	if err != nil {
		return nil, err
	}
	return &anchored{
		leaf:    *leaf,
		sth:     published.STH,
		proof:   proof,
		castEv:  castEv,
		sthEv:   sthEv,
		ballot:  *leaf.Payload.EncryptedBallot,
		request: req,
		resumed: true,
	}, nil
}

func findEvent(st *models.ElectionState, txID string) *models.VclEvent {
	if txID == "" {
		return nil
	}
	for i := range st.Events {
		if st.Events[i].TxID == txID {
			return &st.Events[i]
		}
	}
	return nil
}

// finishCast signs the receipt and completes the idempotency record.
func (vs *VotingService) finishCast(key string, a *anchored, rep *Replication) ([]byte, error) {
	var resp []byte
	err := vs.update(func(st *models.ElectionState) error {
		receipt := &models.CastReceipt{
			ReceiptID:      uuid.New().String(),
			ElectionID:     a.request.ElectionID,
			ManifestID:     a.request.ManifestID,
			BallotID:       a.ballot.BallotID,
			BallotHash:     a.ballot.BallotHash,
			Nullifier:      a.request.Nullifier,
			LeafHash:       a.leaf.LeafHash,
			STH:            a.sth,
			InclusionProof: *a.proof,
			VoteChainAnchor: models.VoteChainAnchor{
				TxID:        a.castEv.TxID,
				EventType:   a.castEv.Type,
				STHRootHash: a.sth.RootHash,
			},
			LedgerAcks:        rep.Acks,
			ReplicationStatus: rep.Status(),
			IssuedAt:          models.FormatTime(vs.now()),
		}
		sig, err := vs.signature(receipt.SigningBody())
		if err != nil {
			return err
		}
		receipt.Signature = sig

		resp, err = encryption.Canonical(models.CastResponse{
			Status:      models.StatusCastRecorded,
			CastReceipt: receipt,
		})
		if err != nil {
			return err
		}
		rec := st.Idempotency[key]
		if rec == nil {
			return xerrors.Errorf("idempotency record %s vanished", key)
		}
		rec.Status = models.IdempotencyComplete
		rec.Response = string(resp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// findCast returns the accepted cast event carrying nullifier.
func findCast(st *models.ElectionState, nullifier string) *models.VclEvent {
	for i := range st.Events {
		ev := &st.Events[i]
		if p, ok := ev.Payload.(*models.BallotCastPayload); ok && p.Nullifier == nullifier {
			return ev
		}
	}
	return nil
}

func failedChecks(r *models.VerificationReport) []string {
	var out []string
	for _, c := range r.Checks {
		if c.Status != models.CheckOK {
			out = append(out, c.Name)
		}
	}
	return out
}
