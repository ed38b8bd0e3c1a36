package service

import (
	"fmt"

	"ewp-backend/ballot"
	"ewp-backend/blockchain/evb"
	"ewp-backend/blockchain/ledger"
	"ewp-backend/blockchain/merkle"
	"ewp-backend/encryption"
	"ewp-backend/models"
)

// VerifyReceipt checks a cast receipt against the current election state.
// Every check runs; a receipt without ledger acks is local-only, which is
// not a failure.
func (vs *VotingService) VerifyReceipt(r *models.CastReceipt) (*models.VerificationReport, error) {
	var report *models.VerificationReport
	err := vs.view(func(st *models.ElectionState) error {
		report = verifyReceipt(st, r)
		return nil
	})
	return report, asError("verify receipt", err)
}

func verifyReceipt(st *models.ElectionState, r *models.CastReceipt) *models.VerificationReport {
	report := models.NewReport("cast_receipt")
	m := st.Manifest

	// 1. Signatures
	sigOK := r.Signature != nil &&
		r.Signature.Kid == m.Signature.Kid &&
		encryption.VerifyCanonical(r.Signature.Kid, r.SigningBody(), r.Signature.Sig)
	report.Add("receipt_signature", sigOK, "")
	report.Add("sth_signature", evb.VerifySTH(&r.STH) && r.STH.Kid == m.Signature.Kid, "")
	report.Add("manifest", r.ElectionID == m.ElectionID && r.ManifestID == m.ManifestID, "")

	// 2. Inclusion
	p := &r.InclusionProof
	report.Add("inclusion_proof", merkle.VerifyProof(p), fmt.Sprintf("leaf %d of %d", p.LeafIndex, p.TreeSize))
	report.Add("proof_matches_sth",
		p.RootHash == r.STH.RootHash && p.TreeSize == r.STH.TreeSize && p.LeafHash == r.LeafHash, "")

	published := false
	for _, sth := range st.STHs {
		if sth.TreeSize == r.STH.TreeSize && sth.RootHash == r.STH.RootHash && sth.Sig == r.STH.Sig {
			published = true
			break
		}
	}
	report.Add("sth_published", published, "")

	leafOK := false
	if p.LeafIndex >= 0 && p.LeafIndex < len(st.Leaves) {
		leaf := st.Leaves[p.LeafIndex]
		eb := leaf.Payload.EncryptedBallot
		leafOK = leaf.LeafHash == r.LeafHash && eb != nil &&
			eb.BallotID == r.BallotID && eb.BallotHash == r.BallotHash &&
			leaf.Payload.Nullifier == r.Nullifier
	}
	report.Add("board_leaf", leafOK, "")

	// 3. Ledger anchor
	anchor := r.VoteChainAnchor
	anchorOK := false
	if ev := st.FindEvent(anchor.TxID); ev != nil && ev.Type == anchor.EventType && ledger.VerifyEvent(ev) == nil {
		if cast, ok := ev.Payload.(*models.BallotCastPayload); ok {
			anchorOK = cast.Nullifier == r.Nullifier &&
				cast.BallotHash == r.BallotHash &&
				cast.LeafHash == r.LeafHash &&
				cast.RootHash == anchor.STHRootHash &&
				anchor.STHRootHash == r.STH.RootHash
		}
	}
	report.Add("ledger_anchor", anchorOK, anchor.TxID)

	// 4. Acks
	if len(r.LedgerAcks) == 0 {
		report.Add("ledger_acks", r.ReplicationStatus == models.ReplicationLocalOnly, r.ReplicationStatus)
	} else {
		acksOK := true
		for i := range r.LedgerAcks {
			ack := &r.LedgerAcks[i]
			known := ack.TxID == anchor.TxID || anchoredSTH(st, ack.TxID, &r.STH)
			if !known || !VerifyLedgerAck(st, ack) {
				acksOK = report.Add(fmt.Sprintf("ledger_ack_%d", i), false, string(ack.Role))
			}
		}
		report.Add("ledger_acks", acksOK, fmt.Sprintf("%d acks, %s", len(r.LedgerAcks), r.ReplicationStatus))
	}
	return report
}

// anchoredSTH reports whether txID is the event publishing sth.
func anchoredSTH(st *models.ElectionState, txID string, sth *models.SignedTreeHead) bool {
	ev := st.FindEvent(txID)
	if ev == nil {
		return false
	}
	p, ok := ev.Payload.(*models.STHPublishedPayload)
	return ok && p.STH.RootHash == sth.RootHash && p.STH.TreeSize == sth.TreeSize
}

// VerifyBallotOnBoard proves a ballot is included under the latest tree
// head.
func (vs *VotingService) VerifyBallotOnBoard(ballotID string) (*models.VerificationReport, error) {
	var report *models.VerificationReport
	err := vs.view(func(st *models.ElectionState) error {
		report = models.NewReport("ballot_on_board")
		board := evb.New(st, vs.signer)
		leaf := board.FindBallot(ballotID)
		if !report.Add("present", leaf != nil, ballotID) {
			return nil
		}
		h, err := merkle.LeafHash(leaf.Payload)
		report.Add("leaf_hash", err == nil && encryption.EncodeHex(h) == leaf.LeafHash, "")
		report.Add("envelope", leaf.Payload.EncryptedBallot != nil && ballot.CheckEnvelope(leaf.Payload.EncryptedBallot) == nil, "")

		proof, err := board.InclusionProof(leaf.Index)
		report.Add("inclusion_proof", err == nil && merkle.VerifyProof(proof), "")

		latest := st.LatestSTH()
		report.Add("latest_sth", latest != nil && evb.VerifySTH(latest) &&
			err == nil && latest.RootHash == proof.RootHash && latest.TreeSize == proof.TreeSize, "")
		return nil
	})
	return report, asError("verify ballot", err)
}

// VerifyManifest checks the active manifest, its roll commitment and its
// publication event.
func (vs *VotingService) VerifyManifest() (*models.VerificationReport, error) {
	var report *models.VerificationReport
	err := vs.view(func(st *models.ElectionState) error {
		report = verifyManifestState(st)
		return nil
	})
	return report, asError("verify manifest", err)
}

func verifyManifestState(st *models.ElectionState) *models.VerificationReport {
	report := VerifyManifest(st.Manifest)
	if st.Manifest == nil {
		return report
	}
	report.Add("voter_roll", verifyRollCommitment(st), fmt.Sprintf("ceiling %d", st.Manifest.VoterRoll.Ceiling))

	published := false
	for _, ev := range st.EventsOfType(models.EventManifestPublished) {
		if p, ok := ev.Payload.(*models.ManifestPublishedPayload); ok && p.ManifestID == st.Manifest.ManifestID {
			published = ledger.VerifyEvent(&ev) == nil
		}
	}
	report.Add("published", published, "")
	return report
}

// VerifyLocalLedger checks every local event and the cross-cutting
// invariants between events, credentials and the board.
func (vs *VotingService) VerifyLocalLedger() (*models.VerificationReport, error) {
	var report *models.VerificationReport
	err := vs.view(func(st *models.ElectionState) error {
		report = verifyLocalLedger(st, vs.signer)
		return nil
	})
	return report, asError("verify ledger", err)
}

func verifyLocalLedger(st *models.ElectionState, signer *encryption.Signer) *models.VerificationReport {
	report := models.NewReport("local_ledger")

	eventsOK := true
	txIDs := make(map[string]bool, len(st.Events))
	for i := range st.Events {
		ev := &st.Events[i]
		if err := ledger.VerifyEvent(ev); err != nil {
			eventsOK = report.Add(fmt.Sprintf("event_%d", i), false, err.Error())
		}
		if txIDs[ev.TxID] {
			eventsOK = report.Add(fmt.Sprintf("event_%d_unique", i), false, "duplicate tx_id")
		}
		txIDs[ev.TxID] = true
	}
	report.Add("events", eventsOK, fmt.Sprintf("%d events", len(st.Events)))

	issued := len(st.EventsOfType(models.EventCredentialIssued))
	ceiling := 0
	if st.Manifest != nil {
		ceiling = st.Manifest.VoterRoll.Ceiling
	}
	report.Add("credential_count", issued == len(st.Credentials) && issued <= ceiling,
		fmt.Sprintf("%d issued, %d events, ceiling %d", len(st.Credentials), issued, ceiling))

	nullifiers := make(map[string]bool)
	unique := true
	casts := st.EventsOfType(models.EventBallotCast)
	for _, ev := range casts {
		p, ok := ev.Payload.(*models.BallotCastPayload)
		if !ok {
			continue
		}
		if nullifiers[p.Nullifier] {
			unique = false
		}
		nullifiers[p.Nullifier] = true
	}
	report.Add("nullifier_uniqueness", unique, fmt.Sprintf("%d casts", len(casts)))
	report.Add("casts_on_board", len(casts) == len(st.Leaves), fmt.Sprintf("%d leaves", len(st.Leaves)))

	evb.New(st, signer).ValidateChain(report)
	return report
}
