// Package evb is the encrypted-vote bulletin board: an append-only Merkle
// log of cast ballots with a signed tree head issued after every append.
package evb

import (
	"encoding/hex"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"ewp-backend/blockchain/merkle"
	"ewp-backend/encryption"
	"ewp-backend/models"
)

// EVB operates on the leaves and tree heads held in an election state. It
// has no lock of its own: the engine calls it inside its critical section.
type EVB struct {
	state  *models.ElectionState
	signer *encryption.Signer
	now    func() time.Time
}

func New(state *models.ElectionState, signer *encryption.Signer) *EVB {
	return &EVB{state: state, signer: signer, now: time.Now}
}

// WithClock overrides the time source.
func (evb *EVB) WithClock(now func() time.Time) *EVB {
	evb.now = now
	return evb
}

// Append adds a leaf. Positions are permanent once assigned.
func (evb *EVB) Append(payload models.LeafPayload) (*models.BbLeaf, error) {
	h, err := merkle.LeafHash(payload)
	if err != nil {
		return nil, xerrors.Errorf("failed to hash leaf: %w", err)
	}
	leaf := models.BbLeaf{
		Index:    len(evb.state.Leaves),
		LeafHash: hex.EncodeToString(h),
		Payload:  payload,
	}
	evb.state.Leaves = append(evb.state.Leaves, leaf)
	log.WithField("election_id", payload.ElectionID).Debugf("Appended board leaf %d", leaf.Index)
	return &evb.state.Leaves[leaf.Index], nil
}

// LeafHashes returns the hex leaf hashes in board order.
func (evb *EVB) LeafHashes() []string {
	out := make([]string, len(evb.state.Leaves))
	for i, l := range evb.state.Leaves {
		out[i] = l.LeafHash
	}
	return out
}

// Root computes the current root hash.
func (evb *EVB) Root() (string, error) {
	return merkle.RootHex(evb.LeafHashes())
}

// IssueSTH signs and records a tree head over the current leaves.
func (evb *EVB) IssueSTH() (*models.SignedTreeHead, error) {
	root, err := evb.Root()
	if err != nil {
		return nil, err
	}
	sth := models.SignedTreeHead{
		TreeSize:  len(evb.state.Leaves),
		RootHash:  root,
		Timestamp: models.FormatTime(evb.now()),
		Kid:       evb.signer.Kid(),
	}
	sig, err := evb.signer.SignCanonical(sth.Body())
	if err != nil {
		return nil, xerrors.Errorf("failed to sign tree head: %w", err)
	}
	sth.Sig = sig
	evb.state.STHs = append(evb.state.STHs, sth)
	return &sth, nil
}

// InclusionProof proves the leaf at index against the current root.
func (evb *EVB) InclusionProof(index int) (*models.InclusionProof, error) {
	return merkle.ProofHex(evb.LeafHashes(), index)
}

// FindBallot returns the leaf holding ballotID.
func (evb *EVB) FindBallot(ballotID string) *models.BbLeaf {
	for i := range evb.state.Leaves {
		eb := evb.state.Leaves[i].Payload.EncryptedBallot
		if eb != nil && eb.BallotID == ballotID {
			return &evb.state.Leaves[i]
		}
	}
	return nil
}

// GetAllBallots returns every ballot envelope on the board in order.
func (evb *EVB) GetAllBallots() []models.EncryptedBallot {
	var all []models.EncryptedBallot
	for _, l := range evb.state.Leaves {
		if l.Payload.Kind == models.LeafBallotCast && l.Payload.EncryptedBallot != nil {
			all = append(all, *l.Payload.EncryptedBallot)
		}
	}
	return all
}

// VerifySTH checks a tree head's signature.
func VerifySTH(sth *models.SignedTreeHead) bool {
	if sth == nil || sth.Sig == "" {
		return false
	}
	return encryption.VerifyCanonical(sth.Kid, sth.Body(), sth.Sig)
}

// ValidateChain re-derives every leaf hash, checks every tree head and
// requires the latest head to commit to the current leaves.
func (evb *EVB) ValidateChain(report *models.VerificationReport) bool {
	ok := true
	for _, l := range evb.state.Leaves {
		h, err := merkle.LeafHash(l.Payload)
		if err != nil || hex.EncodeToString(h) != l.LeafHash {
			ok = report.Add(fmt.Sprintf("leaf_%d_hash", l.Index), false, "leaf hash does not match payload")
		}
	}
	report.Add("leaf_hashes", ok, fmt.Sprintf("%d leaves", len(evb.state.Leaves)))

	prevSize := 0
	sthOK := true
	for i := range evb.state.STHs {
		sth := &evb.state.STHs[i]
		if !VerifySTH(sth) {
			sthOK = report.Add(fmt.Sprintf("sth_%d_signature", i), false, "bad signature")
		}
		if sth.TreeSize < prevSize {
			sthOK = report.Add(fmt.Sprintf("sth_%d_size", i), false, "tree head shrank")
		}
		prevSize = sth.TreeSize
	}
	report.Add("sth_history", sthOK, fmt.Sprintf("%d tree heads", len(evb.state.STHs)))

	latest := evb.state.LatestSTH()
	root, err := evb.Root()
	switch {
	case err != nil:
		report.Add("latest_sth_root", false, err.Error())
		return false
	case latest == nil:
		return report.Add("latest_sth_root", len(evb.state.Leaves) == 0, "no tree head issued") && ok && sthOK
	case latest.TreeSize != len(evb.state.Leaves) || latest.RootHash != root:
		report.Add("latest_sth_root", false, "latest tree head does not match leaves")
		return false
	}
	report.Add("latest_sth_root", true, "")
	return ok && sthOK
}

// ErrNotFound is returned for unknown leaves.
var ErrNotFound = xerrors.New("leaf not found")

// Leaf returns the leaf at index.
func (evb *EVB) Leaf(index int) (*models.BbLeaf, error) {
	if index < 0 || index >= len(evb.state.Leaves) {
		return nil, ErrNotFound
	}
	return &evb.state.Leaves[index], nil
}
