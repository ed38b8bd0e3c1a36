package evb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"ewp-backend/blockchain/merkle"
	"ewp-backend/encryption"
	"ewp-backend/models"
)

func newBoard(t *testing.T) (*EVB, *models.ElectionState) {
	signer, err := encryption.NewSigner()
	require.NoError(t, err)
	state := models.NewElectionState()
	return New(state, signer), state
}

func ballotPayload(i int) models.LeafPayload {
	return models.LeafPayload{
		Kind:       models.LeafBallotCast,
		ElectionID: "e1",
		Nullifier:  fmt.Sprintf("n%d", i),
		EncryptedBallot: &models.EncryptedBallot{
			BallotID:   fmt.Sprintf("b%d", i),
			Ciphertext: "c",
			BallotHash: "h",
		},
		ReceivedAt: "2026-01-01T00:00:00.000Z",
	}
}

func TestEVB_AppendIssuesVerifiableHeads(t *testing.T) {
	board, state := newBoard(t)
	for i := 0; i < 7; i++ {
		leaf, err := board.Append(ballotPayload(i))
		require.NoError(t, err)
		require.Equal(t, i, leaf.Index)

		sth, err := board.IssueSTH()
		require.NoError(t, err)
		require.Equal(t, i+1, sth.TreeSize)
		require.True(t, VerifySTH(sth))

		proof, err := board.InclusionProof(leaf.Index)
		require.NoError(t, err)
		require.Equal(t, sth.RootHash, proof.RootHash)
		require.True(t, merkle.VerifyProof(proof))
	}
	require.Len(t, state.STHs, 7)
	require.Len(t, board.GetAllBallots(), 7)
	require.NotNil(t, board.FindBallot("b3"))
	require.Nil(t, board.FindBallot("missing"))

	report := models.NewReport("board")
	require.True(t, board.ValidateChain(report))
	require.True(t, report.OK())
}

func TestEVB_DetectsTampering(t *testing.T) {
	board, state := newBoard(t)
	for i := 0; i < 3; i++ {
		_, err := board.Append(ballotPayload(i))
		require.NoError(t, err)
		_, err = board.IssueSTH()
		require.NoError(t, err)
	}
	state.Leaves[1].Payload.Nullifier = "forged"

	report := models.NewReport("board")
	require.False(t, board.ValidateChain(report))
	c, ok := report.Check("leaf_hashes")
	require.True(t, ok)
	require.Equal(t, models.CheckFail, c.Status)
}

func TestEVB_StaleHeadFails(t *testing.T) {
	board, _ := newBoard(t)
	_, err := board.Append(ballotPayload(0))
	require.NoError(t, err)
	_, err = board.IssueSTH()
	require.NoError(t, err)
	_, err = board.Append(ballotPayload(1))
	require.NoError(t, err)

	report := models.NewReport("board")
	require.False(t, board.ValidateChain(report))
	c, _ := report.Check("latest_sth_root")
	require.Equal(t, models.CheckFail, c.Status)
}

func TestVerifySTH_RejectsForgery(t *testing.T) {
	board, _ := newBoard(t)
	sth, err := board.IssueSTH()
	require.NoError(t, err)
	require.True(t, VerifySTH(sth))

	forged := *sth
	forged.TreeSize = 9
	require.False(t, VerifySTH(&forged))
	require.False(t, VerifySTH(nil))
}

func TestEVB_Lookup(t *testing.T) {
	board, _ := newBoard(t)
	for i := 0; i < 3; i++ {
		_, err := board.Append(ballotPayload(i))
		require.NoError(t, err)
	}

	leaf, err := board.Leaf(1)
	require.NoError(t, err)
	require.Equal(t, "b1", leaf.Payload.EncryptedBallot.BallotID)
	require.Equal(t, leaf, board.FindBallot("b1"))
	require.Nil(t, board.FindBallot("b9"))

	_, err = board.Leaf(3)
	require.ErrorIs(t, err, ErrNotFound)
	require.Len(t, board.GetAllBallots(), 3)
}
