package merkle

import (
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"ewp-backend/models"
)

func randomLeaves(t *testing.T, n int) [][]byte {
	leaves := make([][]byte, n)
	for i := range leaves {
		h, err := LeafHash(map[string]interface{}{"i": i, "r": rand.Int63()})
		require.NoError(t, err)
		leaves[i] = h
	}
	return leaves
}

func flipHex(s string) string {
	b, _ := hex.DecodeString(s)
	b[0] ^= 0xff
	return hex.EncodeToString(b)
}

func TestProof_SoundForAllSizes(t *testing.T) {
	for n := 1; n <= 50; n++ {
		leaves := randomLeaves(t, n)
		root := hex.EncodeToString(Root(leaves))
		for i := 0; i < n; i++ {
			p, err := Proof(leaves, i)
			require.NoError(t, err)
			require.Equal(t, root, p.RootHash, "n=%d i=%d", n, i)
			require.True(t, VerifyProof(p), "n=%d i=%d", n, i)
		}
	}
}

func TestProof_TamperingFails(t *testing.T) {
	leaves := randomLeaves(t, 13)
	for i := 0; i < len(leaves); i++ {
		p, err := Proof(leaves, i)
		require.NoError(t, err)

		bad := *p
		bad.LeafHash = flipHex(p.LeafHash)
		require.False(t, VerifyProof(&bad), "leaf %d", i)

		for s := range p.Path {
			path := append([]models.ProofStep(nil), p.Path...)
			path[s].Hash = flipHex(path[s].Hash)
			bad := *p
			bad.Path = path
			require.False(t, VerifyProof(&bad), "leaf %d sibling %d", i, s)

			path = append([]models.ProofStep(nil), p.Path...)
			if path[s].Side == models.SideLeft {
				path[s].Side = models.SideRight
			} else {
				path[s].Side = models.SideLeft
			}
			bad.Path = path
			require.False(t, VerifyProof(&bad), "leaf %d side %d", i, s)
		}

		bad = *p
		bad.RootHash = flipHex(p.RootHash)
		require.False(t, VerifyProof(&bad))

		bad = *p
		bad.Path = p.Path[:len(p.Path)-1]
		require.False(t, VerifyProof(&bad))
	}
}

func TestRoot_DuplicateLastNode(t *testing.T) {
	leaves := randomLeaves(t, 3)
	want := NodeHash(NodeHash(leaves[0], leaves[1]), NodeHash(leaves[2], leaves[2]))
	require.Equal(t, want, Root(leaves))
	require.Equal(t, leaves[0], Root(leaves[:1]))
	require.Equal(t, EmptyRoot(), Root(nil))
}

func TestProof_RejectsDuplicateSizeConfusion(t *testing.T) {
	leaves := randomLeaves(t, 3)
	p, err := Proof(leaves, 2)
	require.NoError(t, err)

	padded := append(append([][]byte{}, leaves...), leaves[2])
	require.Equal(t, Root(leaves), Root(padded))

	q, err := Proof(padded, 3)
	require.NoError(t, err)
	require.True(t, VerifyProof(q))
	q.TreeSize = 3
	require.False(t, VerifyProof(q))
	require.True(t, VerifyProof(p))
}

func TestProofHex(t *testing.T) {
	leaves := randomLeaves(t, 5)
	hexes := make([]string, len(leaves))
	for i, l := range leaves {
		hexes[i] = hex.EncodeToString(l)
	}
	root, err := RootHex(hexes)
	require.NoError(t, err)
	p, err := ProofHex(hexes, 4)
	require.NoError(t, err)
	require.Equal(t, root, p.RootHash)

	_, err = ProofHex(hexes, 5)
	require.Error(t, err)
	_, err = RootHex([]string{"zz"})
	require.Error(t, err)
}

func TestProofHex_WrapsDecodeError(t *testing.T) {
	_, err := ProofHex([]string{"00", "zz"}, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "leaf 1")
	var invalid hex.InvalidByteError
	require.True(t, xerrors.As(err, &invalid))
}
