package encryption

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShamir_AnyThresholdSubset(t *testing.T) {
	secret, pub := GenerateKeyPair()
	shares, err := ShamirSplit(secret, 3, 5)
	require.NoError(t, err)
	require.Len(t, shares, 5)
	for i, s := range shares {
		require.Equal(t, i+1, s.X)
	}

	subsets := [][]int{{0, 1, 2}, {0, 2, 4}, {4, 3, 1}, {1, 2, 3}, {0, 1, 2, 3, 4}}
	for _, idx := range subsets {
		sub := make([]Share, 0, len(idx))
		for _, i := range idx {
			sub = append(sub, shares[i])
		}
		got, err := ShamirCombine(sub)
		require.NoError(t, err)
		require.True(t, secret.Equal(got), "subset %v", idx)
		require.True(t, pub.Equal(PublicFromScalar(got)))

		viaKyber, err := RecoverWithThreshold(sub, 3, 5)
		require.NoError(t, err)
		require.True(t, got.Equal(viaKyber))
	}
}

func TestShamir_TooFewSharesIsSilentlyWrong(t *testing.T) {
	secret, pub := GenerateKeyPair()
	shares, err := ShamirSplit(secret, 3, 5)
	require.NoError(t, err)

	got, err := ShamirCombine(shares[:2])
	require.NoError(t, err)
	require.False(t, secret.Equal(got))
	require.False(t, pub.Equal(PublicFromScalar(got)))

	_, err = RecoverWithThreshold(shares[:2], 3, 5)
	require.Error(t, err)
}

func TestShamir_RejectsBadParameters(t *testing.T) {
	secret := RandomScalar()
	_, err := ShamirSplit(secret, 1, 3)
	require.Error(t, err)
	_, err = ShamirSplit(secret, 4, 3)
	require.Error(t, err)

	shares, err := ShamirSplit(secret, 2, 3)
	require.NoError(t, err)
	_, err = ShamirCombine([]Share{shares[0], shares[0]})
	require.Error(t, err)
	_, err = ShamirCombine(nil)
	require.Error(t, err)
}
