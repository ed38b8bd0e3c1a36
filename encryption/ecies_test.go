package encryption

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapKey_RoundTrip(t *testing.T) {
	x, pk := GenerateKeyPair()
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)

	wrapped, eph, err := WrapKey(pk, key, "election-1", "ballot-1")
	require.NoError(t, err)

	got, ok := UnwrapKey(x, wrapped, eph, "election-1", "ballot-1")
	require.True(t, ok)
	require.Equal(t, key, got)
}

func TestWrapKey_FailsClosed(t *testing.T) {
	x, pk := GenerateKeyPair()
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	wrapped, eph, err := WrapKey(pk, key, "election-1", "ballot-1")
	require.NoError(t, err)

	_, ok := UnwrapKey(x, wrapped, eph, "election-1", "ballot-2")
	require.False(t, ok)
	_, ok = UnwrapKey(x, wrapped, eph, "election-2", "ballot-1")
	require.False(t, ok)

	other, _ := GenerateKeyPair()
	_, ok = UnwrapKey(other, wrapped, eph, "election-1", "ballot-1")
	require.False(t, ok)

	tampered := append([]byte{}, wrapped...)
	tampered[len(tampered)-1] ^= 1
	_, ok = UnwrapKey(x, tampered, eph, "election-1", "ballot-1")
	require.False(t, ok)

	_, ok = UnwrapKey(x, wrapped[:5], eph, "election-1", "ballot-1")
	require.False(t, ok)
	_, ok = UnwrapKey(x, wrapped, nil, "election-1", "ballot-1")
	require.False(t, ok)
}

func TestSealWithIV_Deterministic(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	iv, err := RandomBytes(IVSize)
	require.NoError(t, err)

	a, err := SealWithIV(key, iv, []byte("ballot"), nil)
	require.NoError(t, err)
	b, err := SealWithIV(key, iv, []byte("ballot"), nil)
	require.NoError(t, err)
	require.Equal(t, a, b)

	pt, err := Open(key, a, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("ballot"), pt)
}

func TestKnowledgeProof(t *testing.T) {
	priv, pub := GenerateKeyPair()
	sig, err := SignKnowledge(priv, []byte("transcript"))
	require.NoError(t, err)
	require.True(t, VerifyKnowledge(pub, []byte("transcript"), sig))
	require.False(t, VerifyKnowledge(pub, []byte("other"), sig))

	_, otherPub := GenerateKeyPair()
	require.False(t, VerifyKnowledge(otherPub, []byte("transcript"), sig))
	require.False(t, VerifyKnowledge(pub, []byte("transcript"), sig[:10]))
}
