package encryption

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlindSchnorr_Correctness(t *testing.T) {
	for i := 0; i < 5; i++ {
		issuer := NewBlindIssuer(RandomScalar())
		_, holder := GenerateKeyPair()
		msg := EncodePoint(holder)

		sig, err := BlindSchnorrIssuance(issuer, msg)
		require.NoError(t, err)
		require.True(t, VerifyBlindSchnorr(issuer.Public, msg, sig))
	}
}

func TestBlindSchnorr_Tampering(t *testing.T) {
	issuer := NewBlindIssuer(RandomScalar())
	msg := []byte("credential public key")
	sig, err := BlindSchnorrIssuance(issuer, msg)
	require.NoError(t, err)

	badS := &BlindSignature{R: sig.R, S: Suite.Scalar().Add(sig.S, Suite.Scalar().One())}
	require.False(t, VerifyBlindSchnorr(issuer.Public, msg, badS))

	badR := &BlindSignature{R: Suite.Point().Add(sig.R, Suite.Point().Base()), S: sig.S}
	require.False(t, VerifyBlindSchnorr(issuer.Public, msg, badR))

	other := NewBlindIssuer(RandomScalar())
	require.False(t, VerifyBlindSchnorr(other.Public, msg, sig))

	require.False(t, VerifyBlindSchnorr(issuer.Public, []byte("another key"), sig))
	require.False(t, VerifyBlindSchnorr(issuer.Public, msg, nil))
	require.False(t, VerifyBlindSchnorr(nil, msg, sig))
}

func TestBlindSchnorr_SessionSingleUse(t *testing.T) {
	issuer := NewBlindIssuer(RandomScalar())
	sess := issuer.Commit()
	_, c := NewBlindRequest(issuer.Public, sess.R, []byte("m"))
	_, err := issuer.Respond(sess, c)
	require.NoError(t, err)
	_, err = issuer.Respond(sess, c)
	require.Error(t, err)
}

func TestBlindSchnorr_IssuerNeverSeesFinalCommitment(t *testing.T) {
	issuer := NewBlindIssuer(RandomScalar())
	sess := issuer.Commit()
	req, _ := NewBlindRequest(issuer.Public, sess.R, []byte("m"))
	require.False(t, sess.R.Equal(req.rPrime))
}
