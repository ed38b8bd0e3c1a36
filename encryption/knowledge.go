package encryption

import (
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
)

// SignKnowledge produces a Schnorr signature-of-knowledge of priv over msg.
func SignKnowledge(priv kyber.Scalar, msg []byte) ([]byte, error) {
	return schnorr.Sign(Suite, priv, msg)
}

// VerifyKnowledge reports whether sig proves knowledge of the secret behind pub.
func VerifyKnowledge(pub kyber.Point, msg, sig []byte) bool {
	if pub == nil || len(sig) == 0 {
		return false
	}
	return schnorr.Verify(Suite, pub, msg, sig) == nil
}
