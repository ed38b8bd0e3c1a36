package encryption

import (
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// BlindSignature is an unblinded Schnorr signature (R', s') over a message,
// verifiable as s'·G + c'·PK == R' with c' = H(domain ‖ R' ‖ PK ‖ m).
type BlindSignature struct {
	R kyber.Point
	S kyber.Scalar
}

// BlindIssuer holds an issuer's signing key. It only ever sees the blinded
// challenge, never R' or the message.
type BlindIssuer struct {
	secret kyber.Scalar
	Public kyber.Point
}

// IssuerSession is the issuer's state between the commit and respond moves.
// A session answers exactly one challenge.
type IssuerSession struct {
	k    kyber.Scalar
	R    kyber.Point
	used bool
}

// BlindRequest is the requester's state for one blind issuance run.
type BlindRequest struct {
	issuer  kyber.Point
	message []byte
	alpha   kyber.Scalar
	rPrime  kyber.Point
	cPrime  kyber.Scalar
}

// NewBlindIssuer wraps an issuer secret.
func NewBlindIssuer(secret kyber.Scalar) *BlindIssuer {
	return &BlindIssuer{
		secret: secret,
		Public: PublicFromScalar(secret),
	}
}

// Commit is move one: pick k and publish R = k·G.
func (bi *BlindIssuer) Commit() *IssuerSession {
	k := RandomScalar()
	return &IssuerSession{k: k, R: Suite.Point().Mul(k, nil)}
}

// Respond is move three: s = k − c·sk mod q.
func (bi *BlindIssuer) Respond(sess *IssuerSession, c kyber.Scalar) (kyber.Scalar, error) {
	if sess == nil || sess.used {
		return nil, xerrors.New("issuer session already used")
	}
	sess.used = true
	cs := Suite.Scalar().Mul(c, bi.secret)
	return Suite.Scalar().Sub(sess.k, cs), nil
}

// NewBlindRequest is move two. It blinds the issuer commitment R with fresh
// α, β and returns the request state together with the blinded challenge
// c = c' − β to send to the issuer.
func NewBlindRequest(issuer, R kyber.Point, message []byte) (*BlindRequest, kyber.Scalar) {
	alpha := RandomScalar()
	beta := RandomScalar()

	rPrime := Suite.Point().Add(R, Suite.Point().Mul(alpha, nil))
	rPrime.Add(rPrime, Suite.Point().Mul(beta, issuer))
	cPrime := BlindChallenge(rPrime, issuer, message)

	req := &BlindRequest{
		issuer:  issuer,
		message: append([]byte{}, message...),
		alpha:   alpha,
		rPrime:  rPrime,
		cPrime:  cPrime,
	}
	return req, Suite.Scalar().Sub(cPrime, beta)
}

// Unblind turns the issuer response into (R', s' = s + α) and checks it.
func (br *BlindRequest) Unblind(s kyber.Scalar) (*BlindSignature, error) {
	sig := &BlindSignature{
		R: br.rPrime,
		S: Suite.Scalar().Add(s, br.alpha),
	}
	if !VerifyBlindSchnorr(br.issuer, br.message, sig) {
		return nil, xerrors.New("issuer response does not unblind to a valid signature")
	}
	return sig, nil
}

// BlindChallenge computes c' = H(domain ‖ R' ‖ PK ‖ m) mod q.
func BlindChallenge(rPrime, issuer kyber.Point, message []byte) kyber.Scalar {
	return HashToScalar(DomainBlind, EncodePoint(rPrime), EncodePoint(issuer), message)
}

// VerifyBlindSchnorr checks s'·G + c'·PK == R'. Nil inputs fail closed.
func VerifyBlindSchnorr(issuer kyber.Point, message []byte, sig *BlindSignature) bool {
	if issuer == nil || sig == nil || sig.R == nil || sig.S == nil {
		return false
	}
	c := BlindChallenge(sig.R, issuer, message)
	lhs := Suite.Point().Mul(sig.S, nil)
	lhs.Add(lhs, Suite.Point().Mul(c, issuer))
	return lhs.Equal(sig.R)
}

// BlindSchnorrIssuance runs all three moves between an in-process issuer and
// requester and returns the unblinded signature on message.
func BlindSchnorrIssuance(issuer *BlindIssuer, message []byte) (*BlindSignature, error) {
	sess := issuer.Commit()
	req, c := NewBlindRequest(issuer.Public, sess.R, message)
	s, err := issuer.Respond(sess, c)
	if err != nil {
		return nil, err
	}
	return req.Unblind(s)
}
