package encryption

import (
	"crypto/elliptic"
	"math/big"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/nist"
	"go.dedis.ch/kyber/v3/util/random"
	"golang.org/x/xerrors"
)

// ScalarSize is the fixed big-endian width of every encoded scalar.
const ScalarSize = 32

// Suite is the P-256 group all engine scalars and points live in.
var Suite = nist.NewBlakeSHA256P256()

var groupOrder = new(big.Int).Set(elliptic.P256().Params().N)

// GroupOrder returns a copy of q, the order of the P-256 base point.
func GroupOrder() *big.Int {
	return new(big.Int).Set(groupOrder)
}

// Mod reduces a into [0, q).
func Mod(a *big.Int) *big.Int {
	r := new(big.Int).Mod(a, groupOrder)
	return r
}

// ModInverse computes a^-1 mod q with the extended Euclidean algorithm.
func ModInverse(a *big.Int) (*big.Int, error) {
	r0, r1 := new(big.Int).Set(groupOrder), Mod(a)
	if r1.Sign() == 0 {
		return nil, xerrors.New("zero has no inverse")
	}
	t0, t1 := big.NewInt(0), big.NewInt(1)
	q, tmp := new(big.Int), new(big.Int)
	for r1.Sign() != 0 {
		q.Div(r0, r1)
		tmp.Mul(q, r1)
		r0, r1 = r1, new(big.Int).Sub(r0, tmp)
		tmp.Mul(q, t1)
		t0, t1 = t1, new(big.Int).Sub(t0, tmp)
	}
	if r0.Cmp(big.NewInt(1)) != 0 {
		return nil, xerrors.New("value is not invertible")
	}
	return Mod(t0), nil
}

// ScalarBytes encodes a mod q as a fixed-width big-endian byte string.
func ScalarBytes(a *big.Int) []byte {
	out := make([]byte, ScalarSize)
	Mod(a).FillBytes(out)
	return out
}

// RandomScalar samples a uniform scalar from crypto/rand.
func RandomScalar() kyber.Scalar {
	return Suite.Scalar().Pick(random.New())
}

// GenerateKeyPair returns a fresh secret scalar and its public point x·G.
func GenerateKeyPair() (kyber.Scalar, kyber.Point) {
	x := RandomScalar()
	return x, Suite.Point().Mul(x, nil)
}

// PublicFromScalar returns x·G.
func PublicFromScalar(x kyber.Scalar) kyber.Point {
	return Suite.Point().Mul(x, nil)
}

// ScalarToBig converts a scalar to its integer value.
func ScalarToBig(s kyber.Scalar) *big.Int {
	b, err := s.MarshalBinary()
	if err != nil {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(b)
}

// ScalarFromBig reduces v mod q and returns it as a scalar.
func ScalarFromBig(v *big.Int) kyber.Scalar {
	return Suite.Scalar().SetBytes(ScalarBytes(v))
}

// ScalarFromBytes decodes a fixed-width scalar. Wrong lengths and values
// >= q are rejected rather than reduced.
func ScalarFromBytes(b []byte) (kyber.Scalar, error) {
	if len(b) != ScalarSize {
		return nil, xerrors.New("scalar must be 32 bytes")
	}
	if new(big.Int).SetBytes(b).Cmp(groupOrder) >= 0 {
		return nil, xerrors.New("scalar out of range")
	}
	s := Suite.Scalar()
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodeScalar returns the fixed-width bytes of s.
func EncodeScalar(s kyber.Scalar) []byte {
	return ScalarBytes(ScalarToBig(s))
}

// EncodePoint returns the uncompressed SEC1 encoding of p.
func EncodePoint(p kyber.Point) []byte {
	b, err := p.MarshalBinary()
	if err != nil {
		return nil
	}
	return b
}

// PointFromBytes decodes an uncompressed point and rejects anything that is
// not on the curve.
func PointFromBytes(b []byte) (p kyber.Point, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, xerrors.New("malformed point")
		}
	}()
	if len(b) == 0 {
		return nil, xerrors.New("empty point")
	}
	p = Suite.Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}

// ScalarFromB64 decodes a base64url scalar.
func ScalarFromB64(s string) (kyber.Scalar, error) {
	b, err := DecodeB64(s)
	if err != nil {
		return nil, err
	}
	return ScalarFromBytes(b)
}

// PointFromB64 decodes a base64url point.
func PointFromB64(s string) (kyber.Point, error) {
	b, err := DecodeB64(s)
	if err != nil {
		return nil, err
	}
	return PointFromBytes(b)
}

// ScalarB64 encodes a scalar as base64url.
func ScalarB64(s kyber.Scalar) string {
	return EncodeB64(EncodeScalar(s))
}

// PointB64 encodes a point as base64url.
func PointB64(p kyber.Point) string {
	return EncodeB64(EncodePoint(p))
}
