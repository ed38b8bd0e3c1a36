package encryption

import (
	"math/big"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/util/random"
	"golang.org/x/xerrors"
)

// Share is one point (x, y) of the sharing polynomial. X starts at 1.
type Share struct {
	X int
	Y kyber.Scalar
}

// ShamirSplit shares secret with a random degree t-1 polynomial evaluated at
// x = 1..n.
func ShamirSplit(secret kyber.Scalar, t, n int) ([]Share, error) {
	if t < 2 {
		return nil, xerrors.Errorf("threshold must be at least 2, got %d", t)
	}
	if n < t {
		return nil, xerrors.Errorf("share count %d is below threshold %d", n, t)
	}
	poly := share.NewPriPoly(Suite, t, secret, random.New())
	shares := make([]Share, 0, n)
	for _, ps := range poly.Shares(n) {
		shares = append(shares, Share{X: ps.I + 1, Y: ps.V})
	}
	return shares, nil
}

// ShamirCombine interpolates the shares at x = 0.
//
// There is no way to detect that fewer than t shares were supplied: the
// result is then simply a wrong scalar. Callers must check the reconstructed
// secret against a known public key before trusting it.
func ShamirCombine(shares []Share) (kyber.Scalar, error) {
	if len(shares) == 0 {
		return nil, xerrors.New("no shares")
	}
	secret := new(big.Int)
	for i, si := range shares {
		if si.Y == nil || si.X <= 0 {
			return nil, xerrors.Errorf("malformed share at position %d", i)
		}
		xi := big.NewInt(int64(si.X))
		num, den := big.NewInt(1), big.NewInt(1)
		for j, sj := range shares {
			if i == j {
				continue
			}
			xj := big.NewInt(int64(sj.X))
			num = Mod(num.Mul(num, new(big.Int).Neg(xj)))
			den = Mod(den.Mul(den, new(big.Int).Sub(xi, xj)))
		}
		inv, err := ModInverse(den)
		if err != nil {
			return nil, xerrors.Errorf("duplicate share x=%d", si.X)
		}
		term := new(big.Int).Mul(ScalarToBig(si.Y), num)
		term.Mul(term, inv)
		secret = Mod(secret.Add(secret, term))
	}
	return ScalarFromBig(secret), nil
}

// toPriShares converts shares to kyber's representation (index = x-1).
func toPriShares(shares []Share) []*share.PriShare {
	out := make([]*share.PriShare, len(shares))
	for i, s := range shares {
		out[i] = &share.PriShare{I: s.X - 1, V: s.Y}
	}
	return out
}

// RecoverWithThreshold reconstructs through kyber's interpolation, which
// refuses to run with fewer than t shares.
func RecoverWithThreshold(shares []Share, t, n int) (kyber.Scalar, error) {
	return share.RecoverSecret(Suite, toPriShares(shares), t, n)
}
