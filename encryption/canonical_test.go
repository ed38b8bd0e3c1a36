package encryption

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonical_SortsKeysRecursively(t *testing.T) {
	a := map[string]interface{}{
		"b": 1,
		"a": map[string]interface{}{"z": true, "y": []interface{}{3, 1, 2}},
	}
	b := map[string]interface{}{
		"a": map[string]interface{}{"y": []interface{}{3, 1, 2}, "z": true},
		"b": 1,
	}
	ca, err := Canonical(a)
	require.NoError(t, err)
	cb, err := Canonical(b)
	require.NoError(t, err)
	require.Equal(t, `{"a":{"y":[3,1,2],"z":true},"b":1}`, string(ca))
	require.Equal(t, ca, cb)

	again, err := Canonical(a)
	require.NoError(t, err)
	require.Equal(t, ca, again)
}

func TestCanonical_StructsAndEscaping(t *testing.T) {
	type inner struct {
		Zeta  string `json:"zeta"`
		Alpha string `json:"alpha,omitempty"`
	}
	c, err := Canonical(struct {
		Name  string `json:"name"`
		Inner inner  `json:"inner"`
	}{Name: "<a&b>", Inner: inner{Zeta: "z"}})
	require.NoError(t, err)
	require.Equal(t, `{"inner":{"zeta":"z"},"name":"<a&b>"}`, string(c))
}

func TestCanonical_PreservesLargeNumbers(t *testing.T) {
	c, err := CanonicalizeJSON([]byte(`{"n": 12345678901234567890, "f": 1.5}`))
	require.NoError(t, err)
	require.Equal(t, `{"f":1.5,"n":12345678901234567890}`, string(c))
}

func TestHash_DomainSeparation(t *testing.T) {
	require.NotEqual(t, Hash(DomainLeaf, []byte("x")), Hash(DomainNode, []byte("x")))
	require.Equal(t, Hash(DomainLeaf, []byte("x")), Hash(DomainLeaf, []byte("x")))
	require.Len(t, Hash(DomainLeaf), 32)
}

func TestModInverse(t *testing.T) {
	for _, v := range []int64{1, 2, 3, 12345, -7} {
		a := big.NewInt(v)
		inv, err := ModInverse(a)
		require.NoError(t, err)
		prod := Mod(new(big.Int).Mul(a, inv))
		require.Equal(t, 0, prod.Cmp(big.NewInt(1)), "value %d", v)
	}
	_, err := ModInverse(big.NewInt(0))
	require.Error(t, err)
	_, err = ModInverse(GroupOrder())
	require.Error(t, err)
}

func TestScalarEncoding(t *testing.T) {
	s := RandomScalar()
	b := EncodeScalar(s)
	require.Len(t, b, ScalarSize)
	back, err := ScalarFromBytes(b)
	require.NoError(t, err)
	require.True(t, s.Equal(back))

	_, err = ScalarFromBytes(b[:31])
	require.Error(t, err)
	_, err = ScalarFromBytes(unreducedBytes(GroupOrder()))
	require.Error(t, err)
}

func TestPointFromBytes_FailsClosed(t *testing.T) {
	_, err := PointFromBytes(nil)
	require.Error(t, err)
	_, err = PointFromBytes([]byte{4, 1, 2, 3})
	require.Error(t, err)

	_, pub := GenerateKeyPair()
	back, err := PointFromB64(PointB64(pub))
	require.NoError(t, err)
	require.True(t, pub.Equal(back))
}

// unreducedBytes encodes v without reducing it mod q.
func unreducedBytes(v *big.Int) []byte {
	out := make([]byte, ScalarSize)
	v.FillBytes(out)
	return out
}
