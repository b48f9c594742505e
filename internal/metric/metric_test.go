package metric

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomUnitVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		v[i] = float32(rng.NormFloat64())
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func TestScalarKernels(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	assert.InDelta(t, 2.0, SquaredEuclideanScalar(a, b), 1e-6)
	assert.InDelta(t, 0.0, SquaredEuclideanScalar(a, a), 1e-6)
	assert.InDelta(t, 1.0, CosineDistanceScalar(a, b), 1e-6)
	assert.InDelta(t, 0.0, CosineDistanceScalar(a, a), 1e-6)
	assert.InDelta(t, 0.0, NegatedDotScalar(a, b), 1e-6)
	assert.InDelta(t, -1.0, NegatedDotScalar(a, a), 1e-6)
}

func TestCosineZeroNorm(t *testing.T) {
	zero := []float32{0, 0, 0}
	one := []float32{1, 2, 3}
	assert.Equal(t, float32(1.0), CosineDistanceScalar(zero, one))
	assert.Equal(t, float32(1.0), cosineDistanceVek(zero, one))
}

// The wide-lane kernels must agree with the scalar reference up to
// floating-point reassociation: < 1e-5 relative error on unit vectors.
func TestAcceleratedMatchesScalar(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const dim = 131 // odd length exercises the lane remainder

	for trial := 0; trial < 50; trial++ {
		a := randomUnitVector(rng, dim)
		b := randomUnitVector(rng, dim)

		cases := []struct {
			name      string
			scalar    DistanceFunc
			wide      DistanceFunc
			tolerance float64
		}{
			{"euclidean", SquaredEuclideanScalar, squaredEuclideanVek, 1e-5},
			{"cosine", CosineDistanceScalar, cosineDistanceVek, 1e-5},
			{"dot", NegatedDotScalar, negatedDotVek, 1e-5},
		}
		for _, tc := range cases {
			ref := float64(tc.scalar(a, b))
			got := float64(tc.wide(a, b))
			scale := math.Max(math.Abs(ref), 1.0)
			assert.LessOrEqualf(t, math.Abs(got-ref)/scale, tc.tolerance,
				"%s kernel diverged: scalar=%v wide=%v", tc.name, ref, got)
		}
	}
}

func TestDistanceDimensionMismatch(t *testing.T) {
	_, err := Distance(Euclidean, []float32{1, 2}, []float32{1, 2, 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestDistanceHammingRejected(t *testing.T) {
	_, err := Distance(Hamming, []float32{1}, []float32{1})
	require.Error(t, err)
}

func TestHammingBytes(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want int
	}{
		{"identical", []byte{0xFF, 0x00}, []byte{0xFF, 0x00}, 0},
		{"all bits", []byte{0xFF}, []byte{0x00}, 8},
		{"single bit", []byte{0x80}, []byte{0x00}, 1},
		{"long buffers", make([]byte, 33), make([]byte, 33), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HammingBytes(tt.a, tt.b))
		})
	}

	// Exercise the eight-byte fast path against a bitwise reference.
	rng := rand.New(rand.NewSource(11))
	a := make([]byte, 37)
	b := make([]byte, 37)
	rng.Read(a)
	rng.Read(b)
	want := 0
	for i := range a {
		x := a[i] ^ b[i]
		for x != 0 {
			want += int(x & 1)
			x >>= 1
		}
	}
	assert.Equal(t, want, HammingBytes(a, b))
}

func TestHammingDistanceLengthMismatch(t *testing.T) {
	_, err := HammingDistance([]byte{1, 2}, []byte{1})
	require.Error(t, err)
}

func TestCapabilitiesIdempotent(t *testing.T) {
	first := Capabilities()
	second := Capabilities()
	assert.Equal(t, first, second)
}
