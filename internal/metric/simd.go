package metric

import (
	"runtime"
	"sync"

	"github.com/viterin/vek/vek32"
	"golang.org/x/sys/cpu"
)

// Capability describes the instruction sets available to the wide-lane
// kernels. It is probed once at first use and never changes afterwards.
type Capability struct {
	AVX2        bool
	NEON        bool
	WASMSIMD128 bool
	// Accelerated reports whether any wide-lane path is in use.
	Accelerated bool
}

var probeOnce = sync.OnceValue(func() Capability {
	c := Capability{
		AVX2: cpu.X86.HasAVX2,
		NEON: runtime.GOARCH == "arm64" && cpu.ARM64.HasASIMD,
		// The Go wasm port exposes SIMD128 unconditionally when built
		// with a SIMD-capable runtime; vek falls back internally if not.
		WASMSIMD128: runtime.GOARCH == "wasm",
	}
	c.Accelerated = c.AVX2 || c.NEON || c.WASMSIMD128
	return c
})

// Capabilities returns the cached CPU capability probe.
func Capabilities() Capability {
	return probeOnce()
}

// Wide-lane kernels backed by vek32, which emits AVX2 on amd64 and has
// its own scalar fallback elsewhere. Results may differ from the scalar
// reference only by floating-point reassociation.

func squaredEuclideanVek(a, b []float32) float32 {
	d := vek32.Sub(a, b)
	return vek32.Dot(d, d)
}

func cosineDistanceVek(a, b []float32) float32 {
	cos := vek32.CosineSimilarity(a, b)
	// vek returns NaN for zero-norm inputs; treat those as maximally
	// distant to match the scalar reference.
	if cos != cos {
		return 1.0
	}
	if cos > 1.0 {
		cos = 1.0
	} else if cos < -1.0 {
		cos = -1.0
	}
	return 1.0 - cos
}

func negatedDotVek(a, b []float32) float32 {
	return -vek32.Dot(a, b)
}
