package metric

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// HammingBytes computes the Hamming distance between two packed binary
// vectors: the popcount of their XOR. Inputs must be byte-aligned and of
// equal length; the fast path consumes eight bytes per iteration.
func HammingBytes(a, b []byte) int {
	n := len(a)
	var count int
	i := 0
	for ; i+8 <= n; i += 8 {
		x := binary.LittleEndian.Uint64(a[i:]) ^ binary.LittleEndian.Uint64(b[i:])
		count += bits.OnesCount64(x)
	}
	for ; i < n; i++ {
		count += bits.OnesCount8(a[i] ^ b[i])
	}
	return count
}

// HammingDistance validates lengths and returns the Hamming distance as
// a float32 so binary search shares the dense result plumbing.
func HammingDistance(a, b []byte) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d bytes", len(a), len(b))
	}
	return float32(HammingBytes(a, b)), nil
}
