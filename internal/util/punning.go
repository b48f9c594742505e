package util

import (
	"fmt"
	"unsafe"
)

// Float32View reinterprets a byte buffer as a float32 slice without
// copying. The buffer must be 4-byte aligned and a multiple of 4 bytes;
// misalignment is an error, never undefined behaviour.
func Float32View(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("buffer length %d is not a multiple of 4", len(b))
	}
	p := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(p)%unsafe.Alignof(float32(0)) != 0 {
		return nil, fmt.Errorf("buffer at %p is not 4-byte aligned", p)
	}
	return unsafe.Slice((*float32)(p), len(b)/4), nil
}

// Float32Bytes reinterprets a float32 slice as its underlying bytes
// without copying. Alignment always holds in this direction.
func Float32Bytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(v))), len(v)*4)
}

// Float32Copy decodes a byte buffer into a freshly allocated float32
// slice, falling back to a byte-wise copy when the view is misaligned.
func Float32Copy(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("buffer length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	if view, err := Float32View(b); err == nil {
		copy(out, view)
		return out, nil
	}
	copy(Float32Bytes(out), b)
	return out, nil
}
