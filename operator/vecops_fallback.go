//go:build !amd64

package operator

func vecAddF32(dst, a, b []float32) {
	for i := range a {
		dst[i] = a[i] + b[i]
	}
}

func vecMulF32(dst, a, b []float32) {
	for i := range a {
		dst[i] = a[i] * b[i]
	}
}
