package vector

// InnerProduct returns the inner product of two equal-length vectors.
func InnerProduct(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

// SquaredL2 returns the squared Euclidean distance, the value faiss reports for METRIC_L2.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
