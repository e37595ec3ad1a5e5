package detector

import "time"

// ConstantSource returns a SampleSource that always reads v, useful for
// exercising the decimation invariants of spec.md §8 (constant incoming
// signal s decimates to s for averaging detectors, s*k for summing ones).
func ConstantSource(v float64) SampleSource {
	return func() float64 { return v }
}

// ConstantImageSource returns an ImageSource producing a width*height image
// of constant value v regardless of exposure.
func ConstantImageSource(width, height int, v float64) ImageSource {
	n := width * height
	return func(_ time.Duration) []float64 {
		img := make([]float64, n)
		for i := range img {
			img[i] = v
		}
		return img
	}
}
