package attention

import (
	"math"

	"github.com/streamformer/streamformer/pkg/tensor"
)

const suppressionEps = 1e-8

// Suppress applies adaptive per-query thresholding to raw attention scores
// shaped (batch*heads, queryLen, keyLen). For each query row it derives a
// threshold from the softmax probability distribution over the keys,
// mean - scale*std, with mean and variance taken over the strictly-nonzero
// probabilities, and replaces the raw score of every entry whose probability
// falls below the threshold with -Inf. Entries at or above the threshold
// keep their original score.
//
// With zero or one nonzero probabilities the variance is ill-defined; the
// epsilon guards keep the division finite and the degenerate threshold
// suppresses almost nothing.
func Suppress(scores *tensor.Tensor, scale float64) *tensor.Tensor {
	probs := scores.SoftmaxLastDim()
	out := scores.Clone()
	for n := 0; n < scores.D0; n++ {
		for q := 0; q < scores.D1; q++ {
			nonzero := 0.0
			sum := 0.0
			for k := 0; k < scores.D2; k++ {
				p := probs.At(n, q, k)
				if p != 0 {
					nonzero++
				}
				sum += p
			}
			mean := sum / (nonzero + suppressionEps)

			variance := 0.0
			for k := 0; k < scores.D2; k++ {
				p := probs.At(n, q, k)
				if p == 0 {
					continue
				}
				d := p - mean
				variance += d * d
			}
			variance /= nonzero - 1 + suppressionEps

			threshold := mean - scale*math.Sqrt(variance)
			for k := 0; k < scores.D2; k++ {
				if probs.At(n, q, k) < threshold {
					out.Set(n, q, k, math.Inf(-1))
				}
			}
		}
	}
	return out
}
