package nn

import (
	"fmt"
	"math"

	"github.com/streamformer/streamformer/pkg/tensor"
)

// LayerNorm represents layer normalization over the feature dimension.
type LayerNorm struct {
	Dim     int
	Epsilon float64
	Gamma   []float64
	Beta    []float64
}

// NewLayerNorm creates a layer normalization component with gamma initialized
// to ones and beta to zeros.
func NewLayerNorm(dim int) *LayerNorm {
	gamma := make([]float64, dim)
	for i := range gamma {
		gamma[i] = 1
	}
	return &LayerNorm{
		Dim:     dim,
		Epsilon: 1e-5,
		Gamma:   gamma,
		Beta:    make([]float64, dim),
	}
}

// Forward normalizes every (time, batch) position over the feature dimension.
func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.D2 != ln.Dim {
		return nil, fmt.Errorf("layer norm dimension mismatch: got %d, want %d", x.D2, ln.Dim)
	}
	out := tensor.MustNew(x.D0, x.D1, x.D2)
	for i := 0; i < x.D0; i++ {
		for b := 0; b < x.D1; b++ {
			mean := 0.0
			for k := 0; k < x.D2; k++ {
				mean += x.At(i, b, k)
			}
			mean /= float64(x.D2)

			variance := 0.0
			for k := 0; k < x.D2; k++ {
				diff := x.At(i, b, k) - mean
				variance += diff * diff
			}
			variance /= float64(x.D2)

			inv := 1 / math.Sqrt(variance+ln.Epsilon)
			for k := 0; k < x.D2; k++ {
				normalized := (x.At(i, b, k) - mean) * inv
				out.Set(i, b, k, normalized*ln.Gamma[k]+ln.Beta[k])
			}
		}
	}
	return out, nil
}
