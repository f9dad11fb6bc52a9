// Package nn provides the neural building blocks of the streaming encoder:
// linear projections, layer normalization, dropout, positional encoding, and
// the strided convolutional subsampler.
package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/streamformer/streamformer/pkg/tensor"
)

// Linear represents a dense projection with bias.
type Linear struct {
	In     int
	Out    int
	Weight *mat.Dense // (In, Out)
	Bias   []float64
}

// NewLinear creates a linear projection with small random weights drawn
// from rng.
func NewLinear(in, out int, rng *rand.Rand) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("invalid linear dimensions: in=%d, out=%d (must be positive)", in, out)
	}
	w := make([]float64, in*out)
	for i := range w {
		w[i] = rng.Float64()*0.2 - 0.1
	}
	return &Linear{
		In:     in,
		Out:    out,
		Weight: mat.NewDense(in, out, w),
		Bias:   make([]float64, out),
	}, nil
}

// NewIdentityLinear creates a square projection initialized to the identity
// with zero bias.
func NewIdentityLinear(dim int) *Linear {
	w := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		w.Set(i, i, 1)
	}
	return &Linear{In: dim, Out: dim, Weight: w, Bias: make([]float64, dim)}
}

// Forward applies the projection along the feature dimension of a
// (time, batch, In) tensor, producing (time, batch, Out). The tensor is
// flattened to a (time*batch, In) matrix so the multiply runs as a single
// dense operation.
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.D2 != l.In {
		return nil, fmt.Errorf("linear input dimension mismatch: got %d, want %d", x.D2, l.In)
	}
	rows := x.D0 * x.D1
	xm := mat.NewDense(rows, l.In, x.Data)
	var ym mat.Dense
	ym.Mul(xm, l.Weight)
	data := make([]float64, rows*l.Out)
	for r := 0; r < rows; r++ {
		for c := 0; c < l.Out; c++ {
			data[r*l.Out+c] = ym.At(r, c) + l.Bias[c]
		}
	}
	return tensor.FromSlice(x.D0, x.D1, l.Out, data)
}
