package nn

import (
	"math"

	"github.com/streamformer/streamformer/pkg/tensor"
)

// PositionalEncoding represents sinusoidal positional encoding keyed by a
// padding mask: each frame's position index counts the non-padded frames
// preceding it, and padded frames receive the zero vector.
type PositionalEncoding struct {
	Dim int
}

// NewPositionalEncoding creates a positional encoding component for the
// given feature dimension.
func NewPositionalEncoding(dim int) *PositionalEncoding {
	return &PositionalEncoding{Dim: dim}
}

// Forward builds a (time, batch, Dim) tensor of positional encodings from
// the padding mask, ready to be added to same-shaped features.
func (pe *PositionalEncoding) Forward(mask PaddingMask) *tensor.Tensor {
	batch := len(mask)
	seqLen := 0
	if batch > 0 {
		seqLen = len(mask[0])
	}
	out := tensor.MustNew(seqLen, batch, pe.Dim)
	for b := 0; b < batch; b++ {
		pos := 0
		for t := 0; t < seqLen; t++ {
			if mask[b][t] {
				continue
			}
			pos++
			for i := 0; i < pe.Dim; i += 2 {
				denominator := math.Pow(10000, float64(i)/float64(pe.Dim))
				out.Set(t, b, i, math.Sin(float64(pos)/denominator))
				if i+1 < pe.Dim {
					out.Set(t, b, i+1, math.Cos(float64(pos)/denominator))
				}
			}
		}
	}
	return out
}
