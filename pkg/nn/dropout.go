package nn

import (
	"math/rand"

	"github.com/streamformer/streamformer/pkg/tensor"
)

// Dropout represents a dropout layer for regularization. Elements are zeroed
// with probability Rate during training and the survivors are rescaled so
// the expected value is unchanged.
type Dropout struct {
	Rate float64
	rng  *rand.Rand
}

// NewDropout creates a dropout layer with the specified rate.
func NewDropout(rate float64) *Dropout {
	return &Dropout{Rate: rate}
}

// NewDropoutWithSource creates a dropout layer drawing from rng, for
// deterministic behaviour in tests.
func NewDropoutWithSource(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng}
}

// Forward applies dropout to the input during training. In eval mode, or
// with a non-positive rate, the input passes through untouched.
func (d *Dropout) Forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	if !training || d.Rate <= 0 {
		return x
	}
	scale := 1 / (1 - d.Rate)
	out := tensor.MustNew(x.D0, x.D1, x.D2)
	for i, v := range x.Data {
		if d.sample() > d.Rate {
			out.Data[i] = v * scale
		}
	}
	return out
}

func (d *Dropout) sample() float64 {
	if d.rng != nil {
		return d.rng.Float64()
	}
	return rand.Float64()
}
