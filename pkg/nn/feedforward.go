package nn

import (
	"fmt"
	"math/rand"

	"github.com/streamformer/streamformer/pkg/tensor"
)

// FeedForward represents the position-wise feed-forward block of a
// transformer layer: linear, ReLU, dropout, linear.
type FeedForward struct {
	FC1               *Linear
	FC2               *Linear
	ActivationDropout *Dropout
}

// NewFeedForward creates a feed-forward block projecting modelDim up to
// hiddenDim and back.
func NewFeedForward(modelDim, hiddenDim int, activationDropout float64, rng *rand.Rand) (*FeedForward, error) {
	fc1, err := NewLinear(modelDim, hiddenDim, rng)
	if err != nil {
		return nil, fmt.Errorf("feed-forward fc1: %w", err)
	}
	fc2, err := NewLinear(hiddenDim, modelDim, rng)
	if err != nil {
		return nil, fmt.Errorf("feed-forward fc2: %w", err)
	}
	return &FeedForward{
		FC1:               fc1,
		FC2:               fc2,
		ActivationDropout: NewDropout(activationDropout),
	}, nil
}

// Forward applies the feed-forward block. The residual connection and
// normalization around it belong to the caller.
func (ff *FeedForward) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	h, err := ff.FC1.Forward(x)
	if err != nil {
		return nil, err
	}
	reluInPlace(h)
	h = ff.ActivationDropout.Forward(h, training)
	return ff.FC2.Forward(h)
}

func reluInPlace(t *tensor.Tensor) {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		}
	}
}
