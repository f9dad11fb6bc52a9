package encoder

import (
	"fmt"
	"math/rand"

	"github.com/streamformer/streamformer/pkg/attention"
	"github.com/streamformer/streamformer/pkg/nn"
	"github.com/streamformer/streamformer/pkg/tensor"
)

// Layer wraps augmented-memory attention with segment summarization,
// residual connections, layer normalization, and a feed-forward block.
// Left/right context sizes are in subsampled units.
type Layer struct {
	selfAttn    *attention.AugmentedMemoryAttention
	attnNorm    *nn.LayerNorm
	finalNorm   *nn.LayerNorm
	feedForward *nn.FeedForward
	dropout     *nn.Dropout

	normalizeBefore bool
	leftContext     int
	rightContext    int
}

// NewLayer creates one encoder layer from the shared encoder configuration.
func NewLayer(cfg Config, leftContext, rightContext int, rng *rand.Rand) (*Layer, error) {
	selfAttn, err := attention.New(attention.Config{
		EmbedDim:         cfg.EmbedDim,
		NumHeads:         cfg.NumHeads,
		Dropout:          cfg.AttentionDropout,
		MaxMemorySize:    cfg.MaxMemorySize,
		SuppressionScale: cfg.SuppressionScale,
		TanhOnMem:        cfg.TanhOnMem,
		DisableMemOnMem:  cfg.DisableMemOnMem,
	}, rng)
	if err != nil {
		return nil, err
	}
	ff, err := nn.NewFeedForward(cfg.EmbedDim, cfg.FFNDim, cfg.ActivationDropout, rng)
	if err != nil {
		return nil, err
	}
	return &Layer{
		selfAttn:        selfAttn,
		attnNorm:        nn.NewLayerNorm(cfg.EmbedDim),
		finalNorm:       nn.NewLayerNorm(cfg.EmbedDim),
		feedForward:     ff,
		dropout:         nn.NewDropout(cfg.Dropout),
		normalizeBefore: cfg.NormalizeBefore,
		leftContext:     leftContext,
		rightContext:    rightContext,
	}, nil
}

// summarize reduces the core region of a segment (context rows excluded) to
// a single (1, batch, dim) mean vector. When context consumes the whole
// segment the summary is the zero vector.
func (l *Layer) summarize(x *tensor.Tensor) (*tensor.Tensor, error) {
	segStart := l.leftContext
	segEnd := x.D0 - l.rightContext
	if segStart < segEnd {
		return x.MeanD0(segStart, segEnd)
	}
	return tensor.New(1, x.D1, x.D2)
}

// Process runs one segment through the layer, advancing the layer's
// streaming state. x is shaped (time, batch, embedDim) and the returned
// tensor has the same shape.
func (l *Layer) Process(x *tensor.Tensor, state *attention.LayerState, encoderPaddingMask nn.PaddingMask, training bool) (*tensor.Tensor, error) {
	residual := x

	var err error
	if l.normalizeBefore {
		if x, err = l.attnNorm.Forward(x); err != nil {
			return nil, err
		}
	}

	summary, err := l.summarize(x)
	if err != nil {
		return nil, fmt.Errorf("summarizing segment: %w", err)
	}
	withSummary, err := tensor.CatD0(x, summary)
	if err != nil {
		return nil, err
	}

	attnOut, err := l.selfAttn.Attend(withSummary, state, encoderPaddingMask, training)
	if err != nil {
		return nil, err
	}

	x = l.dropout.Forward(attnOut, training)
	if x, err = tensor.Add(residual, x); err != nil {
		return nil, err
	}
	if !l.normalizeBefore {
		if x, err = l.attnNorm.Forward(x); err != nil {
			return nil, err
		}
	}

	residual = x
	if l.normalizeBefore {
		if x, err = l.finalNorm.Forward(x); err != nil {
			return nil, err
		}
	}
	ffOut, err := l.feedForward.Forward(x, training)
	if err != nil {
		return nil, err
	}
	ffOut = l.dropout.Forward(ffOut, training)
	if x, err = tensor.Add(residual, ffOut); err != nil {
		return nil, err
	}
	if !l.normalizeBefore {
		if x, err = l.finalNorm.Forward(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}
