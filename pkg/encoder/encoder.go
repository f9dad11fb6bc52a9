// Package encoder implements the augmented-memory convolutional-transformer
// encoder: it subsamples raw feature segments through a strided conv stack,
// adds positional information, and drives a stack of augmented-memory
// transformer layers, threading per-layer streaming state supplied by the
// caller through every segment call.
package encoder

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/streamformer/streamformer/pkg/attention"
	"github.com/streamformer/streamformer/pkg/nn"
	"github.com/streamformer/streamformer/pkg/tensor"
)

// Config holds the encoder hyperparameters. Context sizes are in raw frames
// and are divided by the subsampler stride internally.
type Config struct {
	InputFeatures int
	EmbedDim      int
	NumHeads      int
	Layers        int
	FFNDim        int

	NormalizeBefore   bool
	Dropout           float64
	AttentionDropout  float64
	ActivationDropout float64

	// LeftContext and RightContext are the raw-frame context sizes carried
	// on each side of a segment's core frames.
	LeftContext  int
	RightContext int

	MaxMemorySize    int
	SuppressionScale float64
	TanhOnMem        bool
	DisableMemOnMem  bool

	// Subsampler lists the strided conv layers; empty means stride 1 with
	// only the linear input map.
	Subsampler []nn.ConvLayerConfig
}

// StreamState is the ordered per-layer streaming state for one audio
// stream, one entry per encoder layer. The caller owns it: it is created at
// stream start (or implicitly on the first Encode call), passed into every
// segment call for the stream, and mutated in place. Segments of one stream
// must be processed strictly in order; independent streams need disjoint
// StreamState values.
type StreamState []*attention.LayerState

// MemoryDepth returns the memory-bank length of the first layer, which all
// layers share after equal numbers of segment calls. Zero for empty state.
func (s StreamState) MemoryDepth() int {
	if len(s) == 0 || s[0].MemoryBanks == nil {
		return 0
	}
	return s[0].MemoryBanks.Len()
}

// Encoder is the augmented-memory convolutional-transformer encoder.
// Encoder itself holds no per-stream state and may serve interleaved
// streams, provided each supplies its own StreamState.
type Encoder struct {
	cfg        Config
	subsampler *nn.ConvSubsampler
	positional *nn.PositionalEncoding
	dropout    *nn.Dropout
	layers     []*Layer

	leftContext  int // subsampled units
	rightContext int // subsampled units

	// Training toggles dropout in subsequent Encode calls.
	Training bool
}

// New creates an encoder from cfg with weights drawn from rng.
func New(cfg Config, rng *rand.Rand) (*Encoder, error) {
	if cfg.Layers <= 0 {
		return nil, fmt.Errorf("encoder needs at least one layer, got %d", cfg.Layers)
	}
	if cfg.LeftContext < 0 || cfg.RightContext < 0 {
		return nil, fmt.Errorf("context sizes must be non-negative, got left=%d right=%d", cfg.LeftContext, cfg.RightContext)
	}
	sub, err := nn.NewConvSubsampler(cfg.InputFeatures, cfg.EmbedDim, cfg.Subsampler, rng)
	if err != nil {
		return nil, fmt.Errorf("building subsampler: %w", err)
	}
	e := &Encoder{
		cfg:          cfg,
		subsampler:   sub,
		positional:   nn.NewPositionalEncoding(cfg.EmbedDim),
		dropout:      nn.NewDropout(cfg.Dropout),
		leftContext:  cfg.LeftContext / sub.Stride(),
		rightContext: cfg.RightContext / sub.Stride(),
	}
	for i := 0; i < cfg.Layers; i++ {
		layer, err := NewLayer(cfg, e.leftContext, e.rightContext, rng)
		if err != nil {
			return nil, fmt.Errorf("building layer %d: %w", i, err)
		}
		e.layers = append(e.layers, layer)
	}
	return e, nil
}

// Stride returns the subsampler's overall stride.
func (e *Encoder) Stride() int {
	return e.subsampler.Stride()
}

// NewStreamState creates fresh per-layer state for a new stream: empty
// memory banks, no previous segment output.
func (e *Encoder) NewStreamState() StreamState {
	states := make(StreamState, len(e.layers))
	for i := range states {
		states[i] = attention.NewLayerState(e.cfg.MaxMemorySize)
	}
	return states
}

// Encode processes one segment of a stream. src is shaped
// (batch, time, features) and includes the left/right context frames;
// srcLengths gives per-example valid lengths in raw frames. A nil states
// starts a new stream.
//
// It returns the final layer's context-trimmed output
// (trimmedTime, batch, embedDim), the per-example lengths within the
// trimmed region, and the updated states to pass into the next segment
// call for the same stream.
func (e *Encoder) Encode(src *tensor.Tensor, srcLengths []int, states StreamState) (*tensor.Tensor, []int, StreamState, error) {
	if src.D0 != len(srcLengths) {
		return nil, nil, nil, fmt.Errorf("batch size %d does not match %d source lengths", src.D0, len(srcLengths))
	}

	x, err := e.subsampler.Forward(src)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("subsampling segment: %w", err)
	}
	outSeqLen := x.D0

	// Rescale valid lengths by the realized subsampling ratio.
	factor := float64(src.D1) / float64(outSeqLen)
	lengths := make([]int, len(srcLengths))
	for i, n := range srcLengths {
		scaled := int(math.Round(float64(n) / factor))
		if scaled > outSeqLen {
			scaled = outSeqLen
		}
		lengths[i] = scaled
	}
	mask := nn.LengthsToPaddingMask(lengths, outSeqLen)

	if err := x.AddInPlace(e.positional.Forward(mask)); err != nil {
		return nil, nil, nil, err
	}
	x = e.dropout.Forward(x, e.Training)

	if states == nil {
		states = e.NewStreamState()
	}
	if len(states) != len(e.layers) {
		return nil, nil, nil, fmt.Errorf("stream state has %d layer entries, encoder has %d layers", len(states), len(e.layers))
	}

	trimStart := e.leftContext
	trimEnd := outSeqLen - e.rightContext
	if trimStart >= trimEnd {
		return nil, nil, nil, fmt.Errorf("context (%d left, %d right) consumes the whole %d-frame segment", e.leftContext, e.rightContext, outSeqLen)
	}

	for i, layer := range e.layers {
		if x, err = layer.Process(x, states[i], mask, e.Training); err != nil {
			return nil, nil, nil, fmt.Errorf("layer %d: %w", i, err)
		}
		trimmed, err := x.SliceD0(trimStart, trimEnd)
		if err != nil {
			return nil, nil, nil, err
		}
		states[i].EncoderStates = trimmed
	}

	outLengths := make([]int, len(lengths))
	for b := range mask {
		n := 0
		for t := trimStart; t < trimEnd; t++ {
			if !mask[b][t] {
				n++
			}
		}
		outLengths[b] = n
	}

	return states[len(states)-1].EncoderStates, outLengths, states, nil
}
