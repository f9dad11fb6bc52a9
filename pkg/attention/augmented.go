// Package attention implements augmented-memory multi-head self-attention
// for streaming speech encoders, after "Streaming Transformer-based Acoustic
// Models Using Self-attention with Augmented Memory"
// (https://arxiv.org/abs/2005.08042). Each segment call attends over the
// current segment plus a bounded bank of summary vectors from earlier
// segments, and deposits one new summary vector into the bank.
package attention

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/streamformer/streamformer/pkg/nn"
	"github.com/streamformer/streamformer/pkg/tensor"
)

// Squash selects the nonlinearity applied to a new memory-bank vector
// before it is stored.
type Squash int

const (
	// SquashIdentity stores memory vectors unchanged.
	SquashIdentity Squash = iota
	// SquashTanh squashes memory vectors through tanh, bounding their
	// magnitude across long streams.
	SquashTanh
)

func (s Squash) apply(t *tensor.Tensor) *tensor.Tensor {
	if s == SquashTanh {
		return t.Tanh()
	}
	return t
}

// Config holds the augmented-memory attention hyperparameters.
type Config struct {
	EmbedDim int
	NumHeads int

	// Dropout is the rate applied to attention probabilities.
	Dropout float64

	// MaxMemorySize bounds the memory bank: negative is unbounded, zero
	// retains nothing across segments.
	MaxMemorySize int

	// SuppressionScale is the std-dev multiple for adaptive score
	// suppression; values <= 0 disable the filter. 0.5 follows
	// https://arxiv.org/abs/2005.09137.
	SuppressionScale float64

	// TanhOnMem squashes new memory vectors through tanh.
	TanhOnMem bool

	// DisableMemOnMem forbids the summary query from attending to
	// memory-bank positions, preventing recursive memory-on-memory
	// accumulation.
	DisableMemOnMem bool
}

// AugmentedMemoryAttention is the streaming attention operator. It is
// stateless across calls except through the LayerState passed to Attend.
type AugmentedMemoryAttention struct {
	proj     Projections
	embedDim int
	numHeads int
	headDim  int
	dropout  *nn.Dropout
	squash   Squash
	cfg      Config
}

// New creates an augmented-memory attention operator with randomly
// initialized linear projections.
func New(cfg Config, rng *rand.Rand) (*AugmentedMemoryAttention, error) {
	proj, err := NewLinearProjections(cfg.EmbedDim, cfg.NumHeads, rng)
	if err != nil {
		return nil, err
	}
	return NewWithProjections(cfg, proj)
}

// NewWithProjections creates an augmented-memory attention operator around
// caller-supplied projections.
func NewWithProjections(cfg Config, proj Projections) (*AugmentedMemoryAttention, error) {
	if cfg.NumHeads <= 0 || cfg.EmbedDim%cfg.NumHeads != 0 {
		return nil, fmt.Errorf("embed dimension %d not divisible by %d heads", cfg.EmbedDim, cfg.NumHeads)
	}
	squash := SquashIdentity
	if cfg.TanhOnMem {
		squash = SquashTanh
	}
	return &AugmentedMemoryAttention{
		proj:     proj,
		embedDim: cfg.EmbedDim,
		numHeads: cfg.NumHeads,
		headDim:  cfg.EmbedDim / cfg.NumHeads,
		dropout:  nn.NewDropout(cfg.Dropout),
		squash:   squash,
		cfg:      cfg,
	}, nil
}

// MaxMemorySize returns the configured memory-bank bound.
func (a *AugmentedMemoryAttention) MaxMemorySize() int {
	return a.cfg.MaxMemorySize
}

// Attend runs one segment of augmented-memory self-attention.
//
// inputAndSummary is shaped (segLen+1, batch, embedDim); its final time step
// is the segment's summary query. keyPaddingMask, when non-nil, marks padded
// positions of the segment itself (not the memory bank) and must cover
// segLen frames. The layer's memory bank in state is read as part of the
// key/value source and receives exactly one new summary vector; this
// mutation is the only side effect.
//
// The returned tensor holds the attention output for the segment rows only,
// shaped (segLen, batch, embedDim).
func (a *AugmentedMemoryAttention) Attend(inputAndSummary *tensor.Tensor, state *LayerState, keyPaddingMask nn.PaddingMask, training bool) (*tensor.Tensor, error) {
	length, batch, dim := inputAndSummary.Shape()
	if dim != a.embedDim {
		return nil, fmt.Errorf("attention input dimension mismatch: got %d, want %d", dim, a.embedDim)
	}
	if length < 2 {
		return nil, fmt.Errorf("attention input needs at least one frame plus the summary query, got %d rows", length)
	}
	segLen := length - 1

	if state.MemoryBanks == nil {
		state.MemoryBanks = NewMemoryBank(a.cfg.MaxMemorySize)
	}
	bank := state.MemoryBanks
	// A state built with a larger bound than this operator's is trimmed
	// before the bank is read.
	bank.TrimTo(a.cfg.MaxMemorySize)
	memSize := bank.Len()

	segment, err := inputAndSummary.SliceD0(0, segLen)
	if err != nil {
		return nil, err
	}
	kvSource, err := tensor.CatD0(append(append([]*tensor.Tensor{}, bank.Entries()...), segment)...)
	if err != nil {
		return nil, fmt.Errorf("building key/value source: %w", err)
	}

	q, err := a.proj.ProjectQuery(inputAndSummary)
	if err != nil {
		return nil, err
	}
	k, err := a.proj.ProjectKey(kvSource)
	if err != nil {
		return nil, err
	}
	v, err := a.proj.ProjectValue(kvSource)
	if err != nil {
		return nil, err
	}

	qh, err := q.SplitHeads(a.numHeads)
	if err != nil {
		return nil, err
	}
	qh.Scale(a.proj.Scaling())
	kh, err := k.SplitHeads(a.numHeads)
	if err != nil {
		return nil, err
	}
	vh, err := v.SplitHeads(a.numHeads)
	if err != nil {
		return nil, err
	}

	scores, err := tensor.BMMTransposed(qh, kh)
	if err != nil {
		return nil, err
	}
	if scores.D0 != batch*a.numHeads || scores.D1 != segLen+1 || scores.D2 != segLen+memSize {
		return nil, fmt.Errorf("attention score shape (%d, %d, %d) does not match expected (%d, %d, %d)",
			scores.D0, scores.D1, scores.D2, batch*a.numHeads, segLen+1, segLen+memSize)
	}

	probs, err := a.attentionProbs(scores, memSize, keyPaddingMask, training)
	if err != nil {
		return nil, err
	}

	attended, err := tensor.BMM(probs, vh)
	if err != nil {
		return nil, err
	}
	if attended.D0 != batch*a.numHeads || attended.D1 != segLen+1 || attended.D2 != a.headDim {
		return nil, fmt.Errorf("attention output shape (%d, %d, %d) does not match expected (%d, %d, %d)",
			attended.D0, attended.D1, attended.D2, batch*a.numHeads, segLen+1, a.headDim)
	}

	merged, err := attended.MergeHeads(a.numHeads)
	if err != nil {
		return nil, err
	}
	outputAndMemory, err := a.proj.ProjectOutput(merged)
	if err != nil {
		return nil, err
	}

	output, err := outputAndMemory.SliceD0(0, segLen)
	if err != nil {
		return nil, err
	}
	nextMemory, err := outputAndMemory.SliceD0(segLen, segLen+1)
	if err != nil {
		return nil, err
	}
	bank.Append(a.squash.apply(nextMemory))

	return output, nil
}

// attentionProbs turns raw scores (batch*heads, segLen+1, segLen+memSize)
// into sanitized attention probabilities: memory-on-memory masking,
// suppression, key-padding masking, softmax, NaN scrub, dropout.
func (a *AugmentedMemoryAttention) attentionProbs(scores *tensor.Tensor, memSize int, keyPaddingMask nn.PaddingMask, training bool) (*tensor.Tensor, error) {
	summaryRow := scores.D1 - 1
	if a.cfg.DisableMemOnMem && memSize > 0 {
		for n := 0; n < scores.D0; n++ {
			for c := 0; c < memSize; c++ {
				scores.Set(n, summaryRow, c, math.Inf(-1))
			}
		}
	}

	if a.cfg.SuppressionScale > 0 {
		scores = Suppress(scores, a.cfg.SuppressionScale)
	}

	if keyPaddingMask != nil && keyPaddingMask.Any() {
		if len(keyPaddingMask) != scores.D0/a.numHeads {
			return nil, fmt.Errorf("key padding mask batch %d does not match score batch %d",
				len(keyPaddingMask), scores.D0/a.numHeads)
		}
		segLen := scores.D2 - memSize
		for b, row := range keyPaddingMask {
			if len(row) != segLen {
				return nil, fmt.Errorf("key padding mask length %d does not match segment length %d", len(row), segLen)
			}
			for t, pad := range row {
				if !pad {
					continue
				}
				// Memory-bank columns are never padding; the mask
				// covers only the segment columns after them.
				for h := 0; h < a.numHeads; h++ {
					for q := 0; q < scores.D1; q++ {
						scores.Set(b*a.numHeads+h, q, memSize+t, math.Inf(-1))
					}
				}
			}
		}
	}

	probs := scores.SoftmaxLastDim()
	// A fully padded row softmaxes to NaN; zero it rather than letting it
	// poison the value aggregation.
	probs.ScrubNaN()
	return a.dropout.Forward(probs, training), nil
}
