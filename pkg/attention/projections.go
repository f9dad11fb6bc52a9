package attention

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/streamformer/streamformer/pkg/nn"
	"github.com/streamformer/streamformer/pkg/tensor"
)

// Projections provides the query/key/value/output transforms and the score
// scaling factor shared by attention variants. Augmented-memory attention
// composes against this interface rather than a concrete multi-head
// implementation.
type Projections interface {
	ProjectQuery(x *tensor.Tensor) (*tensor.Tensor, error)
	ProjectKey(x *tensor.Tensor) (*tensor.Tensor, error)
	ProjectValue(x *tensor.Tensor) (*tensor.Tensor, error)
	ProjectOutput(x *tensor.Tensor) (*tensor.Tensor, error)
	Scaling() float64
}

// LinearProjections implements Projections with four dense layers and the
// conventional 1/sqrt(headDim) scaling.
type LinearProjections struct {
	Query   *nn.Linear
	Key     *nn.Linear
	Value   *nn.Linear
	Output  *nn.Linear
	scaling float64
}

// NewLinearProjections creates randomly initialized projections for the
// given embedding size and head count.
func NewLinearProjections(embedDim, numHeads int, rng *rand.Rand) (*LinearProjections, error) {
	if numHeads <= 0 || embedDim%numHeads != 0 {
		return nil, fmt.Errorf("embed dimension %d not divisible by %d heads", embedDim, numHeads)
	}
	headDim := embedDim / numHeads
	lp := &LinearProjections{scaling: 1 / math.Sqrt(float64(headDim))}
	for _, p := range []struct {
		name string
		dst  **nn.Linear
	}{
		{"query", &lp.Query},
		{"key", &lp.Key},
		{"value", &lp.Value},
		{"output", &lp.Output},
	} {
		l, err := nn.NewLinear(embedDim, embedDim, rng)
		if err != nil {
			return nil, fmt.Errorf("%s projection: %w", p.name, err)
		}
		*p.dst = l
	}
	return lp, nil
}

// NewIdentityProjections creates projections whose four transforms are the
// identity, with the standard scaling. Intended for tests that need
// predictable attention arithmetic.
func NewIdentityProjections(embedDim, numHeads int) (*LinearProjections, error) {
	if numHeads <= 0 || embedDim%numHeads != 0 {
		return nil, fmt.Errorf("embed dimension %d not divisible by %d heads", embedDim, numHeads)
	}
	headDim := embedDim / numHeads
	return &LinearProjections{
		Query:   nn.NewIdentityLinear(embedDim),
		Key:     nn.NewIdentityLinear(embedDim),
		Value:   nn.NewIdentityLinear(embedDim),
		Output:  nn.NewIdentityLinear(embedDim),
		scaling: 1 / math.Sqrt(float64(headDim)),
	}, nil
}

// ProjectQuery applies the query transform.
func (lp *LinearProjections) ProjectQuery(x *tensor.Tensor) (*tensor.Tensor, error) {
	return lp.Query.Forward(x)
}

// ProjectKey applies the key transform.
func (lp *LinearProjections) ProjectKey(x *tensor.Tensor) (*tensor.Tensor, error) {
	return lp.Key.Forward(x)
}

// ProjectValue applies the value transform.
func (lp *LinearProjections) ProjectValue(x *tensor.Tensor) (*tensor.Tensor, error) {
	return lp.Value.Forward(x)
}

// ProjectOutput applies the output transform.
func (lp *LinearProjections) ProjectOutput(x *tensor.Tensor) (*tensor.Tensor, error) {
	return lp.Output.Forward(x)
}

// Scaling returns the factor applied to queries before the score product.
func (lp *LinearProjections) Scaling() float64 {
	return lp.scaling
}
