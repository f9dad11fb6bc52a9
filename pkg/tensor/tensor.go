// Package tensor provides the rank-3 float64 tensors used throughout the
// streaming encoder. The canonical layout is (time, batch, feature) for
// sequence data and (batch*heads, query, key) for attention scores; the
// package itself is layout-agnostic and only enforces shapes.
package tensor

import (
	"fmt"
	"math"
)

// Tensor represents a rank-3 tensor stored row-major in a flat slice.
type Tensor struct {
	D0   int
	D1   int
	D2   int
	Data []float64
}

// New creates a zero-filled tensor with the specified dimensions.
func New(d0, d1, d2 int) (*Tensor, error) {
	if d0 <= 0 || d1 <= 0 || d2 <= 0 {
		return nil, fmt.Errorf("invalid tensor dimensions: (%d, %d, %d) (must be positive)", d0, d1, d2)
	}
	return &Tensor{
		D0:   d0,
		D1:   d1,
		D2:   d2,
		Data: make([]float64, d0*d1*d2),
	}, nil
}

// MustNew creates a zero-filled tensor with the specified dimensions.
// Panics if dimensions are invalid.
func MustNew(d0, d1, d2 int) *Tensor {
	t, err := New(d0, d1, d2)
	if err != nil {
		panic(err)
	}
	return t
}

// FromSlice creates a tensor wrapping the given flat data slice.
func FromSlice(d0, d1, d2 int, data []float64) (*Tensor, error) {
	if d0 <= 0 || d1 <= 0 || d2 <= 0 {
		return nil, fmt.Errorf("invalid tensor dimensions: (%d, %d, %d) (must be positive)", d0, d1, d2)
	}
	if len(data) != d0*d1*d2 {
		return nil, fmt.Errorf("data length %d doesn't match dimensions (%d, %d, %d)", len(data), d0, d1, d2)
	}
	return &Tensor{D0: d0, D1: d1, D2: d2, Data: data}, nil
}

// Shape returns the three dimensions of the tensor.
func (t *Tensor) Shape() (int, int, int) {
	return t.D0, t.D1, t.D2
}

// SameShape reports whether t and o have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.D0 == o.D0 && t.D1 == o.D1 && t.D2 == o.D2
}

func (t *Tensor) index(i, j, k int) int {
	return (i*t.D1+j)*t.D2 + k
}

// At returns the element at (i, j, k).
func (t *Tensor) At(i, j, k int) float64 {
	return t.Data[t.index(i, j, k)]
}

// Set assigns the element at (i, j, k).
func (t *Tensor) Set(i, j, k int, v float64) {
	t.Data[t.index(i, j, k)] = v
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{D0: t.D0, D1: t.D1, D2: t.D2, Data: data}
}

// Scale multiplies every element by c in place and returns the tensor.
func (t *Tensor) Scale(c float64) *Tensor {
	for i := range t.Data {
		t.Data[i] *= c
	}
	return t
}

// AddInPlace adds o element-wise into t.
func (t *Tensor) AddInPlace(o *Tensor) error {
	if !t.SameShape(o) {
		return fmt.Errorf("tensor dimensions don't match for addition: a(%d, %d, %d), b(%d, %d, %d)",
			t.D0, t.D1, t.D2, o.D0, o.D1, o.D2)
	}
	for i := range t.Data {
		t.Data[i] += o.Data[i]
	}
	return nil
}

// Add returns the element-wise sum of a and b as a new tensor.
func Add(a, b *Tensor) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("tensor dimensions don't match for addition: a(%d, %d, %d), b(%d, %d, %d)",
			a.D0, a.D1, a.D2, b.D0, b.D1, b.D2)
	}
	out := a.Clone()
	for i := range out.Data {
		out.Data[i] += b.Data[i]
	}
	return out, nil
}

// Tanh applies the hyperbolic tangent element-wise, returning a new tensor.
func (t *Tensor) Tanh() *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		out.Data[i] = math.Tanh(v)
	}
	return out
}

// SliceD0 copies rows [start, end) along the first dimension.
func (t *Tensor) SliceD0(start, end int) (*Tensor, error) {
	if start < 0 || end > t.D0 || start >= end {
		return nil, fmt.Errorf("invalid slice [%d, %d) for dimension of size %d", start, end, t.D0)
	}
	out := MustNew(end-start, t.D1, t.D2)
	copy(out.Data, t.Data[start*t.D1*t.D2:end*t.D1*t.D2])
	return out, nil
}

// CatD0 concatenates tensors along the first dimension. All inputs must
// agree on the remaining two dimensions.
func CatD0(parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("cannot concatenate zero tensors")
	}
	d1, d2 := parts[0].D1, parts[0].D2
	total := 0
	for _, p := range parts {
		if p.D1 != d1 || p.D2 != d2 {
			return nil, fmt.Errorf("tensor dimensions don't match for concatenation: want (*, %d, %d), got (%d, %d, %d)",
				d1, d2, p.D0, p.D1, p.D2)
		}
		total += p.D0
	}
	out := MustNew(total, d1, d2)
	off := 0
	for _, p := range parts {
		copy(out.Data[off:], p.Data)
		off += len(p.Data)
	}
	return out, nil
}

// MeanD0 computes the element-wise mean of rows [start, end) along the first
// dimension, returning a (1, D1, D2) tensor.
func (t *Tensor) MeanD0(start, end int) (*Tensor, error) {
	if start < 0 || end > t.D0 || start >= end {
		return nil, fmt.Errorf("invalid mean range [%d, %d) for dimension of size %d", start, end, t.D0)
	}
	out := MustNew(1, t.D1, t.D2)
	n := float64(end - start)
	for i := start; i < end; i++ {
		base := i * t.D1 * t.D2
		for p := 0; p < t.D1*t.D2; p++ {
			out.Data[p] += t.Data[base+p]
		}
	}
	for p := range out.Data {
		out.Data[p] /= n
	}
	return out, nil
}

// SplitHeads reshapes a (time, batch, heads*headDim) tensor into the
// per-head score layout (batch*heads, time, headDim).
func (t *Tensor) SplitHeads(heads int) (*Tensor, error) {
	if t.D2%heads != 0 {
		return nil, fmt.Errorf("feature dimension %d not divisible by %d heads", t.D2, heads)
	}
	headDim := t.D2 / heads
	out := MustNew(t.D1*heads, t.D0, headDim)
	for i := 0; i < t.D0; i++ {
		for b := 0; b < t.D1; b++ {
			for h := 0; h < heads; h++ {
				srcBase := t.index(i, b, h*headDim)
				dstBase := out.index(b*heads+h, i, 0)
				copy(out.Data[dstBase:dstBase+headDim], t.Data[srcBase:srcBase+headDim])
			}
		}
	}
	return out, nil
}

// MergeHeads is the inverse of SplitHeads: it reshapes a
// (batch*heads, time, headDim) tensor back to (time, batch, heads*headDim).
func (t *Tensor) MergeHeads(heads int) (*Tensor, error) {
	if t.D0%heads != 0 {
		return nil, fmt.Errorf("leading dimension %d not divisible by %d heads", t.D0, heads)
	}
	batch := t.D0 / heads
	out := MustNew(t.D1, batch, heads*t.D2)
	for bh := 0; bh < t.D0; bh++ {
		b, h := bh/heads, bh%heads
		for i := 0; i < t.D1; i++ {
			srcBase := t.index(bh, i, 0)
			dstBase := out.index(i, b, h*t.D2)
			copy(out.Data[dstBase:dstBase+t.D2], t.Data[srcBase:srcBase+t.D2])
		}
	}
	return out, nil
}

// BMM performs batched matrix multiplication: (N, M, K) x (N, K, P) -> (N, M, P).
func BMM(a, b *Tensor) (*Tensor, error) {
	if a.D0 != b.D0 || a.D2 != b.D1 {
		return nil, fmt.Errorf("tensor dimensions don't match for batched matmul: a(%d, %d, %d), b(%d, %d, %d)",
			a.D0, a.D1, a.D2, b.D0, b.D1, b.D2)
	}
	out := MustNew(a.D0, a.D1, b.D2)
	for n := 0; n < a.D0; n++ {
		for i := 0; i < a.D1; i++ {
			for k := 0; k < a.D2; k++ {
				av := a.Data[a.index(n, i, k)]
				if av == 0 {
					continue
				}
				bBase := b.index(n, k, 0)
				oBase := out.index(n, i, 0)
				for j := 0; j < b.D2; j++ {
					out.Data[oBase+j] += av * b.Data[bBase+j]
				}
			}
		}
	}
	return out, nil
}

// BMMTransposed performs batched matrix multiplication against the transpose
// of the right operand: (N, M, K) x (N, P, K) -> (N, M, P). This is the
// query-times-key-transpose step of attention without materializing the
// transpose.
func BMMTransposed(a, b *Tensor) (*Tensor, error) {
	if a.D0 != b.D0 || a.D2 != b.D2 {
		return nil, fmt.Errorf("tensor dimensions don't match for transposed batched matmul: a(%d, %d, %d), b(%d, %d, %d)",
			a.D0, a.D1, a.D2, b.D0, b.D1, b.D2)
	}
	out := MustNew(a.D0, a.D1, b.D1)
	for n := 0; n < a.D0; n++ {
		for i := 0; i < a.D1; i++ {
			aBase := a.index(n, i, 0)
			for j := 0; j < b.D1; j++ {
				bBase := b.index(n, j, 0)
				sum := 0.0
				for k := 0; k < a.D2; k++ {
					sum += a.Data[aBase+k] * b.Data[bBase+k]
				}
				out.Data[out.index(n, i, j)] = sum
			}
		}
	}
	return out, nil
}

// SoftmaxLastDim applies a numerically stable softmax along the last
// dimension, returning a new tensor. A row whose entries are all -Inf has no
// finite maximum and produces a NaN row; callers that mask entire rows must
// scrub the result with ScrubNaN.
func (t *Tensor) SoftmaxLastDim() *Tensor {
	out := MustNew(t.D0, t.D1, t.D2)
	for i := 0; i < t.D0; i++ {
		for j := 0; j < t.D1; j++ {
			base := t.index(i, j, 0)
			max := math.Inf(-1)
			for k := 0; k < t.D2; k++ {
				if t.Data[base+k] > max {
					max = t.Data[base+k]
				}
			}
			sum := 0.0
			for k := 0; k < t.D2; k++ {
				e := math.Exp(t.Data[base+k] - max)
				out.Data[base+k] = e
				sum += e
			}
			for k := 0; k < t.D2; k++ {
				out.Data[base+k] /= sum
			}
		}
	}
	return out
}

// ScrubNaN replaces NaN entries with zero in place, reporting whether any
// were found.
func (t *Tensor) ScrubNaN() bool {
	found := false
	for i, v := range t.Data {
		if math.IsNaN(v) {
			t.Data[i] = 0
			found = true
		}
	}
	return found
}
