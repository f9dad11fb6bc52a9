package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/streamformer/streamformer/pkg/tensor"
)

func TestIdentityLinearPassesThrough(t *testing.T) {
	l := NewIdentityLinear(3)
	x, _ := tensor.FromSlice(2, 1, 3, []float64{1, 2, 3, 4, 5, 6})
	y, err := l.Forward(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range y.Data {
		if v != x.Data[i] {
			t.Errorf("element %d: expected %g, got %g", i, x.Data[i], v)
		}
	}
}

func TestLinearAppliesWeightsAndBias(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l, err := NewLinear(2, 2, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Weight.Set(0, 0, 1)
	l.Weight.Set(0, 1, 2)
	l.Weight.Set(1, 0, 3)
	l.Weight.Set(1, 1, 4)
	l.Bias[0], l.Bias[1] = 10, 20

	x, _ := tensor.FromSlice(1, 1, 2, []float64{1, 1})
	y, err := l.Forward(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if y.At(0, 0, 0) != 14 || y.At(0, 0, 1) != 26 {
		t.Errorf("expected (14, 26), got (%g, %g)", y.At(0, 0, 0), y.At(0, 0, 1))
	}

	bad := tensor.MustNew(1, 1, 3)
	if _, err := l.Forward(bad); err == nil {
		t.Error("expected error for mismatched input dimension, got nil")
	}
}

func TestLayerNormNormalizes(t *testing.T) {
	ln := NewLayerNorm(4)
	x, _ := tensor.FromSlice(1, 1, 4, []float64{1, 2, 3, 4})
	y, err := ln.Forward(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mean, variance := 0.0, 0.0
	for k := 0; k < 4; k++ {
		mean += y.At(0, 0, k)
	}
	mean /= 4
	for k := 0; k < 4; k++ {
		d := y.At(0, 0, k) - mean
		variance += d * d
	}
	variance /= 4
	if math.Abs(mean) > 1e-9 {
		t.Errorf("expected zero mean after normalization, got %g", mean)
	}
	if math.Abs(variance-1) > 1e-3 {
		t.Errorf("expected unit variance after normalization, got %g", variance)
	}
}

func TestDropoutEvalModeIsIdentity(t *testing.T) {
	d := NewDropout(0.5)
	x, _ := tensor.FromSlice(1, 1, 2, []float64{1, 2})
	if y := d.Forward(x, false); y != x {
		t.Error("eval-mode dropout should return the input unchanged")
	}
}

func TestDropoutScalesSurvivors(t *testing.T) {
	d := NewDropoutWithSource(0.5, rand.New(rand.NewSource(7)))
	x := tensor.MustNew(8, 4, 8)
	for i := range x.Data {
		x.Data[i] = 1
	}
	y := d.Forward(x, true)
	for _, v := range y.Data {
		if v != 0 && v != 2 {
			t.Fatalf("expected survivors scaled to 2, got %g", v)
		}
	}
}

func TestLengthsToPaddingMask(t *testing.T) {
	mask := LengthsToPaddingMask([]int{3, 1}, 4)
	if mask.Any() != true {
		t.Error("mask should report padding present")
	}
	wantPadded := [][]bool{
		{false, false, false, true},
		{false, true, true, true},
	}
	for b := range wantPadded {
		for i, want := range wantPadded[b] {
			if mask[b][i] != want {
				t.Errorf("mask[%d][%d]: expected %v, got %v", b, i, want, mask[b][i])
			}
		}
	}

	full := LengthsToPaddingMask([]int{2, 2}, 2)
	if full.Any() {
		t.Error("mask without padding should report none")
	}
}

func TestPositionalEncodingZeroesPaddedFrames(t *testing.T) {
	pe := NewPositionalEncoding(8)
	mask := LengthsToPaddingMask([]int{2}, 4)
	pos := pe.Forward(mask)
	if pos.D0 != 4 || pos.D1 != 1 || pos.D2 != 8 {
		t.Fatalf("expected shape (4, 1, 8), got (%d, %d, %d)", pos.D0, pos.D1, pos.D2)
	}
	for k := 0; k < 8; k++ {
		if pos.At(2, 0, k) != 0 || pos.At(3, 0, k) != 0 {
			t.Fatal("padded frames should carry the zero vector")
		}
	}
	// Valid frames get distinct encodings.
	same := true
	for k := 0; k < 8; k++ {
		if pos.At(0, 0, k) != pos.At(1, 0, k) {
			same = false
		}
	}
	if same {
		t.Error("distinct positions should get distinct encodings")
	}
}

func TestFeedForwardShape(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ff, err := NewFeedForward(8, 32, 0, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x := tensor.MustNew(5, 2, 8)
	y, err := ff.Forward(x, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if y.D0 != 5 || y.D1 != 2 || y.D2 != 8 {
		t.Errorf("expected shape (5, 2, 8), got (%d, %d, %d)", y.D0, y.D1, y.D2)
	}
}

func TestConvSubsamplerStrideAndShape(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	cs, err := NewConvSubsampler(8, 16, []ConvLayerConfig{
		{OutChannels: 4, Kernel: 3, Stride: 2},
		{OutChannels: 4, Kernel: 3, Stride: 2},
	}, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.Stride() != 4 {
		t.Errorf("expected stride 4, got %d", cs.Stride())
	}

	src := tensor.MustNew(2, 16, 8) // (batch, time, feat)
	for i := range src.Data {
		src.Data[i] = rng.NormFloat64()
	}
	out, err := cs.Forward(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// kernel 3, pad 1, stride 2: 16 -> 8 -> 4 frames.
	if out.D0 != 4 || out.D1 != 2 || out.D2 != 16 {
		t.Errorf("expected shape (4, 2, 16), got (%d, %d, %d)", out.D0, out.D1, out.D2)
	}
}

func TestConvSubsamplerEmptyStackIsStrideOne(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	cs, err := NewConvSubsampler(8, 8, nil, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.Stride() != 1 {
		t.Errorf("expected stride 1, got %d", cs.Stride())
	}
	src := tensor.MustNew(1, 6, 8)
	out, err := cs.Forward(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.D0 != 6 || out.D1 != 1 || out.D2 != 8 {
		t.Errorf("expected shape (6, 1, 8), got (%d, %d, %d)", out.D0, out.D1, out.D2)
	}
}
