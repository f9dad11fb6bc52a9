package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/streamformer/streamformer/pkg/tensor"
)

// ConvLayerConfig describes one strided convolution in the subsampling stack.
type ConvLayerConfig struct {
	OutChannels int
	Kernel      int
	Stride      int
}

type convLayer struct {
	inC, outC int
	kernel    int
	stride    int
	pad       int
	weight    []float64 // (outC, inC, kernel, kernel)
	bias      []float64
}

// ConvSubsampler reduces the time resolution of raw feature frames through a
// stack of strided 2-D convolutions over the (time, feature) grid, then maps
// the flattened channels to the model dimension. The overall stride is the
// product of the per-layer strides.
type ConvSubsampler struct {
	layers     []*convLayer
	out        *Linear
	embedScale float64
	stride     int
	featDim    int
	outFeat    int
}

// NewConvSubsampler creates a subsampler for featDim-wide input frames
// producing embedDim-wide output frames. An empty layer stack means identity
// subsampling (stride 1) with only the linear input map.
func NewConvSubsampler(featDim, embedDim int, layers []ConvLayerConfig, rng *rand.Rand) (*ConvSubsampler, error) {
	if featDim <= 0 || embedDim <= 0 {
		return nil, fmt.Errorf("invalid subsampler dimensions: featDim=%d, embedDim=%d (must be positive)", featDim, embedDim)
	}
	cs := &ConvSubsampler{
		embedScale: math.Sqrt(float64(embedDim)),
		stride:     1,
		featDim:    featDim,
	}
	inC, f := 1, featDim
	for i, lc := range layers {
		if lc.OutChannels <= 0 || lc.Kernel <= 0 || lc.Stride <= 0 {
			return nil, fmt.Errorf("invalid conv layer %d: channels=%d, kernel=%d, stride=%d (must be positive)",
				i, lc.OutChannels, lc.Kernel, lc.Stride)
		}
		pad := lc.Kernel / 2
		f = (f+2*pad-lc.Kernel)/lc.Stride + 1
		if f <= 0 {
			return nil, fmt.Errorf("conv layer %d collapses feature dimension to %d", i, f)
		}
		w := make([]float64, lc.OutChannels*inC*lc.Kernel*lc.Kernel)
		for j := range w {
			w[j] = rng.Float64()*0.2 - 0.1
		}
		cs.layers = append(cs.layers, &convLayer{
			inC:    inC,
			outC:   lc.OutChannels,
			kernel: lc.Kernel,
			stride: lc.Stride,
			pad:    pad,
			weight: w,
			bias:   make([]float64, lc.OutChannels),
		})
		cs.stride *= lc.Stride
		inC = lc.OutChannels
	}
	cs.outFeat = inC * f
	var err error
	cs.out, err = NewLinear(cs.outFeat, embedDim, rng)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// Stride returns the product of the stack's per-layer strides.
func (cs *ConvSubsampler) Stride() int {
	return cs.stride
}

// Forward subsamples a (batch, time, featDim) tensor into a
// (subsampledTime, batch, embedDim) tensor scaled by sqrt(embedDim).
func (cs *ConvSubsampler) Forward(src *tensor.Tensor) (*tensor.Tensor, error) {
	if src.D2 != cs.featDim {
		return nil, fmt.Errorf("subsampler input dimension mismatch: got %d, want %d", src.D2, cs.featDim)
	}
	batch, seqLen := src.D0, src.D1

	// (batch, channels, time, feature) working buffer, channels = 1 on entry.
	cur := make([]float64, batch*seqLen*cs.featDim)
	copy(cur, src.Data)
	curC, curT, curF := 1, seqLen, cs.featDim

	for i, l := range cs.layers {
		outT := (curT+2*l.pad-l.kernel)/l.stride + 1
		outF := (curF+2*l.pad-l.kernel)/l.stride + 1
		if outT <= 0 {
			return nil, fmt.Errorf("conv layer %d: segment of %d frames too short for kernel %d stride %d",
				i, curT, l.kernel, l.stride)
		}
		next := make([]float64, batch*l.outC*outT*outF)
		for b := 0; b < batch; b++ {
			for oc := 0; oc < l.outC; oc++ {
				for ot := 0; ot < outT; ot++ {
					for of := 0; of < outF; of++ {
						sum := l.bias[oc]
						for ic := 0; ic < l.inC; ic++ {
							for kt := 0; kt < l.kernel; kt++ {
								t := ot*l.stride + kt - l.pad
								if t < 0 || t >= curT {
									continue
								}
								for kf := 0; kf < l.kernel; kf++ {
									f := of*l.stride + kf - l.pad
									if f < 0 || f >= curF {
										continue
									}
									w := l.weight[((oc*l.inC+ic)*l.kernel+kt)*l.kernel+kf]
									sum += w * cur[((b*l.inC+ic)*curT+t)*curF+f]
								}
							}
						}
						if sum < 0 {
							sum = 0 // ReLU
						}
						next[((b*l.outC+oc)*outT+ot)*outF+of] = sum
					}
				}
			}
		}
		cur, curC, curT, curF = next, l.outC, outT, outF
	}

	// (batch, channels, time, feature) -> (time, batch, channels*feature)
	flat := tensor.MustNew(curT, batch, curC*curF)
	for b := 0; b < batch; b++ {
		for c := 0; c < curC; c++ {
			for t := 0; t < curT; t++ {
				for f := 0; f < curF; f++ {
					flat.Set(t, b, c*curF+f, cur[((b*curC+c)*curT+t)*curF+f])
				}
			}
		}
	}

	x, err := cs.out.Forward(flat)
	if err != nil {
		return nil, err
	}
	return x.Scale(cs.embedScale), nil
}
