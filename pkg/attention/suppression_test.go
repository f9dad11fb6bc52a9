package attention

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamformer/streamformer/pkg/tensor"
)

func TestSuppressLeavesUniformRowUntouched(t *testing.T) {
	scores, err := tensor.FromSlice(1, 1, 4, []float64{2, 2, 2, 2})
	require.NoError(t, err)

	out := Suppress(scores, 0.5)
	for k := 0; k < 4; k++ {
		assert.Equal(t, 2.0, out.At(0, 0, k), "uniform distribution has no low-relevance keys")
	}
}

func TestSuppressMasksLowRelevanceOutlier(t *testing.T) {
	scores, err := tensor.FromSlice(1, 1, 4, []float64{10, 10, 10, 0})
	require.NoError(t, err)

	out := Suppress(scores, 0.5)
	assert.True(t, math.IsInf(out.At(0, 0, 3), -1), "outlier far below threshold should be -Inf")
	for k := 0; k < 3; k++ {
		assert.Equal(t, 10.0, out.At(0, 0, k), "surviving entries keep their original score")
	}
}

func TestSuppressKeepsSuppressedEntriesSuppressed(t *testing.T) {
	scores, err := tensor.FromSlice(1, 2, 4, []float64{
		10, 10, 10, 0,
		5, 4, 5, -3,
	})
	require.NoError(t, err)

	once := Suppress(scores, 0.5)
	twice := Suppress(once, 0.5)
	for q := 0; q < once.D1; q++ {
		for k := 0; k < once.D2; k++ {
			if math.IsInf(once.At(0, q, k), -1) {
				assert.True(t, math.IsInf(twice.At(0, q, k), -1),
					"entry (%d, %d) suppressed once must stay suppressed", q, k)
			}
		}
	}
}

func TestSuppressDoesNotMutateInput(t *testing.T) {
	scores, err := tensor.FromSlice(1, 1, 3, []float64{8, 8, -8})
	require.NoError(t, err)

	_ = Suppress(scores, 0.5)
	assert.Equal(t, []float64{8, 8, -8}, scores.Data)
}

func TestSuppressSingleKeyDegenerateVariance(t *testing.T) {
	// One key: variance is ill-defined; the epsilon guards must keep the
	// result finite and the lone key unsuppressed.
	scores, err := tensor.FromSlice(1, 1, 1, []float64{3})
	require.NoError(t, err)

	out := Suppress(scores, 0.5)
	assert.Equal(t, 3.0, out.At(0, 0, 0))
}
