package stream_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamformer/streamformer/pkg/encoder"
	"github.com/streamformer/streamformer/pkg/stream"
	"github.com/streamformer/streamformer/pkg/tensor"
)

func testEncoder(t *testing.T) *encoder.Encoder {
	t.Helper()
	enc, err := encoder.New(encoder.Config{
		InputFeatures:   8,
		EmbedDim:        8,
		NumHeads:        2,
		Layers:          2,
		FFNDim:          16,
		NormalizeBefore: true,
		MaxMemorySize:   4,
		TanhOnMem:       true,
		DisableMemOnMem: true,
	}, rand.New(rand.NewSource(31)))
	require.NoError(t, err)
	return enc
}

func makeSegments(seed int64, n int) []stream.Segment {
	rng := rand.New(rand.NewSource(seed))
	segs := make([]stream.Segment, n)
	for i := range segs {
		f := tensor.MustNew(1, 4, 8)
		for j := range f.Data {
			f.Data[j] = rng.NormFloat64()
		}
		segs[i] = stream.Segment{Features: f, Lengths: []int{4}}
	}
	return segs
}

func TestSessionFeedAdvancesStreamState(t *testing.T) {
	s := stream.NewSession(testEncoder(t))
	for i, seg := range makeSegments(1, 3) {
		out, lengths, err := s.Feed(seg.Features, seg.Lengths)
		require.NoError(t, err)
		assert.Equal(t, 4, out.D0)
		assert.Equal(t, []int{4}, lengths)
		assert.Equal(t, i+1, s.Segments())
		assert.Equal(t, i+1, s.MemoryDepth())
	}
}

func TestSessionResetStartsFreshStream(t *testing.T) {
	enc := testEncoder(t)
	s := stream.NewSession(enc)
	segs := makeSegments(2, 2)

	first, _, err := s.Feed(segs[0].Features.Clone(), segs[0].Lengths)
	require.NoError(t, err)
	_, _, err = s.Feed(segs[1].Features, segs[1].Lengths)
	require.NoError(t, err)

	s.Reset()
	assert.Equal(t, 0, s.Segments())
	assert.Equal(t, 0, s.MemoryDepth())

	replay, _, err := s.Feed(segs[0].Features, segs[0].Lengths)
	require.NoError(t, err)
	assert.Equal(t, first.Data, replay.Data, "reset must fully discard memory history")
}

func TestSessionsHaveDistinctIDs(t *testing.T) {
	enc := testEncoder(t)
	a, b := stream.NewSession(enc), stream.NewSession(enc)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestRunnerMatchesSequentialProcessing(t *testing.T) {
	enc := testEncoder(t)

	// Sequential reference: one session per stream, fed in order.
	wantOutputs := make([][]*tensor.Tensor, 3)
	for i := range wantOutputs {
		s := stream.NewSession(enc)
		for _, seg := range makeSegments(int64(100+i), 4) {
			out, _, err := s.Feed(seg.Features.Clone(), seg.Lengths)
			require.NoError(t, err)
			wantOutputs[i] = append(wantOutputs[i], out)
		}
	}

	jobs := make([]*stream.Job, 3)
	for i := range jobs {
		jobs[i] = &stream.Job{
			Session:  stream.NewSession(enc),
			Segments: makeSegments(int64(100+i), 4),
		}
	}
	runner := &stream.Runner{Parallelism: 3}
	require.NoError(t, runner.Run(context.Background(), jobs))

	for i, job := range jobs {
		require.Len(t, job.Outputs, 4)
		for s, out := range job.Outputs {
			assert.Equal(t, wantOutputs[i][s].Data, out.Data,
				"stream %d segment %d must match sequential processing", i, s)
		}
		assert.Equal(t, 4, job.Session.Segments())
	}
}

func TestRunnerStopsOnError(t *testing.T) {
	enc := testEncoder(t)
	bad := stream.Segment{Features: tensor.MustNew(1, 4, 8), Lengths: []int{4, 4}} // batch mismatch
	jobs := []*stream.Job{{Session: stream.NewSession(enc), Segments: []stream.Segment{bad}}}

	err := (&stream.Runner{}).Run(context.Background(), jobs)
	assert.Error(t, err)
}
