// Package stream manages per-stream encoder state: sessions that enforce
// in-order segment processing for one audio stream, and a runner that
// processes independent sessions concurrently.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/streamformer/streamformer/pkg/encoder"
	"github.com/streamformer/streamformer/pkg/tensor"
)

// Session owns the streaming state for one audio stream. Memory-bank
// history is order-dependent, so Feed serializes segment calls; two
// sessions never share state and may run concurrently.
type Session struct {
	id  uuid.UUID
	enc *encoder.Encoder

	mu       sync.Mutex
	state    encoder.StreamState
	segments int
}

// NewSession creates a session for a new stream on enc.
func NewSession(enc *encoder.Encoder) *Session {
	return &Session{
		id:    uuid.New(),
		enc:   enc,
		state: enc.NewStreamState(),
	}
}

// ID returns the session's stream identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Segments returns the number of segments processed so far.
func (s *Session) Segments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments
}

// MemoryDepth returns the current per-layer memory-bank length.
func (s *Session) MemoryDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.MemoryDepth()
}

// Feed processes the next segment of the stream, returning the trimmed
// output and its per-example lengths.
func (s *Session) Feed(features *tensor.Tensor, lengths []int) (*tensor.Tensor, []int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, outLengths, state, err := s.enc.Encode(features, lengths, s.state)
	if err != nil {
		return nil, nil, fmt.Errorf("stream %s segment %d: %w", s.id, s.segments, err)
	}
	s.state = state
	s.segments++
	return out, outLengths, nil
}

// Reset discards the session's streaming state, starting a fresh stream
// under the same identifier.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.enc.NewStreamState()
	s.segments = 0
}

// Segment is one chunk of raw features queued for a session.
type Segment struct {
	Features *tensor.Tensor // (batch, time, features), context included
	Lengths  []int
}

// Job pairs a session with its ordered segments. Run fills Outputs and
// OutLengths, one entry per segment.
type Job struct {
	Session    *Session
	Segments   []Segment
	Outputs    []*tensor.Tensor
	OutLengths [][]int
}

// Runner drives multiple independent sessions concurrently. Within a job,
// segments are processed strictly in order; across jobs, up to Parallelism
// goroutines run at once.
type Runner struct {
	Parallelism int
	Logger      *slog.Logger
}

// Run processes every job's segments. The first error cancels the
// remaining work.
func (r *Runner) Run(ctx context.Context, jobs []*Job) error {
	g, ctx := errgroup.WithContext(ctx)
	if r.Parallelism > 0 {
		g.SetLimit(r.Parallelism)
	}
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			job.Outputs = make([]*tensor.Tensor, 0, len(job.Segments))
			job.OutLengths = make([][]int, 0, len(job.Segments))
			for i, seg := range job.Segments {
				if err := ctx.Err(); err != nil {
					return err
				}
				out, lengths, err := job.Session.Feed(seg.Features, seg.Lengths)
				if err != nil {
					return err
				}
				job.Outputs = append(job.Outputs, out)
				job.OutLengths = append(job.OutLengths, lengths)
				if r.Logger != nil {
					r.Logger.Debug("segment encoded",
						"stream", job.Session.ID(),
						"segment", i,
						"frames", out.D0,
						"memory_depth", job.Session.MemoryDepth())
				}
			}
			return nil
		})
	}
	return g.Wait()
}
