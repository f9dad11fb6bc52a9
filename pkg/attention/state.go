package attention

import "github.com/streamformer/streamformer/pkg/tensor"

// MemoryBank is a bounded FIFO of segment summary vectors, each shaped
// (1, batch, embedDim). A limit of zero retains nothing; a negative limit
// retains everything. Eviction is oldest-first and happens at append time,
// so the bank never exceeds its limit.
type MemoryBank struct {
	limit   int
	entries []*tensor.Tensor
}

// NewMemoryBank creates an empty memory bank with the given size limit.
func NewMemoryBank(limit int) *MemoryBank {
	return &MemoryBank{limit: limit}
}

// Append adds a summary vector, evicting the oldest entry when the bank is
// at its limit. With a zero limit the append is a no-op.
func (m *MemoryBank) Append(v *tensor.Tensor) {
	if m.limit == 0 {
		return
	}
	if m.limit > 0 && len(m.entries) >= m.limit {
		n := copy(m.entries, m.entries[len(m.entries)-m.limit+1:])
		m.entries = m.entries[:n]
	}
	m.entries = append(m.entries, v)
}

// Len returns the number of retained summary vectors.
func (m *MemoryBank) Len() int {
	return len(m.entries)
}

// Limit returns the configured size limit.
func (m *MemoryBank) Limit() int {
	return m.limit
}

// Entries returns the retained summary vectors, oldest first. The returned
// slice must not be mutated.
func (m *MemoryBank) Entries() []*tensor.Tensor {
	return m.entries
}

// TrimTo evicts oldest entries until at most limit remain. A zero limit
// clears the bank; a negative limit is a no-op.
func (m *MemoryBank) TrimTo(limit int) {
	if limit < 0 || len(m.entries) <= limit {
		return
	}
	if limit == 0 {
		m.Reset()
		return
	}
	n := copy(m.entries, m.entries[len(m.entries)-limit:])
	m.entries = m.entries[:n]
}

// Reset discards all retained summary vectors.
func (m *MemoryBank) Reset() {
	m.entries = m.entries[:0]
}

// LayerState carries one transformer layer's mutable streaming state across
// segment calls: its memory bank and its last context-trimmed segment
// output. The caller owns the state and threads it through every call for
// the same stream; the attention operator mutates it in place.
type LayerState struct {
	MemoryBanks   *MemoryBank
	EncoderStates *tensor.Tensor // nil until the first segment is processed
}

// NewLayerState creates a fresh layer state with an empty memory bank of the
// given limit.
func NewLayerState(memoryLimit int) *LayerState {
	return &LayerState{MemoryBanks: NewMemoryBank(memoryLimit)}
}
