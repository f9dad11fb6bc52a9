package attention

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamformer/streamformer/pkg/tensor"
)

func entry(v float64) *tensor.Tensor {
	t := tensor.MustNew(1, 1, 2)
	t.Data[0], t.Data[1] = v, v
	return t
}

func TestMemoryBankUnboundedGrowth(t *testing.T) {
	bank := NewMemoryBank(-1)
	for i := 0; i < 5; i++ {
		bank.Append(entry(float64(i)))
	}
	assert.Equal(t, 5, bank.Len())
}

func TestMemoryBankEvictsOldestFirst(t *testing.T) {
	bank := NewMemoryBank(2)
	for i := 0; i < 4; i++ {
		bank.Append(entry(float64(i)))
	}
	assert.Equal(t, 2, bank.Len())
	entries := bank.Entries()
	assert.Equal(t, 2.0, entries[0].Data[0], "oldest surviving entry should be the third appended")
	assert.Equal(t, 3.0, entries[1].Data[0])
}

func TestMemoryBankZeroLimitRetainsNothing(t *testing.T) {
	bank := NewMemoryBank(0)
	bank.Append(entry(1))
	bank.Append(entry(2))
	assert.Equal(t, 0, bank.Len())
}

func TestMemoryBankTrimTo(t *testing.T) {
	bank := NewMemoryBank(-1)
	for i := 0; i < 4; i++ {
		bank.Append(entry(float64(i)))
	}

	bank.TrimTo(-1)
	assert.Equal(t, 4, bank.Len(), "negative limit should not trim")

	bank.TrimTo(2)
	assert.Equal(t, 2, bank.Len())
	assert.Equal(t, 2.0, bank.Entries()[0].Data[0])

	bank.TrimTo(0)
	assert.Equal(t, 0, bank.Len())
}

func TestMemoryBankReset(t *testing.T) {
	bank := NewMemoryBank(3)
	bank.Append(entry(1))
	bank.Reset()
	assert.Equal(t, 0, bank.Len())
}
