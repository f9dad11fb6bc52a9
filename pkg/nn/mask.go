package nn

// PaddingMask marks padded positions in a batch of sequences.
// Indexed as [batch][time]; true means the position is padding.
type PaddingMask [][]bool

// LengthsToPaddingMask builds a padding mask for a batch of sequences of the
// given valid lengths, each padded out to seqLen frames.
func LengthsToPaddingMask(lengths []int, seqLen int) PaddingMask {
	mask := make(PaddingMask, len(lengths))
	for b, n := range lengths {
		mask[b] = make([]bool, seqLen)
		for t := n; t < seqLen; t++ {
			mask[b][t] = true
		}
	}
	return mask
}

// Any reports whether the mask marks at least one position as padding.
func (m PaddingMask) Any() bool {
	for _, row := range m {
		for _, pad := range row {
			if pad {
				return true
			}
		}
	}
	return false
}
