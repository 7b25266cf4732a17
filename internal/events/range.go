package events

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// SplitRange splits a block range into batches of at most batchSize blocks.
// A zero batchSize returns the whole range as a single batch.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if to < from {
		return nil, fmt.Errorf("to block %d must be >= from block %d", to, from)
	}
	if batchSize == 0 {
		return []BlockRange{{From: from, To: to}}, nil
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	for start := from; ; {
		end := to
		if to-start >= batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return ranges, nil
}
