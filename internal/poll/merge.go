package poll

import (
	"cmp"
	"slices"

	"contractWatch/internal/model"
)

// SortNewestFirst orders records by descending block, transaction index and
// log index. The input is not modified.
func SortNewestFirst(records []model.LogRecord) []model.LogRecord {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b model.LogRecord) int {
		if c := cmp.Compare(b.BlockNumber, a.BlockNumber); c != 0 {
			return c
		}
		if c := cmp.Compare(b.TxIndex, a.TxIndex); c != 0 {
			return c
		}
		return cmp.Compare(b.LogIndex, a.LogIndex)
	})
	return out
}

// Merge prepends the records of incoming that are not already known to
// existing. Incoming records are ordered newest first; the first occurrence of
// an identity key wins, so the result never holds two records with one key.
func Merge(existing, incoming []model.LogRecord) []model.LogRecord {
	out, _ := merge(existing, incoming)
	return out
}

// merge is Merge that also returns the records that were added.
func merge(existing, incoming []model.LogRecord) ([]model.LogRecord, []model.LogRecord) {
	seen := make(map[model.LogKey]struct{}, len(existing)+len(incoming))
	for _, record := range existing {
		seen[record.Key()] = struct{}{}
	}

	added := make([]model.LogRecord, 0, len(incoming))
	for _, record := range SortNewestFirst(incoming) {
		key := record.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		added = append(added, record)
	}

	out := make([]model.LogRecord, 0, len(added)+len(existing))
	out = append(out, added...)
	kept := make(map[model.LogKey]struct{}, len(existing))
	for _, record := range existing {
		key := record.Key()
		if _, ok := kept[key]; ok {
			continue
		}
		kept[key] = struct{}{}
		out = append(out, record)
	}
	return out, added
}
