package storage

import (
	"context"
	"errors"

	"contractWatch/internal/model"
)

// Storage defines a sink for log records. Implementations must tolerate a
// record being written more than once.
type Storage interface {
	PutLogBatch(ctx context.Context, logs []model.LogRecord) error
}

// StateStore persists the last block a watcher has fully processed, keyed by
// watcher name.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, block uint64) error
}

// Multi fans a batch out to every sink and joins their errors.
type Multi []Storage

// PutLogBatch writes logs to each sink in order.
func (m Multi) PutLogBatch(ctx context.Context, logs []model.LogRecord) error {
	var errs []error
	for _, sink := range m {
		if err := sink.PutLogBatch(ctx, logs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiState saves to every store. Loading returns the lowest block any store
// holds, so a lagging store causes refetching rather than a gap.
type MultiState []StateStore

// LoadState returns the minimum persisted block across stores.
func (m MultiState) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	var (
		lowest uint64
		found  bool
	)
	for _, store := range m {
		block, ok, err := store.LoadState(ctx, name)
		if err != nil {
			return 0, false, err
		}
		if ok && (!found || block < lowest) {
			lowest, found = block, true
		}
	}
	return lowest, found, nil
}

// SaveState writes block to each store and joins their errors.
func (m MultiState) SaveState(ctx context.Context, name string, block uint64) error {
	var errs []error
	for _, store := range m {
		if err := store.SaveState(ctx, name, block); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
