package poll

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"contractWatch/internal/events"
	"contractWatch/internal/metrics"
	"contractWatch/internal/model"
	"contractWatch/internal/storage"
)

// DefaultInterval is the delta check period when Options.Interval is unset.
const DefaultInterval = 30 * time.Second

// ErrClosed is returned by operations on a closed watcher.
var ErrClosed = errors.New("watcher closed")

// Fetcher is the part of *events.Fetcher the watcher needs.
type Fetcher interface {
	Fetch(ctx context.Context, q events.Query) (events.Result, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

// Options configures a Watcher.
type Options struct {
	// Name identifies the watcher in logs, metrics and persisted state.
	// Defaults to the event name.
	Name string

	Address   common.Address
	ABI       abi.ABI
	EventName string
	FromBlock uint64
	// ToBlock caps every fetch, including delta checks; nil follows the head.
	ToBlock *uint64
	Filters map[string][]interface{}
	Enrich  events.Enrichment

	Enabled  bool
	Watch    bool
	Interval time.Duration

	// OnUpdate receives a snapshot after every state transition. Calls are
	// sequential and run on the fetching goroutine; the callback may call State
	// but no other Watcher method.
	OnUpdate func(model.PollState)

	// Sink receives the records each fetch adds.
	Sink storage.Storage
	// State persists LastKnownBlock. When it holds a block at or beyond
	// FromBlock and Seed is non-nil, the first fetch covers only the blocks
	// after it and merges into Seed.
	State storage.StateStore
	// Seed is the record set a resumed watcher starts from. A nil Seed means
	// no stored records back State, so the first fetch covers the full range.
	Seed []model.LogRecord

	Metrics *metrics.Poll
	Logger  *zap.Logger
}

// Watcher polls one contract event and accumulates its records newest first.
type Watcher struct {
	id      uuid.UUID
	opts    Options
	fetcher Fetcher
	logger  *zap.Logger

	// fetchMu serializes full fetches and delta checks so results apply in
	// invocation order.
	fetchMu sync.Mutex

	mu      sync.Mutex
	state   model.PollState
	synced  bool
	enabled bool
	watch   bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	timer   *timer
}

type timer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an idle watcher. Nothing touches the network before Start.
func New(fetcher Fetcher, opts Options) (*Watcher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is nil")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Name == "" {
		opts.Name = opts.EventName
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	id := uuid.New()
	return &Watcher{
		id:      id,
		opts:    opts,
		fetcher: fetcher,
		logger: opts.Logger.With(
			zap.String("watcher", opts.Name),
			zap.String("watcher_id", id.String()),
		),
		state:   model.PollState{Status: model.StatusIdle},
		enabled: opts.Enabled,
		watch:   opts.Watch,
	}, nil
}

// ID returns the instance id used in logs.
func (w *Watcher) ID() uuid.UUID {
	return w.id
}

// Start binds the watcher to ctx. If enabled it runs the initial fetch and, in
// watch mode, starts the delta timer. Fetch failures are reported through
// State, not as an error.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.ctx != nil {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	enabled := w.enabled
	w.mu.Unlock()

	if !enabled {
		return nil
	}
	w.activate()
	return nil
}

// SetEnabled turns polling on or off. Enabling runs a full-range fetch again
// and replaces the accumulated records with its result.
func (w *Watcher) SetEnabled(on bool) {
	w.mu.Lock()
	if w.closed || w.enabled == on {
		w.mu.Unlock()
		return
	}
	w.enabled = on
	started := w.ctx != nil
	w.mu.Unlock()

	if !started {
		return
	}
	if on {
		w.activate()
		return
	}
	w.stopTimer()
}

// SetWatch starts or stops the delta timer.
func (w *Watcher) SetWatch(on bool) {
	w.mu.Lock()
	if w.closed || w.watch == on {
		w.mu.Unlock()
		return
	}
	w.watch = on
	run := on && w.enabled && w.ctx != nil
	w.mu.Unlock()

	if run {
		w.startTimer()
		return
	}
	if !on {
		w.stopTimer()
	}
}

// Refetch re-runs the full-range fetch and replaces the accumulated records.
func (w *Watcher) Refetch(ctx context.Context) error {
	w.fetchMu.Lock()
	defer w.fetchMu.Unlock()

	if w.isClosed() {
		return ErrClosed
	}
	return w.fullFetch(ctx, w.opts.FromBlock, nil)
}

// State returns a snapshot of the poll state.
func (w *Watcher) State() model.PollState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Close stops the timer and waits for it to exit. Results of fetches still in
// flight are discarded and no further node calls are made.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	cancel := w.cancel
	w.mu.Unlock()

	w.stopTimer()
	if cancel != nil {
		cancel()
	}
	w.logger.Debug("watcher closed")
}

func (w *Watcher) activate() {
	w.fetchMu.Lock()
	from, base := w.opts.FromBlock, []model.LogRecord(nil)
	if !w.isSynced() {
		from, base = w.resumePoint()
	}
	_ = w.fullFetch(w.baseContext(), from, base)
	w.fetchMu.Unlock()

	w.mu.Lock()
	run := w.watch && w.enabled && !w.closed
	w.mu.Unlock()
	if run {
		w.startTimer()
	}
}

// resumePoint returns where the first fetch of a session starts and the
// records it merges into. Must hold fetchMu.
func (w *Watcher) resumePoint() (uint64, []model.LogRecord) {
	if w.opts.State == nil || w.opts.Seed == nil {
		return w.opts.FromBlock, nil
	}
	last, ok, err := w.opts.State.LoadState(w.baseContext(), w.opts.Name)
	if err != nil {
		w.logger.Warn("load watcher state failed", zap.Error(err))
		return w.opts.FromBlock, nil
	}
	if !ok || last < w.opts.FromBlock {
		return w.opts.FromBlock, nil
	}
	w.logger.Info("resume from state", zap.Uint64("last_known_block", last))
	w.mu.Lock()
	w.state.LastKnownBlock = last
	w.mu.Unlock()
	return last + 1, w.opts.Seed
}

func (w *Watcher) startTimer() {
	w.mu.Lock()
	if w.closed || w.timer != nil || w.ctx == nil {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(w.ctx)
	t := &timer{cancel: cancel, done: make(chan struct{})}
	w.timer = t
	w.mu.Unlock()

	w.logger.Debug("watch started", zap.Duration("interval", w.opts.Interval))
	go w.loop(ctx, t.done)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	t := w.timer
	w.timer = nil
	w.mu.Unlock()

	if t == nil {
		return
	}
	t.cancel()
	<-t.done
	w.logger.Debug("watch stopped")
}

func (w *Watcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkDelta(ctx)
		}
	}
}

// checkDelta fetches the blocks after LastKnownBlock if the head has moved.
// Until a full fetch has succeeded it retries the full fetch instead.
func (w *Watcher) checkDelta(ctx context.Context) {
	w.fetchMu.Lock()
	defer w.fetchMu.Unlock()

	if ctx.Err() != nil || w.isClosed() {
		return
	}

	w.mu.Lock()
	synced := w.synced
	last := w.state.LastKnownBlock
	w.mu.Unlock()

	if !synced {
		from, base := w.resumePoint()
		_ = w.fullFetch(ctx, from, base)
		return
	}

	started := time.Now()
	head, err := w.fetcher.LatestBlock(ctx)
	if err != nil {
		w.opts.Metrics.ObserveFetch(w.opts.Name, metrics.KindDelta, time.Since(started), err)
		w.fail(fmt.Errorf("get latest block: %w", err))
		return
	}
	if w.opts.ToBlock != nil && head > *w.opts.ToBlock {
		head = *w.opts.ToBlock
	}
	if head <= last {
		return
	}

	w.logger.Debug("delta fetch", zap.Uint64("from", last+1), zap.Uint64("to", head))
	w.setLoading()
	q := w.query(last + 1)
	q.ToBlock = &head
	result, err := w.fetcher.Fetch(ctx, q)
	w.opts.Metrics.ObserveFetch(w.opts.Name, metrics.KindDelta, time.Since(started), err)
	if err != nil {
		w.fail(err)
		return
	}

	w.mu.Lock()
	existing := w.state.Records
	w.mu.Unlock()
	w.apply(ctx, existing, result)
}

// fullFetch queries [from, ToBlock] and merges the result into base. Must hold
// fetchMu.
func (w *Watcher) fullFetch(ctx context.Context, from uint64, base []model.LogRecord) error {
	w.setLoading()

	started := time.Now()
	result, err := w.fetcher.Fetch(ctx, w.query(from))
	w.opts.Metrics.ObserveFetch(w.opts.Name, metrics.KindFull, time.Since(started), err)
	if err != nil {
		w.fail(err)
		return err
	}
	w.apply(ctx, base, result)
	return nil
}

func (w *Watcher) query(from uint64) events.Query {
	return events.Query{
		Address:   w.opts.Address,
		ABI:       w.opts.ABI,
		EventName: w.opts.EventName,
		FromBlock: from,
		ToBlock:   w.opts.ToBlock,
		Filters:   w.opts.Filters,
		Enrich:    w.opts.Enrich,
	}
}

func (w *Watcher) apply(ctx context.Context, existing []model.LogRecord, result events.Result) {
	records, added := merge(existing, result.Records)
	dropped := len(result.Records) - len(added)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	fresh := unseen(added, w.state.Records)
	w.state.Records = records
	w.state.LastKnownBlock = result.ToBlock
	w.state.Status = model.StatusSuccess
	w.state.Err = nil
	w.state.UpdatedAt = time.Now().UTC()
	w.synced = true
	snapshot := w.snapshotLocked()
	w.mu.Unlock()

	w.logger.Info("fetch complete",
		zap.Int("added", len(added)),
		zap.Int("duplicates", dropped),
		zap.Int("records", len(records)),
		zap.Uint64("last_known_block", result.ToBlock),
	)
	w.opts.Metrics.ObserveMerge(w.opts.Name, len(added), dropped, len(records), result.ToBlock)
	w.persist(ctx, fresh, result.ToBlock)
	w.notify(snapshot)
}

// unseen returns the records of added whose key is not in held.
func unseen(added, held []model.LogRecord) []model.LogRecord {
	if len(held) == 0 {
		return added
	}
	keys := make(map[model.LogKey]struct{}, len(held))
	for _, record := range held {
		keys[record.Key()] = struct{}{}
	}
	out := make([]model.LogRecord, 0, len(added))
	for _, record := range added {
		if _, ok := keys[record.Key()]; !ok {
			out = append(out, record)
		}
	}
	return out
}

// persist hands new records to the sink and then records the block. The block
// is not saved if the sink fails, so a resumed watcher fetches those records
// again.
func (w *Watcher) persist(ctx context.Context, added []model.LogRecord, block uint64) {
	if w.opts.Sink != nil && len(added) > 0 {
		if err := w.opts.Sink.PutLogBatch(ctx, added); err != nil {
			w.logger.Error("store records failed", zap.Error(err), zap.Int("records", len(added)))
			return
		}
	}
	if w.opts.State != nil {
		if err := w.opts.State.SaveState(ctx, w.opts.Name, block); err != nil {
			w.logger.Warn("save watcher state failed", zap.Error(err), zap.Uint64("block", block))
		}
	}
}

func (w *Watcher) setLoading() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.state.Status = model.StatusLoading
	w.state.UpdatedAt = time.Now().UTC()
	snapshot := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snapshot)
}

// fail records err and keeps the accumulated records.
func (w *Watcher) fail(err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.state.Status = model.StatusError
	w.state.Err = err
	w.state.UpdatedAt = time.Now().UTC()
	snapshot := w.snapshotLocked()
	w.mu.Unlock()

	w.logger.Warn("fetch failed", zap.Error(err))
	w.notify(snapshot)
}

func (w *Watcher) notify(snapshot model.PollState) {
	if w.opts.OnUpdate != nil {
		w.opts.OnUpdate(snapshot)
	}
}

func (w *Watcher) snapshotLocked() model.PollState {
	snapshot := w.state
	snapshot.Records = slices.Clone(w.state.Records)
	return snapshot
}

func (w *Watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Watcher) isSynced() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.synced
}

func (w *Watcher) baseContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}
