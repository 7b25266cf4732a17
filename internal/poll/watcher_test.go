package poll

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"contractWatch/internal/devchain"
	"contractWatch/internal/events"
	"contractWatch/internal/exchange"
	"contractWatch/internal/metrics"
	"contractWatch/internal/model"
	"contractWatch/internal/storage"
)

const tick = 10 * time.Millisecond

type fakeFetcher struct {
	mu      sync.Mutex
	head    uint64
	chain   []model.LogRecord
	err     error
	gate    chan struct{}
	fetches []events.Query
	heads   int
}

func (f *fakeFetcher) Fetch(ctx context.Context, q events.Query) (events.Result, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, q)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return events.Result{}, f.err
	}
	to := f.head
	if q.ToBlock != nil {
		to = *q.ToBlock
	}
	result := events.Result{FromBlock: q.FromBlock, ToBlock: to}
	for _, r := range f.chain {
		if r.BlockNumber >= q.FromBlock && r.BlockNumber <= to {
			result.Records = append(result.Records, r)
		}
	}
	return result, nil
}

func (f *fakeFetcher) LatestBlock(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads++
	if f.err != nil {
		return 0, f.err
	}
	return f.head, nil
}

func (f *fakeFetcher) mine(records ...model.LogRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		if r.BlockNumber > f.head {
			f.head = r.BlockNumber
		}
	}
	f.chain = append(f.chain, records...)
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFetcher) calls() (fetches, heads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches), f.heads
}

func (f *fakeFetcher) lastQuery() events.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[len(f.fetches)-1]
}

func newFake() *fakeFetcher {
	f := &fakeFetcher{}
	f.mine(record(2, 0), record(3, 1), record(3, 0))
	return f
}

func newWatcher(t *testing.T, f Fetcher, opts Options) *Watcher {
	t.Helper()
	opts.EventName = "BuyTokens"
	opts.Logger = zaptest.NewLogger(t)
	if opts.Interval == 0 {
		opts.Interval = tick
	}
	w, err := New(f, opts)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestStartFetchesFullRange(t *testing.T) {
	f := newFake()
	w := newWatcher(t, f, Options{Enabled: true, FromBlock: 1})

	require.NoError(t, w.Start(context.Background()))

	state := w.State()
	assert.Equal(t, model.StatusSuccess, state.Status)
	assert.NoError(t, state.Err)
	assert.Equal(t, uint64(3), state.LastKnownBlock)
	assert.Equal(t, []string{"3/1", "3/0", "2/0"}, keysOf(state.Records))
	assert.Equal(t, uint64(1), f.lastQuery().FromBlock)
	assert.Nil(t, f.lastQuery().ToBlock)
}

func TestDisabledWatcherStaysIdle(t *testing.T) {
	f := newFake()
	w := newWatcher(t, f, Options{Enabled: false, Watch: true})

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(5 * tick)

	fetches, heads := f.calls()
	assert.Zero(t, fetches)
	assert.Zero(t, heads)
	assert.Equal(t, model.StatusIdle, w.State().Status)

	w.SetEnabled(true)
	assert.Equal(t, model.StatusSuccess, w.State().Status)
	assert.Len(t, w.State().Records, 3)
}

func TestErrorKeepsPriorRecords(t *testing.T) {
	f := newFake()
	w := newWatcher(t, f, Options{Enabled: true})
	require.NoError(t, w.Start(context.Background()))

	boom := errors.New("rpc unavailable")
	f.fail(boom)
	require.ErrorIs(t, w.Refetch(context.Background()), boom)

	state := w.State()
	assert.True(t, state.IsError())
	assert.ErrorIs(t, state.Err, boom)
	assert.Len(t, state.Records, 3)
	assert.Equal(t, uint64(3), state.LastKnownBlock)

	f.fail(nil)
	require.NoError(t, w.Refetch(context.Background()))
	assert.Equal(t, model.StatusSuccess, w.State().Status)
	assert.NoError(t, w.State().Err)
}

func TestInitialErrorIsReportedInState(t *testing.T) {
	f := newFake()
	f.fail(events.ErrEventNotFound)
	w := newWatcher(t, f, Options{Enabled: true})

	require.NoError(t, w.Start(context.Background()))
	state := w.State()
	assert.True(t, state.IsError())
	assert.ErrorIs(t, state.Err, events.ErrEventNotFound)
	assert.Empty(t, state.Records)
}

func TestWatchMergesDelta(t *testing.T) {
	f := newFake()
	w := newWatcher(t, f, Options{Enabled: true, Watch: true})
	require.NoError(t, w.Start(context.Background()))

	f.mine(record(5, 0), record(4, 0))
	require.Eventually(t, func() bool {
		return len(w.State().Records) == 5
	}, time.Second, tick)

	state := w.State()
	assertUnique(t, state.Records)
	assert.Equal(t, []string{"5/0", "4/0", "3/1", "3/0", "2/0"}, keysOf(state.Records))
	assert.Equal(t, uint64(5), state.LastKnownBlock)

	q := f.lastQuery()
	assert.Equal(t, uint64(4), q.FromBlock)
	require.NotNil(t, q.ToBlock)
	assert.Equal(t, uint64(5), *q.ToBlock)
}

func TestWatchSkipsFetchWhenHeadUnchanged(t *testing.T) {
	f := newFake()
	w := newWatcher(t, f, Options{Enabled: true, Watch: true})
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, heads := f.calls()
		return heads >= 3
	}, time.Second, tick)

	fetches, _ := f.calls()
	assert.Equal(t, 1, fetches)
}

func TestWatchRespectsToBlock(t *testing.T) {
	f := newFake()
	f.mine(record(4, 0), record(6, 0))
	to := uint64(4)
	w := newWatcher(t, f, Options{Enabled: true, Watch: true, ToBlock: &to})
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, heads := f.calls()
		return heads >= 3
	}, time.Second, tick)

	fetches, _ := f.calls()
	assert.Equal(t, 1, fetches)
	assert.Equal(t, uint64(4), w.State().LastKnownBlock)
	assert.Equal(t, []string{"4/0", "3/1", "3/0", "2/0"}, keysOf(w.State().Records))
}

func TestDeltaWithSeenRecordKeepsLength(t *testing.T) {
	f := newFake()
	w := newWatcher(t, f, Options{Enabled: true, Watch: true})
	require.NoError(t, w.Start(context.Background()))

	// Same identity key as a held record, reported in a later block.
	dup := record(3, 1)
	dup.BlockNumber = 7
	f.mine(dup)

	require.Eventually(t, func() bool {
		return w.State().LastKnownBlock == 7
	}, time.Second, tick)
	assert.Len(t, w.State().Records, 3)
}

func TestSetWatchStopsNetworkCalls(t *testing.T) {
	f := newFake()
	w := newWatcher(t, f, Options{Enabled: true, Watch: true})
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, heads := f.calls()
		return heads > 0
	}, time.Second, tick)

	w.SetWatch(false)
	fetches, heads := f.calls()
	time.Sleep(5 * tick)
	fetchesAfter, headsAfter := f.calls()
	assert.Equal(t, fetches, fetchesAfter)
	assert.Equal(t, heads, headsAfter)

	w.SetWatch(true)
	require.Eventually(t, func() bool {
		_, h := f.calls()
		return h > headsAfter
	}, time.Second, tick)
}

func TestCloseStopsNetworkCalls(t *testing.T) {
	f := newFake()
	w := newWatcher(t, f, Options{Enabled: true, Watch: true})
	require.NoError(t, w.Start(context.Background()))

	w.Close()
	fetches, heads := f.calls()
	f.mine(record(9, 0))
	time.Sleep(5 * tick)

	fetchesAfter, headsAfter := f.calls()
	assert.Equal(t, fetches, fetchesAfter)
	assert.Equal(t, heads, headsAfter)
	assert.ErrorIs(t, w.Refetch(context.Background()), ErrClosed)
	assert.ErrorIs(t, w.Start(context.Background()), ErrClosed)
}

func TestCloseDiscardsInFlightResult(t *testing.T) {
	f := newFake()
	w := newWatcher(t, f, Options{})
	require.NoError(t, w.Start(context.Background()))

	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- w.Refetch(context.Background()) }()

	require.Eventually(t, func() bool {
		fetches, _ := f.calls()
		return fetches == 1
	}, time.Second, tick)

	w.Close()
	close(f.gate)
	require.NoError(t, <-done)

	assert.Empty(t, w.State().Records)
}

func TestOnUpdateSequence(t *testing.T) {
	f := newFake()
	var (
		mu       sync.Mutex
		statuses []model.Status
	)
	w := newWatcher(t, f, Options{
		Enabled: true,
		OnUpdate: func(s model.PollState) {
			mu.Lock()
			defer mu.Unlock()
			statuses = append(statuses, s.Status)
		},
	})
	require.NoError(t, w.Start(context.Background()))

	f.fail(errors.New("down"))
	_ = w.Refetch(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.Status{
		model.StatusLoading, model.StatusSuccess,
		model.StatusLoading, model.StatusError,
	}, statuses)
}

func TestConcurrentRefetchesStayUnique(t *testing.T) {
	f := newFake()
	w := newWatcher(t, f, Options{Enabled: true, Watch: true})
	require.NoError(t, w.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.mine(record(uint64(10+i), 0))
			_ = w.Refetch(context.Background())
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Refetch(context.Background()))

	state := w.State()
	assertUnique(t, state.Records)
	assert.Len(t, state.Records, 11)
}

type memSink struct {
	mu  sync.Mutex
	got []model.LogRecord
}

func (m *memSink) PutLogBatch(_ context.Context, logs []model.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, logs...)
	return nil
}

func TestResumeFromState(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.mine(record(6, 0))

	state := storage.NewCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	require.NoError(t, state.SaveState(ctx, "vendor-buys", 3))

	sink := &memSink{}
	w := newWatcher(t, f, Options{
		Name:    "vendor-buys",
		Enabled: true,
		State:   state,
		Seed:    []model.LogRecord{record(3, 1), record(3, 0), record(2, 0)},
		Sink:    sink,
		Metrics: metrics.NewPoll(),
	})
	require.NoError(t, w.Start(ctx))

	assert.Equal(t, uint64(4), f.lastQuery().FromBlock)
	assert.Equal(t, []string{"6/0", "3/1", "3/0", "2/0"}, keysOf(w.State().Records))
	assert.Equal(t, []string{"6/0"}, keysOf(sink.got))

	block, ok, err := state.LoadState(ctx, "vendor-buys")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(6), block)

	// A full refetch replaces the records but only new ones reach the sink.
	require.NoError(t, w.Refetch(ctx))
	assert.Len(t, w.State().Records, 4)
	assert.Len(t, sink.got, 1)
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}

func TestWatchDevChainEndToEnd(t *testing.T) {
	chain := devchain.New(31337)
	owner, err := chain.NewAccount(ether(10))
	require.NoError(t, err)
	buyer, err := chain.NewAccount(ether(10))
	require.NoError(t, err)

	token, err := chain.DeployToken(owner, "Gold", "GLD", ether(1000))
	require.NoError(t, err)
	vendor, err := chain.DeployVendor(owner, token)
	require.NoError(t, err)
	_, err = chain.TransferToken(token, owner, vendor.Address, ether(1000))
	require.NoError(t, err)
	_, err = chain.BuyTokens(vendor, buyer, ether(1))
	require.NoError(t, err)

	vendorABI, err := exchange.VendorABI()
	require.NoError(t, err)

	cfg := events.DefaultConfig()
	cfg.ChainID = 31337
	fetcher := events.NewFetcher(chain, cfg, zaptest.NewLogger(t))

	w := newWatcher(t, fetcher, Options{
		Address: vendor.Address,
		ABI:     vendorABI,
		Enabled: true,
		Watch:   true,
		Enrich:  events.Enrichment{Transaction: true},
		Metrics: metrics.NewPoll(),
	})
	require.NoError(t, w.Start(context.Background()))
	require.Len(t, w.State().Records, 1)

	_, err = chain.BuyTokens(vendor, buyer, ether(2))
	require.NoError(t, err)
	chain.Mine(2)

	require.Eventually(t, func() bool {
		return len(w.State().Records) == 2
	}, time.Second, tick)

	state := w.State()
	assertUnique(t, state.Records)
	assert.Equal(t, ether(2).String(), state.Records[0].Args["amountOfETH"])
	assert.Equal(t, ether(200).String(), state.Records[0].Args["amountOfTokens"])
	assert.Equal(t, buyer.Hex(), state.Records[0].Transaction.From)
	assert.Equal(t, ether(1).String(), state.Records[1].Args["amountOfETH"])
	require.Eventually(t, func() bool {
		head, _ := chain.BlockNumber(context.Background())
		return w.State().LastKnownBlock == head
	}, time.Second, tick)
}

func TestSetEnabledFalseStopsNetworkCalls(t *testing.T) {
	f := newFake()
	w := newWatcher(t, f, Options{Enabled: true, Watch: true})
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, heads := f.calls()
		return heads > 0
	}, time.Second, tick)

	w.SetEnabled(false)
	fetches, heads := f.calls()
	time.Sleep(5 * tick)
	fetchesAfter, headsAfter := f.calls()
	assert.Equal(t, fetches, fetchesAfter)
	assert.Equal(t, heads, headsAfter)

	w.SetEnabled(true)
	fetchesEnabled, _ := f.calls()
	assert.Equal(t, fetchesAfter+1, fetchesEnabled)
	require.Eventually(t, func() bool {
		_, h := f.calls()
		return h > headsAfter
	}, time.Second, tick)
}

func TestReenableKeepsAccumulatedRecords(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	checkpoint := storage.NewCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	w := newWatcher(t, f, Options{Name: "vendor-buys", Enabled: true, Watch: true, State: checkpoint})
	require.NoError(t, w.Start(ctx))
	require.Len(t, w.State().Records, 3)

	f.mine(record(5, 0), record(4, 0))
	require.Eventually(t, func() bool {
		return len(w.State().Records) == 5
	}, time.Second, tick)

	w.SetEnabled(false)
	w.SetEnabled(true)

	state := w.State()
	assert.Equal(t, model.StatusSuccess, state.Status)
	assert.Equal(t, []string{"5/0", "4/0", "3/1", "3/0", "2/0"}, keysOf(state.Records))
	assert.Equal(t, uint64(5), state.LastKnownBlock)

	block, ok, err := checkpoint.LoadState(ctx, "vendor-buys")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), block)
}

func TestResumeWithoutSeedFetchesFullRange(t *testing.T) {
	ctx := context.Background()
	f := newFake()
	f.mine(record(6, 0))

	checkpoint := storage.NewCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	require.NoError(t, checkpoint.SaveState(ctx, "vendor-buys", 3))

	w := newWatcher(t, f, Options{Name: "vendor-buys", Enabled: true, State: checkpoint})
	require.NoError(t, w.Start(ctx))

	assert.Equal(t, uint64(0), f.lastQuery().FromBlock)
	assert.Equal(t, []string{"6/0", "3/1", "3/0", "2/0"}, keysOf(w.State().Records))
	assert.Equal(t, uint64(6), w.State().LastKnownBlock)
}
