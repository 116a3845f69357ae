package syncer

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/internal/apierr"
	"github.com/sellerpulse/stocksync/internal/dispatch"
	"github.com/sellerpulse/stocksync/internal/marketplace"
	"github.com/sellerpulse/stocksync/internal/sink"
	"github.com/sellerpulse/stocksync/pkg/model"
)

var (
	keyA = model.ProductKey{SellerArticle: "SKU-A", MarketplaceArticle: 1001}
	keyB = model.ProductKey{SellerArticle: "SKU-B", MarketplaceArticle: 1002}
)

// --- fakes ---

type fakeStocks struct {
	records []model.StockRecord
	err     error
	block   bool
}

func (f *fakeStocks) FetchStockReport(ctx context.Context) ([]model.StockRecord, *marketplace.JobTask, error) {
	if f.block {
		<-ctx.Done()
		return nil, nil, apierr.Wrap(apierr.KindJobTimeout, ctx.Err(), "report wait canceled")
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.records, &marketplace.JobTask{State: marketplace.TaskCompleted}, nil
}

type fakeOrders struct {
	records []model.OrderRecord
	err     error
	block   bool

	gotDateFrom string
	gotFlag     int
}

func (f *fakeOrders) Fetch(ctx context.Context, dateFrom string, flag int) ([]model.OrderRecord, error) {
	f.gotDateFrom = dateFrom
	f.gotFlag = flag
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeSink struct {
	mu       sync.Mutex
	writes   []sink.ValueRange
	failCall int64 // 1-based call number to fail, 0 = never
	calls    int64
}

func (f *fakeSink) BatchRead(ctx context.Context, ranges []string) ([]sink.ValueRange, error) {
	return nil, nil
}

func (f *fakeSink) BatchWrite(ctx context.Context, ranges []sink.ValueRange) error {
	n := atomic.AddInt64(&f.calls, 1)
	if f.failCall != 0 && n == f.failCall {
		return apierr.New(apierr.KindSinkWrite, "write rejected")
	}
	f.mu.Lock()
	f.writes = append(f.writes, ranges...)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) rowsWritten() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, vr := range f.writes {
		if !strings.Contains(vr.Range, "!A1:") { // skip the header range
			total += len(vr.Values)
		}
	}
	return total
}

type fakeStore struct {
	mu       sync.Mutex
	sessions []model.Session
	unmapped map[string]int
	cached   *model.Session
}

func (f *fakeStore) RecordSession(ctx context.Context, s model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeStore) RecordUnmappedWarehouses(ctx context.Context, sessionID string, counts map[string]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmapped = counts
	return nil
}

func (f *fakeStore) CacheLatestSession(ctx context.Context, s model.Session, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = &s
	return nil
}

func (f *fakeStore) LatestSession(ctx context.Context) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached, nil
}

func (f *fakeStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	return nil
}
func (f *fakeStore) GetJSON(ctx context.Context, key string, dest any) error { return nil }
func (f *fakeStore) HealthCheck(ctx context.Context) error                   { return nil }
func (f *fakeStore) Close() error                                            { return nil }

type fakeEvents struct {
	mu       sync.Mutex
	statuses []model.SessionStatus
}

func (f *fakeEvents) PublishSessionEvent(ctx context.Context, sess model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, sess.Status)
	return nil
}

// --- helpers ---

type fixture struct {
	coord  *Coordinator
	sink   *fakeSink
	store  *fakeStore
	events *fakeEvents
}

func newFixture(t *testing.T, stocks StockFetcher, orders OrderFetcher, cfg Config) *fixture {
	t.Helper()
	fs := &fakeSink{}
	st := &fakeStore{}
	ev := &fakeEvents{}
	d := NewDispatcher(zap.NewNop(), dispatch.Config{
		MinBatch: 1, OptimalBatch: 2, MaxBatch: 8, MaxConcurrency: 2,
		LatencyThreshold: time.Second, TargetThroughput: 1,
	})
	return &fixture{
		coord:  NewCoordinator(zap.NewNop(), cfg, stocks, orders, fs, d, st, ev),
		sink:   fs,
		store:  st,
		events: ev,
	}
}

func stockRec(key model.ProductKey, wh string, qty int) model.StockRecord {
	return model.StockRecord{Key: key, WarehouseName: wh, Quantity: qty}
}

func orderRec(id string, key model.ProductKey, wh string) model.OrderRecord {
	return model.OrderRecord{ID: id, Key: key, WarehouseName: wh}
}

// --- tests ---

func TestRun_CompletedCycle(t *testing.T) {
	stocks := &fakeStocks{records: []model.StockRecord{
		stockRec(keyA, "Коледино", 30),
		stockRec(keyB, "Казань", 10),
	}}
	orders := &fakeOrders{records: []model.OrderRecord{
		orderRec("o-1", keyA, "Коледино"),
	}}
	f := newFixture(t, stocks, orders, Config{OrdersDaysBack: 7})

	sess, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.SessionCompleted, sess.Status)
	assert.Equal(t, 2, sess.ProductsProcessed)
	assert.Zero(t, sess.ProductsFailed)
	assert.Empty(t, sess.Errors)
	assert.False(t, sess.FinishedAt.IsZero())

	// Header plus one row per product reach the sink.
	assert.Equal(t, 2, f.sink.rowsWritten())

	// Requested window matches the configured days back.
	expected := time.Now().UTC().AddDate(0, 0, -7).Format("2006-01-02")
	assert.Equal(t, expected, orders.gotDateFrom)

	// Lifecycle events: running then terminal.
	require.Len(t, f.events.statuses, 2)
	assert.Equal(t, model.SessionRunning, f.events.statuses[0])
	assert.Equal(t, model.SessionCompleted, f.events.statuses[1])

	// Latest-session cache holds the terminal state.
	require.NotNil(t, f.store.cached)
	assert.Equal(t, model.SessionCompleted, f.store.cached.Status)
}

func TestRun_OneFeedFailsIsPartialSuccess(t *testing.T) {
	stocks := &fakeStocks{err: apierr.New(apierr.KindJobTimeout, "report task not ready after 15m")}
	orders := &fakeOrders{records: []model.OrderRecord{
		orderRec("o-1", keyA, "Коледино"),
	}}
	f := newFixture(t, stocks, orders, Config{})

	sess, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.SessionPartialSuccess, sess.Status)
	assert.Equal(t, 1, sess.ProductsProcessed)
	require.Len(t, sess.Errors, 1)
	assert.Contains(t, sess.Errors[0], "stock feed")
}

func TestRun_BothFeedsFailIsFailed(t *testing.T) {
	stocks := &fakeStocks{err: apierr.New(apierr.KindServer, "report create rejected")}
	orders := &fakeOrders{err: apierr.New(apierr.KindValidation, "dateFrom rejected")}
	f := newFixture(t, stocks, orders, Config{})

	sess, err := f.coord.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, model.SessionFailed, sess.Status)
	assert.Len(t, sess.Errors, 2)
	assert.Zero(t, f.sink.rowsWritten())
}

func TestRun_FailedBatchIsPartialSuccess(t *testing.T) {
	// Four products with OptimalBatch 2 give two data batches; the second
	// sink call (first data batch) is rejected.
	stocks := &fakeStocks{records: []model.StockRecord{
		stockRec(keyA, "Коледино", 5),
		stockRec(keyB, "Коледино", 5),
		stockRec(model.ProductKey{SellerArticle: "SKU-C", MarketplaceArticle: 3}, "Коледино", 5),
		stockRec(model.ProductKey{SellerArticle: "SKU-D", MarketplaceArticle: 4}, "Коледино", 5),
	}}
	orders := &fakeOrders{}
	f := newFixture(t, stocks, orders, Config{})
	f.sink.failCall = 2

	sess, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.SessionPartialSuccess, sess.Status)
	assert.Equal(t, 2, sess.ProductsProcessed)
	assert.Equal(t, 2, sess.ProductsFailed)
	require.NotEmpty(t, sess.Errors)
	assert.Contains(t, sess.Errors[0], "batch write")
}

func TestRun_CycleDeadlineIsTimedOut(t *testing.T) {
	stocks := &fakeStocks{block: true}
	orders := &fakeOrders{block: true}
	f := newFixture(t, stocks, orders, Config{CycleTimeout: 30 * time.Millisecond})

	sess, err := f.coord.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.SessionTimedOut, sess.Status)
}

func TestRun_UnmappedWarehousesRecorded(t *testing.T) {
	stocks := &fakeStocks{records: []model.StockRecord{
		stockRec(keyA, "Загадочный Хаб", 5),
	}}
	orders := &fakeOrders{}
	f := newFixture(t, stocks, orders, Config{})

	_, err := f.coord.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, f.store.unmapped)
	assert.Equal(t, 1, f.store.unmapped["Загадочный Хаб"])
}

func TestRun_EmptyFeedsStillComplete(t *testing.T) {
	f := newFixture(t, &fakeStocks{}, &fakeOrders{}, Config{})

	sess, err := f.coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, sess.Status)
	assert.Zero(t, sess.ProductsProcessed)
}
