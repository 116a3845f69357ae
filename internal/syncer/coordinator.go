// Package syncer runs the synchronization cycle: fetch both marketplace
// feeds concurrently, aggregate them, push the result to the sink, and
// finalize the session record that is the externally visible outcome.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/internal/aggregate"
	"github.com/sellerpulse/stocksync/internal/dispatch"
	"github.com/sellerpulse/stocksync/internal/marketplace"
	"github.com/sellerpulse/stocksync/internal/metrics"
	"github.com/sellerpulse/stocksync/internal/sink"
	"github.com/sellerpulse/stocksync/internal/store"
	"github.com/sellerpulse/stocksync/internal/warehouse"
	"github.com/sellerpulse/stocksync/pkg/model"
)

// StockFetcher is the report-task side of the marketplace.
type StockFetcher interface {
	FetchStockReport(ctx context.Context) ([]model.StockRecord, *marketplace.JobTask, error)
}

// OrderFetcher is the direct order-events side of the marketplace.
type OrderFetcher interface {
	Fetch(ctx context.Context, dateFrom string, flag int) ([]model.OrderRecord, error)
}

// SessionPublisher emits session lifecycle events.
type SessionPublisher interface {
	PublishSessionEvent(ctx context.Context, sess model.Session) error
}

// Config carries the per-cycle knobs.
type Config struct {
	CycleTimeout   time.Duration
	OrdersDaysBack int
	OrdersFlag     int
	SheetName      string
	SessionTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 30 * time.Minute
	}
	if c.OrdersDaysBack <= 0 {
		c.OrdersDaysBack = 30
	}
	if c.SheetName == "" {
		c.SheetName = "Stock"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	return c
}

// row is one numbered sink row; numbering is absolute so contiguous batches
// map directly onto write ranges.
type row struct {
	num    int
	values []any
}

// Coordinator owns one sync cycle end to end.
type Coordinator struct {
	logger     *zap.Logger
	cfg        Config
	stocks     StockFetcher
	orders     OrderFetcher
	sink       sink.Client
	dispatcher *dispatch.Dispatcher[row]
	store      store.Store
	events     SessionPublisher
}

func NewCoordinator(
	logger *zap.Logger,
	cfg Config,
	stocks StockFetcher,
	orders OrderFetcher,
	sinkClient sink.Client,
	dispatcher *dispatch.Dispatcher[row],
	st store.Store,
	events SessionPublisher,
) *Coordinator {
	return &Coordinator{
		logger:     logger,
		cfg:        cfg.withDefaults(),
		stocks:     stocks,
		orders:     orders,
		sink:       sinkClient,
		dispatcher: dispatcher,
		store:      st,
		events:     events,
	}
}

// NewDispatcher builds the row dispatcher the coordinator writes through.
func NewDispatcher(logger *zap.Logger, cfg dispatch.Config) *dispatch.Dispatcher[row] {
	return dispatch.New[row](logger, cfg)
}

// Run executes one full cycle and returns the finalized session. The error
// is non-nil only for failed or timed-out cycles; partial success is a
// normal completion with its problems listed on the session.
func (c *Coordinator) Run(ctx context.Context) (model.Session, error) {
	sess := model.Session{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
		Status:    model.SessionRunning,
	}
	c.logger.Info("syncer.cycle_started", zap.String("session_id", sess.ID.String()))
	c.persistSession(ctx, sess)

	cctx, cancel := context.WithTimeout(ctx, c.cfg.CycleTimeout)
	defer cancel()

	// Fresh resolver per session: the variant cache and unmapped counts
	// never leak across cycles.
	resolver := warehouse.NewResolver(c.logger)
	engine := aggregate.NewEngine(c.logger, resolver)

	var (
		wg           sync.WaitGroup
		stockRecords []model.StockRecord
		orderRecords []model.OrderRecord
		stockErr     error
		orderErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		stockRecords, _, stockErr = c.stocks.FetchStockReport(cctx)
	}()
	go func() {
		defer wg.Done()
		dateFrom := time.Now().UTC().AddDate(0, 0, -c.cfg.OrdersDaysBack).Format("2006-01-02")
		orderRecords, orderErr = c.orders.Fetch(cctx, dateFrom, c.cfg.OrdersFlag)
	}()
	wg.Wait()

	if stockErr != nil {
		sess.Errors = append(sess.Errors, "stock feed: "+stockErr.Error())
	}
	if orderErr != nil {
		sess.Errors = append(sess.Errors, "order feed: "+orderErr.Error())
	}

	if stockErr != nil && orderErr != nil {
		return c.finalize(ctx, sess, cctx.Err())
	}

	products := engine.Aggregate(orderRecords, stockRecords)
	rows := sink.Rows(products)

	processed, failed := c.writeAll(cctx, &sess, rows)
	sess.ProductsProcessed = processed
	sess.ProductsFailed = failed

	if unmapped := resolver.Unmapped(); len(unmapped) > 0 {
		if err := c.store.RecordUnmappedWarehouses(ctx, sess.ID.String(), unmapped); err != nil {
			c.logger.Warn("syncer.unmapped_record_failed", zap.Error(err))
		}
	}

	return c.finalize(ctx, sess, cctx.Err())
}

// writeAll pushes the header and all product rows, returning processed and
// failed row counts.
func (c *Coordinator) writeAll(ctx context.Context, sess *model.Session, rows [][]any) (processed, failed int) {
	header := sink.ValueRange{
		Range:  sink.RangeFor(c.cfg.SheetName, 1, 1),
		Values: [][]any{sink.Header},
	}
	if err := c.sink.BatchWrite(ctx, []sink.ValueRange{header}); err != nil {
		sess.Errors = append(sess.Errors, "header write: "+err.Error())
		c.logger.Warn("syncer.header_write_failed", zap.Error(err))
	}

	if len(rows) == 0 {
		return 0, 0
	}

	numbered := make([]row, len(rows))
	for i, values := range rows {
		numbered[i] = row{num: i + 2, values: values} // row 1 is the header
	}

	results := c.dispatcher.Dispatch(ctx, numbered, func(ctx context.Context, batch []row) error {
		values := make([][]any, len(batch))
		for i, r := range batch {
			values[i] = r.values
		}
		vr := sink.ValueRange{
			Range:  sink.RangeFor(c.cfg.SheetName, batch[0].num, len(batch)),
			Values: values,
		}
		start := time.Now()
		err := c.sink.BatchWrite(ctx, []sink.ValueRange{vr})
		if err != nil {
			metrics.ObserveDuration(metrics.BatchWriteDuration, start, "error")
			return err
		}
		metrics.ObserveDuration(metrics.BatchWriteDuration, start, "ok")
		return nil
	})

	for _, r := range results {
		if r.Err != nil {
			failed += r.Size
			sess.Errors = append(sess.Errors, "batch write: "+r.Err.Error())
		} else {
			processed += r.Size
		}
	}
	return processed, failed
}

// finalize stamps the terminal status, persists the session everywhere and
// emits the closing event. cycleErr is the cycle context error, if any.
func (c *Coordinator) finalize(ctx context.Context, sess model.Session, cycleErr error) (model.Session, error) {
	sess.FinishedAt = time.Now().UTC()

	switch {
	case errors.Is(cycleErr, context.DeadlineExceeded):
		sess.Status = model.SessionTimedOut
	case sess.ProductsProcessed == 0 && len(sess.Errors) > 0:
		sess.Status = model.SessionFailed
	case len(sess.Errors) > 0 || sess.ProductsFailed > 0:
		sess.Status = model.SessionPartialSuccess
	default:
		sess.Status = model.SessionCompleted
	}

	// Persist with a fresh context: the cycle context may already be dead.
	pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.persistSession(pctx, sess)

	metrics.IncSyncCycle(string(sess.Status))
	metrics.SetProductsProcessed(sess.ProductsProcessed, sess.ProductsFailed)
	if sess.Status == model.SessionCompleted || sess.Status == model.SessionPartialSuccess {
		metrics.SetLastSync(sess.FinishedAt)
	}

	c.logger.Info("syncer.cycle_finished",
		zap.String("session_id", sess.ID.String()),
		zap.String("status", string(sess.Status)),
		zap.Int("products_processed", sess.ProductsProcessed),
		zap.Int("products_failed", sess.ProductsFailed),
		zap.Int("errors", len(sess.Errors)),
		zap.Duration("elapsed", sess.FinishedAt.Sub(sess.StartedAt)))

	switch sess.Status {
	case model.SessionFailed:
		return sess, errors.Join(errors.New("sync cycle failed"), cycleErr)
	case model.SessionTimedOut:
		return sess, context.DeadlineExceeded
	default:
		return sess, nil
	}
}

// persistSession records the session in Postgres, refreshes the Redis cache
// and publishes the lifecycle event. All three are best-effort.
func (c *Coordinator) persistSession(ctx context.Context, sess model.Session) {
	if err := c.store.RecordSession(ctx, sess); err != nil {
		c.logger.Warn("syncer.session_record_failed", zap.Error(err))
	}
	if err := c.store.CacheLatestSession(ctx, sess, c.cfg.SessionTTL); err != nil {
		c.logger.Warn("syncer.session_cache_failed", zap.Error(err))
	}
	if c.events != nil {
		if err := c.events.PublishSessionEvent(ctx, sess); err != nil {
			c.logger.Warn("syncer.session_event_failed", zap.Error(err))
		}
	}
}
