package marketplace

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/internal/apierr"
	"github.com/sellerpulse/stocksync/pkg/model"
)

// TaskState is the lifecycle state of one bulk report task.
type TaskState string

const (
	TaskCreated     TaskState = "created"
	TaskPolling     TaskState = "polling"
	TaskDownloading TaskState = "downloading"
	TaskCompleted   TaskState = "completed"
	TaskFailed      TaskState = "failed"
	TaskTimedOut    TaskState = "timed_out"
)

// JobTask tracks one create->poll->download run.
type JobTask struct {
	ID          string
	State       TaskState
	CreatedAt   time.Time
	CompletedAt time.Time
	LastErr     error
}

// Clock abstracts time for the polling loop so tests can simulate elapsed
// waits without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reportClient is the slice of Client the task client needs; narrowed for
// tests.
type reportClient interface {
	CreateReportTask(ctx context.Context) (string, error)
	DownloadReport(ctx context.Context, taskID string) ([]StockReportRow, error)
}

// JobTaskClient drives the asynchronous bulk stock-report protocol:
// create task, wait, attempt download, repeat until the report is ready or
// the maximum wait elapses.
type JobTaskClient struct {
	logger       *zap.Logger
	client       reportClient
	mapper       *Mapper
	clock        Clock
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewJobTaskClient constructs the task client. clock may be nil for real time.
func NewJobTaskClient(logger *zap.Logger, client *Client, pollInterval, maxWait time.Duration, clock Clock) *JobTaskClient {
	if clock == nil {
		clock = realClock{}
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 15 * time.Minute
	}
	return &JobTaskClient{
		logger:       logger,
		client:       client,
		mapper:       NewMapper(logger),
		clock:        clock,
		pollInterval: pollInterval,
		maxWait:      maxWait,
	}
}

// FetchStockReport runs the full task protocol and returns the mapped stock
// records. On timeout the returned error carries the job-timeout kind, which
// is fatal for this feed only.
func (j *JobTaskClient) FetchStockReport(ctx context.Context) ([]model.StockRecord, *JobTask, error) {
	task := &JobTask{State: TaskCreated, CreatedAt: j.clock.Now()}

	id, err := j.client.CreateReportTask(ctx)
	if err != nil {
		task.State = TaskFailed
		task.LastErr = err
		return nil, task, err
	}
	task.ID = id
	task.State = TaskPolling

	for {
		elapsed := j.clock.Now().Sub(task.CreatedAt)
		if elapsed > j.maxWait {
			task.State = TaskTimedOut
			task.LastErr = apierr.Newf(apierr.KindJobTimeout,
				"report task %s not ready after %s", task.ID, elapsed.Round(time.Second))
			j.logger.Error("mkt.report_task_timeout",
				zap.String("task_id", task.ID),
				zap.Duration("elapsed", elapsed))
			return nil, task, task.LastErr
		}

		if err := j.clock.Sleep(ctx, j.pollInterval); err != nil {
			task.State = TaskTimedOut
			task.LastErr = apierr.Wrap(apierr.KindJobTimeout, err, "poll wait canceled")
			return nil, task, task.LastErr
		}

		rows, err := j.client.DownloadReport(ctx, task.ID)
		switch {
		case err == nil:
			task.State = TaskDownloading
			records := j.mapper.ToStockRecords(rows)
			task.State = TaskCompleted
			task.CompletedAt = j.clock.Now()
			j.logger.Info("mkt.report_task_completed",
				zap.String("task_id", task.ID),
				zap.Int("rows", len(rows)),
				zap.Duration("elapsed", task.CompletedAt.Sub(task.CreatedAt)))
			return records, task, nil

		case errors.Is(err, ErrNotReady):
			j.logger.Debug("mkt.report_task_pending",
				zap.String("task_id", task.ID),
				zap.Duration("elapsed", elapsed))
			continue

		default:
			task.State = TaskFailed
			task.LastErr = err
			j.logger.Error("mkt.report_task_failed",
				zap.String("task_id", task.ID),
				zap.Error(err))
			return nil, task, err
		}
	}
}
