package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDB struct {
	calls int64
	err   error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	atomic.AddInt64(&f.calls, 1)
	return pgconn.NewCommandTag("REFRESH"), f.err
}

type fakePub struct {
	subjects []string
	err      error
}

func (f *fakePub) Publish(ctx context.Context, subject string, payload any) error {
	f.subjects = append(f.subjects, subject)
	return f.err
}

func TestRunOnce_RefreshesAndPublishes(t *testing.T) {
	db := &fakeDB{}
	pub := &fakePub{}
	r := NewSummaryRefresher(zap.NewNop(), db, pub, time.Hour)

	r.runOnce(context.Background())

	assert.Equal(t, int64(1), atomic.LoadInt64(&db.calls))
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "evt.sync.summary_refreshed.v1", pub.subjects[0])
}

func TestRunOnce_RefreshFailureSkipsEvent(t *testing.T) {
	db := &fakeDB{err: errors.New("view is locked")}
	pub := &fakePub{}
	r := NewSummaryRefresher(zap.NewNop(), db, pub, time.Hour)

	r.runOnce(context.Background())

	assert.Empty(t, pub.subjects)
}

func TestRunOnce_NilPublisher(t *testing.T) {
	r := NewSummaryRefresher(zap.NewNop(), &fakeDB{}, nil, time.Hour)
	r.runOnce(context.Background())
}

func TestStart_StopsOnStop(t *testing.T) {
	db := &fakeDB{}
	r := NewSummaryRefresher(zap.NewNop(), db, &fakePub{}, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&db.calls) >= 2
	}, time.Second, time.Millisecond)
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewSummaryRefresher(zap.NewNop(), &fakeDB{}, &fakePub{}, time.Hour)

	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}
