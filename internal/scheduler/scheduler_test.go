package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/krunaln/macrs-ecom-recommender/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	id, err := s.AddJob("noop", "* * * * *", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, s.Next(id).After(time.Now()))

	_, err = s.AddJob("hourly", "@hourly", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestSchedulerAddJob_InvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	_, err := s.AddJob("bad", "not a schedule", func(context.Context) error { return nil })
	assert.ErrorContains(t, err, "bad")
}

func TestSchedulerRun_RecordsResult(t *testing.T) {
	s := NewScheduler(WithJobTimeout(time.Second))
	defer s.Stop(context.Background())

	okBefore := testutil.ToFloat64(metrics.ScheduledJobRuns.WithLabelValues("probe", "success"))
	errBefore := testutil.ToFloat64(metrics.ScheduledJobRuns.WithLabelValues("probe", "error"))

	var calls atomic.Int32
	s.run("probe", func(ctx context.Context) error {
		calls.Add(1)
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})
	s.run("probe", func(context.Context) error { return errors.New("boom") })

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.ScheduledJobRuns.WithLabelValues("probe", "success")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(metrics.ScheduledJobRuns.WithLabelValues("probe", "error")))
}

func TestSchedulerEvery_RunsAndStopCancels(t *testing.T) {
	s := NewScheduler()
	started := make(chan struct{}, 1)
	_, err := s.AddJob("blocker", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
