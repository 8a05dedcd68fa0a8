package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnceSweepsEveryTarget(t *testing.T) {
	var gotAge time.Duration
	swept := map[string]int64{}
	s := New(
		Target{Name: "challenges", MaxAge: 24 * time.Hour, Sweep: func(_ context.Context, age time.Duration) (int64, error) {
			gotAge = age
			return 3, nil
		}},
		Target{Name: "broken", MaxAge: time.Hour, Sweep: func(context.Context, time.Duration) (int64, error) {
			return 0, errors.New("db gone")
		}},
		Target{Name: "correlations", MaxAge: 7 * 24 * time.Hour, Sweep: func(context.Context, time.Duration) (int64, error) {
			return 10, nil
		}},
		Target{Name: "disabled", MaxAge: 0, Sweep: func(context.Context, time.Duration) (int64, error) {
			t.Fatal("disabled target swept")
			return 0, nil
		}},
	)
	s.OnSwept = func(name string, n int64) { swept[name] = n }

	counts, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, map[string]int64{"challenges": 3, "correlations": 10}, counts)
	assert.Equal(t, counts, swept)
	assert.Equal(t, 24*time.Hour, gotAge)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("0 */6 * * *"))
	assert.NoError(t, Validate("@hourly"))
	assert.NoError(t, Validate("*/1 * * * * *"))
	assert.Error(t, Validate("every day"))
}

func TestStartRunsOnSchedule(t *testing.T) {
	var calls atomic.Int32
	s := New(Target{Name: "x", MaxAge: time.Minute, Sweep: func(context.Context, time.Duration) (int64, error) {
		calls.Add(1)
		return 0, nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, "@every 1s"))
	assert.Error(t, s.Start(ctx, "@every 1s"))
	cancel()

	assert.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop(context.Background())
	s.Stop(context.Background())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New()
	assert.Error(t, s.Start(context.Background(), "nope"))
}
