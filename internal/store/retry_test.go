package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralgo/credits/internal/metrics"
	"github.com/viralgo/credits/internal/model"
)

type flakyStore struct {
	getFailures int32
	getCalls    atomic.Int32
	updateCalls atomic.Int32
	updateDelay time.Duration
}

func (f *flakyStore) Get(ctx context.Context, userID string) (*model.Record, error) {
	n := f.getCalls.Add(1)
	if n <= f.getFailures {
		return nil, ErrUnavailable
	}
	return &model.Record{UserID: userID, Credits: 5, Version: 1}, nil
}

func (f *flakyStore) Update(ctx context.Context, userID string, expected, next *model.Record) (*model.Record, error) {
	f.updateCalls.Add(1)
	select {
	case <-time.After(f.updateDelay):
		return next, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *flakyStore) Capabilities() Capabilities {
	return Capabilities{AtomicPreconditions: true}
}

func TestRetrying_GetRetriesUnavailable(t *testing.T) {
	backend := &flakyStore{getFailures: 2}
	s := WithRetry(backend, RetryConfig{Timeout: time.Second, ReadRetries: 2, BaseDelay: time.Millisecond})

	rec, err := s.Get(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Credits)
	assert.Equal(t, int32(3), backend.getCalls.Load())
}

func TestRetrying_GetGivesUp(t *testing.T) {
	backend := &flakyStore{getFailures: 10}
	s := WithRetry(backend, RetryConfig{Timeout: time.Second, ReadRetries: 1, BaseDelay: time.Millisecond})

	_, err := s.Get(context.Background(), "u")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), backend.getCalls.Load())
}

func TestRetrying_UpdateIsNotRetried(t *testing.T) {
	backend := &flakyStore{updateDelay: time.Second}
	s := WithRetry(backend, RetryConfig{Timeout: 10 * time.Millisecond, ReadRetries: 3, BaseDelay: time.Millisecond})

	_, err := s.Update(context.Background(), "u", nil, &model.Record{UserID: "u"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(1), backend.updateCalls.Load())
}

func TestMatches(t *testing.T) {
	v1 := &model.Record{Version: 1}
	v2 := &model.Record{Version: 2}

	assert.True(t, Matches(nil, nil))
	assert.False(t, Matches(v1, nil))
	assert.False(t, Matches(nil, v1))
	assert.True(t, Matches(v1, &model.Record{Version: 1}))
	assert.False(t, Matches(v2, v1))
}

func TestInstrumented_RecordsLatency(t *testing.T) {
	rec := metrics.NewInMemory()
	s := WithMetrics(&flakyStore{}, rec)

	_, err := s.Get(context.Background(), "u")
	require.NoError(t, err)
	_, err = s.Update(context.Background(), "u", nil, &model.Record{UserID: "u"})
	require.NoError(t, err)

	snap := rec.Snapshot()
	assert.Equal(t, uint64(1), snap.StoreCalls["get"])
	assert.Equal(t, uint64(1), snap.StoreCalls["update"])
}
