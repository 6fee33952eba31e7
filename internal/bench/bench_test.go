package bench

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	values  map[string]string
	counter atomic.Int64
	getErr  error

	inFlight, maxInFlight atomic.Int64
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}}
}

func (f *fakeClient) track() func() {
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	defer f.track()()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	defer f.track()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Incr(ctx context.Context, key string) *redis.IntCmd {
	defer f.track()()
	return redis.NewIntResult(f.counter.Add(1), nil)
}

func TestRun_Get(t *testing.T) {
	c := newFakeClient()
	c.values["jay"] = "5"

	res, err := Run(context.Background(), c, Options{Operation: OpGet, Key: "jay", Expected: "5", Requests: 50})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Requests)
	assert.Zero(t, res.Errors)
	assert.Zero(t, res.Mismatches)
	assert.Positive(t, res.Rate())
}

func TestRun_GetMismatchAndMissingKey(t *testing.T) {
	c := newFakeClient()

	res, err := Run(context.Background(), c, Options{Operation: OpGet, Key: "jay", Expected: "5", Requests: 10})
	require.NoError(t, err)
	assert.Zero(t, res.Errors)
	assert.Equal(t, int64(10), res.Mismatches)
}

func TestRun_CountsErrors(t *testing.T) {
	c := newFakeClient()
	c.getErr = errors.New("connection refused")

	res, err := Run(context.Background(), c, Options{Operation: OpGet, Key: "jay", Requests: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Errors)
}

func TestRun_SetAndIncr(t *testing.T) {
	c := newFakeClient()

	_, err := Run(context.Background(), c, Options{Operation: OpSet, Key: "jay", Value: "v", Requests: 5})
	require.NoError(t, err)
	assert.Equal(t, "v", c.values["jay"])

	res, err := Run(context.Background(), c, Options{Operation: OpIncr, Key: "n", Requests: 20})
	require.NoError(t, err)
	assert.Zero(t, res.Errors)
	assert.Equal(t, int64(20), c.counter.Load())
}

func TestRun_ConcurrencyLimit(t *testing.T) {
	c := newFakeClient()

	_, err := Run(context.Background(), c, Options{Operation: OpIncr, Key: "n", Requests: 30, Concurrency: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, c.maxInFlight.Load(), int64(3))
}

func TestRun_InvalidOptions(t *testing.T) {
	_, err := Run(context.Background(), newFakeClient(), Options{Operation: "del", Requests: 1})
	assert.ErrorContains(t, err, "unknown operation")

	_, err = Run(context.Background(), newFakeClient(), Options{Operation: OpGet, Requests: 0})
	assert.ErrorContains(t, err, "at least 1")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, newFakeClient(), Options{Operation: OpGet, Key: "jay", Requests: 5})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResult_String(t *testing.T) {
	r := Result{Requests: 100, Took: 2 * time.Second, Errors: 1}
	assert.Equal(t, 50.0, r.Rate())
	assert.Contains(t, r.String(), "50.00 [req/s]")
	assert.Zero(t, Result{}.Rate())
}
