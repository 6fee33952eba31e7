// Package bench drives concurrent Redis-protocol requests against a raftis
// node and measures throughput.
package bench

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Operations understood by Run.
const (
	OpGet  = "get"
	OpSet  = "set"
	OpIncr = "incr"
)

// Client is the subset of the Redis client the benchmark needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Options configures a run.
type Options struct {
	Operation   string
	Key         string
	Value       string // written by set
	Expected    string // compared against get replies when non-empty
	Requests    int
	Concurrency int // 0 runs every request at once
}

// Result summarizes a run.
type Result struct {
	Requests   int
	Errors     int64
	Mismatches int64
	Took       time.Duration
}

// Rate is the request rate in requests per second.
func (r Result) Rate() float64 {
	if r.Took <= 0 {
		return 0
	}
	return float64(r.Requests) / r.Took.Seconds()
}

func (r Result) String() string {
	return fmt.Sprintf("%.2f [req/s], took %.2f [s], %d errors, %d mismatches",
		r.Rate(), r.Took.Seconds(), r.Errors, r.Mismatches)
}

// Run issues opts.Requests requests and waits for all of them. Failed
// requests are counted, not returned; Run only fails on bad options or a
// cancelled context.
func Run(ctx context.Context, c Client, opts Options) (Result, error) {
	do, err := operation(c, opts)
	if err != nil {
		return Result{}, err
	}
	if opts.Requests < 1 {
		return Result{}, fmt.Errorf("requests must be at least 1, got %d", opts.Requests)
	}

	var errCount, mismatches atomic.Int64
	var g errgroup.Group
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	start := time.Now()
	for i := 0; i < opts.Requests; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			got, err := do(ctx)
			switch {
			case err != nil:
				errCount.Add(1)
			case opts.Expected != "" && got != opts.Expected:
				mismatches.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Requests:   opts.Requests,
		Errors:     errCount.Load(),
		Mismatches: mismatches.Load(),
		Took:       time.Since(start),
	}
	return res, ctx.Err()
}

func operation(c Client, opts Options) (func(ctx context.Context) (string, error), error) {
	switch opts.Operation {
	case OpGet:
		return func(ctx context.Context) (string, error) {
			v, err := c.Get(ctx, opts.Key).Result()
			if errors.Is(err, redis.Nil) {
				return "", nil
			}
			return v, err
		}, nil
	case OpSet:
		return func(ctx context.Context) (string, error) {
			return c.Set(ctx, opts.Key, opts.Value, 0).Result()
		}, nil
	case OpIncr:
		return func(ctx context.Context) (string, error) {
			n, err := c.Incr(ctx, opts.Key).Result()
			return strconv.FormatInt(n, 10), err
		}, nil
	}
	return nil, fmt.Errorf("unknown operation %q, want get, set or incr", opts.Operation)
}
