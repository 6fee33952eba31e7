package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edvin/raftisctl/internal/bench"
	"github.com/edvin/raftisctl/internal/config"
	"github.com/edvin/raftisctl/internal/logging"
)

func main() {
	var (
		host        = flag.String("host", envOr("RAFTIS_HOST", "localhost"), "Node host")
		port        = flag.Int("port", envOrInt("RAFTIS_PORT", 6379), "Node port")
		key         = flag.String("key", "jay", "Key to operate on")
		op          = flag.String("operation", bench.OpGet, "Operation: get, set or incr")
		value       = flag.String("value", "5", "Value written by set")
		expected    = flag.String("expected", "", "Expected get reply; mismatches are counted")
		requests    = flag.Int("requests", 500, "Number of requests")
		concurrency = flag.Int("concurrency", 0, "Maximum requests in flight (0 = all at once)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewConsoleLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolSize := *concurrency
	if poolSize == 0 {
		poolSize = *requests
	}
	addr := net.JoinHostPort(*host, strconv.Itoa(*port))
	rdb := redis.NewClient(&redis.Options{Addr: addr, PoolSize: poolSize})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("node not reachable")
	}

	logger.Info().Str("addr", addr).Str("operation", *op).Int("requests", *requests).Msg("starting benchmark")
	res, err := bench.Run(ctx, rdb, bench.Options{
		Operation:   *op,
		Key:         *key,
		Value:       *value,
		Expected:    *expected,
		Requests:    *requests,
		Concurrency: *concurrency,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(res)
	if res.Errors > 0 || res.Mismatches > 0 {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}
