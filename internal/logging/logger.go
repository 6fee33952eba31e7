package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/raftisctl/internal/config"
)

// NewLogger creates a structured zerolog.Logger writing JSON to stdout with
// the service and cluster from the config.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return newLogger(os.Stdout, cfg)
}

// NewConsoleLogger is NewLogger for interactive use: human-readable output
// on stderr so stdout stays free for documents.
func NewConsoleLogger(cfg *config.Config) zerolog.Logger {
	return newLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}, cfg)
}

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.ClusterPrefix != "" {
		ctx = ctx.Str("cluster", cfg.ClusterPrefix)
	}
	if cfg.OSRegionName != "" {
		ctx = ctx.Str("region", cfg.OSRegionName)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
