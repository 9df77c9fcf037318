// Package observability provides logging and tracing setup shared across
// the orchestration runtime's process entrypoints.
package observability

import (
	"log/slog"
	"os"

	"github.com/scribeforge/orchestrator/internal/config"
)

// SetupLogger configures a slog logger with environment fields: JSON in
// prod, text (and debug level) in dev.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler
	if cfg.IsDev() {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
