// Package depcheckcontext carries a request-scoped go-kit logger through a
// context.Context, so per-subject code can log with its subject tag.
package depcheckcontext

import (
	"context"
	"os"

	"github.com/go-kit/log"
)

type contextKey int

const loggerKey contextKey = iota

var defaultLogger = log.NewLogfmtLogger(os.Stderr)

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the logger attached to ctx, or a logfmt logger writing
// to stderr if none was attached.
func Logger(ctx context.Context) log.Logger {
	if logger, ok := ctx.Value(loggerKey).(log.Logger); ok {
		return logger
	}
	return defaultLogger
}

// WithSubject returns a derived context whose logger tags every line with
// the path of the file currently being analysed.
func WithSubject(ctx context.Context, path string) context.Context {
	return WithLogger(ctx, log.With(Logger(ctx), "subject", path))
}
