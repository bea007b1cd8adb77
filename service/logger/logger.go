package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

type contextKey string

const loggerContextKey contextKey = "logger.entry"

var defaultLogger = logrus.New()

// SetLoggerOptions configures the package-level logger.
func SetLoggerOptions(opts func(*logrus.Logger)) {
	opts(defaultLogger)
}

// For returns a log entry scoped to ctx. Fields added via NewContextWithFields are
// carried on every entry derived from that context. A nil context is allowed and
// returns an entry on the default logger.
func For(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return logrus.NewEntry(defaultLogger)
	}
	if entry, ok := ctx.Value(loggerContextKey).(*logrus.Entry); ok {
		return entry.WithContext(ctx)
	}
	return logrus.NewEntry(defaultLogger).WithContext(ctx)
}

// NewContextWithFields returns a child context whose logger carries fields.
func NewContextWithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return context.WithValue(ctx, loggerContextKey, For(ctx).WithFields(fields))
}
