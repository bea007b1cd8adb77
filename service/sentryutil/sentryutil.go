package sentryutil

import (
	"context"

	"github.com/DaveHalls/nft-dark-forest/service/logger"
	"github.com/getsentry/sentry-go"
)

// NewSentryHubContext returns a copy of ctx with a cloned Sentry hub attached, so
// goroutines report through their own hub rather than racing on a shared one.
func NewSentryHubContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return sentry.SetHubOnContext(ctx, hub.Clone())
	}
	return sentry.SetHubOnContext(ctx, sentry.CurrentHub().Clone())
}

// RecoverAndRaise reports a recovered panic to Sentry and re-panics. Deferred at the
// top of goroutines the same way the rest of the codebase does.
func RecoverAndRaise(ctx context.Context) {
	if err := recover(); err != nil {
		logger.For(ctx).Errorf("recovered from panic: %v", err)
		if ctx != nil {
			if hub := sentry.GetHubFromContext(ctx); hub != nil {
				hub.Recover(err)
			} else {
				sentry.CurrentHub().Recover(err)
			}
		} else {
			sentry.CurrentHub().Recover(err)
		}
		panic(err)
	}
}
