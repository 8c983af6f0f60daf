package internal

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// GetSentryHubFromContextOrDefault resolves the hub to report through.
// Request contexts get a hub attached while serving HTTP; anything running
// outside a request (pollers, startup) has none, so fall back to the
// process-wide current hub rather than returning nil.
func GetSentryHubFromContextOrDefault(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}
