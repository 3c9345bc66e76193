// Package retry provides backoff retry logic for transient failures.
//
// Two shapes of retry are used in acmistream:
//
//   - Fixed(delay): retry forever with a constant delay. The Tacview client uses
//     this to reconnect after the server goes away.
//   - Backoff(initial, max): exponential backoff with jitter and no attempt
//     limit. The flush worker uses it when the durable store is unavailable.
//
// Do stops early when fn returns an error wrapped with NonRetryable or when the
// context is cancelled, both before an attempt and while sleeping:
//
//	err := retry.Do(ctx, retry.Fixed(3*time.Second), func() error {
//	    return client.dial(ctx)
//	})
//
// OnRetry is invoked between attempts with the delay about to be slept, which is
// where callers log the failed attempt.
package retry
