package backoff

import "context"

// Retry executes fn up to maxAttempts times, sleeping between attempts
// according to the policy. The retryable predicate decides whether a
// failure is worth another attempt; a nil predicate retries everything.
//
// The last error is returned as-is so callers keep their typed errors.
// Context cancellation between attempts returns ctx.Err().
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	retryable func(error) bool,
	fn func(ctx context.Context, attempt int) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt < maxAttempts {
			if err := SleepAttempt(ctx, policy, attempt); err != nil {
				return zero, err
			}
		}
	}

	return zero, lastErr
}
