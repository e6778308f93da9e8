package pipeline

import "context"

// WithRetry runs action until accept approves its result or maxAttempts is
// reached. It returns the last result produced, whether that result was
// accepted, and the first hard error from either callback. Attempts are
// numbered from 1.
func WithRetry[T any](
	ctx context.Context,
	maxAttempts int,
	action func(ctx context.Context, attempt int) (T, error),
	accept func(ctx context.Context, attempt int, result T) (bool, error),
) (T, bool, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var last T
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, false, err
		}
		result, err := action(ctx, attempt)
		if err != nil {
			return last, false, err
		}
		last = result
		ok, err := accept(ctx, attempt, result)
		if err != nil {
			return last, false, err
		}
		if ok {
			return last, true, nil
		}
	}
	return last, false, nil
}
