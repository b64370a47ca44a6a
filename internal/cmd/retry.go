package cmd

import (
	"context"
	"time"

	"github.com/orchestkit/ork-coord/internal/errors"
)

// retryInterval is the pause between attempts of a --wait loop.
var retryInterval = 250 * time.Millisecond

// retry calls attempt until it returns nil or a non-retryable error, or
// until wait has elapsed. The last error is returned. A zero wait makes a
// single attempt.
func retry(ctx context.Context, wait time.Duration, attempt func() error) error {
	deadline := time.Now().Add(wait)
	for {
		err := attempt()
		if err == nil || !errors.IsRetryable(err) || !time.Now().Before(deadline) {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(min(retryInterval, time.Until(deadline))):
		}
	}
}
