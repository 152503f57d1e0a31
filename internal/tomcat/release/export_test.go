package release

import (
	"context"
	"time"
)

// WithSleep replaces the waits between polls.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.sleep = f
	}
}
