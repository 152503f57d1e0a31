package geolocation

import (
	"context"
	"log/slog"
	"time"
)

// WithSleep overrides the cooldown pause.
func WithSleep(f func(context.Context, time.Duration)) Options {
	return func(o *options) {
		o.sleep = f
	}
}

// WithLogger sets the handler of the client logs.
func WithLogger(h slog.Handler) Options {
	return func(o *options) {
		o.log = slog.New(h)
	}
}
