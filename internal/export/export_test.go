package export

import "log/slog"

// WithLogger sets the handler of the run logs.
func WithLogger(h slog.Handler) Options {
	return func(o *options) {
		o.log = slog.New(h)
	}
}
