package config

// WithLookupEnv overrides how the process environment is read.
func WithLookupEnv(f func(string) (string, bool)) Options {
	return func(o *options) {
		o.lookupEnv = f
	}
}
