package xmlconf

// WithIDGenerator overrides the generator of remote staging names.
func WithIDGenerator(f func() string) Option {
	return func(o *options) {
		o.newID = f
	}
}
