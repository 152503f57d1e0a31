package remote

// WithCurrentUser overrides the lookup of the local user name.
func WithCurrentUser(f func() (string, error)) Option {
	return func(o *dialOptions) {
		o.currentUser = f
	}
}

// ResolvedHost exposes the resolved connection parameters for tests.
type ResolvedHost struct {
	HostName string
	Port     string
	User     string
	KeyPath  string
}

// Resolve returns the connection parameters the dialer would use for server.
func (d *SSHDialer) Resolve(server string) (ResolvedHost, error) {
	h, err := d.resolve(server)
	return ResolvedHost{HostName: h.hostName, Port: h.port, User: h.user, KeyPath: h.keyPath}, err
}
