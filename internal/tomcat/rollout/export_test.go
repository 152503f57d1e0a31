package rollout

import (
	"io"

	"github.com/michr/ops-toolkit/internal/remote"
)

type (
	AppConfig = appConfig
)

// WithDialer replaces the ssh dialer.
func WithDialer(d remote.Dialer) Options {
	return func(a *App) {
		a.dialer = func(sshConfig) remote.Dialer { return d }
	}
}

// Config returns the configuration of the app.
func (a *App) Config() AppConfig {
	return a.config
}

// SetArgs set some arguments on root command for tests.
func (a *App) SetArgs(args ...string) {
	a.cmd.SetArgs(args)
}

// SetSilenceUsage set the SilenceUsage flag on root command for tests.
func (a *App) SetSilenceUsage(silence bool) {
	a.cmd.SilenceUsage = silence
}

// SetConsole sets the operator input and output.
func (a *App) SetConsole(in io.Reader, out io.Writer) {
	a.cmd.SetIn(in)
	a.cmd.SetOut(out)
}
