package commands

import (
	"context"
	"io"

	"github.com/michr/ops-toolkit/internal/export/database"
)

type (
	AppConfig = appConfig
	RowSource = rowSource
)

// WithConnect replaces the database connection.
func WithConnect(f func(ctx context.Context, creds database.Credentials) (RowSource, error)) Options {
	return func(a *App) {
		a.connect = f
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

// SetOutput sets the standard output of the command.
func (a *App) SetOutput(w io.Writer) {
	a.cmd.SetOut(w)
}
