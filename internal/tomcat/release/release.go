// Package release rolls a new Tomcat release out to a fleet of application servers.
//
// A rollout is done in two runs. The Provisioner installs and configures the
// new release next to the running one, then the Cutover switches the service
// over to it. Servers are always handled one after the other.
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/michr/ops-toolkit/internal/cli"
	"github.com/michr/ops-toolkit/internal/remote"
	"github.com/michr/ops-toolkit/internal/tomcat"
	"github.com/michr/ops-toolkit/internal/xmlconf"
)

// ErrCancelled is returned when the operator declines to go on.
var ErrCancelled = errors.New("cancelled by user")

type options struct {
	timing     Timing
	sleep      sleepFunc
	editorOpts []xmlconf.Option
}

// Option configures a Provisioner or a Cutover.
type Option func(*options)

// WithTiming overrides the service state waits of a cutover.
func WithTiming(t Timing) Option {
	return func(o *options) {
		o.timing = t
	}
}

// WithEditorOptions sets the options of the configuration file editors.
func WithEditorOptions(opts ...xmlconf.Option) Option {
	return func(o *options) {
		o.editorOpts = opts
	}
}

func newOptions(args []Option) options {
	o := options{
		timing: DefaultTiming(),
		sleep:  sleep,
	}
	for _, opt := range args {
		opt(&o)
	}
	return o
}

// Console is where the operator follows and confirms a run.
type Console struct {
	Out    *cli.Printer
	Prompt *cli.Prompter
}

// run is the part shared by both orchestrators.
type run struct {
	dialer  remote.Dialer
	fleet   tomcat.Fleet
	layout  tomcat.Layout
	console Console
	opts    options
}

// confirm shows what is about to happen and runs the double confirmation gate.
func (r run) confirm(title, intro string, steps []string, warning string) error {
	out := r.console.Out

	lines := []string{intro}
	for i, s := range r.fleet.Servers() {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, s.Name))
	}
	lines = append(lines, "", "This operation will:")
	for i, s := range steps {
		lines = append(lines, fmt.Sprintf(" %d. %s", i+1, s))
	}
	lines = append(lines, "", warning)
	out.Banner(cli.TimestampedTitle(title), lines...)
	out.Rule()

	ok, err := r.console.Prompt.ConfirmCount("Are you sure you want to proceed?", r.fleet.Len())
	if err != nil {
		return fmt.Errorf("could not read confirmation: %v", err)
	}
	if !ok {
		return ErrCancelled
	}
	return nil
}

// connect opens a session to server. The returned function closes it.
func (r run) connect(ctx context.Context, server string) (remote.Conn, func(), error) {
	conn, err := r.dialer.Dial(ctx, server)
	if err != nil {
		return nil, nil, err
	}
	return conn, func() {
		if err := conn.Close(); err != nil {
			slog.Warn("Failed to close session", "server", server, "err", err)
		}
	}, nil
}

// elapsed formats a duration as whole seconds, the way operators read waits.
func elapsed(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}
