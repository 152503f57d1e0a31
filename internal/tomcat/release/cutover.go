package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/michr/ops-toolkit/internal/cli"
	"github.com/michr/ops-toolkit/internal/remote"
	"github.com/michr/ops-toolkit/internal/tomcat"
	"github.com/ubuntu/decorate"
)

const (
	// systemd reports an inactive unit with exit code 3.
	inactiveExitCode = 3
	serviceName      = "tomcat"
)

// ErrDeploymentFailed is returned when at least one server could not be switched over.
var ErrDeploymentFailed = errors.New("not all deployments were successful")

// Cutover switches the service of every server of a fleet to the new release.
type Cutover struct {
	run
}

// NewCutover returns a Cutover for fleet.
func NewCutover(dialer remote.Dialer, fleet tomcat.Fleet, layout tomcat.Layout, console Console, args ...Option) *Cutover {
	return &Cutover{run{
		dialer:  dialer,
		fleet:   fleet,
		layout:  layout,
		console: console,
		opts:    newOptions(args),
	}}
}

// Run asks for confirmation then switches each server in order.
// A failing server does not stop the run: every server is attempted and the
// outcome of each is summarized at the end.
func (c *Cutover) Run(ctx context.Context) error {
	out := c.console.Out

	err := c.confirm("TOMCAT DEPLOYMENT CONFIRMATION",
		fmt.Sprintf("You are about to deploy Apache Tomcat version %s to the following servers:", c.layout.Version),
		[]string{
			"Stop the running Tomcat service",
			"Create symbolic links to the new version",
			"Start the Tomcat service with the new version",
		},
		"WARNING: This operation will cause service interruption.")
	if err != nil {
		return err
	}
	if err := c.checkCredentials(); err != nil {
		return err
	}
	out.Line("\nConfirmation received. Starting deployment...\n")

	var results []cli.Result
	for _, s := range c.fleet.Servers() {
		out.Banner(fmt.Sprintf("Deploying Apache Tomcat update on %s...", s.Name))
		err := c.deploy(ctx, s.Name)
		if err != nil {
			out.ServerError(s.Name, fmt.Errorf("unexpected error occurred: %w", err))
		}
		results = append(results, cli.Result{Server: s.Name, Err: err})
	}

	out.Summary("DEPLOYMENT SUMMARY", results)
	for _, r := range results {
		if r.Err != nil {
			out.Warning("\nWARNING: Not all deployments were successful!")
			return ErrDeploymentFailed
		}
	}
	out.Success("\nAll deployments completed successfully!")
	return nil
}

// checkCredentials makes the operator confirm that the Nabu pools have their
// credentials, which can only be set by hand.
func (c *Cutover) checkCredentials() error {
	nabu := c.fleet.Of(tomcat.Nabu)
	if len(nabu) == 0 {
		return nil
	}

	lines := []string{"The following Nabu servers are included in this deployment:"}
	var resources []string
	for i, s := range nabu {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, s.Name))
		if ds, err := s.Datasource(); err == nil {
			resources = append(resources, ds.ResourceName)
		}
	}
	lines = append(lines,
		"",
		"IMPORTANT: For Nabu servers, you must manually update:",
		"  - The database user and password in context.xml",
		"",
		"Location: "+c.layout.ContextXML(),
		"Resources: "+strings.Join(resources, " or "))
	c.console.Out.Banner(cli.TimestampedTitle("NABU SERVERS CREDENTIAL CHECK"), lines...)
	c.console.Out.Rule()

	ok, err := c.console.Prompt.YesNo("Have you already updated the credentials for all Nabu servers?")
	if err != nil {
		return fmt.Errorf("could not read confirmation: %v", err)
	}
	if !ok {
		c.console.Out.Line("\nPlease update the credentials before proceeding with deployment.")
		c.console.Out.Line("Deployment cancelled.")
		return ErrCancelled
	}
	return nil
}

func (c *Cutover) deploy(ctx context.Context, server string) error {
	conn, closeConn, err := c.connect(ctx, server)
	if err != nil {
		return err
	}
	defer closeConn()

	c.console.Out.Server(server, "Deploying new Tomcat installation...")
	if err := c.stop(ctx, conn, server); err != nil {
		return err
	}
	if err := c.relink(ctx, conn, server); err != nil {
		return err
	}
	if err := c.start(ctx, conn, server); err != nil {
		return err
	}

	version, err := conn.Run(ctx, c.layout.CurrentLink()+"/bin/version.sh | head -n 1", remote.Elevated())
	if err != nil {
		return fmt.Errorf("could not query deployed version: %w", err)
	}
	c.console.Out.Server(server, "Deployed version: %s", strings.TrimSpace(version))
	c.console.Out.Server(server, "Tomcat %s deployment completed", c.layout.Version)
	return nil
}

// stop stops the service, killing it when it does not stop in time.
func (c *Cutover) stop(ctx context.Context, exec remote.Executor, server string) (err error) {
	defer decorate.OnError(&err, "could not stop %s", serviceName)

	out := c.console.Out
	t := c.opts.timing

	out.Server(server, "Stopping Tomcat service...")
	if _, err := exec.Run(ctx, "systemctl stop "+serviceName, remote.Elevated()); err != nil {
		return err
	}

	out.Server(server, "Verifying Tomcat has stopped...")
	stopped, err := t.Stop.until(ctx, c.opts.sleep, c.stateIs(exec, inactiveExitCode), func() {
		out.Server(server, "Tomcat is still stopping... waiting %s", elapsed(t.Stop.Interval))
	})
	if err != nil {
		return err
	}
	if stopped {
		out.Server(server, "Tomcat service has stopped successfully")
		return nil
	}

	out.ServerWarn(server, "Tomcat may not have fully stopped after %s. Proceeding anyway.", elapsed(t.Stop.Timeout))
	// No process left to kill is fine.
	if code, err := exec.ExitStatus(ctx, "pkill -9 -f catalina.base", remote.Elevated()); err != nil || code != 0 {
		slog.Debug("Forced kill did not succeed", "server", server, "code", code, "err", err)
	}
	return c.opts.sleep(ctx, t.Settle)
}

// relink points the logs and current release links at the new release.
func (c *Cutover) relink(ctx context.Context, exec remote.Executor, server string) (err error) {
	defer decorate.OnError(&err, "could not relink release %s", c.layout.Version)

	l := c.layout
	links := []struct {
		what, target, link string
	}{
		{"logs", l.LogsDir, l.LogsLink()},
		{"tomcat", l.Version, l.CurrentLink()},
	}
	for _, ln := range links {
		c.console.Out.Server(server, "Creating symbolic link from %s to %s...", ln.target, ln.link)
		for _, cmd := range []string{
			fmt.Sprintf("ln -sfn %s %s", ln.target, ln.link),
			fmt.Sprintf("chown -h %s %s", l.Owner, ln.link),
		} {
			if _, err := exec.Run(ctx, cmd, remote.Elevated()); err != nil {
				return err
			}
		}

		listing, err := exec.Run(ctx, "ls -la "+ln.link, remote.Elevated())
		if err != nil {
			return err
		}
		if !strings.Contains(listing, ln.target) {
			return fmt.Errorf("failed to create %s symbolic link properly: %s", ln.what, strings.TrimSpace(listing))
		}
	}
	return nil
}

// start starts the service and waits for it to be active.
func (c *Cutover) start(ctx context.Context, exec remote.Executor, server string) (err error) {
	defer decorate.OnError(&err, "could not start %s", serviceName)

	out := c.console.Out
	t := c.opts.timing

	out.Server(server, "Starting Tomcat service...")
	code, err := exec.ExitStatus(ctx, "systemctl start "+serviceName, remote.Elevated())
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("failed to start Tomcat service (exit code: %d)", code)
	}

	out.Server(server, "Verifying Tomcat service is running...")
	running, err := t.Start.until(ctx, c.opts.sleep, c.stateIs(exec, 0), func() {
		out.Server(server, "Tomcat is still starting... waiting %s", elapsed(t.Start.Interval))
	})
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("Tomcat failed to start within %s", elapsed(t.Start.Timeout))
	}
	out.Server(server, "Tomcat service is now running")
	return nil
}

// stateIs probes the service state, reporting done once it exits with want.
func (c *Cutover) stateIs(exec remote.Executor, want int) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		code, err := exec.ExitStatus(ctx, "systemctl is-active "+serviceName, remote.Elevated())
		if err != nil {
			return false, err
		}
		return code == want, nil
	}
}
