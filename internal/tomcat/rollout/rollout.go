// Package rollout provides the command line application shared by the Tomcat release tools.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/michr/ops-toolkit/internal/cli"
	"github.com/michr/ops-toolkit/internal/constants"
	"github.com/michr/ops-toolkit/internal/remote"
	"github.com/michr/ops-toolkit/internal/tomcat"
	"github.com/michr/ops-toolkit/internal/tomcat/release"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Runner is one run of a release tool over the fleet.
type Runner interface {
	Run(ctx context.Context) error
}

// Factory builds the Runner of a release tool.
type Factory func(dialer remote.Dialer, fleet tomcat.Fleet, layout tomcat.Layout, console release.Console, args ...release.Option) Runner

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	name    string
	factory Factory
	dialer  func(sshConfig) remote.Dialer
}

type appConfig struct {
	Verbosity int
	Fleet     string

	Layout tomcat.Layout  `mapstructure:"layout"`
	Timing release.Timing `mapstructure:"timing"`
	SSH    sshConfig      `mapstructure:"ssh"`
}

type sshConfig struct {
	Config     string        `mapstructure:"config"`
	KnownHosts string        `mapstructure:"known_hosts"`
	Key        string        `mapstructure:"key"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Options represents an optional function to override App default values.
type Options func(*App)

// New creates a new App running the tool built by factory.
func New(name, short, long string, factory Factory, args ...Options) (*App, error) {
	a := App{
		name:    name,
		factory: factory,
		dialer:  newSSHDialer,
		config: appConfig{
			Layout: tomcat.DefaultLayout(),
			Timing: release.DefaultTiming(),
			SSH: sshConfig{
				Config:     constants.DefaultSSHConfigPath,
				KnownHosts: constants.DefaultKnownHostsPath,
				Key:        constants.DefaultSSHKeyPath,
				Timeout:    10 * time.Second,
			},
		},
	}
	for _, opt := range args {
		opt(&a)
	}

	a.cmd = &cobra.Command{
		Use:           name,
		Short:         short,
		Long:          long,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetVerbosity(a.config.Verbosity) // Set verbosity before loading config
			if err := cli.InitViperConfig(a.name, a.cmd, a.viper); err != nil {
				return err
			}
			if err := cli.Unmarshal(a.viper, &a.config); err != nil {
				return err
			}
			slog.Debug("Got app config", "config", a.config)

			cli.SetVerbosity(a.config.Verbosity) // Update verbosity after loading config if necessary
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context())
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	a.cmd.PersistentFlags().CountVarP(&a.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv) output")
	a.cmd.Flags().StringVar(&a.config.Fleet, "fleet", "", "TOML or YAML file listing the servers to work on")
	if err := a.cmd.MarkFlagFilename("fleet", "toml", "yaml", "yml"); err != nil {
		return nil, fmt.Errorf("failed to mark fleet flag as filename: %v", err)
	}
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func (a *App) installVersion() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Returns the running version of " + a.name + " and exits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", a.name, constants.Version)
			return nil
		},
	}
	a.cmd.AddCommand(cmd)
}

// Run executes the command and associated process, returning an error if any.
// An interrupt cancels the run in progress.
func (a App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.cmd.ExecuteContext(ctx)
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run(ctx context.Context) error {
	if err := errors.Join(a.config.Layout.Validate(), a.config.Timing.Validate()); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fleet := tomcat.DefaultFleet()
	if a.config.Fleet != "" {
		f, err := tomcat.LoadFleet(a.config.Fleet)
		if err != nil {
			return err
		}
		fleet = f
	}
	slog.Info("Working on fleet", "servers", fleet.Len(), "version", a.config.Layout.Version)

	out := a.cmd.OutOrStdout()
	console := release.Console{
		Out:    cli.NewPrinter(out),
		Prompt: cli.NewPrompter(a.cmd.InOrStdin(), out),
	}

	r := a.factory(a.dialer(a.config.SSH), fleet, a.config.Layout, console, release.WithTiming(a.config.Timing))
	return r.Run(ctx)
}

func newSSHDialer(c sshConfig) remote.Dialer {
	return remote.NewSSHDialer(
		remote.WithSSHConfig(c.Config),
		remote.WithKnownHosts(c.KnownHosts),
		remote.WithDefaultKey(c.Key),
		remote.WithTimeout(c.Timeout),
	)
}
