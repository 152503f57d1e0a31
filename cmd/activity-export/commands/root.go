// Package commands is the activity export command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/michr/ops-toolkit/internal/cli"
	"github.com/michr/ops-toolkit/internal/constants"
	"github.com/michr/ops-toolkit/internal/export"
	"github.com/michr/ops-toolkit/internal/export/config"
	"github.com/michr/ops-toolkit/internal/export/database"
	"github.com/michr/ops-toolkit/internal/export/enrich"
	"github.com/michr/ops-toolkit/internal/export/geolocation"
	"github.com/michr/ops-toolkit/internal/export/models"
	"github.com/michr/ops-toolkit/internal/export/query"
	"github.com/michr/ops-toolkit/internal/fileutils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/decorate"
)

// rowSource is an open database the export reads from.
type rowSource interface {
	StreamRows(ctx context.Context, sql string, params map[string]any) iter.Seq2[models.Row, error]
	Close() error
}

type connectFunc func(ctx context.Context, creds database.Credentials) (rowSource, error)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	connect connectFunc
}

type appConfig struct {
	Verbosity  int
	QueriesDir string   `mapstructure:"queries_dir"`
	Output     string   `mapstructure:"output"`
	Targets    string   `mapstructure:"targets"`
	Dotenv     []string `mapstructure:"dotenv"`

	Geolocation geolocationConfig `mapstructure:"geolocation"`
}

type geolocationConfig struct {
	URL      string        `mapstructure:"url"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// Options represents an optional function to override App default values.
type Options func(*App)

// New registers commands and returns a new App.
func New(args ...Options) (*App, error) {
	a := App{
		connect: func(ctx context.Context, creds database.Credentials) (rowSource, error) {
			c, err := database.Connect(ctx, creds)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		config: appConfig{
			Dotenv: []string{".env"},
			Geolocation: geolocationConfig{
				URL:      constants.DefaultGeolocationURL,
				Cooldown: geolocation.DefaultCooldown,
			},
		},
	}
	for _, opt := range args {
		opt(&a)
	}

	a.cmd = &cobra.Command{
		Use:   constants.ExportCmdName + " [STUDY_ID]",
		Short: "Export volunteer activity with the location of their addresses",
		Long: `Export volunteer activity with the location of their addresses.

The activity query is assembled from the SQL files of the queries directory and
run on the database named by the environment or the .env file. Each row is
completed with the location of its addresses and written as CSV.

When STUDY_ID is given, only the activity of that study is exported.`,
		Args:          studyIDArg,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetVerbosity(a.config.Verbosity) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.ExportCmdName, a.cmd, a.viper); err != nil {
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
			var studyID *int
			if len(args) == 1 {
				// Already validated by studyIDArg.
				id, _ := strconv.Atoi(args[0])
				studyID = &id
			}
			return a.run(cmd.Context(), studyID)
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}
	for key, flag := range map[string]string{"queries_dir": "queries-dir", "output": "output", "targets": "targets"} {
		if err := a.viper.BindPFlag(key, a.cmd.Flags().Lookup(flag)); err != nil {
			return nil, err
		}
	}

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv) output")

	cmd.Flags().StringVar(&app.config.QueriesDir, "queries-dir", constants.DefaultQueriesDir, "directory holding the SQL query files")
	cmd.Flags().StringVarP(&app.config.Output, "output", "o", "", "file to write the CSV to instead of the standard output")
	cmd.Flags().StringVar(&app.config.Targets, "targets", "source", "addresses to locate, source or activity")

	if err := cmd.MarkFlagDirname("queries-dir"); err != nil {
		panic(fmt.Sprintf("failed to mark queries-dir flag as directory: %v", err))
	}
}

// studyIDArg accepts an optional integer study identifier.
func studyIDArg(cmd *cobra.Command, args []string) error {
	if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
		return err
	}
	if len(args) == 1 {
		if _, err := strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("STUDY_ID must be an integer, got %q", args[0])
		}
	}
	return nil
}

// Run executes the command and associated process, returning an error if any.
// An interrupt cancels the export in progress.
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

func (a *App) run(ctx context.Context, studyID *int) error {
	cfg, err := config.Load(config.WithDotenv(a.config.Dotenv...))
	if err != nil {
		return err
	}

	targets, err := enrich.TargetsByName(a.config.Targets)
	if err != nil {
		return err
	}

	sql, err := query.NewBuilder(os.DirFS(a.config.QueriesDir), cfg.BackupSchema).Build(studyID != nil)
	if err != nil {
		return err
	}
	params := map[string]any{}
	if studyID != nil {
		params[query.StudyParam] = *studyID
		slog.Info("Exporting study activity", "study_id", *studyID)
	}

	db, err := a.connect(ctx, database.Credentials{
		Username: cfg.DBUsername,
		Password: cfg.DBPassword,
		DSN:      cfg.DSN(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			slog.Warn("Failed to close database", "err", cerr)
		}
	}()

	locator := geolocation.New(cfg.IPLookupAPIKey,
		geolocation.WithBaseURL(a.config.Geolocation.URL),
		geolocation.WithCooldown(a.config.Geolocation.Cooldown),
	)
	enrichers := []enrich.Enricher{enrich.NewGeolocation(locator, targets...)}

	return a.withOutput(func(w io.Writer) error {
		_, err := export.Run(ctx, db.StreamRows(ctx, sql, params), w, enrichers)
		return err
	})
}

// withOutput calls write with the output of the export. A file is only
// put in place once write succeeded.
func (a *App) withOutput(write func(io.Writer) error) (err error) {
	if a.config.Output == "" {
		return write(a.cmd.OutOrStdout())
	}

	defer decorate.OnError(&err, "could not write %s", a.config.Output)

	dir, name := filepath.Split(a.config.Output)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	defer fileutils.RemoveLogError(f.Name())

	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), a.config.Output)
}
