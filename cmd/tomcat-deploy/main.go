// Main package for the Tomcat release cutover tool.
package main

import (
	"log/slog"
	"os"

	"github.com/michr/ops-toolkit/internal/constants"
	"github.com/michr/ops-toolkit/internal/remote"
	"github.com/michr/ops-toolkit/internal/tomcat"
	"github.com/michr/ops-toolkit/internal/tomcat/release"
	"github.com/michr/ops-toolkit/internal/tomcat/rollout"
)

func main() {
	slog.SetLogLoggerLevel(constants.DefaultLogLevel)

	a, err := rollout.New(constants.DeployCmdName,
		"Switch the fleet over to a configured Tomcat release",
		"Stop Tomcat on every server of the fleet, point the current release link at the configured release and start it again.",
		newCutover)
	if err != nil {
		os.Exit(1)
	}

	os.Exit(run(a))
}

func newCutover(dialer remote.Dialer, fleet tomcat.Fleet, layout tomcat.Layout, console release.Console, args ...release.Option) rollout.Runner {
	return release.NewCutover(dialer, fleet, layout, console, args...)
}

type app interface {
	Run() error
	UsageError() bool
}

func run(a app) int {
	if err := a.Run(); err != nil {
		slog.Error(err.Error())

		if a.UsageError() {
			return 2
		}
		return 1
	}

	return 0
}
