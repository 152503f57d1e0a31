// Main package for the Tomcat release configuration tool.
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

	a, err := rollout.New(constants.ConfigureCmdName,
		"Install and configure a new Tomcat release",
		"Install a new Tomcat release next to the running one on every server of the fleet, carry the deployed application over and configure it.",
		newProvisioner)
	if err != nil {
		os.Exit(1)
	}

	os.Exit(run(a))
}

func newProvisioner(dialer remote.Dialer, fleet tomcat.Fleet, layout tomcat.Layout, console release.Console, args ...release.Option) rollout.Runner {
	return release.NewProvisioner(dialer, fleet, layout, console, args...)
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
