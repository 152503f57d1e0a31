// Package constants is responsible for defining the constants used in the application.
// It also provides utility functions to get the default configuration paths.
package constants

import (
	"log/slog"
	"os"
	"path/filepath"
)

var (
	// Version is the version of the tools.
	Version = "Dev"
)

const (
	// ConfigureCmdName is the name of the release configuration tool.
	ConfigureCmdName = "tomcat-configure"

	// DeployCmdName is the name of the release cutover tool.
	DeployCmdName = "tomcat-deploy"

	// ExportCmdName is the name of the activity export tool.
	ExportCmdName = "activity-export"

	// DefaultAppFolder is the name of the default root folder.
	DefaultAppFolder = "ops-toolkit"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn

	// DefaultSSHKeyPath is the identity file used when ssh config does not name one.
	DefaultSSHKeyPath = "~/.ssh/id_rsa"

	// DefaultSSHConfigPath is the user ssh configuration file.
	DefaultSSHConfigPath = "~/.ssh/config"

	// DefaultKnownHostsPath is the user known hosts file.
	DefaultKnownHostsPath = "~/.ssh/known_hosts"

	// DefaultQueriesDir is the directory the export reads its SQL fragments from.
	DefaultQueriesDir = "queries"

	// DefaultGeolocationURL is the base URL of the IP lookup service.
	DefaultGeolocationURL = "https://ipapi.co"
)

// Environment variables read by the activity export.
const (
	EnvDBUsername    = "DB_USERNAME"
	EnvDBPassword    = "DB_PASSWORD"
	EnvDBHost        = "DB_HOST"
	EnvDBPort        = "DB_PORT"
	EnvDBServiceName = "DB_SERVICE_NAME"
	EnvBackupSchema  = "BACKUP_SCHEMA"
	EnvIPLookupKey   = "IP_LOOKUP_API_KEY"
)

type options struct {
	baseDir func() (string, error)
}

type option func(*options)

// GetDefaultConfigPath is the default path to the configuration directory.
func GetDefaultConfigPath(opts ...option) string {
	o := options{baseDir: os.UserConfigDir}
	for _, opt := range opts {
		opt(&o)
	}

	return filepath.Join(getBaseDir(o.baseDir), DefaultAppFolder)
}

// ExpandHome replaces a leading "~/" in path with the user home directory.
// The path is returned unchanged if the home directory cannot be determined.
func ExpandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// getBaseDir is a helper function to handle the case where the baseDir function returns an error, and instead return an empty string.
func getBaseDir(baseDirFunc func() (string, error)) string {
	dir, err := baseDirFunc()
	if err != nil {
		return ""
	}
	return dir
}
