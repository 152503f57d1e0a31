// Package config loads the environment of the activity export.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/michr/ops-toolkit/internal/constants"
)

// Config is the database identity and lookup key of an export run.
type Config struct {
	DBUsername     string
	DBPassword     string
	DBHost         string
	DBPort         string
	DBServiceName  string
	BackupSchema   string
	IPLookupAPIKey string
}

// DSN returns the host:port/service endpoint of the database.
func (c Config) DSN() string {
	return fmt.Sprintf("%s:%s/%s", c.DBHost, c.DBPort, c.DBServiceName)
}

// Error lists the required variables that are not set.
type Error struct {
	Missing []string
}

func (e *Error) Error() string {
	return "missing environment variables: " + strings.Join(e.Missing, ", ")
}

type options struct {
	dotenv    []string
	lookupEnv func(string) (string, bool)
}

// Options represents an optional function to override Load default values.
type Options func(*options)

// WithDotenv sets the .env files read after the process environment.
func WithDotenv(files ...string) Options {
	return func(o *options) {
		o.dotenv = files
	}
}

// Load reads the configuration from the environment, completed by the .env
// file of the working directory. Variables set in the environment take precedence.
// Every missing required variable is reported at once.
func Load(args ...Options) (Config, error) {
	opts := options{
		dotenv:    []string{".env"},
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range args {
		opt(&opts)
	}

	dotenv, err := readDotenv(opts.dotenv)
	if err != nil {
		return Config{}, err
	}
	lookup := func(name string) (string, bool) {
		if v, ok := opts.lookupEnv(name); ok {
			return v, true
		}
		v, ok := dotenv[name]
		return v, ok
	}

	var c Config
	required := []struct {
		name string
		dst  *string
	}{
		{constants.EnvDBUsername, &c.DBUsername},
		{constants.EnvDBPassword, &c.DBPassword},
		{constants.EnvDBHost, &c.DBHost},
		{constants.EnvDBPort, &c.DBPort},
		{constants.EnvDBServiceName, &c.DBServiceName},
		{constants.EnvBackupSchema, &c.BackupSchema},
	}
	var missing []string
	for _, r := range required {
		v, ok := lookup(r.name)
		if !ok {
			missing = append(missing, r.name)
			continue
		}
		*r.dst = v
	}
	if len(missing) > 0 {
		return Config{}, &Error{Missing: missing}
	}

	c.IPLookupAPIKey, _ = lookup(constants.EnvIPLookupKey)
	return c, nil
}

// readDotenv merges files in order, the first one defining a name winning.
// Missing files are skipped.
func readDotenv(files []string) (map[string]string, error) {
	env := make(map[string]string)
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("could not read %s: %v", f, err)
		}
		for k, v := range vars {
			if _, ok := env[k]; !ok {
				env[k] = v
			}
		}
	}
	return env, nil
}
