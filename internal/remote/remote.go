// Package remote runs shell commands and transfers files on application servers.
package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Executor runs commands and transfers files on one remote host.
type Executor interface {
	// Run executes command and returns its combined output.
	// A nonzero exit status is reported as a *CommandError.
	Run(ctx context.Context, command string, opts ...RunOption) (string, error)
	// ExitStatus executes command and returns its exit code.
	// A nonzero exit code is not an error, only transport failures are.
	ExitStatus(ctx context.Context, command string, opts ...RunOption) (int, error)
	// Fetch copies the remote file to a local path.
	Fetch(ctx context.Context, remotePath, localPath string) error
	// Upload copies a local file to the remote path.
	Upload(ctx context.Context, localPath, remotePath string) error
}

// Conn is an Executor bound to an open session.
type Conn interface {
	Executor
	io.Closer
}

// Dialer opens sessions to servers by logical name.
type Dialer interface {
	Dial(ctx context.Context, server string) (Conn, error)
}

type runOptions struct {
	elevated bool
}

// RunOption customizes a single command execution.
type RunOption func(*runOptions)

// Elevated runs the command through sudo.
func Elevated() RunOption {
	return func(o *runOptions) {
		o.elevated = true
	}
}

// BuildCommand returns the command line actually sent to the host.
func BuildCommand(command string, opts ...RunOption) string {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.elevated {
		return "sudo " + command
	}
	return command
}

// CommandError is returned when a remote command exits with a nonzero status.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q failed with exit code %d: %s", e.Command, e.ExitCode, out)
}

// TransferError is returned when a file could not be fetched or uploaded.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Presence is the result of an existence probe.
type Presence int

const (
	// Absent means the probed path does not exist.
	Absent Presence = iota
	// Present means the probed path exists.
	Present
)

func (p Presence) String() string {
	if p == Present {
		return "present"
	}
	return "absent"
}

// DirState probes whether path is a directory on the host.
// Exit status 0 is Present, 1 is Absent and anything else is an error,
// so permission or transport problems are never mistaken for absence.
func DirState(ctx context.Context, exec Executor, path string) (Presence, error) {
	command := "test -d " + path
	code, err := exec.ExitStatus(ctx, command)
	if err != nil {
		return Absent, fmt.Errorf("could not probe %s: %w", path, err)
	}

	switch code {
	case 0:
		return Present, nil
	case 1:
		return Absent, nil
	default:
		return Absent, &CommandError{Command: command, ExitCode: code}
	}
}
