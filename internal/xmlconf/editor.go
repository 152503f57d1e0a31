package xmlconf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/michr/ops-toolkit/internal/fileutils"
	"github.com/michr/ops-toolkit/internal/remote"
	"github.com/ubuntu/decorate"
)

// Rewriter mutates one kind of configuration file and checks the result.
type Rewriter interface {
	// Rewrite mutates doc in place.
	Rewrite(doc *Document) error
	// Validate checks the serialized result and returns what is missing or wrong.
	Validate(serialized []byte) ([]string, error)
}

type options struct {
	tempDir string
	newID   func() string
}

// Option configures an Editor.
type Option func(*options)

// WithTempDir sets the local directory used to stage files.
func WithTempDir(dir string) Option {
	return func(o *options) {
		o.tempDir = dir
	}
}

// Editor applies rewriters to files of one remote host.
type Editor struct {
	exec  remote.Executor
	owner string
	opts  options
}

// NewEditor returns an Editor giving rewritten files to owner (user:group).
func NewEditor(exec remote.Executor, owner string, opts ...Option) *Editor {
	o := options{
		tempDir: os.TempDir(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Editor{exec: exec, owner: owner, opts: o}
}

// Apply rewrites the remote file at remotePath with rw.
//
// The file is backed up, fetched, rewritten and validated locally. Only
// content passing validation is uploaded to a unique temporary path and
// moved over the original, so the original is either fully replaced or left
// untouched. The backup and local copy are removed in both cases.
func (e *Editor) Apply(ctx context.Context, remotePath string, rw Rewriter) (err error) {
	defer decorate.OnError(&err, "could not update %s", remotePath)

	backup := remotePath + ".bak"
	if _, err := e.exec.Run(ctx, fmt.Sprintf("cp %s %s", remotePath, backup), remote.Elevated()); err != nil {
		return err
	}

	replaced := false
	defer func() {
		if replaced && err != nil {
			slog.Warn("Keeping backup after a failed update", "file", remotePath, "backup", backup)
			return
		}
		if _, rmErr := e.exec.Run(ctx, "rm -f "+backup, remote.Elevated()); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
	}()

	local, err := os.CreateTemp(e.opts.tempDir, path.Base(remotePath)+".*")
	if err != nil {
		return fmt.Errorf("could not create local copy: %v", err)
	}
	_ = local.Close()
	defer fileutils.RemoveLogError(local.Name())

	if err := e.exec.Fetch(ctx, remotePath, local.Name()); err != nil {
		return err
	}
	data, err := os.ReadFile(local.Name())
	if err != nil {
		return fmt.Errorf("could not read local copy: %v", err)
	}

	doc, err := Parse(remotePath, data)
	if err != nil {
		return err
	}
	if err := rw.Rewrite(doc); err != nil {
		return err
	}
	out, err := doc.Serialize()
	if err != nil {
		return err
	}

	problems, err := rw.Validate(out)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return &ValidationError{File: remotePath, Missing: problems}
	}

	if err := fileutils.AtomicWrite(local.Name(), out, 0600); err != nil {
		return err
	}

	staged := fmt.Sprintf("/tmp/%s.%s", path.Base(remotePath), e.opts.newID())
	if err := e.exec.Upload(ctx, local.Name(), staged); err != nil {
		return err
	}
	if _, err := e.exec.Run(ctx, fmt.Sprintf("mv %s %s", staged, remotePath), remote.Elevated()); err != nil {
		if _, rmErr := e.exec.Run(ctx, "rm -f "+staged, remote.Elevated()); rmErr != nil {
			slog.Warn("Failed to remove staged file", "file", staged, "error", rmErr)
		}
		return err
	}
	replaced = true

	if _, err := e.exec.Run(ctx, fmt.Sprintf("chown %s %s", e.owner, remotePath), remote.Elevated()); err != nil {
		return err
	}

	slog.Info("Updated configuration file", "file", remotePath)
	return nil
}
