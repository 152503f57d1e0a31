// Package testutils provides an in-memory remote host for tests.
package testutils

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/michr/ops-toolkit/internal/remote"
)

// Response is a scripted command result.
type Response struct {
	Output   string
	ExitCode int
	Err      error
	// Files are created on the host when the response is returned.
	Files map[string]string
}

type script struct {
	match     string
	responses []Response
	calls     int
}

// FakeHost is an in-memory remote.Conn.
//
// Files and directories are kept in maps. The commands cp, mv, rm, mkdir and
// test -d operate on them. Any other command succeeds with no output unless it was
// scripted with On.
type FakeHost struct {
	mu sync.Mutex

	files    map[string]string
	dirs     map[string]bool
	scripts  []*script
	commands []string

	// FetchErr and UploadErr make transfers fail.
	FetchErr  error
	UploadErr error

	closed bool
}

// NewFakeHost returns an empty host.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		files: make(map[string]string),
		dirs:  make(map[string]bool),
	}
}

// On scripts the commands containing match. Responses are returned in order,
// the last one repeating. Scripts take precedence over built-in commands and
// over the scripts registered before them.
func (h *FakeHost) On(match string, responses ...Response) *FakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(responses) == 0 {
		responses = []Response{{}}
	}
	h.scripts = append(h.scripts, &script{match: match, responses: responses})
	return h
}

// SetFile stores a file on the host.
func (h *FakeHost) SetFile(p, content string) *FakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[p] = content
	return h
}

// File returns the content of p and whether it exists.
func (h *FakeHost) File(p string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.files[p]
	return c, ok
}

// Files returns a copy of every stored file keyed by path.
func (h *FakeHost) Files() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := make(map[string]string, len(h.files))
	for k, v := range h.files {
		r[k] = v
	}
	return r
}

// AddDir marks p as an existing directory.
func (h *FakeHost) AddDir(p string) *FakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirs[p] = true
	return h
}

// Commands returns every command run on the host, as sent.
func (h *FakeHost) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

// Closed reports whether Close was called.
func (h *FakeHost) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Run implements remote.Executor.
func (h *FakeHost) Run(ctx context.Context, command string, opts ...remote.RunOption) (string, error) {
	command = remote.BuildCommand(command, opts...)
	r := h.exec(command)
	if r.Err != nil {
		return r.Output, r.Err
	}
	if r.ExitCode != 0 {
		return r.Output, &remote.CommandError{Command: command, ExitCode: r.ExitCode, Output: r.Output}
	}
	return r.Output, nil
}

// ExitStatus implements remote.Executor.
func (h *FakeHost) ExitStatus(ctx context.Context, command string, opts ...remote.RunOption) (int, error) {
	r := h.exec(remote.BuildCommand(command, opts...))
	return r.ExitCode, r.Err
}

// Fetch implements remote.Executor.
func (h *FakeHost) Fetch(ctx context.Context, remotePath, localPath string) error {
	h.mu.Lock()
	content, ok := h.files[remotePath]
	fetchErr := h.FetchErr
	h.mu.Unlock()

	if fetchErr != nil {
		return &remote.TransferError{Op: "fetch", Path: remotePath, Err: fetchErr}
	}
	if !ok {
		return &remote.TransferError{Op: "fetch", Path: remotePath, Err: fs.ErrNotExist}
	}
	if err := os.WriteFile(localPath, []byte(content), 0600); err != nil {
		return &remote.TransferError{Op: "fetch", Path: remotePath, Err: err}
	}
	return nil
}

// Upload implements remote.Executor.
func (h *FakeHost) Upload(ctx context.Context, localPath, remotePath string) error {
	h.mu.Lock()
	uploadErr := h.UploadErr
	h.mu.Unlock()

	if uploadErr != nil {
		return &remote.TransferError{Op: "upload", Path: remotePath, Err: uploadErr}
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return &remote.TransferError{Op: "upload", Path: remotePath, Err: err}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[remotePath] = string(data)
	return nil
}

// Close implements io.Closer.
func (h *FakeHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *FakeHost) exec(command string) Response {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.commands = append(h.commands, command)

	for _, s := range slices.Backward(h.scripts) {
		if !strings.Contains(command, s.match) {
			continue
		}
		i := min(s.calls, len(s.responses)-1)
		s.calls++
		r := s.responses[i]
		for p, c := range r.Files {
			h.files[p] = c
		}
		return r
	}

	return h.builtin(strings.Fields(strings.TrimPrefix(command, "sudo ")))
}

// builtin emulates the filesystem commands. Callers hold the lock.
func (h *FakeHost) builtin(args []string) Response {
	if len(args) == 0 {
		return Response{}
	}

	switch args[0] {
	case "test":
		if len(args) == 3 && args[1] == "-d" {
			if h.dirs[args[2]] {
				return Response{}
			}
			return Response{ExitCode: 1}
		}
	case "cp":
		src, dst := args[len(args)-2], args[len(args)-1]
		if c, ok := h.files[src]; ok {
			h.files[dst] = c
			return Response{}
		}
		if h.dirs[strings.TrimSuffix(src, "/")] {
			return Response{}
		}
		return missing("cp", src)
	case "mv":
		src, dst := args[len(args)-2], args[len(args)-1]
		if dir, ok := strings.CutSuffix(src, "/*"); ok {
			return h.moveAll(dir, dst)
		}
		c, ok := h.files[src]
		if !ok {
			return missing("mv", src)
		}
		delete(h.files, src)
		h.files[dst] = c
		return Response{}
	case "rm":
		force := false
		var targets []string
		for _, a := range args[1:] {
			if strings.HasPrefix(a, "-") {
				force = force || strings.Contains(a, "f")
				continue
			}
			targets = append(targets, a)
		}
		for _, t := range targets {
			h.remove(t, force)
		}
		return Response{}
	case "mkdir":
		for _, a := range args[1:] {
			if !strings.HasPrefix(a, "-") {
				h.dirs[a] = true
			}
		}
		return Response{}
	}
	return Response{}
}

func (h *FakeHost) remove(target string, recursive bool) {
	target = strings.TrimSuffix(target, "/")
	if strings.HasSuffix(target, "/*") {
		target = strings.TrimSuffix(target, "/*")
		for p := range h.files {
			if strings.HasPrefix(p, target+"/") {
				delete(h.files, p)
			}
		}
		return
	}
	delete(h.files, target)
	if !recursive {
		return
	}
	delete(h.dirs, target)
	for p := range h.files {
		if strings.HasPrefix(p, target+"/") {
			delete(h.files, p)
		}
	}
	for d := range h.dirs {
		if strings.HasPrefix(d, target+"/") {
			delete(h.dirs, d)
		}
	}
}

// moveAll moves every file below dir into dst. Callers hold the lock.
func (h *FakeHost) moveAll(dir, dst string) Response {
	var moved bool
	for p, c := range h.files {
		rel, ok := strings.CutPrefix(p, dir+"/")
		if !ok {
			continue
		}
		delete(h.files, p)
		h.files[path.Join(dst, rel)] = c
		moved = true
	}
	if !moved {
		return missing("mv", dir+"/*")
	}
	return Response{}
}

func missing(cmd, p string) Response {
	return Response{
		ExitCode: 1,
		Output:   fmt.Sprintf("%s: cannot stat '%s': No such file or directory", cmd, path.Clean(p)),
	}
}

// Dialer hands out FakeHosts by server name.
type Dialer struct {
	mu       sync.Mutex
	hosts    map[string]*FakeHost
	failures map[string]error
	dialed   []string
}

// NewDialer returns a Dialer without any host.
func NewDialer() *Dialer {
	return &Dialer{
		hosts:    make(map[string]*FakeHost),
		failures: make(map[string]error),
	}
}

// Host returns the host for server, creating it when needed.
func (d *Dialer) Host(server string) *FakeHost {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hosts[server]
	if !ok {
		h = NewFakeHost()
		d.hosts[server] = h
	}
	return h
}

// FailDial makes the connection to server fail with err.
func (d *Dialer) FailDial(server string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[server] = err
}

// Dialed returns the servers connected to, in order.
func (d *Dialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

// Dial implements remote.Dialer.
func (d *Dialer) Dial(ctx context.Context, server string) (remote.Conn, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, server)
	err := d.failures[server]
	d.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", server, err)
	}
	return d.Host(server), nil
}

// ErrUnreachable is a convenience dial failure.
var ErrUnreachable = errors.New("host unreachable")
