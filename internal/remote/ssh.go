package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/user"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/michr/ops-toolkit/internal/constants"
	"github.com/pkg/sftp"
	"github.com/ubuntu/decorate"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultDialTimeout = 10 * time.Second

type dialOptions struct {
	sshConfigPath  string
	knownHostsPath string
	defaultKeyPath string
	timeout        time.Duration
	currentUser    func() (string, error)
}

// Option configures an SSHDialer.
type Option func(*dialOptions)

// WithSSHConfig sets the ssh client configuration file used for host resolution.
func WithSSHConfig(path string) Option {
	return func(o *dialOptions) {
		o.sshConfigPath = path
	}
}

// WithKnownHosts sets the known hosts file used to verify host keys.
func WithKnownHosts(path string) Option {
	return func(o *dialOptions) {
		o.knownHostsPath = path
	}
}

// WithDefaultKey sets the identity file used when the ssh configuration names none.
func WithDefaultKey(path string) Option {
	return func(o *dialOptions) {
		o.defaultKeyPath = path
	}
}

// WithTimeout sets the connection timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *dialOptions) {
		o.timeout = d
	}
}

// SSHDialer opens SSH sessions resolving servers the same way the ssh command line does.
type SSHDialer struct {
	opts dialOptions
}

// NewSSHDialer returns a dialer reading the user ssh configuration.
func NewSSHDialer(opts ...Option) *SSHDialer {
	o := dialOptions{
		sshConfigPath:  constants.DefaultSSHConfigPath,
		knownHostsPath: constants.DefaultKnownHostsPath,
		defaultKeyPath: constants.DefaultSSHKeyPath,
		timeout:        defaultDialTimeout,
		currentUser: func() (string, error) {
			u, err := user.Current()
			if err != nil {
				return "", err
			}
			return u.Username, nil
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &SSHDialer{opts: o}
}

type hostConfig struct {
	hostName string
	port     string
	user     string
	keyPath  string
}

// resolve maps a logical server name to its connection parameters.
func (d *SSHDialer) resolve(server string) (h hostConfig, err error) {
	defer decorate.OnError(&err, "could not resolve ssh parameters for %s", server)

	h = hostConfig{hostName: server, port: "22", keyPath: d.opts.defaultKeyPath}

	f, err := os.Open(constants.ExpandHome(d.opts.sshConfigPath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return h, err
	}
	if err == nil {
		defer f.Close()
		cfg, err := ssh_config.Decode(f)
		if err != nil {
			return h, err
		}
		if v, _ := cfg.Get(server, "HostName"); v != "" {
			h.hostName = v
		}
		if v, _ := cfg.Get(server, "Port"); v != "" {
			h.port = v
		}
		if v, _ := cfg.Get(server, "User"); v != "" {
			h.user = v
		}
		if v, _ := cfg.GetAll(server, "IdentityFile"); len(v) > 0 && v[0] != "" {
			h.keyPath = v[0]
		}
	}

	if h.user == "" {
		if h.user, err = d.opts.currentUser(); err != nil {
			return h, err
		}
	}
	h.keyPath = constants.ExpandHome(h.keyPath)

	return h, nil
}

func (d *SSHDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := constants.ExpandHome(d.opts.knownHostsPath)
	cb, err := knownhosts.New(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("No known hosts file, host keys will not be verified", "file", path)
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // Same behavior as a first ssh connection.
	}
	if err != nil {
		return nil, fmt.Errorf("could not load known hosts: %v", err)
	}
	return cb, nil
}

// Dial opens a session to server.
func (d *SSHDialer) Dial(ctx context.Context, server string) (c Conn, err error) {
	defer decorate.OnError(&err, "failed to connect to %s", server)

	h, err := d.resolve(server)
	if err != nil {
		return nil, err
	}

	key, err := os.ReadFile(h.keyPath)
	if err != nil {
		return nil, fmt.Errorf("could not read identity file: %v", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("could not parse identity file %s: %v", h.keyPath, err)
	}

	hostKeys, err := d.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            h.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         d.opts.timeout,
	}

	addr := net.JoinHostPort(h.hostName, h.port)
	slog.Info("Connecting", "server", server, "host", h.hostName, "user", h.user)

	nd := net.Dialer{Timeout: d.opts.timeout}
	netConn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	sc, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}

	return &Client{server: server, ssh: ssh.NewClient(sc, chans, reqs)}, nil
}

// Client is an open SSH session to one server.
type Client struct {
	server string
	ssh    *ssh.Client

	sftpOnce sync.Once
	sftp     *sftp.Client
	sftpErr  error
}

// Run executes command and returns its combined output.
func (c *Client) Run(ctx context.Context, command string, opts ...RunOption) (string, error) {
	command = BuildCommand(command, opts...)
	out, code, err := c.exec(ctx, command)
	if err != nil {
		return out, err
	}
	if code != 0 {
		return out, &CommandError{Command: command, ExitCode: code, Output: out}
	}
	return out, nil
}

// ExitStatus executes command and returns its exit code.
func (c *Client) ExitStatus(ctx context.Context, command string, opts ...RunOption) (int, error) {
	_, code, err := c.exec(ctx, BuildCommand(command, opts...))
	return code, err
}

func (c *Client) exec(ctx context.Context, command string) (string, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	sess, err := c.ssh.NewSession()
	if err != nil {
		return "", 0, fmt.Errorf("could not open session on %s: %v", c.server, err)
	}
	defer sess.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Close()
		case <-done:
		}
	}()

	slog.Debug("Running remote command", "server", c.server, "command", command)
	out, err := sess.CombinedOutput(command)

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitStatus(), nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return string(out), 0, ctx.Err()
		}
		return string(out), 0, fmt.Errorf("could not run %q on %s: %v", command, c.server, err)
	}
	return string(out), 0, nil
}

func (c *Client) sftpClient() (*sftp.Client, error) {
	c.sftpOnce.Do(func() {
		c.sftp, c.sftpErr = sftp.NewClient(c.ssh)
	})
	return c.sftp, c.sftpErr
}

// Fetch copies remotePath to localPath over SFTP.
func (c *Client) Fetch(ctx context.Context, remotePath, localPath string) (err error) {
	defer func() {
		if err != nil {
			err = &TransferError{Op: "fetch", Path: remotePath, Err: err}
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	sc, err := c.sftpClient()
	if err != nil {
		return err
	}

	src, err := sc.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// Upload copies localPath to remotePath over SFTP.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) (err error) {
	defer func() {
		if err != nil {
			err = &TransferError{Op: "upload", Path: remotePath, Err: err}
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	sc, err := c.sftpClient()
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := sc.Create(remotePath)
	if err != nil {
		return err
	}
	if _, err := dst.ReadFrom(src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// Close ends the session.
func (c *Client) Close() error {
	var errs []error
	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.ssh.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
