package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	sshcfg "github.com/kevinburke/ssh_config"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultCommandTimeout = 60 * time.Second

// Config describes one SSH connection. Host is required; everything else
// falls back to ~/.ssh/config and then to package defaults.
type Config struct {
	Host                  string
	User                  string
	Port                  string
	KeyPath               string
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	// CommandTimeout bounds each individual Run and Upload. Zero means the
	// package default.
	CommandTimeout time.Duration
}

// Client is the ssh-backed Session implementation.
type Client struct {
	client  *ssh.Client
	sftp    *sftp.Client
	timeout time.Duration
}

// Dial opens an authenticated connection to cfg.Host. It satisfies the
// Dialer type.
func Dial(cfg Config) (Session, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrTransport)
	}

	sshConfig, err := clientConfig(host, cfg)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(hostName(host), port(host, cfg.Port))

	conn, err := net.DialTimeout("tcp", addr, sshConfig.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrTransport, addr, err)
	}

	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &Client{
		client:  ssh.NewClient(clientConn, chans, reqs),
		timeout: timeout,
	}, nil
}

// Run executes one command in a fresh ssh session. The command's exit code
// and separated stdout/stderr come back in the Result; only channel-level
// failures are errors.
func (c *Client) Run(ctx context.Context, cmd Command) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := c.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("%w: new session: %v", ErrTransport, err)
	}
	defer session.Close()

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd.String())
	}()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return Result{}, fmt.Errorf("%w: %s: %v", ErrTransport, cmd.Name, ctx.Err())
	case err = <-done:
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	return result, fmt.Errorf("%w: run %s: %v", ErrTransport, cmd.Name, err)
}

// Upload copies a local file to remotePath over SFTP on the same
// connection. A leading ~/ is rewritten to a home-relative path, which is
// how the SFTP server resolves relative names.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ftp, err := c.sftpClient()
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrTransport, localPath, err)
	}
	defer src.Close()

	target := strings.TrimPrefix(remotePath, "~/")
	done := make(chan error, 1)
	go func() {
		dst, err := ftp.Create(target)
		if err != nil {
			done <- fmt.Errorf("%w: create %s: %v", ErrTransport, target, err)
			return
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			done <- fmt.Errorf("%w: copy to %s: %v", ErrTransport, target, err)
			return
		}
		done <- dst.Close()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: upload %s: %v", ErrTransport, target, ctx.Err())
	case err = <-done:
		return err
	}
}

// Close shuts the connection down, aggregating closer errors.
func (c *Client) Close() error {
	var errs error
	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := c.client.Close(); err != nil && !errors.Is(err, io.EOF) {
		errs = multierror.Append(errs, err)
	}
	return errs
}

func (c *Client) sftpClient() (*sftp.Client, error) {
	if c.sftp != nil {
		return c.sftp, nil
	}
	ftp, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("%w: sftp subsystem: %v", ErrTransport, err)
	}
	c.sftp = ftp
	return ftp, nil
}

func clientConfig(host string, cfg Config) (*ssh.ClientConfig, error) {
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		user = sshcfg.Get(host, "User")
	}
	if user == "" {
		return nil, fmt.Errorf("%w: user is required", ErrTransport)
	}

	signer, err := signer(host, cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if cfg.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		hostKeyCallback, err = knownHostsCallback(cfg.KnownHostsPath)
		if err != nil {
			return nil, err
		}
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}, nil
}

// signer loads the private key: the explicit path if given, else the
// IdentityFile from ~/.ssh/config, else ~/.ssh/id_rsa.
func signer(host, keyPath string) (ssh.Signer, error) {
	kf := strings.TrimSpace(keyPath)
	if kf == "" {
		kf = sshcfg.Get(host, "IdentityFile")
	}
	if kf == "" {
		kf = "~/.ssh/id_rsa"
	}
	if strings.HasPrefix(kf, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: resolve key path %q: %v", ErrTransport, kf, err)
		}
		kf = filepath.Join(home, kf[2:])
	}

	key, err := os.ReadFile(kf)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key %s: %v", ErrTransport, kf, err)
	}
	s, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key %s: %v", ErrTransport, kf, err)
	}
	return s, nil
}

func knownHostsCallback(path string) (ssh.HostKeyCallback, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: known hosts path not set and home dir unavailable", ErrTransport)
		}
		p = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(p)
	if err != nil {
		return nil, fmt.Errorf("%w: known hosts %s: %v", ErrTransport, p, err)
	}
	return callback, nil
}

// hostName resolves the connect address for a host alias from ~/.ssh/config.
func hostName(host string) string {
	if h := sshcfg.Get(host, "HostName"); h != "" {
		return h
	}
	return host
}

func port(host, explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := sshcfg.Get(host, "Port"); p != "" {
		return p
	}
	return "22"
}
