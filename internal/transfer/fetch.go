// Package transfer copies a registered file from the device that holds it
// over SSH, and manages the key pair used for that.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tonimelisma/tower/internal/registry"
)

// DefaultDialTimeout bounds the TCP connect and SSH handshake.
const DefaultDialTimeout = 15 * time.Second

// ErrNoAddress is returned when a record lacks the device address or user
// needed to reach it.
var ErrNoAddress = errors.New("transfer: record has no device address")

// RemoteError is returned when the remote copy command fails.
type RemoteError struct {
	Path   string
	Status int
	Stderr string
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("transfer: reading %s on remote device failed (exit status %d)", e.Path, e.Status)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}

	return msg
}

// Config holds the options for NewFetcher.
type Config struct {
	KeyPath               string // private key used to authenticate
	Port                  int    // SSH port on every device
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	DialTimeout           time.Duration // zero uses DefaultDialTimeout
	Logger                *slog.Logger
}

// Fetcher copies files from remote devices.
type Fetcher struct {
	cfg    Config
	logger *slog.Logger
}

// NewFetcher creates a Fetcher. Keys and known hosts are read on each Fetch.
func NewFetcher(cfg *Config) *Fetcher {
	c := *cfg
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{cfg: c, logger: logger}
}

// Result describes a completed fetch.
type Result struct {
	Path  string // final local path
	Bytes int64
}

// Fetch streams rec's file from its device into dest. When dest is an
// existing directory, or empty, the file is placed inside it under the
// record's file name. Data lands in a temp file next to the destination that
// is renamed into place only after the whole file arrived.
func (f *Fetcher) Fetch(ctx context.Context, rec *registry.FileRecord, dest string) (*Result, error) {
	if rec.DeviceIP == "" || rec.DeviceUser == "" {
		return nil, fmt.Errorf("%w: id %d (%s)", ErrNoAddress, rec.ID, rec.FileName)
	}

	target, err := resolveDest(dest, rec.FileName)
	if err != nil {
		return nil, err
	}

	client, err := f.dial(ctx, rec.DeviceUser, rec.DeviceIP)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	// Closing the connection unblocks a copy in progress when ctx ends.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	n, err := f.copyRemote(client, rec.AbsolutePath, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transfer: fetching %s: %w", rec.AbsolutePath, ctx.Err())
		}

		return nil, err
	}

	if !rec.LastModifiedTime.IsZero() {
		mtime := rec.LastModifiedTime.Time
		if err := os.Chtimes(target, mtime, mtime); err != nil {
			f.logger.Warn("cannot set modification time",
				slog.String("path", target),
				slog.String("error", err.Error()),
			)
		}
	}

	f.logger.Info("file fetched",
		slog.String("device", rec.Device),
		slog.String("remote_path", rec.AbsolutePath),
		slog.String("local_path", target),
		slog.Int64("bytes", n),
	)

	return &Result{Path: target, Bytes: n}, nil
}

func (f *Fetcher) dial(ctx context.Context, user, host string) (*ssh.Client, error) {
	signer, err := loadSigner(f.cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := f.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(f.cfg.Port))

	clientCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         f.cfg.DialTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, f.cfg.DialTimeout)
	defer cancel()

	var d net.Dialer

	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transfer: connecting to %s: %w", addr, err)
	}

	// Bound the handshake by the same deadline as the dial.
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transfer: ssh handshake with %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Time{})

	f.logger.Debug("ssh connected", slog.String("addr", addr), slog.String("user", user))

	return ssh.NewClient(c, chans, reqs), nil
}

func (f *Fetcher) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if f.cfg.InsecureIgnoreHostKey {
		f.logger.Warn("host key verification disabled")
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-in via transfer.insecure_ignore_host_key
	}

	cb, err := knownhosts.New(f.cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("transfer: loading known hosts %s: %w", f.cfg.KnownHostsPath, err)
	}

	return cb, nil
}

// copyRemote runs cat on the remote path and writes its output to a temp
// file that replaces target on success.
func (f *Fetcher) copyRemote(client *ssh.Client, remotePath, target string) (int64, error) {
	session, err := client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("transfer: opening session: %w", err)
	}
	defer session.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tower-*.partial")
	if err != nil {
		return 0, fmt.Errorf("transfer: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpPath)
		}
	}()

	counter := &countingWriter{w: tmp}

	var stderr bytes.Buffer

	session.Stdout = counter
	session.Stderr = &stderr

	runErr := session.Run("cat -- " + shellQuote(remotePath))

	if err := tmp.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("transfer: closing temp file: %w", err)
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			return 0, &RemoteError{
				Path:   remotePath,
				Status: exitErr.ExitStatus(),
				Stderr: strings.TrimSpace(stderr.String()),
			}
		}

		return 0, fmt.Errorf("transfer: reading %s: %w", remotePath, runErr)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		return 0, fmt.Errorf("transfer: renaming into place: %w", err)
	}

	succeeded = true

	return counter.n, nil
}

// resolveDest maps the user's destination argument to a file path.
func resolveDest(dest, fileName string) (string, error) {
	if fileName == "" || fileName != filepath.Base(fileName) || fileName == "." || fileName == ".." {
		return "", fmt.Errorf("transfer: refusing unsafe file name %q", fileName)
	}

	if dest == "" {
		dest = "."
	}

	info, err := os.Stat(dest)

	switch {
	case err == nil && info.IsDir():
		return filepath.Join(dest, fileName), nil
	case err == nil:
		return dest, nil
	case errors.Is(err, fs.ErrNotExist):
		if strings.HasSuffix(dest, string(filepath.Separator)) {
			return "", fmt.Errorf("transfer: destination directory %s does not exist", dest)
		}

		return dest, nil
	default:
		return "", fmt.Errorf("transfer: checking destination %s: %w", dest, err)
	}
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}
