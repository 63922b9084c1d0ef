package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	dterrors "github.com/davidroman0O/dutssh/errors"
	"github.com/davidroman0O/dutssh/pkg/config"
	"github.com/davidroman0O/dutssh/pkg/executor"
)

// Native implements Transport over golang.org/x/crypto/ssh, with file
// operations on SFTP. One connection is kept per host until Close.
type Native struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	cfg  *config.SSHConfig
	dial func(host string) (*ssh.Client, error)

	mu      sync.Mutex
	clients map[string]*ssh.Client
	files   map[string]*sftp.Client
	closed  bool
}

// NewNative creates a Native transport attached to the process's stdio
func NewNative(cfg *config.SSHConfig) *Native {
	if cfg == nil {
		cfg = &config.SSHConfig{}
	}
	n := &Native{
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		cfg:     cfg,
		clients: make(map[string]*ssh.Client),
		files:   make(map[string]*sftp.Client),
	}
	n.dial = n.dialHost
	return n
}

// client returns the cached connection to host, dialing it on first use
func (n *Native) client(host string) (*ssh.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, fmt.Errorf("transport is closed")
	}
	if c, ok := n.clients[host]; ok {
		return c, nil
	}

	c, err := n.dial(host)
	if err != nil {
		return nil, dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to connect to "+host)
	}
	n.clients[host] = c
	return c, nil
}

// sftpClient returns the cached SFTP client for host
func (n *Native) sftpClient(host string) (*sftp.Client, error) {
	n.mu.Lock()
	fc, ok := n.files[host]
	n.mu.Unlock()
	if ok {
		return fc, nil
	}

	c, err := n.client(host)
	if err != nil {
		return nil, err
	}

	fc, err = sftp.NewClient(c)
	if err != nil {
		return nil, dterrors.Wrap(err, dterrors.ErrUnexpected, "sftp client creation failed")
	}

	n.mu.Lock()
	n.files[host] = fc
	n.mu.Unlock()
	return fc, nil
}

// Shell implements Transport. When stdin is a terminal the session gets a
// PTY and the local terminal is switched to raw mode for the duration.
func (n *Native) Shell(ctx context.Context, host, template string) error {
	return n.session(ctx, host, template, true)
}

// Run implements Transport
func (n *Native) Run(ctx context.Context, host string, argv ...string) error {
	return n.session(ctx, host, executor.QuoteAll(argv), false)
}

func (n *Native) session(ctx context.Context, host, command string, interactive bool) error {
	c, err := n.client(host)
	if err != nil {
		return err
	}

	session, err := c.NewSession()
	if err != nil {
		return dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to create session")
	}
	defer session.Close()

	session.Stdin = n.Stdin
	session.Stdout = n.Stdout
	session.Stderr = n.Stderr

	if interactive {
		restore, err := n.attachTerminal(session)
		if err != nil {
			return dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to set up terminal")
		}
		defer restore()
	}

	log.Printf("[SSH] %s: %s", host, command)
	if err := session.Start(command); err != nil {
		return dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to start remote command")
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err := <-done:
		return sessionError(command, err)
	case <-ctx.Done():
		log.Printf("[SSH] Interrupt, forwarding SIGINT to %s", host)
		_ = session.Signal(ssh.SIGINT)
		// Closing the channel unblocks Wait even if the server ignores signals
		_ = session.Close()
		<-done
		return dterrors.Wrap(ctx.Err(), dterrors.ErrInterrupted, "interrupted: "+command)
	}
}

// attachTerminal requests a PTY sized like the local terminal and puts the
// local terminal in raw mode. It is a no-op when stdin is not a terminal.
func (n *Native) attachTerminal(session *ssh.Session) (func(), error) {
	f, ok := n.Stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() {}, nil
	}
	fd := int(f.Fd())

	width, height, err := term.GetSize(fd)
	if err != nil {
		width, height = 80, 24
	}
	termType := os.Getenv("TERM")
	if termType == "" {
		termType = "xterm"
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty(termType, height, width, modes); err != nil {
		return nil, err
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, state) }, nil
}

// sessionError maps the result of session.Wait to the coded errors
func sessionError(command string, err error) error {
	if err == nil {
		return nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		if sig := exitErr.Signal(); sig != "" {
			if sig == string(ssh.SIGINT) {
				return dterrors.Wrap(err, dterrors.ErrInterrupted, "interrupted: "+command)
			}
			return dterrors.Subprocess(command, 128+signalNumber(sig))
		}
		return dterrors.Subprocess(command, exitErr.ExitStatus())
	}

	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return dterrors.Wrap(err, dterrors.ErrUnexpected, "remote command ended without exit status")
	}
	return dterrors.Wrap(err, dterrors.ErrUnexpected, "remote command failed")
}

var signalNumbers = map[string]int{
	"HUP": 1, "INT": 2, "QUIT": 3, "ILL": 4, "ABRT": 6, "FPE": 8,
	"KILL": 9, "SEGV": 11, "PIPE": 13, "ALRM": 14, "TERM": 15, "USR1": 10, "USR2": 12,
}

func signalNumber(name string) int {
	if n, ok := signalNumbers[name]; ok {
		return n
	}
	return 0
}

// MkdirAll implements Transport
func (n *Native) MkdirAll(ctx context.Context, host, dir string) error {
	if err := ctx.Err(); err != nil {
		return dterrors.Wrap(err, dterrors.ErrInterrupted, "interrupted")
	}
	fc, err := n.sftpClient(host)
	if err != nil {
		return err
	}

	if err := fc.MkdirAll(dir); err != nil {
		if info, statErr := fc.Stat(dir); statErr != nil || !info.IsDir() {
			return dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to create remote directory "+dir)
		}
		log.Printf("[SFTP] Remote directory %s already exists", dir)
	}
	return nil
}

// Upload implements Transport. A partially written remote file is removed.
func (n *Native) Upload(ctx context.Context, host, local, remote string) error {
	fc, err := n.sftpClient(host)
	if err != nil {
		return err
	}

	src, err := os.Open(local)
	if err != nil {
		return dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to open local file "+local)
	}
	defer src.Close()

	log.Printf("[SFTP] Uploading %s to %s:%s", local, host, remote)
	dst, err := fc.Create(remote)
	if err != nil {
		return dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to create remote file "+path.Clean(remote))
	}

	copied, err := io.Copy(dst, &contextReader{ctx: ctx, r: src})
	if err != nil {
		_ = dst.Close()
		_ = fc.Remove(remote)
		if ctx.Err() != nil {
			return dterrors.Wrap(err, dterrors.ErrInterrupted, "upload interrupted")
		}
		return dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to copy file content")
	}

	// Close flushes the last write; a failure leaves a truncated file
	if err := dst.Close(); err != nil {
		_ = fc.Remove(remote)
		return dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to finish remote file "+remote)
	}

	log.Printf("[SFTP] Copied %d bytes to %s", copied, remote)
	return nil
}

// Remove implements Transport. Missing files are not an error.
func (n *Native) Remove(ctx context.Context, host, remote string) error {
	fc, err := n.sftpClient(host)
	if err != nil {
		return err
	}
	if err := fc.Remove(remote); err != nil && !errors.Is(err, os.ErrNotExist) {
		return dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to remove remote file "+remote)
	}
	return nil
}

// Close implements Transport
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	var errs []error
	for host, fc := range n.files {
		if err := fc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sftp %s: %w", host, err))
		}
	}
	for host, c := range n.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ssh %s: %w", host, err))
		}
	}
	return errors.Join(errs...)
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
