package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	dterrors "github.com/davidroman0O/dutssh/errors"
	"github.com/davidroman0O/dutssh/pkg/config"
)

// startSFTP serves root over an in-memory pipe and returns a client for it
func startSFTP(t *testing.T, root string) *sftp.Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	server, err := sftp.NewServer(serverConn, sftp.WithServerWorkingDirectory(root))
	require.NoError(t, err)
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client
}

func newTestNative(t *testing.T) (*Native, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	n := NewNative(&config.SSHConfig{Transport: config.TransportNative})
	n.Stdin = strings.NewReader("")
	n.Stdout = &out
	n.Stderr = &out
	n.dial = func(host string) (*ssh.Client, error) {
		return nil, fmt.Errorf("no network in tests: %s", host)
	}
	return n, &out
}

func TestNativeFileOperations(t *testing.T) {
	root := t.TempDir()
	n, _ := newTestNative(t)
	n.files["lab-host-1"] = startSFTP(t, root)
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, os.WriteFile(local, []byte("kernel+ramdisk"), 0o644))

	require.NoError(t, n.MkdirAll(ctx, "lab-host-1", "lava-fastboot"))
	require.NoError(t, n.MkdirAll(ctx, "lab-host-1", "lava-fastboot"), "existing directory is fine")
	require.NoError(t, n.Upload(ctx, "lab-host-1", local, "lava-fastboot/boot.img"))

	data, err := os.ReadFile(filepath.Join(root, "lava-fastboot", "boot.img"))
	require.NoError(t, err)
	assert.Equal(t, "kernel+ramdisk", string(data))

	require.NoError(t, n.Remove(ctx, "lab-host-1", "lava-fastboot/boot.img"))
	_, err = os.Stat(filepath.Join(root, "lava-fastboot", "boot.img"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, n.Remove(ctx, "lab-host-1", "lava-fastboot/boot.img"), "removing a missing file is fine")
}

func TestNativeUploadMissingLocalFile(t *testing.T) {
	n, _ := newTestNative(t)
	n.files["lab-host-1"] = startSFTP(t, t.TempDir())

	err := n.Upload(context.Background(), "lab-host-1", "/nonexistent/boot.img", "boot.img")
	require.Error(t, err)
	assert.Equal(t, dterrors.ErrUnexpected, dterrors.GetCode(err))
}

func TestNativeUploadCancelled(t *testing.T) {
	root := t.TempDir()
	n, _ := newTestNative(t)
	n.files["lab-host-1"] = startSFTP(t, root)

	local := filepath.Join(t.TempDir(), "system.img")
	require.NoError(t, os.WriteFile(local, bytes.Repeat([]byte{0x5a}, 1<<16), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.Upload(ctx, "lab-host-1", local, "system.img")
	require.Error(t, err)
	assert.True(t, dterrors.IsInterrupted(err))
	_, statErr := os.Stat(filepath.Join(root, "system.img"))
	assert.True(t, os.IsNotExist(statErr), "partial upload must be removed")
}

// closeFailingWriter accepts every write and fails the final close, like a
// remote disk filling up before the last buffer is flushed
type closeFailingWriter struct{}

func (closeFailingWriter) WriteAt(p []byte, _ int64) (int, error) { return len(p), nil }
func (closeFailingWriter) Close() error { return errors.New("disk quota exceeded") }

type closeFailingPut struct{}

func (closeFailingPut) Filewrite(*sftp.Request) (io.WriterAt, error) { return closeFailingWriter{}, nil }

func TestNativeUploadReportsCloseFailure(t *testing.T) {
	handlers := sftp.InMemHandler()
	handlers.FilePut = closeFailingPut{}

	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, handlers)
	go func() { _ = server.Serve() }()
	client, err := sftp.NewClientPipe(clientConn, clientConn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	n, _ := newTestNative(t)
	n.files["lab-host-1"] = client

	local := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, os.WriteFile(local, []byte("kernel+ramdisk"), 0o644))

	err = n.Upload(context.Background(), "lab-host-1", local, "/boot.img")
	require.Error(t, err)
	assert.Equal(t, dterrors.ErrUnexpected, dterrors.GetCode(err))
	assert.Contains(t, err.Error(), "failed to finish remote file /boot.img")
}

func TestNativeDialFailure(t *testing.T) {
	n, _ := newTestNative(t)

	err := n.Run(context.Background(), "lab-host-1", "true")
	require.Error(t, err)
	assert.Equal(t, dterrors.ExitFault, dterrors.ExitCode(err))
	assert.Contains(t, err.Error(), "lab-host-1")
}

func TestNativeClosed(t *testing.T) {
	n, _ := newTestNative(t)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	err := n.Shell(context.Background(), "lab-host-1", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

// startSSHServer runs a minimal exec-only SSH server. Commands of the form
// "exit N" end with status N, "sleep" waits for a signal or channel close,
// anything else is echoed back with status 0.
func startSSHServer(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	serverCfg := &ssh.ServerConfig{NoClientAuth: true}
	serverCfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(conn, serverCfg)
		}
	}()
	return ln.Addr().String()
}

func serveSSHConn(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			_ = req.Reply(true, nil)

			if payload.Command == "sleep" {
				for r := range requests {
					if r.Type == "signal" {
						sendExitStatus(ch, 130)
						return
					}
				}
				return
			}

			status := 0
			if rest, ok := strings.CutPrefix(payload.Command, "exit "); ok {
				status, _ = strconv.Atoi(rest)
			} else {
				fmt.Fprintf(ch, "ran: %s\n", payload.Command)
			}
			sendExitStatus(ch, status)
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func sendExitStatus(ch ssh.Channel, status int) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
}

func nativeAgainst(t *testing.T, addr string) (*Native, *bytes.Buffer) {
	n, out := newTestNative(t)
	n.dial = func(string) (*ssh.Client, error) {
		return ssh.Dial("tcp", addr, &ssh.ClientConfig{
			User:            "lava",
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		})
	}
	t.Cleanup(func() { _ = n.Close() })
	return n, out
}

func TestNativeSessions(t *testing.T) {
	addr := startSSHServer(t)
	n, out := nativeAgainst(t, addr)
	ctx := context.Background()

	require.NoError(t, n.Shell(ctx, "lab-host-1", "relayctl 1 on | tee /tmp/log"))
	assert.Equal(t, "ran: relayctl 1 on | tee /tmp/log\n", out.String())

	out.Reset()
	require.NoError(t, n.Run(ctx, "lab-host-1", "fastboot", "-s", "1234", "oem", "hello world"))
	assert.Equal(t, "ran: fastboot -s 1234 oem 'hello world'\n", out.String())

	err := n.Shell(ctx, "lab-host-1", "exit 7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dterrors.SubprocessFailed))
	assert.Equal(t, 7, dterrors.ExitCode(err))

	assert.Len(t, n.clients, 1, "one connection per host is reused")
}

func TestNativeSessionInterrupted(t *testing.T) {
	addr := startSSHServer(t)
	n, _ := nativeAgainst(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := n.Run(ctx, "lab-host-1", "sleep")
	require.Error(t, err)
	assert.Equal(t, dterrors.ExitInterrupted, dterrors.ExitCode(err))
}

func TestSessionErrorMapping(t *testing.T) {
	assert.NoError(t, sessionError("true", nil))

	err := sessionError("x", &ssh.ExitMissingError{})
	assert.Equal(t, dterrors.ErrUnexpected, dterrors.GetCode(err))

	err = sessionError("x", errors.New("connection reset"))
	assert.Equal(t, dterrors.ExitFault, dterrors.ExitCode(err))

	assert.Equal(t, 15, signalNumber("TERM"))
	assert.Equal(t, 0, signalNumber("BOGUS"))
}

func writeKey(t *testing.T, dir string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "test")
	require.NoError(t, err)

	path := filepath.Join(dir, "id_test")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestAuthMethods(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	dir := t.TempDir()

	auths, err := authMethods(writeKey(t, dir))
	require.NoError(t, err)
	assert.Len(t, auths, 1)

	_, err = authMethods(filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load key")

	t.Setenv("HOME", t.TempDir())
	_, err = authMethods("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ssh identity")
}

func TestHostKeyCallback(t *testing.T) {
	dir := t.TempDir()

	cb, err := hostKeyCallback(filepath.Join(dir, "known_hosts"), false)
	require.NoError(t, err)
	assert.NotNil(t, cb)

	_, err = hostKeyCallback(filepath.Join(dir, "known_hosts"), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict_host_key")

	path := filepath.Join(dir, "known_hosts")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	cb, err = hostKeyCallback(path, true)
	require.NoError(t, err)
	assert.NotNil(t, cb)
}

func TestClientConfigUser(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	key := writeKey(t, t.TempDir())
	strict := false

	n := NewNative(&config.SSHConfig{User: "lava", IdentityFile: key, StrictHost: &strict})

	cfg, err := n.clientConfig(Target{Host: "lab-host-1"})
	require.NoError(t, err)
	assert.Equal(t, "lava", cfg.User)

	cfg, err = n.clientConfig(Target{User: "root", Host: "lab-host-1"})
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.User)
	assert.Equal(t, 22, n.port())
}
