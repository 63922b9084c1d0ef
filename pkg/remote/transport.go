// Package remote runs commands and moves files on a device's control host.
//
// Two transports are provided: OpenSSH drives the ssh and scp binaries through
// a local executor, Native speaks SSH and SFTP in-process. Both report remote
// failures with the coded errors of the errors package.
package remote

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	dterrors "github.com/davidroman0O/dutssh/errors"
	"github.com/davidroman0O/dutssh/pkg/config"
	"github.com/davidroman0O/dutssh/pkg/executor"
)

// Transport is the set of remote operations the dispatchers need
type Transport interface {
	// Shell runs a raw shell command line on host. The template reaches the
	// remote shell unmodified; callers own its contents.
	Shell(ctx context.Context, host, template string) error

	// Run runs a program with arguments on host. Arguments are quoted.
	Run(ctx context.Context, host string, argv ...string) error

	// MkdirAll creates dir and its parents on host
	MkdirAll(ctx context.Context, host, dir string) error

	// Upload copies the local file to remote on host
	Upload(ctx context.Context, host, local, remote string) error

	// Remove deletes remote on host
	Remove(ctx context.Context, host, remote string) error

	// Close releases connections held by the transport
	Close() error
}

// New builds the transport selected by cfg.Transport. exec is used by the
// OpenSSH transport to spawn ssh and scp.
func New(cfg *config.SSHConfig, exec executor.Executor) (Transport, error) {
	if cfg == nil {
		cfg = &config.SSHConfig{Transport: config.DefaultTransport}
	}

	switch cfg.Transport {
	case "", config.TransportOpenSSH:
		return NewOpenSSH(cfg, exec), nil
	case config.TransportNative:
		return NewNative(cfg), nil
	default:
		return nil, dterrors.Newf(dterrors.ErrUnexpected, "unknown ssh transport %q (want %s or %s)",
			cfg.Transport, config.TransportOpenSSH, config.TransportNative)
	}
}

// Target is a parsed [user@]host[:port] destination
type Target struct {
	User string
	Host string
	Port int
}

// ParseTarget splits a device host entry. Missing parts are left zero.
func ParseTarget(s string) (Target, error) {
	var t Target
	if s == "" {
		return t, fmt.Errorf("empty host")
	}

	if i := strings.LastIndex(s, "@"); i >= 0 {
		t.User, s = s[:i], s[i+1:]
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// No port, possibly a bracketed IPv6 literal
		t.Host = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		return t, nil
	}

	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return t, fmt.Errorf("invalid port %q in host %q", port, s)
	}
	t.Host, t.Port = host, p
	return t, nil
}

// Address returns host:port, using defaultPort when none was given
func (t Target) Address(defaultPort int) string {
	port := t.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}
