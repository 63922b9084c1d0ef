package remote

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/davidroman0O/dutssh/pkg/config"
	"github.com/davidroman0O/dutssh/pkg/executor"
)

// OpenSSH implements Transport with the system ssh and scp clients, so the
// user's ~/.ssh/config, agent and ControlMaster settings all apply.
type OpenSSH struct {
	SSHPath string
	SCPPath string

	exec     executor.Executor
	user     string
	port     int
	identity string
	options  []string
}

// NewOpenSSH creates an OpenSSH transport running ssh/scp through exec
func NewOpenSSH(cfg *config.SSHConfig, exec executor.Executor) *OpenSSH {
	o := &OpenSSH{
		SSHPath: "ssh",
		SCPPath: "scp",
		exec:    exec,
	}
	if cfg != nil {
		o.user = cfg.User
		o.port = cfg.Port
		o.identity = cfg.IdentityFile
		o.options = cfg.Options
	}
	return o
}

// destination prefixes the configured user unless host already names one
func (o *OpenSSH) destination(host string) string {
	if o.user != "" && !strings.Contains(host, "@") {
		return o.user + "@" + host
	}
	return host
}

// flags returns the common client flags; portFlag is -p for ssh, -P for scp
func (o *OpenSSH) flags(portFlag string) []string {
	var args []string
	if o.port != 0 {
		args = append(args, portFlag, strconv.Itoa(o.port))
	}
	if o.identity != "" {
		args = append(args, "-i", o.identity)
	}
	for _, opt := range o.options {
		args = append(args, "-o", opt)
	}
	return args
}

// ShellLine composes the local shell line for a remote template:
//
//	ssh [flags] <host> "<template>"
//
// The template is wrapped in double quotes and otherwise left untouched, so
// the local shell and then the remote shell both interpret it.
func (o *OpenSSH) ShellLine(host, template string) string {
	parts := []string{executor.Quote(o.SSHPath)}
	for _, f := range o.flags("-p") {
		parts = append(parts, executor.Quote(f))
	}
	parts = append(parts, executor.Quote(o.destination(host)), `"`+template+`"`)
	return strings.Join(parts, " ")
}

// Shell implements Transport
func (o *OpenSSH) Shell(ctx context.Context, host, template string) error {
	return o.exec.Execute(ctx, executor.Shell(o.ShellLine(host, template)))
}

// Run implements Transport. The remote command line is the quoted argv.
func (o *OpenSSH) Run(ctx context.Context, host string, argv ...string) error {
	args := append(o.flags("-p"), o.destination(host), executor.QuoteAll(argv))
	return o.exec.Execute(ctx, executor.Argv(o.SSHPath, args...))
}

// MkdirAll implements Transport
func (o *OpenSSH) MkdirAll(ctx context.Context, host, dir string) error {
	return o.Run(ctx, host, "mkdir", "-p", dir)
}

// Upload implements Transport
func (o *OpenSSH) Upload(ctx context.Context, host, local, remote string) error {
	log.Printf("[SCP] Uploading %s to %s:%s", local, host, remote)
	args := append(o.flags("-P"), local, o.destination(host)+":"+remote)
	return o.exec.Execute(ctx, executor.Argv(o.SCPPath, args...))
}

// Remove implements Transport. Missing files are not an error.
func (o *OpenSSH) Remove(ctx context.Context, host, remote string) error {
	return o.Run(ctx, host, "rm", "-f", remote)
}

// Close implements Transport; the binaries hold no state between calls
func (o *OpenSSH) Close() error {
	return nil
}
