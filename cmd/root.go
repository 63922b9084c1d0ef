// Package cmd builds the cobra commands behind the dut-ssh, fastboot-ssh and
// lava-health binaries and maps their errors to process exit codes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	dterrors "github.com/davidroman0O/dutssh/errors"
	"github.com/davidroman0O/dutssh/pkg/config"
	"github.com/davidroman0O/dutssh/pkg/executor"
	"github.com/davidroman0O/dutssh/pkg/lava"
	"github.com/davidroman0O/dutssh/pkg/remote"
)

// EnvPrefix prefixes the environment variables read by dut-ssh and fastboot-ssh
// (DUT_SSH_CONFIG, DUT_SSH_DEBUG, DUT_SSH_VERBOSE).
const EnvPrefix = "DUT_SSH"

// Allow tests to stub process exit and the outside world
var (
	exitFunc     = os.Exit
	newExecutor  = defaultExecutor
	newTransport = remote.New
	newScheduler = defaultScheduler
)

// Env holds the process streams and working directory lookup used by a command
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getwd  func() (string, error)
}

// DefaultEnv returns the process's own streams
func DefaultEnv() *Env {
	return &Env{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getwd:  os.Getwd,
	}
}

func (e *Env) cwd() string {
	if e.Getwd == nil {
		return ""
	}
	wd, err := e.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

func defaultExecutor(env *Env) executor.Executor {
	return &executor.Local{Stdin: env.Stdin, Stdout: env.Stdout, Stderr: env.Stderr}
}

func defaultScheduler(e lava.Endpoint) (lava.Scheduler, error) {
	return lava.NewClient(e, nil)
}

// Main builds the command, runs it against os.Args with SIGINT and SIGTERM
// wired to context cancellation, and exits with the mapped code.
func Main(build func(*Env) *cobra.Command) {
	env := DefaultEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, build(env), os.Args[1:], env)
	stop()

	exitFunc(code)
}

// Run executes root with args and returns the process exit code. Lookup and
// usage failures are printed as "ERROR: ..." on stdout; other faults go to
// stderr; failures of the wrapped command are left for it to report.
func Run(ctx context.Context, root *cobra.Command, args []string, env *Env) int {
	if args == nil {
		// cobra falls back to os.Args on nil
		args = []string{}
	}
	root.SetArgs(args)
	root.SetIn(env.Stdin)
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)

	err := root.ExecuteContext(ctx)
	report(env, err)
	return dterrors.ExitCode(err)
}

func report(env *Env, err error) {
	if err == nil {
		return
	}

	switch {
	case dterrors.IsNotFound(err), dterrors.GetCode(err) == dterrors.ErrUsage:
		fmt.Fprintf(env.Stdout, "ERROR: %v\n", err)
	case dterrors.IsInterrupted(err), dterrors.GetCode(err) == dterrors.ErrSubprocessFailed:
		log.Printf("[MAIN] %v", err)
	default:
		fmt.Fprintf(env.Stderr, "ERROR: %v\n", err)
		if fields := dterrors.GetContext(err); len(fields) > 0 {
			fmt.Fprintf(env.Stderr, "  context: %v\n", fields)
		}
	}
}

// newViper returns a viper instance reading prefix_* environment variables,
// with the given flags bound under their own names.
func newViper(prefix string, flags *pflag.FlagSet, names ...string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range names {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(name, f)
		}
	}
	return v
}

// setupLogging sends the tagged diagnostics to w when enabled and discards
// them otherwise, so wrapped tools keep a clean output.
func setupLogging(w io.Writer, enabled bool) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if !enabled {
		log.SetOutput(io.Discard)
		return
	}
	log.SetOutput(w)
}

// loadConfig searches for name, honoring override, from the env's working directory
func loadConfig(env *Env, override, name string) (*config.File, error) {
	cfg, path, err := config.Load(config.SearchPaths(override, env.cwd(), name))
	if err != nil {
		return nil, err
	}
	log.Printf("[MAIN] Using configuration %s", path)
	return cfg, nil
}
