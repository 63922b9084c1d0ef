// Package executor runs local subprocesses for the dispatch tools.
package executor

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"syscall"

	dterrors "github.com/davidroman0O/dutssh/errors"
)

// DefaultShell interprets shell command lines
const DefaultShell = "/bin/sh"

// Command is a program and its argument vector
type Command struct {
	Path string
	Args []string
}

// Shell returns a command that runs line through /bin/sh -c. The line is
// passed to the shell unmodified, so pipes and redirections keep working.
func Shell(line string) Command {
	return Command{Path: DefaultShell, Args: []string{"-c", line}}
}

// Argv returns a command that runs name with args, without a shell
func Argv(name string, args ...string) Command {
	return Command{Path: name, Args: append([]string(nil), args...)}
}

// String renders the command as a shell-quoted line, for logs and errors
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, Quote(c.Path))
	for _, a := range c.Args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// Executor runs a command to completion.
//
// Execute returns nil when the command exits 0, a SubprocessFailed error
// carrying the exit status otherwise, and an Interrupted error when ctx is
// cancelled while the command runs.
type Executor interface {
	Execute(ctx context.Context, cmd Command) error
}

// Local executes commands on this machine with the given standard streams
type Local struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewLocal creates a Local executor attached to the process's own stdio
func NewLocal() *Local {
	return &Local{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Execute implements Executor. Cancelling ctx sends os.Interrupt to the child
// rather than killing it, and waits for it to exit.
func (l *Local) Execute(ctx context.Context, cmd Command) error {
	log.Printf("[EXEC] %s", cmd)

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Stdin = l.Stdin
	c.Stdout = l.Stdout
	c.Stderr = l.Stderr
	c.Cancel = func() error {
		return c.Process.Signal(os.Interrupt)
	}

	err := c.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return dterrors.Wrap(ctx.Err(), dterrors.ErrInterrupted, "interrupted: "+cmd.String())
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to run "+cmd.String())
	}

	status := StatusOf(exitErr)
	if status == dterrors.ExitInterrupted {
		return dterrors.Wrap(err, dterrors.ErrInterrupted, "interrupted: "+cmd.String())
	}
	log.Printf("[EXEC] %s exited with status %d", cmd.Path, status)
	return dterrors.Subprocess(cmd.String(), status)
}

// StatusOf returns the shell-style status of a finished process: its exit
// code, or 128 plus the signal number when a signal ended it.
func StatusOf(exitErr *exec.ExitError) int {
	if code := exitErr.ExitCode(); code >= 0 {
		return code
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return dterrors.ExitFault
}

// Quote minimally quotes s for a POSIX shell. Common safe characters are left
// as-is; anything else is single-quoted with the '\'' escape.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	switch r {
	case '-', '_', '.', '/', '@', ':', ',', '+', '=':
		return false
	}
	return true
}

// QuoteAll quotes each argument and joins them with spaces
func QuoteAll(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}
