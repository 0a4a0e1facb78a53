// Package agent runs the Claude CLI in stream-json mode, either as a local
// process or inside a Docker container, and exposes its event stream.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
)

var (
	// ErrNoSession is returned when an operation needs a running query.
	ErrNoSession = errors.New("agent: no running session") //nolint:gochecknoglobals // sentinel error
	// ErrUnknownRuntime is returned for an unregistered runner name.
	ErrUnknownRuntime = errors.New("agent: unknown runtime") //nolint:gochecknoglobals // sentinel error
)

// Permission modes accepted by the CLI.
const (
	ModeDefault           = "default"
	ModePlan              = "plan"
	ModeAcceptEdits       = "acceptEdits"
	ModeBypassPermissions = "bypassPermissions"
)

// ValidMode reports whether m is a known permission mode.
func ValidMode(m string) bool {
	switch m {
	case ModeDefault, ModePlan, ModeAcceptEdits, ModeBypassPermissions:
		return true
	default:
		return false
	}
}

// StartOptions configures one agent process.
type StartOptions struct {
	// SessionID resumes an existing session when set.
	SessionID   string
	WorkingDir  string
	Model       string
	Mode        string
	Environment map[string]string
}

// Args returns the CLI arguments for opts, without the binary name.
func (o StartOptions) Args() []string {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--include-partial-messages",
		"--verbose",
		"--permission-prompt-tool", "stdio",
	}
	if o.SessionID != "" {
		args = append(args, "--resume", o.SessionID)
	}
	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	if o.Mode != "" && o.Mode != ModeDefault {
		args = append(args, "--permission-mode", o.Mode)
	}
	return args
}

// Env returns the extra environment as sorted KEY=VALUE pairs.
func (o StartOptions) Env() []string {
	env := make([]string, 0, len(o.Environment))
	for _, k := range slices.Sorted(maps.Keys(o.Environment)) {
		env = append(env, k+"="+o.Environment[k])
	}
	return env
}

// Process is a started agent process.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the process exits. A non-zero exit is an *ExitError.
	Wait() error
	// Interrupt asks the process to stop.
	Interrupt(ctx context.Context) error
}

// Runner starts agent processes.
type Runner interface {
	Start(ctx context.Context, opts StartOptions) (Process, error)
}

// ExitError reports a non-zero process exit.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("agent: process exited with code %d", e.Code)
	}
	return fmt.Sprintf("agent: process exited with code %d: %s", e.Code, e.Stderr)
}
