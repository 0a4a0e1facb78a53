// Package agenttest provides in-memory agent processes for tests.
package agenttest

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/gosuda/tether/internal/agent"
)

// Process is a scripted agent process. Output lines are written with Emit;
// Exit ends the output and sets the Wait result.
type Process struct {
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	mu          sync.Mutex
	stdin       bytes.Buffer
	stdinClosed bool
	inputs      chan string
	exited      chan struct{}
	exitOnce    sync.Once
	exitErr     error
	interrupts  int
}

var _ agent.Process = (*Process)(nil) //nolint:gochecknoglobals // compile-time check

func NewProcess() *Process {
	r, w := io.Pipe()
	return &Process{
		stdoutR: r,
		stdoutW: w,
		inputs:  make(chan string, 64),
		exited:  make(chan struct{}),
	}
}

// Emit writes lines to the process output.
func (p *Process) Emit(lines ...string) {
	for _, l := range lines {
		_, _ = io.WriteString(p.stdoutW, l+"\n")
	}
}

// Exit closes the output and makes Wait return err.
func (p *Process) Exit(err error) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		_ = p.stdoutW.Close()
		close(p.exited)
	})
}

// Inputs yields every line written to stdin.
func (p *Process) Inputs() <-chan string {
	return p.inputs
}

// StdinText returns everything written to stdin so far.
func (p *Process) StdinText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin.String()
}

func (p *Process) Interrupts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupts
}

func (p *Process) StdinClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdinClosed
}

func (p *Process) Stdin() io.WriteCloser { return stdinWriter{p} }
func (p *Process) Stdout() io.Reader     { return p.stdoutR }

func (p *Process) Wait() error {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Interrupt ends the process with exit code 130.
func (p *Process) Interrupt(context.Context) error {
	p.mu.Lock()
	p.interrupts++
	p.mu.Unlock()
	p.Exit(&agent.ExitError{Code: 130})
	return nil
}

type stdinWriter struct{ p *Process }

func (w stdinWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	w.p.stdin.Write(b)
	w.p.mu.Unlock()

	for line := range strings.SplitSeq(strings.TrimRight(string(b), "\n"), "\n") {
		select {
		case w.p.inputs <- line:
		default:
		}
	}
	return len(b), nil
}

func (w stdinWriter) Close() error {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	w.p.stdinClosed = true
	return nil
}

// Runner hands out scripted processes in order.
type Runner struct {
	mu      sync.Mutex
	procs   []*Process
	started []agent.StartOptions
	err     error
}

var _ agent.Runner = (*Runner)(nil) //nolint:gochecknoglobals // compile-time check

func NewRunner(procs ...*Process) *Runner {
	return &Runner{procs: procs}
}

// Fail makes the next Start calls return err.
func (r *Runner) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Runner) Start(_ context.Context, opts agent.StartOptions) (agent.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	r.started = append(r.started, opts)
	if len(r.procs) == 0 {
		p := NewProcess()
		return p, nil
	}
	p := r.procs[0]
	r.procs = r.procs[1:]
	return p, nil
}

// Started returns the options of every Start call.
func (r *Runner) Started() []agent.StartOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agent.StartOptions, len(r.started))
	copy(out, r.started)
	return out
}
