package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const stderrTailSize = 4096

// ExecRunner starts the CLI as a local child process.
type ExecRunner struct {
	Binary string
}

var _ Runner = (*ExecRunner)(nil) //nolint:gochecknoglobals // compile-time check

func NewExecRunner(binary string) *ExecRunner {
	return &ExecRunner{Binary: binary}
}

func (r *ExecRunner) Start(_ context.Context, opts StartOptions) (Process, error) {
	// The process outlives the request that started it; Interrupt stops it.
	cmd := exec.Command(r.Binary, opts.Args()...) //nolint:gosec // binary comes from operator config
	cmd.Dir = opts.WorkingDir
	cmd.Env = append(os.Environ(), opts.Env()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agent.ExecRunner.Start: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent.ExecRunner.Start: stdout: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agent.ExecRunner.Start: %w", err)
	}

	log.Info().
		Int("pid", cmd.Process.Pid).
		Str("working_dir", opts.WorkingDir).
		Str("session_id", opts.SessionID).
		Msg("agent: started local process")

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr *tailBuffer
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Stderr: p.stderr.String()}
	}
	return fmt.Errorf("agent.execProcess.Wait: %w", err)
}

func (p *execProcess) Interrupt(_ context.Context) error {
	if p.cmd.Process == nil {
		return ErrNoSession
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("agent.execProcess.Interrupt: %w", err)
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
