package agent

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	containerClaudeHome = "/root/.claude"
	stopTimeoutSeconds  = 10
)

// ContainerOptions configures a new agent container.
type ContainerOptions struct {
	Name        string
	Image       string
	WorkingDir  string // bind-mounted at the same path inside the container
	ClaudeHome  string // host directory mounted as the CLI's config dir
	Environment []string
	Cmd         []string
}

// DockerRuntime manages agent containers.
type DockerRuntime struct {
	client      *client.Client
	image       string
	networkMode string
	resources   container.Resources
}

func NewDockerRuntime(host, image, networkMode, cpuLimit, memLimit string) (*DockerRuntime, error) {
	resources, err := ParseResources(cpuLimit, memLimit)
	if err != nil {
		return nil, fmt.Errorf("agent.NewDockerRuntime: %w", err)
	}

	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("agent.NewDockerRuntime: %w", err)
	}

	return &DockerRuntime{
		client:      c,
		image:       image,
		networkMode: networkMode,
		resources:   resources,
	}, nil
}

// CreateContainer creates a container whose stdin stays open for the
// stream-json protocol.
func (d *DockerRuntime) CreateContainer(ctx context.Context, opts ContainerOptions) (string, error) {
	image := opts.Image
	if image == "" {
		image = d.image
	}

	cfg := &container.Config{
		Image:        image,
		Env:          opts.Environment,
		Cmd:          opts.Cmd,
		WorkingDir:   opts.WorkingDir,
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	mounts := []mount.Mount{{
		Type:   mount.TypeBind,
		Source: opts.WorkingDir,
		Target: opts.WorkingDir,
	}}
	if opts.ClaudeHome != "" {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: opts.ClaudeHome,
			Target: containerClaudeHome,
		})
	}

	hostCfg := &container.HostConfig{
		Resources: d.resources,
		Mounts:    mounts,
	}
	if d.networkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(d.networkMode)
	}

	resp, err := d.client.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("agent.DockerRuntime.CreateContainer: %w", err)
	}
	for _, w := range resp.Warnings {
		log.Warn().Str("container_id", resp.ID).Str("warning", w).Msg("agent.DockerRuntime: create warning")
	}

	return resp.ID, nil
}

// Attach connects to the container's stdio. Call it before StartContainer
// so no early output is lost.
func (d *DockerRuntime) Attach(ctx context.Context, containerID string) (types.HijackedResponse, error) {
	resp, err := d.client.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return types.HijackedResponse{}, fmt.Errorf("agent.DockerRuntime.Attach: %w", err)
	}
	return resp, nil
}

func (d *DockerRuntime) StartContainer(ctx context.Context, containerID string) error {
	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("agent.DockerRuntime.StartContainer: %w", err)
	}
	return nil
}

func (d *DockerRuntime) StopContainer(ctx context.Context, containerID string) error {
	timeout := stopTimeoutSeconds
	if err := d.client.ContainerStop(ctx, containerID, container.StopOptions{Signal: "SIGINT", Timeout: &timeout}); err != nil {
		return fmt.Errorf("agent.DockerRuntime.StopContainer: %w", err)
	}
	return nil
}

func (d *DockerRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("agent.DockerRuntime.RemoveContainer: %w", err)
	}
	return nil
}

// WaitContainer waits for the container to exit and returns its exit code.
func (d *DockerRuntime) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	waitCh, errCh := d.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case result := <-waitCh:
		if result.Error != nil {
			return result.StatusCode, fmt.Errorf("agent.DockerRuntime.WaitContainer: %s", result.Error.Message)
		}
		return result.StatusCode, nil
	case err := <-errCh:
		return -1, fmt.Errorf("agent.DockerRuntime.WaitContainer: %w", err)
	case <-ctx.Done():
		return -1, fmt.Errorf("agent.DockerRuntime.WaitContainer: %w", ctx.Err())
	}
}

func (d *DockerRuntime) Close() error {
	if err := d.client.Close(); err != nil {
		return fmt.Errorf("agent.DockerRuntime.Close: %w", err)
	}
	return nil
}

// DockerRunner starts the CLI inside a container per query.
type DockerRunner struct {
	runtime    *DockerRuntime
	binary     string
	claudeHome string
}

var _ Runner = (*DockerRunner)(nil) //nolint:gochecknoglobals // compile-time check

func NewDockerRunner(runtime *DockerRuntime, binary, claudeHome string) *DockerRunner {
	return &DockerRunner{runtime: runtime, binary: binary, claudeHome: claudeHome}
}

func (r *DockerRunner) Start(ctx context.Context, opts StartOptions) (Process, error) {
	binary := r.binary
	if binary == "" {
		binary = "claude"
	}

	name := "tether-agent-" + uuid.NewString()
	id, err := r.runtime.CreateContainer(ctx, ContainerOptions{
		Name:        name,
		WorkingDir:  opts.WorkingDir,
		ClaudeHome:  r.claudeHome,
		Environment: opts.Env(),
		Cmd:         append([]string{path.Base(binary)}, opts.Args()...),
	})
	if err != nil {
		return nil, fmt.Errorf("agent.DockerRunner.Start: %w", err)
	}

	hijack, err := r.runtime.Attach(ctx, id)
	if err != nil {
		r.cleanup(id)
		return nil, fmt.Errorf("agent.DockerRunner.Start: %w", err)
	}

	if err := r.runtime.StartContainer(ctx, id); err != nil {
		hijack.Close()
		r.cleanup(id)
		return nil, fmt.Errorf("agent.DockerRunner.Start: %w", err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderr := &tailBuffer{limit: stderrTailSize}
	go func() {
		_, copyErr := stdcopy.StdCopy(stdoutW, stderr, hijack.Reader)
		stdoutW.CloseWithError(copyErr)
	}()

	log.Info().
		Str("container_id", id).
		Str("working_dir", opts.WorkingDir).
		Str("session_id", opts.SessionID).
		Msg("agent: started container")

	return &containerProcess{
		runner: r,
		id:     id,
		hijack: hijack,
		stdin:  &hijackWriter{hijack: hijack},
		stdout: stdoutR,
		stderr: stderr,
	}, nil
}

func (r *DockerRunner) cleanup(id string) {
	if err := r.runtime.RemoveContainer(context.Background(), id); err != nil {
		log.Error().Err(err).Str("container_id", id).Msg("agent.DockerRunner: failed to remove container")
	}
}

type containerProcess struct {
	runner *DockerRunner
	id     string
	hijack types.HijackedResponse
	stdin  io.WriteCloser
	stdout io.Reader
	stderr *tailBuffer
}

func (p *containerProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *containerProcess) Stdout() io.Reader     { return p.stdout }

func (p *containerProcess) Wait() error {
	defer p.runner.cleanup(p.id)
	defer p.hijack.Close()

	code, err := p.runner.runtime.WaitContainer(context.Background(), p.id)
	if err != nil {
		return fmt.Errorf("agent.containerProcess.Wait: %w", err)
	}
	if code != 0 {
		return &ExitError{Code: int(code), Stderr: p.stderr.String()}
	}
	return nil
}

func (p *containerProcess) Interrupt(ctx context.Context) error {
	return p.runner.runtime.StopContainer(ctx, p.id)
}

// hijackWriter half-closes the attached connection on Close so the CLI sees
// end of input.
type hijackWriter struct {
	hijack types.HijackedResponse
}

func (w *hijackWriter) Write(p []byte) (int, error) {
	return w.hijack.Conn.Write(p)
}

func (w *hijackWriter) Close() error {
	return w.hijack.CloseWrite()
}
