package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"pybuddy/internal/config"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

const containerLabel = "pybuddy.sandbox"

// DockerExecutor runs each job in a new network-less, read-only container
// with memory, CPU and PID limits. Containers are always removed.
type DockerExecutor struct {
	cli     *client.Client
	cfg     config.SandboxConfig
	limiter limiter

	mu   sync.Mutex
	live map[string]struct{}
}

func NewDockerExecutor(ctx context.Context, cfg config.SandboxConfig) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	d := &DockerExecutor{
		cli:     cli,
		cfg:     cfg,
		limiter: newLimiter(cfg.MaxConcurrent),
		live:    make(map[string]struct{}),
	}
	if err := d.ensureImage(ctx); err != nil {
		cli.Close()
		return nil, err
	}
	return d, nil
}

func (d *DockerExecutor) ensureImage(ctx context.Context) error {
	_, err := d.cli.ImageInspect(ctx, d.cfg.Image)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("image inspect failed: %w", err)
	}

	slog.Info("Pulling sandbox image", "image", d.cfg.Image)
	pull, err := d.cli.ImagePull(ctx, d.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer pull.Close()
	if _, err := io.Copy(io.Discard, pull); err != nil {
		return fmt.Errorf("failed to read pull progress: %w", err)
	}
	return nil
}

// containerSpec builds the container and host configuration for one job.
func containerSpec(cfg config.SandboxConfig) (*container.Config, *container.HostConfig) {
	memory := int64(cfg.MaxMemoryMB) * 1024 * 1024
	pids := cfg.PidsLimit

	cc := &container.Config{
		Image:           cfg.Image,
		Cmd:             []string{cfg.Interpreter, "-I", "-B", "-c", harnessSource},
		User:            "65534:65534",
		WorkingDir:      "/tmp",
		Env:             []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONHASHSEED=0"},
		Tty:             false,
		OpenStdin:       true,
		StdinOnce:       true,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
		Labels:          map[string]string{containerLabel: "true"},
	}
	hc := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=16m"},
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
			NanoCPUs:   cfg.NanoCPUs,
		},
	}
	if pids > 0 {
		hc.Resources.PidsLimit = &pids
	}
	return cc, hc
}

func (d *DockerExecutor) Execute(ctx context.Context, job Job) (*Report, error) {
	if err := d.limiter.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.limiter.release()

	job = prepare(job)
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	cc, hc := containerSpec(d.cfg)
	name := "pybuddy-grade-" + uuid.NewString()
	resp, err := d.cli.ContainerCreate(ctx, cc, hc, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	d.track(resp.ID)
	defer d.remove(resp.ID)

	attachResp, err := d.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to container: %w", err)
	}
	defer attachResp.Close()

	stdout := &cappedBuffer{max: d.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{max: 64 * 1024}
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attachResp.Reader)
		copied <- err
	}()

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout())
	defer cancel()

	start := time.Now()
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	if _, err := attachResp.Conn.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to write job to container: %w", err)
	}
	if err := attachResp.CloseWrite(); err != nil {
		return nil, fmt.Errorf("failed to close container stdin: %w", err)
	}

	statusCh, errCh := d.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case <-runCtx.Done():
		d.kill(resp.ID)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, d.cfg.Timeout())
	case err := <-errCh:
		if runCtx.Err() != nil {
			d.kill(resp.ID)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w after %s", ErrTimeout, d.cfg.Timeout())
		}
		return nil, fmt.Errorf("error waiting for container: %w", err)
	case <-statusCh:
	}

	select {
	case <-copied:
	case <-time.After(2 * time.Second):
		slog.Warn("Container output stream did not close", "container_id", resp.ID)
	}

	inspect, err := d.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	exitCode := 0
	if inspect.State != nil {
		exitCode = inspect.State.ExitCode
		if inspect.State.OOMKilled || exitCode == 137 {
			return nil, ErrOutOfMemory
		}
	}

	slog.Debug("Sandbox container finished",
		"container_id", resp.ID,
		"exit_code", exitCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"stdout_truncated", stdout.truncated,
	)

	report, err := parseReport(stdout.Bytes(), job.Marker)
	if err != nil {
		if errors.Is(err, ErrNoReport) {
			return nil, noReportError(exitCode, stderr.Bytes())
		}
		return nil, err
	}
	return report, nil
}

func (d *DockerExecutor) track(id string) {
	d.mu.Lock()
	d.live[id] = struct{}{}
	d.mu.Unlock()
}

func (d *DockerExecutor) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.cli.ContainerKill(ctx, id, "KILL"); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("Failed to kill container", "container_id", id, "error", err)
	}
}

func (d *DockerExecutor) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("Failed to remove container", "container_id", id, "error", err)
		return
	}
	d.mu.Lock()
	delete(d.live, id)
	d.mu.Unlock()
}

// Close force-removes containers still alive (e.g. jobs interrupted by
// shutdown) and closes the Docker client.
func (d *DockerExecutor) Close() error {
	d.mu.Lock()
	ids := make([]string, 0, len(d.live))
	for id := range d.live {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		d.remove(id)
	}
	return d.cli.Close()
}
