package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"pybuddy/internal/config"
)

// ProcessExecutor runs the harness in a local interpreter subprocess with a
// wall-clock timeout, a scrubbed environment and an empty working directory.
// It is meant for development and CI: it is NOT an isolation boundary for
// filesystem or network access.
type ProcessExecutor struct {
	cfg     config.SandboxConfig
	limiter limiter
}

func NewProcessExecutor(cfg config.SandboxConfig) (*ProcessExecutor, error) {
	if _, err := exec.LookPath(cfg.Interpreter); err != nil {
		return nil, fmt.Errorf("interpreter %q not found in PATH: %w", cfg.Interpreter, err)
	}
	return &ProcessExecutor{cfg: cfg, limiter: newLimiter(cfg.MaxConcurrent)}, nil
}

func (p *ProcessExecutor) Execute(ctx context.Context, job Job) (*Report, error) {
	if err := p.limiter.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.limiter.release()

	job = prepare(job)
	job.MemoryMB = p.cfg.MaxMemoryMB
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	workDir, err := os.MkdirTemp("", "pybuddy-grade-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.cfg.Interpreter, "-I", "-B", "-c", harnessSource)
	cmd.Dir = workDir
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + workDir,
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONHASHSEED=0",
	}
	cmd.WaitDelay = time.Second
	stdout := &cappedBuffer{max: p.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{max: 64 * 1024}
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, p.cfg.Timeout())
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("failed to run interpreter: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	slog.Debug("Sandbox process finished",
		"exit_code", exitCode,
		"duration_ms", time.Since(start).Milliseconds(),
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

func (p *ProcessExecutor) Close() error { return nil }
