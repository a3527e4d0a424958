// Package sandbox runs untrusted Python submissions outside the grader's
// address space and marshals back per-case verdicts and structured errors.
//
// Every job runs the embedded harness in a fresh interpreter: inside a
// throwaway container (DockerExecutor) or a local subprocess
// (ProcessExecutor, development only). The harness reads one Job as JSON from
// stdin and writes one Report line, prefixed with the job's marker, to stdout.
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pybuddy/internal/config"

	"github.com/google/uuid"
)

//go:embed harness.py
var harnessSource string

var (
	ErrTimeout     = errors.New("execution timed out")
	ErrOutOfMemory = errors.New("memory limit exceeded")
	ErrNoReport    = errors.New("sandbox produced no report")
)

const (
	StatusOK              = "ok"
	StatusDefinitionError = "definition_error"
	StatusMissingFunction = "missing_function"
)

// Case is one call of the submission and the value it must return.
type Case struct {
	Args     []any `json:"args"`
	Expected any   `json:"expected"`
}

// Job is the only data that crosses into the sandbox.
type Job struct {
	Source       string `json:"source"`
	FunctionName string `json:"function_name"`
	Cases        []Case `json:"cases"`
	Marker       string `json:"marker"`
	MemoryMB     int    `json:"memory_mb,omitempty"`
}

// CaseResult is the outcome of one call. The harness compares with Python's
// == and stops after the first case that fails or raises, so only the last
// result can carry Repr or Error.
type CaseResult struct {
	Passed bool   `json:"passed"`
	Repr   string `json:"repr,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Report struct {
	Status  string       `json:"status"`
	Error   string       `json:"error,omitempty"`
	Results []CaseResult `json:"results,omitempty"`
}

type Executor interface {
	Execute(ctx context.Context, job Job) (*Report, error)
	Close() error
}

// New builds the executor named by cfg.Backend.
func New(ctx context.Context, cfg config.SandboxConfig) (Executor, error) {
	switch strings.ToLower(cfg.Backend) {
	case "docker":
		d, err := NewDockerExecutor(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "process":
		p, err := NewProcessExecutor(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
}

func newMarker() string {
	return "@@pybuddy-" + uuid.NewString() + "@@"
}

func prepare(job Job) Job {
	if job.Marker == "" {
		job.Marker = newMarker()
	}
	if job.Cases == nil {
		job.Cases = []Case{}
	}
	return job
}

// parseReport finds the last marker-prefixed line on stdout and decodes it.
func parseReport(stdout []byte, marker string) (*Report, error) {
	var line string
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 64*1024), len(stdout)+1)
	for scanner.Scan() {
		if rest, ok := strings.CutPrefix(scanner.Text(), marker); ok {
			line = rest
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sandbox output: %w", err)
	}
	if line == "" {
		return nil, ErrNoReport
	}

	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	var report Report
	if err := dec.Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode sandbox report: %w", err)
	}
	switch report.Status {
	case StatusOK, StatusDefinitionError, StatusMissingFunction:
	default:
		return nil, fmt.Errorf("unknown report status %q", report.Status)
	}
	return &report, nil
}

// cappedBuffer keeps the first max bytes and silently drops the rest so a
// chatty submission cannot exhaust the grader's memory.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = len(p) > 0 || c.truncated
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte { return c.buf.Bytes() }

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}

// limiter bounds the number of jobs running at once.
type limiter chan struct{}

func newLimiter(n int) limiter {
	if n <= 0 {
		n = 1
	}
	return make(limiter, n)
}

func (l limiter) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l limiter) release() { <-l }

func noReportError(exitCode int, stderr []byte) error {
	msg := tail(stderr, 512)
	if msg == "" {
		return fmt.Errorf("%w (exit code %d)", ErrNoReport, exitCode)
	}
	return fmt.Errorf("%w (exit code %d): %s", ErrNoReport, exitCode, msg)
}
