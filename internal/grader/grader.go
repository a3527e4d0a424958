// Package grader checks a submitted function against a challenge's test cases.
//
// The submission never runs in this process: the source text and the test
// table are handed to a sandbox.Executor, which calls the function case by
// case and stops at the first failure. Only per-case verdicts, the repr of a
// mismatching value or a structured error come back. Messages are built here.
package grader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pybuddy/internal/catalog"
	"pybuddy/internal/metrics"
	"pybuddy/internal/sandbox"
)

type Outcome string

const (
	OutcomePassed          Outcome = "passed"
	OutcomeDefinitionError Outcome = "definition_error"
	OutcomeMissingFunction Outcome = "missing_function"
	OutcomeExecutionError  Outcome = "execution_error"
	OutcomeMismatch        Outcome = "mismatch"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeOutOfMemory     Outcome = "out_of_memory"
	OutcomeSandboxError    Outcome = "sandbox_error"
)

const (
	MessagePassed          = "All tests passed!"
	MessageMissingFunction = "Function not defined"
)

// Result is the verdict of one grading attempt. FailedCase is the zero-based
// index of the test case that failed, or -1.
type Result struct {
	Passed     bool    `json:"passed"`
	Message    string  `json:"message"`
	Outcome    Outcome `json:"outcome"`
	FailedCase int     `json:"failed_case"`
}

type Grader struct {
	executor sandbox.Executor
}

func New(executor sandbox.Executor) *Grader {
	return &Grader{executor: executor}
}

// Grade runs source against every test case of the challenge, in order.
func (g *Grader) Grade(ctx context.Context, source string, ch catalog.Challenge) Result {
	return g.Run(ctx, source, ch.FunctionName, ch.TestCases)
}

// Run grades source against an explicit function name and test table. It
// never returns an error: every failure is reported through the Result.
func (g *Grader) Run(ctx context.Context, source, functionName string, cases []catalog.TestCase) Result {
	slog.Debug("Grading submission", "function", functionName, "source_preview", preview(source, 120))
	start := time.Now()
	res := g.run(ctx, source, functionName, cases)
	elapsed := time.Since(start)

	metrics.ObserveGrade(functionName, string(res.Outcome), elapsed)
	slog.Info("Graded submission",
		"function", functionName,
		"outcome", res.Outcome,
		"failed_case", res.FailedCase,
		"duration_ms", elapsed.Milliseconds(),
	)
	return res
}

func (g *Grader) run(ctx context.Context, source, functionName string, cases []catalog.TestCase) Result {
	if functionName == "" {
		return failure(OutcomeSandboxError, "Error: function name is required", -1)
	}

	jobCases := make([]sandbox.Case, len(cases))
	for i, tc := range cases {
		args := tc.Args
		if args == nil {
			args = []any{}
		}
		jobCases[i] = sandbox.Case{Args: args, Expected: tc.Expected}
	}

	report, err := g.executor.Execute(ctx, sandbox.Job{
		Source:       source,
		FunctionName: functionName,
		Cases:        jobCases,
	})
	if err != nil {
		return sandboxFailure(err, functionName)
	}

	switch report.Status {
	case sandbox.StatusDefinitionError:
		return failure(OutcomeDefinitionError, "Error: "+report.Error, -1)
	case sandbox.StatusMissingFunction:
		return failure(OutcomeMissingFunction, MessageMissingFunction, -1)
	}

	for i, tc := range cases {
		if i >= len(report.Results) {
			slog.Error("Sandbox report is missing results",
				"function", functionName, "results", len(report.Results), "cases", len(cases))
			return failure(OutcomeSandboxError,
				fmt.Sprintf("Error: sandbox reported %d results for %d test cases", len(report.Results), len(cases)), i)
		}
		got := report.Results[i]
		if got.Error != "" {
			return failure(OutcomeExecutionError, "Error: "+got.Error, i)
		}
		if !got.Passed {
			msg := fmt.Sprintf("Test failed: %s -> Expected %s, got %s",
				FormatArgs(tc.Args), Repr(tc.Expected), got.Repr)
			return failure(OutcomeMismatch, msg, i)
		}
	}

	return Result{Passed: true, Message: MessagePassed, Outcome: OutcomePassed, FailedCase: -1}
}

func failure(outcome Outcome, message string, failedCase int) Result {
	return Result{Passed: false, Message: message, Outcome: outcome, FailedCase: failedCase}
}

func sandboxFailure(err error, functionName string) Result {
	switch {
	case errors.Is(err, sandbox.ErrTimeout):
		return failure(OutcomeTimeout, "Error: "+err.Error(), -1)
	case errors.Is(err, sandbox.ErrOutOfMemory):
		return failure(OutcomeOutOfMemory, "Error: "+sandbox.ErrOutOfMemory.Error(), -1)
	case errors.Is(err, context.Canceled):
		return failure(OutcomeSandboxError, "Error: grading was cancelled", -1)
	}
	slog.Error("Sandbox execution failed", "function", functionName, "error", err)
	return failure(OutcomeSandboxError, "Error: "+err.Error(), -1)
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
