// Package benchmark asks an LLM to solve every challenge and grades the
// answers, reporting pass@1 and pass@k.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"pybuddy/internal/catalog"
	"pybuddy/internal/grader"
	"pybuddy/internal/llm"
)

const systemPrompt = "You are a Python programmer. Reply with only the requested function " +
	"in a single ```python code block. Do not include tests, examples or explanations."

var (
	codeBlockRegex     = regexp.MustCompile("(?s)```(?:python|py|python3)?[ \t]*\n?(.*?)```")
	ErrNoChallenges    = errors.New("no challenges to evaluate")
	ErrInvalidAttempts = errors.New("k must be at least 1")
)

func RunEvaluation(ctx context.Context, challenges []catalog.Challenge, k int, client llm.ChatClient, g *grader.Grader) (Report, error) {
	if k < 1 {
		return Report{}, ErrInvalidAttempts
	}
	total := len(challenges)
	if total == 0 {
		return Report{}, ErrNoChallenges
	}

	report := Report{Provider: client.Name(), K: k, TotalProblems: total}
	pass1 := 0

	for _, ch := range challenges {
		res := ChallengeResult{ChallengeID: ch.ID}

		for attempt := 1; attempt <= k; attempt++ {
			if err := ctx.Err(); err != nil {
				return Report{}, err
			}
			res.Attempts = attempt

			reply, err := client.Chat(ctx, []llm.Message{
				{Role: llm.RoleSystem, Content: systemPrompt},
				{Role: llm.RoleUser, Content: problemPrompt(ch)},
			})
			if err != nil {
				if ctx.Err() != nil {
					return Report{}, ctx.Err()
				}
				slog.Warn("Completion failed", "challenge", ch.ID, "attempt", attempt, "error", err)
				res.LastMessage = "API Error: " + err.Error()
				continue
			}

			verdict := g.Grade(ctx, extractCode(reply), ch)
			res.LastMessage = verdict.Message
			slog.Info("Graded attempt", "challenge", ch.ID, "attempt", attempt, "outcome", verdict.Outcome)

			if verdict.Passed {
				res.Passed = true
				res.PassedFirst = attempt == 1
				break
			}
		}

		if res.Passed {
			report.PassedProblems++
			if res.PassedFirst {
				pass1++
			}
		}
		report.Results = append(report.Results, res)
	}

	report.Pass1Rate = float64(pass1) / float64(total)
	report.PassKRate = float64(report.PassedProblems) / float64(total)
	return report, nil
}

func problemPrompt(ch catalog.Challenge) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s\n\nImplement a Python function named `%s`.", ch.Title, strings.TrimSpace(ch.Description), ch.FunctionName)
	if len(ch.TestCases) > 0 {
		b.WriteString(" Examples:\n")
		for _, tc := range ch.TestCases {
			args := make([]string, len(tc.Args))
			for i, a := range tc.Args {
				args[i] = grader.Repr(a)
			}
			fmt.Fprintf(&b, "- %s(%s) returns %s\n", ch.FunctionName, strings.Join(args, ", "), grader.Repr(tc.Expected))
		}
	}
	return b.String()
}

// extractCode returns the first fenced code block, or the whole reply when
// there is none.
func extractCode(text string) string {
	matches := codeBlockRegex.FindStringSubmatch(text)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return strings.TrimSpace(text)
}
