package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pybuddy/internal/benchmark"
	"pybuddy/internal/grader"
	"pybuddy/internal/llm"
	"pybuddy/internal/sandbox"

	"github.com/spf13/cobra"
)

var (
	evalK        int
	evalProvider string
	evalOnly     []string

	evalCmd = &cobra.Command{
		Use:   "eval",
		Short: "Ask the configured LLM to solve every challenge and report pass@1 / pass@k",
		Args:  cobra.NoArgs,
		RunE:  runEval,
	}
)

func init() {
	evalCmd.Flags().IntVarP(&evalK, "k", "k", 1, "attempts per challenge")
	evalCmd.Flags().StringVar(&evalProvider, "provider", "", "LLM provider: openai, deepseek or ollama (default from config)")
	evalCmd.Flags().StringSliceVar(&evalOnly, "challenge", nil, "evaluate only these challenge ids")
}

func runEval(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	challenges := cat.Challenges()
	if len(evalOnly) > 0 {
		challenges = challenges[:0]
		for _, id := range evalOnly {
			ch, err := cat.Challenge(id)
			if err != nil {
				return err
			}
			challenges = append(challenges, ch)
		}
	}

	client, err := llm.NewFactory(cfg.LLM).Client(llm.Selection{Provider: evalProvider})
	if err != nil {
		return err
	}
	if oc, ok := client.(*llm.OllamaClient); ok {
		if err := waitForModel(ctx, oc); err != nil {
			return err
		}
	}

	executor, err := sandbox.New(ctx, cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("start sandbox: %w", err)
	}
	defer func() {
		if err := executor.Close(); err != nil {
			slog.Error("Sandbox cleanup failed", "error", err)
		}
	}()

	report, err := benchmark.RunEvaluation(ctx, challenges, evalK, client, grader.New(executor))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

const pullTimeout = 10 * time.Minute

// waitForModel blocks until Ollama answers and pulls the model when the
// server does not have it yet.
func waitForModel(ctx context.Context, oc *llm.OllamaClient) error {
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := oc.WaitForOllama(waitCtx, 2*time.Second); err != nil {
		return err
	}
	ok, err := oc.HasModel(ctx)
	if err != nil {
		return fmt.Errorf("list ollama models: %w", err)
	}
	if ok {
		return nil
	}
	pullCtx, cancelPull := context.WithTimeout(ctx, pullTimeout)
	defer cancelPull()
	return oc.Pull(pullCtx)
}
