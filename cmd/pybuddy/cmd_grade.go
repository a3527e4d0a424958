package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"pybuddy/internal/grader"
	"pybuddy/internal/sandbox"

	"github.com/spf13/cobra"
)

// gradeFailedError marks a submission that was graded but did not pass. The
// verdict has already been printed, so main only sets the exit code.
type gradeFailedError struct{ result grader.Result }

func (e *gradeFailedError) Error() string { return e.result.Message }

var (
	gradeCmd = &cobra.Command{
		Use:   "grade <challenge-id> <file|->",
		Short: "Grade a Python file against a challenge",
		Args:  cobra.ExactArgs(2),
		RunE:  runGrade,
	}

	challengesCmd = &cobra.Command{
		Use:   "challenges",
		Short: "List the coding challenges",
		Args:  cobra.NoArgs,
		RunE:  runChallenges,
	}

	charactersCmd = &cobra.Command{
		Use:   "characters",
		Short: "List the tutor characters",
		Args:  cobra.NoArgs,
		RunE:  runCharacters,
	}
)

func runGrade(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	ch, err := cat.Challenge(args[0])
	if err != nil {
		return err
	}

	source, err := readSource(cmd.InOrStdin(), args[1])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	executor, err := sandbox.New(ctx, cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("start sandbox: %w", err)
	}
	defer func() {
		if err := executor.Close(); err != nil {
			slog.Error("Sandbox cleanup failed", "error", err)
		}
	}()

	result := grader.New(executor).Grade(ctx, source, ch)
	fmt.Fprintln(cmd.OutOrStdout(), result.Message)
	if !result.Passed {
		return &gradeFailedError{result: result}
	}
	return nil
}

func readSource(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read submission: %w", err)
	}
	return string(data), nil
}

func runChallenges(cmd *cobra.Command, _ []string) error {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tFUNCTION\tTESTS")
	for _, c := range cat.Challenges() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.ID, c.Title, c.FunctionName, len(c.TestCases))
	}
	return w.Flush()
}

func runCharacters(cmd *cobra.Command, _ []string) error {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGREETING")
	for _, c := range cat.Characters() {
		fmt.Fprintf(w, "%s\t%s %s\t%s\n", c.ID, c.Avatar, c.Name, c.Greeting)
	}
	return w.Flush()
}
