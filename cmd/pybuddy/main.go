package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"pybuddy/internal/catalog"
	"pybuddy/internal/config"

	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        config.Config

	rootCmd = &cobra.Command{
		Use:           "pybuddy",
		Short:         "Python tutoring service with an LLM tutor and sandboxed challenge grading",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			slog.SetDefault(newLogger(cfg))
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $PYBUDDY_CONFIG or ./config.yaml)")

	rootCmd.AddCommand(serveCmd, gradeCmd, challengesCmd, charactersCmd, evalCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var failed *gradeFailedError
		if !errors.As(err, &failed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		return catalog.Default()
	}
	return catalog.Load(cfg.CatalogPath)
}
