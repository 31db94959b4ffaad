package main

import (
	"errors"
	"log/slog"

	"github.com/rbaliyan/eventrx/internal/config"
	"github.com/spf13/cobra"
)

// errReported marks errors a command already printed.
var errReported = errors.New("reported")

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "eventrx",
		Short:         "Adapt event sources into observable pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error (defaults EVENTRX_LOG_LEVEL or info)")
	root.PersistentFlags().IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Read chunk size in bytes (defaults EVENTRX_CHUNK_SIZE)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		level, _ := config.ParseLevel(cfg.LogLevel)
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		return nil
	}

	root.AddCommand(
		newCatCmd(cfg),
		newGetCmd(cfg),
		newServeCmd(cfg),
		newMapsCmd(cfg),
	)
	return root
}

func concat(acc, chunk string) string { return acc + chunk }
