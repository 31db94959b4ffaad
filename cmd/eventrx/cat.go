package main

import (
	"fmt"
	"os"

	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/internal/config"
	"github.com/rbaliyan/eventrx/observable"
	"github.com/rbaliyan/eventrx/source/stream"
	"github.com/spf13/cobra"
)

func newCatCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "cat FILE",
		Short:   "Print a file read as a stream of chunks",
		Example: "  eventrx cat main.go",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readFile(cmd, args[0], cfg.ChunkSize)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Uh oh!", err)
				return fmt.Errorf("%w: %w", errReported, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), content)
			return nil
		},
	}
}

func readFile(cmd *cobra.Command, path string, chunkSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	r, err := stream.NewReadable(f, stream.WithEncoding(stream.EncodingUTF8), stream.WithChunkSize(chunkSize))
	if err != nil {
		f.Close()
		return "", err
	}
	chunks, err := eventrx.FromEvents[string](eventrx.ReadableStreamMap, r, eventrx.WithName("cat"))
	if err != nil {
		r.Destroy(nil)
		return "", err
	}
	return observable.Last(cmd.Context(), observable.Reduce(chunks, concat, ""))
}
