package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/brandnexus-mcp/internal/embedder"
	"github.com/dshills/brandnexus-mcp/internal/vectorindex"
)

const (
	probeText    = "Our brand voice is confident, warm and direct."
	probeRelated = "The tone of our messaging should feel friendly and assured."
)

func newProbeEmbedderCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "probe-embedder",
		Short: "Check that the configured embedding provider responds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			emb, err := embedder.New(cfg.EmbedderConfig())
			if errors.Is(err, embedder.ErrNoProviderEnabled) {
				fmt.Fprintln(cmd.OutOrStdout(), "No embedding provider configured; search is lexical only.")
				return nil
			}
			if err != nil {
				return err
			}
			defer func() { _ = emb.Close() }()

			ctx, cancel := signalContext()
			defer cancel()

			start := time.Now()
			resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
				Texts: []string{probeText, probeRelated},
			})
			if err != nil {
				logger.Error("embedding probe failed",
					zap.String("provider", emb.Provider()), zap.Error(err))
				return fmt.Errorf("embedding probe failed: %w", err)
			}
			elapsed := time.Since(start)

			if len(resp.Embeddings) != 2 {
				return fmt.Errorf("expected 2 embeddings, got %d", len(resp.Embeddings))
			}
			first := resp.Embeddings[0]
			if first.Dimension != emb.Dimension() {
				return fmt.Errorf("dimension mismatch: provider reports %d, got %d", emb.Dimension(), first.Dimension)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Provider:    %s\n", emb.Provider())
			fmt.Fprintf(cmd.OutOrStdout(), "Model:       %s\n", emb.Model())
			fmt.Fprintf(cmd.OutOrStdout(), "Version:     %s\n", embedder.ModelVersion(emb))
			fmt.Fprintf(cmd.OutOrStdout(), "Dimension:   %d\n", first.Dimension)
			fmt.Fprintf(cmd.OutOrStdout(), "Latency:     %s\n", elapsed.Round(time.Millisecond))
			fmt.Fprintf(cmd.OutOrStdout(), "Similarity:  %.3f\n", vectorindex.Similarity(first.Vector, resp.Embeddings[1].Vector))
			return nil
		},
	}
}
