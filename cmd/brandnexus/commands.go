package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/brandnexus-mcp/internal/engine"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func newIndexCmd(load loader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "index [roots...]",
		Short: "Rescan content roots and update the index",
		Long: `Walks the given content roots, or the configured roots when none are
given, ingesting new and changed documents and removing deleted ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(load, func(ctx context.Context, e *engine.Engine) error {
				res, err := e.IndexCorpus(ctx, args)
				if res == nil {
					return err
				}
				if asJSON {
					if perr := printJSON(cmd, res); perr != nil {
						return perr
					}
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d documents in %s (%d added, %d updated, %d unchanged, %d deleted, %d failed)\n",
					res.IndexedCount, res.Duration.Round(time.Millisecond), res.AddedCount,
					res.UpdatedCount-res.AddedCount, res.UnchangedCount, res.DeletedCount, res.FailedCount)
				for _, label := range types.AllLabels() {
					if n := res.LabelHistogram[string(label)]; n > 0 {
						fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %d\n", label, n)
					}
				}
				for _, msg := range res.Errors {
					cmd.PrintErrf("  error: %s\n", msg)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the result as JSON")
	return cmd
}

func newSearchCmd(load loader) *cobra.Command {
	var (
		labelName string
		category  string
		limit     int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var label *types.Label
			if labelName != "" {
				l, err := types.ParseLabel(labelName)
				if err != nil {
					return err
				}
				label = &l
			}

			return withEngine(load, func(ctx context.Context, e *engine.Engine) error {
				results, err := e.Search(ctx, args[0], label, category, limit)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				if asJSON {
					return printJSON(cmd, results)
				}

				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
					return nil
				}
				for i, r := range results {
					title := r.Title
					if title == "" {
						title = r.Path
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s (%.2f)\n", i+1, title, r.Score)
					fmt.Fprintf(cmd.OutOrStdout(), "      %s  %s\n", r.Path, r.Label)
					if r.Snippet != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "      %s\n", r.Snippet)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&labelName, "label", "l", "", "filter by document type")
	cmd.Flags().StringVarP(&category, "category", "c", "", "filter by category")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results (1-100)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func newStatsCmd(load loader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index size, freshness and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(load, func(ctx context.Context, e *engine.Engine) error {
				stats, err := e.Stats(ctx)
				if err != nil {
					return err
				}
				content, err := e.ContentStats(ctx)
				if err != nil {
					return err
				}
				health, err := e.Health(ctx)
				if err != nil {
					return err
				}

				if asJSON {
					return printJSON(cmd, map[string]interface{}{
						"stats":   stats,
						"content": content,
						"health":  health,
					})
				}

				last := "never"
				if !stats.LastIndexTime.IsZero() {
					last = stats.LastIndexTime.Local().Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Documents:     %d\n", stats.DocumentCount)
				fmt.Fprintf(cmd.OutOrStdout(), "Index size:    %.2f MB\n", float64(stats.IndexSizeBytes)/(1<<20))
				fmt.Fprintf(cmd.OutOrStdout(), "Last indexed:  %s\n", last)
				fmt.Fprintf(cmd.OutOrStdout(), "Words:         %d (avg %.0f)\n", content.TotalWords, content.AverageWords)
				fmt.Fprintf(cmd.OutOrStdout(), "Updated (7d):  %d\n", content.RecentUpdates)
				fmt.Fprintf(cmd.OutOrStdout(), "Status:        %s\n", health.Status)
				if health.VectorModel != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Vectors:       %d fresh, %d stale (%s)\n",
						health.VectorsFresh, health.VectorsStale, health.VectorModel)
				}
				for _, issue := range health.Issues {
					fmt.Fprintf(cmd.OutOrStdout(), "  issue: %s\n", issue)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newAnalyzeCmd(load loader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Show the document type distribution and top tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(load, func(ctx context.Context, e *engine.Engine) error {
				analysis, err := e.AnalyzeCorpus(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, analysis)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Documents: %d\n\nTypes:\n", analysis.TotalDocuments)
				labels := make([]types.Label, 0, len(analysis.LabelDistribution))
				for l := range analysis.LabelDistribution {
					labels = append(labels, l)
				}
				sort.Slice(labels, func(i, j int) bool {
					return analysis.LabelDistribution[labels[i]] > analysis.LabelDistribution[labels[j]]
				})
				for _, l := range labels {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %d\n", l, analysis.LabelDistribution[l])
				}
				if len(analysis.TopTags) > 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "\nTop tags:")
					for _, tc := range analysis.TopTags {
						fmt.Fprintf(cmd.OutOrStdout(), "  #%-19s %d\n", tc.Tag, tc.Count)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newTrainCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the statistical classifier from labeled documents in the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(load, func(ctx context.Context, e *engine.Engine) error {
				res, err := e.TrainClassifier(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Trained on %d documents, %d labels, vocabulary %d\n",
					res.Examples, len(res.Labels), res.Vocabulary)
				return nil
			})
		},
	}
}
