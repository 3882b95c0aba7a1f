package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"wikirag/internal/service"
)

var (
	createSpace   string
	createPageIDs []string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Build the index from scratch",
	Long: `Fetches wiki pages, clears any previous index, and indexes them.
Use --space to index a whole space or --page-ids for specific pages.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIngest(cmd.Context(), createSpace, createPageIDs, true)
	},
}

var (
	updateSpace   string
	updatePageIDs []string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh pages in the existing index",
	Long: `Fetches wiki pages and replaces their entries in the index without
touching other documents.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIngest(cmd.Context(), updateSpace, updatePageIDs, false)
	},
}

func init() {
	createCmd.Flags().StringVar(&createSpace, "space", "", "wiki space key to index")
	createCmd.Flags().StringSliceVar(&createPageIDs, "page-ids", nil, "page IDs to index")
	createCmd.MarkFlagsOneRequired("space", "page-ids")
	createCmd.MarkFlagsMutuallyExclusive("space", "page-ids")

	updateCmd.Flags().StringVar(&updateSpace, "space", "", "wiki space key to refresh")
	updateCmd.Flags().StringSliceVar(&updatePageIDs, "page-ids", nil, "page IDs to refresh")
	updateCmd.MarkFlagsOneRequired("space", "page-ids")
	updateCmd.MarkFlagsMutuallyExclusive("space", "page-ids")
}

func runIngest(ctx context.Context, space string, pageIDs []string, fresh bool) error {
	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	src, err := buildLoader(cfg)
	if err != nil {
		return err
	}
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}

	ing := service.NewIngestor(src, buildChunker(cfg), embedder, store, buildRetryPolicy(cfg), cfg.Ingest.Workers, log)

	var report service.Report
	switch {
	case space != "" && fresh:
		report, err = ing.RebuildSpace(ctx, space)
	case space != "":
		report, err = ing.IngestSpace(ctx, space)
	case fresh:
		report, err = ing.RebuildPages(ctx, pageIDs)
	default:
		report, err = ing.IngestPages(ctx, pageIDs)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d document(s), skipped %d.\n", report.Indexed, report.Skipped)
	for _, f := range report.Failed {
		fmt.Printf("Failed %s: %v\n", f.SourceID, f.Err)
	}
	if !report.Ok() {
		return fmt.Errorf("%d document(s) failed", len(report.Failed))
	}
	return nil
}
