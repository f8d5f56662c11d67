package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scentmatch/backend/internal/bootstrap"
	"github.com/scentmatch/backend/internal/domain"
	"github.com/scentmatch/backend/internal/usecase"
)

var (
	importEmbed       bool
	importConcurrency int
)

var importCmd = &cobra.Command{
	Use:   "import <catalog.json>",
	Short: "Import canonical fragrances and variants",
	Long: "Import canonical fragrances and variants from a JSON catalog file. " +
		"Name-only and slug variants are derived for every fragrance; variants " +
		"pointing at unknown fragrances are rejected.",
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importEmbed, "embed", false, "Compute embeddings with the configured providers")
	importCmd.Flags().IntVar(&importConcurrency, "concurrency", 4, "Parallel embedding requests")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	file, err := usecase.DecodeCatalog(f)
	if err != nil {
		return err
	}

	var embedder domain.Embedder
	if importEmbed {
		failover, err := bootstrap.NewEmbedder(e.cfg.Embedding, e.logger)
		if err != nil {
			return err
		}
		if failover == nil {
			return fmt.Errorf("--embed needs at least one embedding provider (set SCENTMATCH_EMBEDDING_API_KEY)")
		}
		embedder = failover
	}

	importer := usecase.NewCatalogImporter(e.store, e.normalizer, embedder, e.logger)
	report, err := importer.Import(ctx, file, usecase.ImportOptions{
		Embed:            importEmbed,
		EmbedConcurrency: importConcurrency,
	})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "fragrances:        %d\n", report.Fragrances)
	fmt.Fprintf(out, "variants:          %d\n", report.Variants)
	fmt.Fprintf(out, "derived variants:  %d\n", report.DerivedVariants)
	fmt.Fprintf(out, "rejected variants: %d\n", report.RejectedVariants)
	if importEmbed {
		fmt.Fprintf(out, "embedded:          %d (%d failed)\n", report.Embedded, report.EmbedFailures)
	}
	return nil
}
