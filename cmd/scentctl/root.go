package main

import (
	"context"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scentmatch/backend/config"
	"github.com/scentmatch/backend/internal/bootstrap"
	"github.com/scentmatch/backend/internal/infrastructure/storage/sqlstore"
	"github.com/scentmatch/backend/internal/observability"
	"github.com/scentmatch/backend/internal/usecase"
)

var (
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "scentctl",
	Short:         "Manage the ScentMatch catalog",
	Long:          "scentctl imports catalog data and reviews demand for fragrances the catalog does not carry.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

// env is the shared state of a command run
type env struct {
	cfg        *config.Config
	logger     zerolog.Logger
	store      *sqlstore.Store
	normalizer *usecase.QueryNormalizer
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		ServiceName: "scentctl",
	})

	store, err := bootstrap.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database connection: %w", err)
	}

	normalizer := usecase.NewQueryNormalizer(usecase.NormalizerConfig{MaxLength: cfg.Search.MaxQueryLength}, logger)

	return &env{cfg: cfg, logger: logger, store: store, normalizer: normalizer}, nil
}

func (e *env) Close() {
	_ = e.store.Close()
}

func printTable(writer io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}
