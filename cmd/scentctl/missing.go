package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/scentmatch/backend/internal/domain"
	"github.com/scentmatch/backend/internal/usecase"
)

var (
	missingLimit  int
	missingStatus string
)

var missingCmd = &cobra.Command{
	Use:   "missing",
	Short: "Review requested fragrances the catalog does not carry",
}

var missingTopCmd = &cobra.Command{
	Use:   "top",
	Short: "List missing products by priority",
	Args:  cobra.NoArgs,
	RunE:  runMissingTop,
}

var missingStatusCmd = &cobra.Command{
	Use:   "status <query> <pending|sourced|rejected>",
	Short: "Mark a missing product as sourced or rejected",
	Args:  cobra.ExactArgs(2),
	RunE:  runMissingStatus,
}

func init() {
	missingTopCmd.Flags().IntVar(&missingLimit, "limit", 20, "Number of records to show")
	missingTopCmd.Flags().StringVar(&missingStatus, "status", "pending", "Filter by status (empty for all)")

	missingCmd.AddCommand(missingTopCmd, missingStatusCmd)
	rootCmd.AddCommand(missingCmd)
}

func newTracker(e *env) *usecase.MissingProductTracker {
	return usecase.NewMissingProductTracker(e.store, usecase.TrackerConfig{
		Workers:      1,
		UniqueWeight: e.cfg.Tracker.UniqueWeight,
		BrandTiers:   e.cfg.Tracker.BrandTiers,
		BrandKey:     e.normalizer.BrandKey,
	}, e.logger)
}

func runMissingTop(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	tracker := newTracker(e)
	defer tracker.Close()

	records, err := tracker.TopMissing(ctx, missingLimit, domain.MissingProductStatus(missingStatus))
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(records)
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.FormatFloat(r.PriorityScore, 'f', 2, 64),
			strconv.FormatInt(r.RequestCount, 10),
			strconv.FormatInt(r.UniqueRequesterCount, 10),
			string(r.Status),
			r.BrandHint,
			r.DisplayQuery,
			r.LastSeen.Format(time.RFC3339),
		})
	}
	printTable(cmd.OutOrStdout(), []string{"priority", "requests", "unique", "status", "brand", "query", "last seen"}, rows)
	return nil
}

func runMissingStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	q, err := e.normalizer.Normalize(args[0])
	if err != nil {
		return err
	}

	tracker := newTracker(e)
	defer tracker.Close()

	if err := tracker.SetStatus(ctx, q.NormalizedText, domain.MissingProductStatus(args[1])); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", q.NormalizedText, args[1])
	return nil
}
