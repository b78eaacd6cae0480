package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/assess"
	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/store"
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit the feature encoder, grid and local classifier from stored incidents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		b, err := runFit(ctx, st)
		if err != nil {
			return err
		}
		printFitReport(cmd.OutOrStdout(), b)
		return nil
	},
}

func runFit(ctx context.Context, st store.Store) (*assess.Bundle, error) {
	incidents, err := st.ListIncidents(ctx, store.IncidentFilter{})
	if err != nil {
		return nil, err
	}
	if len(incidents) == 0 {
		return nil, eris.New("fit: no incidents stored, run `riskgrid import` first")
	}

	b, err := assess.Train(incidents, encoderConfig(), gridConfig(), localClassifier())
	if err != nil {
		return nil, err
	}
	if err := b.Save(ctx, st); err != nil {
		return nil, eris.Wrap(err, "fit: save artifacts")
	}

	zap.L().Info("fit complete",
		zap.Int("incidents", len(incidents)),
		zap.Int("features", len(b.Encoder.Names())),
		zap.Int("cells", len(b.Table.Cells)),
	)
	return b, nil
}

func printFitReport(w io.Writer, b *assess.Bundle) {
	s := b.Table.Summary()
	fmt.Fprintf(w, "encoder: %d features\n", len(b.Encoder.Names()))
	fmt.Fprintf(w, "labels: %d safe, %d risky (%.1f%% risky)\n",
		b.Labels.Safe, b.Labels.Risky, 100*b.Labels.RiskyShare())
	fmt.Fprintf(w, "grid: %d cells from %d incidents\n", s.TotalCells, s.TotalIncidents)
	for _, tier := range s.Policy.Tiers() {
		fmt.Fprintf(w, "  %-8s %d\n", grid.TierTitle(tier), s.TierCounts[tier])
	}
	if b.Centroid != nil {
		fmt.Fprintln(w, "classifier: local centroid model")
	}
}

func init() {
	rootCmd.AddCommand(fitCmd)
}
