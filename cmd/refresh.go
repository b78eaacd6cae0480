package main

import (
	"github.com/spf13/cobra"

	"github.com/empowerher/riskgrid/internal/assess"
	"github.com/empowerher/riskgrid/internal/grid"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fold pending feedback into the incident set and refit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		src, err := newPredictorSource(nil)
		if err != nil {
			return err
		}
		engine, err := grid.New(gridConfig())
		if err != nil {
			return err
		}
		r := assess.NewRefresher(assess.RefresherConfig{
			Store:     st,
			Service:   newService(engine, nil, nil),
			Encoder:   encoderConfig(),
			Local:     localClassifier(),
			Predictor: src.For,
		})
		rep, err := r.Refresh(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rep)
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
