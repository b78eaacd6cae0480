package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/model"
	"github.com/empowerher/riskgrid/internal/store"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Show the safe/risky label distribution of stored incidents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		incidents, err := st.ListIncidents(ctx, store.IncidentFilter{})
		if err != nil {
			return err
		}
		labeler := features.NewLabeler(cfg.Encoder.HighRiskCategories)
		d := labeler.Distribution(incidents)

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "total %d: safe %d, risky %d (%.1f%% risky)\n", d.Total, d.Safe, d.Risky, 100*d.RiskyShare())

		risky := make(map[string]int)
		for _, inc := range incidents {
			if labeler.Label(inc) == model.LabelRisky {
				risky[inc.Category]++
			}
		}
		cats := make([]string, 0, len(risky))
		for c := range risky {
			cats = append(cats, c)
		}
		sort.Slice(cats, func(i, j int) bool {
			if risky[cats[i]] != risky[cats[j]] {
				return risky[cats[i]] > risky[cats[j]]
			}
			return cats[i] < cats[j]
		})
		for _, c := range cats {
			fmt.Fprintf(w, "  %-20s %d\n", c, risky[c])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}
