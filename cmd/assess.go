package main

import (
	"github.com/spf13/cobra"

	"github.com/empowerher/riskgrid/internal/assess"
)

var assessQuery assess.Query

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Run a live safety check for one location",
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
		svc, err := loadService(ctx, st, src, nil)
		if err != nil {
			return err
		}
		a, err := svc.Check(ctx, assessQuery)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), a)
	},
}

func init() {
	f := assessCmd.Flags()
	f.Float64Var(&assessQuery.Latitude, "lat", 0, "latitude")
	f.Float64Var(&assessQuery.Longitude, "lon", 0, "longitude")
	f.StringVar(&assessQuery.Time, "time", "", "time of day HH:MM (default now)")
	f.StringVar(&assessQuery.Date, "date", "", "date YYYY-MM-DD (default today)")
	f.IntVar(&assessQuery.Severity, "severity", 0, "assumed severity 1-5 (default 3)")
	f.StringVar(&assessQuery.Category, "crime-type", "", "assumed incident category")
	f.StringVar(&assessQuery.UserID, "user", "", "user id")
	_ = assessCmd.MarkFlagRequired("lat")
	_ = assessCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(assessCmd)
}
