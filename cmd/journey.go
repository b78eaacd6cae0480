package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/empowerher/riskgrid/internal/assess"
	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/ingest"
)

var journeyUser string

var journeyCmd = &cobra.Command{
	Use:   "journey <track.csv>",
	Short: "Classify every point of a recorded track against the grid",
	Args:  cobra.ExactArgs(1),
	RunE: withGrid(func(cmd *cobra.Command, e *grid.Engine) error {
		f, err := os.Open(cmd.Flags().Arg(0))
		if err != nil {
			return eris.Wrap(err, "journey: open track")
		}
		defer f.Close() //nolint:errcheck

		points, err := ingest.ReadTrack(cmd.Context(), f)
		if err != nil {
			return err
		}
		j, err := newService(e, nil, nil).Journey(journeyUser, points)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), j)
	}),
}

func init() {
	journeyCmd.Flags().StringVar(&journeyUser, "user", assess.DefaultUserID, "user id")
	rootCmd.AddCommand(journeyCmd)
}
