package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/model"
	"github.com/empowerher/riskgrid/internal/store"
)

var (
	gridFormat       string
	gridExportFormat string
	gridLat          float64
	gridLon          float64
	gridRadiusKM     float64
	gridTier         string
	gridOut          string
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Build, inspect and export the risk grid",
}

var gridBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the grid from stored incidents and save its snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s, err := runGridBuild(ctx, st)
		if err != nil {
			return err
		}
		return writeSummary(cmd.OutOrStdout(), s, gridFormat)
	},
}

var gridSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the saved grid's summary",
	RunE: withGrid(func(cmd *cobra.Command, e *grid.Engine) error {
		s, err := e.Summary()
		if err != nil {
			return err
		}
		return writeSummary(cmd.OutOrStdout(), s, gridFormat)
	}),
}

var gridStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print incident and score statistics of the saved grid",
	RunE: withGrid(func(cmd *cobra.Command, e *grid.Engine) error {
		t, err := e.Current()
		if err != nil {
			return err
		}
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(t.Statistics())
	}),
}

var gridLookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Classify a point against the saved grid",
	RunE: withGrid(func(cmd *cobra.Command, e *grid.Engine) error {
		if err := model.ValidateCoordinates(gridLat, gridLon); err != nil {
			return err
		}
		info, err := e.Lookup(gridLat, gridLon)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), info)
	}),
}

var gridNearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "List grid cells within a radius of a point",
	RunE: withGrid(func(cmd *cobra.Command, e *grid.Engine) error {
		if err := model.ValidateCoordinates(gridLat, gridLon); err != nil {
			return err
		}
		radius := gridRadiusKM
		if radius <= 0 {
			radius = cfg.Grid.DefaultRadiusKM
		}
		res, err := e.Nearby(gridLat, gridLon, radius)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	}),
}

var gridZonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "List the cells of one tier",
	RunE: withGrid(func(cmd *cobra.Command, e *grid.Engine) error {
		t, err := e.Current()
		if err != nil {
			return err
		}
		cells := t.CellsByTier(model.Tier(gridTier))
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d cells\n", grid.TierTitle(model.Tier(gridTier)), len(cells))
		for _, c := range cells {
			fmt.Fprintf(cmd.OutOrStdout(), "  %.5f,%.5f  incidents=%d score=%.3f\n",
				c.CentroidLat, c.CentroidLon, c.Count, c.Score)
		}
		return nil
	}),
}

var gridExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the saved grid as json, csv or geojson",
	RunE: withGrid(func(cmd *cobra.Command, e *grid.Engine) error {
		t, err := e.Current()
		if err != nil {
			return err
		}
		path, err := runGridExport(t, grid.Format(gridExportFormat), gridOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	}),
}

// withGrid restores the saved grid snapshot before running fn.
func withGrid(fn func(cmd *cobra.Command, e *grid.Engine) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		e, err := loadGrid(ctx, st)
		if err != nil {
			return err
		}
		return fn(cmd, e)
	}
}

func runGridBuild(ctx context.Context, st store.Store) (grid.Summary, error) {
	incidents, err := st.ListIncidents(ctx, store.IncidentFilter{})
	if err != nil {
		return grid.Summary{}, err
	}
	e, err := grid.New(gridConfig())
	if err != nil {
		return grid.Summary{}, err
	}
	s, err := e.Build(incidents)
	if err != nil {
		return grid.Summary{}, err
	}

	var buf bytes.Buffer
	if err := e.SaveSnapshot(&buf); err != nil {
		return grid.Summary{}, err
	}
	if _, err := st.SaveArtifact(ctx, store.KindGridSnapshot, buf.Bytes()); err != nil {
		return grid.Summary{}, err
	}
	zap.L().Info("grid built", zap.Int("cells", s.TotalCells), zap.Int("incidents", s.TotalIncidents))
	return s, nil
}

func loadGrid(ctx context.Context, st store.Store) (*grid.Engine, error) {
	art, err := st.LoadArtifact(ctx, store.KindGridSnapshot)
	if err != nil {
		return nil, err
	}
	if art == nil {
		return nil, eris.New("no saved grid, run `riskgrid grid build` or `riskgrid fit` first")
	}
	e, err := grid.New(gridConfig())
	if err != nil {
		return nil, err
	}
	if _, err := e.LoadSnapshot(bytes.NewReader(art.Blob)); err != nil {
		return nil, err
	}
	return e, nil
}

// runGridExport writes t to out, or to the artifacts directory when out is
// empty, and returns the path written.
func runGridExport(t *grid.Table, f grid.Format, out string) (string, error) {
	if out == "" {
		out = filepath.Join(cfg.Artifacts.Dir, "grid."+string(f))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", eris.Wrap(err, "export: create directory")
	}
	file, err := os.Create(out)
	if err != nil {
		return "", eris.Wrap(err, "export: create file")
	}
	if err := t.Export(file, f); err != nil {
		_ = file.Close()
		_ = os.Remove(out)
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", eris.Wrap(err, "export: close file")
	}
	return out, nil
}

func writeSummary(w io.Writer, s grid.Summary, format string) error {
	switch format {
	case "json":
		return printJSON(w, s)
	case "yaml":
		return yaml.NewEncoder(w).Encode(s)
	case "", "text":
		fmt.Fprintf(w, "grid %.4f° (%s tiers): %d cells, %d incidents\n",
			s.SizeDeg, s.Policy, s.TotalCells, s.TotalIncidents)
		fmt.Fprintf(w, "score min %.3f mean %.3f max %.3f\n", s.MinScore, s.MeanScore, s.MaxScore)
		for _, tier := range s.Policy.Tiers() {
			fmt.Fprintf(w, "  %-8s %d\n", grid.TierTitle(tier), s.TierCounts[tier])
		}
		return nil
	default:
		return eris.Errorf("unsupported format %q", format)
	}
}

func init() {
	for _, c := range []*cobra.Command{gridBuildCmd, gridSummaryCmd} {
		c.Flags().StringVar(&gridFormat, "format", "text", "output format: text, json or yaml")
	}
	for _, c := range []*cobra.Command{gridLookupCmd, gridNearbyCmd} {
		c.Flags().Float64Var(&gridLat, "lat", 0, "latitude")
		c.Flags().Float64Var(&gridLon, "lon", 0, "longitude")
		_ = c.MarkFlagRequired("lat")
		_ = c.MarkFlagRequired("lon")
	}
	gridNearbyCmd.Flags().Float64Var(&gridRadiusKM, "radius", 0, "radius in km (default from config)")
	gridZonesCmd.Flags().StringVar(&gridTier, "tier", string(model.TierHigh), "tier to list")
	gridExportCmd.Flags().StringVar(&gridExportFormat, "format", string(grid.FormatGeoJSON), "export format: json, csv or geojson")
	gridExportCmd.Flags().StringVar(&gridOut, "out", "", "output path (default <artifacts.dir>/grid.<format>)")

	gridCmd.AddCommand(gridBuildCmd, gridSummaryCmd, gridStatsCmd, gridLookupCmd, gridNearbyCmd, gridZonesCmd, gridExportCmd)
	rootCmd.AddCommand(gridCmd)
}
