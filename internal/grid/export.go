package grid

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/empowerher/riskgrid/internal/model"
)

// Format is an export encoding.
type Format string

// Supported export formats.
const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatGeoJSON Format = "geojson"
)

var tierTitler = cases.Title(language.English)

// TierTitle renders a tier for human-facing reports, e.g. "High".
func TierTitle(t model.Tier) string {
	return tierTitler.String(string(t))
}

// Export writes the table in the given format.
func (t *Table) Export(w io.Writer, f Format) error {
	switch f {
	case FormatJSON:
		return t.ExportJSON(w)
	case FormatCSV:
		return t.ExportCSV(w)
	case FormatGeoJSON:
		return t.ExportGeoJSON(w)
	default:
		return eris.Errorf("grid: unsupported export format %q", f)
	}
}

type jsonExport struct {
	Summary Summary `json:"summary"`
	Cells   []Cell  `json:"cells"`
}

// ExportJSON writes the summary and every cell as indented JSON.
func (t *Table) ExportJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonExport{Summary: t.Summary(), Cells: t.Cells}); err != nil {
		return eris.Wrap(err, "grid: export json")
	}
	return nil
}

var csvHeader = []string{
	"row", "col", "count", "mean_severity", "max_severity",
	"centroid_lat", "centroid_lon", "score", "tier", "categories",
}

// ExportCSV writes one row per cell. Categories are encoded as
// "name:count" pairs joined by ";" in name order.
func (t *Table) ExportCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return eris.Wrap(err, "grid: export csv header")
	}
	for _, c := range t.Cells {
		rec := []string{
			strconv.Itoa(c.Row),
			strconv.Itoa(c.Col),
			strconv.Itoa(c.Count),
			formatFloat(c.MeanSeverity),
			strconv.Itoa(c.MaxSeverity),
			formatFloat(c.CentroidLat),
			formatFloat(c.CentroidLon),
			formatFloat(c.Score),
			string(c.Tier),
			categoryString(c.Categories),
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrapf(err, "grid: export csv cell %d,%d", c.Row, c.Col)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "grid: flush csv")
}

// ExportGeoJSON writes a FeatureCollection with one square polygon per cell.
func (t *Table) ExportGeoJSON(w io.Writer) error {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(t.Cells))}
	for _, c := range t.Cells {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       strconv.Itoa(c.Row) + "_" + strconv.Itoa(c.Col),
			Geometry: t.CellPolygon(c.Key),
			Properties: map[string]interface{}{
				"count":         c.Count,
				"mean_severity": c.MeanSeverity,
				"max_severity":  c.MaxSeverity,
				"score":         c.Score,
				"tier":          string(c.Tier),
				"centroid_lat":  c.CentroidLat,
				"centroid_lon":  c.CentroidLon,
			},
		})
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "grid: marshal geojson")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "grid: write geojson")
	}
	return nil
}

// CellPolygon returns the square covered by a cell in lon/lat order.
func (t *Table) CellPolygon(k Key) *geom.Polygon {
	x0 := t.MinLon + float64(k.Col)*t.SizeDeg
	y0 := t.MinLat + float64(k.Row)*t.SizeDeg
	x1, y1 := x0+t.SizeDeg, y0+t.SizeDeg
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}})
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func categoryString(cats map[string]int) string {
	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ":" + strconv.Itoa(cats[name])
	}
	return strings.Join(parts, ";")
}
