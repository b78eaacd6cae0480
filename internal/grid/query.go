package grid

import (
	"fmt"
	"math"
	"slices"

	"github.com/empowerher/riskgrid/internal/model"
)

// CellInfo is the result of a point lookup. When Classified is false the
// point is outside every populated cell and Tier is unknown; Cell is then
// the zero value.
type CellInfo struct {
	Classified bool       `json:"classified"`
	Key        Key        `json:"key"`
	Tier       model.Tier `json:"tier"`
	Cell       *Cell      `json:"cell,omitempty"`
}

// Lookup returns the cell containing the point, or an unclassified result.
func (t *Table) Lookup(lat, lon float64) CellInfo {
	k := t.keyFor(lat, lon)
	i, ok := t.index[k]
	if !ok {
		return CellInfo{Key: k, Tier: model.TierUnknown}
	}
	c := t.Cells[i]
	return CellInfo{Classified: true, Key: k, Tier: c.Tier, Cell: &c}
}

// NearbyCell is a cell and its distance from the query point.
type NearbyCell struct {
	Cell
	DistanceKM float64 `json:"distance_km"`
}

// NearbyResult lists cells within a radius, nearest first. An empty result
// carries a Message instead of an error.
type NearbyResult struct {
	Lat          float64            `json:"lat"`
	Lon          float64            `json:"lon"`
	RadiusKM     float64            `json:"radius_km"`
	Cells        []NearbyCell       `json:"cells"`
	AverageScore float64            `json:"average_score"`
	TierCounts   map[model.Tier]int `json:"tier_counts"`
	Message      string             `json:"message,omitempty"`
}

// Nearby measures the degree-space Euclidean distance from the point to every
// cell centroid, converts it at KMPerDegree, and keeps cells within radiusKM.
// Ties are broken by cell key so the order is stable.
func (t *Table) Nearby(lat, lon, radiusKM float64) (NearbyResult, error) {
	if radiusKM < 0 || math.IsNaN(radiusKM) {
		return NearbyResult{}, &model.ValidationError{Problems: []string{"radius_km must not be negative"}}
	}

	res := NearbyResult{
		Lat:        lat,
		Lon:        lon,
		RadiusKM:   radiusKM,
		Cells:      []NearbyCell{},
		TierCounts: make(map[model.Tier]int),
	}
	for _, c := range t.Cells {
		d := math.Hypot(lat-c.CentroidLat, lon-c.CentroidLon) * KMPerDegree
		if d <= radiusKM {
			res.Cells = append(res.Cells, NearbyCell{Cell: c, DistanceKM: d})
		}
	}
	slices.SortStableFunc(res.Cells, func(a, b NearbyCell) int {
		switch {
		case a.DistanceKM < b.DistanceKM:
			return -1
		case a.DistanceKM > b.DistanceKM:
			return 1
		}
		return compareKeys(a.Key, b.Key)
	})

	if len(res.Cells) == 0 {
		res.Message = fmt.Sprintf("no risk zones within %.2f km", radiusKM)
		return res, nil
	}
	var sum float64
	for _, c := range res.Cells {
		sum += c.Score
		res.TierCounts[c.Tier]++
	}
	res.AverageScore = sum / float64(len(res.Cells))
	return res, nil
}

// Summary is an aggregate over the cell table.
type Summary struct {
	SizeDeg        float64            `json:"size_deg" yaml:"size_deg"`
	Policy         Policy             `json:"policy" yaml:"policy"`
	TotalCells     int                `json:"total_cells" yaml:"total_cells"`
	TotalIncidents int                `json:"total_incidents" yaml:"total_incidents"`
	TierCounts     map[model.Tier]int `json:"tier_counts" yaml:"tier_counts"`
	MinScore       float64            `json:"min_score" yaml:"min_score"`
	MeanScore      float64            `json:"mean_score" yaml:"mean_score"`
	MaxScore       float64            `json:"max_score" yaml:"max_score"`
}

// Summary reduces the table. Every tier of the policy is present in
// TierCounts, with zero where no cell has it.
func (t *Table) Summary() Summary {
	s := Summary{
		SizeDeg:        t.SizeDeg,
		Policy:         t.Policy,
		TotalCells:     len(t.Cells),
		TotalIncidents: len(t.incidents),
		TierCounts:     make(map[model.Tier]int),
	}
	for _, tier := range t.Policy.Tiers() {
		s.TierCounts[tier] = 0
	}
	if len(t.Cells) == 0 {
		return s
	}
	s.MinScore, s.MaxScore = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, c := range t.Cells {
		s.TierCounts[c.Tier]++
		sum += c.Score
		s.MinScore = math.Min(s.MinScore, c.Score)
		s.MaxScore = math.Max(s.MaxScore, c.Score)
	}
	s.MeanScore = sum / float64(len(t.Cells))
	return s
}

// CellsByTier returns the cells with the given tier in table order.
func (t *Table) CellsByTier(tier model.Tier) []Cell {
	var out []Cell
	for _, c := range t.Cells {
		if c.Tier == tier {
			out = append(out, c)
		}
	}
	return out
}

// Incidents returns a copy of the incidents the table was built from.
func (t *Table) Incidents() []model.Incident {
	return slices.Clone(t.incidents)
}

// Statistics is the descriptive report over a built table.
type Statistics struct {
	Summary          Summary        `json:"summary" yaml:"summary"`
	CategoryCounts   map[string]int `json:"category_counts" yaml:"category_counts"`
	SeverityCounts   map[int]int    `json:"severity_counts" yaml:"severity_counts"`
	MeanSeverity     float64        `json:"mean_severity" yaml:"mean_severity"`
	ScoreStdDev      float64        `json:"score_std_dev" yaml:"score_std_dev"`
	MeanCellCount    float64        `json:"mean_cell_count" yaml:"mean_cell_count"`
	MaxCellCount     int            `json:"max_cell_count" yaml:"max_cell_count"`
	HighestRiskCells []Cell         `json:"highest_risk_cells" yaml:"highest_risk_cells"`
}

// topCells bounds HighestRiskCells.
const topCells = 5

// Statistics computes incident and score distributions.
func (t *Table) Statistics() Statistics {
	st := Statistics{
		Summary:        t.Summary(),
		CategoryCounts: make(map[string]int),
		SeverityCounts: make(map[int]int),
	}
	var sevSum int
	for _, inc := range t.incidents {
		st.CategoryCounts[inc.Category]++
		st.SeverityCounts[inc.Severity]++
		sevSum += inc.Severity
	}
	if len(t.incidents) > 0 {
		st.MeanSeverity = float64(sevSum) / float64(len(t.incidents))
	}

	if len(t.Cells) > 0 {
		mean := st.Summary.MeanScore
		var ss float64
		var countSum int
		for _, c := range t.Cells {
			ss += (c.Score - mean) * (c.Score - mean)
			countSum += c.Count
			st.MaxCellCount = max(st.MaxCellCount, c.Count)
		}
		st.ScoreStdDev = math.Sqrt(ss / float64(len(t.Cells)))
		st.MeanCellCount = float64(countSum) / float64(len(t.Cells))
	}

	ranked := slices.Clone(t.Cells)
	slices.SortStableFunc(ranked, func(a, b Cell) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return compareKeys(a.Key, b.Key)
	})
	st.HighestRiskCells = ranked[:min(topCells, len(ranked))]
	return st
}
