package grid

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// clusterScenario is five severe incidents in one cell plus one mild
// incident far away.
func clusterScenario() []model.Incident {
	var out []model.Incident
	for i := range 5 {
		out = append(out, model.Incident{
			ID: fmt.Sprintf("A%d", i), Category: "Assault",
			Latitude: 10.94, Longitude: 76.86, Severity: 5,
		})
	}
	return append(out, model.Incident{
		ID: "B0", Category: "Theft", Latitude: 11.20, Longitude: 77.10, Severity: 1,
	})
}

// spreadScenario scatters incidents over a few dozen cells.
func spreadScenario() []model.Incident {
	var out []model.Incident
	cats := []string{"Theft", "Assault", "Robbery", "Burglary"}
	for i := range 60 {
		out = append(out, model.Incident{
			ID:        fmt.Sprintf("S%d", i),
			Category:  cats[i%len(cats)],
			Latitude:  10.90 + float64(i%7)*0.013 + float64(i%3)*0.002,
			Longitude: 76.80 + float64(i%5)*0.017 + float64(i%4)*0.003,
			Severity:  1 + i%5,
		})
	}
	return out
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestNew_RejectsUnknownPolicy(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Tiers: "seven"})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	e := newEngine(t, Config{})
	assert.Equal(t, DefaultSizeDeg, e.Config().SizeDeg)
	assert.Equal(t, PolicyThree, e.Config().Tiers)
}

func TestPolicyClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy Policy
		score  float64
		want   model.Tier
	}{
		{PolicyThree, 0, model.TierLow},
		{PolicyThree, 0.3999, model.TierLow},
		{PolicyThree, 0.4, model.TierMedium},
		{PolicyThree, 0.6999, model.TierMedium},
		{PolicyThree, 0.7, model.TierHigh},
		{PolicyThree, 1, model.TierHigh},
		{PolicyFive, 0, model.TierSafe},
		{PolicyFive, 0.2, model.TierLow},
		{PolicyFive, 0.4, model.TierMedium},
		{PolicyFive, 0.6, model.TierHigh},
		{PolicyFive, 0.7999, model.TierHigh},
		{PolicyFive, 0.8, model.TierCritical},
		{PolicyFive, 1, model.TierCritical},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.policy, tt.score), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.policy.Classify(tt.score))
		})
	}
}

func TestPolicyClassify_NoGaps(t *testing.T) {
	t.Parallel()

	for _, p := range []Policy{PolicyThree, PolicyFive} {
		for i := 0; i <= 1000; i++ {
			tier := p.Classify(float64(i) / 1000)
			assert.Contains(t, p.Tiers(), tier)
		}
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{})
	_, err := e.Build(nil)
	assert.True(t, errors.Is(err, ErrEmptyInput))

	_, err = e.Current()
	assert.True(t, errors.Is(err, ErrNotBuilt))
}

func TestQueries_NotBuilt(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{})
	_, err := e.Lookup(10, 76)
	assert.True(t, errors.Is(err, ErrNotBuilt))
	_, err = e.Nearby(10, 76, 1)
	assert.True(t, errors.Is(err, ErrNotBuilt))
	_, err = e.Summary()
	assert.True(t, errors.Is(err, ErrNotBuilt))
	assert.True(t, errors.Is(e.SaveSnapshot(&bytes.Buffer{}), ErrNotBuilt))
}

func TestBuild_ClusterScenario(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{})
	sum, err := e.Build(clusterScenario())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.TotalCells)
	assert.Equal(t, 6, sum.TotalIncidents)

	hot, err := e.Lookup(10.94, 76.86)
	require.NoError(t, err)
	require.True(t, hot.Classified)
	assert.Equal(t, model.TierHigh, hot.Tier)
	assert.Equal(t, 5, hot.Cell.Count)
	assert.InDelta(t, 1.0, hot.Cell.Score, 1e-12)

	cold, err := e.Lookup(11.20, 77.10)
	require.NoError(t, err)
	require.True(t, cold.Classified)
	assert.Less(t, cold.Cell.Score, hot.Cell.Score)
	assert.Equal(t, model.TierLow, cold.Tier)

	none, err := e.Lookup(0, 0)
	require.NoError(t, err)
	assert.False(t, none.Classified)
	assert.Equal(t, model.TierUnknown, none.Tier)
	assert.Nil(t, none.Cell)
}

func TestBuild_ClusterScenarioFiveTier(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{Tiers: PolicyFive})
	_, err := e.Build(clusterScenario())
	require.NoError(t, err)

	hot, err := e.Lookup(10.94, 76.86)
	require.NoError(t, err)
	assert.Equal(t, model.TierCritical, hot.Tier)

	cold, err := e.Lookup(11.20, 77.10)
	require.NoError(t, err)
	assert.Equal(t, model.TierSafe, cold.Tier)
}

func TestBuild_EveryIncidentInExactlyOneCell(t *testing.T) {
	t.Parallel()

	incidents := spreadScenario()
	tbl, err := Compute(incidents, Config{})
	require.NoError(t, err)

	var total int
	for _, c := range tbl.Cells {
		total += c.Count
	}
	assert.Equal(t, len(incidents), total)

	for _, inc := range incidents {
		info := tbl.Lookup(inc.Latitude, inc.Longitude)
		require.True(t, info.Classified, inc.ID)
		assert.Contains(t, info.Cell.Categories, inc.Category)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()

	a, err := Compute(spreadScenario(), Config{SizeDeg: 0.02})
	require.NoError(t, err)
	b, err := Compute(spreadScenario(), Config{SizeDeg: 0.02})
	require.NoError(t, err)
	assert.Equal(t, a.Cells, b.Cells)
	assert.Equal(t, a.Summary(), b.Summary())
}

func TestBuild_ScoresInRangeAndTiersConsistent(t *testing.T) {
	t.Parallel()

	for _, p := range []Policy{PolicyThree, PolicyFive} {
		tbl, err := Compute(spreadScenario(), Config{Tiers: p})
		require.NoError(t, err)
		require.Greater(t, len(tbl.Cells), 1)

		var sawZero, sawOne bool
		for _, c := range tbl.Cells {
			assert.GreaterOrEqual(t, c.Score, 0.0)
			assert.LessOrEqual(t, c.Score, 1.0)
			assert.False(t, math.IsNaN(c.Score))
			assert.Equal(t, p.Classify(c.Score), c.Tier)
			sawZero = sawZero || c.Score == 0
			sawOne = sawOne || c.Score == 1
		}
		assert.True(t, sawZero && sawOne, "min-max should reach both ends")
	}
}

func TestBuild_CellsOrdered(t *testing.T) {
	t.Parallel()

	tbl, err := Compute(spreadScenario(), Config{})
	require.NoError(t, err)
	for i := 1; i < len(tbl.Cells); i++ {
		assert.Negative(t, compareKeys(tbl.Cells[i-1].Key, tbl.Cells[i].Key))
	}
}

func TestBuild_DegenerateSingleCell(t *testing.T) {
	t.Parallel()

	tbl, err := Compute([]model.Incident{
		{ID: "1", Category: "Theft", Latitude: 10, Longitude: 76, Severity: 3},
	}, Config{})
	require.NoError(t, err)
	require.Len(t, tbl.Cells, 1)
	assert.Zero(t, tbl.Cells[0].Score)
	assert.Equal(t, model.TierLow, tbl.Cells[0].Tier)
}

func TestBuild_DegenerateEqualCells(t *testing.T) {
	t.Parallel()

	tbl, err := Compute([]model.Incident{
		{ID: "1", Category: "Theft", Latitude: 10, Longitude: 76, Severity: 3},
		{ID: "2", Category: "Theft", Latitude: 10.5, Longitude: 76.5, Severity: 3},
	}, Config{Tiers: PolicyFive})
	require.NoError(t, err)
	require.Len(t, tbl.Cells, 2)
	for _, c := range tbl.Cells {
		assert.Zero(t, c.Score)
		assert.Equal(t, model.TierSafe, c.Tier)
	}
}

func TestBuild_CellStatistics(t *testing.T) {
	t.Parallel()

	tbl, err := Compute([]model.Incident{
		{ID: "1", Category: "Theft", Latitude: 10.001, Longitude: 76.001, Severity: 2},
		{ID: "2", Category: "Assault", Latitude: 10.003, Longitude: 76.005, Severity: 4},
		{ID: "3", Category: "Theft", Latitude: 10.5, Longitude: 76.5, Severity: 1},
	}, Config{})
	require.NoError(t, err)

	info := tbl.Lookup(10.002, 76.002)
	require.True(t, info.Classified)
	c := info.Cell
	assert.Equal(t, 2, c.Count)
	assert.InDelta(t, 3.0, c.MeanSeverity, 1e-12)
	assert.Equal(t, 4, c.MaxSeverity)
	assert.Equal(t, map[string]int{"Theft": 1, "Assault": 1}, c.Categories)
	assert.InDelta(t, 10.002, c.CentroidLat, 1e-12)
	assert.InDelta(t, 76.003, c.CentroidLon, 1e-12)
}

func TestNearby_OrderedAndWithinRadius(t *testing.T) {
	t.Parallel()

	tbl, err := Compute(spreadScenario(), Config{})
	require.NoError(t, err)

	for _, r := range []float64{0.5, 2, 5, 50} {
		res, err := tbl.Nearby(10.93, 76.85, r)
		require.NoError(t, err)
		for i, c := range res.Cells {
			assert.LessOrEqual(t, c.DistanceKM, r+1e-9)
			if i > 0 {
				assert.GreaterOrEqual(t, c.DistanceKM, res.Cells[i-1].DistanceKM)
			}
		}
	}

	all, err := tbl.Nearby(10.93, 76.85, 1000)
	require.NoError(t, err)
	assert.Len(t, all.Cells, len(tbl.Cells))
	assert.Empty(t, all.Message)
}

func TestNearby_ClusterScenario(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{})
	_, err := e.Build(clusterScenario())
	require.NoError(t, err)

	res, err := e.Nearby(10.94, 76.86, 1)
	require.NoError(t, err)
	require.Len(t, res.Cells, 1)
	assert.InDelta(t, 0, res.Cells[0].DistanceKM, 1e-9)
	assert.Equal(t, 1, res.TierCounts[model.TierHigh])
	assert.InDelta(t, 1.0, res.AverageScore, 1e-12)

	far, err := e.Nearby(10.94, 76.86, 100)
	require.NoError(t, err)
	require.Len(t, far.Cells, 2)
	want := math.Hypot(10.94-11.20, 76.86-77.10) * KMPerDegree
	assert.InDelta(t, want, far.Cells[1].DistanceKM, 1e-6)
	assert.InDelta(t, 0.5, far.AverageScore, 1e-12)
}

func TestNearby_EmptyCarriesMessage(t *testing.T) {
	t.Parallel()

	tbl, err := Compute(clusterScenario(), Config{})
	require.NoError(t, err)

	res, err := tbl.Nearby(0, 0, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Cells)
	assert.Equal(t, "no risk zones within 5.00 km", res.Message)
	assert.Zero(t, res.AverageScore)
}

func TestNearby_NegativeRadius(t *testing.T) {
	t.Parallel()

	tbl, err := Compute(clusterScenario(), Config{})
	require.NoError(t, err)

	_, err = tbl.Nearby(10, 76, -1)
	var ve *model.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestSummary(t *testing.T) {
	t.Parallel()

	tbl, err := Compute(clusterScenario(), Config{})
	require.NoError(t, err)

	s := tbl.Summary()
	assert.Equal(t, 2, s.TotalCells)
	assert.Equal(t, map[model.Tier]int{model.TierLow: 1, model.TierMedium: 0, model.TierHigh: 1}, s.TierCounts)
	assert.InDelta(t, 0, s.MinScore, 1e-12)
	assert.InDelta(t, 0.5, s.MeanScore, 1e-12)
	assert.InDelta(t, 1, s.MaxScore, 1e-12)
	assert.Equal(t, s, tbl.Summary())
}

func TestCellsByTier(t *testing.T) {
	t.Parallel()

	tbl, err := Compute(clusterScenario(), Config{})
	require.NoError(t, err)

	high := tbl.CellsByTier(model.TierHigh)
	require.Len(t, high, 1)
	assert.Equal(t, 5, high[0].Count)
	assert.Empty(t, tbl.CellsByTier(model.TierMedium))
}

func TestStatistics(t *testing.T) {
	t.Parallel()

	tbl, err := Compute(clusterScenario(), Config{})
	require.NoError(t, err)

	st := tbl.Statistics()
	assert.Equal(t, map[string]int{"Assault": 5, "Theft": 1}, st.CategoryCounts)
	assert.Equal(t, map[int]int{5: 5, 1: 1}, st.SeverityCounts)
	assert.InDelta(t, 26.0/6.0, st.MeanSeverity, 1e-12)
	assert.InDelta(t, 0.5, st.ScoreStdDev, 1e-12)
	assert.InDelta(t, 3.0, st.MeanCellCount, 1e-12)
	assert.Equal(t, 5, st.MaxCellCount)
	require.Len(t, st.HighestRiskCells, 2)
	assert.Equal(t, 5, st.HighestRiskCells[0].Count)
}

func TestTierTitle(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "High", TierTitle(model.TierHigh))
	assert.Equal(t, "Critical", TierTitle(model.TierCritical))
}

func TestExportJSON(t *testing.T) {
	t.Parallel()

	tbl, err := Compute(clusterScenario(), Config{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tbl.Export(&buf, FormatJSON))

	var got jsonExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, tbl.Cells, got.Cells)
	assert.Equal(t, 2, got.Summary.TotalCells)
}

func TestExportCSV(t *testing.T) {
	t.Parallel()

	tbl, err := Compute(clusterScenario(), Config{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tbl.Export(&buf, FormatCSV))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, csvHeader, recs[0])
	assert.Equal(t, "0", recs[1][0])
	assert.Equal(t, "5", recs[1][2])
	assert.Equal(t, "high", recs[1][8])
	assert.Equal(t, "Assault:5", recs[1][9])
}

func TestExportGeoJSON(t *testing.T) {
	t.Parallel()

	tbl, err := Compute(clusterScenario(), Config{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tbl.Export(&buf, FormatGeoJSON))

	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string         `json:"type"`
				Coordinates [][][2]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "FeatureCollection", doc.Type)
	require.Len(t, doc.Features, 2)

	f := doc.Features[0]
	assert.Equal(t, "Polygon", f.Geometry.Type)
	require.Len(t, f.Geometry.Coordinates, 1)
	ring := f.Geometry.Coordinates[0]
	require.Len(t, ring, 5)
	assert.InDelta(t, 76.86, ring[0][0], 1e-9)
	assert.InDelta(t, 10.94, ring[0][1], 1e-9)
	assert.InDelta(t, 76.87, ring[2][0], 1e-9)
	assert.Equal(t, "high", f.Properties["tier"])
}

func TestExport_UnknownFormat(t *testing.T) {
	t.Parallel()

	tbl, err := Compute(clusterScenario(), Config{})
	require.NoError(t, err)
	assert.Error(t, tbl.Export(&bytes.Buffer{}, "xml"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	src := newEngine(t, Config{SizeDeg: 0.02, Tiers: PolicyFive})
	want, err := src.Build(spreadScenario())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.SaveSnapshot(&buf))

	dst := newEngine(t, Config{})
	got, err := dst.LoadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	a, err := src.Current()
	require.NoError(t, err)
	b, err := dst.Current()
	require.NoError(t, err)
	assert.Equal(t, a.Cells, b.Cells)
}

func TestLoadSnapshot_Garbage(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{})
	_, err := e.LoadSnapshot(bytes.NewReader([]byte("nope")))
	assert.Error(t, err)
	_, err = e.Current()
	assert.True(t, errors.Is(err, ErrNotBuilt))
}

func TestBuild_FailureKeepsPreviousTable(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{})
	_, err := e.Build(clusterScenario())
	require.NoError(t, err)

	_, err = e.Build(nil)
	require.Error(t, err)

	s, err := e.Summary()
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalCells)
}

func TestConcurrentReadsDuringRebuild(t *testing.T) {
	t.Parallel()

	e := newEngine(t, Config{})
	_, err := e.Build(clusterScenario())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				info, err := e.Lookup(10.94, 76.86)
				assert.NoError(t, err)
				assert.True(t, info.Classified)
			}
		}()
	}
	for range 10 {
		_, err := e.Build(clusterScenario())
		require.NoError(t, err)
	}
	wg.Wait()
}
