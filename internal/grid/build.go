package grid

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/model"
)

// Key identifies a cell by its row (latitude) and column (longitude) index.
type Key struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Cell is a populated grid cell. Cells with no incidents are never created.
type Cell struct {
	Key
	Count        int            `json:"count"`
	MeanSeverity float64        `json:"mean_severity"`
	MaxSeverity  int            `json:"max_severity"`
	Categories   map[string]int `json:"categories"`
	CentroidLat  float64        `json:"centroid_lat"`
	CentroidLon  float64        `json:"centroid_lon"`
	Score        float64        `json:"score"`
	Tier         model.Tier     `json:"tier"`
}

// Table is an immutable, fully scored cell table.
type Table struct {
	SizeDeg float64 `json:"size_deg"`
	Policy  Policy  `json:"policy"`
	MinLat  float64 `json:"min_lat"`
	MinLon  float64 `json:"min_lon"`
	MaxLat  float64 `json:"max_lat"`
	MaxLon  float64 `json:"max_lon"`
	Cells   []Cell  `json:"cells"` // ordered by row, then column

	incidents []model.Incident
	index     map[Key]int
}

// Compute builds a scored table without publishing it. The result depends
// only on the incident set and cfg.
func Compute(incidents []model.Incident, cfg Config) (*Table, error) {
	if len(incidents) == 0 {
		return nil, ErrEmptyInput
	}
	cfg = cfg.withDefaults()
	if !cfg.Tiers.Valid() {
		return nil, eris.Errorf("grid: unknown tier policy %q", cfg.Tiers)
	}

	bounds := boundsOf(incidents)
	t := &Table{
		SizeDeg:   cfg.SizeDeg,
		Policy:    cfg.Tiers,
		MinLat:    bounds.Min(1),
		MinLon:    bounds.Min(0),
		MaxLat:    bounds.Max(1),
		MaxLon:    bounds.Max(0),
		incidents: slices.Clone(incidents),
	}

	type acc struct {
		count  int
		sevSum int
		sevMax int
		latSum float64
		lonSum float64
		cats   map[string]int
	}
	accs := make(map[Key]*acc)
	for _, inc := range incidents {
		k := t.keyFor(inc.Latitude, inc.Longitude)
		a, ok := accs[k]
		if !ok {
			a = &acc{cats: make(map[string]int)}
			accs[k] = a
		}
		a.count++
		a.sevSum += inc.Severity
		if inc.Severity > a.sevMax {
			a.sevMax = inc.Severity
		}
		a.latSum += inc.Latitude
		a.lonSum += inc.Longitude
		a.cats[inc.Category]++
	}

	keys := make([]Key, 0, len(accs))
	for k := range accs {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	t.Cells = make([]Cell, len(keys))
	t.index = make(map[Key]int, len(keys))
	for i, k := range keys {
		a := accs[k]
		n := float64(a.count)
		t.Cells[i] = Cell{
			Key:          k,
			Count:        a.count,
			MeanSeverity: float64(a.sevSum) / n,
			MaxSeverity:  a.sevMax,
			Categories:   a.cats,
			CentroidLat:  a.latSum / n,
			CentroidLon:  a.lonSum / n,
		}
		t.index[k] = i
	}

	score(t.Cells)
	for i := range t.Cells {
		t.Cells[i].Tier = t.Policy.Classify(t.Cells[i].Score)
	}
	return t, nil
}

// boundsOf returns the lon/lat bounding box of the incidents (X = lon).
func boundsOf(incidents []model.Incident) *geom.Bounds {
	flat := make([]float64, 0, 2*len(incidents))
	for _, inc := range incidents {
		flat = append(flat, inc.Longitude, inc.Latitude)
	}
	return geom.NewMultiPointFlat(geom.XY, flat).Bounds()
}

// keyFor applies floor((coord - min) / size) on both axes.
func (t *Table) keyFor(lat, lon float64) Key {
	return Key{
		Row: int(math.Floor((lat - t.MinLat) / t.SizeDeg)),
		Col: int(math.Floor((lon - t.MinLon) / t.SizeDeg)),
	}
}

func compareKeys(a, b Key) int {
	if a.Row != b.Row {
		return a.Row - b.Row
	}
	return a.Col - b.Col
}

// score sets the composite risk score of every cell: weighted standardized
// count, mean severity and max severity, then min-max rescaled to [0,1].
// When every composite is equal the rescale is undefined and all scores
// are set to 0.
func score(cells []Cell) {
	n := len(cells)
	counts := make([]float64, n)
	means := make([]float64, n)
	maxes := make([]float64, n)
	for i, c := range cells {
		counts[i] = float64(c.Count)
		means[i] = c.MeanSeverity
		maxes[i] = float64(c.MaxSeverity)
	}
	zc := standardize(counts)
	zm := standardize(means)
	zx := standardize(maxes)

	composite := make([]float64, n)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range cells {
		composite[i] = weightCount*zc[i] + weightMeanSeverity*zm[i] + weightMaxSeverity*zx[i]
		lo = math.Min(lo, composite[i])
		hi = math.Max(hi, composite[i])
	}

	span := hi - lo
	if span <= 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		zap.L().Warn("grid: degenerate score range, all cells scored 0",
			zap.Int("cells", n),
		)
		for i := range cells {
			cells[i].Score = 0
		}
		return
	}
	for i := range cells {
		s := (composite[i] - lo) / span
		cells[i].Score = math.Min(1, math.Max(0, s))
	}
}

// standardize returns (x - mean) / std using the population deviation.
// A constant column standardizes to all zeros.
func standardize(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	n := float64(len(xs))
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / n
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	std := math.Sqrt(ss / n)
	if std == 0 {
		return out
	}
	for i, x := range xs {
		out[i] = (x - mean) / std
	}
	return out
}
