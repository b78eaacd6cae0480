package grid

import (
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"

	"github.com/empowerher/riskgrid/internal/model"
)

// Snapshot is everything needed to rebuild a table deterministically.
type Snapshot struct {
	SizeDeg   float64          `json:"size_deg"`
	Policy    Policy           `json:"policy"`
	Incidents []model.Incident `json:"incidents"`
}

// Snapshot captures the table's build inputs.
func (t *Table) Snapshot() Snapshot {
	return Snapshot{SizeDeg: t.SizeDeg, Policy: t.Policy, Incidents: t.Incidents()}
}

// WriteSnapshot writes s as zstd-compressed JSON.
func WriteSnapshot(w io.Writer, s Snapshot) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return eris.Wrap(err, "grid: create zstd writer")
	}
	if err := json.NewEncoder(zw).Encode(s); err != nil {
		_ = zw.Close()
		return eris.Wrap(err, "grid: encode snapshot")
	}
	return eris.Wrap(zw.Close(), "grid: flush snapshot")
}

// ReadSnapshot reads a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return Snapshot{}, eris.Wrap(err, "grid: create zstd reader")
	}
	defer zr.Close()

	var s Snapshot
	if err := json.NewDecoder(zr).Decode(&s); err != nil {
		return Snapshot{}, eris.Wrap(err, "grid: decode snapshot")
	}
	return s, nil
}

// SaveSnapshot writes the current table's snapshot.
func (e *Engine) SaveSnapshot(w io.Writer) error {
	t, err := e.Current()
	if err != nil {
		return err
	}
	return WriteSnapshot(w, t.Snapshot())
}

// LoadSnapshot rebuilds and publishes a table from a snapshot. The
// snapshot's own grid size and policy are used, not the engine's.
func (e *Engine) LoadSnapshot(r io.Reader) (Summary, error) {
	s, err := ReadSnapshot(r)
	if err != nil {
		return Summary{}, err
	}
	t, err := Compute(s.Incidents, Config{SizeDeg: s.SizeDeg, Tiers: s.Policy})
	if err != nil {
		return Summary{}, eris.Wrap(err, "grid: rebuild from snapshot")
	}
	e.Publish(t)
	return t.Summary(), nil
}
