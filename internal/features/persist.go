package features

import (
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
)

// Save writes the fitted state as zstd-compressed JSON. Floats round-trip
// exactly through encoding/json.
func (e *Encoder) Save(w io.Writer) error {
	f := e.state.Load()
	if f == nil {
		return ErrNotFitted
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return eris.Wrap(err, "features: create zstd writer")
	}
	if err := json.NewEncoder(zw).Encode(f.State); err != nil {
		_ = zw.Close()
		return eris.Wrap(err, "features: encode state")
	}
	if err := zw.Close(); err != nil {
		return eris.Wrap(err, "features: flush zstd writer")
	}
	return nil
}

// Load reads a state written by Save and returns a fitted encoder.
func Load(r io.Reader) (*Encoder, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "features: create zstd reader")
	}
	defer zr.Close()

	var st State
	if err := json.NewDecoder(zr).Decode(&st); err != nil {
		return nil, eris.Wrap(err, "features: decode state")
	}
	if err := validateState(st); err != nil {
		return nil, err
	}

	e := NewEncoder(Config{CategoricalColumns: st.Columns, HighRiskCategories: st.HighRisk})
	e.state.Store(newFitted(st))
	return e, nil
}

func validateState(st State) error {
	if len(st.Columns) == 0 {
		return eris.New("features: state has no categorical columns")
	}
	for _, col := range st.Columns {
		if len(st.Categories[col]) == 0 {
			return eris.Errorf("features: state has no categories for column %q", col)
		}
	}
	for _, name := range scaledFeatures {
		if _, ok := st.Means[name]; !ok {
			return eris.Errorf("features: state missing mean for %q", name)
		}
		if s, ok := st.Scales[name]; !ok || s == 0 {
			return eris.Errorf("features: state missing scale for %q", name)
		}
	}
	return nil
}
