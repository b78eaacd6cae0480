package assess

import (
	"bytes"
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/model"
	"github.com/empowerher/riskgrid/internal/predictor"
	"github.com/empowerher/riskgrid/internal/store"
)

// ErrNoArtifacts is returned by LoadBundle before the first fit.
var ErrNoArtifacts = eris.New("assess: no fitted artifacts in store")

// Bundle is the output of one training pass over an incident set.
type Bundle struct {
	Encoder  *features.Encoder
	Centroid *predictor.Centroid // nil when a remote classifier is used
	Table    *grid.Table
	Labels   features.LabelDistribution
}

// Train fits a fresh encoder and grid table over incidents, and the local
// centroid classifier when local is set.
func Train(incidents []model.Incident, encCfg features.Config, gridCfg grid.Config, local bool) (*Bundle, error) {
	table, err := grid.Compute(incidents, gridCfg)
	if err != nil {
		return nil, eris.Wrap(err, "assess: build grid")
	}

	enc := features.NewEncoder(encCfg)
	tbl, labels, err := enc.Fit(incidents)
	if err != nil {
		return nil, eris.Wrap(err, "assess: fit encoder")
	}

	b := &Bundle{Encoder: enc, Table: table, Labels: enc.Labeler().Distribution(incidents)}
	if local {
		if b.Centroid, err = predictor.FitCentroid(tbl, labels); err != nil {
			return nil, eris.Wrap(err, "assess: fit classifier")
		}
	}
	return b, nil
}

// Save persists every artifact of the bundle.
func (b *Bundle) Save(ctx context.Context, st store.Store) error {
	var buf bytes.Buffer
	if err := b.Encoder.Save(&buf); err != nil {
		return err
	}
	if _, err := st.SaveArtifact(ctx, store.KindEncoder, bytes.Clone(buf.Bytes())); err != nil {
		return err
	}

	buf.Reset()
	if err := grid.WriteSnapshot(&buf, b.Table.Snapshot()); err != nil {
		return err
	}
	if _, err := st.SaveArtifact(ctx, store.KindGridSnapshot, bytes.Clone(buf.Bytes())); err != nil {
		return err
	}

	if b.Centroid != nil {
		buf.Reset()
		if err := b.Centroid.Save(&buf); err != nil {
			return err
		}
		if _, err := st.SaveArtifact(ctx, store.KindClassifier, bytes.Clone(buf.Bytes())); err != nil {
			return err
		}
	}
	return nil
}

// LoadBundle restores the last saved bundle. The grid table is rebuilt
// from its snapshot; a missing classifier leaves Centroid nil.
func LoadBundle(ctx context.Context, st store.Store) (*Bundle, error) {
	encArt, err := st.LoadArtifact(ctx, store.KindEncoder)
	if err != nil {
		return nil, err
	}
	gridArt, err := st.LoadArtifact(ctx, store.KindGridSnapshot)
	if err != nil {
		return nil, err
	}
	if encArt == nil || gridArt == nil {
		return nil, ErrNoArtifacts
	}

	enc, err := features.Load(bytes.NewReader(encArt.Blob))
	if err != nil {
		return nil, err
	}
	snap, err := grid.ReadSnapshot(bytes.NewReader(gridArt.Blob))
	if err != nil {
		return nil, err
	}
	table, err := grid.Compute(snap.Incidents, grid.Config{SizeDeg: snap.SizeDeg, Tiers: snap.Policy})
	if err != nil {
		return nil, eris.Wrap(err, "assess: rebuild grid from snapshot")
	}

	b := &Bundle{Encoder: enc, Table: table, Labels: enc.Labeler().Distribution(snap.Incidents)}

	clsArt, err := st.LoadArtifact(ctx, store.KindClassifier)
	if err != nil {
		return nil, err
	}
	if clsArt != nil {
		if b.Centroid, err = predictor.LoadCentroid(bytes.NewReader(clsArt.Blob)); err != nil {
			return nil, err
		}
	}

	zap.L().Info("assess: artifacts loaded",
		zap.Time("encoder_saved_at", encArt.CreatedAt),
		zap.Int("incidents", len(snap.Incidents)),
		zap.Bool("local_classifier", b.Centroid != nil),
	)
	return b, nil
}
