package ingest

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/empowerher/riskgrid/internal/model"
)

// ReadTrack parses journey points from a CSV with latitude and longitude
// columns and an optional time column. Unlike incidents, a bad row fails
// the whole read: a journey with gaps is not meaningful.
func ReadTrack(ctx context.Context, r io.Reader) ([]model.TrackPoint, error) {
	rowCh, errCh := StreamCSV(ctx, r, CSVOptions{TrimSpace: true})

	var (
		points []model.TrackPoint
		cols   map[string]int
		err    error
		line   int
	)
	for record := range rowCh {
		line++
		if err != nil {
			continue
		}
		if cols == nil {
			cols = make(map[string]int, len(record))
			for i, name := range record {
				cols[strings.ToLower(name)] = i
			}
			if !hasAll(cols, "latitude", "longitude") {
				err = eris.Wrap(ErrMissingColumn, "latitude, longitude")
			}
			continue
		}
		if isBlank(record) {
			continue
		}
		var p model.TrackPoint
		p, err = parsePoint(cols, record)
		if err != nil {
			err = eris.Wrapf(err, "ingest: track line %d", line)
			continue
		}
		points = append(points, p)
	}
	if streamErr := <-errCh; streamErr != nil {
		return nil, streamErr
	}
	if err != nil {
		return nil, err
	}
	return points, nil
}

func parsePoint(cols map[string]int, record []string) (model.TrackPoint, error) {
	field := func(name string) string {
		if i, ok := cols[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}

	var (
		p   model.TrackPoint
		err error
	)
	if p.Latitude, err = parseFloat(field("latitude")); err != nil {
		return p, eris.Wrap(err, "latitude")
	}
	if p.Longitude, err = parseFloat(field("longitude")); err != nil {
		return p, eris.Wrap(err, "longitude")
	}
	p.Time = field("time")
	return p, model.ValidateCoordinates(p.Latitude, p.Longitude)
}

func hasAll(cols map[string]int, names ...string) bool {
	for _, n := range names {
		if _, ok := cols[n]; !ok {
			return false
		}
	}
	return true
}
