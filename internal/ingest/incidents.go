package ingest

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/model"
)

// ErrMissingColumn is returned when a required header column is absent.
var ErrMissingColumn = eris.New("ingest: missing required column")

var requiredColumns = []string{
	model.ColID, model.ColCategory, model.ColLatitude, model.ColLongitude, model.ColSeverity,
}

// RowError describes a skipped row. Line is 1-based and counts the header.
type RowError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

// Result is the outcome of reading one source.
type Result struct {
	Incidents []model.Incident `json:"-"`
	Read      int              `json:"read"`
	Skipped   int              `json:"skipped"`
	Problems  []RowError       `json:"problems,omitempty"`
}

func (r *Result) skip(line int, err error) {
	r.Skipped++
	// Keep the report bounded on badly broken files.
	if len(r.Problems) < 100 {
		r.Problems = append(r.Problems, RowError{Line: line, Err: err.Error()})
	}
}

// Header maps canonical column names to record positions.
type Header map[string]int

// NewHeader matches column names case-insensitively, ignoring surrounding
// whitespace and a UTF-8 byte order mark. Every required column must be
// present.
func NewHeader(record []string) (Header, error) {
	canonical := make(map[string]string, len(model.Columns))
	for _, c := range model.Columns {
		canonical[strings.ToLower(c)] = c
	}

	h := make(Header, len(record))
	for i, name := range record {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if c, ok := canonical[key]; ok {
			if _, dup := h[c]; !dup {
				h[c] = i
			}
		}
	}

	var missing []string
	for _, c := range requiredColumns {
		if _, ok := h[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrMissingColumn, "%s", strings.Join(missing, ", "))
	}
	return h, nil
}

func (h Header) get(record []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// Parse converts one record into a validated incident.
func (h Header) Parse(record []string) (model.Incident, error) {
	inc := model.Incident{
		ID:       h.get(record, model.ColID),
		Category: h.get(record, model.ColCategory),
		Location: h.get(record, model.ColLocation),
		Date:     h.get(record, model.ColDate),
		Time:     h.get(record, model.ColTime),
		Station:  h.get(record, model.ColStation),
	}

	var err error
	if inc.Latitude, err = parseFloat(h.get(record, model.ColLatitude)); err != nil {
		return inc, eris.Wrap(err, "latitude")
	}
	if inc.Longitude, err = parseFloat(h.get(record, model.ColLongitude)); err != nil {
		return inc, eris.Wrap(err, "longitude")
	}
	if inc.Severity, err = parseSeverity(h.get(record, model.ColSeverity)); err != nil {
		return inc, eris.Wrap(err, "severity")
	}
	if err := model.Validate(inc); err != nil {
		return inc, err
	}
	return inc, nil
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("not a number: %q", s)
	}
	return f, nil
}

// parseSeverity accepts integers and whole floats such as "3.0", which
// spreadsheet exports produce.
func parseSeverity(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, eris.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}

// collect parses rows following the header, skipping and counting rows
// that fail. Blank rows are ignored silently.
func collect(res *Result, h Header, line int, record []string) {
	if isBlank(record) {
		return
	}
	res.Read++
	inc, err := h.Parse(record)
	if err != nil {
		res.skip(line, err)
		return
	}
	res.Incidents = append(res.Incidents, inc)
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// ReadCSV parses incidents from a CSV stream with a header row.
func ReadCSV(ctx context.Context, r io.Reader) (*Result, error) {
	rowCh, errCh := StreamCSV(ctx, r, CSVOptions{LazyQuotes: true, TrimSpace: true})

	res := &Result{}
	var (
		header Header
		hdrErr error
		line   int
	)
	for record := range rowCh {
		line++
		if hdrErr != nil {
			continue // drain
		}
		if header == nil {
			header, hdrErr = NewHeader(record)
			continue
		}
		collect(res, header, line, record)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if hdrErr != nil {
		return nil, hdrErr
	}
	if header == nil {
		return nil, eris.New("ingest: empty input")
	}
	return res, nil
}

// ReadXLSXFile parses incidents from the first worksheet of an XLSX file.
func ReadXLSXFile(path string, opts XLSXOptions) (*Result, error) {
	rows, err := ReadXLSX(path, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("ingest: empty input")
	}
	header, err := NewHeader(rows[0])
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for i, record := range rows[1:] {
		collect(res, header, i+2, record)
	}
	return res, nil
}

// ReadFile dispatches on the file extension: .csv, .csv.zst, .xlsx, or a
// .zip holding one file of those types.
func ReadFile(ctx context.Context, path string) (*Result, error) {
	lower := strings.ToLower(path)
	var (
		res *Result
		err error
	)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return readZipFile(ctx, path)
	case strings.HasSuffix(lower, ".xlsx"):
		res, err = ReadXLSXFile(path, XLSXOptions{})
	case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".csv.zst"):
		res, err = readCSVFile(ctx, path, strings.HasSuffix(lower, ".zst"))
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", filepath.Base(path))
	}

	zap.L().Info("ingest: file read",
		zap.String("path", path),
		zap.Int("read", res.Read),
		zap.Int("accepted", len(res.Incidents)),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func readZipFile(ctx context.Context, path string) (*Result, error) {
	dir, err := os.MkdirTemp("", "riskgrid-unzip-")
	if err != nil {
		return nil, eris.Wrap(err, "ingest: temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	inner, err := ExtractSingle(path, dir)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(strings.ToLower(inner), ".zip") {
		return nil, eris.New("ingest: nested zip archives are not supported")
	}
	return ReadFile(ctx, inner)
}

func readCSVFile(ctx context.Context, path string, compressed bool) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open")
	}
	defer f.Close() //nolint:errcheck

	var r io.Reader = f
	if compressed {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: zstd reader")
		}
		defer zr.Close()
		r = zr
	}
	return ReadCSV(ctx, r)
}

// Summary renders a one-line report of a read.
func (r *Result) Summary() string {
	return fmt.Sprintf("read %d rows, accepted %d, skipped %d", r.Read, len(r.Incidents), r.Skipped)
}
