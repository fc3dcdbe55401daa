package rods

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
)

// Columns returns the CSV header for the given camera identifiers.
func Columns(cam1, cam2 string) []string {
	return []string{
		"x1", "y1", "z1", "x2", "y2", "z2", "x", "y", "z", "l",
		"x1_" + cam1, "y1_" + cam1, "x2_" + cam1, "y2_" + cam1,
		"x1_" + cam2, "y1_" + cam2, "x2_" + cam2, "y2_" + cam2,
		"frame", "seen_" + cam1, "seen_" + cam2, "color", "particle",
	}
}

// ErrMissingColumn is returned when a required CSV column is absent.
var ErrMissingColumn = errors.New("rods: missing column")

// DetectCameras returns the camera identifiers named by seen_<id> columns in
// header order.
func DetectCameras(header []string) (string, string, error) {
	var ids []string
	for _, h := range header {
		if strings.HasPrefix(h, "seen_") {
			ids = append(ids, strings.TrimPrefix(h, "seen_"))
		}
	}
	if len(ids) != 2 {
		return "", "", fmt.Errorf("%w: expected 2 seen_<camera> columns, found %d", ErrMissingColumn, len(ids))
	}
	return ids[0], ids[1], nil
}

// ReadCSV parses rod rows into a new Table. Empty camera identifiers are
// detected from the header; either way each camera needs at least one 2D
// column. Unknown and unnamed columns are ignored; empty
// and "nan" cells read as NaN. When the particle column is absent, rows are
// numbered in file order within each (color, frame).
func ReadCSV(r io.Reader, cam1, cam2 string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if cam1 == "" || cam2 == "" {
		if cam1, cam2, err = DetectCameras(header); err != nil {
			return nil, err
		}
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		index[h] = i
	}
	for _, col := range []string{"frame", "color"} {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, col)
		}
	}
	for _, id := range []string{cam1, cam2} {
		if !hasCameraColumns(index, id) {
			return nil, fmt.Errorf("%w: no 2D columns for camera %q", ErrMissingColumn, id)
		}
	}
	_, hasParticle := index["particle"]

	t := NewTable(cam1, cam2)
	counters := make(map[Key]int)
	var loaded []Rod
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := rowReader{rec: rec, index: index}

		frame, err := row.intField("frame")
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rod := Rod{
			Frame: frame,
			Color: row.strField("color"),
			Cost:  math.NaN(),
		}
		if hasParticle {
			if rod.Particle, err = row.intField("particle"); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		} else {
			key := Key{rod.Color, rod.Frame}
			rod.Particle = counters[key]
			counters[key]++
		}

		rod.P1.X, rod.P1.Y, rod.P1.Z = row.floatField("x1"), row.floatField("y1"), row.floatField("z1")
		rod.P2.X, rod.P2.Y, rod.P2.Z = row.floatField("x2"), row.floatField("y2"), row.floatField("z2")
		for c, id := range []string{cam1, cam2} {
			rod.Cam[c] = EndpointPair{
				{X: row.floatField("x1_" + id), Y: row.floatField("y1_" + id)},
				{X: row.floatField("x2_" + id), Y: row.floatField("y2_" + id)},
			}
			rod.Seen[c] = row.boolField("seen_" + id)
		}
		if row.has("cost") {
			rod.Cost = row.floatField("cost")
		}
		loaded = append(loaded, rod)
	}
	t.Append(loaded...)
	return t, nil
}

func hasCameraColumns(index map[string]int, id string) bool {
	for _, col := range []string{"x1_", "y1_", "x2_", "y2_"} {
		if _, ok := index[col+id]; ok {
			return true
		}
	}
	return false
}

type rowReader struct {
	rec   []string
	index map[string]int
}

func (r rowReader) has(col string) bool {
	i, ok := r.index[col]
	return ok && i < len(r.rec)
}

func (r rowReader) strField(col string) string {
	if !r.has(col) {
		return ""
	}
	return strings.TrimSpace(r.rec[r.index[col]])
}

func (r rowReader) floatField(col string) float64 {
	s := r.strField(col)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func (r rowReader) intField(col string) (int, error) {
	s := r.strField(col)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v != math.Trunc(v) {
		return 0, fmt.Errorf("column %q: invalid integer %q", col, s)
	}
	return int(v), nil
}

func (r rowReader) boolField(col string) bool {
	s := strings.ToLower(r.strField(col))
	switch s {
	case "true":
		return true
	case "", "false", "nan":
		return false
	}
	v, err := strconv.ParseFloat(s, 64)
	return err == nil && v != 0
}

// CSVWriter writes rods in the tabular rod format.
type CSVWriter struct {
	w    *csv.Writer
	cams [2]string
}

// NewCSVWriter creates a writer for the given camera identifiers.
func NewCSVWriter(w io.Writer, cam1, cam2 string) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w), cams: [2]string{cam1, cam2}}
}

// WriteHeader writes the column header.
func (c *CSVWriter) WriteHeader() error {
	return c.w.Write(Columns(c.cams[0], c.cams[1]))
}

// WriteRod writes one rod row.
func (c *CSVWriter) WriteRod(r Rod) error {
	center := r.Center()
	row := []string{
		formatFloat(r.P1.X), formatFloat(r.P1.Y), formatFloat(r.P1.Z),
		formatFloat(r.P2.X), formatFloat(r.P2.Y), formatFloat(r.P2.Z),
		formatFloat(center.X), formatFloat(center.Y), formatFloat(center.Z),
		formatFloat(r.Length()),
	}
	for c := 0; c < 2; c++ {
		row = append(row, formatPoint(r.Cam[c][0])...)
		row = append(row, formatPoint(r.Cam[c][1])...)
	}
	row = append(row,
		strconv.Itoa(r.Frame),
		formatBool(r.Seen[0]),
		formatBool(r.Seen[1]),
		r.Color,
		strconv.Itoa(r.Particle),
	)
	return c.w.Write(row)
}

// Flush flushes buffered rows and reports any write error.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// WriteCSV writes the whole table ordered by color, frame and particle.
func WriteCSV(w io.Writer, t *Table) error {
	cams := t.CameraIDs()
	cw := NewCSVWriter(w, cams[0], cams[1])
	if err := cw.WriteHeader(); err != nil {
		return err
	}
	for _, r := range t.Rows() {
		if err := cw.WriteRod(r); err != nil {
			return err
		}
	}
	return cw.Flush()
}

// LoadCSV reads a table from a file.
func LoadCSV(path, cam1, cam2 string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadCSV(f, cam1, cam2)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// SaveCSV writes a table to a file, replacing it.
func SaveCSV(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatPoint(p r2.Point) []string {
	return []string{formatFloat(p.X), formatFloat(p.Y)}
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
