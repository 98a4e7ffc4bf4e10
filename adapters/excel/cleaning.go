package excel

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gravfit/domain/core"
	"gravfit/domain/trial"
	"gravfit/internal"
)

// Metadata columns added to every cleaned row
const (
	ColSourceFolder = "source_folder"
	ColFlight       = "flight"
	ColTrialGroup   = "use_for_2025"
	ColCSVFile      = "csvfile"
)

// TrialGroup maps a processed-data folder to the dataset it feeds
type TrialGroup struct {
	Folder string
	Name   string
}

// DefaultTrialGroups are the midline (vertical/rear) and pointback (displacement/midline) trial sets
var DefaultTrialGroups = []TrialGroup{
	{Folder: "flight_xls_midline", Name: "v_r_trials"},
	{Folder: "flight_xls_pointback", Name: "d_ml_trials"},
}

// CleanedFileName is the per-group output name consumed by the analysis pipeline
func CleanedFileName(group string) string {
	return group + "_cleaned_allsubj.csv"
}

// Cleaner combines per-flight raw files into analysis-ready tables
type Cleaner struct {
	logger *internal.Logger
}

// NewCleaner creates a raw-data cleaner
func NewCleaner(logger *internal.Logger) *Cleaner {
	if logger == nil {
		logger = internal.NopLogger()
	}
	return &Cleaner{logger: logger.With("cleaning")}
}

// ReadGroup reads every <rawDir>/<folder>/<flight>/<file>, tagging rows with folder, flight and
// trial group. Hidden files are ignored; unreadable files are logged and skipped.
func (c *Cleaner) ReadGroup(rawDir string, group TrialGroup) (*trial.Table, error) {
	dir := filepath.Join(rawDir, group.Folder)
	flights, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var tables []*trial.Table
	for _, flight := range flights {
		if !flight.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, flight.Name()))
		if err != nil {
			c.logger.Warn("skipping flight %s: %v", flight.Name(), err)
			continue
		}
		for _, file := range files {
			if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
				continue
			}
			path := filepath.Join(dir, flight.Name(), file.Name())
			t, err := NewDataReader(path, c.logger).ReadData()
			if err != nil {
				c.logger.Error("error reading %s: %v", path, err)
				continue
			}
			tag(t, map[string]string{
				ColSourceFolder: group.Folder,
				ColFlight:       flight.Name(),
				ColTrialGroup:   group.Name,
			})
			tables = append(tables, t)
		}
	}

	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: no valid files found in %s", core.ErrEmptyTable, group.Folder)
	}
	combined := Concat(tables...)
	c.logger.Info("stored %s (rows: %d)", group.Name, len(combined.Rows))
	return combined, nil
}

// Concat stacks tables; the header is the union of headers in first-seen order and absent cells are empty
func Concat(tables ...*trial.Table) *trial.Table {
	out := &trial.Table{}
	seen := make(map[string]bool)
	for _, t := range tables {
		for _, h := range t.Headers {
			if !seen[h] {
				seen[h] = true
				out.Headers = append(out.Headers, h)
			}
		}
	}
	for _, t := range tables {
		for _, row := range t.Rows {
			r := make(trial.Row, len(out.Headers))
			for _, h := range out.Headers {
				r[h] = row[h]
			}
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

func tag(t *trial.Table, values map[string]string) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		setColumn(t, k, func(trial.Row) string { return values[k] })
	}
}

func setColumn(t *trial.Table, name string, value func(trial.Row) string) {
	if !t.HasColumn(name) {
		t.Headers = append(t.Headers, name)
	}
	for _, row := range t.Rows {
		row[name] = value(row)
	}
}

// DeriveVariables adds the analysis columns computable from raw ones, when their sources exist:
// subj_idx and bed_chair from the recorded csvfile path, abs_turn_displacement and
// intended_abs_peak_velocity_cat.
func DeriveVariables(t *trial.Table) {
	if t.HasColumn(ColCSVFile) {
		setColumn(t, trial.ColSubject, func(r trial.Row) string { return SubjectFromPath(r[ColCSVFile]) })
		setColumn(t, trial.ColPosture, func(r trial.Row) string { return PostureFromPath(r[ColCSVFile]) })
	}
	if t.HasColumn("turn_displacement") {
		setColumn(t, "abs_turn_displacement", func(r trial.Row) string {
			return mapNumber(r["turn_displacement"], math.Abs)
		})
	}
	if t.HasColumn("intended_abs_peak_velocity") {
		setColumn(t, "intended_abs_peak_velocity_cat", func(r trial.Row) string {
			return mapNumber(r["intended_abs_peak_velocity"], math.Trunc)
		})
	}
}

// SubjectFromPath takes the file name's first underscore-separated token, e.g. ".../S07_run-v_3.csv" gives "S07"
func SubjectFromPath(path string) string {
	base := path[strings.LastIndex(path, "/")+1:]
	if base == "" {
		return ""
	}
	return strings.Split(base, "_")[0]
}

// PostureFromPath takes the last dash-separated token of the second-to-last underscore field,
// e.g. ".../S07_run-v_3.csv" gives "v" (v = bed, r = chair)
func PostureFromPath(path string) string {
	parts := strings.Split(path, "_")
	if len(parts) < 2 {
		return ""
	}
	field := parts[len(parts)-2]
	return field[strings.LastIndex(field, "-")+1:]
}

func mapNumber(raw string, f func(float64) float64) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(f(v), 'g', -1, 64)
}

// Reduce keeps the listed columns that exist, in keep-list order. No surviving column is an error.
func Reduce(t *trial.Table, keep []string) (*trial.Table, error) {
	var cols []string
	for _, c := range keep {
		if t.HasColumn(c) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: none of the %d kept variables are present", core.ErrMissingColumn, len(keep))
	}

	out := &trial.Table{Headers: cols, Rows: make([]trial.Row, 0, len(t.Rows))}
	for _, row := range t.Rows {
		r := make(trial.Row, len(cols))
		for _, c := range cols {
			r[c] = row[c]
		}
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

// ReadKeepList reads a headerless single-column CSV of variable names, dropping blanks
func ReadKeepList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var out []string
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		if v := strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff")); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s lists no variables", core.ErrEmptyTable, path)
	}
	return out, nil
}
