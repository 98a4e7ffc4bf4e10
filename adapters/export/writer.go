// Package export writes and reads the pipeline's result tables as CSV files.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gravfit/domain/anova"
	"gravfit/domain/fit"
	"gravfit/domain/trial"
	"gravfit/internal"
	"gravfit/internal/descriptives"
	"gravfit/internal/errors"
)

// Column headers shared by writers and readers
const (
	ColModel     = "model"
	ColRSquared  = "R_squared"
	ColRMSE      = "RMSE"
	ColParameter = "parameter"
	ColEffect    = "effect"
	ColNumDF     = "num_df"
	ColDenDF     = "den_df"
	ColF         = "F"
	ColPValue    = "p_value"
)

var keyColumns = []string{trial.ColSubject, trial.ColGravity, trial.ColPosture}

// Exporter writes result tables under one directory
type Exporter struct {
	dir    string
	codec  Codec
	logger *internal.Logger
}

// NewExporter creates an exporter; the directory is created on first write
func NewExporter(dir string, codec Codec, logger *internal.Logger) *Exporter {
	if codec == nil {
		codec = NoopCodec{}
	}
	if logger == nil {
		logger = internal.NopLogger()
	}
	return &Exporter{dir: dir, codec: codec, logger: logger.With("export")}
}

// Dir is the output directory
func (e *Exporter) Dir() string { return e.dir }

// Path returns where a table with the given base name is written
func (e *Exporter) Path(name string) string {
	return filepath.Join(e.dir, name+".csv"+e.codec.Extension())
}

// WriteParams writes subj_idx,g_level_corrected,bed_chair,model,param_0.. padded to the table width
func (e *Exporter) WriteParams(name string, table fit.ParamTable) (string, error) {
	width := table.Width()
	header := append(append([]string{}, keyColumns...), ColModel)
	for i := 0; i < width; i++ {
		header = append(header, fit.ParamColumn(i))
	}

	records := make([][]string, 0, len(table.Rows))
	for _, r := range table.Rows {
		rec := append(keyRecord(r.Key), r.Model)
		for i := 0; i < width; i++ {
			v, _ := r.Param(i)
			rec = append(rec, FormatFloat(v))
		}
		records = append(records, rec)
	}
	return e.write(name, header, records)
}

// WriteGOF writes one goodness-of-fit row per evaluated fit
func (e *Exporter) WriteGOF(name string, rows []fit.GOFRow) (string, error) {
	header := append(append([]string{}, keyColumns...), ColModel, ColRSquared, ColRMSE)
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, append(keyRecord(r.Key), r.Model, FormatFloat(r.RSquared), FormatFloat(r.RMSE)))
	}
	return e.write(name, header, records)
}

// WriteAnova writes every analyzed parameter's effect lines. Skipped parameters have no rows.
func (e *Exporter) WriteAnova(name string, result anova.Result) (string, error) {
	header := []string{ColParameter, ColEffect, ColNumDF, ColDenDF, ColF, ColPValue}
	var records [][]string
	for _, t := range result.Tables {
		for _, r := range t.Rows {
			records = append(records, []string{
				t.Parameter, string(r.Effect),
				FormatFloat(r.NumDF), FormatFloat(r.DenDF),
				FormatFloat(r.F), FormatFloat(r.PValue),
			})
		}
	}
	return e.write(name, header, records)
}

// WriteSubjectStats writes group vars, subj_idx and <var>_count/_mean/_std per variable
func (e *Exporter) WriteSubjectStats(name string, res descriptives.Result) (string, error) {
	header := append(append([]string{}, res.GroupVars...), trial.ColSubject)
	for _, v := range res.Variables {
		header = append(header, v+"_count", v+"_mean", v+"_std")
	}
	records := make([][]string, 0, len(res.Subjects))
	for _, r := range res.Subjects {
		rec := append(append([]string{}, r.Levels...), r.Subject)
		for _, s := range r.Stats {
			rec = append(rec, strconv.Itoa(s.Count), FormatFloat(s.Mean), FormatFloat(s.Std))
		}
		records = append(records, rec)
	}
	return e.write(name, header, records)
}

// WriteGrandMeans writes group vars and <var>_mean/_std of subject means
func (e *Exporter) WriteGrandMeans(name string, res descriptives.Result) (string, error) {
	header := append([]string{}, res.GroupVars...)
	for _, v := range res.Variables {
		header = append(header, v+"_mean", v+"_std")
	}
	records := make([][]string, 0, len(res.Grand))
	for _, r := range res.Grand {
		rec := append([]string{}, r.Levels...)
		for _, s := range r.Stats {
			rec = append(rec, FormatFloat(s.Mean), FormatFloat(s.Std))
		}
		records = append(records, rec)
	}
	return e.write(name, header, records)
}

// WriteTable writes an arbitrary trial table in header order
func (e *Exporter) WriteTable(name string, t *trial.Table) (string, error) {
	records := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make([]string, len(t.Headers))
		for i, h := range t.Headers {
			rec[i] = row[h]
		}
		records = append(records, rec)
	}
	return e.write(name, t.Headers, records)
}

// write renders, compresses and atomically replaces the target file
func (e *Exporter) write(name string, header []string, records [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", errors.IOError("render "+name, err)
	}
	if err := w.WriteAll(records); err != nil {
		return "", errors.IOError("render "+name, err)
	}

	data, err := e.codec.Compress(buf.Bytes())
	if err != nil {
		return "", errors.IOError("compress "+name, err)
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", errors.IOError("create output directory", err)
	}
	path := e.Path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.IOError(fmt.Sprintf("write %s", path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", errors.IOError(fmt.Sprintf("write %s", path), err)
	}

	e.logger.Info("wrote %s (%d rows)", path, len(records))
	return path, nil
}

func keyRecord(k trial.GroupKey) []string {
	return []string{k.Subject, k.Gravity, k.Posture}
}

// FormatFloat renders missing values as empty cells
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
