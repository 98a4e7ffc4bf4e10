// Package report summarizes a run as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gravfit/domain/anova"
	"gravfit/domain/fit"
	"gravfit/domain/run"
	"gravfit/internal"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/montanaflynn/stats"
)

// Section holds one dependent variable's results
type Section struct {
	DepVar  string
	Dataset string
	Params  fit.ParamTable
	GOF     []fit.GOFRow
	Anova   []anova.Result
	Skipped string // non-empty when the variable was not analyzed
}

// Writer renders reports into a directory
type Writer struct {
	dir    string
	logger *internal.Logger
}

// NewWriter creates a report writer
func NewWriter(dir string, logger *internal.Logger) *Writer {
	if logger == nil {
		logger = internal.NopLogger()
	}
	return &Writer{dir: dir, logger: logger.With("report")}
}

// Write renders report.md and report.html and returns both paths
func (w *Writer) Write(m *run.Manifest, sections []Section) ([]string, error) {
	md := Markdown(m, sections)
	page := HTML(md, "gravfit run "+m.RunID.String())

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for name, data := range map[string][]byte{"report.md": md, "report.html": page} {
		path := filepath.Join(w.dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	w.logger.Info("report written to %s", w.dir)
	return paths, nil
}

// Markdown renders the run summary
func Markdown(m *run.Manifest, sections []Section) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Run %s\n\n", m.RunID)
	fmt.Fprintf(&b, "- Started: %s\n", m.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Models: %v\n", m.Models)
	if !m.Fingerprint.Hash.IsEmpty() {
		fmt.Fprintf(&b, "- Fingerprint: `%s`\n", m.Fingerprint.Hash)
	}
	b.WriteString("\n")

	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n\n", s.DepVar)
		if s.Skipped != "" {
			fmt.Fprintf(&b, "Skipped: %s\n\n", s.Skipped)
			continue
		}
		if s.Dataset != "" {
			fmt.Fprintf(&b, "Dataset: `%s`\n\n", s.Dataset)
		}

		b.WriteString("| Model | Fits | Failed | Median R² | Median RMSE |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, model := range s.Params.Models() {
			rows := s.Params.ForModel(model)
			failed := fit.ParamTable{Rows: rows}.Failures()
			r2, rmse := medians(s.GOF, model)
			fmt.Fprintf(&b, "| %s | %d | %d | %s | %s |\n", model, len(rows), failed, cell(r2), cell(rmse))
		}
		b.WriteString("\n")

		for _, res := range s.Anova {
			fmt.Fprintf(&b, "### ANOVA: %s\n\n", res.Model)
			if len(res.Tables) > 0 {
				b.WriteString("| Parameter | Effect | df | F | p |\n")
				b.WriteString("|---|---|---|---|---|\n")
				for _, t := range res.Tables {
					for _, r := range t.Rows {
						fmt.Fprintf(&b, "| %s | %s | %g, %g | %s | %s |\n",
							t.Parameter, r.Effect, r.NumDF, r.DenDF, cell(r.F), pCell(r.PValue))
					}
				}
				b.WriteString("\n")
			}
			for _, skip := range res.Skipped {
				fmt.Fprintf(&b, "- %s skipped: %s\n", skip.Parameter, skip.Reason)
			}
			if len(res.Skipped) > 0 {
				b.WriteString("\n")
			}
		}
	}
	return b.Bytes()
}

// HTML converts Markdown into a standalone page
func HTML(md []byte, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse(md)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: title,
	})
	return markdown.Render(doc, renderer)
}

func medians(rows []fit.GOFRow, model string) (float64, float64) {
	var r2, rmse []float64
	for _, r := range rows {
		if r.Model != model {
			continue
		}
		if !fit.IsMissing(r.RSquared) {
			r2 = append(r2, r.RSquared)
		}
		if !fit.IsMissing(r.RMSE) {
			rmse = append(rmse, r.RMSE)
		}
	}
	return median(r2), median(rmse)
}

func median(values []float64) float64 {
	m, err := stats.Median(values)
	if err != nil {
		return fit.Missing
	}
	return m
}

func cell(v float64) string {
	if fit.IsMissing(v) {
		return "NA"
	}
	return fmt.Sprintf("%.4g", v)
}

func pCell(p float64) string {
	switch {
	case fit.IsMissing(p):
		return "NA"
	case p < 0.001:
		return "< 0.001 **"
	case p < 0.05:
		return fmt.Sprintf("%.3f *", p)
	default:
		return fmt.Sprintf("%.3f", p)
	}
}
