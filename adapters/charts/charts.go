// Package charts renders result tables as PNG figures.
package charts

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gravfit/domain/anova"
	"gravfit/domain/fit"
	"gravfit/domain/trial"
	"gravfit/internal"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Renderer writes figures into one directory
type Renderer struct {
	dir    string
	logger *internal.Logger
}

// NewRenderer creates a chart renderer
func NewRenderer(dir string, logger *internal.Logger) *Renderer {
	if logger == nil {
		logger = internal.NopLogger()
	}
	return &Renderer{dir: dir, logger: logger.With("charts")}
}

// swatch is a filled legend entry; box plots do not draw their own thumbnail
type swatch struct {
	fill color.Color
}

// Thumbnail implements plot.Thumbnailer
func (s swatch) Thumbnail(c *draw.Canvas) {
	pts := []vg.Point{
		{X: c.Min.X, Y: c.Min.Y},
		{X: c.Min.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Min.Y},
	}
	c.FillPolygon(s.fill, c.ClipPolygonY(pts))
}

// condition is one gravity level × posture cell
type condition struct {
	gravity, posture string
}

func (c condition) label() string {
	return fmt.Sprintf("%sG %s", c.gravity, c.posture)
}

// GOFComparison draws R² and RMSE box plots across models, one box per condition.
// Missing statistics are left out; it returns the written paths.
func (r *Renderer) GOFComparison(rows []fit.GOFRow, depVar string) ([]string, error) {
	var paths []string
	for _, metric := range []struct {
		name, file string
		value      func(fit.GOFRow) float64
	}{
		{"R^2", "r_squared_comparison_by_condition_" + depVar + ".png", func(g fit.GOFRow) float64 { return g.RSquared }},
		{"RMSE", "rmse_comparison_by_condition_" + depVar + ".png", func(g fit.GOFRow) float64 { return g.RMSE }},
	} {
		path, err := r.boxPlot(rows, metric.name, metric.file, metric.value)
		if err != nil {
			return paths, err
		}
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func (r *Renderer) boxPlot(rows []fit.GOFRow, metric, file string, value func(fit.GOFRow) float64) (string, error) {
	var models []string
	seenModel := make(map[string]bool)
	var conds []condition
	seenCond := make(map[condition]bool)
	values := make(map[string]map[condition]plotter.Values)
	for _, row := range rows {
		v := value(row)
		if fit.IsMissing(v) {
			continue
		}
		c := condition{row.Key.Gravity, row.Key.Posture}
		if !seenModel[row.Model] {
			seenModel[row.Model] = true
			models = append(models, row.Model)
			values[row.Model] = make(map[condition]plotter.Values)
		}
		if !seenCond[c] {
			seenCond[c] = true
			conds = append(conds, c)
		}
		values[row.Model][c] = append(values[row.Model][c], v)
	}
	if len(models) == 0 {
		r.logger.Warn("no %s values to plot", metric)
		return "", nil
	}
	sortConditions(conds)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Comparison of %s Across Models, Grouped by Condition", metric)
	p.X.Label.Text = "Model"
	p.Y.Label.Text = metric

	width := vg.Points(40) / vg.Length(len(conds))
	for j, c := range conds {
		offset := (float64(j) - float64(len(conds)-1)/2) * 0.8 / float64(len(conds))
		drawn := false
		for i, m := range models {
			vs := values[m][c]
			if len(vs) == 0 {
				continue
			}
			box, err := plotter.NewBoxPlot(width, float64(i)+offset, vs)
			if err != nil {
				return "", fmt.Errorf("box plot %s %s: %w", m, c.label(), err)
			}
			box.FillColor = plotutil.Color(j)
			p.Add(box)
			drawn = true
		}
		if drawn {
			p.Legend.Add(c.label(), swatch{fill: plotutil.Color(j)})
		}
	}
	p.NominalX(models...)
	p.Legend.Top = true

	return r.save(p, file, 12, 6)
}

// ParamMeans plots each analyzed parameter's across-subject mean by gravity level, one line per
// posture, titled with the ANOVA p-values
func (r *Renderer) ParamMeans(params fit.ParamTable, result anova.Result, depVar string) ([]string, error) {
	rows := params.ForModel(result.Model)
	var paths []string
	for _, table := range result.Tables {
		idx := paramIndex(table.Parameter)
		if idx < 0 {
			continue
		}
		byPosture := meansByPosture(rows, idx)
		if len(byPosture) == 0 {
			continue
		}

		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s %s %s\n%s", depVar, result.Model, table.Parameter, pValueSummary(table))
		p.X.Label.Text = "Gravity level (G)"
		p.Y.Label.Text = "Mean " + table.Parameter

		postures := make([]string, 0, len(byPosture))
		for posture := range byPosture {
			postures = append(postures, posture)
		}
		sort.Strings(postures)
		for i, posture := range postures {
			line, points, err := plotter.NewLinePoints(byPosture[posture])
			if err != nil {
				return paths, fmt.Errorf("line for %s: %w", posture, err)
			}
			line.Color = plotutil.Color(i)
			points.Color = plotutil.Color(i)
			points.Shape = plotutil.Shape(i)
			p.Add(line, points)
			p.Legend.Add(posture, line, points)
		}

		path, err := r.save(p, fmt.Sprintf("param_means_%s_%s_%s.png", depVar, result.Model, table.Parameter), 6, 4)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (r *Renderer) save(p *plot.Plot, file string, w, h float64) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(r.dir, file)
	if err := p.Save(vg.Length(w)*vg.Inch, vg.Length(h)*vg.Inch, path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	r.logger.Debug("saved %s", path)
	return path, nil
}

// meansByPosture averages a parameter over subjects per (posture, numeric gravity level)
func meansByPosture(rows []fit.ParamRow, idx int) map[string]plotter.XYs {
	type cell struct {
		sum float64
		n   int
	}
	cells := make(map[string]map[float64]*cell)
	for _, row := range rows {
		v, ok := row.Param(idx)
		if !ok {
			continue
		}
		g, err := parseLevel(row.Key.Gravity)
		if err != nil {
			continue
		}
		if cells[row.Key.Posture] == nil {
			cells[row.Key.Posture] = make(map[float64]*cell)
		}
		c := cells[row.Key.Posture][g]
		if c == nil {
			c = &cell{}
			cells[row.Key.Posture][g] = c
		}
		c.sum += v
		c.n++
	}

	out := make(map[string]plotter.XYs, len(cells))
	for posture, byLevel := range cells {
		levels := make([]float64, 0, len(byLevel))
		for g := range byLevel {
			levels = append(levels, g)
		}
		sort.Float64s(levels)
		xys := make(plotter.XYs, len(levels))
		for i, g := range levels {
			xys[i] = plotter.XY{X: g, Y: byLevel[g].sum / float64(byLevel[g].n)}
		}
		out[posture] = xys
	}
	return out
}

func pValueSummary(t anova.Table) string {
	s := ""
	for i, row := range t.Rows {
		if i > 0 {
			s += ", "
		}
		if fit.IsMissing(row.PValue) {
			s += fmt.Sprintf("%s p=NA", row.Effect)
			continue
		}
		s += fmt.Sprintf("%s p=%.3g", row.Effect, row.PValue)
	}
	return s
}

func paramIndex(column string) int {
	var i int
	if _, err := fmt.Sscanf(column, "param_%d", &i); err != nil {
		return -1
	}
	return i
}

func parseLevel(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func sortConditions(conds []condition) {
	sort.SliceStable(conds, func(i, j int) bool {
		if c := trial.CompareLevels(conds[i].gravity, conds[j].gravity); c != 0 {
			return c < 0
		}
		return conds[i].posture < conds[j].posture
	})
}
