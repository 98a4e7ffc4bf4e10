package export

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gravfit/adapters/excel"
	"gravfit/domain/core"
	"gravfit/domain/fit"
	"gravfit/domain/trial"
	"gravfit/internal/errors"
)

// ReadTable loads a plain or compressed CSV written by an Exporter
func ReadTable(path string) (*trial.Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IOError("read "+path, err)
	}
	data, err := CodecForPath(path).Decompress(raw)
	if err != nil {
		return nil, errors.IOError("decompress "+path, err)
	}
	t, err := excel.ReadCSV(bytes.NewReader(data), path, nil)
	if err != nil {
		return nil, errors.InputShape("parse "+path, err)
	}
	return t, nil
}

// ReadParams loads a fitted-parameters table. Trailing empty parameter cells are padding;
// a row with no parameters is a failed fit.
func ReadParams(path string) (fit.ParamTable, error) {
	t, err := ReadTable(path)
	if err != nil {
		return fit.ParamTable{}, err
	}
	return ParseParams(t)
}

// ParseParams converts a parameters CSV table back into fitted rows
func ParseParams(t *trial.Table) (fit.ParamTable, error) {
	required := append(append([]string{}, keyColumns...), ColModel)
	if err := t.Require(required...); err != nil {
		return fit.ParamTable{}, errors.InputShape("fitted parameters rejected", err)
	}

	var paramCols []string
	for i := 0; t.HasColumn(fit.ParamColumn(i)); i++ {
		paramCols = append(paramCols, fit.ParamColumn(i))
	}

	out := fit.ParamTable{Rows: make([]fit.ParamRow, 0, len(t.Rows))}
	for n, row := range t.Rows {
		r := fit.ParamRow{
			Key: trial.GroupKey{
				Subject: row[trial.ColSubject],
				Gravity: trial.NormalizeLevel(row[trial.ColGravity]),
				Posture: row[trial.ColPosture],
			},
			Model: row[ColModel],
		}

		last := -1
		for i, c := range paramCols {
			if strings.TrimSpace(row[c]) != "" {
				last = i
			}
		}
		for i := 0; i <= last; i++ {
			raw := strings.TrimSpace(row[paramCols[i]])
			if raw == "" {
				return fit.ParamTable{}, errors.InputShape("fitted parameters rejected",
					fmt.Errorf("%w: row %d has a gap at %s", core.ErrBadValue, n+1, paramCols[i]))
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fit.ParamTable{}, errors.InputShape("fitted parameters rejected", core.NewBadValueError(paramCols[i], n+1, raw))
			}
			r.Params = append(r.Params, v)
		}
		if r.Failed() {
			r.Failure = "no parameters recorded"
		}
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}
