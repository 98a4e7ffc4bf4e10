package anova

import (
	"gravfit/domain/fit"
)

// Effect names a tested source of variation
type Effect string

const (
	EffectGravity     Effect = "g_level_corrected"
	EffectPosture     Effect = "bed_chair"
	EffectInteraction Effect = "g_level_corrected:bed_chair"
)

// Effects lists the tested effects in report order
var Effects = []Effect{EffectGravity, EffectPosture, EffectInteraction}

// EffectRow is one line of an ANOVA table. F and PValue are missing when the error term is degenerate.
type EffectRow struct {
	Effect Effect
	NumDF  float64
	DenDF  float64
	SS     float64
	SSErr  float64
	F      float64
	PValue float64
}

// Table is the ANOVA result for one parameter column
type Table struct {
	Parameter string
	Subjects  int
	Rows      []EffectRow
}

// Row returns the line for an effect
func (t Table) Row(e Effect) (EffectRow, bool) {
	for _, r := range t.Rows {
		if r.Effect == e {
			return r, true
		}
	}
	return EffectRow{Effect: e, F: fit.Missing, PValue: fit.Missing}, false
}

// Skip records a parameter that was not analyzed and why
type Skip struct {
	Parameter string
	Reason    string
}

// Result collects per-parameter tables for one model
type Result struct {
	Model   string
	Tables  []Table
	Skipped []Skip
}

// Table looks up the table for a parameter column
func (r Result) Table(parameter string) (Table, bool) {
	for _, t := range r.Tables {
		if t.Parameter == parameter {
			return t, true
		}
	}
	return Table{}, false
}
