// Package models holds the named curve families the fitting stages can use.
package models

import (
	"fmt"
	"strings"

	"gravfit/domain/core"
)

// Func evaluates a model at x with exactly Arity parameters
type Func func(x float64, p []float64) float64

// GradFunc writes ∂f/∂p_i at x into dst (len Arity)
type GradFunc func(x float64, p, dst []float64)

// Model is a pure function of one independent variable with a declared parameter count
type Model struct {
	Name  string
	Arity int
	Func  Func
	Grad  GradFunc // optional; fitters fall back to finite differences
}

// Eval evaluates the model at every x using the first Arity entries of p
func (m Model) Eval(xs, p []float64) []float64 {
	params := p[:m.Arity]
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = m.Func(x, params)
	}
	return out
}

// Registry maps model names to models; it is passed explicitly rather than kept global
type Registry struct {
	models map[string]Model
	order  []string
}

// NewRegistry returns a registry holding the built-in polynomial family
func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]Model)}
	builtIn := []struct {
		name  string
		arity int
	}{
		{"linear", 2},
		{"quadratic", 3},
		{"cubic", 4},
		{"quartic", 5},
	}
	for _, b := range builtIn {
		// cannot fail: names are unique and non-empty
		_ = r.Register(Polynomial(b.name, b.arity))
	}
	return r
}

// Register adds a model, rejecting blank names, non-positive arity, nil functions and duplicates
func (r *Registry) Register(m Model) error {
	name := strings.TrimSpace(m.Name)
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", core.ErrInvalidModel)
	case m.Arity <= 0:
		return fmt.Errorf("%w: %s has arity %d", core.ErrInvalidModel, name, m.Arity)
	case m.Func == nil:
		return fmt.Errorf("%w: %s has no function", core.ErrInvalidModel, name)
	}
	if _, exists := r.models[name]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateModel, name)
	}
	m.Name = name
	r.models[name] = m
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the named model
func (r *Registry) Lookup(name string) (Model, error) {
	m, ok := r.models[strings.TrimSpace(name)]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", core.ErrUnknownModel, name)
	}
	return m, nil
}

// Names returns model names in registration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Polynomial builds y = Σ p_i x^i with the given number of coefficients
func Polynomial(name string, coefficients int) Model {
	return Model{
		Name:  name,
		Arity: coefficients,
		Func: func(x float64, p []float64) float64 {
			// Horner
			y := 0.0
			for i := len(p) - 1; i >= 0; i-- {
				y = y*x + p[i]
			}
			return y
		},
		Grad: func(x float64, p, dst []float64) {
			pow := 1.0
			for i := range dst {
				dst[i] = pow
				pow *= x
			}
		},
	}
}
