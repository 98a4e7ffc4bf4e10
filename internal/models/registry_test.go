package models

import (
	"errors"
	"math"
	"testing"

	"gravfit/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltInFamily(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"linear", "quadratic", "cubic", "quartic"}, r.Names())

	tests := []struct {
		name  string
		arity int
	}{
		{"linear", 2},
		{"quadratic", 3},
		{"cubic", 4},
		{"quartic", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := r.Lookup(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.arity, m.Arity)
		})
	}
}

func TestPolynomialEval(t *testing.T) {
	m, err := NewRegistry().Lookup("quadratic")
	require.NoError(t, err)

	// 1 + 2x + 3x^2, trailing parameter ignored
	got := m.Eval([]float64{0, 1, 2}, []float64{1, 2, 3, 99})
	assert.Equal(t, []float64{1, 6, 17}, got)

	grad := make([]float64, 3)
	m.Grad(2, []float64{1, 2, 3}, grad)
	assert.Equal(t, []float64{1, 2, 4}, grad)
}

func TestRegisterCustomModel(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Model{
		Name:  "exponential",
		Arity: 1,
		Func:  func(x float64, p []float64) float64 { return math.Pow(p[0], x) },
	})
	require.NoError(t, err)

	m, err := r.Lookup("exponential")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Arity)
	assert.Nil(t, m.Grad)
	assert.Equal(t, []float64{1, 2, 4}, m.Eval([]float64{0, 1, 2}, []float64{2}))
	assert.Equal(t, "exponential", r.Names()[4])
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	f := func(x float64, p []float64) float64 { return x }

	assert.True(t, errors.Is(r.Register(Model{Name: "", Arity: 1, Func: f}), core.ErrInvalidModel))
	assert.True(t, errors.Is(r.Register(Model{Name: "zero", Arity: 0, Func: f}), core.ErrInvalidModel))
	assert.True(t, errors.Is(r.Register(Model{Name: "nofunc", Arity: 1}), core.ErrInvalidModel))
	assert.True(t, errors.Is(r.Register(Model{Name: "linear", Arity: 2, Func: f}), core.ErrDuplicateModel))
}

func TestLookupUnknown(t *testing.T) {
	_, err := NewRegistry().Lookup("sigmoid")
	assert.True(t, errors.Is(err, core.ErrUnknownModel))
}
