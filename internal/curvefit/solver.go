package curvefit

import (
	"fmt"
	"math"
	"strings"

	"gravfit/domain/core"
	"gravfit/internal/models"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Method names accepted by Settings.Method
const (
	MethodLevenbergMarquardt = "lm"
	MethodNelderMead         = "nelder-mead"
	MethodLBFGS              = "lbfgs"
	MethodBFGS               = "bfgs"
)

// Settings controls the least-squares optimizer
type Settings struct {
	Method  string
	MaxIter int
	FTol    float64 // relative reduction in the sum of squares
	XTol    float64 // relative step size
	GTol    float64 // infinity norm of the gradient
	RCond   float64 // singular-value cutoff used to detect degenerate designs
	Workers int
}

// DefaultSettings mirrors MINPACK's lmdif tolerances
func DefaultSettings() Settings {
	return Settings{
		Method:  MethodLevenbergMarquardt,
		MaxIter: 200,
		FTol:    1.49012e-8,
		XTol:    1.49012e-8,
		GTol:    1e-10,
		RCond:   1e-10,
		Workers: 1,
	}
}

// Validate rejects unknown methods and non-positive limits
func (s Settings) Validate() error {
	switch s.Method {
	case MethodLevenbergMarquardt, MethodNelderMead, MethodLBFGS, MethodBFGS:
	default:
		return fmt.Errorf("unknown fit method %q", s.Method)
	}
	if s.MaxIter <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", s.MaxIter)
	}
	if s.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", s.Workers)
	}
	return nil
}

// ParseMethod normalizes a method name from configuration
func ParseMethod(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lm", "levenberg-marquardt":
		return MethodLevenbergMarquardt
	case "nelder-mead", "neldermead", "simplex":
		return MethodNelderMead
	case "lbfgs", "l-bfgs":
		return MethodLBFGS
	case "bfgs":
		return MethodBFGS
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}

// problem binds a model to one group's observations
type problem struct {
	model models.Model
	x, y  []float64
}

// residuals writes f(x_i, p) - y_i into dst
func (pr problem) residuals(dst, p []float64) {
	for i, x := range pr.x {
		dst[i] = pr.model.Func(x, p) - pr.y[i]
	}
}

// jacobian fills dst (n×k) with ∂r_i/∂p_j, analytically when the model provides a gradient
func (pr problem) jacobian(dst *mat.Dense, p []float64) {
	if pr.model.Grad != nil {
		row := make([]float64, pr.model.Arity)
		for i, x := range pr.x {
			pr.model.Grad(x, p, row)
			dst.SetRow(i, row)
		}
		return
	}
	fd.Jacobian(dst, pr.residuals, p, &fd.JacobianSettings{Formula: fd.Central})
}

// rank counts independent Jacobian columns after scaling each to unit norm, so that
// polynomial columns of very different magnitude do not read as collinear
func (pr problem) rank(p []float64, rcond float64) int {
	n, k := len(pr.x), pr.model.Arity
	j := mat.NewDense(n, k, nil)
	pr.jacobian(j, p)
	for c := 0; c < k; c++ {
		norm := mat.Norm(j.ColView(c), 2)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return 0
		}
		for r := 0; r < n; r++ {
			j.Set(r, c, j.At(r, c)/norm)
		}
	}
	var svd mat.SVD
	if !svd.Factorize(j, mat.SVDNone) {
		return 0
	}
	return svd.Rank(rcond)
}

// solve runs the configured optimizer from p0. Failures wrap core.ErrDegenerateData or core.ErrNotConverged.
func solve(pr problem, p0 []float64, s Settings) ([]float64, error) {
	if pr.rank(p0, s.RCond) < pr.model.Arity {
		return nil, fmt.Errorf("%w: design matrix is rank deficient", core.ErrDegenerateData)
	}

	var (
		p   []float64
		err error
	)
	switch s.Method {
	case MethodLevenbergMarquardt:
		p, err = levenbergMarquardt(pr, p0, s)
	default:
		p, err = minimize(pr, p0, s)
	}
	if err != nil {
		return nil, err
	}
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite parameter estimate", core.ErrNotConverged)
		}
	}
	return p, nil
}

// levenbergMarquardt minimizes ½‖r(p)‖² with Marquardt diagonal scaling and Nielsen's damping update.
// Each step solves the augmented system [J; √λD] δ = [-r; 0] by QR.
func levenbergMarquardt(pr problem, p0 []float64, s Settings) ([]float64, error) {
	n, k := len(pr.x), pr.model.Arity

	p := append([]float64(nil), p0...)
	r := make([]float64, n)
	pr.residuals(r, p)
	cost := 0.5 * floats.Dot(r, r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return nil, fmt.Errorf("%w: non-finite residuals at starting point", core.ErrNotConverged)
	}

	j := mat.NewDense(n, k, nil)
	pr.jacobian(j, p)

	var (
		jtj   mat.SymDense
		g     = mat.NewVecDense(k, nil)
		scale = make([]float64, k)
		lam   = 1e-3
		nu    = 2.0
	)
	jtj.SymOuterK(1, j.T())
	for i := 0; i < k; i++ {
		scale[i] = math.Max(jtj.At(i, i), 1e-12)
	}

	aug := mat.NewDense(n+k, k, nil)
	rhs := mat.NewVecDense(n+k, nil)
	step := mat.NewVecDense(k, nil)
	pNew := make([]float64, k)
	rNew := make([]float64, n)

	for iter := 0; iter < s.MaxIter; iter++ {
		if cost == 0 {
			return p, nil
		}
		g.MulVec(j.T(), mat.NewVecDense(n, r))
		if mat.Norm(g, math.Inf(1)) <= s.GTol {
			return p, nil
		}

		aug.Zero()
		aug.Slice(0, n, 0, k).(*mat.Dense).Copy(j)
		for i := 0; i < k; i++ {
			aug.Set(n+i, i, math.Sqrt(lam*scale[i]))
		}
		for i := 0; i < n; i++ {
			rhs.SetVec(i, -r[i])
		}
		for i := n; i < n+k; i++ {
			rhs.SetVec(i, 0)
		}

		var qr mat.QR
		qr.Factorize(aug)
		if err := qr.SolveVecTo(step, false, rhs); err != nil {
			// mat.Condition only warns about conditioning; the solution is still written
			if _, ok := err.(mat.Condition); !ok {
				return nil, fmt.Errorf("%w: %v", core.ErrNotConverged, err)
			}
		}
		if math.IsNaN(mat.Norm(step, 2)) {
			return nil, fmt.Errorf("%w: step is not finite", core.ErrNotConverged)
		}

		if mat.Norm(step, 2) <= s.XTol*(floats.Norm(p, 2)+s.XTol) {
			return p, nil
		}

		for i := 0; i < k; i++ {
			pNew[i] = p[i] + step.AtVec(i)
		}
		pr.residuals(rNew, pNew)
		costNew := 0.5 * floats.Dot(rNew, rNew)

		// predicted reduction ½ δᵀ(λDδ - g)
		predicted := 0.0
		for i := 0; i < k; i++ {
			d := step.AtVec(i)
			predicted += d * (lam*scale[i]*d - g.AtVec(i))
		}
		predicted *= 0.5

		rho := -1.0
		if !math.IsNaN(costNew) && !math.IsInf(costNew, 0) && predicted > 0 {
			rho = (cost - costNew) / predicted
		}

		if rho > 0 {
			reduction := cost - costNew
			copy(p, pNew)
			copy(r, rNew)
			cost = costNew
			if reduction <= s.FTol*(cost+reduction) {
				return p, nil
			}

			pr.jacobian(j, p)
			jtj.SymOuterK(1, j.T())
			for i := 0; i < k; i++ {
				scale[i] = math.Max(scale[i], jtj.At(i, i))
			}
			lam *= math.Max(1.0/3.0, 1-math.Pow(2*rho-1, 3))
			nu = 2
			continue
		}

		lam *= nu
		nu *= 2
		if math.IsInf(lam, 0) || math.IsNaN(lam) {
			break
		}
	}
	return nil, fmt.Errorf("%w: no convergence within %d iterations", core.ErrNotConverged, s.MaxIter)
}

// minimize delegates to a general-purpose gonum optimizer on the sum of squared residuals
func minimize(pr problem, p0 []float64, s Settings) ([]float64, error) {
	n, k := len(pr.x), pr.model.Arity
	r := make([]float64, n)
	j := mat.NewDense(n, k, nil)

	prob := optimize.Problem{
		Func: func(p []float64) float64 {
			pr.residuals(r, p)
			return floats.Dot(r, r)
		},
		Grad: func(grad, p []float64) {
			pr.residuals(r, p)
			pr.jacobian(j, p)
			out := mat.NewVecDense(k, grad)
			out.MulVec(j.T(), mat.NewVecDense(n, r))
			out.ScaleVec(2, out)
		},
	}

	var method optimize.Method
	switch s.Method {
	case MethodNelderMead:
		method = &optimize.NelderMead{}
	case MethodLBFGS:
		method = &optimize.LBFGS{}
	case MethodBFGS:
		method = &optimize.BFGS{}
	}

	settings := &optimize.Settings{
		MajorIterations:   s.MaxIter,
		GradientThreshold: s.GTol,
	}
	result, err := optimize.Minimize(prob, append([]float64(nil), p0...), settings, method)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrNotConverged, err)
	}
	if result.Status == optimize.Failure || result.Status.Early() {
		return nil, fmt.Errorf("%w: optimizer stopped with status %v", core.ErrNotConverged, result.Status)
	}
	return result.X, nil
}
