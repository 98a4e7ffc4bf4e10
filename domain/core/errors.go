package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Input shape errors
	ErrMissingColumn = errors.New("required column missing")
	ErrEmptyTable    = errors.New("table has no rows")
	ErrBadValue      = errors.New("value is not numeric")

	// Registry errors
	ErrUnknownModel   = errors.New("unknown model")
	ErrDuplicateModel = errors.New("model already registered")
	ErrInvalidModel   = errors.New("invalid model definition")

	// Fit failures, recovered per group
	ErrInsufficientData = errors.New("fewer observations than parameters")
	ErrDegenerateData   = errors.New("numerically degenerate data")
	ErrNotConverged     = errors.New("optimizer did not converge")

	// ANOVA skips, recovered per parameter
	ErrMissingParameter = errors.New("parameter has missing values")
	ErrUnbalancedDesign = errors.New("unbalanced repeated-measures design")
	ErrTooFewLevels     = errors.New("too few subjects or factor levels")
)

// Error constructors with context
func NewMissingColumnError(columns []string) error {
	return fmt.Errorf("%w: %v", ErrMissingColumn, columns)
}

func NewBadValueError(column string, row int, raw string) error {
	return fmt.Errorf("%w: column %s row %d (%q)", ErrBadValue, column, row, raw)
}

func NewUnbalancedError(subject, cell string, count int) error {
	return fmt.Errorf("%w: subject %s has %d observations in cell %s", ErrUnbalancedDesign, subject, count, cell)
}

// IsFitFailure reports whether err is a recoverable per-group fit failure
func IsFitFailure(err error) bool {
	return errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrDegenerateData) ||
		errors.Is(err, ErrNotConverged)
}

// IsAnovaSkip reports whether err is a recoverable per-parameter ANOVA skip
func IsAnovaSkip(err error) bool {
	return errors.Is(err, ErrMissingParameter) ||
		errors.Is(err, ErrUnbalancedDesign) ||
		errors.Is(err, ErrTooFewLevels)
}
