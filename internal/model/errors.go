package model

import (
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrConfiguration matches any *ConfigurationError with errors.Is.
	ErrConfiguration = &ConfigurationError{}

	// ErrInfeasible matches any *InfeasibleModelError with errors.Is.
	ErrInfeasible = &InfeasibleModelError{}

	// ErrTimeoutNoIncumbent matches any *TimeoutNoIncumbentError with errors.Is.
	ErrTimeoutNoIncumbent = &TimeoutNoIncumbentError{}
)

// ConfigurationError reports a malformed parameter set. It is returned
// before any model is built.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return "configuration error: " + e.Field + " " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}

// InfeasibleModelError reports that the constraints admit no feasible point.
type InfeasibleModelError struct {
	Reason string
}

func (e *InfeasibleModelError) Error() string {
	if e.Reason == "" {
		return "model is infeasible"
	}
	return "model is infeasible: " + e.Reason
}

func (e *InfeasibleModelError) Is(target error) bool {
	_, ok := target.(*InfeasibleModelError)
	return ok
}

// TimeoutNoIncumbentError reports that the solver ran out of time before
// finding any feasible solution. This says nothing about feasibility.
type TimeoutNoIncumbentError struct {
	TimeLimit time.Duration
}

func (e *TimeoutNoIncumbentError) Error() string {
	return fmt.Sprintf("no solution found within %s; raise the time limit or shrink the instance", e.TimeLimit)
}

func (e *TimeoutNoIncumbentError) Is(target error) bool {
	_, ok := target.(*TimeoutNoIncumbentError)
	return ok
}

// NumericRiskWarning flags instance data that may hurt solver accuracy.
// It is logged, never returned.
type NumericRiskWarning struct {
	Kind   string
	Value  float64
	Detail string
}

func (w NumericRiskWarning) String() string {
	return fmt.Sprintf("numeric risk (%s = %g): %s", w.Kind, w.Value, w.Detail)
}

func (w NumericRiskWarning) log() {
	slog.Warn("Numeric risk", "kind", w.Kind, "value", w.Value, "detail", w.Detail)
}
