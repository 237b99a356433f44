// Package diag holds the diagnostics every pipeline stage reports.
//
// Recoverable problems (bad input) are collected as Diagnostic values and
// never stop the pipeline. Defects inside the allocator or the scheduler are
// returned as errors wrapping ErrAllocation or ErrSchedule.
package diag

import (
	"errors"
	"fmt"
)

// Kind classifies a diagnostic.
type Kind string

const (
	LexError                Kind = "LexError"
	SyntaxError             Kind = "SyntaxError"
	NameError               Kind = "NameError"
	TypeError               Kind = "TypeError"
	AllocationError         Kind = "AllocationError"
	ScheduleError           Kind = "ScheduleError"
	SimulationLimitExceeded Kind = "SimulationLimitExceeded"
	RuntimeError            Kind = "RuntimeError"
)

var (
	ErrAllocation = errors.New("register allocation failed")
	ErrSchedule   = errors.New("instruction scheduling failed")
)

// Diagnostic is one reported problem. Line and Column are 1-based and zero
// when the problem has no source position.
type Diagnostic struct {
	Stage   string `json:"stage"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (d Diagnostic) Error() string {
	if d.Line > 0 {
		return fmt.Sprintf("%d:%d: %s: %s", d.Line, d.Column, d.Kind, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// Count returns how many diagnostics in ds have kind k.
func Count(ds []Diagnostic, k Kind) int {
	n := 0
	for _, d := range ds {
		if d.Kind == k {
			n++
		}
	}
	return n
}

// Collector accumulates diagnostics for a single stage.
type Collector struct {
	Stage string
	List  []Diagnostic
}

func (c *Collector) Add(k Kind, line, col int, format string, args ...any) {
	c.List = append(c.List, Diagnostic{
		Stage:   c.Stage,
		Kind:    k,
		Message: fmt.Sprintf(format, args...),
		Line:    line,
		Column:  col,
	})
}
