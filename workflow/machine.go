// Package workflow holds the status machines for long-running generation
// pipelines. Transitions are driven from outside (a request or a provider
// poll reporting progress); the machine only decides which moves are legal.
package workflow

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrPreconditionFailed = errors.New("status precondition failed")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrUnknownStatus      = errors.New("unknown status")
)

// Machine is a closed set of statuses plus the transitions allowed between them.
type Machine[S ~string] struct {
	name        string
	order       []S
	transitions map[S][]S
	terminal    map[S]struct{}
}

func newMachine[S ~string](name string, order []S, transitions map[S][]S, terminal ...S) *Machine[S] {
	m := &Machine[S]{
		name:        name,
		order:       order,
		transitions: transitions,
		terminal:    make(map[S]struct{}, len(terminal)),
	}
	for _, s := range terminal {
		m.terminal[s] = struct{}{}
	}
	return m
}

// Statuses returns the statuses in pipeline order.
func (m *Machine[S]) Statuses() []S {
	return slices.Clone(m.order)
}

// Valid reports whether s belongs to the machine.
func (m *Machine[S]) Valid(s S) bool {
	return slices.Contains(m.order, s)
}

// IsTerminal reports whether s ends the pipeline. Terminal statuses may
// still have outgoing transitions (a completed model can be retextured).
func (m *Machine[S]) IsTerminal(s S) bool {
	_, ok := m.terminal[s]
	return ok
}

// Can reports whether moving from one status to another is legal.
func (m *Machine[S]) Can(from, to S) bool {
	return slices.Contains(m.transitions[from], to)
}

// Next lists the statuses reachable from s in one step.
func (m *Machine[S]) Next(s S) []S {
	return slices.Clone(m.transitions[s])
}

// Check validates advancing an entity currently in current, when the caller
// expected it to be in expected, to next.
func (m *Machine[S]) Check(current, expected, next S) error {
	if !m.Valid(expected) || !m.Valid(next) {
		return fmt.Errorf("%s: %w: %q -> %q", m.name, ErrUnknownStatus, expected, next)
	}
	if !m.Can(expected, next) {
		return fmt.Errorf("%s: %w: %q -> %q", m.name, ErrInvalidTransition, expected, next)
	}
	if current != expected {
		return fmt.Errorf("%s: %w: expected %q, found %q", m.name, ErrPreconditionFailed, expected, current)
	}
	return nil
}

// Validate checks a transition without knowledge of the stored status. The
// store enforces the precondition itself with a conditional update.
func (m *Machine[S]) Validate(from, to S) error {
	return m.Check(from, from, to)
}
