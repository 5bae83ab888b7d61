package cloud9ssm

import (
	"context"
	"errors"
	"slices"
)

type (
	// Stack collects teardowns as resources are created.
	Stack struct {
		Teardowns []Teardown
	}

	// Teardown destroys one created resource.
	Teardown func(ctx context.Context) error
)

// Push adds a teardown to be run in the reverse order it was added. Nil
// teardowns are dropped.
func (s *Stack) Push(t Teardown) {
	if t == nil {
		return
	}
	s.Teardowns = append(s.Teardowns, t)
}

// Len reports how many teardowns are pending.
func (s *Stack) Len() int { return len(s.Teardowns) }

// Destroy calls all accumulated teardowns in the reverse order they were
// added, returning all encountered errors joined. The stack is empty
// afterwards.
func (s *Stack) Destroy(ctx context.Context) error {
	var errs error
	for _, teardown := range slices.Backward(s.Teardowns) {
		errs = errors.Join(errs, teardown(ctx))
	}
	s.Teardowns = nil
	return errs
}
