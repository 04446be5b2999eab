package pool

import (
	"context"
	"fmt"

	"github.com/TTT3216/ic2/internal/work"
)

// Compile-time interface satisfaction checks.
var (
	_ Executor = (*InProcess)(nil)
	_ Executor = (*Subprocess)(nil)
)

// InProcess runs work functions on the calling worker goroutine. A panic in
// the work function is contained and reported as ErrWorkFault; it does not
// protect against a work function that corrupts process memory.
type InProcess struct {
	registry *work.Registry
}

// NewInProcess creates an executor resolving kinds through reg.
func NewInProcess(reg *work.Registry) *InProcess {
	return &InProcess{registry: reg}
}

// Execute resolves item.Kind and runs the work function.
func (e *InProcess) Execute(ctx context.Context, item WorkItem) (out work.Output, err error) {
	f, err := e.registry.Resolve(item.Kind)
	if err != nil {
		return work.Output{}, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = work.Output{}
			err = fmt.Errorf("%w: panic: %v", ErrWorkFault, rec)
		}
	}()

	return f.Execute(ctx, item.Input)
}
