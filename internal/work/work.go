package work

import (
	"context"

	"github.com/TTT3216/ic2/internal/model"
)

// Func is the interface all work functions must implement. Execute must not
// share mutable state with its caller: it may run in a separate process.
type Func interface {
	// Execute runs the work on input and returns the produced output.
	// The context is cancelled only when the executing pool shuts down.
	Execute(ctx context.Context, input []byte) (Output, error)
}

// FuncOf adapts an ordinary function to the Func interface.
type FuncOf func(ctx context.Context, input []byte) (Output, error)

// Execute calls f(ctx, input).
func (f FuncOf) Execute(ctx context.Context, input []byte) (Output, error) {
	return f(ctx, input)
}

// Output is the successful result of a work function.
type Output struct {
	Artifacts []model.Artifact `json:"artifacts,omitempty"`
	Message   string           `json:"message,omitempty"`
}
