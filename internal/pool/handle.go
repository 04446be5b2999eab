package pool

import (
	"log/slog"
	"sync"

	"github.com/TTT3216/ic2/internal/work"
)

// Result is what a finished work item produced: either Output or Err.
type Result struct {
	Output work.Output
	Err    error
}

// Handle tracks one submitted work item.
type Handle struct {
	logger *slog.Logger

	mu        sync.Mutex
	finished  bool
	result    Result
	callbacks []func(Result)
	done      chan struct{}
}

func newHandle(logger *slog.Logger) *Handle {
	return &Handle{
		logger: logger,
		done:   make(chan struct{}),
	}
}

// OnComplete registers fn to be called once with the item's result.
// Callbacks registered before completion run on the worker goroutine that
// finished the item; callbacks registered afterwards run on a new goroutine.
// Either way the caller is never blocked by fn.
func (h *Handle) OnComplete(fn func(Result)) {
	h.mu.Lock()
	if !h.finished {
		h.callbacks = append(h.callbacks, fn)
		h.mu.Unlock()
		return
	}
	r := h.result
	h.mu.Unlock()

	go h.invoke(fn, r)
}

// Done returns a channel that is closed once the item has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the item's result and whether it has finished yet.
func (h *Handle) Result() (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.finished
}

// complete records r and fires registered callbacks. Only the first call
// has any effect.
func (h *Handle) complete(r Result) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.result = r
	cbs := h.callbacks
	h.callbacks = nil
	close(h.done)
	h.mu.Unlock()

	for _, fn := range cbs {
		h.invoke(fn, r)
	}
}

// invoke runs a callback, containing any panic so the worker survives.
func (h *Handle) invoke(fn func(Result), r Result) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("completion callback panicked", "panic", rec)
		}
	}()
	fn(r)
}
