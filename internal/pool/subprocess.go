package pool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/TTT3216/ic2/internal/work"
)

// SubprocessConfig describes how to launch an isolated worker process.
type SubprocessConfig struct {
	// Binary is the worker executable, resolved through PATH if it has no slash.
	Binary string

	// Args are passed to the worker after the binary name.
	Args []string

	// Env is appended to the parent's environment.
	Env []string
}

// Subprocess runs every work item in a fresh worker process, so a crash or
// runaway allocation in one item cannot touch the parent or other items.
// The item travels over the child's stdin and the result comes back on its
// stdout, both framed by WriteMessage. Child stderr is forwarded to the
// logger.
type Subprocess struct {
	cfg    SubprocessConfig
	logger *slog.Logger
}

// NewSubprocess creates a process-isolating executor.
func NewSubprocess(cfg SubprocessConfig, logger *slog.Logger) *Subprocess {
	return &Subprocess{cfg: cfg, logger: logger}
}

// Execute launches a worker process for item and waits for its response.
// A child that exits without writing a response yields ErrWorkFault.
func (e *Subprocess) Execute(ctx context.Context, item WorkItem) (work.Output, error) {
	cmd := exec.CommandContext(ctx, e.cfg.Binary, e.cfg.Args...)
	cmd.Env = append(os.Environ(), e.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return work.Output{}, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return work.Output{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return work.Output{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return work.Output{}, fmt.Errorf("%w: start worker process: %v", ErrWorkFault, err)
	}

	logger := e.logger.With("task_id", item.TaskID, "kind", item.Kind, "pid", cmd.Process.Pid)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		forwardLines(stderr, logger)
	}()

	writeErr := WriteMessage(stdin, Request{TaskID: item.TaskID, Kind: item.Kind, Input: item.Input})
	stdin.Close()

	var resp Response
	readErr := ReadMessage(stdout, &resp)
	// Drain anything else so Wait does not race the pipe reader.
	_, _ = io.Copy(io.Discard, stdout)
	<-stderrDone

	waitErr := cmd.Wait()

	if readErr != nil {
		cause := waitErr
		if cause == nil {
			cause = errors.Join(writeErr, readErr)
		}
		return work.Output{}, fmt.Errorf("%w: worker process exited without result: %v", ErrWorkFault, cause)
	}
	if waitErr != nil {
		logger.Warn("worker process exited with error after responding", "error", waitErr)
	}

	if resp.Error != "" {
		return work.Output{}, errors.New(resp.Error)
	}
	return work.Output{Artifacts: resp.Artifacts, Message: resp.Message}, nil
}

// forwardLines copies each line of r into the logger.
func forwardLines(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		logger.Info("worker output", "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("stop forwarding worker output", "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}
