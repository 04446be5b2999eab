package pool

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Serve is the worker-process side of Subprocess: it reads one Request from
// r, runs it through exec and writes one Response to w. Work failures are
// reported inside the Response; Serve only returns an error when the frame
// exchange itself fails.
func Serve(ctx context.Context, r io.Reader, w io.Writer, exec Executor, log logrus.FieldLogger) error {
	var req Request
	if err := ReadMessage(r, &req); err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	entry := log.WithFields(logrus.Fields{
		"task_id": req.TaskID,
		"kind":    req.Kind,
		"bytes":   len(req.Input),
	})
	entry.Info("executing work item")

	out, err := exec.Execute(ctx, WorkItem{TaskID: req.TaskID, Kind: req.Kind, Input: req.Input})

	resp := Response{Artifacts: out.Artifacts, Message: out.Message}
	if err != nil {
		resp = Response{Error: err.Error()}
		entry.WithError(err).Warn("work item failed")
	} else {
		entry.WithField("artifacts", len(out.Artifacts)).Info("work item finished")
	}

	if err := WriteMessage(w, &resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
