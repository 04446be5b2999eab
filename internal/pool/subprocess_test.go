package pool_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/TTT3216/ic2/internal/pool"
)

// newSelfExecutor re-runs the test binary in worker mode.
func newSelfExecutor(t *testing.T) *pool.Subprocess {
	t.Helper()
	bin, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return pool.NewSubprocess(pool.SubprocessConfig{
		Binary: bin,
		Env:    []string{envWorkerMode + "=1"},
	}, testLogger())
}

func TestSubprocessSuccess(t *testing.T) {
	exec := newSelfExecutor(t)

	out, err := exec.Execute(context.Background(), pool.WorkItem{TaskID: "t1", Kind: "echo", Input: []byte("payload")})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(out.Artifacts))
	}
	if out.Artifacts[0].Name != "a.txt" || !bytes.Equal(out.Artifacts[0].Data, []byte("payload")) {
		t.Errorf("artifact[0] = %s/%q, want a.txt/payload", out.Artifacts[0].Name, out.Artifacts[0].Data)
	}
}

func TestSubprocessWorkError(t *testing.T) {
	exec := newSelfExecutor(t)

	_, err := exec.Execute(context.Background(), pool.WorkItem{TaskID: "t1", Kind: "fail"})
	if err == nil || err.Error() != "encoder rejected input" {
		t.Fatalf("Execute error = %v, want encoder rejected input", err)
	}
}

func TestSubprocessPanicIsContained(t *testing.T) {
	exec := newSelfExecutor(t)

	_, err := exec.Execute(context.Background(), pool.WorkItem{TaskID: "t1", Kind: "panic"})
	if err == nil || !strings.Contains(err.Error(), "panic: boom") {
		t.Fatalf("Execute error = %v, want panic reported by the worker", err)
	}
}

func TestSubprocessCrashWithoutResult(t *testing.T) {
	exec := newSelfExecutor(t)

	_, err := exec.Execute(context.Background(), pool.WorkItem{TaskID: "t1", Kind: "crash"})
	if !errors.Is(err, pool.ErrWorkFault) {
		t.Fatalf("Execute error = %v, want ErrWorkFault", err)
	}
	if !strings.Contains(err.Error(), "exited without result") {
		t.Errorf("error %q does not mention the missing result", err)
	}
}

func TestSubprocessMissingBinary(t *testing.T) {
	exec := pool.NewSubprocess(pool.SubprocessConfig{Binary: "/nonexistent/ic2-worker"}, testLogger())

	_, err := exec.Execute(context.Background(), pool.WorkItem{TaskID: "t1", Kind: "echo"})
	if !errors.Is(err, pool.ErrWorkFault) {
		t.Fatalf("Execute error = %v, want ErrWorkFault", err)
	}
}

func TestSubprocessThroughPool(t *testing.T) {
	p := newTestPool(t, pool.Config{Workers: 2, QueueSize: 4}, newSelfExecutor(t))

	ok, _ := p.Submit(pool.WorkItem{TaskID: "ok", Kind: "echo", Input: []byte("x")})
	crash, _ := p.Submit(pool.WorkItem{TaskID: "crash", Kind: "crash"})

	if r := waitDone(t, ok); r.Err != nil {
		t.Errorf("ok item Err = %v", r.Err)
	}
	if r := waitDone(t, crash); !errors.Is(r.Err, pool.ErrWorkFault) {
		t.Errorf("crash item Err = %v, want ErrWorkFault", r.Err)
	}
}

func TestServeRoundTrip(t *testing.T) {
	var in, out bytes.Buffer
	if err := pool.WriteMessage(&in, pool.Request{TaskID: "t1", Kind: "fail"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	if err := pool.Serve(context.Background(), &in, &out, pool.NewInProcess(testRegistry()), discardLogger()); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var resp pool.Response
	if err := pool.ReadMessage(&out, &resp); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if resp.Error != "encoder rejected input" {
		t.Errorf("Error = %q, want encoder rejected input", resp.Error)
	}
	if len(resp.Artifacts) != 0 {
		t.Errorf("failed response carries %d artifacts", len(resp.Artifacts))
	}
}

func TestServeBadRequest(t *testing.T) {
	var out bytes.Buffer
	err := pool.Serve(context.Background(), bytes.NewReader([]byte{0x00}), &out, pool.NewInProcess(testRegistry()), discardLogger())
	if err == nil {
		t.Fatal("expected error for truncated request")
	}
}
