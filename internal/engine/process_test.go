package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/frostr/iglood/internal/log"
	"github.com/frostr/iglood/internal/protocol"
)

// writeEngineScript writes a stand-in engine: announces readiness on stderr,
// then answers every stdin request with a canned response echoing request_id.
func writeEngineScript(t *testing.T, body string) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write engine script: %v", err)
	}
	return []string{"/bin/sh", path}
}

const okEngine = `
echo "#hb ready" >&2
while read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"request_id":"\([^"]*\)".*/\1/p')
  printf '{"request_id":"%s","status":"ok","result":"signed"}\n' "$id"
done
`

const errorEngine = `
echo "#hb ready" >&2
while read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"request_id":"\([^"]*\)".*/\1/p')
  printf '{"request_id":"%s","status":"error","error":"key locked"}\n' "$id"
done
`

const silentEngine = `
sleep 60
`

func TestProcessEngineInvokeRoundTrip(t *testing.T) {
	t.Parallel()

	e := NewProcessEngine(writeEngineScript(t, okEngine), log.WithComponent("engine-test"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	if err := e.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	select {
	case <-e.Beats():
	case <-time.After(5 * time.Second):
		t.Fatal("readiness signal did not produce a beat")
	}

	result, err := e.Invoke(ctx, protocol.OpSignEvent, `{"kind":1}`)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != "signed" {
		t.Errorf("unexpected result %q", result)
	}

	if err := e.Probe(ctx); err != nil {
		t.Errorf("Probe: %v", err)
	}
}

func TestProcessEngineReportedError(t *testing.T) {
	t.Parallel()

	e := NewProcessEngine(writeEngineScript(t, errorEngine), log.WithComponent("engine-test"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	if err := e.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	_, err := e.Invoke(ctx, protocol.OpSignEvent, `{}`)
	var reported *ReportedError
	if !errors.As(err, &reported) {
		t.Fatalf("expected ReportedError, got %v", err)
	}
	if reported.Message != "key locked" {
		t.Errorf("engine error not passed through verbatim: %q", reported.Message)
	}
}

func TestProcessEngineWaitReadyTimeout(t *testing.T) {
	t.Parallel()

	e := NewProcessEngine(writeEngineScript(t, silentEngine), log.WithComponent("engine-test"))
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := e.WaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestProcessEngineDoubleStartRejected(t *testing.T) {
	t.Parallel()

	e := NewProcessEngine(writeEngineScript(t, okEngine), log.WithComponent("engine-test"))
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	if err := e.Start(context.Background()); err == nil {
		t.Error("second Start should fail while the engine is running")
	}
}

func TestProcessEngineStopWhenNotRunning(t *testing.T) {
	t.Parallel()

	e := NewProcessEngine([]string{"/bin/true"}, log.WithComponent("engine-test"))
	if err := e.Stop(context.Background()); err != nil {
		t.Errorf("Stop on idle engine: %v", err)
	}
}
