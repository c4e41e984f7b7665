package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/frostr/iglood/internal/protocol"
)

const (
	// terminationGracePeriod is the time we wait after SIGTERM before SIGKILL.
	terminationGracePeriod = 5 * time.Second

	// heartbeatPrefix marks readiness/heartbeat lines on the engine's stderr;
	// everything else on stderr is diagnostic output.
	heartbeatPrefix = "#hb"

	// maxStderrLine caps diagnostic stderr lines carried into logs.
	maxStderrLine = 4 * 1024
)

var errEngineExited = errors.New("engine process exited")

// ProcessEngine runs the signer engine as a child process speaking JSON over
// stdin/stdout, with readiness and heartbeat lines on stderr.
type ProcessEngine struct {
	command []string
	logger  *slog.Logger

	beats chan time.Time

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	ready   chan struct{}
	exited  chan struct{}
	pending map[string]chan *protocol.EngineResponse

	writeMu sync.Mutex
}

var _ Engine = (*ProcessEngine)(nil)

func NewProcessEngine(command []string, logger *slog.Logger) *ProcessEngine {
	return &ProcessEngine{
		command: command,
		logger:  logger,
		beats:   make(chan time.Time, 16),
	}
}

// Start spawns the engine process and wires its pipes. Exactly one instance
// runs at a time; starting a running engine is an error.
func (e *ProcessEngine) Start(ctx context.Context) error {
	if len(e.command) == 0 {
		return fmt.Errorf("engine command is empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return fmt.Errorf("engine already running (pid %d)", e.cmd.Process.Pid)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(e.command[0], e.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("engine stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("engine stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("engine stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.ready = make(chan struct{})
	e.exited = make(chan struct{})
	e.pending = make(map[string]chan *protocol.EngineResponse)

	e.logger.Info("engine process started", "pid", cmd.Process.Pid)

	go e.pumpResponses(stdout)
	go e.pumpSignals(stderr, e.ready)
	go e.reap(cmd, e.exited)

	return nil
}

// WaitReady blocks until the readiness signal, ctx expiry, or process exit.
func (e *ProcessEngine) WaitReady(ctx context.Context) error {
	e.mu.Lock()
	ready, exited := e.ready, e.exited
	e.mu.Unlock()

	if ready == nil {
		return fmt.Errorf("engine not started")
	}

	select {
	case <-ready:
		return nil
	case <-exited:
		return errEngineExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Beats delivers one timestamp per readiness/heartbeat signal.
func (e *ProcessEngine) Beats() <-chan time.Time {
	return e.beats
}

// Invoke writes one request and waits for its correlated response.
func (e *ProcessEngine) Invoke(ctx context.Context, op protocol.Operation, payload string) (string, error) {
	id := uuid.NewString()

	e.mu.Lock()
	if e.cmd == nil {
		e.mu.Unlock()
		return "", fmt.Errorf("engine not running")
	}
	stdin, exited := e.stdin, e.exited
	respCh := make(chan *protocol.EngineResponse, 1)
	e.pending[id] = respCh
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	req := &protocol.EngineRequest{
		Protocol:  1,
		RequestID: id,
		Operation: op,
		Payload:   payload,
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.DeadlineAt = deadline
	}

	e.writeMu.Lock()
	err := protocol.EncodeEngineRequest(stdin, req)
	e.writeMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("write engine request: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Status == "error" {
			return "", &ReportedError{Message: resp.Error}
		}
		return resp.Result, nil
	case <-exited:
		return "", errEngineExited
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Probe performs a ping round-trip.
func (e *ProcessEngine) Probe(ctx context.Context) error {
	_, err := e.Invoke(ctx, protocol.OpPing, "")
	return err
}

// Stop terminates the engine: SIGTERM, a grace period, then SIGKILL. Pending
// invocations fail with an exit error.
func (e *ProcessEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cmd, exited := e.cmd, e.exited
	e.cmd = nil
	e.stdin = nil
	e.ready = nil
	e.mu.Unlock()

	if cmd == nil {
		return nil
	}

	e.logger.Info("stopping engine process", "pid", cmd.Process.Pid)
	_ = cmd.Process.Signal(syscall.SIGTERM)

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-exited:
		return nil
	case <-grace.C:
		e.logger.Warn("engine ignored SIGTERM, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pumpResponses routes decoded responses to their waiting invocations.
func (e *ProcessEngine) pumpResponses(stdout io.Reader) {
	decoder := json.NewDecoder(stdout)
	for {
		var resp protocol.EngineResponse
		if err := decoder.Decode(&resp); err != nil {
			if !errors.Is(err, io.EOF) {
				e.logger.Warn("engine stdout decode failed", "error", err)
			}
			return
		}
		if err := protocol.ValidateEngineResponse(&resp); err != nil {
			e.logger.Warn("discarding invalid engine response", "error", err)
			continue
		}

		e.mu.Lock()
		ch, ok := e.pending[resp.RequestID]
		e.mu.Unlock()
		if !ok {
			// The invocation timed out and moved on.
			e.logger.Warn("engine response for abandoned invocation", "request_id", resp.RequestID)
			continue
		}
		ch <- &resp
	}
}

// pumpSignals parses readiness/heartbeat lines from stderr and forwards the
// rest to logs.
func (e *ProcessEngine) pumpSignals(stderr io.Reader, ready chan struct{}) {
	readyOnce := sync.Once{}
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, maxStderrLine), maxStderrLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, heartbeatPrefix) {
			if line != "" {
				e.logger.Debug("engine stderr", "line", line)
			}
			continue
		}

		kind := strings.TrimSpace(strings.TrimPrefix(line, heartbeatPrefix))
		switch kind {
		case "ready":
			readyOnce.Do(func() { close(ready) })
			e.emitBeat()
		case "beat":
			e.emitBeat()
		default:
			e.logger.Debug("unrecognized engine signal", "line", line)
		}
	}
}

func (e *ProcessEngine) emitBeat() {
	select {
	case e.beats <- time.Now():
	default:
		// Health bookkeeping only cares about recency; dropping is fine.
	}
}

func (e *ProcessEngine) reap(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	close(exited)
	if err != nil {
		e.logger.Warn("engine process exited", "error", err)
		return
	}
	e.logger.Info("engine process exited cleanly")
}
