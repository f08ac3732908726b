package supervisor_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/isolate"
	"github.com/fluxorio/isolate/pkg/supervisor"
)

func upper(ctx context.Context, s string) (string, error) {
	return strings.ToUpper(s), nil
}

func failing(ctx context.Context, s string) (string, error) {
	return "", errors.New("bad input " + s)
}

func panicking(ctx context.Context, s string) (string, error) {
	panic("worker panic")
}

func silentEntry(w *isolate.Context, initial any) error {
	return nil
}

func holdEntry(w *isolate.Context, initial any) error {
	w.Hold()
	return nil
}

func double(w *isolate.Context, payload any) (any, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case int:
		if v < 0 {
			return nil, errors.New("negative")
		}
		if v == 0 {
			w.Sleep(time.Hour)
		}
		return v * 2, nil
	default:
		return nil, errors.New("unsupported")
	}
}

func serveEntry(w *isolate.Context, initial any) error {
	return isolate.Serve(w, initial, double)
}

// stall ignores the worker context entirely.
func stall(w *isolate.Context, payload any) (any, error) {
	if payload != nil {
		time.Sleep(3 * time.Second)
	}
	return payload, nil
}

func stallEntry(w *isolate.Context, initial any) error {
	return isolate.Serve(w, initial, stall)
}

func newSupervisor() *supervisor.Supervisor {
	return supervisor.New(supervisor.Options{Logger: core.NopLogger()})
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitExited(t *testing.T, h *supervisor.Handle) {
	t.Helper()
	select {
	case <-h.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("worker never exited")
	}
}

func TestSpawn_Result(t *testing.T) {
	s := newSupervisor()
	h, err := s.Spawn(testContext(t), isolate.MustCall(upper), "hello")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	v, err := h.Result().Await(testContext(t))
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if v != "HELLO" {
		t.Errorf("Expected HELLO, got %v", v)
	}

	waitExited(t, h)
	if h.Reason() != "natural" {
		t.Errorf("Expected natural exit, got %s", h.Reason())
	}
	if s.Active() != 0 {
		t.Errorf("Expected no active workers, got %d", s.Active())
	}
}

func TestSpawn_WorkerError(t *testing.T) {
	s := newSupervisor()
	h, err := s.Spawn(testContext(t), isolate.MustCall(failing), "x")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	_, err = h.Result().Await(testContext(t))
	if !errors.Is(err, core.ErrWorkerRuntimeError) {
		t.Fatalf("Expected WorkerRuntimeError, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad input x") {
		t.Errorf("Expected worker description, got %v", err)
	}
	waitExited(t, h)
	if h.Reason() != "error" {
		t.Errorf("Expected error exit, got %s", h.Reason())
	}
}

func TestSpawn_WorkerPanicKeepsTrace(t *testing.T) {
	s := newSupervisor()
	h, err := s.Spawn(testContext(t), isolate.MustCall(panicking), "x")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	_, err = h.Result().Await(testContext(t))
	var e *core.Error
	if !errors.As(err, &e) || e.Code != core.CodeWorkerRuntimeError {
		t.Fatalf("Expected WorkerRuntimeError, got %v", err)
	}
	if e.Trace == "" {
		t.Error("Expected a worker trace")
	}
}

func TestSpawn_ExitWithoutReply(t *testing.T) {
	s := newSupervisor()
	h, err := s.Spawn(testContext(t), isolate.MustFunc(silentEntry), nil)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	_, err = h.Result().Await(testContext(t))
	if !errors.Is(err, core.ErrUnexpectedExit) {
		t.Fatalf("Expected UnexpectedExit, got %v", err)
	}
}

func TestSpawn_Failures(t *testing.T) {
	s := newSupervisor()

	if _, err := s.Spawn(testContext(t), isolate.Entry{}, nil); !errors.Is(err, core.ErrSpawnFailure) {
		t.Errorf("Expected SpawnFailure for zero entry, got %v", err)
	}
	if _, err := s.Spawn(testContext(t), isolate.MustCall(upper), func() {}); !errors.Is(err, core.ErrSpawnFailure) {
		t.Errorf("Expected SpawnFailure for unsendable payload, got %v", err)
	}
	if s.Active() != 0 {
		t.Errorf("Expected no active workers, got %d", s.Active())
	}
}

func TestTerminate_ImmediateResolvesPending(t *testing.T) {
	s := newSupervisor()
	h, err := s.Spawn(testContext(t), isolate.MustFunc(holdEntry), nil)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	start := time.Now()
	s.Terminate(h, isolate.Immediate)

	_, err = h.Result().Await(testContext(t))
	if !errors.Is(err, core.ErrUnexpectedExit) {
		t.Fatalf("Expected UnexpectedExit, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Pending request took %v to resolve", elapsed)
	}
	waitExited(t, h)
	if h.Reason() != "killed" {
		t.Errorf("Expected killed, got %s", h.Reason())
	}
}

func TestAddress_HandshakeTimeout(t *testing.T) {
	s := newSupervisor()
	h, err := s.Spawn(testContext(t), isolate.MustFunc(holdEntry), nil)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer h.Terminate(isolate.Immediate)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.Address(ctx)
	if !errors.Is(err, core.ErrHandshakeTimeout) {
		t.Fatalf("Expected HandshakeTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline cause, got %v", err)
	}
}

func TestRequest_Correlation(t *testing.T) {
	s := newSupervisor()
	ctx := testContext(t)
	h, err := s.Spawn(ctx, isolate.MustFunc(serveEntry), nil)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer h.Terminate(isolate.Immediate)

	if v, err := h.Result().Await(ctx); err != nil || v != nil {
		t.Fatalf("Expected nil bootstrap result, got %v, %v", v, err)
	}
	if _, err := h.Address(ctx); err != nil {
		t.Fatalf("Address failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v, err := h.Request(ctx, n).Await(ctx)
			if err != nil {
				t.Errorf("Request %d failed: %v", n, err)
				return
			}
			if v != n*2 {
				t.Errorf("Request %d: expected %d, got %v", n, n*2, v)
			}
		}(i)
	}
	wg.Wait()

	_, err = h.Request(ctx, -1).Await(ctx)
	if !errors.Is(err, core.ErrWorkerRuntimeError) {
		t.Errorf("Expected WorkerRuntimeError, got %v", err)
	}
	if h.Pending() != 0 {
		t.Errorf("Expected no pending requests, got %d", h.Pending())
	}
}

func TestRequest_WorkerDiesMidRequest(t *testing.T) {
	s := newSupervisor()
	ctx := testContext(t)
	h, err := s.Spawn(ctx, isolate.MustFunc(serveEntry), nil)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	// 0 makes the worker sleep until terminated.
	slow := h.Request(ctx, 0)
	deadline := time.Now().Add(time.Second)
	for h.Pending() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Terminate(isolate.Immediate)

	if _, err := slow.Await(ctx); !errors.Is(err, core.ErrUnexpectedExit) {
		t.Fatalf("Expected UnexpectedExit, got %v", err)
	}
	waitExited(t, h)

	if _, err := h.Request(ctx, 1).Await(ctx); !errors.Is(err, core.ErrUnexpectedExit) {
		t.Errorf("Expected UnexpectedExit after exit, got %v", err)
	}
	if _, err := h.Address(ctx); !errors.Is(err, core.ErrUnexpectedExit) {
		t.Errorf("Expected UnexpectedExit from Address, got %v", err)
	}
}

func TestHandleIncoming_IgnoresForeignMessages(t *testing.T) {
	s := newSupervisor()
	h, err := s.Spawn(testContext(t), isolate.MustFunc(holdEntry), nil)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer h.Terminate(isolate.Immediate)

	h.HandleIncoming("garbage")
	h.HandleIncoming(map[string]any{"$kind": "unknown"})
	if h.Result().Resolved() {
		t.Error("Foreign messages must not resolve requests")
	}
}

func TestShutdown(t *testing.T) {
	s := newSupervisor()
	ctx := testContext(t)
	for i := 0; i < 3; i++ {
		if _, err := s.Spawn(ctx, isolate.MustFunc(holdEntry), nil); err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
	}
	if s.Active() != 3 {
		t.Fatalf("Expected 3 active workers, got %d", s.Active())
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if s.Active() != 0 {
		t.Errorf("Expected no active workers, got %d", s.Active())
	}
}

func TestShutdown_WakesSleepingWorker(t *testing.T) {
	s := newSupervisor()
	ctx := testContext(t)
	h, err := s.Spawn(ctx, isolate.MustFunc(serveEntry), nil)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	f := h.Request(ctx, 0)
	time.Sleep(50 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Graceful shutdown should not wait out the sleep: %v", err)
	}
	select {
	case <-f.Done():
	default:
		t.Error("Request still pending after shutdown")
	}
}

func TestShutdown_KillsWorkersPastDeadline(t *testing.T) {
	s := newSupervisor()
	ctx := testContext(t)
	h, err := s.Spawn(ctx, isolate.MustFunc(stallEntry), nil)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	f := h.Request(ctx, "slow")
	time.Sleep(50 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := s.Shutdown(shutdownCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Shutdown took %v", elapsed)
	}

	awaitCtx, cancelAwait := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancelAwait()
	if _, err := f.Await(awaitCtx); !errors.Is(err, core.ErrUnexpectedExit) {
		t.Errorf("Expected UNEXPECTED_EXIT for the pending request, got %v", err)
	}
	if s.Active() != 0 {
		t.Errorf("Expected no active workers, got %d", s.Active())
	}
	if h.Reason() != "killed" {
		t.Errorf("Expected killed, got %q", h.Reason())
	}
}
