package future

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFuture_Await(t *testing.T) {
	p := New[string]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Resolve("test-result")
	}()

	result, err := p.Future().Await(context.Background())
	if err != nil {
		t.Fatalf("Await() error = %v, want nil", err)
	}
	if result != "test-result" {
		t.Errorf("Await() = %v, want test-result", result)
	}
}

func TestFuture_Await_Error(t *testing.T) {
	p := New[string]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Reject(errors.New("test error"))
	}()

	result, err := p.Future().Await(context.Background())
	if err == nil {
		t.Error("Await() error = nil, want error")
	}
	if result != "" {
		t.Errorf("Await() = %v, want empty string", result)
	}
}

func TestFuture_Await_ContextCancel(t *testing.T) {
	p := New[string]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := p.Future().Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await() error = %v, want deadline exceeded", err)
	}
	if p.Future().Resolved() {
		t.Error("a cancelled wait must not resolve the future")
	}
}

func TestPromise_ResolvesOnce(t *testing.T) {
	p := New[int]()

	if !p.Resolve(1) {
		t.Fatal("first Resolve should win")
	}
	if p.Resolve(2) {
		t.Error("second Resolve should be rejected")
	}
	if p.Reject(errors.New("late")) {
		t.Error("Reject after Resolve should be rejected")
	}

	v, err, ok := p.Future().Result()
	if !ok || err != nil || v != 1 {
		t.Errorf("Result() = %v, %v, %v; want 1, nil, true", v, err, ok)
	}
}

func TestPromise_ConcurrentResolutionHasOneWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		p := New[int]()
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var won bool
				if i%2 == 0 {
					won = p.Resolve(i)
				} else {
					won = p.Reject(errors.New(strconv.Itoa(i)))
				}
				if won {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("round %d: %d winners, want exactly 1", round, wins)
		}
	}
}

func TestFuture_OnComplete(t *testing.T) {
	p := New[string]()
	var calls int32
	p.Future().OnComplete(func(r Result[string]) {
		atomic.AddInt32(&calls, 1)
		if r.Value != "done" {
			t.Errorf("handler got %q", r.Value)
		}
	})

	p.Resolve("done")
	p.Resolve("again")

	// Registered after resolution: runs immediately.
	p.Future().OnComplete(func(Result[string]) { atomic.AddInt32(&calls, 1) })

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("handlers ran %d times, want 2", got)
	}
}

func TestMap(t *testing.T) {
	mapped := Map(Resolved(21), func(n int) (string, error) {
		return strconv.Itoa(n * 2), nil
	})
	if v, err := mapped.Await(context.Background()); err != nil || v != "42" {
		t.Errorf("Map() = %q, %v; want 42, nil", v, err)
	}

	boom := errors.New("boom")
	failed := Map(Failed[int](boom), func(n int) (string, error) { return "", nil })
	if _, err := failed.Await(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Map() of failed future error = %v, want boom", err)
	}
}

func TestAll(t *testing.T) {
	a, b := New[string](), New[string]()
	go func() {
		b.Resolve("b")
		time.Sleep(5 * time.Millisecond)
		a.Resolve("a")
	}()

	got, err := All(context.Background(), a.Future(), b.Future())
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if got[0] != "a" || got[1] != "b" {
		t.Errorf("All() = %v, want [a b]", got)
	}
}
