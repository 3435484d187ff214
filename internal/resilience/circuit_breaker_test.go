package resilience

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker("engine", maxFailures, reset)
	cb.now = clock.now
	return cb, clock
}

var errEngine = errors.New("engine crashed")

func fail() error    { return errEngine }
func succeed() error { return nil }

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	if cb.State() != StateClosed {
		t.Errorf("Expected initial state Closed, got %s", cb.State())
	}
	if err := cb.Call(succeed, nil); err != nil {
		t.Errorf("Expected call to pass, got %v", err)
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.Call(fail, nil)
	cb.Call(fail, nil)
	if cb.State() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.Call(fail, nil)
	if cb.State() != StateOpen {
		t.Fatal("Expected state Open after 3 failures")
	}

	called := false
	err := cb.Call(func() error { called = true; return nil }, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected open breaker to skip the call")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Second)

	cb.Call(fail, nil)
	cb.Call(succeed, nil)
	cb.Call(fail, nil)
	if cb.State() != StateClosed {
		t.Error("Expected non-consecutive failures to keep the breaker closed")
	}
}

func TestCircuitBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Second)
	errBadInput := errors.New("bad input")
	counts := func(err error) bool { return !errors.Is(err, errBadInput) }

	err := cb.Call(func() error { return errBadInput }, counts)
	if !errors.Is(err, errBadInput) {
		t.Errorf("Expected caller error to pass through, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Error("Expected ignored error to leave breaker closed")
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	cb.Call(fail, nil)

	clock.advance(500 * time.Millisecond)
	if err := cb.Call(succeed, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected breaker to stay open before timeout, got %v", err)
	}

	clock.advance(time.Second)
	if err := cb.Call(succeed, nil); err != nil {
		t.Fatalf("Expected probe to be admitted, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected successful probe to close breaker, got %s", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	cb.Call(fail, nil)
	clock.advance(2 * time.Second)

	cb.Call(fail, nil)
	if cb.State() != StateOpen {
		t.Errorf("Expected failed probe to reopen breaker, got %s", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)

	var transitions []string
	cb.OnStateChange(func(name string, from, to CircuitState) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	})

	cb.Call(fail, nil)
	clock.advance(2 * time.Second)
	cb.Call(succeed, nil)

	want := []string{
		"engine:closed->open",
		"engine:open->half_open",
		"engine:half_open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requests, failures := cb.Stats()
	if state != StateClosed {
		t.Errorf("Expected state Closed, got %s", state)
	}
	if requests != 3 {
		t.Errorf("Expected 3 requests, got %d", requests)
	}
	if failures != 1 {
		t.Errorf("Expected 1 failure, got %d", failures)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	cb.Call(fail, nil)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Error("Expected state Closed after reset")
	}
	if err := cb.Call(succeed, nil); err != nil {
		t.Errorf("Expected call after reset to pass, got %v", err)
	}
}
