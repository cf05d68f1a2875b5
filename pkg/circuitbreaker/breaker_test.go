package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errUpstream = errors.New("upstream 503")
	errClient   = errors.New("upstream 404")
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("worldbank", Config{FailureThreshold: 2, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return errUpstream })
		if !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: err = %v, want upstream error", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("guarded call ran while circuit open")
	}
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	cb := NewCircuitBreaker("eurostat", Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return errors.Is(err, errUpstream) },
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errClient })
	}

	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
	if got := cb.Counts().TotalSuccesses; got != 3 {
		t.Errorf("successes = %d, want 3", got)
	}
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var transitions []State

	cb := NewCircuitBreaker("owid", Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		OnStateChange:    func(_ string, _ State, to State) { transitions = append(transitions, to) },
	})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(context.Context) error { return errUpstream })
	now = now.Add(2 * time.Second)

	if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreakerSnapshot(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("wikidata", Config{FailureThreshold: 2, Timeout: 30 * time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(context.Context) error { return errUpstream })
	s := cb.Snapshot()
	if s.State != StateClosed || s.RetryAt != nil {
		t.Fatalf("closed snapshot = %+v", s)
	}
	if s.Counts.Requests != 1 || s.Counts.ConsecutiveFailures != 1 {
		t.Errorf("counts = %+v", s.Counts)
	}

	_ = cb.Execute(context.Background(), func(context.Context) error { return errUpstream })
	s = cb.Snapshot()
	if s.State != StateOpen {
		t.Fatalf("state = %s, want open", s.State)
	}
	if s.RetryAt == nil || !s.RetryAt.Equal(now.Add(30*time.Second)) {
		t.Errorf("retryAt = %v, want %v", s.RetryAt, now.Add(30*time.Second))
	}
	if s.Counts != (Counts{}) {
		t.Errorf("counts not reset on open: %+v", s.Counts)
	}

	now = now.Add(31 * time.Second)
	s = cb.Snapshot()
	if s.State != StateHalfOpen || s.RetryAt != nil {
		t.Errorf("after timeout snapshot = %+v", s)
	}
}

func TestBreakerDropsOutcomeFromEarlierPeriod(t *testing.T) {
	cb := NewCircuitBreaker("worldbank", Config{FailureThreshold: 1, Timeout: time.Minute})

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		// A concurrent call fails and opens the circuit while this one runs.
		_ = cb.Execute(ctx, func(context.Context) error { return errUpstream })
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if cb.State() != StateOpen {
		t.Errorf("state = %s, want open", cb.State())
	}
	if got := cb.Counts().TotalSuccesses; got != 0 {
		t.Errorf("late success counted: %d", got)
	}
}

func TestBreakerIntervalResetsClosedCounts(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("eurostat", Config{FailureThreshold: 3, Interval: 10 * time.Second})
	cb.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errUpstream })
	}
	now = now.Add(11 * time.Second)
	_ = cb.Execute(context.Background(), func(context.Context) error { return errUpstream })

	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}
	if got := cb.Counts().ConsecutiveFailures; got != 1 {
		t.Errorf("consecutive failures = %d, want 1", got)
	}
}

func TestStateMarshalText(t *testing.T) {
	for s, want := range map[State]string{StateClosed: "closed", StateHalfOpen: "half-open", StateOpen: "open", State(9): "unknown"} {
		b, err := s.MarshalText()
		if err != nil || string(b) != want {
			t.Errorf("%d: %q %v, want %q", int(s), b, err, want)
		}
	}
}
