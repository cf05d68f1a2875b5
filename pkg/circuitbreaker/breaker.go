package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Config struct {
	// MaxRequests is how many trial calls a half-open breaker lets through.
	MaxRequests uint32
	// Interval resets the counts of a closed breaker; zero keeps them.
	Interval time.Duration
	// Timeout is how long an open breaker rejects calls before a trial call.
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	// IsFailure decides whether an error returned by the guarded call counts
	// against the breaker. Nil means every non-nil error counts.
	IsFailure     func(err error) bool
	OnStateChange func(name string, from State, to State)
	Logger        *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout == 0 {
		c.Timeout = time.Minute
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return err != nil }
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"totalSuccesses"`
	TotalFailures        uint32 `json:"totalFailures"`
	ConsecutiveSuccesses uint32 `json:"consecutiveSuccesses"`
	ConsecutiveFailures  uint32 `json:"consecutiveFailures"`
}

func (c *Counts) record(ok bool) {
	if ok {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		return
	}
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Snapshot is a point-in-time view of one breaker, as reported on /ready.
type Snapshot struct {
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
	// RetryAt is when an open breaker turns half-open.
	RetryAt *time.Time `json:"retryAt,omitempty"`
}

// CircuitBreaker guards calls to one upstream data source. Once
// FailureThreshold consecutive failures are seen it rejects calls for Timeout,
// then lets MaxRequests trial calls through before closing again.
//
// Counts belong to a period that ends on every state change and, while
// closed, every Interval. Outcomes of calls started in an earlier period are
// dropped.
type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	period   uint64
	counts   Counts
	periodAt time.Time // zero when the period never ends by itself
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	cb := &CircuitBreaker{
		name: name,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
	cb.startPeriod(cb.now())
	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn unless the circuit is open. Errors from fn are returned
// unchanged; errors excluded by IsFailure count as successes.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	period, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.settle(period, false)
			panic(r)
		}
	}()

	err = fn(ctx)
	cb.settle(period, err == nil || !cb.cfg.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.refresh(cb.now()) {
	case StateOpen:
		return cb.period, ErrCircuitOpen
	case StateHalfOpen:
		if cb.counts.Requests >= cb.cfg.MaxRequests {
			return cb.period, ErrTooManyRequests
		}
	}
	cb.counts.Requests++
	return cb.period, nil
}

func (cb *CircuitBreaker) settle(period uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	state := cb.refresh(now)
	if period != cb.period {
		return
	}
	cb.counts.record(ok)

	switch {
	case state == StateHalfOpen && !ok:
		cb.moveTo(StateOpen, now)
	case state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold:
		cb.moveTo(StateClosed, now)
	case state == StateClosed && cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold:
		cb.moveTo(StateOpen, now)
	}
}

// refresh applies time-driven changes: an open breaker turns half-open after
// Timeout and a closed breaker's period rolls over after Interval.
func (cb *CircuitBreaker) refresh(now time.Time) State {
	if cb.periodAt.IsZero() || now.Before(cb.periodAt) {
		return cb.state
	}
	switch cb.state {
	case StateOpen:
		cb.moveTo(StateHalfOpen, now)
	case StateClosed:
		cb.startPeriod(now)
	}
	return cb.state
}

func (cb *CircuitBreaker) moveTo(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	failures := cb.counts.ConsecutiveFailures
	cb.state = to
	cb.startPeriod(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
	cb.cfg.Logger.Info("Circuit breaker state changed",
		zap.String("source", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Uint32("failures", failures),
	)
}

func (cb *CircuitBreaker) startPeriod(now time.Time) {
	cb.period++
	cb.counts = Counts{}
	cb.periodAt = time.Time{}

	switch {
	case cb.state == StateOpen:
		cb.periodAt = now.Add(cb.cfg.Timeout)
	case cb.state == StateClosed && cb.cfg.Interval > 0:
		cb.periodAt = now.Add(cb.cfg.Interval)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.refresh(cb.now())
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Snapshot{State: cb.refresh(cb.now()), Counts: cb.counts}
	if s.State == StateOpen {
		at := cb.periodAt
		s.RetryAt = &at
	}
	return s
}
