package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PromptGate/internal/conf"
	"PromptGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// CircuitState is the health state of one circuit breaker instance.
type CircuitState string

const (
	// StateClosed is normal operation: calls are attempted.
	StateClosed CircuitState = "closed"
	// StateOpen rejects calls immediately without invoking the upstream.
	StateOpen CircuitState = "open"
	// StateHalfOpen lets a bounded number of probe calls through to test recovery.
	StateHalfOpen CircuitState = "half_open"
)

// Breaker rejection reasons.
const (
	ReasonCircuitOpen      = "CIRCUIT_OPEN"
	ReasonHalfOpenCapacity = "HALF_OPEN_CAPACITY"
	ReasonTimeout          = "TIMEOUT"
)

// BreakerError is a breaker-level rejection or timeout. It is distinct from
// categorized upstream failures so callers can tell "upstream is unhealthy"
// apart from "upstream rejected this request".
type BreakerError struct {
	Reason  string
	Message string
}

// Error implements the error interface.
func (e *BreakerError) Error() string {
	return fmt.Sprintf("circuit breaker: %s (%s)", e.Message, e.Reason)
}

// RequestHistoryEntry is one observation in the time-windowed request log.
// The log feeds derived metrics only; it never drives state transitions.
type RequestHistoryEntry struct {
	Timestamp time.Time
	Success   bool
	Duration  time.Duration
	Category  ErrorCategory
}

// StateChange describes one breaker state transition.
type StateChange struct {
	From         CircuitState
	To           CircuitState
	At           time.Time
	FailureCount int32
}

// BreakerConfig holds circuit breaker tuning for one upstream call type.
type BreakerConfig struct {
	FailureThreshold int32
	Timeout          time.Duration
	ResetTimeout     time.Duration
	MonitoringPeriod time.Duration
	HalfOpenMaxCalls int32
}

// NewBreakerConfig converts bootstrap configuration to a BreakerConfig,
// applying defaults for unset fields.
func NewBreakerConfig(c *conf.Breaker) BreakerConfig {
	cfg := BreakerConfig{
		FailureThreshold: 5,
		Timeout:          2 * time.Minute,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: 10 * time.Minute,
		HalfOpenMaxCalls: 3,
	}
	if c == nil {
		return cfg
	}
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if d := c.Timeout.AsDuration(); d > 0 {
		cfg.Timeout = d
	}
	if d := c.ResetTimeout.AsDuration(); d > 0 {
		cfg.ResetTimeout = d
	}
	if d := c.MonitoringPeriod.AsDuration(); d > 0 {
		cfg.MonitoringPeriod = d
	}
	if c.HalfOpenMaxCalls > 0 {
		cfg.HalfOpenMaxCalls = c.HalfOpenMaxCalls
	}
	return cfg
}

// CompletionCall is a zero-argument-bound upstream call executed under the
// breaker's protection.
type CompletionCall func(ctx context.Context) (*model.CompletionResponse, error)

// CircuitBreaker guards a single upstream call type with a three-state health
// machine. One instance exists per call type; all state is owned by the
// instance and guarded by its mutex, shared by every concurrent request.
//
// The OPEN to HALF_OPEN transition is lazy: it fires on the next Execute call
// after the reset timeout elapses, not from a background timer.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	logger *log.Helper
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failureCount    int32
	lastFailureTime time.Time
	openedAt        time.Time
	halfOpenCalls   int32
	// generation invalidates in-flight probes when the state machine moves on
	generation uint64

	history      []RequestHistoryEntry
	stateChanges []StateChange

	totalRequests      uint64
	successfulRequests uint64
	failedRequests     uint64
	rejectedRequests   uint64
	timeouts           uint64
	circuitOpenings    uint64
	errorCounts        map[ErrorCategory]uint64

	stateChangeFns []func(StateChange)
	successFns     []func(time.Duration)
	failureFns     []func(ErrorCategory, time.Duration)
}

// NewCircuitBreaker creates a circuit breaker for one upstream call type.
func NewCircuitBreaker(name string, cfg BreakerConfig, logger log.Logger) *CircuitBreaker {
	b := &CircuitBreaker{
		name:        name,
		cfg:         cfg,
		logger:      log.NewHelper(logger),
		now:         time.Now,
		state:       StateClosed,
		errorCounts: make(map[ErrorCategory]uint64),
	}

	b.logger.Infow("circuit breaker initialized",
		"name", name,
		"failure_threshold", cfg.FailureThreshold,
		"timeout", cfg.Timeout,
		"reset_timeout", cfg.ResetTimeout,
		"half_open_max_calls", cfg.HalfOpenMaxCalls)

	return b
}

// OnStateChange registers a callback invoked after every state transition.
// Callbacks run outside the breaker's lock and must not call back into it
// synchronously from another goroutine while blocking.
func (b *CircuitBreaker) OnStateChange(fn func(StateChange)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateChangeFns = append(b.stateChangeFns, fn)
}

// OnSuccess registers a callback invoked after every successful call.
func (b *CircuitBreaker) OnSuccess(fn func(time.Duration)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successFns = append(b.successFns, fn)
}

// OnFailure registers a callback invoked after every failed call.
func (b *CircuitBreaker) OnFailure(fn func(ErrorCategory, time.Duration)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureFns = append(b.failureFns, fn)
}

// Execute runs the call under breaker protection. While OPEN it rejects
// immediately with ReasonCircuitOpen; while HALF_OPEN it admits at most
// HalfOpenMaxCalls concurrent probes and rejects the rest with
// ReasonHalfOpenCapacity. The call is bounded by the configured timeout; a
// timeout is surfaced as ReasonTimeout and counted as a transient failure.
func (b *CircuitBreaker) Execute(ctx context.Context, call CompletionCall) (*model.CompletionResponse, error) {
	start := b.now()

	gen, err := b.admit()
	if err != nil {
		return nil, err
	}

	resp, err := b.invoke(ctx, call)
	duration := b.now().Sub(start)
	if err != nil {
		b.onFailure(gen, err, duration)
		return nil, err
	}

	b.onSuccess(gen, duration)
	return resp, nil
}

// admit decides whether the call may proceed and reserves a probe slot in
// half-open state. It returns the generation the caller was admitted under.
func (b *CircuitBreaker) admit() (uint64, error) {
	b.mu.Lock()

	b.totalRequests++

	var change *StateChange
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			// Lazy call-triggered transition; this call becomes the first probe
			change = b.transitionLocked(StateHalfOpen)
		} else {
			b.rejectedRequests++
			b.mu.Unlock()
			return 0, &BreakerError{Reason: ReasonCircuitOpen, Message: "circuit breaker is open"}
		}
	}

	if b.state == StateHalfOpen {
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			b.rejectedRequests++
			b.mu.Unlock()
			if change != nil {
				b.notifyStateChange(*change)
			}
			return 0, &BreakerError{Reason: ReasonHalfOpenCapacity, Message: "half-open circuit at capacity"}
		}
		b.halfOpenCalls++
	}

	gen := b.generation
	b.mu.Unlock()

	if change != nil {
		b.notifyStateChange(*change)
	}
	return gen, nil
}

// invoke runs the call with the per-call timeout applied.
func (b *CircuitBreaker) invoke(ctx context.Context, call CompletionCall) (*model.CompletionResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	type callResult struct {
		resp *model.CompletionResponse
		err  error
	}
	done := make(chan callResult, 1)

	go func() {
		resp, err := call(cctx)
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-cctx.Done():
		if err := ctx.Err(); err != nil {
			// Caller-side cancellation: categorized and counted like any
			// other failure of the same category
			return nil, err
		}
		b.mu.Lock()
		b.timeouts++
		b.mu.Unlock()
		return nil, &BreakerError{Reason: ReasonTimeout, Message: "request timeout"}
	}
}

// onSuccess records a successful call and applies half-open probe accounting.
func (b *CircuitBreaker) onSuccess(gen uint64, duration time.Duration) {
	now := b.now()

	b.mu.Lock()
	b.successfulRequests++
	b.appendHistoryLocked(RequestHistoryEntry{Timestamp: now, Success: true, Duration: duration})

	var change *StateChange
	switch {
	case b.state == StateHalfOpen && gen == b.generation:
		b.halfOpenCalls--
		if b.halfOpenCalls <= 0 {
			// All probes drained without a failure: upstream has recovered
			change = b.transitionLocked(StateClosed)
			b.resetFailureCountLocked()
		}
	case b.state == StateClosed:
		b.resetFailureCountLocked()
	}
	fns := b.successFns
	b.mu.Unlock()

	if change != nil {
		b.notifyStateChange(*change)
	}
	for _, fn := range fns {
		fn(duration)
	}
}

// onFailure records a failed call, updates the failure counter per the
// counting policy, and opens the circuit when warranted.
func (b *CircuitBreaker) onFailure(gen uint64, err error, duration time.Duration) {
	now := b.now()
	category := CategorizeError(err)

	b.mu.Lock()
	b.failedRequests++
	b.errorCounts[category]++
	b.appendHistoryLocked(RequestHistoryEntry{Timestamp: now, Success: false, Duration: duration, Category: category})

	var change *StateChange
	if ShouldCountAsFailure(category) {
		b.failureCount++
		b.lastFailureTime = now

		if b.state == StateHalfOpen && gen == b.generation {
			// A single probe failure re-opens immediately; outcomes of other
			// in-flight probes are discarded by the generation bump
			change = b.transitionLocked(StateOpen)
			b.circuitOpenings++
		} else if b.state == StateClosed && b.failureCount >= b.cfg.FailureThreshold {
			change = b.transitionLocked(StateOpen)
			b.circuitOpenings++
		}
	} else if b.state == StateHalfOpen && gen == b.generation {
		// Non-counting failure releases its probe slot without closing
		b.halfOpenCalls--
	}
	failureCount := b.failureCount
	state := b.state
	fns := b.failureFns
	b.mu.Unlock()

	b.logger.Errorw("request failed through circuit breaker",
		"name", b.name,
		"error", err,
		"category", string(category),
		"state", string(state),
		"failure_count", failureCount)

	if change != nil {
		b.notifyStateChange(*change)
	}
	for _, fn := range fns {
		fn(category, duration)
	}
}

// transitionLocked moves the state machine and returns the recorded change.
// Callers must hold b.mu and invoke notifyStateChange after unlocking.
func (b *CircuitBreaker) transitionLocked(to CircuitState) *StateChange {
	from := b.state
	b.state = to
	b.generation++
	b.halfOpenCalls = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}

	change := StateChange{From: from, To: to, At: b.now(), FailureCount: b.failureCount}
	b.stateChanges = append(b.stateChanges, change)
	if len(b.stateChanges) > 128 {
		b.stateChanges = b.stateChanges[len(b.stateChanges)-128:]
	}

	b.logger.Infow("circuit breaker state changed",
		"name", b.name,
		"from", string(from),
		"to", string(to),
		"failure_count", b.failureCount)

	return &change
}

func (b *CircuitBreaker) notifyStateChange(change StateChange) {
	b.mu.Lock()
	fns := b.stateChangeFns
	b.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

func (b *CircuitBreaker) resetFailureCountLocked() {
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}

// appendHistoryLocked appends an observation and evicts entries older than
// the monitoring period.
func (b *CircuitBreaker) appendHistoryLocked(entry RequestHistoryEntry) {
	b.history = append(b.history, entry)
	b.evictHistoryLocked()
}

func (b *CircuitBreaker) evictHistoryLocked() {
	cutoff := b.now().Add(-b.cfg.MonitoringPeriod)
	idx := 0
	for idx < len(b.history) && !b.history[idx].Timestamp.After(cutoff) {
		idx++
	}
	if idx > 0 {
		b.history = append(b.history[:0:0], b.history[idx:]...)
	}
}

// State returns the current circuit state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ForceOpen manually opens the circuit, e.g. for upstream maintenance.
func (b *CircuitBreaker) ForceOpen() {
	b.mu.Lock()
	change := b.transitionLocked(StateOpen)
	b.mu.Unlock()

	b.logger.Infow("circuit breaker manually opened", "name", b.name)
	b.notifyStateChange(*change)
}

// ForceClose manually closes the circuit and resets the failure counter.
func (b *CircuitBreaker) ForceClose() {
	b.mu.Lock()
	change := b.transitionLocked(StateClosed)
	b.resetFailureCountLocked()
	b.mu.Unlock()

	b.logger.Infow("circuit breaker manually closed", "name", b.name)
	b.notifyStateChange(*change)
}
