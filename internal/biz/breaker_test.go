package biz

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"PromptGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock provides a controllable time source for breaker tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(cfg BreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := newFakeClock()
	b := NewCircuitBreaker("test", cfg, log.NewStdLogger(io.Discard))
	b.now = clock.Now
	return b, clock
}

func defaultTestConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Timeout:          time.Second,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: 10 * time.Minute,
		HalfOpenMaxCalls: 2,
	}
}

func okCall(ctx context.Context) (*model.CompletionResponse, error) {
	return &model.CompletionResponse{ID: "ok"}, nil
}

func failingCall(status int, message string) CompletionCall {
	return func(ctx context.Context) (*model.CompletionResponse, error) {
		return nil, &model.UpstreamError{StatusCode: status, Message: message}
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())

	for i := 0; i < 3; i++ {
		_, err := b.Execute(context.Background(), failingCall(500, "internal server error"))
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, uint64(1), b.GetMetrics().CircuitOpenings)
}

func TestCircuitBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())

	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), failingCall(503, "service unavailable"))
	}
	require.Equal(t, StateOpen, b.State())

	invoked := false
	_, err := b.Execute(context.Background(), func(ctx context.Context) (*model.CompletionResponse, error) {
		invoked = true
		return nil, nil
	})

	var breakerErr *BreakerError
	require.ErrorAs(t, err, &breakerErr)
	assert.Equal(t, ReasonCircuitOpen, breakerErr.Reason)
	assert.False(t, invoked, "rejected call must not reach the upstream")
	assert.Equal(t, uint64(1), b.GetMetrics().Rejected)
}

func TestCircuitBreaker_ValidationErrorsNeverCount(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())

	for i := 0; i < 10; i++ {
		_, err := b.Execute(context.Background(), failingCall(400, "invalid request payload"))
		require.Error(t, err)
	}

	assert.Equal(t, StateClosed, b.State())
	metrics := b.GetMetrics()
	assert.Equal(t, int32(0), metrics.FailureCount)
	assert.Equal(t, uint64(10), metrics.ErrorCounts[CategoryValidation])
}

func TestCircuitBreaker_AuthErrorsNeverCount(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())

	for i := 0; i < 10; i++ {
		_, err := b.Execute(context.Background(), failingCall(401, "invalid api key"))
		require.Error(t, err)
	}

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, int32(0), b.GetMetrics().FailureCount)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())

	b.Execute(context.Background(), failingCall(500, "boom"))
	b.Execute(context.Background(), failingCall(500, "boom"))
	_, err := b.Execute(context.Background(), okCall)
	require.NoError(t, err)

	// Two more failures still below the threshold after the reset
	b.Execute(context.Background(), failingCall(500, "boom"))
	b.Execute(context.Background(), failingCall(500, "boom"))

	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_LazyHalfOpenTransition(t *testing.T) {
	cfg := defaultTestConfig()
	b, clock := newTestBreaker(cfg)

	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), failingCall(500, "boom"))
	}
	require.Equal(t, StateOpen, b.State())

	// Still open just before the reset timeout
	clock.Advance(cfg.ResetTimeout - time.Second)
	_, err := b.Execute(context.Background(), okCall)
	var breakerErr *BreakerError
	require.ErrorAs(t, err, &breakerErr)
	assert.Equal(t, ReasonCircuitOpen, breakerErr.Reason)

	// Crossing the reset timeout admits the call as a probe; its success
	// drains the probe count to zero and closes the circuit
	clock.Advance(2 * time.Second)
	resp, err := b.Execute(context.Background(), okCall)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.ID)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, int32(0), b.GetMetrics().FailureCount)
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cfg := defaultTestConfig()
	b, clock := newTestBreaker(cfg)

	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), failingCall(500, "boom"))
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(cfg.ResetTimeout + time.Second)
	_, err := b.Execute(context.Background(), failingCall(502, "bad gateway"))
	require.Error(t, err)

	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, uint64(2), b.GetMetrics().CircuitOpenings)

	// The failed probe restarts the reset clock
	_, err = b.Execute(context.Background(), okCall)
	var breakerErr *BreakerError
	require.ErrorAs(t, err, &breakerErr)
	assert.Equal(t, ReasonCircuitOpen, breakerErr.Reason)
}

func TestCircuitBreaker_HalfOpenCapacity(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Timeout = 5 * time.Second
	b, clock := newTestBreaker(cfg)

	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), failingCall(500, "boom"))
	}
	clock.Advance(cfg.ResetTimeout + time.Second)

	release := make(chan struct{})
	started := make(chan struct{}, int(cfg.HalfOpenMaxCalls))
	blocking := func(ctx context.Context) (*model.CompletionResponse, error) {
		started <- struct{}{}
		<-release
		return &model.CompletionResponse{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < int(cfg.HalfOpenMaxCalls); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Execute(context.Background(), blocking)
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < int(cfg.HalfOpenMaxCalls); i++ {
		<-started
	}

	// All probe slots taken: the next call is rejected without invoking
	_, err := b.Execute(context.Background(), okCall)
	var breakerErr *BreakerError
	require.ErrorAs(t, err, &breakerErr)
	assert.Equal(t, ReasonHalfOpenCapacity, breakerErr.Reason)

	close(release)
	wg.Wait()

	// Both probes succeeded: the circuit closes
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_TimeoutIsTransientFailure(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Timeout = 20 * time.Millisecond
	b, _ := newTestBreaker(cfg)

	_, err := b.Execute(context.Background(), func(ctx context.Context) (*model.CompletionResponse, error) {
		select {
		case <-time.After(time.Second):
			return &model.CompletionResponse{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	var breakerErr *BreakerError
	require.ErrorAs(t, err, &breakerErr)
	assert.Equal(t, ReasonTimeout, breakerErr.Reason)
	assert.Equal(t, CategoryTransient, CategorizeError(err))

	metrics := b.GetMetrics()
	assert.Equal(t, uint64(1), metrics.Timeouts)
	assert.Equal(t, int32(1), metrics.FailureCount)
	assert.Equal(t, uint64(1), metrics.ErrorCounts[CategoryTransient])
}

func TestCircuitBreaker_CallerCancellationPropagates(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Execute(ctx, func(ctx context.Context) (*model.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCircuitBreaker_ForceOpenAndClose(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())

	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Execute(context.Background(), okCall)
	var breakerErr *BreakerError
	require.ErrorAs(t, err, &breakerErr)
	assert.Equal(t, ReasonCircuitOpen, breakerErr.Reason)

	b.ForceClose()
	assert.Equal(t, StateClosed, b.State())

	_, err = b.Execute(context.Background(), okCall)
	assert.NoError(t, err)
}

func TestCircuitBreaker_StateChangeCallbacks(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())

	var mu sync.Mutex
	var changes []StateChange
	b.OnStateChange(func(change StateChange) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change)
	})

	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), failingCall(500, "boom"))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 1)
	assert.Equal(t, StateClosed, changes[0].From)
	assert.Equal(t, StateOpen, changes[0].To)
	assert.Equal(t, int32(3), changes[0].FailureCount)
}

func TestCircuitBreaker_MetricsSnapshot(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())

	b.Execute(context.Background(), okCall)
	b.Execute(context.Background(), okCall)
	b.Execute(context.Background(), failingCall(500, "boom"))

	metrics := b.GetMetrics()
	assert.Equal(t, "test", metrics.Name)
	assert.Equal(t, uint64(3), metrics.TotalRequests)
	assert.Equal(t, uint64(2), metrics.Successful)
	assert.Equal(t, uint64(1), metrics.Failed)
	assert.Equal(t, 3, metrics.RecentRequests)
	assert.Equal(t, 1, metrics.RecentFailures)
	assert.InDelta(t, 0.333, metrics.FailureRate, 0.001)

	// A second snapshot without intervening calls is identical
	again := b.GetMetrics()
	assert.Equal(t, metrics.TotalRequests, again.TotalRequests)
	assert.Equal(t, metrics.FailureRate, again.FailureRate)
}

func TestCircuitBreaker_HistoryEvictionOutsideMonitoringPeriod(t *testing.T) {
	cfg := defaultTestConfig()
	b, clock := newTestBreaker(cfg)

	b.Execute(context.Background(), failingCall(500, "boom"))
	clock.Advance(cfg.MonitoringPeriod + time.Minute)
	b.Execute(context.Background(), okCall)

	metrics := b.GetMetrics()
	assert.Equal(t, 1, metrics.RecentRequests)
	assert.Equal(t, 0, metrics.RecentFailures)
	assert.Equal(t, 0.0, metrics.FailureRate)
	// Lifetime counters are unaffected by eviction
	assert.Equal(t, uint64(2), metrics.TotalRequests)
}

func TestCircuitBreaker_HealthReport(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())

	b.Execute(context.Background(), failingCall(429, "too many requests"))
	b.Execute(context.Background(), okCall)

	report := b.GetHealthReport()
	assert.Equal(t, StateClosed, report.State)
	assert.True(t, report.Healthy)
	assert.Equal(t, 1, report.RecentErrors[CategoryRateLimit])
	assert.Contains(t, report.Recommendations, "Rate limiting detected - implement request throttling")
}

func TestCircuitBreaker_UnhealthyWhenOpen(t *testing.T) {
	b, _ := newTestBreaker(defaultTestConfig())

	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), failingCall(500, "boom"))
	}

	assert.False(t, b.IsHealthy())
	report := b.GetHealthReport()
	assert.False(t, report.Healthy)
	assert.Contains(t, report.Recommendations, "Circuit is open - upstream may be unhealthy")
}

func TestNewBreakerConfig_Defaults(t *testing.T) {
	cfg := NewBreakerConfig(nil)
	assert.Equal(t, int32(5), cfg.FailureThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, time.Minute, cfg.ResetTimeout)
	assert.Equal(t, 10*time.Minute, cfg.MonitoringPeriod)
	assert.Equal(t, int32(3), cfg.HalfOpenMaxCalls)
}
