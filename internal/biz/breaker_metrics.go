package biz

import (
	"math"
	"time"
)

// BreakerMetrics is a point-in-time snapshot of breaker state and derived
// request statistics over the monitoring window.
type BreakerMetrics struct {
	Name             string                   `json:"name"`
	State            CircuitState             `json:"state"`
	FailureCount     int32                    `json:"failure_count"`
	FailureThreshold int32                    `json:"failure_threshold"`
	LastFailureTime  time.Time                `json:"last_failure_time,omitempty"`
	TotalRequests    uint64                   `json:"total_requests"`
	Successful       uint64                   `json:"successful_requests"`
	Failed           uint64                   `json:"failed_requests"`
	Rejected         uint64                   `json:"rejected_requests"`
	Timeouts         uint64                   `json:"timeouts"`
	CircuitOpenings  uint64                   `json:"circuit_openings"`
	RecentRequests   int                      `json:"recent_requests"`
	RecentFailures   int                      `json:"recent_failures"`
	FailureRate      float64                  `json:"failure_rate"`
	AverageLatencyMs float64                  `json:"average_latency_ms"`
	ErrorCounts      map[ErrorCategory]uint64 `json:"error_counts"`
	StateChanges     []StateChange            `json:"state_changes"`
}

// HealthReport is the deep health view combining metrics with a categorized
// recent-error breakdown and rule-based operator recommendations.
type HealthReport struct {
	Timestamp       time.Time             `json:"timestamp"`
	Name            string                `json:"name"`
	State           CircuitState          `json:"state"`
	Healthy         bool                  `json:"healthy"`
	Metrics         BreakerMetrics        `json:"metrics"`
	RecentErrors    map[ErrorCategory]int `json:"recent_errors"`
	Recommendations []string              `json:"recommendations"`
}

// GetMetrics returns the current snapshot. Repeated calls without intervening
// executions return identical state and counters.
func (b *CircuitBreaker) GetMetrics() BreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metricsLocked()
}

func (b *CircuitBreaker) metricsLocked() BreakerMetrics {
	b.evictHistoryLocked()

	recent := len(b.history)
	failures := 0
	var totalLatency time.Duration
	for _, entry := range b.history {
		if !entry.Success {
			failures++
		}
		totalLatency += entry.Duration
	}

	failureRate := 0.0
	avgLatency := 0.0
	if recent > 0 {
		failureRate = math.Round(float64(failures)/float64(recent)*1000) / 1000
		avgLatency = float64(totalLatency.Milliseconds()) / float64(recent)
	}

	errorCounts := make(map[ErrorCategory]uint64, len(b.errorCounts))
	for category, count := range b.errorCounts {
		errorCounts[category] = count
	}

	changes := make([]StateChange, len(b.stateChanges))
	copy(changes, b.stateChanges)

	return BreakerMetrics{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.cfg.FailureThreshold,
		LastFailureTime:  b.lastFailureTime,
		TotalRequests:    b.totalRequests,
		Successful:       b.successfulRequests,
		Failed:           b.failedRequests,
		Rejected:         b.rejectedRequests,
		Timeouts:         b.timeouts,
		CircuitOpenings:  b.circuitOpenings,
		RecentRequests:   recent,
		RecentFailures:   failures,
		FailureRate:      failureRate,
		AverageLatencyMs: avgLatency,
		ErrorCounts:      errorCounts,
		StateChanges:     changes,
	}
}

// FailureRate returns the fraction of failed requests within the given window.
func (b *CircuitBreaker) FailureRate(window time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureRateLocked(window)
}

func (b *CircuitBreaker) failureRateLocked(window time.Duration) float64 {
	cutoff := b.now().Add(-window)
	total, failures := 0, 0
	for _, entry := range b.history {
		if entry.Timestamp.After(cutoff) {
			total++
			if !entry.Success {
				failures++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}

// IsHealthy reports whether the circuit is closed with a recent-window
// failure rate below 50%.
func (b *CircuitBreaker) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateClosed && b.failureRateLocked(b.cfg.MonitoringPeriod) < 0.5
}

// GetHealthReport builds the deep health view for operational dashboards.
func (b *CircuitBreaker) GetHealthReport() HealthReport {
	b.mu.Lock()
	metrics := b.metricsLocked()
	healthy := b.state == StateClosed && b.failureRateLocked(b.cfg.MonitoringPeriod) < 0.5

	// Categorized failures over the last five minutes
	recentErrors := make(map[ErrorCategory]int)
	cutoff := b.now().Add(-5 * time.Minute)
	for _, entry := range b.history {
		if !entry.Success && entry.Timestamp.After(cutoff) {
			recentErrors[entry.Category]++
		}
	}
	now := b.now()
	b.mu.Unlock()

	return HealthReport{
		Timestamp:       now,
		Name:            metrics.Name,
		State:           metrics.State,
		Healthy:         healthy,
		Metrics:         metrics,
		RecentErrors:    recentErrors,
		Recommendations: recommendations(metrics, recentErrors),
	}
}

// recommendations derives human-readable operator hints from the snapshot.
func recommendations(metrics BreakerMetrics, recentErrors map[ErrorCategory]int) []string {
	var recs []string

	if metrics.FailureRate > 0.3 {
		recs = append(recs, "High failure rate detected - consider checking upstream health")
	}
	if recentErrors[CategoryRateLimit] > 0 {
		recs = append(recs, "Rate limiting detected - implement request throttling")
	}
	if recentErrors[CategoryAuthError] > 0 {
		recs = append(recs, "Authentication errors - verify API credentials")
	}
	if metrics.AverageLatencyMs > 10000 {
		recs = append(recs, "High response times - consider timeout adjustment")
	}
	if metrics.State == StateOpen {
		recs = append(recs, "Circuit is open - upstream may be unhealthy")
	}

	return recs
}
