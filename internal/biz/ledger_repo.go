package biz

import (
	"context"
	"time"

	"PromptGate/internal/model"
)

// UsageRepo defines the interface for the budget counter store.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementation is in data layer (data.UsageRepo).
type UsageRepo interface {
	// Counter operations. Increments are atomic; missing counters read as zero.
	IncrementCounter(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error)
	GetCounter(ctx context.Context, key string) (float64, error)

	// Usage record persistence (write-once, bounded retention).
	// GetUsageRecord returns nil when the record is absent or expired.
	StoreUsageRecord(ctx context.Context, record *model.UsageRecord, ttl time.Duration) error
	GetUsageRecord(ctx context.Context, trackingID string) (*model.UsageRecord, error)

	// DeleteNamespace removes every key matching the pattern and returns the
	// number of keys deleted.
	DeleteNamespace(ctx context.Context, pattern string) (int, error)

	// Budget configuration overrides. GetProjectBudget returns nil when no
	// override exists.
	GetProjectBudget(ctx context.Context, projectID string) (*model.ProjectBudget, error)
	SetProjectBudget(ctx context.Context, projectID string, budget *model.ProjectBudget, ttl time.Duration) error
}

// UsageArchiver persists completed usage records to durable storage for
// analytics. Archiving is strictly best-effort and asynchronous.
type UsageArchiver interface {
	Archive(record *model.UsageRecord)
}
