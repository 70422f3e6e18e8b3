package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PromptGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// budgetCacheSize bounds the in-process cache of project budget overrides.
const budgetCacheSize = 1024

// UsageRepo implements biz.UsageRepo on Redis.
// Following Kratos v2 DDD architecture, the interface is defined in the biz
// layer. Counters use INCRBYFLOAT with a refreshed per-key expiry so stale
// counters self-clean; usage records are write-once SETEX values.
type UsageRepo struct {
	rdb         *redis.Client
	budgetCache *lru.Cache[string, *model.ProjectBudget]
	logger      *log.Helper
}

// NewUsageRepo creates a new usage repository.
func NewUsageRepo(rdb *redis.Client, logger log.Logger) (*UsageRepo, error) {
	cache, err := lru.New[string, *model.ProjectBudget](budgetCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create budget cache: %w", err)
	}

	return &UsageRepo{
		rdb:         rdb,
		budgetCache: cache,
		logger:      log.NewHelper(logger),
	}, nil
}

// IncrementCounter atomically adds amount to the counter and refreshes its
// expiry. Returns the new value.
func (r *UsageRepo) IncrementCounter(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	if r.rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	value, err := r.rdb.IncrByFloat(ctx, key, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}

	if ttl > 0 {
		if err := r.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			r.logger.Warnf("failed to set expiry on counter %s: %v", key, err)
			// Don't return error, counter is still incremented
		}
	}

	return value, nil
}

// GetCounter retrieves the current counter value. Missing counters read as
// zero, never as an error.
func (r *UsageRepo) GetCounter(ctx context.Context, key string) (float64, error) {
	if r.rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	value, err := r.rdb.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get counter %s: %w", key, err)
	}

	return value, nil
}

// StoreUsageRecord persists one immutable usage record with bounded retention.
func (r *UsageRepo) StoreUsageRecord(ctx context.Context, record *model.UsageRecord, ttl time.Duration) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	key := usageRecordKey(record.TrackingID)
	if err := r.rdb.SetEx(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store usage record %s: %w", record.TrackingID, err)
	}

	return nil
}

// GetUsageRecord retrieves one usage record by tracking ID. Returns nil when
// the record does not exist or has expired.
func (r *UsageRepo) GetUsageRecord(ctx context.Context, trackingID string) (*model.UsageRecord, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	payload, err := r.rdb.Get(ctx, usageRecordKey(trackingID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record %s: %w", trackingID, err)
	}

	var record model.UsageRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal usage record %s: %w", trackingID, err)
	}

	return &record, nil
}

// DeleteNamespace removes every key matching the pattern and returns the
// number of keys deleted.
func (r *UsageRepo) DeleteNamespace(ctx context.Context, pattern string) (int, error) {
	if r.rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	keys, err := r.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list keys for pattern %s: %w", pattern, err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("failed to delete keys for pattern %s: %w", pattern, err)
	}

	return len(keys), nil
}

func usageRecordKey(trackingID string) string {
	return fmt.Sprintf("usage:record:%s", trackingID)
}
