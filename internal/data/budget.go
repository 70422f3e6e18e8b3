package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PromptGate/internal/model"

	"github.com/redis/go-redis/v9"
)

// GetProjectBudget returns a project's budget override, or nil when none is
// configured. Overrides are cached in-process; the cache is invalidated on
// write.
func (r *UsageRepo) GetProjectBudget(ctx context.Context, projectID string) (*model.ProjectBudget, error) {
	if budget, ok := r.budgetCache.Get(projectID); ok {
		return budget, nil
	}

	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	payload, err := r.rdb.Get(ctx, projectBudgetKey(projectID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project budget %s: %w", projectID, err)
	}

	var budget model.ProjectBudget
	if err := json.Unmarshal(payload, &budget); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project budget %s: %w", projectID, err)
	}

	r.budgetCache.Add(projectID, &budget)
	return &budget, nil
}

// SetProjectBudget overwrites a project's budget override with long retention.
func (r *UsageRepo) SetProjectBudget(ctx context.Context, projectID string, budget *model.ProjectBudget, ttl time.Duration) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	payload, err := json.Marshal(budget)
	if err != nil {
		return fmt.Errorf("failed to marshal project budget: %w", err)
	}

	if err := r.rdb.SetEx(ctx, projectBudgetKey(projectID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set project budget %s: %w", projectID, err)
	}

	r.budgetCache.Add(projectID, budget)
	return nil
}

func projectBudgetKey(projectID string) string {
	return fmt.Sprintf("budget:project:%s", projectID)
}
