package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"PromptGate/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProjectBudget() *model.ProjectBudget {
	return &model.ProjectBudget{
		MaxTokens:        200000,
		MaxCostUsd:       75.0,
		WarningThreshold: 0.9,
		DailyTokens:      50000,
	}
}

func TestGetProjectBudget_NoneConfigured(t *testing.T) {
	repo, _, cleanup := setupUsageRepo(t)
	defer cleanup()

	budget, err := repo.GetProjectBudget(context.Background(), "unconfigured")
	require.NoError(t, err)
	assert.Nil(t, budget)
}

func TestSetAndGetProjectBudget(t *testing.T) {
	repo, mr, cleanup := setupUsageRepo(t)
	defer cleanup()
	ctx := context.Background()

	err := repo.SetProjectBudget(ctx, "alpha", testProjectBudget(), 8760*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 8760*time.Hour, mr.TTL("budget:project:alpha"))

	got, err := repo.GetProjectBudget(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(200000), got.MaxTokens)
	assert.Equal(t, 75.0, got.MaxCostUsd)
	assert.Equal(t, 0.9, got.WarningThreshold)
}

func TestGetProjectBudget_ServedFromCacheAfterWrite(t *testing.T) {
	repo, mr, cleanup := setupUsageRepo(t)
	defer cleanup()
	ctx := context.Background()

	err := repo.SetProjectBudget(ctx, "alpha", testProjectBudget(), time.Hour)
	require.NoError(t, err)

	// Remove the Redis key; the in-process cache still serves the override
	mr.Del("budget:project:alpha")

	got, err := repo.GetProjectBudget(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(200000), got.MaxTokens)
}

func TestGetProjectBudget_CachePopulatedOnRead(t *testing.T) {
	repo, mr, cleanup := setupUsageRepo(t)
	defer cleanup()
	ctx := context.Background()

	payload, err := json.Marshal(testProjectBudget())
	require.NoError(t, err)
	require.NoError(t, mr.Set("budget:project:beta", string(payload)))

	got, err := repo.GetProjectBudget(ctx, "beta")
	require.NoError(t, err)
	require.NotNil(t, got)

	mr.Del("budget:project:beta")

	cached, err := repo.GetProjectBudget(ctx, "beta")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, got.MaxTokens, cached.MaxTokens)
}

func TestGetProjectBudget_CorruptPayload(t *testing.T) {
	repo, mr, cleanup := setupUsageRepo(t)
	defer cleanup()

	require.NoError(t, mr.Set("budget:project:bad", "not-json"))

	_, err := repo.GetProjectBudget(context.Background(), "bad")
	assert.Error(t, err)
}
