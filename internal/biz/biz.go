// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"PromptGate/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBreakerConfig,
	NewUpstreamBreaker,
	NewPricingTable,
	NewBudgetLedgerUseCase,
	NewTemplateStore,
	NewCompletionUsecase,
	// Import data layer providers
	data.NewUsageRepo,
	data.NewUsageArchiver,
	data.NewCursorClient,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(UsageRepo), new(*data.UsageRepo)),
	wire.Bind(new(UsageArchiver), new(*data.UsageArchiverImpl)),
	wire.Bind(new(CompletionClient), new(*data.CursorClient)),
	wire.Bind(new(TemplateRenderer), new(*TemplateStore)),
)

// upstreamBreakerName identifies the single breaker guarding the completion
// API in logs and metrics.
const upstreamBreakerName = "cursor-api"

// NewUpstreamBreaker creates the circuit breaker guarding the upstream
// completion API.
func NewUpstreamBreaker(cfg BreakerConfig, logger log.Logger) *CircuitBreaker {
	return NewCircuitBreaker(upstreamBreakerName, cfg, logger)
}
