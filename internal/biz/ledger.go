package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PromptGate/internal/conf"
	"PromptGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// BudgetExceededError is returned when a hard budget limit would be exceeded
// by the request under admission.
type BudgetExceededError struct {
	Limits []string
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget limit would be exceeded: %s", strings.Join(e.Limits, ", "))
}

// Usage is the actual token consumption of one completed request.
type Usage struct {
	ProjectID     string
	UserID        string
	AgentRole     string
	Model         string
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
	CorrelationID string
}

// BudgetLedgerUseCase tracks consumption and enforces ceilings across three
// independent scopes (project, user, agent-role) on top of a TTL-backed
// counter store, and computes monetary cost from token counts.
//
// The checkRequestBudget / trackUsage pair is intentionally not transactional:
// two concurrent requests can both pass the pre-check and jointly overshoot a
// limit by up to one request's worth of tokens. Admission control is
// optimistic by design; exactness is traded for the absence of cross-request
// locking. A reservation/commit protocol would close the gap if it is ever
// needed.
type BudgetLedgerUseCase struct {
	repo      UsageRepo
	archiver  UsageArchiver
	pricing   *PricingTable
	budget    *conf.Budget
	retention *conf.Retention
	logger    *log.Helper
	now       func() time.Time
}

// NewBudgetLedgerUseCase creates a new budget ledger use case.
func NewBudgetLedgerUseCase(repo UsageRepo, archiver UsageArchiver, pricing *PricingTable, budget *conf.Budget, retention *conf.Retention, logger log.Logger) *BudgetLedgerUseCase {
	return &BudgetLedgerUseCase{
		repo:      repo,
		archiver:  archiver,
		pricing:   pricing,
		budget:    budget,
		retention: retention,
		logger:    log.NewHelper(logger),
		now:       time.Now,
	}
}

// CalculateCost computes the cost breakdown for the given model and token
// counts. Unknown models use the default model's pricing.
func (uc *BudgetLedgerUseCase) CalculateCost(modelName string, inputTokens, outputTokens int64) *model.CostBreakdown {
	return uc.pricing.Cost(modelName, inputTokens, outputTokens)
}

// EstimateTokens estimates the token count of a prompt before the upstream
// call. Rough estimation: 1 token per 4 characters, minimum 1.
func (uc *BudgetLedgerUseCase) EstimateTokens(prompt string) int64 {
	estimated := int64(len(prompt) / 4)
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}

// CheckRequestBudget reads current usage for all three scopes and decides
// whether the request may proceed. Project token/cost caps and the user daily
// token cap are hard limits; agent-role caps yield warnings only.
//
// Store failures degrade gracefully: the request is allowed and a warning is
// logged, matching the best-effort counter semantics.
func (uc *BudgetLedgerUseCase) CheckRequestBudget(ctx context.Context, projectID, userID, agentRole string, estimatedTokens int64) (*model.BudgetCheck, error) {
	check := &model.BudgetCheck{Allowed: true, Warnings: []string{}, Limits: []string{}}

	project, err := uc.GetProjectBudgetStatus(ctx, projectID)
	if err != nil {
		uc.logger.Warnf("budget check degraded for project %s: %v (request allowed)", projectID, err)
		return check, nil
	}
	user, err := uc.GetUserBudgetStatus(ctx, userID)
	if err != nil {
		uc.logger.Warnf("budget check degraded for user %s: %v (request allowed)", userID, err)
		return check, nil
	}
	agent, err := uc.GetAgentBudgetStatus(ctx, agentRole)
	if err != nil {
		uc.logger.Warnf("budget check degraded for agent %s: %v (request allowed)", agentRole, err)
		return check, nil
	}

	// Estimate the monetary cost of the request with default-model input
	// pricing; output size is unknown at admission time.
	estimatedCost := uc.pricing.Cost("", estimatedTokens, 0).Total

	if project.TokensUsed+float64(estimatedTokens) > float64(project.TokensLimit) {
		check.Allowed = false
		check.Limits = append(check.Limits, "Request would exceed project token budget")
	}
	if project.CostUsed+estimatedCost > project.CostLimit {
		check.Allowed = false
		check.Limits = append(check.Limits, "Request would exceed project cost budget")
	}
	if user.DailyTokensUsed+float64(estimatedTokens) > float64(user.DailyTokensLimit) {
		check.Allowed = false
		check.Limits = append(check.Limits, "Request would exceed user daily token limit")
	}

	// Agent-role limits are advisory
	if agent.TokensUsed+float64(estimatedTokens) > float64(agent.TokensLimit) {
		check.Warnings = append(check.Warnings, "Request approaches agent token limit")
	}

	if !check.Allowed {
		uc.logger.Warnw("request denied by budget check",
			"project_id", projectID,
			"user_id", userID,
			"agent_role", agentRole,
			"estimated_tokens", estimatedTokens,
			"limits", check.Limits)
	}

	return check, nil
}

// TrackUsage persists an immutable usage record, atomically increments the
// per-scope counters, and returns the computed cost with a post-update budget
// snapshot. Counter failures are logged and do not abort the remaining
// increments.
func (uc *BudgetLedgerUseCase) TrackUsage(ctx context.Context, usage *Usage) (*model.TrackResult, error) {
	if uc.budget.LedgerWriteTimeout.AsDuration() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.budget.LedgerWriteTimeout.AsDuration())
		defer cancel()
	}

	now := uc.now()
	cost := uc.pricing.Cost(usage.Model, usage.InputTokens, usage.OutputTokens)

	record := &model.UsageRecord{
		TrackingID:    fmt.Sprintf("%s-%d", usage.CorrelationID, now.UnixMilli()),
		CorrelationID: usage.CorrelationID,
		ProjectID:     usage.ProjectID,
		UserID:        usage.UserID,
		AgentRole:     usage.AgentRole,
		Model:         usage.Model,
		InputTokens:   usage.InputTokens,
		OutputTokens:  usage.OutputTokens,
		TotalTokens:   usage.TotalTokens,
		Cost:          cost,
		Timestamp:     now,
	}

	if err := uc.repo.StoreUsageRecord(ctx, record, uc.retention.UsageRecord.AsDuration()); err != nil {
		return nil, fmt.Errorf("failed to store usage record: %w", err)
	}

	uc.updateCounters(ctx, record)

	if uc.archiver != nil {
		uc.archiver.Archive(record)
	}

	snapshot, err := uc.budgetSnapshot(ctx, usage.ProjectID, usage.UserID, usage.AgentRole)
	if err != nil {
		uc.logger.Warnf("post-update budget snapshot failed: %v", err)
		snapshot = &model.BudgetSnapshot{Overall: "unknown"}
	}

	uc.logger.Infow("token usage tracked",
		"project_id", usage.ProjectID,
		"agent_role", usage.AgentRole,
		"total_tokens", usage.TotalTokens,
		"cost", cost.Total,
		"budget_status", snapshot.Overall)

	return &model.TrackResult{
		TrackingID: record.TrackingID,
		Cost:       cost,
		Budget:     snapshot,
		Timestamp:  now,
	}, nil
}

// updateCounters increments every scope counter affected by the record. Each
// counter carries its own expiry so stale counters self-clean.
func (uc *BudgetLedgerUseCase) updateCounters(ctx context.Context, record *model.UsageRecord) {
	now := uc.now()
	day := now.UTC().Format("2006-01-02")
	month := now.UTC().Format("2006-01")
	tokens := float64(record.TotalTokens)

	lifetimeTTL := uc.retention.Counter.AsDuration()
	dailyTTL := untilEndOfDay(now)
	monthlyTTL := untilEndOfMonth(now)

	type counter struct {
		key    string
		amount float64
		ttl    time.Duration
	}
	counters := []counter{
		{projectTokensKey(record.ProjectID), tokens, lifetimeTTL},
		{projectCostKey(record.ProjectID), record.Cost.Total, lifetimeTTL},
		{projectDailyTokensKey(record.ProjectID, day), tokens, dailyTTL},
		{userDailyTokensKey(record.UserID, day), tokens, dailyTTL},
		{userMonthlyCostKey(record.UserID, month), record.Cost.Total, monthlyTTL},
		{agentTokensKey(record.AgentRole), tokens, lifetimeTTL},
		{agentDailyTokensKey(record.AgentRole, day), tokens, dailyTTL},
		{modelTokensKey(record.Model), tokens, lifetimeTTL},
		{modelRequestsKey(record.Model), 1, lifetimeTTL},
	}

	for _, c := range counters {
		if _, err := uc.repo.IncrementCounter(ctx, c.key, c.amount, c.ttl); err != nil {
			// Best-effort accounting: keep updating the remaining counters
			uc.logger.Warnf("failed to increment counter %s: %v", c.key, err)
		}
	}
}

// GetProjectBudgetStatus reads current project-scope counters and computes
// usage fractions against the effective limits. Missing counters read as zero.
func (uc *BudgetLedgerUseCase) GetProjectBudgetStatus(ctx context.Context, projectID string) (*model.ProjectBudgetStatus, error) {
	budget := uc.effectiveProjectBudget(ctx, projectID)
	day := uc.now().UTC().Format("2006-01-02")

	tokensUsed, err := uc.repo.GetCounter(ctx, projectTokensKey(projectID))
	if err != nil {
		return nil, err
	}
	costUsed, err := uc.repo.GetCounter(ctx, projectCostKey(projectID))
	if err != nil {
		return nil, err
	}
	dailyTokens, err := uc.repo.GetCounter(ctx, projectDailyTokensKey(projectID, day))
	if err != nil {
		return nil, err
	}

	return &model.ProjectBudgetStatus{
		ProjectID:         projectID,
		TokensUsed:        tokensUsed,
		TokensLimit:       budget.MaxTokens,
		TokenUsagePercent: usageFraction(tokensUsed, float64(budget.MaxTokens)),
		CostUsed:          costUsed,
		CostLimit:         budget.MaxCostUsd,
		CostUsagePercent:  usageFraction(costUsed, budget.MaxCostUsd),
		DailyTokensUsed:   dailyTokens,
		DailyTokensLimit:  budget.DailyTokens,
	}, nil
}

// GetUserBudgetStatus reads current user-scope counters and computes usage
// fractions against configured limits.
func (uc *BudgetLedgerUseCase) GetUserBudgetStatus(ctx context.Context, userID string) (*model.UserBudgetStatus, error) {
	now := uc.now().UTC()
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")

	dailyTokens, err := uc.repo.GetCounter(ctx, userDailyTokensKey(userID, day))
	if err != nil {
		return nil, err
	}
	monthlyCost, err := uc.repo.GetCounter(ctx, userMonthlyCostKey(userID, month))
	if err != nil {
		return nil, err
	}

	return &model.UserBudgetStatus{
		UserID:              userID,
		DailyTokensUsed:     dailyTokens,
		DailyTokensLimit:    uc.budget.User.DailyTokens,
		DailyUsagePercent:   usageFraction(dailyTokens, float64(uc.budget.User.DailyTokens)),
		MonthlyCostUsed:     monthlyCost,
		MonthlyCostLimit:    uc.budget.User.MonthlyCostUsd,
		MonthlyUsagePercent: usageFraction(monthlyCost, uc.budget.User.MonthlyCostUsd),
	}, nil
}

// GetAgentBudgetStatus reads current agent-role counters and computes the
// usage fraction against the role's advisory limit. Unknown roles fall back
// to the configured default role's limit.
func (uc *BudgetLedgerUseCase) GetAgentBudgetStatus(ctx context.Context, agentRole string) (*model.AgentBudgetStatus, error) {
	tokensUsed, err := uc.repo.GetCounter(ctx, agentTokensKey(agentRole))
	if err != nil {
		return nil, err
	}

	limit := uc.agentTokenLimit(agentRole)

	return &model.AgentBudgetStatus{
		AgentRole:    agentRole,
		TokensUsed:   tokensUsed,
		TokensLimit:  limit,
		UsagePercent: usageFraction(tokensUsed, float64(limit)),
	}, nil
}

// GetModelUsageStatus reads the lifetime model-scope counters. Models that
// never served a request read as zero.
func (uc *BudgetLedgerUseCase) GetModelUsageStatus(ctx context.Context, modelName string) (*model.ModelUsageStatus, error) {
	tokens, err := uc.repo.GetCounter(ctx, modelTokensKey(modelName))
	if err != nil {
		return nil, err
	}
	requests, err := uc.repo.GetCounter(ctx, modelRequestsKey(modelName))
	if err != nil {
		return nil, err
	}

	status := &model.ModelUsageStatus{
		Model:      modelName,
		TokensUsed: tokens,
		Requests:   requests,
	}
	if requests > 0 {
		status.AvgTokensPerRequest = tokens / requests
	}

	return status, nil
}

// GetUsageAnalytics summarizes consumption across every priced model with
// cross-model totals.
func (uc *BudgetLedgerUseCase) GetUsageAnalytics(ctx context.Context) (*model.UsageAnalytics, error) {
	names := uc.pricing.ModelNames()
	analytics := &model.UsageAnalytics{
		Models:      make([]*model.ModelUsageStatus, 0, len(names)),
		GeneratedAt: uc.now(),
	}

	for _, name := range names {
		status, err := uc.GetModelUsageStatus(ctx, name)
		if err != nil {
			return nil, err
		}
		analytics.Models = append(analytics.Models, status)
		analytics.TotalTokens += status.TokensUsed
		analytics.TotalRequests += status.Requests
	}

	return analytics, nil
}

// GetUsageRecord fetches one tracked usage record by tracking ID. Returns nil
// when the record does not exist or its retention has lapsed.
func (uc *BudgetLedgerUseCase) GetUsageRecord(ctx context.Context, trackingID string) (*model.UsageRecord, error) {
	return uc.repo.GetUsageRecord(ctx, trackingID)
}

// SetProjectBudget overwrites a project's limit configuration. The override
// is retained with long expiry and consulted before configured defaults.
func (uc *BudgetLedgerUseCase) SetProjectBudget(ctx context.Context, projectID string, budget *model.ProjectBudget) error {
	if err := uc.repo.SetProjectBudget(ctx, projectID, budget, uc.retention.BudgetConfig.AsDuration()); err != nil {
		return fmt.Errorf("failed to set project budget: %w", err)
	}

	uc.logger.Infow("project budget updated",
		"project_id", projectID,
		"max_tokens", budget.MaxTokens,
		"max_cost_usd", budget.MaxCostUsd)

	return nil
}

// ResetUsageCounters deletes all counters under the scope/identifier key
// namespace. Used for period rollover or administrative reset.
func (uc *BudgetLedgerUseCase) ResetUsageCounters(ctx context.Context, scope, identifier string) (int, error) {
	deleted, err := uc.repo.DeleteNamespace(ctx, scopePattern(scope, identifier))
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage counters: %w", err)
	}

	uc.logger.Infow("usage counters reset",
		"scope", scope,
		"identifier", identifier,
		"keys_deleted", deleted)

	return deleted, nil
}

// budgetSnapshot evaluates post-update limits and warnings for the snapshot
// returned from TrackUsage.
func (uc *BudgetLedgerUseCase) budgetSnapshot(ctx context.Context, projectID, userID, agentRole string) (*model.BudgetSnapshot, error) {
	project, err := uc.GetProjectBudgetStatus(ctx, projectID)
	if err != nil {
		return nil, err
	}
	user, err := uc.GetUserBudgetStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	agent, err := uc.GetAgentBudgetStatus(ctx, agentRole)
	if err != nil {
		return nil, err
	}

	snapshot := &model.BudgetSnapshot{
		Overall:  "healthy",
		Project:  project,
		User:     user,
		Agent:    agent,
		Warnings: []string{},
		Limits:   []string{},
	}

	projectWarn := uc.projectWarningThreshold(ctx, projectID)
	if project.TokenUsagePercent > projectWarn {
		snapshot.Warnings = append(snapshot.Warnings, "Project token budget approaching limit")
	}
	if project.CostUsagePercent > projectWarn {
		snapshot.Warnings = append(snapshot.Warnings, "Project cost budget approaching limit")
	}
	if user.DailyUsagePercent > uc.budget.User.WarningThreshold {
		snapshot.Warnings = append(snapshot.Warnings, "User daily token limit approaching")
	}

	if project.TokenUsagePercent >= 1.0 {
		snapshot.Limits = append(snapshot.Limits, "Project token budget exceeded")
		snapshot.Overall = "limit_exceeded"
	}
	if project.CostUsagePercent >= 1.0 {
		snapshot.Limits = append(snapshot.Limits, "Project cost budget exceeded")
		snapshot.Overall = "limit_exceeded"
	}
	if user.DailyUsagePercent >= 1.0 {
		snapshot.Limits = append(snapshot.Limits, "User daily token limit exceeded")
		snapshot.Overall = "limit_exceeded"
	}

	return snapshot, nil
}

// effectiveProjectBudget returns the project's budget override if one exists,
// otherwise the configured defaults. Store failures fall back to defaults.
func (uc *BudgetLedgerUseCase) effectiveProjectBudget(ctx context.Context, projectID string) *model.ProjectBudget {
	override, err := uc.repo.GetProjectBudget(ctx, projectID)
	if err != nil {
		uc.logger.Warnf("failed to load budget override for project %s: %v (using defaults)", projectID, err)
	} else if override != nil {
		return override
	}

	return &model.ProjectBudget{
		MaxTokens:        uc.budget.Project.MaxTokens,
		MaxCostUsd:       uc.budget.Project.MaxCostUsd,
		WarningThreshold: uc.budget.Project.WarningThreshold,
		DailyTokens:      uc.budget.Project.DailyTokens,
	}
}

func (uc *BudgetLedgerUseCase) projectWarningThreshold(ctx context.Context, projectID string) float64 {
	budget := uc.effectiveProjectBudget(ctx, projectID)
	if budget.WarningThreshold > 0 {
		return budget.WarningThreshold
	}
	return uc.budget.Project.WarningThreshold
}

func (uc *BudgetLedgerUseCase) agentTokenLimit(agentRole string) int64 {
	if agent, ok := uc.budget.Agents[agentRole]; ok && agent.MaxTokens > 0 {
		return agent.MaxTokens
	}
	if fallback, ok := uc.budget.Agents[uc.budget.DefaultAgentRole]; ok {
		return fallback.MaxTokens
	}
	return 0
}

func usageFraction(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return used / limit
}

// untilEndOfDay returns the TTL for daily counters: end of the current UTC
// day plus an hour of slack for late reads.
func untilEndOfDay(now time.Time) time.Duration {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return end.Sub(now) + time.Hour
}

// untilEndOfMonth returns the TTL for monthly counters.
func untilEndOfMonth(now time.Time) time.Duration {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return end.Sub(now) + time.Hour
}

// Usage counter key builders. Keys are namespaced by scope and identifier:
// usage:<scope>:<id>:<metric>[:<period-key>]
func projectTokensKey(projectID string) string {
	return fmt.Sprintf("usage:project:%s:tokens", projectID)
}

func projectCostKey(projectID string) string {
	return fmt.Sprintf("usage:project:%s:cost", projectID)
}

func projectDailyTokensKey(projectID, day string) string {
	return fmt.Sprintf("usage:project:%s:daily:%s:tokens", projectID, day)
}

func userDailyTokensKey(userID, day string) string {
	return fmt.Sprintf("usage:user:%s:daily:%s:tokens", userID, day)
}

func userMonthlyCostKey(userID, month string) string {
	return fmt.Sprintf("usage:user:%s:monthly:%s:cost", userID, month)
}

func agentTokensKey(agentRole string) string {
	return fmt.Sprintf("usage:agent:%s:tokens", agentRole)
}

func agentDailyTokensKey(agentRole, day string) string {
	return fmt.Sprintf("usage:agent:%s:daily:%s:tokens", agentRole, day)
}

func modelTokensKey(modelName string) string {
	return fmt.Sprintf("usage:model:%s:tokens", modelName)
}

func modelRequestsKey(modelName string) string {
	return fmt.Sprintf("usage:model:%s:requests", modelName)
}

func scopePattern(scope, identifier string) string {
	return fmt.Sprintf("usage:%s:%s:*", scope, identifier)
}
