// Package model contains shared domain models exchanged between layers.
package model

import "time"

// CostBreakdown is the monetary cost computed from token counts against the
// per-model pricing table.
type CostBreakdown struct {
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	Total        float64 `json:"total"`
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
}

// UsageRecord is the immutable record of one completed request. It is written
// once and retained for a bounded window for auditing and analytics.
type UsageRecord struct {
	TrackingID    string         `json:"tracking_id"`
	CorrelationID string         `json:"correlation_id"`
	ProjectID     string         `json:"project_id"`
	UserID        string         `json:"user_id"`
	AgentRole     string         `json:"agent_role"`
	Model         string         `json:"model"`
	InputTokens   int64          `json:"input_tokens"`
	OutputTokens  int64          `json:"output_tokens"`
	TotalTokens   int64          `json:"total_tokens"`
	Cost          *CostBreakdown `json:"cost"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ProjectBudgetStatus is the current project-scope consumption against limits.
type ProjectBudgetStatus struct {
	ProjectID         string  `json:"project_id"`
	TokensUsed        float64 `json:"tokens_used"`
	TokensLimit       int64   `json:"tokens_limit"`
	TokenUsagePercent float64 `json:"token_usage_percent"`
	CostUsed          float64 `json:"cost_used"`
	CostLimit         float64 `json:"cost_limit"`
	CostUsagePercent  float64 `json:"cost_usage_percent"`
	DailyTokensUsed   float64 `json:"daily_tokens_used"`
	DailyTokensLimit  int64   `json:"daily_tokens_limit"`
}

// UserBudgetStatus is the current user-scope consumption against limits.
type UserBudgetStatus struct {
	UserID              string  `json:"user_id"`
	DailyTokensUsed     float64 `json:"daily_tokens_used"`
	DailyTokensLimit    int64   `json:"daily_tokens_limit"`
	DailyUsagePercent   float64 `json:"daily_usage_percent"`
	MonthlyCostUsed     float64 `json:"monthly_cost_used"`
	MonthlyCostLimit    float64 `json:"monthly_cost_limit"`
	MonthlyUsagePercent float64 `json:"monthly_usage_percent"`
}

// AgentBudgetStatus is the current agent-role consumption against limits.
type AgentBudgetStatus struct {
	AgentRole    string  `json:"agent_role"`
	TokensUsed   float64 `json:"tokens_used"`
	TokensLimit  int64   `json:"tokens_limit"`
	UsagePercent float64 `json:"usage_percent"`
}

// ModelUsageStatus is the lifetime consumption recorded against one model.
type ModelUsageStatus struct {
	Model               string  `json:"model"`
	TokensUsed          float64 `json:"tokens_used"`
	Requests            float64 `json:"requests"`
	AvgTokensPerRequest float64 `json:"avg_tokens_per_request"`
}

// UsageAnalytics is the cross-model usage summary derived from the lifetime
// model counters.
type UsageAnalytics struct {
	Models        []*ModelUsageStatus `json:"models"`
	TotalTokens   float64             `json:"total_tokens"`
	TotalRequests float64             `json:"total_requests"`
	GeneratedAt   time.Time           `json:"generated_at"`
}

// BudgetCheck is the result of a pre-request admission check. Limits are hard
// denials, warnings are advisory.
type BudgetCheck struct {
	Allowed  bool     `json:"allowed"`
	Warnings []string `json:"warnings"`
	Limits   []string `json:"limits"`
}

// BudgetSnapshot is the post-update budget status returned by usage tracking.
type BudgetSnapshot struct {
	Overall  string               `json:"overall"`
	Project  *ProjectBudgetStatus `json:"project"`
	User     *UserBudgetStatus    `json:"user"`
	Agent    *AgentBudgetStatus   `json:"agent"`
	Warnings []string             `json:"warnings"`
	Limits   []string             `json:"limits"`
}

// TrackResult summarizes one trackUsage call.
type TrackResult struct {
	TrackingID string          `json:"tracking_id"`
	Cost       *CostBreakdown  `json:"cost"`
	Budget     *BudgetSnapshot `json:"budget"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ProjectBudget is a per-project budget override stored with long retention.
type ProjectBudget struct {
	MaxTokens        int64   `json:"max_tokens"`
	MaxCostUsd       float64 `json:"max_cost_usd"`
	WarningThreshold float64 `json:"warning_threshold"`
	DailyTokens      int64   `json:"daily_tokens"`
}
