package service

import (
	"context"
	"strings"

	"PromptGate/internal/biz"
	"PromptGate/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// SubmitRequest is the JSON body of POST /api/v1/completions.
type SubmitRequest struct {
	Prompt          string            `json:"prompt"`
	AgentRole       string            `json:"agent_role"`
	ProjectID       string            `json:"project_id,omitempty"`
	UserID          string            `json:"user_id,omitempty"`
	TemplateID      string            `json:"template_id,omitempty"`
	TemplateContext map[string]string `json:"template_context,omitempty"`
	CorrelationID   string            `json:"correlation_id,omitempty"`
	MaxTokens       int32             `json:"max_tokens,omitempty"`
	Temperature     float64           `json:"temperature,omitempty"`
}

// ResetUsageResponse reports how many counters a reset removed.
type ResetUsageResponse struct {
	Scope       string `json:"scope"`
	Identifier  string `json:"identifier"`
	KeysDeleted int    `json:"keys_deleted"`
}

// CompletionService exposes the completion pipeline and its operational read
// paths over HTTP.
type CompletionService struct {
	uc     *biz.CompletionUsecase
	ledger *biz.BudgetLedgerUseCase
	logger *log.Helper
}

// NewCompletionService creates a new CompletionService instance.
func NewCompletionService(uc *biz.CompletionUsecase, ledger *biz.BudgetLedgerUseCase, logger log.Logger) *CompletionService {
	return &CompletionService{
		uc:     uc,
		ledger: ledger,
		logger: log.NewHelper(logger),
	}
}

// SubmitCompletion runs one request through budget admission, template
// rendering, the breaker-protected upstream call, and usage accounting.
func (s *CompletionService) SubmitCompletion(ctx context.Context, req *SubmitRequest) (*biz.SubmitResult, error) {
	if strings.TrimSpace(req.Prompt) == "" && req.TemplateID == "" {
		return nil, errors.BadRequest("EMPTY_PROMPT", "prompt or template_id is required")
	}

	result, err := s.uc.Submit(ctx, req.Prompt, req.AgentRole, &biz.SubmitOptions{
		ProjectID:       req.ProjectID,
		UserID:          req.UserID,
		TemplateID:      req.TemplateID,
		TemplateContext: req.TemplateContext,
		CorrelationID:   req.CorrelationID,
		MaxTokens:       req.MaxTokens,
		Temperature:     req.Temperature,
	})
	if err != nil {
		return nil, mapSubmitError(err)
	}

	return result, nil
}

// GetBreakerMetrics returns the breaker's operational counters.
func (s *CompletionService) GetBreakerMetrics(_ context.Context) (*biz.BreakerMetrics, error) {
	metrics := s.uc.Breaker().GetMetrics()
	return &metrics, nil
}

// GetBreakerHealth returns the deep health report with recommendations.
func (s *CompletionService) GetBreakerHealth(_ context.Context) (*biz.HealthReport, error) {
	report := s.uc.Breaker().GetHealthReport()
	return &report, nil
}

// GetProjectBudget returns current consumption against a project's limits.
func (s *CompletionService) GetProjectBudget(ctx context.Context, projectID string) (*model.ProjectBudgetStatus, error) {
	status, err := s.ledger.GetProjectBudgetStatus(ctx, projectID)
	if err != nil {
		s.logger.Errorw("failed to get project budget status", "project_id", projectID, "error", err)
		return nil, errors.InternalServer("BUDGET_READ_FAILED", "failed to read project budget")
	}
	return status, nil
}

// GetUserBudget returns current consumption against a user's limits.
func (s *CompletionService) GetUserBudget(ctx context.Context, userID string) (*model.UserBudgetStatus, error) {
	status, err := s.ledger.GetUserBudgetStatus(ctx, userID)
	if err != nil {
		s.logger.Errorw("failed to get user budget status", "user_id", userID, "error", err)
		return nil, errors.InternalServer("BUDGET_READ_FAILED", "failed to read user budget")
	}
	return status, nil
}

// GetAgentBudget returns current consumption against an agent role's advisory
// limit.
func (s *CompletionService) GetAgentBudget(ctx context.Context, agentRole string) (*model.AgentBudgetStatus, error) {
	status, err := s.ledger.GetAgentBudgetStatus(ctx, agentRole)
	if err != nil {
		s.logger.Errorw("failed to get agent budget status", "agent_role", agentRole, "error", err)
		return nil, errors.InternalServer("BUDGET_READ_FAILED", "failed to read agent budget")
	}
	return status, nil
}

// GetModelUsage returns lifetime consumption recorded against one model.
func (s *CompletionService) GetModelUsage(ctx context.Context, modelName string) (*model.ModelUsageStatus, error) {
	if modelName == "" {
		return nil, errors.BadRequest("INVALID_MODEL", "model is required")
	}

	status, err := s.ledger.GetModelUsageStatus(ctx, modelName)
	if err != nil {
		s.logger.Errorw("failed to get model usage status", "model", modelName, "error", err)
		return nil, errors.InternalServer("USAGE_READ_FAILED", "failed to read model usage")
	}
	return status, nil
}

// GetUsageAnalytics returns the cross-model usage summary.
func (s *CompletionService) GetUsageAnalytics(ctx context.Context) (*model.UsageAnalytics, error) {
	analytics, err := s.ledger.GetUsageAnalytics(ctx)
	if err != nil {
		s.logger.Errorw("failed to get usage analytics", "error", err)
		return nil, errors.InternalServer("USAGE_READ_FAILED", "failed to read usage analytics")
	}
	return analytics, nil
}

// GetUsageRecord returns one tracked usage record by its tracking ID.
func (s *CompletionService) GetUsageRecord(ctx context.Context, trackingID string) (*model.UsageRecord, error) {
	if trackingID == "" {
		return nil, errors.BadRequest("INVALID_IDENTIFIER", "tracking id is required")
	}

	record, err := s.ledger.GetUsageRecord(ctx, trackingID)
	if err != nil {
		s.logger.Errorw("failed to get usage record", "tracking_id", trackingID, "error", err)
		return nil, errors.InternalServer("USAGE_READ_FAILED", "failed to read usage record")
	}
	if record == nil {
		return nil, errors.NotFound("USAGE_RECORD_NOT_FOUND", "no usage record for tracking id")
	}
	return record, nil
}

// SetProjectBudget overwrites a project's budget limits.
func (s *CompletionService) SetProjectBudget(ctx context.Context, projectID string, budget *model.ProjectBudget) (*model.ProjectBudgetStatus, error) {
	if budget.MaxTokens <= 0 || budget.MaxCostUsd <= 0 {
		return nil, errors.BadRequest("INVALID_BUDGET", "max_tokens and max_cost_usd must be positive")
	}
	if budget.WarningThreshold <= 0 || budget.WarningThreshold > 1 {
		return nil, errors.BadRequest("INVALID_BUDGET", "warning_threshold must be in (0, 1]")
	}

	if err := s.ledger.SetProjectBudget(ctx, projectID, budget); err != nil {
		s.logger.Errorw("failed to set project budget", "project_id", projectID, "error", err)
		return nil, errors.InternalServer("BUDGET_WRITE_FAILED", "failed to store project budget")
	}

	s.logger.Infow("project budget updated",
		"project_id", projectID,
		"max_tokens", budget.MaxTokens,
		"max_cost_usd", budget.MaxCostUsd)

	return s.GetProjectBudget(ctx, projectID)
}

// ResetUsage removes every usage counter for one scope/identifier pair.
func (s *CompletionService) ResetUsage(ctx context.Context, scope, identifier string) (*ResetUsageResponse, error) {
	switch scope {
	case "project", "user", "agent", "model":
	default:
		return nil, errors.BadRequest("INVALID_SCOPE", "scope must be one of project, user, agent, model")
	}
	if identifier == "" {
		return nil, errors.BadRequest("INVALID_IDENTIFIER", "identifier is required")
	}

	deleted, err := s.ledger.ResetUsageCounters(ctx, scope, identifier)
	if err != nil {
		s.logger.Errorw("failed to reset usage counters", "scope", scope, "identifier", identifier, "error", err)
		return nil, errors.InternalServer("USAGE_RESET_FAILED", "failed to reset usage counters")
	}

	s.logger.Infow("usage counters reset", "scope", scope, "identifier", identifier, "keys_deleted", deleted)

	return &ResetUsageResponse{
		Scope:       scope,
		Identifier:  identifier,
		KeysDeleted: deleted,
	}, nil
}

// mapSubmitError converts pipeline failures into transport errors with stable
// reason codes. Budget and template failures are the caller's fault; breaker
// rejections and upstream failures are availability signals.
func mapSubmitError(err error) error {
	var budgetErr *biz.BudgetExceededError
	if errors.As(err, &budgetErr) {
		e := errors.New(429, "BUDGET_EXCEEDED", "request would exceed budget limits")
		if len(budgetErr.Limits) > 0 {
			e = e.WithMetadata(map[string]string{"limits": strings.Join(budgetErr.Limits, "; ")})
		}
		return e
	}

	var templateErr *biz.TemplateError
	if errors.As(err, &templateErr) {
		return errors.New(400, templateErr.Reason, templateErr.Message)
	}

	var breakerErr *biz.BreakerError
	if errors.As(err, &breakerErr) {
		switch breakerErr.Reason {
		case biz.ReasonTimeout:
			return errors.New(504, breakerErr.Reason, breakerErr.Message)
		default:
			return errors.New(503, breakerErr.Reason, breakerErr.Message)
		}
	}

	var upstreamErr *model.UpstreamError
	if errors.As(err, &upstreamErr) {
		category := biz.CategorizeError(err)
		status := upstreamErr.StatusCode
		if status < 400 || status > 599 {
			status = 502
		}
		return errors.New(status, strings.ToUpper(string(category)), upstreamErr.Message)
	}

	return errors.New(502, "UPSTREAM_FAILURE", err.Error())
}
