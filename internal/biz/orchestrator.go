package biz

import (
	"context"
	"fmt"
	"time"

	"PromptGate/internal/conf"
	"PromptGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Template failure reasons.
const (
	ReasonTemplateNotFound = "TEMPLATE_NOT_FOUND"
	ReasonMissingContext   = "MISSING_CONTEXT"
)

// TemplateError is a template resolution or validation failure. It is raised
// before any upstream call is made.
type TemplateError struct {
	Reason  string
	Message string
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error: %s (%s)", e.Message, e.Reason)
}

// RenderedTemplate is the prompt pair produced by the template engine.
type RenderedTemplate struct {
	SystemPrompt string
	UserPrompt   string
}

// TemplateRenderer turns a template identifier and context map into a
// system/user prompt pair. Failures carry ReasonTemplateNotFound or
// ReasonMissingContext.
type TemplateRenderer interface {
	Render(templateID string, context map[string]string) (*RenderedTemplate, error)
}

// CompletionClient is the opaque upstream AI call. Its failures carry an
// optional HTTP status (model.UpstreamError) for categorization.
type CompletionClient interface {
	CreateCompletion(ctx context.Context, req *model.CompletionRequest) (*model.CompletionResponse, error)
}

// SubmitOptions carries optional parameters for one submission.
type SubmitOptions struct {
	ProjectID       string
	UserID          string
	TemplateID      string
	TemplateContext map[string]string
	CorrelationID   string
	MaxTokens       int32
	Temperature     float64
}

// SubmitMetadata is attached to every successful submission result.
type SubmitMetadata struct {
	CorrelationID string             `json:"correlation_id"`
	AgentRole     string             `json:"agent_role"`
	Model         string             `json:"model"`
	TemplateID    string             `json:"template_id,omitempty"`
	ProjectID     string             `json:"project_id,omitempty"`
	Duration      time.Duration      `json:"duration"`
	Tracking      *model.TrackResult `json:"tracking,omitempty"`
}

// SubmitResult is the caller-visible outcome of one successful submission.
type SubmitResult struct {
	Response *model.CompletionResponse `json:"response"`
	Usage    model.TokenUsage          `json:"usage"`
	Metadata SubmitMetadata            `json:"metadata"`
}

// CompletionUsecase orchestrates one caller-facing operation: budget
// admission, template rendering, the breaker-protected upstream call, and
// usage accounting. Failure at any stage short-circuits the remaining steps.
// There is no per-request retry loop; recovery is the breaker's half-open
// probing discipline across successive independent calls.
type CompletionUsecase struct {
	ledger      *BudgetLedgerUseCase
	breaker     *CircuitBreaker
	templates   TemplateRenderer
	client      CompletionClient
	agents      map[string]*conf.AgentProfile
	defaultRole string
	logger      *log.Helper
	now         func() time.Time
}

// NewCompletionUsecase creates the request orchestrator.
func NewCompletionUsecase(ledger *BudgetLedgerUseCase, breaker *CircuitBreaker, templates TemplateRenderer, client CompletionClient, bc *conf.Bootstrap, logger log.Logger) *CompletionUsecase {
	return &CompletionUsecase{
		ledger:      ledger,
		breaker:     breaker,
		templates:   templates,
		client:      client,
		agents:      bc.Agents,
		defaultRole: bc.Budget.DefaultAgentRole,
		logger:      log.NewHelper(logger),
		now:         time.Now,
	}
}

// Breaker exposes the circuit breaker for operational read paths.
func (uc *CompletionUsecase) Breaker() *CircuitBreaker {
	return uc.breaker
}

// Submit runs one request end to end. Budget and template failures resolve
// locally before any upstream call; breaker rejections surface as
// BreakerError; upstream failures propagate with their category attached.
// Usage-tracking failures are logged and never invalidate a successful
// upstream result.
func (uc *CompletionUsecase) Submit(ctx context.Context, prompt, agentRole string, opts *SubmitOptions) (*SubmitResult, error) {
	if opts == nil {
		opts = &SubmitOptions{}
	}

	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	start := uc.now()

	profile := uc.profile(agentRole)

	// Budget admission before anything reaches the upstream
	if opts.ProjectID != "" && opts.UserID != "" {
		estimated := uc.ledger.EstimateTokens(prompt)
		check, err := uc.ledger.CheckRequestBudget(ctx, opts.ProjectID, opts.UserID, agentRole, estimated)
		if err != nil {
			return nil, err
		}
		if !check.Allowed {
			return nil, &BudgetExceededError{Limits: check.Limits}
		}
	}

	// Optional template rendering (external collaborator)
	finalPrompt := prompt
	systemPrompt := profile.SystemPrompt
	if opts.TemplateID != "" {
		rendered, err := uc.templates.Render(opts.TemplateID, opts.TemplateContext)
		if err != nil {
			return nil, err
		}
		finalPrompt = rendered.UserPrompt
		systemPrompt = rendered.SystemPrompt
	}

	req := &model.CompletionRequest{
		Model: profile.Model,
		Messages: []model.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: finalPrompt},
		},
		MaxTokens:   profile.MaxTokens,
		Temperature: profile.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}

	uc.logger.Infow("submitting completion request",
		"correlation_id", correlationID,
		"agent_role", agentRole,
		"model", req.Model,
		"prompt_length", len(finalPrompt),
		"template_id", opts.TemplateID,
		"project_id", opts.ProjectID)

	resp, err := uc.breaker.Execute(ctx, func(ctx context.Context) (*model.CompletionResponse, error) {
		return uc.client.CreateCompletion(ctx, req)
	})
	duration := uc.now().Sub(start)
	if err != nil {
		uc.logger.Errorw("completion request failed",
			"correlation_id", correlationID,
			"agent_role", agentRole,
			"error", err,
			"duration", duration,
			"circuit_state", string(uc.breaker.State()))
		return nil, err
	}

	result := &SubmitResult{
		Response: resp,
		Usage:    resp.Usage,
		Metadata: SubmitMetadata{
			CorrelationID: correlationID,
			AgentRole:     agentRole,
			Model:         req.Model,
			TemplateID:    opts.TemplateID,
			ProjectID:     opts.ProjectID,
			Duration:      duration,
		},
	}

	// Best-effort accounting, never best-effort answer: a ledger write
	// failure must not invalidate the upstream result
	if opts.ProjectID != "" && opts.UserID != "" {
		tracked, err := uc.ledger.TrackUsage(ctx, &Usage{
			ProjectID:     opts.ProjectID,
			UserID:        opts.UserID,
			AgentRole:     agentRole,
			Model:         req.Model,
			InputTokens:   resp.Usage.PromptTokens,
			OutputTokens:  resp.Usage.CompletionTokens,
			TotalTokens:   resp.Usage.TotalTokens,
			CorrelationID: correlationID,
		})
		if err != nil {
			uc.logger.Warnw("usage tracking failed (result still returned)",
				"correlation_id", correlationID,
				"project_id", opts.ProjectID,
				"error", err)
		} else {
			result.Metadata.Tracking = tracked
		}
	}

	uc.logger.Infow("completion request successful",
		"correlation_id", correlationID,
		"agent_role", agentRole,
		"tokens_used", resp.Usage.TotalTokens,
		"duration", duration)

	return result, nil
}

// profile resolves the request profile for an agent role, falling back to the
// default role for unknown roles.
func (uc *CompletionUsecase) profile(agentRole string) *conf.AgentProfile {
	if profile, ok := uc.agents[agentRole]; ok {
		return profile
	}
	if profile, ok := uc.agents[uc.defaultRole]; ok {
		return profile
	}
	return &conf.AgentProfile{Model: "", MaxTokens: 4000, Temperature: 0.7}
}
