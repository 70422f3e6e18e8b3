package server

import (
	"context"

	"PromptGate/internal/conf"
	"PromptGate/internal/model"
	"PromptGate/internal/server/middleware"
	"PromptGate/internal/service"
	pkglog "PromptGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, completionService *service.CompletionService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Auth(logHelper),    // 认证中间件：记录 API Key 和 User-Agent
			middleware.Logging(logHelper), // 请求日志中间件：记录请求方法、路径、耗时
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, completionService)

	return srv
}

// registerRoutes wires the HTTP surface onto the router.
func registerRoutes(srv *http.Server, svc *service.CompletionService) {
	r := srv.Route("/api/v1")

	r.POST("/completions", submitCompletion(svc))
	r.GET("/breaker/metrics", breakerMetrics(svc))
	r.GET("/breaker/health", breakerHealth(svc))
	r.GET("/budgets/project/{id}", projectBudget(svc))
	r.PUT("/budgets/project/{id}", setProjectBudget(svc))
	r.GET("/budgets/user/{id}", userBudget(svc))
	r.GET("/budgets/agent/{role}", agentBudget(svc))
	r.GET("/usage/analytics", usageAnalytics(svc))
	r.GET("/usage/models/{model}", modelUsage(svc))
	r.GET("/usage/records/{id}", usageRecord(svc))
	r.DELETE("/usage/{scope}/{id}", resetUsage(svc))
}

func submitCompletion(svc *service.CompletionService) http.HandlerFunc {
	return func(ctx http.Context) error {
		var req service.SubmitRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		http.SetOperation(ctx, "/promptgate.v1.CompletionService/SubmitCompletion")
		h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
			return svc.SubmitCompletion(c, in.(*service.SubmitRequest))
		})
		out, err := h(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func breakerMetrics(svc *service.CompletionService) http.HandlerFunc {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, "/promptgate.v1.CompletionService/GetBreakerMetrics")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.GetBreakerMetrics(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func breakerHealth(svc *service.CompletionService) http.HandlerFunc {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, "/promptgate.v1.CompletionService/GetBreakerHealth")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.GetBreakerHealth(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func projectBudget(svc *service.CompletionService) http.HandlerFunc {
	return func(ctx http.Context) error {
		projectID := ctx.Vars().Get("id")
		http.SetOperation(ctx, "/promptgate.v1.CompletionService/GetProjectBudget")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.GetProjectBudget(c, projectID)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func setProjectBudget(svc *service.CompletionService) http.HandlerFunc {
	return func(ctx http.Context) error {
		projectID := ctx.Vars().Get("id")
		var budget model.ProjectBudget
		if err := ctx.Bind(&budget); err != nil {
			return err
		}
		http.SetOperation(ctx, "/promptgate.v1.CompletionService/SetProjectBudget")
		h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
			return svc.SetProjectBudget(c, projectID, in.(*model.ProjectBudget))
		})
		out, err := h(ctx, &budget)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func userBudget(svc *service.CompletionService) http.HandlerFunc {
	return func(ctx http.Context) error {
		userID := ctx.Vars().Get("id")
		http.SetOperation(ctx, "/promptgate.v1.CompletionService/GetUserBudget")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.GetUserBudget(c, userID)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func agentBudget(svc *service.CompletionService) http.HandlerFunc {
	return func(ctx http.Context) error {
		role := ctx.Vars().Get("role")
		http.SetOperation(ctx, "/promptgate.v1.CompletionService/GetAgentBudget")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.GetAgentBudget(c, role)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func usageAnalytics(svc *service.CompletionService) http.HandlerFunc {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, "/promptgate.v1.CompletionService/GetUsageAnalytics")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.GetUsageAnalytics(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func modelUsage(svc *service.CompletionService) http.HandlerFunc {
	return func(ctx http.Context) error {
		modelName := ctx.Vars().Get("model")
		http.SetOperation(ctx, "/promptgate.v1.CompletionService/GetModelUsage")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.GetModelUsage(c, modelName)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func usageRecord(svc *service.CompletionService) http.HandlerFunc {
	return func(ctx http.Context) error {
		trackingID := ctx.Vars().Get("id")
		http.SetOperation(ctx, "/promptgate.v1.CompletionService/GetUsageRecord")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.GetUsageRecord(c, trackingID)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func resetUsage(svc *service.CompletionService) http.HandlerFunc {
	return func(ctx http.Context) error {
		scope := ctx.Vars().Get("scope")
		identifier := ctx.Vars().Get("id")
		http.SetOperation(ctx, "/promptgate.v1.CompletionService/ResetUsage")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.ResetUsage(c, scope, identifier)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
