package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper 扩展 Kratos log.Helper，提供便捷的日志方法
// 通过在日志调用时自动添加 "type" 字段，触发 EmojiConsoleEncoder 的表情符号映射
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

// API 记录 API 相关日志（表情符号: 🔗）
func (h *LogHelper) API(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "api")
	h.Infow(allKvs...)
}

// Request 记录 HTTP 请求日志（表情符号: 🌐 或根据状态码）
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)
}

// Breaker 记录熔断器状态日志（表情符号: 🔌）
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "breaker")
	h.Warnw(allKvs...)
}

// Budget 记录预算相关日志（表情符号: 💰）
func (h *LogHelper) Budget(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "budget")
	h.Infow(allKvs...)
}

// Success 记录成功操作日志（表情符号: ✅）
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "success")
	h.Infow(allKvs...)
}

// Database 记录数据库操作日志（表情符号: 💾）
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "database")
	h.Debugw(allKvs...)
}

// Redis 记录 Redis 操作日志（表情符号: 📦）
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "redis")
	h.Debugw(allKvs...)
}

// Startup 记录启动相关日志（表情符号: 🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "startup")
	h.Infow(allKvs...)
}

// Performance 记录性能相关日志（表情符号: ⏱️）
func (h *LogHelper) Performance(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "performance")
	h.Infow(allKvs...)
}

// Security 记录安全相关日志（表情符号: 🔒）
func (h *LogHelper) Security(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "security")
	h.Warnw(allKvs...)
}

// ========== Context-Aware 日志方法 ==========
// 以下方法自动从 Context 提取追踪信息（Request ID, Correlation ID 等）

// UsageRecorded 记录一次完成请求的 Token 使用统计（表情符号: 📊）
// 自动从 Context 提取 Request ID 和项目信息
func (h *LogHelper) UsageRecorded(ctx context.Context, model string, inputTokens, outputTokens int64, costUsd float64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	totalTokens := inputTokens + outputTokens

	msg := fmt.Sprintf("[%s] Usage recorded - Model: %s | Input: %d, Output: %d | Total: %d tokens | Cost: $%.6f",
		reqCtx.RequestID, model, inputTokens, outputTokens, totalTokens, costUsd)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"request_id", reqCtx.RequestID,
		"correlation_id", reqCtx.CorrelationID,
		"project_id", reqCtx.ProjectID,
		"model", model,
		"input_tokens", inputTokens,
		"output_tokens", outputTokens,
		"total_tokens", totalTokens,
		"cost_usd", costUsd,
		"type", "usage",
	)
	h.Infow(allKvs...)
}

// SlowRequest 记录慢请求警告（表情符号: 🐌）
// threshold: 慢请求阈值（毫秒），超过此值触发警告
func (h *LogHelper) SlowRequest(ctx context.Context, method, url string, duration, threshold int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("[%s] Slow request detected | %s %s | %dms (threshold: %dms)",
		reqCtx.RequestID, method, url, duration, threshold)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"request_id", reqCtx.RequestID,
		"correlation_id", reqCtx.CorrelationID,
		"method", method,
		"url", url,
		"duration_ms", duration,
		"threshold_ms", threshold,
		"type", "slow_request",
	)
	h.Warnw(allKvs...)
}

// RequestWithContext 记录带 Context 的 HTTP 请求日志
// 自动从 Context 提取 Request ID 并检测慢请求
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s",
		method, url, status, durationMs, reqCtx.RequestID)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"request_id", reqCtx.RequestID,
		"correlation_id", reqCtx.CorrelationID,
		"project_id", reqCtx.ProjectID,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)

	// 自动检测慢请求（阈值 1000ms）
	if durationMs > 1000 {
		h.SlowRequest(ctx, method, url, durationMs, 1000)
	}
}

// APIWithContext 记录带 Context 的 API 日志
func (h *LogHelper) APIWithContext(ctx context.Context, msg string, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	fullMsg := fmt.Sprintf("[%s] %s", reqCtx.RequestID, msg)

	allKvs := append([]interface{}{"msg", fullMsg}, kvs...)
	allKvs = append(allKvs,
		"request_id", reqCtx.RequestID,
		"correlation_id", reqCtx.CorrelationID,
		"type", "api",
	)
	h.Infow(allKvs...)
}
