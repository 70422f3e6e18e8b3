package log

import (
	"bytes"
	"context"
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// createTestLogger 创建用于测试的日志记录器
func createTestLogger() (*LogHelper, *bytes.Buffer) {
	// 创建内存缓冲区捕获日志输出
	buf := &bytes.Buffer{}

	// 创建简单的编码器配置
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "time",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	}

	// 创建 Core
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(buf),
		zapcore.DebugLevel,
	)

	// 创建 Zap logger
	zapLogger := zap.New(core)

	// 创建 Kratos adapter
	kratosLogger := NewKratosAdapter(zapLogger)

	// 创建 LogHelper
	helper := NewLogHelper(kratosLogger)

	return helper, buf
}

func TestNewLogHelper(t *testing.T) {
	zapLogger := zap.NewNop()
	kratosLogger := NewKratosAdapter(zapLogger)
	helper := NewLogHelper(kratosLogger)

	if helper == nil {
		t.Fatal("NewLogHelper returned nil")
	}
}

func TestLogHelper_API(t *testing.T) {
	helper, buf := createTestLogger()

	helper.API("test API call", "endpoint", "/v1/test")

	output := buf.String()
	if output == "" {
		t.Error("API log produced no output")
	}

	// 验证输出包含 type:api 字段
	if !contains(output, "api") {
		t.Error("API log missing 'api' type field")
	}
}

func TestLogHelper_Request(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Request("POST", "/api/v1/completions", 200, 150)

	output := buf.String()
	if output == "" {
		t.Error("Request log produced no output")
	}

	// 验证输出包含关键字段
	if !contains(output, "POST") {
		t.Error("Request log missing method")
	}
	if !contains(output, "200") {
		t.Error("Request log missing status code")
	}
}

func TestLogHelper_Success(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Success("operation completed", "operation", "set_project_budget")

	output := buf.String()
	if output == "" {
		t.Error("Success log produced no output")
	}

	if !contains(output, "success") {
		t.Error("Success log missing 'success' type field")
	}
}

func TestLogHelper_Breaker(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Breaker("circuit opened", "failure_count", "5")

	output := buf.String()
	if output == "" {
		t.Error("Breaker log produced no output")
	}

	if !contains(output, "breaker") {
		t.Error("Breaker log missing 'breaker' type field")
	}
}

func TestLogHelper_Budget(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Budget("budget check passed", "project_id", "proj-1")

	output := buf.String()
	if output == "" {
		t.Error("Budget log produced no output")
	}

	if !contains(output, "budget") {
		t.Error("Budget log missing 'budget' type field")
	}
}

func TestLogHelper_Database(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Database("query executed", "table", "usage_records")

	output := buf.String()
	if output == "" {
		t.Error("Database log produced no output")
	}

	if !contains(output, "database") {
		t.Error("Database log missing 'database' type field")
	}
}

func TestLogHelper_Redis(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Redis("counter incremented", "key", "usage:project:proj-1:tokens")

	output := buf.String()
	if output == "" {
		t.Error("Redis log produced no output")
	}

	if !contains(output, "redis") {
		t.Error("Redis log missing 'redis' type field")
	}
}

func TestLogHelper_UsageRecorded(t *testing.T) {
	helper, buf := createTestLogger()

	ctx := WithRequestContext(context.Background(), "req-123", "corr-456", "proj-1", "senior_developer")
	helper.UsageRecorded(ctx, "cursor-large", 1000, 500, 0.06)

	output := buf.String()
	if output == "" {
		t.Error("UsageRecorded log produced no output")
	}

	// 验证包含关键信息
	if !contains(output, "req-123") {
		t.Error("UsageRecorded log missing request ID")
	}
	if !contains(output, "cursor-large") {
		t.Error("UsageRecorded log missing model")
	}
	if !contains(output, "1500") {
		t.Error("UsageRecorded log missing total tokens")
	}
}

func TestLogHelper_RequestWithContext(t *testing.T) {
	helper, buf := createTestLogger()

	ctx := WithRequestContext(context.Background(), "req-789", "corr-789", "proj-2", "qa_engineer")
	helper.RequestWithContext(ctx, "POST", "/api/v1/completions", 200, 542)

	output := buf.String()
	if output == "" {
		t.Error("RequestWithContext log produced no output")
	}

	// 验证包含关键信息
	if !contains(output, "req-789") {
		t.Error("RequestWithContext log missing request ID")
	}
	if !contains(output, "542") {
		t.Error("RequestWithContext log missing duration")
	}
}

func TestLogHelper_AllTypes(t *testing.T) {
	// 测试所有日志类型方法都能正常调用
	helper, _ := createTestLogger()

	// 不应该 panic
	helper.Startup("service started")
	helper.Performance("operation took 100ms")
	helper.Security("suspicious activity")
	helper.Breaker("circuit half-open")
	helper.Budget("warning threshold reached")
}

// contains 检查字符串是否包含子串
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > len(substr) && containsSubstring(s, substr))
}

func containsSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// TestMain 设置测试环境
func TestMain(m *testing.M) {
	// 运行测试
	code := m.Run()
	os.Exit(code)
}
