// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration for the PromptGate service.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Upstream  *Upstream
	Breaker   *Breaker
	Budget    *Budget
	Pricing   *Pricing
	Agents    map[string]*AgentProfile
	Retention *Retention
	Log       *Log
}

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds the optional MySQL archive database configuration.
// An empty Source disables the usage archive.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds Redis connection configuration for the budget counter store.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Upstream holds the AI completion API configuration.
type Upstream struct {
	BaseUrl  string
	ApiKey   string
	ProxyUrl string
	Timeout  *durationpb.Duration
}

// Breaker holds circuit breaker tuning.
type Breaker struct {
	FailureThreshold int32
	Timeout          *durationpb.Duration
	ResetTimeout     *durationpb.Duration
	MonitoringPeriod *durationpb.Duration
	HalfOpenMaxCalls int32
}

// Budget holds default budget ceilings per scope. Project and user limits are
// hard limits; agent-role limits are advisory.
type Budget struct {
	Project            *Budget_Project
	User               *Budget_User
	Agents             map[string]*Budget_Agent
	DefaultAgentRole   string
	LedgerWriteTimeout *durationpb.Duration
}

// Budget_Project holds project-scope budget defaults.
type Budget_Project struct {
	MaxTokens        int64
	MaxCostUsd       float64
	WarningThreshold float64
	DailyTokens      int64
}

// Budget_User holds user-scope budget defaults.
type Budget_User struct {
	DailyTokens      int64
	MonthlyCostUsd   float64
	WarningThreshold float64
}

// Budget_Agent holds agent-role budget defaults.
type Budget_Agent struct {
	MaxTokens int64
}

// Pricing holds the per-model token pricing table.
type Pricing struct {
	DefaultModel string
	Models       map[string]*Pricing_Model
}

// Pricing_Model holds per-token USD prices for one model.
type Pricing_Model struct {
	Input  float64
	Output float64
}

// AgentProfile holds the request profile for one agent role.
type AgentProfile struct {
	Model        string
	MaxTokens    int32
	Temperature  float64
	SystemPrompt string
}

// Retention holds data retention windows.
type Retention struct {
	UsageRecord   *durationpb.Duration
	Counter       *durationpb.Duration
	BudgetConfig  *durationpb.Duration
	ArchiveMaxAge *durationpb.Duration
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with PROMPTGATE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - CURSOR_API_KEY or PROMPTGATE_UPSTREAM_API_KEY: upstream AI API key
//
// Optional environment variables:
//   - MYSQL_DSN or PROMPTGATE_DATA_DATABASE_SOURCE: MySQL DSN for the usage archive
//   - PROMPTGATE_DATA_REDIS_ADDR: Redis address for budget counters
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with PROMPTGATE_ prefix
	v.SetEnvPrefix("PROMPTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without PROMPTGATE_ prefix) for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "PROMPTGATE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "PROMPTGATE_DATA_REDIS_ADDR")
	_ = v.BindEnv("upstream.api_key", "CURSOR_API_KEY", "PROMPTGATE_UPSTREAM_API_KEY")
	_ = v.BindEnv("upstream.base_url", "CURSOR_API_URL", "PROMPTGATE_UPSTREAM_BASE_URL")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Upstream: &Upstream{
			BaseUrl:  v.GetString("upstream.base_url"),
			ApiKey:   v.GetString("upstream.api_key"),
			ProxyUrl: v.GetString("upstream.proxy_url"),
			Timeout:  durationpb.New(v.GetDuration("upstream.timeout")),
		},
		Breaker: &Breaker{
			FailureThreshold: v.GetInt32("breaker.failure_threshold"),
			Timeout:          durationpb.New(v.GetDuration("breaker.timeout")),
			ResetTimeout:     durationpb.New(v.GetDuration("breaker.reset_timeout")),
			MonitoringPeriod: durationpb.New(v.GetDuration("breaker.monitoring_period")),
			HalfOpenMaxCalls: v.GetInt32("breaker.half_open_max_calls"),
		},
		Budget: &Budget{
			Project: &Budget_Project{
				MaxTokens:        v.GetInt64("budget.project.max_tokens"),
				MaxCostUsd:       v.GetFloat64("budget.project.max_cost_usd"),
				WarningThreshold: v.GetFloat64("budget.project.warning_threshold"),
				DailyTokens:      v.GetInt64("budget.project.daily_tokens"),
			},
			User: &Budget_User{
				DailyTokens:      v.GetInt64("budget.user.daily_tokens"),
				MonthlyCostUsd:   v.GetFloat64("budget.user.monthly_cost_usd"),
				WarningThreshold: v.GetFloat64("budget.user.warning_threshold"),
			},
			Agents:             loadAgentBudgets(v),
			DefaultAgentRole:   v.GetString("budget.default_agent_role"),
			LedgerWriteTimeout: durationpb.New(v.GetDuration("budget.ledger_write_timeout")),
		},
		Pricing: &Pricing{
			DefaultModel: v.GetString("pricing.default_model"),
			Models:       loadPricingModels(v),
		},
		Agents: loadAgentProfiles(v),
		Retention: &Retention{
			UsageRecord:   durationpb.New(v.GetDuration("retention.usage_record")),
			Counter:       durationpb.New(v.GetDuration("retention.counter")),
			BudgetConfig:  durationpb.New(v.GetDuration("retention.budget_config")),
			ArchiveMaxAge: durationpb.New(v.GetDuration("retention.archive_max_age")),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// loadPricingModels reads the pricing.models map from viper.
func loadPricingModels(v *viper.Viper) map[string]*Pricing_Model {
	models := make(map[string]*Pricing_Model)
	for name := range v.GetStringMap("pricing.models") {
		prefix := "pricing.models." + name
		models[name] = &Pricing_Model{
			Input:  v.GetFloat64(prefix + ".input"),
			Output: v.GetFloat64(prefix + ".output"),
		}
	}
	return models
}

// loadAgentBudgets reads the budget.agents map from viper.
func loadAgentBudgets(v *viper.Viper) map[string]*Budget_Agent {
	agents := make(map[string]*Budget_Agent)
	for role := range v.GetStringMap("budget.agents") {
		agents[role] = &Budget_Agent{
			MaxTokens: v.GetInt64("budget.agents." + role + ".max_tokens"),
		}
	}
	return agents
}

// loadAgentProfiles reads the agents map from viper.
func loadAgentProfiles(v *viper.Viper) map[string]*AgentProfile {
	profiles := make(map[string]*AgentProfile)
	for role := range v.GetStringMap("agents") {
		prefix := "agents." + role
		profiles[role] = &AgentProfile{
			Model:        v.GetString(prefix + ".model"),
			MaxTokens:    v.GetInt32(prefix + ".max_tokens"),
			Temperature:  v.GetFloat64(prefix + ".temperature"),
			SystemPrompt: v.GetString(prefix + ".system_prompt"),
		}
	}
	return profiles
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 10*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is optional; empty disables the archive

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Upstream defaults
	v.SetDefault("upstream.base_url", "https://api.cursor.sh/v1")
	v.SetDefault("upstream.timeout", 2*time.Minute)
	// Note: upstream.api_key (CURSOR_API_KEY) is required from environment

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.timeout", 2*time.Minute)
	v.SetDefault("breaker.reset_timeout", time.Minute)
	v.SetDefault("breaker.monitoring_period", 10*time.Minute)
	v.SetDefault("breaker.half_open_max_calls", 3)

	// Budget defaults
	v.SetDefault("budget.project.max_tokens", 100000)
	v.SetDefault("budget.project.max_cost_usd", 50.0)
	v.SetDefault("budget.project.warning_threshold", 0.8)
	v.SetDefault("budget.project.daily_tokens", 25000)
	v.SetDefault("budget.user.daily_tokens", 50000)
	v.SetDefault("budget.user.monthly_cost_usd", 200.0)
	v.SetDefault("budget.user.warning_threshold", 0.85)
	v.SetDefault("budget.agents.pr_architect.max_tokens", 30000)
	v.SetDefault("budget.agents.senior_developer.max_tokens", 50000)
	v.SetDefault("budget.agents.qa_engineer.max_tokens", 20000)
	v.SetDefault("budget.default_agent_role", "senior_developer")
	v.SetDefault("budget.ledger_write_timeout", 2*time.Second)

	// Pricing defaults (per-token USD)
	v.SetDefault("pricing.default_model", "cursor-large")
	v.SetDefault("pricing.models.cursor-large.input", 0.00003)
	v.SetDefault("pricing.models.cursor-large.output", 0.00006)
	v.SetDefault("pricing.models.cursor-medium.input", 0.00002)
	v.SetDefault("pricing.models.cursor-medium.output", 0.00004)
	v.SetDefault("pricing.models.cursor-small.input", 0.00001)
	v.SetDefault("pricing.models.cursor-small.output", 0.00002)

	// Agent profile defaults
	v.SetDefault("agents.pr_architect.model", "cursor-large")
	v.SetDefault("agents.pr_architect.max_tokens", 4000)
	v.SetDefault("agents.pr_architect.temperature", 0.7)
	v.SetDefault("agents.pr_architect.system_prompt",
		"You are a Senior PR/Architect responsible for analyzing project requirements and creating comprehensive architecture designs.")
	v.SetDefault("agents.senior_developer.model", "cursor-large")
	v.SetDefault("agents.senior_developer.max_tokens", 8000)
	v.SetDefault("agents.senior_developer.temperature", 0.3)
	v.SetDefault("agents.senior_developer.system_prompt",
		"You are a Senior Developer responsible for generating production-ready code.")
	v.SetDefault("agents.qa_engineer.model", "cursor-large")
	v.SetDefault("agents.qa_engineer.max_tokens", 4000)
	v.SetDefault("agents.qa_engineer.temperature", 0.5)
	v.SetDefault("agents.qa_engineer.system_prompt",
		"You are a QA Engineer responsible for creating comprehensive test plans and ensuring code quality.")

	// Retention defaults
	v.SetDefault("retention.usage_record", 30*24*time.Hour)
	v.SetDefault("retention.counter", 90*24*time.Hour)
	v.SetDefault("retention.budget_config", 365*24*time.Hour)
	v.SetDefault("retention.archive_max_age", 90*24*time.Hour)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Upstream == nil || bc.Upstream.ApiKey == "" {
		missingFields = append(missingFields, "upstream.api_key (CURSOR_API_KEY)")
	}

	if bc.Upstream == nil || bc.Upstream.BaseUrl == "" {
		missingFields = append(missingFields, "upstream.base_url")
	}

	if bc.Pricing == nil || bc.Pricing.DefaultModel == "" {
		missingFields = append(missingFields, "pricing.default_model")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	if _, ok := bc.Pricing.Models[bc.Pricing.DefaultModel]; !ok {
		return fmt.Errorf("pricing.default_model %q has no entry in pricing.models", bc.Pricing.DefaultModel)
	}

	return nil
}
