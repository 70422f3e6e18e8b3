//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"PromptGate/internal/biz"
	"PromptGate/internal/conf"
	"PromptGate/internal/data"
	"PromptGate/internal/server"
	"PromptGate/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		wire.FieldsOf(new(*conf.Bootstrap),
			"Server", "Data", "Upstream", "Breaker", "Budget", "Pricing", "Retention"),
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		StartRetentionCron,
		newApp,
	))
}
