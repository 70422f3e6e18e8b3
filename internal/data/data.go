// Package data provides data access layer implementations.
// It handles the Redis counter store, the optional MySQL usage archive, and
// the upstream completion client.
package data

import (
	"PromptGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient is the Redis client backing budget counters
	redisClient *redis.Client
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, budget accounting will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis and MySQL cleanups are returned by their own constructors
		// and invoked by Wire
	}

	return d, cleanup, nil
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}
