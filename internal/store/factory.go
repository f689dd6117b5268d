// Package store selects and builds the store adapter named by configuration.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"docsink/internal/config"
	"docsink/internal/persistence"
	"docsink/internal/store/breaker"
	"docsink/internal/store/dynamo"
	"docsink/internal/store/jsonlines"
	"docsink/internal/store/memory"
	"docsink/internal/store/pebblestore"
	"docsink/internal/store/redisstore"
)

// CloseFunc releases resources held by a store.
type CloseFunc func() error

func noClose() error { return nil }

// Build creates the adapter for cfg.Store.Driver writing to cfg.Collection,
// wrapped in a circuit breaker when cfg.Breaker.Enabled is set.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (persistence.StoreAdapter, CloseFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter, closeFn, err := buildDriver(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Breaker.Enabled {
		adapter = breaker.Wrap(adapter, breaker.Config{
			Name:             cfg.Store.Driver + ":" + adapter.CollectionName(),
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			Timeout:          cfg.Breaker.Timeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			MinRequests:      cfg.Breaker.MinRequests,
		}, logger)
	}

	logger.Info("Store adapter ready",
		zap.String("driver", cfg.Store.Driver),
		zap.String("collection", adapter.CollectionName()),
		zap.Bool("breaker", cfg.Breaker.Enabled),
	)
	return adapter, closeFn, nil
}

func buildDriver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (persistence.StoreAdapter, CloseFunc, error) {
	switch cfg.Store.Driver {
	case "", config.DriverMemory:
		return memory.NewStore(cfg.Collection), noClose, nil

	case config.DriverDynamoDB:
		d := cfg.Store.DynamoDB
		client, err := dynamo.NewClient(ctx, d.Region, d.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		s, err := dynamo.New(client, dynamo.Options{
			Table:  d.TableName,
			Key:    dynamo.KeySchema{PartitionKey: d.PartitionKey, SortKey: d.SortKey},
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, noClose, nil

	case config.DriverPebble:
		s, err := pebblestore.Open(cfg.Store.Pebble.Dir, cfg.Collection, pebblestore.Options{})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.DriverRedis:
		r := cfg.Store.Redis
		client := redisstore.NewGoRedisClient(r.Addr, r.Password, r.DB)
		return redisstore.New(client, cfg.Collection), client.Close, nil

	case config.DriverJSONLines:
		j := cfg.Store.JSONLines
		s, err := jsonlines.Open(cfg.Collection, jsonlines.Options{
			Dir:      j.Dir,
			Filename: j.Filename,
			Compress: j.Compress,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, noClose, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}
