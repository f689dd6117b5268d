package redisstore

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

// Write is one mutation applied inside a transaction.
// A nil Value deletes Key and removes ID from the index set.
type Write struct {
	Key   string
	Index string
	ID    string
	Value []byte
}

// Client abstracts the minimal surface the store needs from a Redis client.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	Apply(ctx context.Context, writes []Write) error
}

// GoRedisClient implements Client with github.com/redis/go-redis/v9.
type GoRedisClient struct{ c redis.UniversalClient }

// NewGoRedisClient connects to the server at addr.
func NewGoRedisClient(addr, password string, db int) *GoRedisClient {
	return WrapClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// WrapClient adapts an existing go-redis client.
func WrapClient(c redis.UniversalClient) *GoRedisClient {
	return &GoRedisClient{c: c}
}

func (g *GoRedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := g.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (g *GoRedisClient) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := g.c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (g *GoRedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return g.c.SMembers(ctx, key).Result()
}

// Apply runs every write in one MULTI/EXEC transaction.
func (g *GoRedisClient) Apply(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := g.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			if w.Value == nil {
				pipe.Del(ctx, w.Key)
				pipe.SRem(ctx, w.Index, w.ID)
				continue
			}
			pipe.Set(ctx, w.Key, w.Value, 0)
			pipe.SAdd(ctx, w.Index, w.ID)
		}
		return nil
	})
	return err
}

// Ping checks connectivity.
func (g *GoRedisClient) Ping(ctx context.Context) error {
	return g.c.Ping(ctx).Err()
}

// Close closes the underlying client.
func (g *GoRedisClient) Close() error {
	return g.c.Close()
}
