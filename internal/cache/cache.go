// Package cache is the read-view cache for balances, goals and transaction
// lists. Entries are advisory: every error on the read path degrades to a
// miss so a cache outage can slow reads down but never make them wrong.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrMiss = errors.New("cache miss")

// Store is the subset of redis.Client the cache needs; tests stub it.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
}

type Cache struct {
	client Store
	ttl    time.Duration
}

func New(client Store, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func NewClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

func BalanceKey(userID string) string {
	return fmt.Sprintf("balance:%s", userID)
}

func GoalsKey(userID string) string {
	return fmt.Sprintf("goals:%s", userID)
}

func TransactionsKey(userID, txType string, limit, offset int) string {
	return fmt.Sprintf("txns:%s:%s:%d:%d", userID, txType, limit, offset)
}

func transactionsPattern(userID string) string {
	return fmt.Sprintf("txns:%s:*", userID)
}

func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return ErrMiss
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return ErrMiss
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.client.Set(ctx, key, string(data), c.ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// InvalidateUser drops every read view derived from one user's money state.
// The reconciliation engine calls this strictly after the durable commit.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	keys := []string{BalanceKey(userID), GoalsKey(userID)}
	txKeys, err := c.client.Keys(ctx, transactionsPattern(userID)).Result()
	if err == nil {
		keys = append(keys, txKeys...)
	}
	delErr := c.client.Del(ctx, keys...).Err()
	if err != nil {
		return err
	}
	return delErr
}
