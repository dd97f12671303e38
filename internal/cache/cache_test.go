package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type stubStore struct {
	getFn  func(key string) (string, error)
	setFn  func(key, value string, ttl time.Duration) error
	delFn  func(keys ...string) error
	keysFn func(pattern string) ([]string, error)
}

func (s stubStore) Get(_ context.Context, key string) *redis.StringCmd {
	if s.getFn == nil {
		return redis.NewStringResult("", redis.Nil)
	}
	value, err := s.getFn(key)
	return redis.NewStringResult(value, err)
}

func (s stubStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	if s.setFn == nil {
		return redis.NewStatusResult("OK", nil)
	}
	return redis.NewStatusResult("OK", s.setFn(key, value.(string), ttl))
}

func (s stubStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if s.delFn == nil {
		return redis.NewIntResult(int64(len(keys)), nil)
	}
	return redis.NewIntResult(0, s.delFn(keys...))
}

func (s stubStore) Keys(_ context.Context, pattern string) *redis.StringSliceCmd {
	if s.keysFn == nil {
		return redis.NewStringSliceResult(nil, nil)
	}
	keys, err := s.keysFn(pattern)
	return redis.NewStringSliceResult(keys, err)
}

func TestCacheGetHit(t *testing.T) {
	c := New(stubStore{
		getFn: func(key string) (string, error) {
			if key != "balance:user-1" {
				t.Fatalf("unexpected key: %s", key)
			}
			return `{"balance":10000}`, nil
		},
	}, time.Second)
	var view struct {
		Balance int64 `json:"balance"`
	}
	if err := c.Get(context.Background(), BalanceKey("user-1"), &view); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Balance != 10000 {
		t.Fatalf("unexpected value: %#v", view)
	}
}

func TestCacheGetDegradesToMiss(t *testing.T) {
	c := New(stubStore{
		getFn: func(string) (string, error) {
			return "", errors.New("redis down")
		},
	}, time.Second)
	var view any
	if err := c.Get(context.Background(), "balance:user-1", &view); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestCacheGetCorruptValueIsMiss(t *testing.T) {
	c := New(stubStore{
		getFn: func(string) (string, error) {
			return "{not json", nil
		},
	}, time.Second)
	var view map[string]any
	if err := c.Get(context.Background(), "goals:user-1", &view); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestInvalidateUserDropsAllViews(t *testing.T) {
	var deleted []string
	c := New(stubStore{
		keysFn: func(pattern string) ([]string, error) {
			if pattern != "txns:user-1:*" {
				t.Fatalf("unexpected pattern: %s", pattern)
			}
			return []string{"txns:user-1::20:0"}, nil
		},
		delFn: func(keys ...string) error {
			deleted = keys
			return nil
		},
	}, time.Second)
	if err := c.InvalidateUser(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deleted) != 3 {
		t.Fatalf("expected balance, goals and transaction keys, got %#v", deleted)
	}
}

func TestInvalidateUserSurvivesKeysFailure(t *testing.T) {
	var deleted []string
	c := New(stubStore{
		keysFn: func(string) ([]string, error) {
			return nil, errors.New("scan failed")
		},
		delFn: func(keys ...string) error {
			deleted = keys
			return nil
		},
	}, time.Second)
	if err := c.InvalidateUser(context.Background(), "user-1"); err == nil {
		t.Fatalf("expected scan error to surface")
	}
	if len(deleted) != 2 {
		t.Fatalf("expected the fixed keys to still be dropped, got %#v", deleted)
	}
}
