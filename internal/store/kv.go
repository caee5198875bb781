// Package store provides the unified keyed-storage contract the rest of the
// engine persists through, with an external (Redis) and an in-memory backend.
package store

import (
	"context"
	"time"
)

// ZMember is one scored member of a sorted set.
type ZMember struct {
	Member string
	Score  float64
}

// Store is the contract every component persists through. Two backends
// satisfy it: an external Redis-backed store and a process-local in-memory
// store used in tests and when no external store is configured.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRevRangeByRank returns, in descending-score order, the members ranked
	// [start, stop] (0-indexed, inclusive), one ZMember{Member, Score} per
	// member; the result is not an interleaved member/score list.
	ZRevRangeByRank(ctx context.Context, key string, start, stop int64) ([]ZMember, error)
	ZRem(ctx context.Context, key string, members ...string) error
	ZCard(ctx context.Context, key string) (int64, error)

	Incr(ctx context.Context, key string) (int64, error)

	// Keys returns every key matching a glob-style pattern ("round:*:logs:*").
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Close releases any held connections.
	Close() error
}
