package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the external-store backend: a real key-value service reached
// over two connections, one dedicated to publishing and one to subscribing,
// so a slow subscriber can never stall a writer sharing the same client.
type RedisStore struct {
	pub *redis.Client
	sub *redis.Client
}

// RedisOptions configures the external store connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore dials two independent clients against the same address.
func NewRedisStore(opts RedisOptions) *RedisStore {
	mk := func() *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}
	return &RedisStore{pub: mk(), sub: mk()}
}

// Ping verifies the publish connection is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.pub.Ping(ctx).Err()
}

// Publish sends msg on channel using the dedicated publish connection.
func (r *RedisStore) Publish(ctx context.Context, channel, msg string) error {
	return r.pub.Publish(ctx, channel, msg).Err()
}

// Subscribe listens on channel using the dedicated subscribe connection.
func (r *RedisStore) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return r.sub.Subscribe(ctx, channel)
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.pub.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.pub.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.pub.Del(ctx, keys...).Err()
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.pub.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.pub.Expire(ctx, key, ttl).Err()
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.pub.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return r.pub.HSet(ctx, key, field, value).Err()
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.pub.HGetAll(ctx, key).Result()
}

func (r *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return r.pub.HDel(ctx, key, fields...).Err()
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.pub.SAdd(ctx, key, args...).Err()
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.pub.SMembers(ctx, key).Result()
}

func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.pub.SRem(ctx, key, args...).Err()
}

func (r *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.pub.SIsMember(ctx, key, member).Result()
}

func (r *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	return r.pub.SCard(ctx, key).Result()
}

func (r *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.pub.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *RedisStore) ZRevRangeByRank(ctx context.Context, key string, start, stop int64) ([]ZMember, error) {
	zs, err := r.pub.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ZMember, len(zs))
	for i, z := range zs {
		out[i] = ZMember{Member: z.Member.(string), Score: z.Score}
	}
	return out, nil
}

func (r *RedisStore) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.pub.ZRem(ctx, key, args...).Err()
}

func (r *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return r.pub.ZCard(ctx, key).Result()
}

func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return r.pub.Incr(ctx, key).Result()
}

func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.pub.Keys(ctx, pattern).Result()
}

func (r *RedisStore) Close() error {
	_ = r.sub.Close()
	return r.pub.Close()
}

var _ Store = (*RedisStore)(nil)
