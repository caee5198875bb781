package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PermissiveStore wraps a Store and applies the engine's configured
// failure-degradation policy to every operation's error path. In strict
// mode (the default) an underlying error is returned unchanged, so callers
// wrap it as apperr.StoreUnavail exactly as they would without this
// decorator. In permissive mode the error is logged and swallowed, and the
// call returns its zero/empty result instead — a round tick degrades rather
// than halting when the external store is unreachable.
type PermissiveStore struct {
	inner      Store
	logger     *zap.Logger
	permissive bool
}

// NewPermissiveStore wraps inner with the given degradation policy. When
// permissive is false this is a pure passthrough.
func NewPermissiveStore(inner Store, logger *zap.Logger, permissive bool) *PermissiveStore {
	return &PermissiveStore{inner: inner, logger: logger, permissive: permissive}
}

// degrade reports whether err should be swallowed (true) after logging it,
// or surfaced to the caller unchanged (false).
func (s *PermissiveStore) degrade(op string, err error) bool {
	if err == nil || !s.permissive {
		return false
	}
	s.logger.Warn("store unavailable, degrading to empty result (permissive mode)",
		zap.String("op", op), zap.Error(err))
	return true
}

func (s *PermissiveStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.inner.Get(ctx, key)
	if s.degrade("Get", err) {
		return "", false, nil
	}
	return v, ok, err
}

func (s *PermissiveStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := s.inner.Set(ctx, key, value, ttl)
	if s.degrade("Set", err) {
		return nil
	}
	return err
}

func (s *PermissiveStore) Del(ctx context.Context, keys ...string) error {
	err := s.inner.Del(ctx, keys...)
	if s.degrade("Del", err) {
		return nil
	}
	return err
}

func (s *PermissiveStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.inner.Exists(ctx, key)
	if s.degrade("Exists", err) {
		return false, nil
	}
	return ok, err
}

func (s *PermissiveStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	err := s.inner.Expire(ctx, key, ttl)
	if s.degrade("Expire", err) {
		return nil
	}
	return err
}

func (s *PermissiveStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, ok, err := s.inner.HGet(ctx, key, field)
	if s.degrade("HGet", err) {
		return "", false, nil
	}
	return v, ok, err
}

func (s *PermissiveStore) HSet(ctx context.Context, key, field, value string) error {
	err := s.inner.HSet(ctx, key, field, value)
	if s.degrade("HSet", err) {
		return nil
	}
	return err
}

func (s *PermissiveStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	v, err := s.inner.HGetAll(ctx, key)
	if s.degrade("HGetAll", err) {
		return map[string]string{}, nil
	}
	return v, err
}

func (s *PermissiveStore) HDel(ctx context.Context, key string, fields ...string) error {
	err := s.inner.HDel(ctx, key, fields...)
	if s.degrade("HDel", err) {
		return nil
	}
	return err
}

func (s *PermissiveStore) SAdd(ctx context.Context, key string, members ...string) error {
	err := s.inner.SAdd(ctx, key, members...)
	if s.degrade("SAdd", err) {
		return nil
	}
	return err
}

func (s *PermissiveStore) SMembers(ctx context.Context, key string) ([]string, error) {
	v, err := s.inner.SMembers(ctx, key)
	if s.degrade("SMembers", err) {
		return nil, nil
	}
	return v, err
}

func (s *PermissiveStore) SRem(ctx context.Context, key string, members ...string) error {
	err := s.inner.SRem(ctx, key, members...)
	if s.degrade("SRem", err) {
		return nil
	}
	return err
}

func (s *PermissiveStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.inner.SIsMember(ctx, key, member)
	if s.degrade("SIsMember", err) {
		return false, nil
	}
	return ok, err
}

func (s *PermissiveStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.inner.SCard(ctx, key)
	if s.degrade("SCard", err) {
		return 0, nil
	}
	return n, err
}

func (s *PermissiveStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	err := s.inner.ZAdd(ctx, key, score, member)
	if s.degrade("ZAdd", err) {
		return nil
	}
	return err
}

func (s *PermissiveStore) ZRevRangeByRank(ctx context.Context, key string, start, stop int64) ([]ZMember, error) {
	v, err := s.inner.ZRevRangeByRank(ctx, key, start, stop)
	if s.degrade("ZRevRangeByRank", err) {
		return nil, nil
	}
	return v, err
}

func (s *PermissiveStore) ZRem(ctx context.Context, key string, members ...string) error {
	err := s.inner.ZRem(ctx, key, members...)
	if s.degrade("ZRem", err) {
		return nil
	}
	return err
}

func (s *PermissiveStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.inner.ZCard(ctx, key)
	if s.degrade("ZCard", err) {
		return 0, nil
	}
	return n, err
}

func (s *PermissiveStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.inner.Incr(ctx, key)
	if s.degrade("Incr", err) {
		return 0, nil
	}
	return n, err
}

func (s *PermissiveStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	v, err := s.inner.Keys(ctx, pattern)
	if s.degrade("Keys", err) {
		return nil, nil
	}
	return v, err
}

func (s *PermissiveStore) Close() error {
	return s.inner.Close()
}

var _ Store = (*PermissiveStore)(nil)
