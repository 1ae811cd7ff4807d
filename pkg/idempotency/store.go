// pkg/idempotency/store.go
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"ledger-service/pkg/cache"

	"go.uber.org/zap"
)

const (
	namespace  = "idempotency"
	defaultTTL = 24 * time.Hour
)

// Key builds the conventional `<operation>:<naturalKey...>` idempotency key.
func Key(operation string, parts ...string) string {
	return operation + ":" + strings.Join(parts, ":")
}

// Store deduplicates externally-retried requests: a repeated key
// short-circuits to the cached prior response without re-executing the
// underlying operation.
type Store struct {
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

func New(c cache.Cache, logger *zap.Logger) *Store {
	return &Store{cache: c, ttl: defaultTTL, logger: logger}
}

// Do returns the cached response for key when one exists; otherwise it runs
// fn and caches the serialized result. Cache unavailability (breaker open,
// redis down) degrades to executing fn; the store transaction behind fn is
// the correctness backstop, and dedup here is an optimization for callers.
func (s *Store) Do(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	prior, err := s.cache.Get(ctx, namespace, key)
	if err == nil && prior != "" {
		return []byte(prior), true, nil
	}
	if err != nil && !errors.Is(err, cache.Nil) {
		s.logger.Warn("idempotency lookup unavailable, executing without dedup",
			zap.String("key", key),
			zap.Error(err))
	}

	resp, err := fn(ctx)
	if err != nil {
		return nil, false, err
	}

	if err := s.cache.Set(ctx, namespace, key, string(resp), s.ttl); err != nil {
		s.logger.Warn("failed to cache idempotent response",
			zap.String("key", key),
			zap.Error(err))
	}
	return resp, false, nil
}
