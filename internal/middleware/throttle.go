package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

// FailureStore counts failed attempts per key within a window.
type FailureStore interface {
	Failures(ctx context.Context, key string) (int, error)
	RecordFailure(ctx context.Context, key string, window time.Duration) error
	Reset(ctx context.Context, key string) error
}

// RedisFailureStore keeps failure counters in Redis so every instance
// shares them.
type RedisFailureStore struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisFailureStore(rdb redis.Cmdable, prefix string) *RedisFailureStore {
	if prefix == "" {
		prefix = "kcnuts:verify-failures:"
	}
	return &RedisFailureStore{rdb: rdb, prefix: prefix}
}

func (s *RedisFailureStore) Failures(ctx context.Context, key string) (int, error) {
	n, err := s.rdb.Get(ctx, s.prefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

// RecordFailure increments the counter and restarts its window.
func (s *RedisFailureStore) RecordFailure(ctx context.Context, key string, window time.Duration) error {
	k := s.prefix + key
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}
	return nil
}

func (s *RedisFailureStore) Reset(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// ThrottleConfig bounds failed payment verifications per caller.
type ThrottleConfig struct {
	MaxFailures int
	Window      time.Duration
}

// ThrottleFailures blocks callers that accumulated MaxFailures 402 responses
// within Window. A 2xx response clears the counter. Store errors fail open.
func ThrottleFailures(store FailureStore, cfg ThrottleConfig) func(http.Handler) http.Handler {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := GetLogger(ctx)
			key := throttleKey(r)

			failures, err := store.Failures(ctx, key)
			if err != nil {
				logger.Warn("failure counter unavailable", "error", err)
			} else if failures >= cfg.MaxFailures {
				if telemetry.Business != nil {
					telemetry.Business.VerifyThrottled.Inc()
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
				respondTooManyRequests(w, r, "Too many failed payment attempts, please try again later")
				return
			}

			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			// The request context may already be cancelled by the client.
			bg := context.WithoutCancel(ctx)
			switch {
			case wrapped.statusCode == http.StatusPaymentRequired:
				if err := store.RecordFailure(bg, key, cfg.Window); err != nil {
					logger.Warn("failed to record verification failure", "error", err)
				}
			case wrapped.statusCode >= 200 && wrapped.statusCode < 300 && failures > 0:
				if err := store.Reset(bg, key); err != nil {
					logger.Warn("failed to reset verification failures", "error", err)
				}
			}
		})
	}
}

func throttleKey(r *http.Request) string {
	if identity := domain.IdentityFromContext(r.Context()); identity != nil {
		return "user:" + identity.ID
	}
	return "ip:" + GetClientIP(r)
}
