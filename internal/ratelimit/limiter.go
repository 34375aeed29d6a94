// Package ratelimit enforces per-client request quotas over fixed minute,
// hour and day windows kept in Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/store"
	"github.com/redis/go-redis/v9"
)

type Window string

const (
	Minute Window = "minute"
	Hour   Window = "hour"
	Day    Window = "day"
)

var windows = []struct {
	name Window
	ttl  time.Duration
}{
	{Minute, time.Minute},
	{Hour, time.Hour},
	{Day, 24 * time.Hour},
}

var (
	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payops_rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter, labeled by window",
	}, []string{"window"})

	failOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payops_rate_limit_fail_open_total",
		Help: "Requests admitted because the counter store was unavailable",
	})
)

// ExceededError reports the first window whose bound was reached.
type ExceededError struct {
	Window     Window
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s window", e.Window)
}

// checkAndIncr checks every window before touching any counter, so a rejected
// request never consumes quota. Returns {0, 0} when admitted, otherwise the
// 1-based index of the exhausted window and its remaining TTL in seconds.
var checkAndIncr = redis.NewScript(`
for i = 1, #KEYS do
  local count = tonumber(redis.call('GET', KEYS[i]) or '0')
  if count >= tonumber(ARGV[i]) then
    return {i, redis.call('TTL', KEYS[i])}
  end
end
local n = #KEYS
for i = 1, n do
  if redis.call('INCR', KEYS[i]) == 1 then
    redis.call('EXPIRE', KEYS[i], ARGV[n + i])
  end
end
return {0, 0}
`)

// PolicySource looks up a client's policy. store.ErrNotFound means the
// client is unrestricted.
type PolicySource interface {
	GetRateLimitPolicy(ctx context.Context, clientID string) (*domain.RateLimitPolicy, error)
}

type Limiter struct {
	rdb      redis.Scripter
	policies PolicySource
	logger   *slog.Logger
}

func NewLimiter(rdb redis.Scripter, policies PolicySource, logger *slog.Logger) *Limiter {
	return &Limiter{rdb: rdb, policies: policies, logger: logger}
}

// Key is the counter key for a client and window.
func Key(clientID string, w Window) string {
	return fmt.Sprintf("rate_limit:%s:%s", clientID, w)
}

// Allow admits or rejects one request for clientID. Check and increment run
// as one script so concurrent requests cannot over-admit. A rejection is an
// *ExceededError; counter store failures admit the request.
func (l *Limiter) Allow(ctx context.Context, clientID string) error {
	policy, err := l.policies.GetRateLimitPolicy(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rate limit policy lookup failed: %w", err)
	}

	keys := make([]string, len(windows))
	args := make([]any, 0, 2*len(windows))
	for i, w := range windows {
		keys[i] = Key(clientID, w.name)
	}
	args = append(args, policy.RequestsPerMinute+policy.BurstAllowance, policy.RequestsPerHour, policy.RequestsPerDay)
	for _, w := range windows {
		args = append(args, int64(w.ttl/time.Second))
	}

	res, err := checkAndIncr.Run(ctx, l.rdb, keys, args...).Int64Slice()
	if err != nil {
		failOpenTotal.Inc()
		l.logger.Error("rate limiter unavailable, admitting request", "client_id", clientID, "error", err)
		return nil
	}
	if len(res) != 2 || res[0] == 0 {
		return nil
	}

	w := windows[res[0]-1]
	retry := time.Duration(res[1]) * time.Second
	if retry <= 0 {
		retry = w.ttl
	}
	rejectionsTotal.WithLabelValues(string(w.name)).Inc()
	return &ExceededError{Window: w.name, RetryAfter: retry}
}
