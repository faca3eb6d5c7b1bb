package store

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Breaker is a circuit breaker shared by every worker through Redis. It
// opens after transient failures against a dependency (sample storage,
// page sources) so workers defer jobs instead of burning their attempts.
type Breaker struct {
	client      *redis.Client
	key         string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Breaker returns the named breaker stored next to the job statuses.
func (s *RedisStatus) Breaker(name string, baseBackoff, maxBackoff time.Duration) *Breaker {
	return &Breaker{
		client:      s.client,
		key:         "viewsynth:cb:" + name,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

// cooldown doubles base for each failure after the first, capped at max.
func cooldown(base, max time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Open records a failure and starts (or extends) the cooldown.
func (b *Breaker) Open(ctx context.Context) time.Duration {
	failures, err := b.client.HIncrBy(ctx, b.key, "failures", 1).Result()
	if err != nil {
		log.Warn().Err(err).Str("breaker", b.key).Msg("breaker update failed")
		return 0
	}
	d := cooldown(b.baseBackoff, b.maxBackoff, int(failures))
	retryAt := time.Now().Add(d)

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.key, map[string]any{
		"state":     "open",
		"retry_at":  retryAt.Unix(),
		"opened_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, b.key, 2*b.maxBackoff)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("breaker", b.key).Msg("breaker update failed")
		return 0
	}

	log.Warn().
		Str("breaker", b.key).
		Dur("cooldown", d).
		Int64("failures", failures).
		Time("retry_at", retryAt).
		Msg("circuit breaker OPENED")
	return d
}

// RetryAt reports whether the breaker is open and when it half-opens.
// Redis errors read as closed.
func (b *Breaker) RetryAt(ctx context.Context) (time.Time, bool) {
	res, err := b.client.HMGet(ctx, b.key, "state", "retry_at").Result()
	if err != nil || len(res) != 2 {
		return time.Time{}, false
	}
	state, _ := res[0].(string)
	if state != "open" {
		return time.Time{}, false
	}
	raw, _ := res[1].(string)
	ts, _ := strconv.ParseInt(raw, 10, 64)
	until := time.Unix(ts, 0)
	if !time.Now().Before(until) {
		// cooldown over; let one job through
		b.client.HSet(ctx, b.key, "state", "half_open")
		log.Info().Str("breaker", b.key).Msg("circuit breaker moved to HALF-OPEN")
		return time.Time{}, false
	}
	return until, true
}

// Reset closes the breaker after a success.
func (b *Breaker) Reset(ctx context.Context) {
	n, err := b.client.Del(ctx, b.key).Result()
	if err == nil && n > 0 {
		log.Info().Str("breaker", b.key).Msg("circuit breaker CLOSED (reset)")
	}
}
