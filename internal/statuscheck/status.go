package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Pinger models the minimal Redis capability we need for status checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BucketChecker is satisfied by *storage.S3Client.
type BucketChecker interface {
	HeadBucket(ctx context.Context, bucket string) error
}

// BreakerState is satisfied by *store.Breaker.
type BreakerState interface {
	RetryAt(ctx context.Context) (time.Time, bool)
}

// Checker aggregates readiness of the dependencies a sample job touches.
type Checker struct {
	redis   Pinger
	s3      BucketChecker
	bucket  string
	breaker BreakerState
}

type Options struct {
	Redis    Pinger
	S3       BucketChecker
	S3Bucket string
	Breaker  BreakerState
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Summary struct {
	Redis   Status `json:"redis"`
	S3      Status `json:"s3"`
	Breaker Status `json:"breaker"`
}

// OK reports whether jobs can currently make progress. S3 only counts when
// a bucket is configured.
func (s Summary) OK() bool {
	return s.Redis.OK && s.Breaker.OK && (s.S3.OK || s.S3.Message == msgNoBucket)
}

const msgNoBucket = "bucket not configured"

func New(opts Options) *Checker {
	return &Checker{redis: opts.Redis, s3: opts.S3, bucket: opts.S3Bucket, breaker: opts.Breaker}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:   c.checkRedis(ctx),
		S3:      c.checkS3(ctx),
		Breaker: c.checkBreaker(ctx),
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.bucket == "" || c.s3 == nil {
		return Status{OK: false, Message: msgNoBucket}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.s3.HeadBucket(ctx, c.bucket); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "connected"}
}

func (c *Checker) checkBreaker(ctx context.Context) Status {
	if c.breaker == nil {
		return Status{OK: true, Message: "disabled"}
	}
	if until, open := c.breaker.RetryAt(ctx); open {
		return Status{OK: false, Message: fmt.Sprintf("open until %s", until.UTC().Format(time.RFC3339))}
	}
	return Status{OK: true, Message: "closed"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
