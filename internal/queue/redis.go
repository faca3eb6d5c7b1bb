package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Entry is one sample job on the queue. Payload is the job JSON; JobID and
// Attempt are copied out of it so Redis tooling and the DLQ can show them
// without decoding.
type Entry struct {
	MsgID   string `json:"-"`
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt"`
	Payload []byte `json:"payload"`
}

// Reason says why a job ended up in the dead-letter stream.
type Reason string

const (
	// ReasonInvalid: the payload did not parse or validate.
	ReasonInvalid Reason = "invalid_payload"
	// ReasonRetriesExhausted: a transient failure outlived JobMaxAttempts.
	ReasonRetriesExhausted Reason = "retries_exhausted"
	// ReasonRequeueFailed: scheduling a retry or deferral failed.
	ReasonRequeueFailed Reason = "requeue_failed"
)

// DeadLetter is a DLQ record as read back by DeadLetters.
type DeadLetter struct {
	Entry
	Reason   Reason    `json:"reason"`
	Detail   string    `json:"detail"`
	FailedAt time.Time `json:"failed_at"`
}

// RedisQueue implements Redis Streams + consumer groups with a delayed ZSET mover.
type RedisQueue struct {
	client *redis.Client
	Stream string
	Group  string

	CancelKey   string
	DelayedKey  string
	DLQStream   string
	IdemDoneKey string

	pollInterval time.Duration
	stop         chan struct{}
}

// NewRedisQueue connects to Redis, ensures stream & group, and starts delayed mover.
func NewRedisQueue(redisURL, stream, group string, poll time.Duration) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	q := newRedisQueue(c, stream, group, poll)
	// MKSTREAM creates the stream if missing
	if err := c.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	go q.mover()
	return q, nil
}

func newRedisQueue(c *redis.Client, stream, group string, poll time.Duration) *RedisQueue {
	return &RedisQueue{
		client:       c,
		Stream:       stream,
		Group:        group,
		CancelKey:    stream + ":cancelled",
		DelayedKey:   stream + ":delayed",
		DLQStream:    stream + ":dlq",
		IdemDoneKey:  stream + ":done:",
		pollInterval: poll,
		stop:         make(chan struct{}),
	}
}

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	// go-redis may return a generic error string from Redis
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) Close() error {
	close(q.stop)
	return q.client.Close()
}

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

func (e Entry) values() map[string]any {
	return map[string]any{
		"job_id":  e.JobID,
		"attempt": e.Attempt,
		"data":    string(e.Payload),
	}
}

// parseEntry reads a stream message. Entries without a data field are
// returned with a nil Payload.
func parseEntry(id string, vals map[string]any) Entry {
	e := Entry{MsgID: id, JobID: str(vals["job_id"])}
	e.Attempt, _ = strconv.Atoi(str(vals["attempt"]))
	if v, ok := vals["data"]; ok {
		e.Payload = []byte(str(v))
	}
	return e
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// Enqueue appends a job to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, e Entry) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: e.values()}).Err()
}

// delayedMember encodes e as a ZSET member. Job and attempt make it unique.
func delayedMember(e Entry) (string, error) {
	b, err := json.Marshal(e)
	return string(b), err
}

func parseDelayedMember(s string) (Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return Entry{}, fmt.Errorf("delayed entry: %w", err)
	}
	return e, nil
}

// EnqueueDelayed schedules a job for later execution via ZSET.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, e Entry, executeAt time.Time) error {
	m, err := delayedMember(e)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.DelayedKey, redis.Z{Score: float64(executeAt.Unix()), Member: m}).Err()
}

// Dequeue reads one message from the consumer group. ok is false when the
// block timed out.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (Entry, bool, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return Entry{}, false, nil
	}
	msg := res[0].Messages[0]
	return parseEntry(msg.ID, msg.Values), true, nil
}

// Ack marks a message as processed.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// CancelJob marks a job as cancelled. Workers check this before and during processing.
func (q *RedisQueue) CancelJob(ctx context.Context, jobID string) error {
	return q.client.SAdd(ctx, q.CancelKey, jobID).Err()
}

// IsCancelled returns true if job is cancelled.
func (q *RedisQueue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return q.client.SIsMember(ctx, q.CancelKey, jobID).Result()
}

// AddDLQ records a dead job with its reason code and error text.
func (q *RedisQueue) AddDLQ(ctx context.Context, e Entry, reason Reason, detail string) error {
	vals := e.values()
	vals["reason"] = string(reason)
	vals["detail"] = detail
	vals["failed_at"] = time.Now().UTC().Format(time.RFC3339)
	return q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.DLQStream, Values: vals}).Err()
}

// DeadLetters returns up to count DLQ records, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, count int64) ([]DeadLetter, error) {
	msgs, err := q.client.XRevRangeN(ctx, q.DLQStream, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, parseDeadLetter(m.ID, m.Values))
	}
	return out, nil
}

func parseDeadLetter(id string, vals map[string]any) DeadLetter {
	d := DeadLetter{
		Entry:  parseEntry(id, vals),
		Reason: Reason(str(vals["reason"])),
		Detail: str(vals["detail"]),
	}
	d.FailedAt, _ = time.Parse(time.RFC3339, str(vals["failed_at"]))
	return d
}

// IsIdemDone returns true if idempotency key already marked done.
func (q *RedisQueue) IsIdemDone(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	exists, err := q.client.Exists(ctx, q.IdemDoneKey+key).Result()
	return exists == 1, err
}

// MarkIdemDone marks idempotency key as done with TTL.
func (q *RedisQueue) MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return nil
	}
	return q.client.Set(ctx, q.IdemDoneKey+key, 1, ttl).Err()
}

// mover periodically moves due delayed jobs from ZSET into the stream.
func (q *RedisQueue) mover() {
	if q.pollInterval <= 0 {
		q.pollInterval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.moveOnce()
		}
	}
}

func (q *RedisQueue) moveOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	vals, err := q.client.ZRangeByScore(ctx, q.DelayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(time.Now().Unix(), 10), Offset: 0, Count: 100,
	}).Result()
	if err != nil || len(vals) == 0 {
		return
	}
	pipe := q.client.TxPipeline()
	for _, m := range vals {
		pipe.ZRem(ctx, q.DelayedKey, m)
		e, err := parseDelayedMember(m)
		if err != nil {
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.DLQStream, Values: map[string]any{
				"data": m, "reason": string(ReasonInvalid), "detail": err.Error(),
				"failed_at": time.Now().UTC().Format(time.RFC3339),
			}})
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: e.values()})
	}
	_, _ = pipe.Exec(ctx)
}

// Depths returns approximate stream/deferred/dlq lengths for metrics.
func (q *RedisQueue) Depths(ctx context.Context) (int64, int64, int64, error) {
	pipe := q.client.Pipeline()
	xlen := pipe.XLen(ctx, q.Stream)
	zcard := pipe.ZCard(ctx, q.DelayedKey)
	dxlen := pipe.XLen(ctx, q.DLQStream)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return xlen.Val(), zcard.Val(), dxlen.Val(), nil
}
