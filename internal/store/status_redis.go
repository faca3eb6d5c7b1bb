package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Job states.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

type Status struct {
	Status   string         `json:"status"`
	Progress int            `json:"progress"`
	Message  string         `json:"message"`
	Samples  int            `json:"samples_done"`
	Attempts int            `json:"attempts"`
	Start    *time.Time     `json:"start_time,omitempty"`
	End      *time.Time     `json:"end_time,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Terminal reports whether no further work will happen for the job.
func (s Status) Terminal() bool {
	return s.Status == StatusSuccess || s.Status == StatusFailed || s.Status == StatusCancelled
}

type RedisStatus struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func NewRedisStatus(redisURL string) (*RedisStatus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisStatus{client: c, keyNS: "viewsynth:job", ttl: 7 * 24 * time.Hour}, nil
}

func (s *RedisStatus) key(jobID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, jobID) }

func (s *RedisStatus) samplesKey(jobID string) string {
	return fmt.Sprintf("%s:%s:samples", s.keyNS, jobID)
}

// Set overwrites the scalar fields; Start, End and Metadata are written only
// when present.
func (s *RedisStatus) Set(ctx context.Context, jobID string, st Status) error {
	m := map[string]any{
		"status":   st.Status,
		"progress": st.Progress,
		"message":  st.Message,
		"samples":  st.Samples,
		"attempts": st.Attempts,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Metadata != nil {
		b, _ := json.Marshal(st.Metadata)
		m["metadata"] = string(b)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(jobID), m)
	pipe.Expire(ctx, s.key(jobID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatus) Get(ctx context.Context, jobID string) (Status, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	return decodeStatus(res), true, nil
}

func decodeStatus(res map[string]string) Status {
	st := Status{Status: res["status"], Message: res["message"]}
	// parse errors leave the zero value
	st.Progress, _ = strconv.Atoi(res["progress"])
	st.Samples, _ = strconv.Atoi(res["samples"])
	st.Attempts, _ = strconv.Atoi(res["attempts"])
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Metadata)
	}
	return st
}

// AddSample appends the location of a written sample to the job's index.
func (s *RedisStatus) AddSample(ctx context.Context, jobID, location string) error {
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.samplesKey(jobID), location)
	pipe.Expire(ctx, s.samplesKey(jobID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Samples lists sample locations in write order.
func (s *RedisStatus) Samples(ctx context.Context, jobID string) ([]string, error) {
	return s.client.LRange(ctx, s.samplesKey(jobID), 0, -1).Result()
}

func (s *RedisStatus) Close() error { return s.client.Close() }
