package queue

import (
	"bytes"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestIsBusyGroupErr(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("BUSYGROUP Consumer Group name already exists"), true},
		{errors.New("busygroup"), true},
		{errors.New("ERR no such key"), false},
	}
	for _, tt := range tests {
		if got := isBusyGroupErr(tt.err); got != tt.want {
			t.Errorf("isBusyGroupErr(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestKeysDerivedFromStream(t *testing.T) {
	c := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer c.Close()
	q := newRedisQueue(c, "jobs:test", "g", 0)
	if q.DelayedKey != "jobs:test:delayed" || q.DLQStream != "jobs:test:dlq" || q.CancelKey != "jobs:test:cancelled" {
		t.Errorf("unexpected keys: %+v", q)
	}
}

func TestEntryStreamFields(t *testing.T) {
	e := Entry{JobID: "job-1", Attempt: 2, Payload: []byte(`{"job_id":"job-1"}`)}
	// Redis hands values back as strings
	raw := map[string]any{}
	for k, v := range e.values() {
		raw[k] = str(v)
	}
	got := parseEntry("1-0", raw)
	if got.MsgID != "1-0" || got.JobID != "job-1" || got.Attempt != 2 || !bytes.Equal(got.Payload, e.Payload) {
		t.Errorf("parseEntry = %+v", got)
	}

	empty := parseEntry("2-0", map[string]any{"other": "x"})
	if empty.Payload != nil || empty.Attempt != 0 {
		t.Errorf("entry without data = %+v", empty)
	}
}

func TestDelayedMember(t *testing.T) {
	a := Entry{JobID: "job-1", Attempt: 2, Payload: []byte(`{"job_id":"job-1","attempt":2}`)}
	b := a
	b.Attempt = 3
	ma, err := delayedMember(a)
	if err != nil {
		t.Fatal(err)
	}
	mb, _ := delayedMember(b)
	if ma == mb {
		t.Error("attempts of one job share a ZSET member")
	}
	back, err := parseDelayedMember(ma)
	if err != nil {
		t.Fatal(err)
	}
	if back.JobID != a.JobID || back.Attempt != a.Attempt || !bytes.Equal(back.Payload, a.Payload) {
		t.Errorf("parseDelayedMember = %+v", back)
	}
	if _, err := parseDelayedMember("not json"); err == nil {
		t.Error("garbage member parsed")
	}
}

func TestParseDeadLetter(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := parseDeadLetter("3-0", map[string]any{
		"job_id":    "job-9",
		"attempt":   "3",
		"data":      "{}",
		"reason":    string(ReasonRetriesExhausted),
		"detail":    "connection reset by peer",
		"failed_at": at.Format(time.RFC3339),
	})
	if d.JobID != "job-9" || d.Attempt != 3 || d.Reason != ReasonRetriesExhausted || !d.FailedAt.Equal(at) {
		t.Errorf("parseDeadLetter = %+v", d)
	}
}
