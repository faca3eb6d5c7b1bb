package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitWritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Options{Level: "info", Console: &buf}); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	defer Close()

	log.Debug().Msg("hidden")
	log.Info().Int("samples", 3).Msg("job done")

	var ev map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if ev["service"] != service || ev["message"] != "job done" || ev["samples"] != float64(3) {
		t.Errorf("unexpected event %v", ev)
	}
}

func TestInitBadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Options{Level: "loud", Console: &buf}); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	defer Close()
	Get().Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line written at fallback level: %q", buf.String())
	}
}

func TestForJobTagsLines(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Options{Level: "info", Console: &buf}); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	defer Close()

	ForJob("job-7", 2).Warn().Msg("job retry scheduled")

	var ev map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("bad line %q: %v", buf.String(), err)
	}
	if ev["job_id"] != "job-7" || ev["attempt"] != float64(2) || ev["service"] != service {
		t.Errorf("unexpected event %v", ev)
	}
}

func TestAxiomWriterLevelFilter(t *testing.T) {
	w := &axiomWriter{minLevel: zerolog.WarnLevel}
	tests := []struct {
		line string
		send bool
	}{
		{`{"level":"debug","message":"draw rejected"}`, false},
		{`{"level":"info","message":"job completed"}`, false},
		{`{"level":"warn","message":"job retry scheduled"}`, true},
		{`{"level":"error","message":"job failed"}`, true},
		{`not json`, false},
	}
	for _, tt := range tests {
		ev, ok := w.event([]byte(tt.line))
		if ok != tt.send {
			t.Errorf("event(%s) sent = %v, want %v", tt.line, ok, tt.send)
			continue
		}
		if ok && ev["service"] != service {
			t.Errorf("event(%s) missing service: %v", tt.line, ev)
		}
	}

	w.minLevel = parseLevel("", zerolog.InfoLevel)
	if _, ok := w.event([]byte("plain text")); !ok {
		t.Error("unparsable line at info should be forwarded at the default level")
	}
}
