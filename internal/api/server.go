// Package api exposes job submission and status over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/local/viewsynth/internal/generator"
	"github.com/local/viewsynth/internal/metrics"
	"github.com/local/viewsynth/internal/queue"
	"github.com/local/viewsynth/internal/statuscheck"
	"github.com/local/viewsynth/internal/store"
)

type Queue interface {
	Enqueue(ctx context.Context, e queue.Entry) error
	CancelJob(ctx context.Context, jobID string) error
	DeadLetters(ctx context.Context, count int64) ([]queue.DeadLetter, error)
	Ping(ctx context.Context) error
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
	Samples(ctx context.Context, jobID string) ([]string, error)
}

// Checker is satisfied by *statuscheck.Checker.
type Checker interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Server struct {
	q       Queue
	status  StatusStore
	checker Checker
}

func New(q Queue, status StatusStore) *Server {
	return &Server{q: q, status: status}
}

// WithChecker enables GET /status.
func (s *Server) WithChecker(c Checker) *Server {
	s.checker = c
	return s
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleDependencies).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/jobs", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/samples", s.handleSamples).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/dlq", s.handleDeadLetters).Methods(http.MethodGet)
	return r
}

type createReq struct {
	Source  string   `json:"source"`
	Mask    string   `json:"mask"`
	Page    int      `json:"page"`
	DPI     int      `json:"dpi"`
	Classes int      `json:"classes"`
	Samples int      `json:"samples"`
	Mode    string   `json:"mode"`
	Skew    *float64 `json:"skew"`
	Seed    int64    `json:"seed"`
}

type createResp struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.q.Ping(ctx); err != nil {
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		http.Error(w, "status checks disabled", http.StatusNotFound)
		return
	}
	sum := s.checker.Summary(r.Context())
	code := http.StatusOK
	if !sum.OK() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req createReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	job := generator.Job{
		JobID:   uuid.NewString(),
		Source:  req.Source,
		Mask:    req.Mask,
		Page:    req.Page,
		DPI:     req.DPI,
		Classes: req.Classes,
		Samples: req.Samples,
		Mode:    req.Mode,
		Skew:    req.Skew,
		Seed:    req.Seed,
		Attempt: 1,
	}
	if err := job.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	_ = s.status.Set(r.Context(), job.JobID, store.Status{
		Status: store.StatusQueued, Message: "queued", Attempts: job.Attempt, Start: &start,
		Metadata: map[string]any{"source": job.Source, "mask": job.Mask, "samples": job.Samples},
	})
	// the status exists before any worker can see the job
	if err := s.q.Enqueue(r.Context(), job.Entry()); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("enqueue failed")
		end := time.Now()
		_ = s.status.Set(r.Context(), job.JobID, store.Status{
			Status: store.StatusFailed, Message: "enqueue failed: " + err.Error(),
			Attempts: job.Attempt, Start: &start, End: &end,
		})
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Info().Str("job_id", job.JobID).Str("source", job.Source).Int("samples", job.Samples).Msg("job created")

	writeJSON(w, http.StatusCreated, createResp{Status: "ok", JobID: job.JobID, Message: "sample job created"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, ok, err := s.status.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok, err := s.status.Get(r.Context(), id); err != nil || !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	locs, err := s.status.Samples(r.Context(), id)
	if err != nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "samples": locs})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, ok, err := s.status.Get(r.Context(), id)
	switch {
	case err != nil:
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	case !ok:
		http.Error(w, "job not found", http.StatusNotFound)
		return
	case st.Terminal():
		http.Error(w, "job already "+st.Status, http.StatusConflict)
		return
	}
	if err := s.q.CancelJob(r.Context(), id); err != nil {
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Info().Str("job_id", id).Msg("job cancel requested")
	writeJSON(w, http.StatusAccepted, createResp{Status: "ok", JobID: id, Message: "cancel requested"})
}

type deadLetterResp struct {
	MsgID    string          `json:"msg_id"`
	JobID    string          `json:"job_id"`
	Attempt  int             `json:"attempt"`
	Reason   queue.Reason    `json:"reason"`
	Detail   string          `json:"detail"`
	FailedAt time.Time       `json:"failed_at"`
	Job      json.RawMessage `json:"job,omitempty"`
}

// handleDeadLetters lists the newest DLQ records; ?count= caps them (default 50).
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	count := int64(50)
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "count must be in [1, 1000]", http.StatusBadRequest)
			return
		}
		count = n
	}
	dls, err := s.q.DeadLetters(r.Context(), count)
	if err != nil {
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	out := make([]deadLetterResp, 0, len(dls))
	for _, d := range dls {
		resp := deadLetterResp{
			MsgID: d.MsgID, JobID: d.JobID, Attempt: d.Attempt,
			Reason: d.Reason, Detail: d.Detail, FailedAt: d.FailedAt,
		}
		if json.Valid(d.Payload) {
			resp.Job = d.Payload
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
