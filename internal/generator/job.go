package generator

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/local/viewsynth/internal/queue"
	"github.com/local/viewsynth/internal/sampling"
)

// MaxSamples caps the draws of a single job.
const MaxSamples = 100000

// Job is the queue payload of one sample generation request.
type Job struct {
	JobID   string   `json:"job_id"`
	Source  string   `json:"source"`
	Mask    string   `json:"mask,omitempty"`
	Page    int      `json:"page,omitempty"`
	DPI     int      `json:"dpi,omitempty"`
	Classes int      `json:"classes,omitempty"`
	Samples int      `json:"samples"`
	Mode    string   `json:"mode,omitempty"`
	Skew    *float64 `json:"skew,omitempty"`
	Seed    int64    `json:"seed,omitempty"`
	Attempt int      `json:"attempt,omitempty"`
}

// ParseJob decodes and validates a queue payload.
func ParseJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, &ValidationError{Field: "payload", Message: err.Error()}
	}
	if err := j.Validate(); err != nil {
		return j, err
	}
	return j, nil
}

// Validate checks the fields that do not need the source to be loaded.
func (j Job) Validate() error {
	switch {
	case j.JobID == "":
		return &ValidationError{Field: "job_id", Message: "required"}
	case j.Source == "":
		return &ValidationError{Field: "source", Message: "required"}
	case j.Samples <= 0 || j.Samples > MaxSamples:
		return &ValidationError{Field: "samples", Message: fmt.Sprintf("must be in [1, %d]", MaxSamples)}
	case j.Page < 0:
		return &ValidationError{Field: "page", Message: "must not be negative"}
	case j.DPI < 0:
		return &ValidationError{Field: "dpi", Message: "must not be negative"}
	case j.Mask != "" && j.Classes < 2:
		return &ValidationError{Field: "classes", Message: "a mask needs at least 2 classes"}
	case j.Mask == "" && j.Classes != 0:
		return &ValidationError{Field: "classes", Message: "set without a mask"}
	}
	if _, err := sampling.ParseMode(j.Mode); err != nil {
		return &ValidationError{Field: "mode", Message: err.Error()}
	}
	if j.Skew != nil && (math.IsNaN(*j.Skew) || *j.Skew < 0 || *j.Skew >= 45) {
		return &ValidationError{Field: "skew", Message: "must be in [0, 45)"}
	}
	return nil
}

// Marshal encodes the job for the queue.
func (j Job) Marshal() []byte {
	b, _ := json.Marshal(j)
	return b
}

// Entry wraps the job for the queue.
func (j Job) Entry() queue.Entry {
	return queue.Entry{JobID: j.JobID, Attempt: j.Attempt, Payload: j.Marshal()}
}

// BaseSeed is Seed, or a value derived from the job id when Seed is unset,
// so that retries of a job draw the same samples.
func (j Job) BaseSeed() int64 {
	if j.Seed != 0 {
		return j.Seed
	}
	h := fnv.New64a()
	h.Write([]byte(j.JobID))
	return int64(h.Sum64() >> 1)
}
