// Package output encodes accepted draws as training samples and writes them
// to local or object storage.
package output

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/local/viewsynth/internal/agent"
	"github.com/local/viewsynth/internal/sampling"
)

// Member names of the view set a sample is drawn from.
const (
	MemberInput = "input"
	MemberMask  = "mask"
)

// DefaultLabelThreshold is the per-class fraction used when turning an
// interpolated mask patch back into class indices.
const DefaultLabelThreshold = 0.5

// Sample is one accepted draw of a job.
type Sample struct {
	ID    string
	JobID string
	Index int

	Draw sampling.Draw

	Input agent.Patch
	Mask  *agent.Patch // nil when the job has no mask
}

// SampleID names sample index of a job. It is stable across attempts so a
// retried job overwrites what an earlier attempt wrote.
func SampleID(jobID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("viewsynth:%s/%d", jobID, index))).String()
}

// NewSample picks the input and mask patches out of d.
func NewSample(jobID string, index int, d sampling.Draw) (Sample, error) {
	in, ok := d.Patches.Get(MemberInput)
	if !ok {
		return Sample{}, fmt.Errorf("output: draw has no %q member", MemberInput)
	}
	s := Sample{ID: SampleID(jobID, index), JobID: jobID, Index: index, Draw: d, Input: in}
	if m, ok := d.Patches.Get(MemberMask); ok {
		s.Mask = &m
	}
	return s, nil
}

// Meta is the YAML sidecar written next to each sample.
type Meta struct {
	ID         string     `yaml:"id"`
	JobID      string     `yaml:"job_id"`
	Index      int        `yaml:"index"`
	ViewSize   int        `yaml:"view_size"`
	Center     [2]float64 `yaml:"center"` // row, col in the input frame
	Rotation   float64    `yaml:"rotation"`
	Zoom       float64    `yaml:"zoom"`
	Quadrant   int        `yaml:"quadrant"`
	Skew       float64    `yaml:"skew"`
	Attempts   int        `yaml:"attempts"`
	Dispersion float64    `yaml:"dispersion"`
	Classes    int        `yaml:"classes,omitempty"`
	Created    time.Time  `yaml:"created"`
}

// Meta returns the sidecar content of s.
func (s Sample) Meta() Meta {
	st := s.Draw.State
	m := Meta{
		ID:         s.ID,
		JobID:      s.JobID,
		Index:      s.Index,
		ViewSize:   s.Input.Size,
		Center:     [2]float64{st.Center.Y, st.Center.X},
		Rotation:   st.Rotation,
		Zoom:       st.Zoom,
		Quadrant:   s.Draw.Quadrant,
		Skew:       s.Draw.Skew,
		Attempts:   s.Draw.Attempts,
		Dispersion: s.Draw.Dispersion,
		Created:    time.Now().UTC(),
	}
	if s.Mask != nil {
		m.Classes = s.Mask.Channels
	}
	return m
}

// File is one encoded artifact of a sample.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Encode renders s as an input PNG, an optional class-index mask PNG and a
// YAML sidecar. File names share the prefix "<index>_<id>".
func (s Sample) Encode(labelThreshold float64) ([]File, error) {
	if labelThreshold <= 0 {
		labelThreshold = DefaultLabelThreshold
	}
	base := fmt.Sprintf("%06d_%s", s.Index, s.ID)

	in, err := encodePNG(patchImage(s.Input))
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	files := []File{{Name: base + ".png", ContentType: "image/png", Data: in}}

	if s.Mask != nil {
		mask, err := encodePNG(classImage(*s.Mask, labelThreshold))
		if err != nil {
			return nil, fmt.Errorf("encode mask: %w", err)
		}
		files = append(files, File{Name: base + "_mask.png", ContentType: "image/png", Data: mask})
	}

	meta, err := yaml.Marshal(s.Meta())
	if err != nil {
		return nil, fmt.Errorf("encode sidecar: %w", err)
	}
	files = append(files, File{Name: base + ".yaml", ContentType: "application/yaml", Data: meta})
	return files, nil
}

// patchImage converts a continuous patch into 8 bits per channel: one channel
// gives gray, three or four give RGB(A).
func patchImage(p agent.Patch) image.Image {
	rect := image.Rect(0, 0, p.Size, p.Size)
	if p.Channels < 3 {
		g := image.NewGray(rect)
		for i := 0; i < p.Size; i++ {
			for j := 0; j < p.Size; j++ {
				g.Pix[i*g.Stride+j] = clamp8(p.At(i, j, 0))
			}
		}
		return g
	}
	img := image.NewNRGBA(rect)
	for i := 0; i < p.Size; i++ {
		for j := 0; j < p.Size; j++ {
			c := color.NRGBA{R: clamp8(p.At(i, j, 0)), G: clamp8(p.At(i, j, 1)), B: clamp8(p.At(i, j, 2)), A: 255}
			if p.Channels > 3 {
				c.A = clamp8(p.At(i, j, 3))
			}
			img.SetNRGBA(j, i, c)
		}
	}
	return img
}

func classImage(p agent.Patch, frac float64) *image.Gray {
	idx := agent.ClassIndices(p, frac)
	g := image.NewGray(image.Rect(0, 0, p.Size, p.Size))
	for k, c := range idx {
		g.Pix[k] = uint8(c)
	}
	return g
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clamp8(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}
