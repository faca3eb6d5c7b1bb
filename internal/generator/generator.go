// Package generator turns sample jobs into synchronized training samples.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/viewsynth/internal/agent"
	"github.com/local/viewsynth/internal/config"
	"github.com/local/viewsynth/internal/metrics"
	"github.com/local/viewsynth/internal/output"
	"github.com/local/viewsynth/internal/pagesource"
	"github.com/local/viewsynth/internal/raster"
	"github.com/local/viewsynth/internal/sampling"
	"github.com/local/viewsynth/internal/viewset"
)

// Loader resolves page and mask references; *pagesource.Loader implements it.
type Loader interface {
	LoadPage(ctx context.Context, ref string, opts pagesource.Options) (*raster.Raster, error)
	LoadMask(ctx context.Context, ref string, classes int) (*raster.Raster, error)
}

// Config holds the parameters shared by all jobs.
type Config struct {
	ViewSize     int
	Policy       sampling.Config
	InputOptions []agent.Option
	MaskOptions  []agent.Option
	Shards       int
	DPI          int
}

// ConfigFrom resolves the sampler section of the service configuration.
func ConfigFrom(s config.SamplerConfig, shards int) (Config, error) {
	pc, err := s.Policy()
	if err != nil {
		return Config{}, err
	}
	in, err := s.InputOptions()
	if err != nil {
		return Config{}, err
	}
	mask, err := s.MaskOptions()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ViewSize:     s.ViewSize,
		Policy:       pc,
		InputOptions: in,
		MaskOptions:  mask,
		Shards:       shards,
		DPI:          s.DPI,
	}, nil
}

// NewSet builds the {input, mask} view set of one page. mask may be nil.
func (c Config) NewSet(page, mask *raster.Raster) (*viewset.Set, error) {
	members := []viewset.Member{{Name: output.MemberInput, Raster: page, Options: c.InputOptions}}
	if mask != nil {
		members = append(members, viewset.Member{Name: output.MemberMask, Raster: mask, Options: c.MaskOptions})
	}
	return viewset.New(c.ViewSize, members...)
}

// PolicyFor applies the per-job overrides to the base policy.
func (c Config) PolicyFor(job Job) (sampling.Config, error) {
	pc := c.Policy
	if job.Mode != "" {
		m, err := sampling.ParseMode(job.Mode)
		if err != nil {
			return pc, &ValidationError{Field: "mode", Message: err.Error()}
		}
		pc.Mode = m
	}
	if job.Skew != nil {
		pc.Skew = *job.Skew
	}
	if err := pc.Validate(); err != nil {
		return pc, &ValidationError{Field: "policy", Message: err.Error()}
	}
	return pc, nil
}

// Generator draws the samples of one job at a time.
type Generator struct {
	cfg    Config
	loader Loader
	sink   output.Sink
}

func New(cfg Config, loader Loader, sink output.Sink) *Generator {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	return &Generator{cfg: cfg, loader: loader, sink: sink}
}

// Process loads the job's page (and mask), then draws job.Samples samples
// split over shards. Shard k owns its own view set and a random source seeded
// with BaseSeed()+k, so output depends only on the job and the shard count.
// onSample, if set, is called after each write and may be called
// concurrently. The first failing shard cancels the others.
func (g *Generator) Process(ctx context.Context, job Job, onSample func(index int, location string)) error {
	pc, err := g.cfg.PolicyFor(job)
	if err != nil {
		return err
	}
	dpi := job.DPI
	if dpi == 0 {
		dpi = g.cfg.DPI
	}
	page, err := g.loader.LoadPage(ctx, job.Source, pagesource.Options{Page: job.Page, DPI: dpi})
	if err != nil {
		return fmt.Errorf("load page: %w", err)
	}
	var mask *raster.Raster
	if job.Mask != "" {
		if mask, err = g.loader.LoadMask(ctx, job.Mask, job.Classes); err != nil {
			return fmt.Errorf("load mask: %w", err)
		}
	}

	shards := g.cfg.Shards
	if shards > job.Samples {
		shards = job.Samples
	}
	log.Info().
		Str("job_id", job.JobID).
		Int("samples", job.Samples).
		Int("shards", shards).
		Str("mode", string(pc.Mode)).
		Msg("generating samples")

	sets := make([]*viewset.Set, shards)
	policies := make([]*sampling.Policy, shards)
	for k := range sets {
		if sets[k], err = g.cfg.NewSet(page, mask); err != nil {
			return err
		}
		if policies[k], err = sampling.New(pc, rand.New(rand.NewSource(job.BaseSeed()+int64(k)))); err != nil {
			return err
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	for k := 0; k < shards; k++ {
		shard := k
		eg.Go(func() error {
			for idx := shard; idx < job.Samples; idx += shards {
				if err := gctx.Err(); err != nil {
					return err
				}
				loc, err := g.drawOne(gctx, job, idx, sets[shard], policies[shard])
				if err != nil {
					return &ShardError{Shard: shard, Index: idx, Err: err}
				}
				if onSample != nil {
					onSample(idx, loc)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	metrics.IncSamples(string(pc.Mode), job.Samples)
	return nil
}

func (g *Generator) drawOne(ctx context.Context, job Job, idx int, set *viewset.Set, policy *sampling.Policy) (string, error) {
	start := time.Now()
	d, err := policy.Draw(set)
	if err != nil {
		if errors.Is(err, sampling.ErrSamplingExhausted) {
			metrics.IncExhausted()
		}
		return "", err
	}
	metrics.ObserveDraw(d.Attempts, time.Since(start))
	s, err := output.NewSample(job.JobID, idx, d)
	if err != nil {
		return "", err
	}
	return g.sink.Write(ctx, s)
}
