// Command sampleviews draws synchronized page/mask training samples into a
// local directory.
//
//	sampleviews [flags] <page> <mask|-> <outdir>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/unixpickle/essentials"

	cfgpkg "github.com/local/viewsynth/internal/config"
	"github.com/local/viewsynth/internal/generator"
	logpkg "github.com/local/viewsynth/internal/logger"
	"github.com/local/viewsynth/internal/output"
	"github.com/local/viewsynth/internal/pagesource"
	"github.com/local/viewsynth/internal/raster"
	"github.com/local/viewsynth/internal/sampling"
	"github.com/local/viewsynth/internal/storage"
)

func main() {
	cfg := cfgpkg.FromEnv()

	var (
		count    int
		classes  int
		page     int
		seed     int64
		fallback bool
	)
	flag.IntVar(&count, "n", 100, "number of samples")
	flag.IntVar(&classes, "classes", 2, "number of mask classes")
	flag.IntVar(&page, "page", 1, "PDF page number")
	flag.Int64Var(&seed, "seed", 1, "base random seed; sample i uses seed+i")
	flag.BoolVar(&fallback, "fallback", false, "render the default state when sampling is exhausted")
	flag.IntVar(&cfg.Sampler.ViewSize, "size", cfg.Sampler.ViewSize, "output side in pixels")
	flag.IntVar(&cfg.Sampler.DPI, "dpi", cfg.Sampler.DPI, "PDF render resolution")
	flag.StringVar(&cfg.Sampler.Mode, "mode", cfg.Sampler.Mode, "sampler mode: free or aligned")
	flag.Float64Var(&cfg.Sampler.Skew, "skew", cfg.Sampler.Skew, "maximum skew in degrees (aligned mode)")
	flag.Float64Var(&cfg.Sampler.MinDispersion, "min-dispersion", cfg.Sampler.MinDispersion, "minimum input standard deviation")
	flag.Float64Var(&cfg.Sampler.ZoomMin, "zoom-min", cfg.Sampler.ZoomMin, "minimum zoom (log2)")
	flag.Float64Var(&cfg.Sampler.ZoomMax, "zoom-max", cfg.Sampler.ZoomMax, "maximum zoom (log2)")
	flag.Float64Var(&cfg.Sampler.ZoomMode, "zoom-mode", cfg.Sampler.ZoomMode, "most likely zoom (log2)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: sampleviews [flags] <page> <mask|-> <outdir>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 3 {
		flag.Usage()
		os.Exit(2)
	}
	pageRef, maskRef, outDir := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	opts := logpkg.FromConfig(cfg)
	opts.File = ""
	opts.Pretty = true
	opts.Console = os.Stderr
	essentials.Must(logpkg.Init(opts))
	defer logpkg.Close()

	genCfg, err := generator.ConfigFrom(cfg.Sampler, 1)
	essentials.Must(err)

	ctx := context.Background()
	loader := pagesource.New(nil, storage.OptionsFromEnv(cfg.Storage.S3Region, cfg.Storage.S3Endpoint))
	pageRaster, err := loader.LoadPage(ctx, pageRef, pagesource.Options{Page: page, DPI: cfg.Sampler.DPI})
	essentials.Must(err)
	var maskRaster *raster.Raster
	if maskRef != "-" {
		maskRaster, err = loader.LoadMask(ctx, maskRef, classes)
		essentials.Must(err)
	}

	jobID := "cli-" + uuid.NewString()[:8]
	sink := &output.LocalSink{Dir: outDir, LabelThreshold: cfg.Sampler.LabelThreshold}

	var mu sync.Mutex
	var failed []error
	essentials.ConcurrentMap(0, count, func(i int) {
		err := drawSample(ctx, genCfg, pageRaster, maskRaster, jobID, i, seed+int64(i), fallback, sink)
		if err != nil {
			mu.Lock()
			failed = append(failed, fmt.Errorf("sample %d: %w", i, err))
			mu.Unlock()
		}
	})

	for _, err := range failed {
		log.Error().Err(err).Msg("sample failed")
	}
	log.Info().
		Str("job_id", jobID).
		Int("written", count-len(failed)).
		Int("failed", len(failed)).
		Str("dir", outDir).
		Msg("done")
	if len(failed) > 0 {
		os.Exit(1)
	}
}

// drawSample owns its view set and policy, so calls may run concurrently.
func drawSample(ctx context.Context, cfg generator.Config, page, mask *raster.Raster, jobID string, index int,
	seed int64, fallback bool, sink output.Sink) error {
	set, err := cfg.NewSet(page, mask)
	if err != nil {
		return err
	}
	policy, err := sampling.New(cfg.Policy, rand.New(rand.NewSource(seed)))
	if err != nil {
		return err
	}
	d, err := policy.Draw(set)
	if errors.Is(err, sampling.ErrSamplingExhausted) && fallback {
		log.Warn().Err(err).Int("sample", index).Msg("using default state")
		p, rerr := set.RenderState(policy.DefaultState(set.Reference()))
		if rerr != nil {
			return rerr
		}
		d, err = sampling.Draw{Patches: p}, nil
	}
	if err != nil {
		return err
	}
	s, err := output.NewSample(jobID, index, d)
	if err != nil {
		return err
	}
	_, err = sink.Write(ctx, s)
	return err
}
