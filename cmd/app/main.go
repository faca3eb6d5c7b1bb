package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/viewsynth/internal/api"
	cfgpkg "github.com/local/viewsynth/internal/config"
	"github.com/local/viewsynth/internal/generator"
	logpkg "github.com/local/viewsynth/internal/logger"
	"github.com/local/viewsynth/internal/metrics"
	"github.com/local/viewsynth/internal/output"
	"github.com/local/viewsynth/internal/pagesource"
	"github.com/local/viewsynth/internal/queue"
	"github.com/local/viewsynth/internal/statuscheck"
	"github.com/local/viewsynth/internal/storage"
	"github.com/local/viewsynth/internal/store"
)

func main() {
	cfg := cfgpkg.FromEnv()

	_ = logpkg.Init(logpkg.FromConfig(cfg))
	defer logpkg.Close()
	metrics.Init()

	genCfg, err := generator.ConfigFrom(cfg.Sampler, cfg.Worker.Shards)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid sampler configuration")
	}

	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()

	rs, err := store.NewRedisStatus(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init redis status store")
	}
	defer rs.Close()

	ctx := context.Background()
	s3opts := storage.OptionsFromEnv(cfg.Storage.S3Region, cfg.Storage.S3Endpoint)
	sinks := output.MultiSink{&output.LocalSink{Dir: cfg.Storage.OutputDir, LabelThreshold: cfg.Sampler.LabelThreshold}}
	var s3c *storage.S3Client
	if cfg.Storage.S3Bucket != "" {
		s3c, err = storage.NewS3Client(ctx, s3opts)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init s3 client")
		}
		// S3 first: MultiSink reports the first sink's location
		sinks = append(output.MultiSink{&output.S3Sink{
			Client:         s3c,
			Bucket:         cfg.Storage.S3Bucket,
			Prefix:         cfg.Storage.S3Prefix,
			LabelThreshold: cfg.Sampler.LabelThreshold,
		}}, sinks...)
	}

	gen := generator.New(genCfg, pagesource.New(s3c, s3opts), sinks)
	host, _ := os.Hostname()
	worker := generator.NewWorker(generator.WorkerConfig{
		Concurrency:        cfg.Worker.Concurrency,
		Consumer:           host,
		JobTimeout:         cfg.Worker.JobTimeout,
		JobMaxAttempts:     cfg.Worker.JobMaxAttempts,
		RetryBaseDelay:     cfg.Worker.RetryBaseDelay,
		RetryJitter:        cfg.Worker.RetryJitter,
		RetryBackoffFactor: cfg.Worker.RetryBackoffFactor,
	}, rq, rs, gen)
	breaker := rs.Breaker("dependencies", cfg.Worker.BreakerBaseBackoff, cfg.Worker.BreakerMaxBackoff)
	worker.WithBreaker(breaker)

	runWorker := os.Getenv("RUN_WORKER")
	if runWorker == "" || runWorker == "1" || runWorker == "true" {
		worker.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := worker.Stop(sctx); err != nil {
				log.Warn().Err(err).Msg("workers did not stop in time")
			}
		}()
	}

	stopDepth := make(chan struct{})
	go reportQueueDepth(rq, stopDepth)
	defer close(stopDepth)

	checkOpts := statuscheck.Options{Redis: rq, S3Bucket: cfg.Storage.S3Bucket, Breaker: breaker}
	if s3c != nil {
		checkOpts.S3 = s3c
	}
	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: api.New(rq, rs).WithChecker(statuscheck.New(checkOpts)).Router(),
	}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(sctx)
	fmt.Println("shutdown complete")
}

func reportQueueDepth(rq *queue.RedisQueue, stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			stream, delayed, dlq, err := rq.Depths(ctx)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("queue depth read failed")
				continue
			}
			metrics.SetQueueDepth("stream", stream)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("dlq", dlq)
		}
	}
}
