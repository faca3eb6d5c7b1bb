package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/local/viewsynth/internal/agent"
	"github.com/local/viewsynth/internal/sampling"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SAMPLER_CONFIG", "")
	t.Setenv("VIEW_SIZE", "")
	t.Setenv("WORKER_SHARDS", "")
	cfg := FromEnv()

	if cfg.Sampler.ViewSize != 128 {
		t.Errorf("ViewSize = %d, want 128", cfg.Sampler.ViewSize)
	}
	if cfg.Axiom.Dataset == "" || cfg.Queue.Stream == "" {
		t.Errorf("missing defaults: %+v %+v", cfg.Axiom, cfg.Queue)
	}
	pc, err := cfg.Sampler.Policy()
	if err != nil {
		t.Fatalf("Policy() error: %v", err)
	}
	if pc != sampling.DefaultConfig() {
		t.Errorf("Policy() = %+v, want %+v", pc, sampling.DefaultConfig())
	}
	if cfg.Worker.Shards != 4 || cfg.Worker.RetryBaseDelay != 2*time.Second || cfg.Worker.BreakerMaxBackoff != 5*time.Minute {
		t.Errorf("worker defaults = %+v", cfg.Worker)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SAMPLER_CONFIG", "")
	t.Setenv("VIEW_SIZE", "64")
	t.Setenv("SAMPLER_MODE", "aligned")
	t.Setenv("SKEW_DEGREES", "2.5")
	t.Setenv("JOB_TIMEOUT", "bogus")
	cfg := FromEnv()

	if cfg.Sampler.ViewSize != 64 {
		t.Errorf("ViewSize = %d, want 64", cfg.Sampler.ViewSize)
	}
	pc, err := cfg.Sampler.Policy()
	if err != nil {
		t.Fatalf("Policy() error: %v", err)
	}
	if pc.Mode != sampling.Aligned || pc.Skew != 2.5 {
		t.Errorf("Policy() = %+v", pc)
	}
	if cfg.Worker.JobTimeout != 10*time.Minute {
		t.Errorf("unparsable duration should fall back, got %v", cfg.Worker.JobTimeout)
	}
}

func TestSamplerProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	body := "sampler:\n  view_size: 96\n  zoom_min: -2\n  min_dispersion: 12.5\n  mask_mode: bilinear\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SAMPLER_CONFIG", path)
	t.Setenv("VIEW_SIZE", "")
	cfg := FromEnv()

	if cfg.Sampler.ViewSize != 96 || cfg.Sampler.ZoomMin != -2 || cfg.Sampler.MinDispersion != 12.5 {
		t.Errorf("profile not applied: %+v", cfg.Sampler)
	}
	if cfg.Sampler.ZoomMax != sampling.DefaultConfig().ZoomMax {
		t.Errorf("keys absent from the profile must keep defaults, ZoomMax = %v", cfg.Sampler.ZoomMax)
	}
	opts, err := cfg.Sampler.MaskOptions()
	if err != nil || len(opts) != 1 {
		t.Fatalf("MaskOptions() = %v, %v", opts, err)
	}
}

func TestBiasOptions(t *testing.T) {
	tests := []struct {
		bias    string
		wantErr bool
	}{
		{"derive", false},
		{"", false},
		{"255", false},
		{"-1.5", false},
		{"white", true},
	}
	for _, tt := range tests {
		_, err := SamplerConfig{Bias: tt.bias}.InputOptions()
		if (err != nil) != tt.wantErr {
			t.Errorf("InputOptions(%q) error = %v, wantErr %v", tt.bias, err, tt.wantErr)
		}
	}
	if _, err := (SamplerConfig{MaskMode: "cubic"}).MaskOptions(); err == nil {
		t.Error("MaskOptions accepted an unknown mode")
	}
	if _, ok := agent.ParseMode("nearest"); !ok {
		t.Error("nearest must parse")
	}
}
