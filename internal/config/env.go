package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/local/viewsynth/internal/agent"
	"github.com/local/viewsynth/internal/sampling"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
	Level         string
}

// SamplerConfig holds the view and policy parameters. Field tags are the keys
// of the optional YAML profile.
type SamplerConfig struct {
	ViewSize       int     `mapstructure:"view_size"`
	Bias           string  `mapstructure:"bias"` // "derive" or a number
	MaskMode       string  `mapstructure:"mask_mode"`
	LabelThreshold float64 `mapstructure:"label_threshold"`
	Mode           string  `mapstructure:"mode"`
	ZoomMin        float64 `mapstructure:"zoom_min"`
	ZoomMax        float64 `mapstructure:"zoom_max"`
	ZoomMode       float64 `mapstructure:"zoom_mode"`
	Skew           float64 `mapstructure:"skew"`
	MinDispersion  float64 `mapstructure:"min_dispersion"`
	MaxRetries     int     `mapstructure:"max_retries"`
	CenterSpread   float64 `mapstructure:"center_spread"`
	DPI            int     `mapstructure:"dpi"`
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
	Concurrency        int
	Shards             int
	JobTimeout         time.Duration
	JobMaxAttempts     int
	RetryBaseDelay     time.Duration
	RetryJitter        time.Duration
	RetryBackoffFactor float64
	BreakerBaseBackoff time.Duration
	BreakerMaxBackoff  time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// StorageConfig selects where samples are written.
type StorageConfig struct {
	OutputDir  string
	S3Bucket   string
	S3Prefix   string
	S3Endpoint string
	S3Region   string
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Sampler SamplerConfig
	Worker  WorkerConfig
	Queue   QueueConfig
	Storage StorageConfig
	HTTP    HTTPConfig
}

// FromEnv loads configuration from environment with sensible defaults. A .env
// file in the working directory is read first if present; a YAML profile
// named by SAMPLER_CONFIG overrides the sampler section.
func FromEnv() Config {
	_ = godotenv.Load()

	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/viewsynth.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_viewsynth",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
		Level:         getEnv("AXIOM_LEVEL", "info"),
	}

	// Sampler defaults
	def := sampling.DefaultConfig()
	cfg.Sampler = SamplerConfig{
		ViewSize:       parseInt(getEnv("VIEW_SIZE", "128"), 128),
		Bias:           getEnv("VIEW_BIAS", "derive"),
		MaskMode:       getEnv("MASK_INTERPOLATION", "nearest"),
		LabelThreshold: parseFloat(getEnv("LABEL_THRESHOLD", "0.5"), 0.5),
		Mode:           getEnv("SAMPLER_MODE", string(def.Mode)),
		ZoomMin:        parseFloat(getEnv("ZOOM_MIN", ""), def.ZoomMin),
		ZoomMax:        parseFloat(getEnv("ZOOM_MAX", ""), def.ZoomMax),
		ZoomMode:       parseFloat(getEnv("ZOOM_MODE", ""), def.ZoomMode),
		Skew:           parseFloat(getEnv("SKEW_DEGREES", ""), def.Skew),
		MinDispersion:  parseFloat(getEnv("MIN_DISPERSION", ""), def.MinDispersion),
		MaxRetries:     parseInt(getEnv("SAMPLER_MAX_RETRIES", ""), def.MaxRetries),
		CenterSpread:   parseFloat(getEnv("CENTER_SPREAD", ""), def.CenterSpread),
		DPI:            parseInt(getEnv("RENDER_DPI", "150"), 150),
	}
	if path := getEnv("SAMPLER_CONFIG", ""); path != "" {
		if err := loadSamplerProfile(path, &cfg.Sampler); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("sampler profile ignored")
		}
	}

	// Worker defaults
	cfg.Worker = WorkerConfig{
		Concurrency:        parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
		Shards:             parseInt(getEnv("WORKER_SHARDS", "4"), 4),
		JobTimeout:         parseDuration(getEnv("JOB_TIMEOUT", "10m"), 10*time.Minute),
		JobMaxAttempts:     parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		RetryBaseDelay:     parseDuration(getEnv("RETRY_BASE_DELAY", "2s"), 2*time.Second),
		RetryJitter:        parseDuration(getEnv("RETRY_JITTER", "200ms"), 200*time.Millisecond),
		RetryBackoffFactor: parseFloat(getEnv("RETRY_BACKOFF_FACTOR", "2.0"), 2.0),
		BreakerBaseBackoff: parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMaxBackoff:  parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	// Queue defaults
	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:viewsynth:samples"),
		Group:        getEnv("QUEUE_GROUP", "workers:samplers"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
	}

	cfg.Storage = StorageConfig{
		OutputDir:  getEnv("OUTPUT_DIR", "samples"),
		S3Bucket:   getEnv("AWS_S3_BUCKET", ""),
		S3Prefix:   getEnv("AWS_S3_PREFIX", "viewsynth"),
		S3Endpoint: getEnv("AWS_S3_ENDPOINT", ""),
		S3Region:   getEnv("AWS_REGION", ""),
	}

	cfg.HTTP = HTTPConfig{
		Port:            getEnv("PORT", "8080"),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
	}

	return cfg
}

// loadSamplerProfile overlays the keys present in a YAML file onto s.
func loadSamplerProfile(path string, s *SamplerConfig) error {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	if err := vp.ReadInConfig(); err != nil {
		return err
	}
	if vp.IsSet("sampler") {
		vp = vp.Sub("sampler")
	}
	return vp.Unmarshal(s)
}

// Policy converts the sampler section into a sampling configuration.
func (s SamplerConfig) Policy() (sampling.Config, error) {
	mode, err := sampling.ParseMode(s.Mode)
	if err != nil {
		return sampling.Config{}, err
	}
	c := sampling.Config{
		Mode:          mode,
		ZoomMin:       s.ZoomMin,
		ZoomMax:       s.ZoomMax,
		ZoomMode:      s.ZoomMode,
		Skew:          s.Skew,
		MinDispersion: s.MinDispersion,
		MaxRetries:    s.MaxRetries,
		CenterSpread:  s.CenterSpread,
	}
	return c, c.Validate()
}

// InputOptions returns the view options of the input member.
func (s SamplerConfig) InputOptions() ([]agent.Option, error) {
	b := strings.ToLower(strings.TrimSpace(s.Bias))
	if b == "" || b == "derive" || b == "derived" {
		return []agent.Option{agent.WithDerivedBias()}, nil
	}
	v, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return nil, fmt.Errorf("config: bias %q is neither \"derive\" nor a number", s.Bias)
	}
	return []agent.Option{agent.WithBias(v)}, nil
}

// MaskOptions returns the view options of the mask member.
func (s SamplerConfig) MaskOptions() ([]agent.Option, error) {
	m, ok := agent.ParseMode(s.MaskMode)
	if !ok {
		return nil, fmt.Errorf("config: unknown mask interpolation %q", s.MaskMode)
	}
	return []agent.Option{agent.WithMode(m)}, nil
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
