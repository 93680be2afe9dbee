package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"charassets/netx"
	"charassets/prober"
	"charassets/scanstats"
)

// Prefix is prepended to every variable name below.
const Prefix = "CHARASSETS_"

const (
	ScanStatsBackendFile  = "file"
	ScanStatsBackendRedis = "redis"
)

// Config holds the pipeline settings. Object storage is configured separately
// through the OSS_* variables read by ossstore.NewFromEnv.
type Config struct {
	SmartDetection bool          `env:"SMART_DETECTION" envDefault:"true"`
	DataMirrors    []string      `env:"DATA_MIRRORS" envSeparator:","`
	PreferPrimary  bool          `env:"PREFER_PRIMARY" envDefault:"true"`
	LoadTimeout    time.Duration `env:"LOAD_TIMEOUT" envDefault:"10s"`
	LoadRetries    int           `env:"LOAD_RETRIES" envDefault:"2"`
	AssetSources   []string      `env:"ASSET_SOURCES" envSeparator:","`
	ProbeWorkers   int           `env:"PROBE_WORKERS" envDefault:"8"`
	ProbeRPS       float64       `env:"PROBE_RPS" envDefault:"0"`

	EarlyExitAfterFace int `env:"EARLY_EXIT_AFTER_FACE" envDefault:"2"`
	NPCThreshold       int `env:"NPC_THRESHOLD" envDefault:"20"`
	StableThreshold    int `env:"STABLE_THRESHOLD" envDefault:"5"`

	EnableFormatConversion bool   `env:"ENABLE_FORMAT_CONVERSION" envDefault:"false"`
	ConvertBin             string `env:"CONVERT_BIN" envDefault:"cwebp"`
	ConvertQuality         int    `env:"CONVERT_QUALITY" envDefault:"90"`
	CleanCacheAfterUpload  bool   `env:"CLEAN_CACHE_AFTER_UPLOAD" envDefault:"false"`
	FlushEvery             int    `env:"FLUSH_EVERY" envDefault:"10"`

	StateDir string `env:"STATE_DIR" envDefault:"./data"`
	CacheDir string `env:"CACHE_DIR" envDefault:"./cache"`

	ScanStatsBackend string        `env:"SCAN_STATS_BACKEND" envDefault:"file"`
	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	UploadStreamKey  string        `env:"UPLOAD_STREAM_KEY"`
	UploadStreamMax  int64         `env:"UPLOAD_STREAM_MAXLEN" envDefault:"100000"`
	LockTTL          time.Duration `env:"LOCK_TTL" envDefault:"2h"`

	PushgatewayURL string `env:"PROM_PUSHGATEWAY_URL"`
	MetricsAddr    string `env:"METRICS_ADDR"`
}

// Load parses the CHARASSETS_* environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DataMirrors = trimAll(c.DataMirrors)
	c.AssetSources = trimAll(c.AssetSources)
	c.ScanStatsBackend = strings.ToLower(strings.TrimSpace(c.ScanStatsBackend))
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	c.UploadStreamKey = strings.TrimSpace(c.UploadStreamKey)
	c.StateDir = strings.TrimSpace(c.StateDir)
	c.CacheDir = strings.TrimSpace(c.CacheDir)
}

func (c Config) Validate() error {
	switch c.ScanStatsBackend {
	case ScanStatsBackendFile, "":
	case ScanStatsBackendRedis:
		if c.RedisAddr == "" {
			return errors.New("SCAN_STATS_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown SCAN_STATS_BACKEND: %q", c.ScanStatsBackend)
	}
	if c.UploadStreamKey != "" && c.RedisAddr == "" {
		return errors.New("UPLOAD_STREAM_KEY requires REDIS_ADDR")
	}
	if c.StateDir == "" {
		return errors.New("STATE_DIR is empty")
	}
	if c.FlushEvery < 0 || c.LoadRetries < 0 || c.ProbeWorkers < 0 {
		return errors.New("FLUSH_EVERY, LOAD_RETRIES and PROBE_WORKERS must not be negative")
	}
	return nil
}

func (c Config) RedisEnabled() bool { return c.RedisAddr != "" }

func (c Config) ProberOptions() prober.Options {
	return prober.Options{
		SmartDetection:     c.SmartDetection,
		Workers:            c.ProbeWorkers,
		EarlyExitAfterFace: c.EarlyExitAfterFace,
	}
}

func (c Config) Thresholds() scanstats.Thresholds {
	return scanstats.Thresholds{NPC: c.NPCThreshold, Stable: c.StableThreshold}
}

func (c Config) LoadOptions() netx.LoadOptions {
	return netx.LoadOptions{PreferPrimary: c.PreferPrimary, Timeout: c.LoadTimeout, Retries: c.LoadRetries}
}

func (c Config) Sources() []netx.AssetSource { return netx.ParseAssetSources(c.AssetSources) }

func (c Config) ScanStatsPath() string     { return filepath.Join(c.StateDir, "scan_stats.json") }
func (c Config) UploadLedgerPath() string  { return filepath.Join(c.StateDir, "uploaded.json") }
func (c Config) FailureLedgerPath() string { return filepath.Join(c.StateDir, "failed.json") }
func (c Config) RegistryDir() string       { return filepath.Join(c.StateDir, "registry") }
func (c Config) LockPath() string          { return filepath.Join(c.StateDir, "charassets.lock") }

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
