package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for the adbatch binaries. Values
// load from a YAML file first; ADBATCH_* environment variables override the
// file so deployments can tweak one knob without editing it.
type Config struct {
	// Remote API.
	BaseURL     string        `yaml:"base_url"`
	AccessToken string        `yaml:"access_token"`
	UserAgent   string        `yaml:"user_agent"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// Operation log DSN: a file path, memory://, or postgres://.
	OplogDSN string `yaml:"oplog_dsn"`

	// Submission.
	Workers       int           `yaml:"workers"`
	ChunkSize     int           `yaml:"chunk_size"`
	SyncBatchSize int           `yaml:"sync_batch_size"`
	PollBaseDelay time.Duration `yaml:"poll_base_delay"`
	PollMaxDelay  time.Duration `yaml:"poll_max_delay"`

	// Status surface.
	StatusAddr string `yaml:"status_addr"`

	// Spool ingestion.
	SpoolDir string `yaml:"spool_dir"`
}

// Default returns the configuration used when neither file nor environment
// say otherwise.
func Default() Config {
	return Config{
		BaseURL:       "",
		UserAgent:     "adbatch",
		HTTPTimeout:   60 * time.Second,
		OplogDSN:      "adbatch-oplog.json",
		Workers:       4,
		ChunkSize:     5000,
		SyncBatchSize: 1000,
		PollBaseDelay: 15 * time.Second,
		PollMaxDelay:  4 * time.Minute,
		StatusAddr:    ":8090",
		SpoolDir:      "spool",
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and applies environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BaseURL = stringEnv("ADBATCH_BASE_URL", c.BaseURL)
	c.AccessToken = stringEnv("ADBATCH_ACCESS_TOKEN", c.AccessToken)
	c.UserAgent = stringEnv("ADBATCH_USER_AGENT", c.UserAgent)
	c.HTTPTimeout = durationEnv("ADBATCH_HTTP_TIMEOUT", c.HTTPTimeout)
	c.OplogDSN = stringEnv("ADBATCH_OPLOG_DSN", c.OplogDSN)
	c.Workers = intEnv("ADBATCH_WORKERS", c.Workers)
	c.ChunkSize = intEnv("ADBATCH_CHUNK_SIZE", c.ChunkSize)
	c.SyncBatchSize = intEnv("ADBATCH_SYNC_BATCH_SIZE", c.SyncBatchSize)
	c.PollBaseDelay = durationEnv("ADBATCH_POLL_BASE_DELAY", c.PollBaseDelay)
	c.PollMaxDelay = durationEnv("ADBATCH_POLL_MAX_DELAY", c.PollMaxDelay)
	c.StatusAddr = stringEnv("ADBATCH_STATUS_ADDR", c.StatusAddr)
	c.SpoolDir = stringEnv("ADBATCH_SPOOL_DIR", c.SpoolDir)
}

func stringEnv(name, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return raw
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}
