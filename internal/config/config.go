// Package config provides configuration management for Mnemosyne. Settings
// load from environment variables with the MNEMO_ prefix, with sensible
// defaults, and may be overlaid from an optional YAML file for deployments
// that prefer files over environment blocks.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Mnemosyne core.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Access    AccessConfig    `yaml:"access"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	// Engine selects the backend: sqlite or postgres (default: sqlite).
	Engine string `yaml:"engine"`
	// DatabaseURL is the DSN; the sqlite:// prefix is stripped during
	// path resolution.
	DatabaseURL string `yaml:"database_url"`
	// DataPath overrides the OS user-data directory default.
	DataPath string `yaml:"data_path"`
}

// EmbeddingConfig contains embedding adapter configuration.
type EmbeddingConfig struct {
	// Dimension is the expected vector width (default: 384).
	Dimension int `yaml:"dimension"`
	// CacheDir is the local adapter's on-disk cache directory.
	CacheDir string `yaml:"cache_dir"`
	// Model names the embedding model for provenance.
	Model string `yaml:"model"`
	// APIKey authenticates a remote provider, when one is wired in.
	APIKey string `yaml:"api_key"`
}

// SchedulerConfig contains evolution framework configuration.
type SchedulerConfig struct {
	ImportanceInterval    time.Duration `yaml:"importance_interval"`
	LinkDecayInterval     time.Duration `yaml:"link_decay_interval"`
	ArchivalInterval      time.Duration `yaml:"archival_interval"`
	ConsolidationInterval time.Duration `yaml:"consolidation_interval"`
	BatchSize             int           `yaml:"batch_size"`
	MaxDuration           time.Duration `yaml:"max_duration"`
}

// AccessConfig contains access-control configuration.
type AccessConfig struct {
	// User identifies the operator; "human" enables admin mode.
	User string `yaml:"user"`
}

// Load builds the configuration from environment variables.
func Load() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:      getEnv("MNEMO_STORAGE_ENGINE", "sqlite"),
			DatabaseURL: getEnv("MNEMO_DATABASE_URL", ""),
			DataPath:    getEnv("MNEMO_DATA_PATH", ""),
		},
		Embedding: EmbeddingConfig{
			Dimension: getEnvInt("MNEMO_EMBEDDING_DIM", 384),
			CacheDir:  getEnv("MNEMO_EMBEDDING_CACHE_DIR", filepath.Join(".mnemosyne", "embeddings")),
			Model:     getEnv("MNEMO_EMBEDDING_MODEL", "fallback-hash-v1"),
			APIKey:    getEnv("MNEMO_EMBEDDING_API_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			ImportanceInterval:    getEnvDuration("MNEMO_SCHED_IMPORTANCE_INTERVAL", 24*time.Hour),
			LinkDecayInterval:     getEnvDuration("MNEMO_SCHED_LINKDECAY_INTERVAL", 24*time.Hour),
			ArchivalInterval:      getEnvDuration("MNEMO_SCHED_ARCHIVAL_INTERVAL", 24*time.Hour),
			ConsolidationInterval: getEnvDuration("MNEMO_SCHED_CONSOLIDATION_INTERVAL", 7*24*time.Hour),
			BatchSize:             getEnvInt("MNEMO_SCHED_BATCH_SIZE", 100),
			MaxDuration:           getEnvDuration("MNEMO_SCHED_MAX_DURATION", 5*time.Minute),
		},
		Access: AccessConfig{
			User: getEnv("MNEMO_USER", ""),
		},
	}
}

// LoadWithFile builds the configuration from the environment, then overlays
// non-zero values from a YAML file when path exists. A missing file is not
// an error; a malformed one is.
func LoadWithFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	mergeConfig(cfg, &overlay)
	return cfg, nil
}

// mergeConfig copies non-zero overlay fields onto base.
func mergeConfig(base, overlay *Config) {
	if overlay.Storage.Engine != "" {
		base.Storage.Engine = overlay.Storage.Engine
	}
	if overlay.Storage.DatabaseURL != "" {
		base.Storage.DatabaseURL = overlay.Storage.DatabaseURL
	}
	if overlay.Storage.DataPath != "" {
		base.Storage.DataPath = overlay.Storage.DataPath
	}
	if overlay.Embedding.Dimension != 0 {
		base.Embedding.Dimension = overlay.Embedding.Dimension
	}
	if overlay.Embedding.CacheDir != "" {
		base.Embedding.CacheDir = overlay.Embedding.CacheDir
	}
	if overlay.Embedding.Model != "" {
		base.Embedding.Model = overlay.Embedding.Model
	}
	if overlay.Embedding.APIKey != "" {
		base.Embedding.APIKey = overlay.Embedding.APIKey
	}
	if overlay.Scheduler.ImportanceInterval != 0 {
		base.Scheduler.ImportanceInterval = overlay.Scheduler.ImportanceInterval
	}
	if overlay.Scheduler.LinkDecayInterval != 0 {
		base.Scheduler.LinkDecayInterval = overlay.Scheduler.LinkDecayInterval
	}
	if overlay.Scheduler.ArchivalInterval != 0 {
		base.Scheduler.ArchivalInterval = overlay.Scheduler.ArchivalInterval
	}
	if overlay.Scheduler.ConsolidationInterval != 0 {
		base.Scheduler.ConsolidationInterval = overlay.Scheduler.ConsolidationInterval
	}
	if overlay.Scheduler.BatchSize != 0 {
		base.Scheduler.BatchSize = overlay.Scheduler.BatchSize
	}
	if overlay.Scheduler.MaxDuration != 0 {
		base.Scheduler.MaxDuration = overlay.Scheduler.MaxDuration
	}
	if overlay.Access.User != "" {
		base.Access.User = overlay.Access.User
	}
}

// projectLocalDB is the working-directory database probed during path
// resolution.
const projectLocalDB = ".mnemosyne/project.db"

// ResolveDatabasePath resolves the SQLite database path in precedence
// order: explicit argument, MNEMO_DATABASE_URL, DATABASE_URL (test
// harnesses, sqlite:// prefix stripped), a project-local .mnemosyne/
// database when present, and finally the OS user-data directory default.
func (c *Config) ResolveDatabasePath(explicit string) (string, error) {
	if explicit != "" {
		return stripSQLiteScheme(explicit), nil
	}
	if c.Storage.DatabaseURL != "" {
		return stripSQLiteScheme(c.Storage.DatabaseURL), nil
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return stripSQLiteScheme(url), nil
	}
	if _, err := os.Stat(projectLocalDB); err == nil {
		return projectLocalDB, nil
	}
	if c.Storage.DataPath != "" {
		return filepath.Join(c.Storage.DataPath, "project.db"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: cannot resolve user data directory: %w", err)
	}
	return filepath.Join(base, "mnemosyne", "project.db"), nil
}

func stripSQLiteScheme(url string) string {
	return strings.TrimPrefix(url, "sqlite://")
}

// getEnv retrieves an environment variable or returns the default.
func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or the default.
func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
