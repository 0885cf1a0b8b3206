package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"image-filter/internal/logging"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// Defaults for the browsing core. Cell geometry matches the thumbnail
// grid: a 120px thumbnail inside a 140x160 cell, six columns.
const (
	DefaultThumbSize          = 120
	DefaultCellWidth          = 140
	DefaultCellHeight         = 160
	DefaultColumns            = 6
	DefaultMarginRows         = 2
	DefaultPreloadCount       = 3
	DefaultMemoryCacheEntries = 1024
	DefaultMemoryCacheBytes   = 256 << 20 // 256 MiB
	DefaultDiskCacheBytes     = 1 << 30   // 1 GiB
	DefaultCheckpointInterval = time.Minute
)

// Config holds all tunables for a browsing session.
type Config struct {
	// SourceDir is the folder being browsed, DestDir the copy target.
	SourceDir string `yaml:"-"`
	DestDir   string `yaml:"-"`

	ThumbSize    int `yaml:"thumb_size"`
	CellWidth    int `yaml:"cell_width"`
	CellHeight   int `yaml:"cell_height"`
	Columns      int `yaml:"columns"`
	MarginRows   int `yaml:"margin_rows"`
	PreloadCount int `yaml:"preload_count"`

	MemoryCacheEntries int   `yaml:"memory_cache_entries"`
	MemoryCacheBytes   int64 `yaml:"memory_cache_bytes"`
	DiskCacheBytes     int64 `yaml:"disk_cache_bytes"`

	// CacheDir overrides the per-source cache directory.
	CacheDir string `yaml:"cache_dir"`

	// MetricsAddr enables the metrics/health listener when non-empty,
	// e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`

	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// Load assembles the configuration for a session over sourceDir. An
// optional YAML file named by IMAGE_FILTER_CONFIG is applied first, then
// environment variables override individual settings.
func Load(sourceDir, destDir string) (*Config, error) {
	cfg := &Config{
		SourceDir:          sourceDir,
		DestDir:            destDir,
		ThumbSize:          DefaultThumbSize,
		CellWidth:          DefaultCellWidth,
		CellHeight:         DefaultCellHeight,
		Columns:            DefaultColumns,
		MarginRows:         DefaultMarginRows,
		PreloadCount:       DefaultPreloadCount,
		MemoryCacheEntries: DefaultMemoryCacheEntries,
		MemoryCacheBytes:   DefaultMemoryCacheBytes,
		DiskCacheBytes:     DefaultDiskCacheBytes,
		CheckpointInterval: DefaultCheckpointInterval,
	}

	if path := os.Getenv("IMAGE_FILTER_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		logging.Info("Loaded config file: %s", path)
	}

	cfg.applyEnv()

	if cfg.CacheDir == "" {
		dir, err := CacheDirFor(sourceDir)
		if err != nil {
			return nil, err
		}
		cfg.CacheDir = dir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logging.Info("Configuration:")
	logging.Info("  source:            %s", cfg.SourceDir)
	logging.Info("  destination:       %s", cfg.DestDir)
	logging.Info("  cache dir:         %s", cfg.CacheDir)
	logging.Info("  thumbnail size:    %d", cfg.ThumbSize)
	logging.Info("  grid:              %d columns, %dx%d cells", cfg.Columns, cfg.CellWidth, cfg.CellHeight)
	logging.Info("  prefetch margin:   %d rows", cfg.MarginRows)
	logging.Info("  preload window:    %d images", cfg.PreloadCount)
	logging.Info("  memory cache:      %d entries / %d bytes", cfg.MemoryCacheEntries, cfg.MemoryCacheBytes)
	logging.Info("  disk cache:        %d bytes", cfg.DiskCacheBytes)

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() {
	c.ThumbSize = getEnvInt("THUMB_SIZE", c.ThumbSize)
	c.Columns = getEnvInt("GRID_COLUMNS", c.Columns)
	c.MarginRows = getEnvInt("PREFETCH_MARGIN_ROWS", c.MarginRows)
	c.PreloadCount = getEnvInt("PRELOAD_COUNT", c.PreloadCount)
	c.MemoryCacheEntries = getEnvInt("MEMORY_CACHE_ENTRIES", c.MemoryCacheEntries)
	c.MemoryCacheBytes = getEnvInt64("MEMORY_CACHE_BYTES", c.MemoryCacheBytes)
	c.DiskCacheBytes = getEnvInt64("DISK_CACHE_BYTES", c.DiskCacheBytes)

	if v := os.Getenv("CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("CHECKPOINT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.CheckpointInterval = d
		} else {
			logging.Warn("Invalid CHECKPOINT_INTERVAL %q, keeping %s", v, c.CheckpointInterval)
		}
	}
}

func (c *Config) validate() error {
	if c.ThumbSize < 16 {
		return fmt.Errorf("thumbnail size %d too small", c.ThumbSize)
	}
	if c.Columns < 1 {
		return fmt.Errorf("grid needs at least one column, got %d", c.Columns)
	}
	if c.MarginRows < 0 {
		return fmt.Errorf("prefetch margin must be non-negative, got %d", c.MarginRows)
	}
	if c.PreloadCount < 0 {
		return fmt.Errorf("preload count must be non-negative, got %d", c.PreloadCount)
	}
	return nil
}

// CacheDirFor returns the per-source cache directory under the user
// cache root. Distinct source folders get distinct directories.
func CacheDirFor(sourceDir string) (string, error) {
	abs, err := filepath.Abs(sourceDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve source path: %w", err)
	}
	root, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user cache directory: %w", err)
	}
	digest := xxhash.Sum64String(abs)
	return filepath.Join(root, "image-filter", fmt.Sprintf("%016x", digest)), nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logging.Warn("Invalid %s %q, keeping %d", key, v, fallback)
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		logging.Warn("Invalid %s %q, keeping %d", key, v, fallback)
	}
	return fallback
}
