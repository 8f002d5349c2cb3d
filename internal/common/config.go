package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Paths       PathsConfig     `toml:"paths"`
	Worker      WorkerConfig    `toml:"worker"`
	Elevation   ElevationConfig `toml:"elevation"`
	Render      RenderConfig    `toml:"render"`
	Retention   RetentionConfig `toml:"retention"`
	Relay       RelayConfig     `toml:"relay"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port            int           `toml:"port"`
	Host            string        `toml:"host"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	MaxUploadMB     int64         `toml:"max_upload_mb"`
}

// StorageConfig selects the job store backend
type StorageConfig struct {
	Type   string       `toml:"type"` // "sqlite" or "badger"
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	WALMode       bool   `toml:"wal_mode"`
	CacheSizeMB   int    `toml:"cache_size_mb"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// PathsConfig holds the application data directories
type PathsConfig struct {
	DataDir   string `toml:"data_dir"`
	CacheDir  string `toml:"cache_dir"`  // Generated PDFs
	UploadDir string `toml:"upload_dir"` // Per-request uploaded imagery
	TempDir   string `toml:"temp_dir"`   // Parent of per-job tile sets, empty = os.TempDir()
}

// WorkerConfig controls how generation jobs are dispatched
type WorkerConfig struct {
	Mode          string        `toml:"mode"`       // "process" or "inprocess"
	Executable    string        `toml:"executable"` // Empty = current executable
	MaxConcurrent int           `toml:"max_concurrent"`
	QueueWait     time.Duration `toml:"queue_wait"`
}

// ElevationConfig describes the remote elevation catalog
type ElevationConfig struct {
	BaseURL          string        `toml:"base_url"`
	ListPath         string        `toml:"list_path"`
	DownloadPath     string        `toml:"download_path"`
	DatasetID        int           `toml:"dataset_id"`
	LiveZoom         float64       `toml:"live_zoom"` // Zoom at or above which live elevation data is fetched
	ListTimeout      time.Duration `toml:"list_timeout"`
	DownloadTimeout  time.Duration `toml:"download_timeout"`
	MaxRetries       int           `toml:"max_retries"`
	RetryBackoff     time.Duration `toml:"retry_backoff"`
	ChunkSize        int           `toml:"chunk_size"`
	ProgressInterval time.Duration `toml:"progress_interval"`
	RasterSuffixes   []string      `toml:"raster_suffixes"`
}

// RenderConfig controls PDF composition
type RenderConfig struct {
	MaxRasterPixels int       `toml:"max_raster_pixels"`
	MinStationZoom  float64   `toml:"min_station_zoom"`
	OverviewBounds  []float64 `toml:"overview_bounds"` // west, south, east, north
}

// RetentionConfig controls expiry of finished jobs and unclaimed output
type RetentionConfig struct {
	Enabled  bool          `toml:"enabled"`
	Schedule string        `toml:"schedule"`
	MaxAge   time.Duration `toml:"max_age"`
}

type RelayConfig struct {
	PollInterval time.Duration `toml:"poll_interval"`
	PingTimeout  time.Duration `toml:"ping_timeout"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// NewDefaultConfig returns the configuration used when no file overrides a value
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:            5000,
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
			MaxUploadMB:     256,
		},
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path:          "./data/jobs.db",
				BusyTimeoutMS: 5000,
				WALMode:       true,
				CacheSizeMB:   16,
			},
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
		},
		Paths: PathsConfig{
			DataDir:   "./data",
			CacheDir:  "./data/cache",
			UploadDir: "./data/uploads",
		},
		Worker: WorkerConfig{
			Mode:          "process",
			MaxConcurrent: 4,
			QueueWait:     30 * time.Second,
		},
		Elevation: ElevationConfig{
			BaseURL:          "https://elevation.alaska.gov",
			ListPath:         "/query.json",
			DownloadPath:     "/download",
			DatasetID:        151, // DSM hillshade
			LiveZoom:         10,
			ListTimeout:      30 * time.Second,
			DownloadTimeout:  30 * time.Minute,
			MaxRetries:       3,
			RetryBackoff:     2 * time.Second,
			ChunkSize:        10 * 1024 * 1024,
			ProgressInterval: 500 * time.Millisecond,
			RasterSuffixes:   []string{".tif", ".tiff"},
		},
		Render: RenderConfig{
			MaxRasterPixels: 4096,
			MinStationZoom:  8,
			OverviewBounds:  []float64{-190, 48.5, -147.68, 69.5},
		},
		Retention: RetentionConfig{
			Enabled:  true,
			Schedule: "@every 15m",
			MaxAge:   24 * time.Hour,
		},
		Relay: RelayConfig{
			PollInterval: 250 * time.Millisecond,
			PingTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFile loads configuration from a single TOML file
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files, later files override earlier ones.
// Priority: defaults -> files (in order) -> environment variables.
// CLI flags are applied separately by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MAPGEN_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("MAPGEN_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MAPGEN_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage
	if storageType := os.Getenv("MAPGEN_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if path := os.Getenv("MAPGEN_STORAGE_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}
	if path := os.Getenv("MAPGEN_STORAGE_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	// Paths
	if dir := os.Getenv("MAPGEN_DATA_DIR"); dir != "" {
		config.Paths.DataDir = dir
	}
	if dir := os.Getenv("MAPGEN_CACHE_DIR"); dir != "" {
		config.Paths.CacheDir = dir
	}
	if dir := os.Getenv("MAPGEN_UPLOAD_DIR"); dir != "" {
		config.Paths.UploadDir = dir
	}
	if dir := os.Getenv("MAPGEN_TEMP_DIR"); dir != "" {
		config.Paths.TempDir = dir
	}

	// Worker
	if mode := os.Getenv("MAPGEN_WORKER_MODE"); mode != "" {
		config.Worker.Mode = mode
	}
	if maxConcurrent := os.Getenv("MAPGEN_WORKER_MAX_CONCURRENT"); maxConcurrent != "" {
		if n, err := strconv.Atoi(maxConcurrent); err == nil {
			config.Worker.MaxConcurrent = n
		}
	}

	// Elevation
	if baseURL := os.Getenv("MAPGEN_ELEVATION_BASE_URL"); baseURL != "" {
		config.Elevation.BaseURL = baseURL
	}
	if timeout := os.Getenv("MAPGEN_ELEVATION_DOWNLOAD_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Elevation.DownloadTimeout = d
		}
	}
	if retries := os.Getenv("MAPGEN_ELEVATION_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			config.Elevation.MaxRetries = n
		}
	}

	// Retention
	if enabled := os.Getenv("MAPGEN_RETENTION_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Retention.Enabled = b
		}
	}
	if maxAge := os.Getenv("MAPGEN_RETENTION_MAX_AGE"); maxAge != "" {
		if d, err := time.ParseDuration(maxAge); err == nil {
			config.Retention.MaxAge = d
		}
	}

	// Logging
	if level := os.Getenv("MAPGEN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("MAPGEN_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if o = strings.TrimSpace(o); o != "" {
				outputs = append(outputs, o)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the values that would otherwise fail deep inside a job
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("invalid storage type %q: must be sqlite or badger", c.Storage.Type)
	}

	switch c.Worker.Mode {
	case "process", "inprocess":
	default:
		return fmt.Errorf("invalid worker mode %q: must be process or inprocess", c.Worker.Mode)
	}

	if c.Worker.MaxConcurrent < 1 {
		return fmt.Errorf("worker.max_concurrent must be at least 1, got %d", c.Worker.MaxConcurrent)
	}

	if len(c.Render.OverviewBounds) != 4 {
		return fmt.Errorf("render.overview_bounds must have 4 values (west, south, east, north), got %d", len(c.Render.OverviewBounds))
	}

	if c.Retention.Enabled {
		if err := ValidateSchedule(c.Retention.Schedule); err != nil {
			return fmt.Errorf("invalid retention schedule: %w", err)
		}
	}

	return nil
}

// ValidateSchedule validates a cron expression or descriptor such as "@every 15m"
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// TempRoot returns the parent directory for per-job temporary tile sets
func (c *Config) TempRoot() string {
	if c.Paths.TempDir != "" {
		return c.Paths.TempDir
	}
	return os.TempDir()
}

// EnsureDirs creates the data, cache and upload directories
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.CacheDir, c.Paths.UploadDir, c.Paths.TempDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Clean(dir), 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
