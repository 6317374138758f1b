package adapter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	appName   = "kinomirror"
	envPrefix = "KINOMIRROR"
)

// Config holds all application configuration
type Config struct {
	Catalog CatalogConfig `mapstructure:"catalog"`
	Loader  LoaderConfig  `mapstructure:"loader"`
	Search  SearchConfig  `mapstructure:"search"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CatalogConfig points at the remote catalog API
type CatalogConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ListPath     string        `mapstructure:"list_path"`     // newest-updated listing
	CategoryPath string        `mapstructure:"category_path"` // + /{slug}
	CountryPath  string        `mapstructure:"country_path"`  // + /{slug}
	YearPath     string        `mapstructure:"year_path"`     // + /{year}
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests/second, 0 = unlimited
	Burst        int           `mapstructure:"burst"`
}

// LoaderConfig bounds full catalog loads
type LoaderConfig struct {
	BatchSize            int  `mapstructure:"batch_size"`
	MaxPages             int  `mapstructure:"max_pages"`
	MaxConsecutiveErrors int  `mapstructure:"max_consecutive_errors"`
	PreloadPages         int  `mapstructure:"preload_pages"` // cold start without a full load
	AutoLoadFull         bool `mapstructure:"auto_load_full"`
}

// SearchConfig tunes the tiered search and its result cache
type SearchConfig struct {
	InstantTTL      time.Duration `mapstructure:"instant_ttl"`
	ExtendedTTL     time.Duration `mapstructure:"extended_ttl"`
	FullTTL         time.Duration `mapstructure:"full_ttl"`
	CacheMaxEntries int           `mapstructure:"cache_max_entries"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	ExtendedPages   int           `mapstructure:"extended_pages"`
	ExtendedWorkers int           `mapstructure:"extended_workers"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	SuggestLimit    int           `mapstructure:"suggest_limit"`
}

// StorageConfig locates the snapshot database
type StorageConfig struct {
	Path        string `mapstructure:"path"` // empty = memory only
	SnapshotKey string `mapstructure:"snapshot_key"`
}

// RedisConfig enables the shared second-level query cache
type RedisConfig struct {
	URL    string `mapstructure:"url"` // empty = disabled
	Prefix string `mapstructure:"prefix"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File   string `mapstructure:"file"` // empty or "-" = stdout
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text, stdout only
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			BaseURL:      "https://phimapi.com",
			ListPath:     "/danh-sach/phim-moi-cap-nhat",
			CategoryPath: "/v1/api/the-loai",
			CountryPath:  "/v1/api/quoc-gia",
			YearPath:     "/v1/api/nam",
			UserAgent:    appName + "/1.0",
			Timeout:      30 * time.Second,
			MaxRetries:   2,
			RateLimit:    0,
			Burst:        20,
		},
		Loader: LoaderConfig{
			BatchSize:            20,
			MaxPages:             1000,
			MaxConsecutiveErrors: 10,
			PreloadPages:         3,
			AutoLoadFull:         false,
		},
		Search: SearchConfig{
			InstantTTL:      2 * time.Minute,
			ExtendedTTL:     5 * time.Minute,
			FullTTL:         10 * time.Minute,
			CacheMaxEntries: 500,
			SweepInterval:   time.Minute,
			ExtendedPages:   5,
			ExtendedWorkers: 5,
			StaleAfter:      6 * time.Hour,
			SuggestLimit:    10,
		},
		Storage: StorageConfig{
			Path:        defaultCachePath(),
			SnapshotKey: "catalog-snapshot",
		},
		Redis: RedisConfig{
			Prefix: appName + ":query:",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			RateLimit:    50,
			RateBurst:    100,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			File:   defaultLogPath(),
			Level:  "INFO",
			Format: "json",
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), appName, appName+".log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", appName, appName+".log")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

// defaultCachePath returns the default snapshot directory for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), appName, "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", appName, "cache")
	}
}

// LoadConfig loads configuration from file, .env and environment.
// Extra search paths are tried before the defaults.
func LoadConfig(paths ...string) (*Config, error) {
	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	cfg := DefaultConfig()
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(defaultConfigPath())
	v.AddConfigPath(".")

	// Environment variable overrides: KINOMIRROR_CATALOG_BASE_URL etc.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it on Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	for key, value := range flatten(cfg) {
		v.SetDefault(key, value)
	}
}

func flatten(cfg *Config) map[string]any {
	return map[string]any{
		"catalog.base_url":      cfg.Catalog.BaseURL,
		"catalog.list_path":     cfg.Catalog.ListPath,
		"catalog.category_path": cfg.Catalog.CategoryPath,
		"catalog.country_path":  cfg.Catalog.CountryPath,
		"catalog.year_path":     cfg.Catalog.YearPath,
		"catalog.user_agent":    cfg.Catalog.UserAgent,
		"catalog.timeout":       cfg.Catalog.Timeout,
		"catalog.max_retries":   cfg.Catalog.MaxRetries,
		"catalog.rate_limit":    cfg.Catalog.RateLimit,
		"catalog.burst":         cfg.Catalog.Burst,

		"loader.batch_size":             cfg.Loader.BatchSize,
		"loader.max_pages":              cfg.Loader.MaxPages,
		"loader.max_consecutive_errors": cfg.Loader.MaxConsecutiveErrors,
		"loader.preload_pages":          cfg.Loader.PreloadPages,
		"loader.auto_load_full":         cfg.Loader.AutoLoadFull,

		"search.instant_ttl":       cfg.Search.InstantTTL,
		"search.extended_ttl":      cfg.Search.ExtendedTTL,
		"search.full_ttl":          cfg.Search.FullTTL,
		"search.cache_max_entries": cfg.Search.CacheMaxEntries,
		"search.sweep_interval":    cfg.Search.SweepInterval,
		"search.extended_pages":    cfg.Search.ExtendedPages,
		"search.extended_workers":  cfg.Search.ExtendedWorkers,
		"search.stale_after":       cfg.Search.StaleAfter,
		"search.suggest_limit":     cfg.Search.SuggestLimit,

		"storage.path":         cfg.Storage.Path,
		"storage.snapshot_key": cfg.Storage.SnapshotKey,

		"redis.url":    cfg.Redis.URL,
		"redis.prefix": cfg.Redis.Prefix,

		"server.addr":          cfg.Server.Addr,
		"server.rate_limit":    cfg.Server.RateLimit,
		"server.rate_burst":    cfg.Server.RateBurst,
		"server.read_timeout":  cfg.Server.ReadTimeout,
		"server.write_timeout": cfg.Server.WriteTimeout,

		"logging.file":   cfg.Logging.File,
		"logging.level":  cfg.Logging.Level,
		"logging.format": cfg.Logging.Format,
	}
}

// SaveConfig writes cfg as config.yaml into dir (the default config
// directory when dir is empty) and returns the file path.
func SaveConfig(cfg *Config, dir string) (string, error) {
	if dir == "" {
		dir = defaultConfigPath()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	for key, value := range flatten(cfg) {
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		v.Set(key, value)
	}

	configFile := filepath.Join(dir, "config.yaml")
	if err := v.WriteConfigAs(configFile); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return configFile, nil
}

// ExpandHome resolves a leading ~ to the user's home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
