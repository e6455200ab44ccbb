package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Catalog   CatalogConfig
	ZipCache  ZipCacheConfig
	BuildJobs BuildJobsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	MemoTTL  time.Duration
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CatalogConfig locates the read-only source tree and the public base URL
// used when handing out artifact download links.
type CatalogConfig struct {
	Root       string
	BackendURL string
}

// ZipCacheConfig tunes the shared zip-artifact cache.
type ZipCacheConfig struct {
	ArtifactsRoot      string
	HotTTLDays         int
	WarmTTLDays        int
	DiskFraction       float64
	CompressionLevel   int
	CleanupInterval    time.Duration
	PrewarmInterval    time.Duration
	PrewarmConcurrency int
	PrewarmTopWindow   int
	PrewarmNewWindow   int
}

// BuildJobsConfig sizes the opportunistic shared-build queue.
type BuildJobsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		MemoTTL:  parseDuration(v.GetString("REDIS_MEMO_TTL"), 30*time.Second),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Catalog = CatalogConfig{
		Root:       v.GetString("CATALOG_ROOT"),
		BackendURL: strings.TrimRight(v.GetString("BACKEND_URL"), "/"),
	}

	cfg.ZipCache = ZipCacheConfig{
		ArtifactsRoot:      v.GetString("ARTIFACTS_ROOT"),
		HotTTLDays:         positiveInt(v.GetInt("ZIP_ARTIFACT_HOT_TTL_DAYS"), 90),
		WarmTTLDays:        positiveInt(v.GetInt("ZIP_ARTIFACT_WARM_TTL_DAYS"), 14),
		DiskFraction:       clampFraction(v.GetFloat64("ZIP_ARTIFACT_DISK_FRACTION"), 0.25),
		CompressionLevel:   compressionLevel(v.GetInt("ZIP_COMPRESSION_LEVEL")),
		CleanupInterval:    parseDuration(v.GetString("ZIP_CLEANUP_INTERVAL"), 10*time.Minute),
		PrewarmInterval:    parseDuration(v.GetString("ZIP_PREWARM_INTERVAL"), 15*time.Minute),
		PrewarmConcurrency: positiveInt(v.GetInt("ZIP_PREWARM_CONCURRENCY"), 2),
		PrewarmTopWindow:   positiveInt(v.GetInt("ZIP_PREWARM_TOP_WINDOW_DAYS"), 30),
		PrewarmNewWindow:   positiveInt(v.GetInt("ZIP_PREWARM_NEW_WINDOW_DAYS"), 180),
	}

	cfg.BuildJobs = BuildJobsConfig{
		Workers:    positiveInt(v.GetInt("BUILD_QUEUE_WORKERS"), 1),
		BufferSize: positiveInt(v.GetInt("BUILD_QUEUE_BUFFER"), 16),
		MaxRetries: positiveInt(v.GetInt("BUILD_QUEUE_RETRIES"), 1),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "media_catalog")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_MEMO_TTL", "30s")

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CATALOG_ROOT", "./catalog")
	v.SetDefault("BACKEND_URL", "http://localhost:8080")

	v.SetDefault("ARTIFACTS_ROOT", "./compressed_dirs/shared")
	v.SetDefault("ZIP_ARTIFACT_HOT_TTL_DAYS", 90)
	v.SetDefault("ZIP_ARTIFACT_WARM_TTL_DAYS", 14)
	v.SetDefault("ZIP_ARTIFACT_DISK_FRACTION", 0.25)
	v.SetDefault("ZIP_COMPRESSION_LEVEL", 1)
	v.SetDefault("ZIP_CLEANUP_INTERVAL", "10m")
	v.SetDefault("ZIP_PREWARM_INTERVAL", "15m")
	v.SetDefault("ZIP_PREWARM_CONCURRENCY", 2)
	v.SetDefault("ZIP_PREWARM_TOP_WINDOW_DAYS", 30)
	v.SetDefault("ZIP_PREWARM_NEW_WINDOW_DAYS", 180)

	v.SetDefault("BUILD_QUEUE_WORKERS", 1)
	v.SetDefault("BUILD_QUEUE_BUFFER", 16)
	v.SetDefault("BUILD_QUEUE_RETRIES", 1)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func positiveInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func clampFraction(value, fallback float64) float64 {
	if value <= 0 {
		return fallback
	}
	if value > 1 {
		return 1
	}
	return value
}

func compressionLevel(value int) int {
	if value < 0 || value > 9 {
		return 1
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
