package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rpattn/sheetpipe/internal/db"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SHEETPIPE_DATABASE_HOST.
const EnvPrefix = "SHEETPIPE"

// Config is the full worker configuration.
type Config struct {
	Database   db.Config
	Redis      RedisConfig
	Pipeline   PipelineConfig
	Bulk       BulkConfig
	Acquire    AcquireConfig
	S3         S3Config
	Log        LogConfig
	Metrics    MetricsConfig
	Migrations MigrationsConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PipelineConfig struct {
	BatchSize       int
	RowBatchSize    int
	DuplicateTTL    time.Duration
	ParseChunkSize  int
	InsertChunkSize int
	IdleInterval    time.Duration
	ErrorBackoff    time.Duration
	DedupAtomic     bool
}

type BulkConfig struct {
	NativeEnabled bool
	StagingDir    string
}

type AcquireConfig struct {
	TempDir     string
	BaseURL     string
	HTTPTimeout time.Duration
	MaxBytes    int64
}

type S3Config struct {
	Region   string
	Endpoint string
}

type LogConfig struct {
	Env   string
	Level string
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics and /healthz; empty disables it.
	Addr string
}

type MigrationsConfig struct {
	Auto bool
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.row_batch_size", 100)
	v.SetDefault("pipeline.duplicate_ttl", 24*time.Hour)
	v.SetDefault("pipeline.parse_chunk_size", 10000)
	v.SetDefault("pipeline.insert_chunk_size", 50000)
	v.SetDefault("pipeline.idle_interval", 10*time.Second)
	v.SetDefault("pipeline.error_backoff", 5*time.Second)
	v.SetDefault("pipeline.dedup_atomic", false)

	v.SetDefault("bulk.native_enabled", true)
	v.SetDefault("bulk.staging_dir", os.TempDir())

	v.SetDefault("acquire.temp_dir", filepath.Join(os.TempDir(), "sheetpipe"))
	v.SetDefault("acquire.base_url", "")
	v.SetDefault("acquire.http_timeout", 60*time.Second)
	v.SetDefault("acquire.max_bytes", int64(512<<20))

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")

	v.SetDefault("log.env", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("migrations.auto", true)
}

// Load reads config.yaml from configPath when present, then applies .env
// files and SHEETPIPE_* environment overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	if err := loadDotEnv(filepath.Join(configPath, ".env"), ".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	return Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Pipeline: PipelineConfig{
			BatchSize:       v.GetInt("pipeline.batch_size"),
			RowBatchSize:    v.GetInt("pipeline.row_batch_size"),
			DuplicateTTL:    v.GetDuration("pipeline.duplicate_ttl"),
			ParseChunkSize:  v.GetInt("pipeline.parse_chunk_size"),
			InsertChunkSize: v.GetInt("pipeline.insert_chunk_size"),
			IdleInterval:    v.GetDuration("pipeline.idle_interval"),
			ErrorBackoff:    v.GetDuration("pipeline.error_backoff"),
			DedupAtomic:     v.GetBool("pipeline.dedup_atomic"),
		},
		Bulk: BulkConfig{
			NativeEnabled: v.GetBool("bulk.native_enabled"),
			StagingDir:    v.GetString("bulk.staging_dir"),
		},
		Acquire: AcquireConfig{
			TempDir:     v.GetString("acquire.temp_dir"),
			BaseURL:     v.GetString("acquire.base_url"),
			HTTPTimeout: v.GetDuration("acquire.http_timeout"),
			MaxBytes:    v.GetInt64("acquire.max_bytes"),
		},
		S3: S3Config{
			Region:   v.GetString("s3.region"),
			Endpoint: v.GetString("s3.endpoint"),
		},
		Log: LogConfig{
			Env:   v.GetString("log.env"),
			Level: v.GetString("log.level"),
		},
		Metrics:    MetricsConfig{Addr: v.GetString("metrics.addr")},
		Migrations: MigrationsConfig{Auto: v.GetBool("migrations.auto")},
	}, nil
}

// Validate reports every missing or out-of-range setting.
func (c Config) Validate() error {
	var errs []error
	require := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	require(c.Database.Host != "", "database.host is required")
	require(c.Database.DBName != "", "database.dbname is required")
	require(c.Database.Port > 0, "database.port must be positive, got %d", c.Database.Port)
	require(c.Redis.Addr != "", "redis.addr is required")
	require(c.Pipeline.BatchSize > 0, "pipeline.batch_size must be positive, got %d", c.Pipeline.BatchSize)
	require(c.Pipeline.RowBatchSize > 0, "pipeline.row_batch_size must be positive, got %d", c.Pipeline.RowBatchSize)
	require(c.Pipeline.DuplicateTTL > 0, "pipeline.duplicate_ttl must be positive, got %s", c.Pipeline.DuplicateTTL)
	require(c.Pipeline.ParseChunkSize > 0, "pipeline.parse_chunk_size must be positive, got %d", c.Pipeline.ParseChunkSize)
	require(c.Pipeline.InsertChunkSize > 0, "pipeline.insert_chunk_size must be positive, got %d", c.Pipeline.InsertChunkSize)
	require(c.Pipeline.IdleInterval > 0, "pipeline.idle_interval must be positive, got %s", c.Pipeline.IdleInterval)
	require(c.Pipeline.ErrorBackoff > 0, "pipeline.error_backoff must be positive, got %s", c.Pipeline.ErrorBackoff)
	require(c.Acquire.HTTPTimeout > 0, "acquire.http_timeout must be positive, got %s", c.Acquire.HTTPTimeout)
	require(c.Acquire.MaxBytes > 0, "acquire.max_bytes must be positive, got %d", c.Acquire.MaxBytes)

	return errors.Join(errs...)
}

func loadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}
