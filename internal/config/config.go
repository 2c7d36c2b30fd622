// Package config loads the worker configuration once at startup. The
// resulting Config is passed by value into every constructor; nothing reads
// configuration from globals afterwards.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageGCS = "gcs"
	StorageS3  = "s3"
)

// Metastore backends.
const (
	MetastoreFirestore = "firestore"
	MetastorePostgres  = "postgres"
	MetastoreMemory    = "memory"
)

// Notify backends.
const (
	NotifyKafka     = "kafka"
	NotifyWorkflows = "workflows"
	NotifyLog       = "log"
)

type Config struct {
	Main      MainConfig      `mapstructure:"main"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metastore MetastoreConfig `mapstructure:"metastore"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Retry     RetryConfig     `mapstructure:"retry"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

type MainConfig struct {
	MediaRoot    string `mapstructure:"media_root"`
	Prefix       string `mapstructure:"prefix"`
	PreviewWidth int    `mapstructure:"preview_width"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Backend          string        `mapstructure:"backend"`
	Bucket           string        `mapstructure:"bucket"`
	Prefix           string        `mapstructure:"prefix"`
	Endpoint         string        `mapstructure:"endpoint"`
	Region           string        `mapstructure:"region"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	UseSSL           bool          `mapstructure:"use_ssl"`
	SignedURLTTL     time.Duration `mapstructure:"signed_url_ttl"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
}

type MetastoreConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Database  string `mapstructure:"database"`
	DSN       string `mapstructure:"dsn"`
}

type QueueConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	GroupID     string   `mapstructure:"group_id"`
	Prefix      string   `mapstructure:"prefix"`
	Concurrency int      `mapstructure:"concurrency"`
}

type NotifyConfig struct {
	Backend           string `mapstructure:"backend"`
	ProjectID         string `mapstructure:"project_id"`
	Location          string `mapstructure:"location"`
	PreviewWorkflowID string `mapstructure:"preview_workflow_id"`
	IndexWorkflowID   string `mapstructure:"index_workflow_id"`
}

type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Countdown  time.Duration `mapstructure:"countdown"`
}

type OCRConfig struct {
	DefaultLang string `mapstructure:"default_lang"`
	OCRMyPDF    string `mapstructure:"ocrmypdf"`
	PdfToPPM    string `mapstructure:"pdftoppm"`
	PdfToCairo  string `mapstructure:"pdftocairo"`
}

type WorkerConfig struct {
	OCRWorkers int `mapstructure:"ocr_workers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("main.media_root", "./media")
	v.SetDefault("main.prefix", "")
	v.SetDefault("main.preview_width", 300)

	v.SetDefault("log.level", "info")

	v.SetDefault("storage.backend", StorageGCS)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.signed_url_ttl", 30*time.Second)
	v.SetDefault("storage.fetch_concurrency", 0)

	v.SetDefault("metastore.backend", MetastoreMemory)
	v.SetDefault("metastore.project_id", "")
	v.SetDefault("metastore.database", "")
	v.SetDefault("metastore.dsn", "")

	v.SetDefault("queue.brokers", []string{})
	v.SetDefault("queue.group_id", "ocrworker")
	v.SetDefault("queue.prefix", "")
	v.SetDefault("queue.concurrency", 4)

	v.SetDefault("notify.backend", NotifyLog)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.location", "")
	v.SetDefault("notify.preview_workflow_id", "")
	v.SetDefault("notify.index_workflow_id", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.reservation_ttl", 24*time.Hour)

	v.SetDefault("retry.max_retries", 6)
	v.SetDefault("retry.countdown", 10*time.Second)

	v.SetDefault("ocr.default_lang", "deu")
	v.SetDefault("ocr.ocrmypdf", "ocrmypdf")
	v.SetDefault("ocr.pdftoppm", "pdftoppm")
	v.SetDefault("ocr.pdftocairo", "pdftocairo")

	v.SetDefault("worker.ocr_workers", 4)
}

// Load reads defaults, the optional config file and OCRWORKER_* environment
// overrides. A missing config file is not an error unless cfgFile names it
// explicitly.
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OCRWORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("ocrworker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ocrworker")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the worker cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Main.MediaRoot == "" {
		errs = append(errs, errors.New("main.media_root is required"))
	}
	switch c.Storage.Backend {
	case StorageGCS, StorageS3:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	if c.Storage.Backend == StorageS3 && c.Storage.Bucket != "" && c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("storage.endpoint is required for s3"))
	}
	switch c.Metastore.Backend {
	case MetastoreMemory:
	case MetastoreFirestore:
		if c.Metastore.ProjectID == "" {
			errs = append(errs, errors.New("metastore.project_id is required for firestore"))
		}
	case MetastorePostgres:
		if c.Metastore.DSN == "" {
			errs = append(errs, errors.New("metastore.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown metastore.backend %q", c.Metastore.Backend))
	}
	switch c.Notify.Backend {
	case NotifyLog:
	case NotifyKafka:
		if len(c.Queue.Brokers) == 0 {
			errs = append(errs, errors.New("queue.brokers is required for kafka notifications"))
		}
	case NotifyWorkflows:
		if c.Notify.ProjectID == "" || c.Notify.Location == "" {
			errs = append(errs, errors.New("notify.project_id and notify.location are required for workflows"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify.backend %q", c.Notify.Backend))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	return errors.Join(errs...)
}

// StorageEnabled decides between the real and the no-op storage mirror.
func (c Config) StorageEnabled() bool {
	if c.Storage.Bucket == "" {
		return false
	}
	if c.Storage.Backend == StorageS3 {
		return c.Storage.AccessKeyID != "" && c.Storage.SecretAccessKey != ""
	}
	return true
}

// Prefixed returns the queue or topic name for name, namespaced by
// queue.prefix when one is set.
func (c Config) Prefixed(name string) string {
	if c.Queue.Prefix == "" {
		return name
	}
	return c.Queue.Prefix + "_" + name
}

// RemotePrefix is the object key prefix in the remote store. The storage
// section wins over the main one.
func (c Config) RemotePrefix() string {
	if c.Storage.Prefix != "" {
		return c.Storage.Prefix
	}
	return c.Main.Prefix
}

// SlogLevel maps log.level to a slog level. Unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
