// Package config loads engine configuration from an optional YAML file and
// TRIAGETREE_* environment variables, then validates it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the YAML file read before environment overrides.
const EnvConfigPath = "TRIAGETREE_CONFIG"

// Config is the full process configuration.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Blob       Blob       `yaml:"blob"`
	Redis      Redis      `yaml:"redis"`
	Log        Log        `yaml:"log"`
	Pagination Pagination `yaml:"pagination"`
}

// Storage selects the persistent store.
type Storage struct {
	Driver      string `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
}

// Blob selects the export sink.
type Blob struct {
	Driver string `yaml:"driver" validate:"oneof=memory fs s3"`
	FSRoot string `yaml:"fs_root"`
	Prefix string `yaml:"prefix"`
	S3     S3     `yaml:"s3"`
}

// S3 configures the s3 blob driver.
type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" validate:"required_with=AccessKeyID"`
	PathStyle       bool   `yaml:"path_style"`
}

// Redis configures the shared ETag cache. An empty address disables it.
type Redis struct {
	Addr     string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0,lte=15"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// Log configures the process logger.
type Log struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Pagination bounds report windows.
type Pagination struct {
	DefaultLimit int `yaml:"default_limit" validate:"gte=1"`
	MaxLimit     int `yaml:"max_limit" validate:"gtefield=DefaultLimit"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage:    Storage{Driver: "memory"},
		Blob:       Blob{Driver: "memory", FSRoot: "./exports", Prefix: "exports"},
		Redis:      Redis{Prefix: "triagetree:etag:"},
		Log:        Log{Level: "info"},
		Pagination: Pagination{DefaultLimit: 50, MaxLimit: 500},
	}
}

// Load reads the file named by TRIAGETREE_CONFIG, if any, and the process
// environment.
func Load() (Config, error) {
	return LoadWith(os.Getenv(EnvConfigPath), os.LookupEnv)
}

// LoadWith layers defaults, the YAML file at path (skipped when empty), and
// the variables reported by lookup, then validates the result.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if lookup != nil {
		if err := applyEnv(&cfg, lookup); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("TRIAGETREE_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("TRIAGETREE_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("TRIAGETREE_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("TRIAGETREE_BLOB_DRIVER", &cfg.Blob.Driver)
	str("TRIAGETREE_BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	str("TRIAGETREE_BLOB_PREFIX", &cfg.Blob.Prefix)
	str("TRIAGETREE_BLOB_S3_BUCKET", &cfg.Blob.S3.Bucket)
	str("TRIAGETREE_BLOB_S3_REGION", &cfg.Blob.S3.Region)
	str("TRIAGETREE_BLOB_S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	str("TRIAGETREE_BLOB_S3_ACCESS_KEY_ID", &cfg.Blob.S3.AccessKeyID)
	str("TRIAGETREE_BLOB_S3_SECRET_ACCESS_KEY", &cfg.Blob.S3.SecretAccessKey)
	flag("TRIAGETREE_BLOB_S3_PATH_STYLE", &cfg.Blob.S3.PathStyle)
	str("TRIAGETREE_REDIS_ADDR", &cfg.Redis.Addr)
	str("TRIAGETREE_REDIS_PASSWORD", &cfg.Redis.Password)
	num("TRIAGETREE_REDIS_DB", &cfg.Redis.DB)
	str("TRIAGETREE_REDIS_PREFIX", &cfg.Redis.Prefix)
	dur("TRIAGETREE_REDIS_TTL", &cfg.Redis.TTL)
	str("TRIAGETREE_LOG_LEVEL", &cfg.Log.Level)
	num("TRIAGETREE_PAGINATION_DEFAULT_LIMIT", &cfg.Pagination.DefaultLimit)
	num("TRIAGETREE_PAGINATION_MAX_LIMIT", &cfg.Pagination.MaxLimit)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	return errors.Join(errs...)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		b := sl.Current().Interface().(Blob)
		if b.Driver == "s3" && b.S3.Bucket == "" {
			sl.ReportError(b.S3.Bucket, "S3.Bucket", "Bucket", "required_for_s3", "")
		}
	}, Blob{})
	return v
}

// Validate checks field constraints and the cross-field rules.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
