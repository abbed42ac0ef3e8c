// Package config loads service settings from defaults, an optional YAML file
// and EEG_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverS3       = "s3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Blob     BlobConfig     `yaml:"blob"`
	Peaks    PeaksConfig    `yaml:"peaks"`
	Download DownloadConfig `yaml:"download"`
	CORS     CORSConfig     `yaml:"cors"`
	Limits   LimitsConfig   `yaml:"limits"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GRPCConfig enables the gRPC health listener when Addr is set.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig covers token signing and account defaults. When AdminEmail and
// AdminPassword are both set an administrator is created at startup if absent.
type AuthConfig struct {
	Secret        string        `yaml:"secret"`
	Issuer        string        `yaml:"issuer"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	BcryptCost    int           `yaml:"bcrypt_cost"`
	EmailDomain   string        `yaml:"email_domain"`
	AdminEmail    string        `yaml:"admin_email"`
	AdminPassword string        `yaml:"admin_password"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// BlobConfig picks where payloads live. An empty driver follows the store.
type BlobConfig struct {
	Driver string   `yaml:"driver"`
	S3     S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type PeaksConfig struct {
	Command []string      `yaml:"command"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

type DownloadConfig struct {
	RequireAuth bool `yaml:"require_auth"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LimitsConfig struct {
	MaxBodyBytes   int64   `yaml:"max_body_bytes"`
	MaxFileBytes   int64   `yaml:"max_file_bytes"`
	LoginPerSecond float64 `yaml:"login_per_second"`
	LoginBurst     int     `yaml:"login_burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration suitable for local development apart from
// the signing secret, which must always be supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:      "eegportal",
			TokenTTL:    time.Hour,
			BcryptCost:  10,
			EmailDomain: "eeg.com",
		},
		Store: StoreConfig{
			Driver:        DriverMemory,
			MongoDatabase: "eegportal",
		},
		Peaks: PeaksConfig{
			Command: []string{"python3", "scripts/find_peaks.py"},
			Timeout: 60 * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Limits: LimitsConfig{
			MaxBodyBytes:   128 << 20,
			LoginPerSecond: 1,
			LoginBurst:     5,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration. path may be empty; lookup is usually
// os.LookupEnv.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if lookup != nil {
		if err := applyEnv(&cfg, lookup); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("EEG_HTTP_ADDR", &cfg.Server.Addr)
	e.duration("EEG_HTTP_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.duration("EEG_HTTP_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.duration("EEG_HTTP_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	e.duration("EEG_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	e.str("EEG_GRPC_ADDR", &cfg.GRPC.Addr)

	e.str("EEG_JWT_SECRET", &cfg.Auth.Secret)
	e.str("EEG_JWT_ISSUER", &cfg.Auth.Issuer)
	e.duration("EEG_TOKEN_TTL", &cfg.Auth.TokenTTL)
	e.integer("EEG_BCRYPT_COST", &cfg.Auth.BcryptCost)
	e.str("EEG_EMAIL_DOMAIN", &cfg.Auth.EmailDomain)
	e.str("EEG_ADMIN_EMAIL", &cfg.Auth.AdminEmail)
	e.str("EEG_ADMIN_PASSWORD", &cfg.Auth.AdminPassword)

	e.str("EEG_STORE_DRIVER", &cfg.Store.Driver)
	e.str("EEG_PG_DSN", &cfg.Store.PostgresDSN)
	e.boolean("EEG_PG_AUTO_MIGRATE", &cfg.Store.AutoMigrate)
	e.str("EEG_MONGO_URI", &cfg.Store.MongoURI)
	e.str("EEG_MONGO_DB", &cfg.Store.MongoDatabase)

	e.str("EEG_BLOB_DRIVER", &cfg.Blob.Driver)
	e.str("EEG_S3_BUCKET", &cfg.Blob.S3.Bucket)
	e.str("EEG_S3_REGION", &cfg.Blob.S3.Region)
	e.str("EEG_S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	e.str("EEG_S3_ACCESS_KEY", &cfg.Blob.S3.AccessKey)
	e.str("EEG_S3_SECRET_KEY", &cfg.Blob.S3.SecretKey)
	e.boolean("EEG_S3_USE_PATH_STYLE", &cfg.Blob.S3.UsePathStyle)

	if v, ok := e.get("EEG_PEAKS_COMMAND"); ok {
		cfg.Peaks.Command = strings.Fields(v)
	}
	e.str("EEG_PEAKS_DIR", &cfg.Peaks.Dir)
	e.duration("EEG_PEAKS_TIMEOUT", &cfg.Peaks.Timeout)

	e.boolean("EEG_DOWNLOAD_REQUIRE_AUTH", &cfg.Download.RequireAuth)
	if v, ok := e.get("EEG_CORS_ORIGINS"); ok {
		cfg.CORS.AllowedOrigins = splitList(v)
	}

	e.int64("EEG_MAX_BODY_BYTES", &cfg.Limits.MaxBodyBytes)
	e.int64("EEG_MAX_FILE_BYTES", &cfg.Limits.MaxFileBytes)
	e.float("EEG_LOGIN_RATE", &cfg.Limits.LoginPerSecond)
	e.integer("EEG_LOGIN_BURST", &cfg.Limits.LoginBurst)

	e.str("EEG_LOG_LEVEL", &cfg.Log.Level)

	return errors.Join(e.errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth secret is required (EEG_JWT_SECRET)"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		errs = append(errs, errors.New("admin email and password must be set together"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if c.GRPC.Addr != "" && c.GRPC.Addr == c.Server.Addr {
		errs = append(errs, errors.New("grpc addr must differ from http addr"))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required for the postgres store"))
		}
	case DriverMongo:
		if c.Store.MongoURI == "" || c.Store.MongoDatabase == "" {
			errs = append(errs, errors.New("mongo uri and database are required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	switch c.Blob.Driver {
	case "", DriverMemory, DriverPostgres, DriverMongo:
		if c.Blob.Driver != "" && c.Blob.Driver != DriverMemory && c.Blob.Driver != c.Store.Driver {
			errs = append(errs, fmt.Errorf("blob driver %q requires the %s store", c.Blob.Driver, c.Blob.Driver))
		}
	case DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is required for the s3 blob driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if len(c.Peaks.Command) == 0 {
		errs = append(errs, errors.New("peaks command is required"))
	}
	if c.Peaks.Timeout <= 0 {
		errs = append(errs, errors.New("peaks timeout must be positive"))
	}
	if c.Limits.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max body bytes must be positive"))
	}
	if c.Limits.LoginPerSecond <= 0 || c.Limits.LoginBurst <= 0 {
		errs = append(errs, errors.New("login rate and burst must be positive"))
	}
	if slices.Contains(c.CORS.AllowedOrigins, "*") && len(c.CORS.AllowedOrigins) > 1 {
		errs = append(errs, errors.New("cors wildcard must be the only allowed origin"))
	}
	return errors.Join(errs...)
}

// BlobDriver resolves the effective blob driver.
func (c Config) BlobDriver() string {
	if c.Blob.Driver == "" {
		return c.Store.Driver
	}
	return c.Blob.Driver
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
