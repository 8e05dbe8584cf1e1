package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	BucketCapture string
	UseSSL        bool
	Region        string
}

// ProcessingConfig points at the face detection service that turns one
// upload into an original URL plus cropped face URLs.
type ProcessingConfig struct {
	BaseURL           string
	UploadPath        string
	ImagesPath        string
	CroppedImagesPath string
	Timeout           time.Duration
	MaxUploadBytes    int64
	MaxConcurrent     int
}

type SecurityConfig struct {
	JWTSecret        string
	SignatureSecret  string
	CursorSecret     string
	RequireSignature bool
}

type GalleryConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	IdleTTL         time.Duration
	SweepSpec       string
	// Feed selects the live update transport: "redis" or "memory".
	Feed string
}

type AppConfig struct {
	Environment      string
	LogLevel         string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Processing       ProcessingConfig
	Security         SecurityConfig
	Gallery          GalleryConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("FACESYNC")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	if err := validation.ValidateStruct(&c.Processing,
		validation.Field(&c.Processing.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Processing.UploadPath, validation.Required),
		validation.Field(&c.Processing.MaxUploadBytes, validation.Min(int64(1))),
		validation.Field(&c.Processing.MaxConcurrent, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("processing: %w", err)
	}

	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In("", "trace", "debug", "info", "warn", "error")),
	); err != nil {
		return err
	}

	if err := validation.ValidateStruct(&c.Gallery,
		validation.Field(&c.Gallery.DefaultPageSize, validation.Min(1)),
		validation.Field(&c.Gallery.MaxPageSize, validation.Min(c.Gallery.DefaultPageSize)),
		validation.Field(&c.Gallery.SweepSpec, validation.Required),
		validation.Field(&c.Gallery.Feed, validation.Required, validation.In("redis", "memory")),
	); err != nil {
		return fmt.Errorf("gallery: %w", err)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "60s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolsize", 32)
	v.SetDefault("redis.dialtimeout", "5s")

	v.SetDefault("storage.bucketcapture", "facesync-captures")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("processing.baseurl", "http://127.0.0.1:8000")
	v.SetDefault("processing.uploadpath", "/upload")
	v.SetDefault("processing.imagespath", "/get-images")
	v.SetDefault("processing.croppedimagespath", "/get-cropped-images")
	v.SetDefault("processing.timeout", "45s")
	v.SetDefault("processing.maxuploadbytes", 10<<20)
	v.SetDefault("processing.maxconcurrent", 4)

	v.SetDefault("security.requiresignature", false)

	v.SetDefault("gallery.defaultpagesize", 20)
	v.SetDefault("gallery.maxpagesize", 100)
	v.SetDefault("gallery.idlettl", "15m")
	v.SetDefault("gallery.sweepspec", "0 */1 * * * *")
	v.SetDefault("gallery.feed", "redis")
}
