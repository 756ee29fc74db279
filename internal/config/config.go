// Package config содержит логику чтения конфигурации сервиса инвестиционного учёта.
package config

import (
	"flag"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress        = "localhost:8080"
	defaultRecomputeInterval = time.Hour
	defaultStoreTimeout      = 5 * time.Second
	defaultLocation          = "UTC"
	defaultPresignTTL        = 15 * time.Minute
)

// S3Config содержит параметры хранилища квитанций об оплате.
type S3Config struct {
	Bucket     string        `env:"S3_BUCKET"`
	Region     string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey  string        `env:"S3_ACCESS_KEY"`
	SecretKey  string        `env:"S3_SECRET_KEY"`
	PresignTTL time.Duration `env:"S3_PRESIGN_TTL"`
}

// Enabled сообщает, настроено ли хранилище квитанций.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	AuthSecret        string        `env:"AUTH_SECRET"`
	RecomputeInterval time.Duration `env:"RECOMPUTE_INTERVAL"`
	StoreTimeout      time.Duration `env:"STORE_TIMEOUT"`
	Location          string        `env:"LOCATION"`
	AdminLogin        string        `env:"ADMIN_LOGIN"`
	AdminPassword     string        `env:"ADMIN_PASSWORD"`
	S3                S3Config
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// Файл .env необязателен, уже заданные переменные окружения он не перезаписывает.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envRecomputeInterval := cfg.RecomputeInterval
	envStoreTimeout := cfg.StoreTimeout
	envLocation := cfg.Location

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret used to sign auth tokens")
	flag.DurationVar(&cfg.RecomputeInterval, "i", defaultRecomputeInterval, "earnings recompute interval")
	flag.DurationVar(&cfg.StoreTimeout, "t", defaultStoreTimeout, "timeout for a single store call")
	flag.StringVar(&cfg.Location, "l", defaultLocation, "IANA time zone used for business-day arithmetic")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envRecomputeInterval != 0 {
		cfg.RecomputeInterval = envRecomputeInterval
	}
	if envStoreTimeout != 0 {
		cfg.StoreTimeout = envStoreTimeout
	}
	if envLocation != "" {
		cfg.Location = envLocation
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.RecomputeInterval <= 0 {
		cfg.RecomputeInterval = defaultRecomputeInterval
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.Location == "" {
		cfg.Location = defaultLocation
	}
	if cfg.S3.PresignTTL <= 0 {
		cfg.S3.PresignTTL = defaultPresignTTL
	}

	if _, err := time.LoadLocation(cfg.Location); err != nil {
		return nil, fmt.Errorf("load location %q: %w", cfg.Location, err)
	}

	return cfg, nil
}

// TimeLocation возвращает часовой пояс для расчёта рабочих дней.
func (c *Config) TimeLocation() *time.Location {
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}
