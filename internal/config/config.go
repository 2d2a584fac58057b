package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is read from the environment. Secrets have no defaults; cmd/server
// refuses to start without them.
type Config struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	AllowedOrigin      string        `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL        string        `envconfig:"DATABASE_URL"`
	RedisAddr          string        `envconfig:"REDIS_ADDR"`
	RedisPassword      string        `envconfig:"REDIS_PASSWORD"`
	RedisDB            int           `envconfig:"REDIS_DB" default:"0"`
	OptionsCacheTTL    time.Duration `envconfig:"OPTIONS_CACHE_TTL" default:"10m"`
	RecommendationTTL  time.Duration `envconfig:"RECOMMENDATION_CACHE_TTL" default:"20s"`
	AuthSecret         string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL     time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	ManagerPIN         string        `envconfig:"MANAGER_PIN"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat          string        `envconfig:"LOG_FORMAT" default:"json"`
	FitmentSeedPath    string        `envconfig:"FITMENT_SEED_PATH"`
	AccessorySeedPath  string        `envconfig:"ACCESSORY_SEED_PATH"`
	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	ProductionTLS      bool          `envconfig:"PRODUCTION_TLS" default:"false"`
	WorkerConcurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"5"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)

	if cfg.OptionsCacheTTL <= 0 {
		cfg.OptionsCacheTTL = 10 * time.Minute
	}
	if cfg.RecommendationTTL <= 0 {
		cfg.RecommendationTTL = 20 * time.Second
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 8 * time.Hour
	}
	if cfg.RateLimitPerMinute < 1 {
		cfg.RateLimitPerMinute = 120
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
