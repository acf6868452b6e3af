// README: Config loader with env defaults for HTTP, entity store, DB, Redis, maps and session tuning.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type PositionConfig struct {
	Timeout    time.Duration
	MaximumAge time.Duration
}

type RankingConfig struct {
	ThresholdDegrees float64
	ClosestN         int
}

type UploadConfig struct {
	MaxFileBytes int64
	AllowedTypes []string
	Parallelism  int
}

type SubmissionConfig struct {
	Timeout        time.Duration
	SuccessDisplay time.Duration
}

type Config struct {
	HTTP struct {
		Addr string
	}
	Entity struct {
		BaseURL string
		Timeout time.Duration
	}
	Auth struct {
		JWTSecret string
		Issuer    string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Maps struct {
		APIKey   string
		Language string
	}
	Log struct {
		Level slog.Level
	}
	Catalog struct {
		CacheTTL time.Duration
	}
	Position   PositionConfig
	Ranking    RankingConfig
	Upload     UploadConfig
	Submission SubmissionConfig
}

var ErrMissingKey = errors.New("required environment variable not set")

// Load reads TRAIL_* variables. A .env file named by TRAIL_ENV_FILE (default
// ".env") is loaded first when present; variables already set win.
func Load() (Config, error) {
	if err := loadDotEnv(envOrDefault("TRAIL_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	var cfg Config
	cfg.HTTP.Addr = envOrDefault("TRAIL_HTTP_ADDR", ":8080")
	cfg.Entity.Timeout = envOrDefaultDuration("TRAIL_ENTITY_TIMEOUT", 15*time.Second)
	cfg.Auth.Issuer = os.Getenv("TRAIL_JWT_ISSUER")
	cfg.DB.DSN = os.Getenv("TRAIL_DB_DSN")
	cfg.Redis.Addr = os.Getenv("TRAIL_REDIS_ADDR")
	cfg.Maps.APIKey = os.Getenv("TRAIL_MAPS_API_KEY")
	cfg.Maps.Language = envOrDefault("TRAIL_MAPS_LANGUAGE", "en")
	cfg.Catalog.CacheTTL = envOrDefaultDuration("TRAIL_CATALOG_CACHE_TTL", 10*time.Minute)

	cfg.Position.Timeout = envOrDefaultDuration("TRAIL_POSITION_TIMEOUT", 10*time.Second)
	cfg.Position.MaximumAge = envOrDefaultDuration("TRAIL_POSITION_MAX_AGE", 5*time.Minute)
	cfg.Ranking.ThresholdDegrees = envOrDefaultFloat("TRAIL_RANK_THRESHOLD_DEG", 0.001)
	cfg.Ranking.ClosestN = envOrDefaultInt("TRAIL_CLOSEST_N", 5)
	cfg.Upload.MaxFileBytes = int64(envOrDefaultInt("TRAIL_UPLOAD_MAX_BYTES", 10<<20))
	cfg.Upload.AllowedTypes = envOrDefaultList("TRAIL_UPLOAD_TYPES",
		[]string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/heic"})
	cfg.Upload.Parallelism = envOrDefaultInt("TRAIL_UPLOAD_PARALLELISM", 1)
	cfg.Submission.Timeout = envOrDefaultDuration("TRAIL_SUBMIT_TIMEOUT", 30*time.Second)
	cfg.Submission.SuccessDisplay = envOrDefaultDuration("TRAIL_SUCCESS_DISPLAY", 1500*time.Millisecond)

	var err error
	if cfg.Entity.BaseURL, err = envOrError("TRAIL_ENTITY_URL"); err != nil {
		return Config{}, err
	}
	if cfg.Auth.JWTSecret, err = envOrError("TRAIL_JWT_SECRET"); err != nil {
		return Config{}, err
	}
	if err := cfg.Log.Level.UnmarshalText([]byte(envOrDefault("TRAIL_LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("TRAIL_LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("godotenv %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrError(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrMissingKey, key)
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma separated value, dropping blanks.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
