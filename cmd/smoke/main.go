// README: Smoke runner against a deployed trail API; executes HTTP/DB/Redis checks and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	runner, err := NewRunner(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	results := runner.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, pending, skipped := 0, 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusFail:
			fail++
		case StatusPending:
			pending++
		case StatusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d PENDING=%d SKIP=%d\n", pass, fail, pending, skipped)

	if fail > 0 || (cfg.Strict && pending > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	MigrationPath  string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration

	// Token authenticates as the test user. When empty it is minted from
	// JWTSecret and User.
	Token     string
	JWTSecret string
	Issuer    string
	User      string
	TaskID    string
	Submit    bool
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("TRAIL_SMOKE_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("TRAIL_DB_DSN"), "Postgres DSN (optional)")
	flag.StringVar(&cfg.RedisAddr, "redis", os.Getenv("TRAIL_REDIS_ADDR"), "Redis address (optional)")
	flag.StringVar(&cfg.MigrationPath, "migration", envOrDefault("TRAIL_SMOKE_MIGRATION", "migrations/0001_init.sql"), "Migration SQL path")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", envOrDefaultBool("TRAIL_SMOKE_APPLY_MIGRATION", false), "Apply migration SQL before tests")
	flag.BoolVar(&cfg.Strict, "strict", envOrDefaultBool("TRAIL_SMOKE_STRICT", false), "Fail on pending checks")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("TRAIL_SMOKE_TIMEOUT", 60*time.Second), "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", envOrDefaultInt("TRAIL_SMOKE_CONCURRENCY", 8), "Concurrency for perf and race checks")
	flag.DurationVar(&cfg.Duration, "duration", envOrDefaultDuration("TRAIL_SMOKE_DURATION", 5*time.Second), "Duration for perf checks")
	flag.StringVar(&cfg.Token, "token", os.Getenv("TRAIL_SMOKE_TOKEN"), "Bearer token of the test user")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", os.Getenv("TRAIL_JWT_SECRET"), "Secret to mint a test token when -token is empty")
	flag.StringVar(&cfg.Issuer, "issuer", os.Getenv("TRAIL_JWT_ISSUER"), "Issuer of the minted token")
	flag.StringVar(&cfg.User, "user", envOrDefault("TRAIL_SMOKE_USER", "smoke-user"), "Subject of the minted token")
	flag.StringVar(&cfg.TaskID, "task", os.Getenv("TRAIL_SMOKE_TASK"), "Task id to open")
	flag.BoolVar(&cfg.Submit, "submit", envOrDefaultBool("TRAIL_SMOKE_SUBMIT", false), "Create a real response in the entity store")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

// mintToken signs a short-lived HS256 token for the smoke user.
func mintToken(secret, issuer, user string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "1" || v == "true" || v == "yes"
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		if n > 0 {
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
