package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string
	GRPCAddr string
	MySQL    MySQL
	Redis    Redis
	Sweep    Sweep

	ReportCacheTTL time.Duration
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
}

type MySQL struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type Sweep struct {
	Interval  time.Duration
	BatchSize int
}

func (c *Config) IsDev() bool { return c.Env == "development" }

// Load reads .env when present and then the process environment. Unset
// variables fall back to local development defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	p := parser{}
	cfg := &Config{
		Env:      getEnv("ENV", "production"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr: getEnv("GRPC_ADDR", ":50051"),
		MySQL: MySQL{
			DSN:             getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/fillrate?parseTime=true"),
			MaxOpenConns:    p.int("MYSQL_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    p.int("MYSQL_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: p.duration("MYSQL_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: Redis{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       p.int("REDIS_DB", 0),
			PoolSize: p.int("REDIS_POOL_SIZE", 100),
		},
		Sweep: Sweep{
			Interval:  p.duration("SWEEP_INTERVAL", time.Hour),
			BatchSize: p.int("SWEEP_BATCH_SIZE", 1000),
		},
		ReportCacheTTL: p.duration("REPORT_CACHE_TTL", 60*time.Second),
		LockTTL:        p.duration("LOCK_TTL", 30*time.Second),
		IdempotencyTTL: p.duration("IDEMPOTENCY_TTL", 24*time.Hour),
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if val, exists := os.LookupEnv(key); exists && val != "" {
		return val
	}
	return def
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	if d <= 0 {
		p.fail(fmt.Errorf("config: %s must be positive, got %s", key, raw))
		return def
	}
	return d
}

func (p *parser) int(key string, def int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
