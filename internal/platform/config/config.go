// Package config builds process configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strings"
	"time"

	wconfig "gatelist/internal/whitelist/config"
	pstrings "gatelist/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
}

// Postgres captures the durable store connection.
type Postgres struct {
	URL string
}

// Redis captures the optional shared cache connection. An empty URL selects
// the in-process cache.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	EntryTTL     time.Duration
}

// Kafka captures the optional audit stream. Empty brokers disable it.
type Kafka struct {
	Brokers    []string
	AuditTopic string
}

// Config is the full process configuration.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
}

// FromEnv builds the configuration from environment variables.
func FromEnv() Config {
	addr := os.Getenv("GATELIST_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	topic := os.Getenv("KAFKA_AUDIT_TOPIC")
	if topic == "" {
		topic = "gatelist.audit"
	}

	return Config{
		Server: Server{Addr: addr},
		Postgres: Postgres{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			EntryTTL:     envDuration("REDIS_ENTRY_TTL", time.Hour),
		},
		Kafka: Kafka{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: topic,
		},
	}
}

// Whitelist builds the whitelist module tunables from environment variables,
// falling back to module defaults. An unrecognized gate policy keeps the
// strict default.
func Whitelist() *wconfig.Config {
	cfg := wconfig.DefaultConfig()
	if policy := wconfig.GatePolicy(os.Getenv("GATE_FALLBACK_POLICY")); policy.IsValid() {
		cfg.GatePolicy = policy
	}
	cfg.GateTimeout = envDuration("GATE_TIMEOUT", cfg.GateTimeout)
	cfg.DrainInterval = envDuration("SYNC_DRAIN_INTERVAL", cfg.DrainInterval)
	return cfg
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return pstrings.DedupeAndTrim(strings.Split(raw, ","))
}
