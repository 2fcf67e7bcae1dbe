package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend kinds.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the whole process configuration, read from the environment.
type Config struct {
	LogLevel string
	Server   Server
	Auth     Auth
	Backend  Backend
	Database Database
	Redis    RedisConfig
	Kafka    Kafka
	Sync     Sync
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	// AdminToken guards operator endpoints; empty disables them.
	AdminToken string
}

// Auth configures bearer token validation.
type Auth struct {
	JWTSigningKey string
	Issuer        string
	Audience      string
}

// Backend selects the data collaborator.
type Backend struct {
	Kind string
	// Seed loads demo applications into the memory backend.
	Seed bool
	// PendingCapacity bounds the failed-write buffer; 0 disables it.
	PendingCapacity int
}

// Database configures the postgres backend.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

// RedisConfig configures the shared change feed. An empty URL disables it.
type RedisConfig struct {
	URL           string
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ChannelPrefix string
}

// Kafka configures the audit mirror. No brokers disables it.
type Kafka struct {
	Brokers           []string
	AuditTopic        string
	Partitions        int32
	ReplicationFactor int16
}

// Sync tunes the live lists and dashboards.
type Sync struct {
	AuditLimit       int
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	IdleTimeout      time.Duration
	SweepSchedule    string
	SurfaceErrors    bool
	// CompensateOnAuditFailure restores the prior status when the audit
	// insert fails instead of keeping the orphaned update.
	CompensateOnAuditFailure bool
}

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []error
	e := envReader{errs: &errs}

	cfg := Config{
		LogLevel: e.String("LOG_LEVEL", "info"),
		Server: Server{
			Addr:            e.String("GOVPORTAL_ADDR", ":8080"),
			CORSOrigins:     e.List("CORS_ALLOWED_ORIGINS"),
			ShutdownTimeout: e.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
			AdminToken:      e.String("ADMIN_TOKEN", ""),
		},
		Auth: Auth{
			// Use a default for development - should be overridden in production
			JWTSigningKey: e.String("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:        e.String("JWT_ISSUER", "govportal"),
			Audience:      e.String("JWT_AUDIENCE", "govportal-api"),
		},
		Backend: Backend{
			Kind:            strings.ToLower(e.String("BACKEND", BackendMemory)),
			Seed:            e.Bool("SEED_DEMO_DATA", true),
			PendingCapacity: e.Int("PENDING_WRITES_CAPACITY", 1000),
		},
		Database: Database{
			URL:             e.String("DATABASE_URL", ""),
			MaxOpenConns:    e.Int("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    e.Int("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.Duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			Migrate:         e.Bool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:           e.String("REDIS_URL", ""),
			PoolSize:      e.Int("REDIS_POOL_SIZE", 10),
			MinIdleConns:  e.Int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   e.Duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   e.Duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  e.Duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			ChannelPrefix: e.String("REDIS_CHANNEL_PREFIX", "govportal:changes"),
		},
		Kafka: Kafka{
			Brokers:           e.List("KAFKA_BROKERS"),
			AuditTopic:        e.String("KAFKA_AUDIT_TOPIC", "govportal.audit"),
			Partitions:        int32(e.Int("KAFKA_AUDIT_PARTITIONS", 3)),
			ReplicationFactor: int16(e.Int("KAFKA_AUDIT_REPLICATION", 1)),
		},
		Sync: Sync{
			AuditLimit:               e.Int("AUDIT_LIMIT", 100),
			ReconnectInitial:         e.Duration("SYNC_RECONNECT_INITIAL", 500*time.Millisecond),
			ReconnectMax:             e.Duration("SYNC_RECONNECT_MAX", 30*time.Second),
			IdleTimeout:              e.Duration("DASHBOARD_IDLE_TIMEOUT", 15*time.Minute),
			SweepSchedule:            e.String("DASHBOARD_SWEEP_SCHEDULE", "@every 1m"),
			SurfaceErrors:            e.Bool("SYNC_SURFACE_ERRORS", false),
			CompensateOnAuditFailure: e.Bool("COMPENSATE_ON_AUDIT_FAILURE", false),
		},
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.Backend.Kind {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("BACKEND must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Backend.Kind))
	}
	if c.Sync.AuditLimit <= 0 {
		errs = append(errs, errors.New("AUDIT_LIMIT must be positive"))
	}
	if c.Backend.PendingCapacity < 0 {
		errs = append(errs, errors.New("PENDING_WRITES_CAPACITY must not be negative"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic == "" {
		errs = append(errs, errors.New("KAFKA_AUDIT_TOPIC is required when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}

type envReader struct {
	errs *[]error
}

func (e envReader) String(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e envReader) Int(key string, def int) int {
	v := e.String(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e envReader) Bool(key string, def bool) bool {
	v := e.String(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e envReader) Duration(key string, def time.Duration) time.Duration {
	v := e.String(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

// List splits a comma-separated value, dropping empty items.
func (e envReader) List(key string) []string {
	var out []string
	for _, item := range strings.Split(e.String(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
