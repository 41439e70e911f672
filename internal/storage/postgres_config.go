package storage

import "time"

// PostgresConfig describes how the repository initialises its Postgres
// connection pool and integrates with the object storage backend.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
	StatementTimeout    time.Duration
	ObjectStorage       ObjectStorageConfig
}

const defaultPostgresStatementTimeout = 10 * time.Second

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{
		DSN:              dsn,
		StatementTimeout: defaultPostgresStatementTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyPostgres(&cfg)
		}
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = defaultPostgresStatementTimeout
	}
	return cfg
}
