// Command server starts the mediaplayer backend HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/api"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/media"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/observability/logging"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/observability/metrics"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/server"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/serverutil"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/storage"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/transcode"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	scratchDir := flag.String("scratch-dir", "", "directory for spooled uploads and transcode output")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	maxPendingBytes := flag.Int64("max-pending-bytes", 0, "admission budget for pending uploads in bytes (default 5 GiB)")
	mediaWorkers := flag.Int("media-workers", 0, "number of concurrent transcode workers")
	mediaQueueSize := flag.Int("media-queue-size", 0, "capacity of the transcode queue")
	mediaTimeout := flag.Duration("media-timeout", 0, "per-conversion timeout (default 25m)")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPrefix := flag.String("object-prefix", "", "object storage key prefix for renditions")
	objectPublicEndpoint := flag.String("object-public-endpoint", "", "public endpoint used for playback URLs")
	cacheRedisAddr := flag.String("cache-redis-addr", "", "Redis address for the playlist cache")
	cacheRedisUsername := flag.String("cache-redis-username", "", "Redis username for the playlist cache")
	cacheRedisPassword := flag.String("cache-redis-password", "", "Redis password for the playlist cache")
	cacheRedisDB := flag.Int("cache-redis-db", 0, "Redis database for the playlist cache")
	cacheTTL := flag.Duration("cache-ttl", 0, "playlist cache TTL")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIAPLAYER_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MEDIAPLAYER_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("MEDIAPLAYER_ADDR"), ":8080")

	scratch := firstNonEmpty(*scratchDir, os.Getenv("MEDIAPLAYER_SCRATCH_DIR"), filepath.Join(os.TempDir(), "mediaplayer-scratch"))
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		logger.Error("failed to create scratch directory", "path", scratch, "error", err)
		os.Exit(1)
	}

	var options []storage.Option
	objectCfg := storage.ObjectStorageConfig{
		Endpoint:       firstNonEmpty(*objectEndpoint, os.Getenv("MEDIAPLAYER_OBJECT_ENDPOINT")),
		Region:         firstNonEmpty(*objectRegion, os.Getenv("MEDIAPLAYER_OBJECT_REGION")),
		AccessKey:      firstNonEmpty(*objectAccessKey, os.Getenv("MEDIAPLAYER_OBJECT_ACCESS_KEY")),
		SecretKey:      firstNonEmpty(*objectSecretKey, os.Getenv("MEDIAPLAYER_OBJECT_SECRET_KEY")),
		Bucket:         firstNonEmpty(*objectBucket, os.Getenv("MEDIAPLAYER_OBJECT_BUCKET")),
		UseSSL:         resolveBool(*objectUseSSL, "MEDIAPLAYER_OBJECT_USE_SSL"),
		Prefix:         firstNonEmpty(*objectPrefix, os.Getenv("MEDIAPLAYER_OBJECT_PREFIX")),
		PublicEndpoint: firstNonEmpty(*objectPublicEndpoint, os.Getenv("MEDIAPLAYER_OBJECT_PUBLIC_ENDPOINT")),
	}
	if objectCfg.Endpoint != "" || objectCfg.Bucket != "" {
		options = append(options, storage.WithObjectStorage(objectCfg))
	} else {
		logger.Warn("object storage is not configured; uploads will fail at publication")
	}

	resolvedDSN := firstNonEmpty(*postgresDSN, os.Getenv("MEDIAPLAYER_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	driver := resolveStorageDriver(*storageDriver, os.Getenv("MEDIAPLAYER_STORAGE_DRIVER"), resolvedDSN)

	var (
		store storage.Repository
		err   error
	)
	switch driver {
	case "json":
		dataFile := firstNonEmpty(*dataPath, os.Getenv("MEDIAPLAYER_DATA"), "data/store.json")
		store, err = storage.New(dataFile, options...)
	case "postgres":
		if resolvedDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		pgOptions := append([]storage.Option(nil), options...)
		maxConns := resolveInt(*postgresMaxConns, "MEDIAPLAYER_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "MEDIAPLAYER_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "MEDIAPLAYER_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "MEDIAPLAYER_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "MEDIAPLAYER_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "MEDIAPLAYER_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("MEDIAPLAYER_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(resolvedDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	engine := transcode.NewFFmpegEngine()
	if binary := firstNonEmpty(*ffmpegBinary, os.Getenv("MEDIAPLAYER_FFMPEG")); binary != "" {
		engine.Binary = binary
	}

	processor := media.NewProcessor(media.ProcessorConfig{
		Store:      store,
		Engine:     engine,
		ScratchDir: scratch,
		Workers:    resolveInt(*mediaWorkers, "MEDIAPLAYER_MEDIA_WORKERS"),
		QueueSize:  resolveInt(*mediaQueueSize, "MEDIAPLAYER_MEDIA_QUEUE_SIZE"),
		Timeout:    resolveDuration(*mediaTimeout, "MEDIAPLAYER_MEDIA_TIMEOUT", 0),
		Logger:     logging.WithComponent(logger, "processor"),
	})

	playlistCache := media.NewPlaylistCache(media.PlaylistCacheConfig{
		Addr:     firstNonEmpty(*cacheRedisAddr, os.Getenv("MEDIAPLAYER_CACHE_REDIS_ADDR")),
		Username: firstNonEmpty(*cacheRedisUsername, os.Getenv("MEDIAPLAYER_CACHE_REDIS_USERNAME")),
		Password: firstNonEmpty(*cacheRedisPassword, os.Getenv("MEDIAPLAYER_CACHE_REDIS_PASSWORD")),
		DB:       resolveInt(*cacheRedisDB, "MEDIAPLAYER_CACHE_REDIS_DB"),
		TTL:      resolveDuration(*cacheTTL, "MEDIAPLAYER_CACHE_TTL", 0),
		Logger:   logging.WithComponent(logger, "playlist-cache"),
	})

	service := media.NewService(media.ServiceConfig{
		Store:           store,
		Queue:           processor,
		ScratchDir:      scratch,
		MaxPendingBytes: resolveInt64(*maxPendingBytes, "MEDIAPLAYER_MAX_PENDING_BYTES"),
		Logger:          logging.WithComponent(logger, "media"),
		PlaylistCache:   playlistCache,
	})

	handler := api.NewHandler(store, service)

	tlsCfg := server.TLSConfig{
		CertFile: firstNonEmpty(*tlsCert, os.Getenv("MEDIAPLAYER_TLS_CERT")),
		KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MEDIAPLAYER_TLS_KEY")),
	}

	srv, err := server.New(handler, server.Config{
		Addr:    listenAddr,
		TLS:     tlsCfg,
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	processor.Start()

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mediaplayer API listening", "addr", listenAddr, "driver", driver)
	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
	}
	logger.Info("metrics endpoint available", "path", "/metrics")

	runErr := serverutil.Run(runCtx, serverutil.Config{
		Server: srv.HTTPServer(),
		TLS: serverutil.TLSConfig{
			CertFile: tlsCfg.CertFile,
			KeyFile:  tlsCfg.KeyFile,
		},
		ShutdownTimeout: 10 * time.Second,
	})
	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		logger.Error("server error", "error", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := processor.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop media processor", "error", err)
	}

	if err := playlistCache.Close(); err != nil {
		logger.Warn("failed to close playlist cache", "error", err)
	}

	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	} else if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres"
	}
	return "json"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
