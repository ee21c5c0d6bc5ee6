// TagSakay Core - RFID access and queue security service
//
// This is the main entry point for the TagSakay core. It serves the HTTP API
// used by scanners and the dashboard and, when MQTT is enabled, the
// persistent scanner link and telemetry fanout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/tagsakay/tagsakay-core/migrations"

	"github.com/tagsakay/tagsakay-core/internal/api"
	"github.com/tagsakay/tagsakay-core/internal/audit"
	"github.com/tagsakay/tagsakay-core/internal/auth"
	"github.com/tagsakay/tagsakay-core/internal/device"
	"github.com/tagsakay/tagsakay-core/internal/devicelink"
	"github.com/tagsakay/tagsakay-core/internal/guard"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/config"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/influxdb"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/logging"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/mqtt"
	"github.com/tagsakay/tagsakay-core/internal/rfid"
	"github.com/tagsakay/tagsakay-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when TAGSAKAY_CONFIG is not set.
	defaultConfigPath = "configs/config.yaml"

	// auditQueueSize is the number of security events buffered for writing.
	auditQueueSize = 256

	// maintenanceInterval is how often expired revocations are purged and
	// guard table sizes are reported.
	maintenanceInterval = time.Hour
)

func main() {
	// Cancel on Ctrl+C or SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting TagSakay Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Credentials and tokens
	hasher := auth.NewHasher(
		auth.WithIterations(cfg.Security.Hasher.Iterations),
		auth.WithMaxIterations(cfg.Security.Hasher.MaxIterations),
		auth.WithHasherLogger(log.Logger),
	)
	access, err := auth.NewTokenService(cfg.Security.JWT.Secret,
		auth.WithTTL(cfg.AccessTokenTTL()),
		auth.WithIssuer(cfg.Security.JWT.Issuer),
		auth.WithAudience(cfg.Security.JWT.Audience),
	)
	if err != nil {
		return fmt.Errorf("creating access token service: %w", err)
	}
	session, err := auth.NewSessionService(cfg.Security.Session.Secret,
		auth.WithTTL(cfg.SessionTTL()),
		auth.WithIssuer(cfg.Security.JWT.Issuer),
		auth.WithAudience(cfg.Security.JWT.Audience),
	)
	if err != nil {
		return fmt.Errorf("creating session token service: %w", err)
	}

	users := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedSuperadmin(ctx, users, hasher, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding superadmin: %w", seedErr)
	}
	revocations := auth.NewRevocationRepository(db.DB)

	// Abuse guard
	lo := cfg.Security.Lockout
	lockout := guard.NewAccountLockout(guard.LockoutConfig{
		MaxAttempts:   lo.MaxAttempts,
		Window:        config.Seconds(lo.Window),
		Duration:      config.Seconds(lo.Duration),
		SweepInterval: config.Seconds(lo.SweepInterval),
	})
	limiter := guard.NewRouteLimiter(guard.LimiterConfig{
		SweepInterval: config.Seconds(cfg.Security.RateLimit.SweepInterval),
		MaxLockout:    config.Seconds(cfg.Security.RateLimit.MaxLockout),
	})

	login, err := auth.NewLoginService(users, hasher, access, session, lockout, log.Logger)
	if err != nil {
		return fmt.Errorf("creating login service: %w", err)
	}

	// Devices
	devices := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	devices.SetLogger(log)
	if refreshErr := devices.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", devices.Count())

	apiKeys := device.NewAPIKeyRepository(db.DB)
	deviceAuth := device.NewAuthenticator(devices, apiKeys, hasher)
	deviceAuth.SetLogger(log)

	// Optional infrastructure
	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInfluxDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Interface values stay nil when a client is disabled.
	var (
		publisher    telemetry.Publisher
		points       telemetry.PointWriter
		mqttHealth   api.HealthChecker
		influxHealth api.HealthChecker
	)
	if mqttClient != nil {
		publisher, mqttHealth = mqttClient, mqttClient
	}
	if influxClient != nil {
		points, influxHealth = influxClient, influxClient
	}
	fanout := telemetry.New(publisher, points, log.Logger)

	// Scans and security events
	tags := rfid.NewSQLiteRepository(db)
	classifier := rfid.NewClassifier(tags, log.Logger, rfid.WithObserver(fanout))

	events := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(events, auditQueueSize, log.Logger, fanout)

	var (
		links       *devicelink.Manager
		linkCounter api.LinkCounter
	)
	if cfg.DeviceLink.Enabled {
		dl := cfg.DeviceLink
		links = devicelink.NewManager(devicelink.ManagerConfig{
			Link: devicelink.LinkConfig{
				Debounce:   time.Duration(dl.DebounceMillis) * time.Millisecond,
				BufferSize: dl.BufferSize,
			},
			AuthLimiter: limiter,
		}, deviceAuth, classifier, guard.NewThrottle(dl.ScansPerSecond, dl.Burst), log.Logger)
		if startErr := links.Start(ctx, mqttClient); startErr != nil {
			return fmt.Errorf("starting device link: %w", startErr)
		}
		linkCounter = links
		log.Info("device link started")
	}

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		Security:    cfg.Security,
		Logger:      log,
		DB:          db,
		Users:       users,
		Revocations: revocations,
		Login:       login,
		Access:      access,
		Session:     session,
		Hasher:      hasher,
		Devices:     devices,
		APIKeys:     apiKeys,
		DeviceAuth:  deviceAuth,
		Tags:        tags,
		Classifier:  classifier,
		Limiter:     limiter,
		Lockout:     lockout,
		Audit:       recorder,
		Events:      events,
		MQTT:        mqttHealth,
		InfluxDB:    influxHealth,
		DeviceLink:  linkCounter,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := healthCheck(ctx, db, mqttHealth, influxHealth); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	// Workers outlive ctx so events recorded while the server drains are
	// still written.
	workCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	g, gctx := errgroup.WithContext(workCtx)
	g.Go(func() error {
		recorder.Run(gctx)
		return nil
	})
	if links != nil {
		g.Go(func() error { return links.Run(gctx) })
	}
	g.Go(func() error {
		maintain(gctx, revocations, limiter, lockout, influxClient, log)
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-gctx.Done():
		log.Error("background worker stopped, shutting down")
	}

	if closeErr := server.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}
	if links != nil {
		links.DrainAll(workCtx)
	}
	stopWorkers()
	if err := g.Wait(); err != nil {
		log.Error("background worker failed", "error", err)
	}

	log.Info("TagSakay Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TAGSAKAY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TAGSAKAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT connects to the broker when MQTT is enabled.
// Returns a nil client when it is disabled.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// connectInfluxDB connects to InfluxDB when it is enabled.
// Returns a nil client when it is disabled.
func connectInfluxDB(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})

	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// healthCheck verifies the database and any enabled optional clients.
func healthCheck(ctx context.Context, db api.HealthChecker, optional ...api.HealthChecker) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	for _, hc := range optional {
		if hc == nil {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// revocationPurger deletes revocations whose tokens have expired anyway.
type revocationPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// tableSizer reports the number of entries an in-memory guard holds.
type tableSizer interface {
	Len() int
}

// maintain runs periodic housekeeping until ctx is done.
func maintain(ctx context.Context, revocations revocationPurger, limiter, lockout tableSizer, influx *influxdb.Client, log *logging.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := revocations.PurgeExpired(ctx, now)
			if err != nil {
				log.Warn("purging expired revocations failed", "error", err)
			} else if n > 0 {
				log.Info("purged expired revocations", "count", n)
			}

			if influx != nil {
				influx.WriteGuardStats("rate_limit", limiter.Len())
				influx.WriteGuardStats("lockout", lockout.Len())
			}
		}
	}
}
