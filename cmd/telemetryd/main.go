// Telemetry Core - device registry and telemetry ingestion service.
//
// telemetryd registers devices, issues each one a single API key and stores
// the JSON telemetry they submit. Stored records are fanned out to live
// WebSocket subscribers and, when configured, to MQTT and InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/telemetry-core/internal/api"
	"github.com/nerrad567/telemetry-core/internal/audit"
	"github.com/nerrad567/telemetry-core/internal/auth"
	"github.com/nerrad567/telemetry-core/internal/device"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/config"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/database"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/logging"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/telemetry-core/internal/telemetry"
	"github.com/nerrad567/telemetry-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	defaultConfigPath = "configs/config.yaml"
	configPathEnv     = config.EnvPrefix + "CONFIG"
	auditQueueSize    = 256
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown once ctx is cancelled.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting telemetry core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log, err = logging.New(cfg.Logging, cfg.Service.Name, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer log.Close() //nolint:errcheck // Shutdown path
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"environment", cfg.Service.Environment,
	)

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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB), device.Options{
		UniqueNames: cfg.Registry.UniqueNames,
	})
	deviceRegistry.SetLogger(log)

	hasher := auth.NewHasher(cfg.Security.HashSalt)
	keyRepo := auth.NewKeyRepository(db.DB)
	gate := auth.NewGate(cfg.Security.AdminSecret, hasher, keyRepo)
	keyManager := auth.NewManager(hasher, keyRepo, gate)
	keyManager.SetLogger(log)

	ingestor := telemetry.NewIngestor(gate, keyRepo, deviceRegistry, telemetry.NewSQLiteRepository(db.DB))
	ingestor.SetLogger(log)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg, log, keyManager, ingestor)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		ingestor.AddSink(telemetry.NewInfluxSink(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, auditQueueSize)
	recorder.SetLogger(log)
	recorder.Start(ctx)
	defer recorder.Stop()

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Paging:    cfg.Registry,
		Logger:    log,
		DB:        db,
		Devices:   deviceRegistry,
		Keys:      keyManager,
		Gate:      gate,
		Ingestor:  ingestor,
		Audit:     recorder,
		AuditRepo: auditRepo,
		Version:   version,
	}
	// Typed nil clients must not reach the interface fields.
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.InfluxDB = influxClient
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Every sink, the WebSocket hub included, is registered by now.
	if mqttClient != nil && cfg.MQTT.Ingest {
		if err := subscribeIngest(cfg, log, mqttClient, ingestor); err != nil {
			return err
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("telemetry core stopped")
	return nil
}

// connectMQTT connects to the broker and wires it into key events and
// telemetry fan-out. Ingest is subscribed separately by subscribeIngest.
func connectMQTT(cfg *config.Config, log *logging.Logger, keys *auth.Manager, ingestor *telemetry.Ingestor) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	keys.SetEventPublisher(client)
	ingestor.AddSink(telemetry.NewMQTTSink(client))

	return client, nil
}

// subscribeIngest starts accepting telemetry over MQTT. It must run after
// the last AddSink so that no ingested record misses a sink.
func subscribeIngest(cfg *config.Config, log *logging.Logger, client *mqtt.Client, ingestor *telemetry.Ingestor) error {
	topics := client.Topics()
	//nolint:gosec // QoS validated to 0..2 by config
	if err := client.Subscribe(topics.AllDeviceIngest(), byte(cfg.MQTT.QoS), ingestor.MQTTHandler(topics)); err != nil {
		return fmt.Errorf("subscribing to telemetry ingest: %w", err)
	}
	log.Info("MQTT telemetry ingest enabled", "topic", topics.AllDeviceIngest())
	return nil
}

func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every enabled backend answers before the service
// reports itself ready. Disabled integrations are passed as nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
