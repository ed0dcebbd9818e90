// Hearth Core - Smart Home Coordination Layer
//
// This is the main entry point for the Hearth Core daemon. Hearth is an
// event-driven coordination layer for heterogeneous smart-home devices:
//   - Local-first operation, no cloud dependency
//   - One handler per protocol (MQTT, WiFi, Bluetooth, Zigbee, Z-Wave,
//     Matter, Tuya, Govee), coordinated through a central hub
//   - Event bus decoupling: discovery, state, and commands flow as events
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/hearthd/hearth-core/migrations"

	"github.com/hearthd/hearth-core/internal/api"
	"github.com/hearthd/hearth-core/internal/event"
	"github.com/hearthd/hearth-core/internal/hub"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
	"github.com/hearthd/hearth-core/internal/infrastructure/database"
	"github.com/hearthd/hearth-core/internal/infrastructure/influxdb"
	"github.com/hearthd/hearth-core/internal/infrastructure/logging"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthd/hearth-core/internal/store"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Hearth Core",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database and run migrations
	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	deviceStore := store.NewSQLiteStore(db)

	// Start the event bus before anything can emit
	bus := event.NewBus(log)
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}
	defer func() {
		log.Info("stopping event bus")
		bus.Stop()
	}()
	log.Info("event bus started")

	// Connect to MQTT broker. A down broker is tolerated: the MQTT and
	// Zigbee handlers stay offline while everything else runs.
	var mqttClient *mqtt.Client
	if cfg.ProtocolEnabled("mqtt") || cfg.ProtocolEnabled("zigbee") {
		mqttClient, err = mqtt.Connect(cfg.Protocols.MQTT)
		if err != nil {
			log.Warn("MQTT broker unavailable, MQTT-based protocols disabled",
				"broker", fmt.Sprintf("%s:%d", cfg.Protocols.MQTT.Broker.Host, cfg.Protocols.MQTT.Broker.Port),
				"error", err,
			)
			mqttClient = nil
		} else {
			defer func() {
				log.Info("disconnecting from MQTT")
				if closeErr := mqttClient.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()
			mqttClient.SetLogger(log)
			mqttClient.SetOnConnect(func() {
				log.Info("MQTT reconnected")
			})
			mqttClient.SetOnDisconnect(func(err error) {
				log.Warn("MQTT disconnected", "error", err)
			})
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.Protocols.MQTT.Broker.Host, cfg.Protocols.MQTT.Broker.Port),
				"client_id", cfg.Protocols.MQTT.Broker.ClientID,
			)
		}
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build and start the hub
	deviceHub := hub.New(cfg, bus, deviceStore, log, mqttClient, influxClient)
	if err := deviceHub.Start(ctx); err != nil {
		return fmt.Errorf("starting hub: %w", err)
	}
	defer func() {
		log.Info("stopping hub")
		deviceHub.Stop()
	}()
	log.Info("hub started", "protocols", deviceHub.GetAvailableProtocols())

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Store:   deviceStore,
		Hub:     deviceHub,
		Bus:     bus,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	bus.Emit(event.New(event.TypeSystemStartup, map[string]any{
		"version":   version,
		"protocols": deviceHub.GetAvailableProtocols(),
	}, event.WithSource("core")))

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Let subscribers see the shutdown before the defer chain tears the
	// stack down in reverse order.
	bus.EmitSync(context.Background(), event.New(event.TypeSystemShutdown, map[string]any{
		"version": version,
	}, event.WithSource("core")))

	log.Info("Hearth Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HEARTH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEARTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the core infrastructure connections are healthy.
// MQTT and protocol handlers are deliberately excluded: they are allowed
// to be down while the core keeps serving reads and local devices.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
