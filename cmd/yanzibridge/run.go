package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-yanzi/internal/api"
	"github.com/nerrad567/gray-logic-yanzi/internal/bridges/yanzi"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-yanzi/migrations"
)

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Yanzi bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
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

	catalog, err := yanzi.LoadCatalog(cfg.Yanzi.CatalogFile)
	if err != nil {
		return err
	}
	log.Info("device catalog loaded", "models", catalog.Len(), "path", cfg.Yanzi.CatalogFile)

	location, err := yanzi.NewLocationService(cfg.Yanzi)
	if err != nil {
		return fmt.Errorf("creating location service: %w", err)
	}
	location.SetLogger(log.Component("cirrus"))

	will, err := healthWill()
	if err != nil {
		return err
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(will), mqtt.WithLogger(log.Component("mqtt")))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	opts := yanzi.BridgeOptions{
		Config:     cfg.Yanzi,
		Version:    version,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Location:   location,
		Registry:   yanzi.NewRegistry(catalog),
		Store:      yanzi.NewStore(db),
		Logger:     log.Component("bridge"),
	}

	// InfluxDB is optional; Points stays a nil interface when disabled.
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
		opts.Points = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	bridge, err := yanzi.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:   cfg.API,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Bridge:   bridge,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"location_id", cfg.Yanzi.LocationID)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, InfluxDB, MQTT,
	// database.

	log.Info("Yanzi bridge stopped")
	return nil
}

// healthWill makes the MQTT client own the bridge health topic: its Last
// Will is the offline health message, and a graceful Close leaves an
// offline message with reason graceful_shutdown.
func healthWill() (mqtt.Will, error) {
	offline, err := json.Marshal(yanzi.NewLWTMessage(yanzi.Protocol))
	if err != nil {
		return mqtt.Will{}, fmt.Errorf("encoding LWT: %w", err)
	}

	online := yanzi.HealthMessage{
		Bridge:    yanzi.Protocol,
		Timestamp: time.Now().UTC(),
		Status:    yanzi.HealthStarting,
		Version:   version,
		Reason:    "mqtt connected",
	}
	onlinePayload, err := json.Marshal(online)
	if err != nil {
		return mqtt.Will{}, fmt.Errorf("encoding online status: %w", err)
	}

	goodbye := yanzi.NewLWTMessage(yanzi.Protocol)
	goodbye.Reason = "graceful_shutdown"
	goodbyePayload, err := json.Marshal(goodbye)
	if err != nil {
		return mqtt.Will{}, fmt.Errorf("encoding goodbye status: %w", err)
	}

	return mqtt.Will{
		Topic:   yanzi.HealthTopic(),
		Online:  onlinePayload,
		Offline: offline,
		Goodbye: goodbyePayload,
	}, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The bridge's handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements yanzi.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements yanzi.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements yanzi.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements yanzi.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements yanzi.MQTTClient. The client is closed by run's
// defer chain, after the bridge has stopped.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}
