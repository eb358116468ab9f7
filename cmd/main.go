package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartfilterpro/internal/bus"
	"smartfilterpro/internal/cloud"
	"smartfilterpro/internal/handlers"
	"smartfilterpro/internal/logger"
	"smartfilterpro/internal/metrics"
	"smartfilterpro/internal/repository"
	"smartfilterpro/internal/server"
	"smartfilterpro/internal/service"

	"github.com/spf13/viper"
)

func main() {
	// init logger
	log := logger.Get(logger.InfoLevel)

	// load config.yml
	if err := loadConfig(); err != nil {
		log.Fatalw("error reading config", "err", err)
	}

	// open DB
	db, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Fatalw("failed to close sqlite", "err", cerr)
		}
	}()

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// wire dependencies
	repos := repository.NewRepository(db)
	m := metrics.New()

	auth := cloud.NewBubbleAuth(
		viper.GetString("cloud.base_url"),
		viper.GetString("cloud.email"),
		viper.GetString("cloud.password"),
		viper.GetString("cloud.user_id"),
		viper.GetString("cloud.hvac_id"),
		log.SugaredLogger,
	)
	// Log in eagerly so identity is known before the first payload; a failure
	// here is retried on first use.
	if _, err := auth.Token(ctx); err != nil {
		log.Warnw("initial backend login failed", "err", err)
	}

	api := cloud.New(viper.GetString("cloud.base_url"), auth, log.SugaredLogger)

	services := service.NewService(service.Deps{
		Repos:    repos,
		Cloud:    api,
		Identity: auth,
		Metrics:  m,
		Log:      log.SugaredLogger,
		EntityID: viper.GetString("entity_id"),
		Device: service.DeviceMeta{
			Name:         viper.GetString("device.name"),
			Manufacturer: viper.GetString("device.manufacturer"),
			Model:        viper.GetString("device.model"),
		},
		SigningKey: viper.GetString("auth.signing_key"),
	})
	apiHandler := handlers.NewHandler(services, m, log)

	// Best-effort thermostat linkage check against the backend.
	if uid, hid := auth.UserID(), auth.HvacID(); uid != "" && hid != "" {
		if err := api.ResolveThermostat(ctx, uid, hid); err != nil {
			log.Warnw("thermostat resolve failed", "err", err)
		}
	}

	src, err := buildSource(log)
	if err != nil {
		log.Fatalw("invalid source config", "err", err)
	}

	// start background loops
	go services.Outbox.Run(ctx)
	go services.Status.Run(ctx)
	go func() {
		if err := services.Telemetry.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("telemetry loop stopped", "err", err)
		}
	}()
	go func() {
		if err := src.Run(ctx, services.Telemetry.Ingest()); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("event source stopped", "err", err)
		}
	}()

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, viper.GetString("port"), apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")
	return viper.ReadInConfig()
}

// openDB initializes the SQLite database using configuration.
func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "smartfilterpro.db")
		dbPath = "smartfilterpro.db"
	}
	return repository.InitDB(dbPath)
}

// buildSource picks the host event source from configuration. The websocket
// source is the default; statestream listens to an MQTT mirror instead.
func buildSource(log *logger.Logger) (bus.Source, error) {
	switch kind := viper.GetString("source.kind"); kind {
	case "", "websocket":
		return bus.NewWebsocketSource(
			viper.GetString("ha.url"),
			viper.GetString("ha.token"),
			viper.GetString("entity_id"),
			log.SugaredLogger,
		), nil
	case "mqtt", "statestream":
		return bus.NewStatestreamSource(
			viper.GetString("mqtt.broker"),
			viper.GetString("mqtt.prefix"),
			viper.GetString("mqtt.client_id"),
			viper.GetString("entity_id"),
			log.SugaredLogger,
		), nil
	default:
		return nil, fmt.Errorf("unknown source.kind %q", kind)
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
