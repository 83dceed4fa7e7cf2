// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "maus-bus/docs"
	"maus-bus/internal/bus"
	"maus-bus/internal/config"
	"maus-bus/internal/database"
	"maus-bus/internal/discovery"
	"maus-bus/internal/driver"
	"maus-bus/internal/events"
	"maus-bus/internal/events/mqtt"
	"maus-bus/internal/handler"
	"maus-bus/internal/repository"
	"maus-bus/internal/routes"
	"maus-bus/internal/service"
	"maus-bus/internal/transport/i2cbus"
	"maus-bus/internal/transport/serialbridge"
	"maus-bus/internal/transport/sim"
	"maus-bus/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	// Bus
	bus       *bus.Bus
	transport io.Closer
	scanner   *discovery.Scanner
	registry  *driver.Registry

	// Events
	events    *events.Bus
	publisher *mqtt.Publisher

	// Services
	busService    *service.BusService
	driverService *service.DriverService
	wsHandler     *handler.WebSocketHandler

	// Repositories
	definitionRepo repository.DefinitionRepository
	reportRepo     repository.ReportRepository

	ctx    context.Context
	cancel context.CancelFunc
}

// @title Maus Bus API
// @version 1.0.0
// @description Accessory bus discovery, driver registry and JSON driver definitions

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8086
// @BasePath /api/v1
func main() {
	configPath := flag.String("config", "", "path to config file (default: search ., ./config, /etc/maus-bus)")
	flag.Parse()

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "maus-bus")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"transport", app.initializeTransport},
		{"database", app.initializeDatabase},
		{"repositories", app.initializeRepositories},
		{"driver registry", app.initializeDriverRegistry},
		{"events", app.initializeEvents},
		{"services", app.initializeServices},
		{"server", app.initializeServer},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			app.release()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	return app, nil
}

// initializeTransport opens the configured host transport
func (app *Application) initializeTransport() error {
	cfg := &app.config.Bus
	app.bus = bus.New(nil)

	switch cfg.Transport {
	case config.TransportNone:
		app.logger.Warn("No bus transport configured; bus operations will fail")

	case config.TransportSim:
		s, err := newSimBus(cfg)
		if err != nil {
			return err
		}
		app.bus.Init(s)

	case config.TransportSerial:
		port := cfg.Serial.Port
		if port == config.SerialPortAuto {
			ports, err := serialbridge.ListPorts(nil)
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				return fmt.Errorf("no serial bridge found for bus.serial.port=%s", config.SerialPortAuto)
			}
			port = ports[0]
			app.logger.Info("Serial bridge port selected", zap.String("port", port), zap.Strings("candidates", ports))
		}
		bridge, err := serialbridge.Open(&serialbridge.Config{
			Port:     port,
			BaudRate: cfg.Serial.BaudRate,
			DataBits: cfg.Serial.DataBits,
			StopBits: cfg.Serial.StopBits,
			Parity:   cfg.Serial.Parity,
			Timeout:  cfg.Serial.Timeout,
		}, app.logger)
		if err != nil {
			return err
		}
		app.bus.Init(bridge)
		app.transport = bridge

	case config.TransportI2C:
		dev, err := i2cbus.OpenDev(cfg.I2CDevice)
		if err != nil {
			return err
		}
		app.bus.Init(i2cbus.New(dev))
		app.transport = dev

	default:
		return fmt.Errorf("unknown bus transport %q", cfg.Transport)
	}

	app.logger.Info("Bus transport initialized", zap.String("transport", cfg.Transport))
	return nil
}

// newSimBus attaches the configured identification EEPROMs and the
// peripheral chips their features call for.
func newSimBus(cfg *config.BusConfig) (*sim.Bus, error) {
	s := sim.New()
	for _, d := range cfg.Sim.Devices {
		features, err := bus.FeaturesFromNames(d.Features)
		if err != nil {
			return nil, fmt.Errorf("sim device 0x%02X: %w", d.Address, err)
		}
		s.AttachEEPROM(byte(d.Address), bus.Descriptor{
			Guard:       bus.GuardSentinel,
			VendorID:    uint16(d.VendorID),
			ProductID:   uint16(d.ProductID),
			Serial:      uint16(d.Serial),
			ProductType: bus.ProductType(d.ProductType),
			Features:    features,
			VendorName:  d.VendorName,
			ProductName: d.ProductName,
		})

		chips := map[byte]bool{
			byte(cfg.Chips.UART):   features.Serial(),
			byte(cfg.Chips.GPIO):   features.GPIO(),
			byte(cfg.Chips.Signal): features.TSCode(),
		}
		for addr, needed := range chips {
			if _, ok := s.Device(addr); needed && !ok {
				s.Attach(addr)
			}
		}
	}
	return s, nil
}

// initializeDatabase sets up database connection and runs migrations
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled; definitions and reports are kept in memory")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	migrator := database.NewMigrator(db, app.logger, &app.config.Database)
	if app.config.Database.AutoMigrate {
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	} else if version, ok, err := migrator.Version(); err != nil {
		app.logger.Warn("Could not read schema version", zap.Error(err))
	} else if !ok {
		app.logger.Warn("Database schema not initialized and auto_migrate is off")
	} else {
		app.logger.Info("Database schema", zap.Uint("version", version))
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() error {
	if app.database == nil {
		return nil
	}
	app.definitionRepo = repository.NewDefinitionRepository(app.database, app.logger)
	app.reportRepo = repository.NewReportRepository(app.database, app.logger)

	app.logger.Info("Repositories initialized successfully")
	return nil
}

// initializeDriverRegistry sets up the scanner and driver registry
func (app *Application) initializeDriverRegistry() error {
	chips := app.config.Bus.Chips
	app.scanner = discovery.NewScanner(app.bus, app.logger)
	app.registry = driver.NewRegistry(app.bus, app.scanner, app.logger)
	driver.RegisterDefaultDrivers(app.registry, driver.ChipAddresses{
		UART:   byte(chips.UART),
		GPIO:   byte(chips.GPIO),
		Signal: byte(chips.Signal),
	}, app.logger)

	app.logger.Info("Driver registry initialized successfully")
	return nil
}

// initializeEvents starts the event bus and, when enabled, the MQTT
// publisher
func (app *Application) initializeEvents() error {
	app.events = events.NewBus(app.logger)
	go app.events.Start()

	mc := app.config.MQTT
	if !mc.Enabled {
		return nil
	}
	publisher, err := mqtt.Connect(mqtt.Options{
		Broker:         mc.Broker,
		ClientID:       mc.ClientID,
		Username:       mc.Username,
		Password:       mc.Password,
		TopicPrefix:    mc.TopicPrefix,
		QoS:            byte(mc.QoS),
		Retain:         mc.Retain,
		KeepAlive:      mc.KeepAlive,
		ConnectTimeout: mc.ConnectTimeout,
	}, app.logger)
	if err != nil {
		return err
	}
	app.publisher = publisher
	go publisher.Run(app.ctx, app.events.Subscribe(events.All))

	app.logger.Info("MQTT publisher connected", zap.String("broker", mc.Broker))
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.busService = service.NewBusService(
		app.scanner,
		app.registry,
		app.events,
		&app.config.Bus,
		app.logger,
	)

	app.driverService = service.NewDriverService(
		app.registry,
		app.definitionRepo,
		app.reportRepo,
		app.events,
		&app.config.Drivers,
		app.config.Bus.OperationTimeout,
		app.logger,
	)

	app.busService.OnRegistered(func(ctx context.Context, inst *driver.Instance) {
		app.driverService.Bind(ctx, inst)
	})
	app.busService.OnRemoved(app.driverService.Unbind)

	n, err := app.driverService.LoadDefinitions(app.ctx)
	if err != nil {
		return fmt.Errorf("failed to load driver definitions: %w", err)
	}

	app.wsHandler = handler.NewWebSocketHandler(
		app.busService,
		app.driverService,
		app.events,
		app.config.Security.AllowedOrigins,
		app.logger,
	)

	app.logger.Info("Services initialized successfully", zap.Int("definitions", n))
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.busService,
		app.driverService,
		app.wsHandler,
	)

	router := routerManager.SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)

	return nil
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	go app.wsHandler.Run(app.ctx)

	if app.config.Bus.ScanOnStart {
		go app.initialScan()
	}

	if app.config.Bus.PresenceInterval > 0 {
		app.logger.Info("Presence monitoring started",
			zap.Duration("interval", app.config.Bus.PresenceInterval),
		)
		go app.busService.RunPresenceMonitor(app.ctx, app.config.Bus.PresenceInterval)
	}

	if app.reportRepo != nil && app.config.Database.ReportRetention > 0 {
		go app.startCleanupService()
	}

	app.logger.Info("Background services started")
}

// initialScan runs the startup scan
func (app *Application) initialScan() {
	ctx, cancel := context.WithTimeout(app.ctx, 2*time.Minute)
	defer cancel()

	result, err := app.busService.Scan(ctx, "", false, app.config.Bus.AutoRegister)
	if err != nil {
		app.logger.Error("Startup scan failed", zap.Error(err))
		return
	}
	app.logger.Info("Startup scan completed",
		zap.Int("found", result.Found),
		zap.Strings("registered", result.Registered),
		zap.Strings("failed", result.Failed),
	)
}

// startCleanupService prunes old action reports every hour
func (app *Application) startCleanupService() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started",
		zap.Duration("report_retention", app.config.Database.ReportRetention),
	)

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(app.ctx, 10*time.Minute)
			if _, err := app.driverService.PruneReports(ctx, app.config.Database.ReportRetention); err != nil {
				app.logger.Error("Failed to prune old action reports", zap.Error(err))
			}
			cancel()
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "maus-bus")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	app.release()

	app.logger.Info("Application shutdown completed")
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// release stops background work and closes the publisher, event bus,
// transport and database. Safe on a partially initialized application.
func (app *Application) release() {
	app.cancel()

	if app.publisher != nil {
		app.publisher.Close()
	}
	if app.events != nil {
		app.events.Stop()
	}

	if app.transport != nil {
		if err := app.transport.Close(); err != nil {
			app.logger.Error("Transport close error", zap.Error(err))
		}
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}
}

// Start runs the HTTP server and background services until a shutdown
// signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()

	app.waitForShutdown()

	return nil
}
