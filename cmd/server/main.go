package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	app "github.com/erp/stockrecon/internal/application/reconciliation"
	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/erp/stockrecon/internal/infrastructure/cache"
	"github.com/erp/stockrecon/internal/infrastructure/config"
	"github.com/erp/stockrecon/internal/infrastructure/event"
	"github.com/erp/stockrecon/internal/infrastructure/logger"
	"github.com/erp/stockrecon/internal/infrastructure/persistence"
	"github.com/erp/stockrecon/internal/infrastructure/scheduler"
	"github.com/erp/stockrecon/internal/infrastructure/telemetry"
	"github.com/erp/stockrecon/internal/interfaces/http/handler"
	"github.com/erp/stockrecon/internal/interfaces/http/middleware"
	"github.com/erp/stockrecon/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting stock reconciliation server",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("driver", cfg.Database.Driver),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewTracerProvider(rootCtx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.App.Name,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	health := handler.NewHealthHandler(cfg.App.Name)

	store, closeStore, err := openRecordStore(cfg, tp, health, log)
	if err != nil {
		log.Fatal("Failed to open record store", zap.Error(err))
	}
	defer closeStore()

	formula, err := newFormulaEngine(cfg.Reconciliation)
	if err != nil {
		log.Fatal("Invalid reconciliation settings", zap.Error(err))
	}

	eventBus := event.NewInMemoryEventBus(log)
	svc := app.NewService(store, formula,
		app.WithEventPublisher(eventBus),
		app.WithLogger(log.Named("reconciliation")),
	)

	if cfg.Redis.Enabled {
		broadcaster, err := cache.NewRedisChangeBroadcaster(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, svc.EngineID(),
			cache.WithChannel(cfg.Redis.Channel),
			cache.WithBroadcasterLogger(log.Named("broadcaster")),
		)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() {
			if err := broadcaster.Close(); err != nil {
				log.Error("Error closing Redis broadcaster", zap.Error(err))
			}
		}()

		eventBus.Subscribe(broadcaster, broadcaster.EventTypes()...)
		health.AddCheck("redis", broadcaster.Ping)
		go func() {
			if err := broadcaster.Subscribe(rootCtx, svc); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Invalidation subscription failed", zap.Error(err))
			}
		}()
	}

	if err := eventBus.Start(rootCtx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	if err := svc.Start(rootCtx); err != nil {
		log.Fatal("Failed to start reconciliation service", zap.Error(err))
	}

	var resync *scheduler.ResyncTrigger
	if cfg.Reconciliation.ResyncInterval > 0 {
		resync, err = scheduler.NewResyncTrigger(cfg.Reconciliation.ResyncInterval, svc, log.Named("resync"))
		if err != nil {
			log.Fatal("Failed to create resync trigger", zap.Error(err))
		}
		if err := resync.Start(rootCtx); err != nil {
			log.Fatal("Failed to start resync trigger", zap.Error(err))
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		cors.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}

	engine, err := router.NewEngine(router.EngineConfig{
		Logger: log,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.App.Name,
			Enabled:     tp.IsEnabled(),
			Provider:    tp.Provider(),
		},
		CORS:           cors,
		Security:       middleware.DefaultSecurityConfig(),
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		log.Fatal("Failed to create HTTP engine", zap.Error(err))
	}

	router.NewRouter(engine).
		RegisterRoot(health).
		Register(handler.NewReconciliationHandler(svc)).
		Register(handler.NewSourceRecordHandler(store)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if resync != nil {
		if err := resync.Stop(ctx); err != nil {
			log.Error("Error stopping resync trigger", zap.Error(err))
		}
	}
	if err := svc.Stop(ctx); err != nil {
		log.Error("Error stopping reconciliation service", zap.Error(err))
	}
	if err := eventBus.Stop(ctx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// openRecordStore opens the configured record store and registers its health check
func openRecordStore(cfg *config.Config, tp *telemetry.TracerProvider, health *handler.HealthHandler, log *zap.Logger) (reconciliation.RecordStore, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("Using the in-memory record store; records are lost on restart")
		return persistence.NewMemoryStore(), func() {}, nil
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Database.SlowQuery),
	)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTracing {
		if err := telemetry.RegisterDBTracing(db.DB, tp.Provider(), telemetry.DBTracingConfig{
			DBSystem:   db.Driver(),
			LogFullSQL: cfg.Telemetry.DBLogFullSQL,
		}); err != nil {
			closeDB()
			return nil, nil, err
		}
	}

	// postgres schemas come from cmd/migrate
	if db.Driver() == config.DriverSQLite {
		if err := db.AutoMigrate(); err != nil {
			closeDB()
			return nil, nil, err
		}
	}

	health.AddCheck("database", func(ctx context.Context) error { return db.Ping() })
	log.Info("Database connected", zap.String("driver", db.Driver()))

	return persistence.NewGormSourceStore(db.DB, persistence.WithStoreLogger(log.Named("store"))), closeDB, nil
}

// newFormulaEngine builds the formula engine from the matching settings
func newFormulaEngine(cfg config.ReconciliationConfig) (*reconciliation.FormulaEngine, error) {
	code, err := reconciliation.NewFieldSet(cfg.CodeFields...)
	if err != nil {
		return nil, err
	}
	name, err := reconciliation.NewFieldSet(cfg.NameFields...)
	if err != nil {
		return nil, err
	}
	profile := reconciliation.DefaultProfile().WithItemFields(reconciliation.ItemFields{Code: code, Name: name})
	return reconciliation.NewFormulaEngine(profile, reconciliation.WithMinContainsLength(cfg.MinContainsLength))
}
