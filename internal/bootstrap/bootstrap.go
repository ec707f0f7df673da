// Package bootstrap assembles the warehouse from configuration: it
// opens the backing store, runs migrations, and wires the dimension,
// binding, pipeline and API services together. Both the server binary
// and the operator CLI build on it.
package bootstrap

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/strata-dw/strata/internal/binder"
	"github.com/strata-dw/strata/internal/config"
	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/storage/memory"
	"github.com/strata-dw/strata/internal/core/storage/postgres"
	"github.com/strata-dw/strata/internal/core/storage/sqlite"
	"github.com/strata-dw/strata/internal/core/storage/sqlstore"
	"github.com/strata-dw/strata/internal/dimension"
	"github.com/strata-dw/strata/internal/ingestion"
	"github.com/strata-dw/strata/internal/latearrival"
	"github.com/strata-dw/strata/internal/migrations"
	"github.com/strata-dw/strata/internal/pipeline"
	"github.com/strata-dw/strata/internal/projection"
	"github.com/strata-dw/strata/internal/rollup"
	"github.com/strata-dw/strata/internal/schema"
	schemaapi "github.com/strata-dw/strata/internal/schema/api"
	"github.com/strata-dw/strata/internal/schema/formats/protobuf"
	"github.com/strata-dw/strata/internal/schema/formats/yaml"
	schemastorage "github.com/strata-dw/strata/internal/schema/storage"
)

// App holds every assembled component. Fields are exported so callers
// can pick what they need: the server mounts the HTTP services, the CLI
// reaches for the stores and the rebuilder directly.
type App struct {
	Config *config.Config
	Stores *storage.Stores

	// DB is the SQL connection behind the stores; nil for the memory
	// backend.
	DB *sql.DB

	Registry  *schema.Registry
	Validator *schema.Validator

	Resolver    *dimension.Resolver
	Versioner   *dimension.Versioner
	Binder      *binder.Binder
	Coordinator *latearrival.Coordinator
	Rebuilder   *rollup.Rebuilder
	Pipeline    *pipeline.Pipeline

	// Scheduler is nil when pipeline.enabled is false.
	Scheduler *pipeline.Scheduler

	Ingestion  *ingestion.Service
	Projection *projection.Service
	SchemaAPI  *schemaapi.Service

	closeDB func() error
}

// New assembles an App from a validated configuration.
func New(cfg *config.Config) (*App, error) {
	stores, db, closeDB, err := OpenStores(cfg)
	if err != nil {
		return nil, err
	}

	app, err := assemble(cfg, stores, db)
	if err != nil {
		if closeDB != nil {
			closeDB() //nolint:errcheck
		}
		return nil, err
	}
	app.closeDB = closeDB
	return app, nil
}

// OpenStores opens the backing store named by database.type and runs
// migrations on the SQL backends. The returned close function is nil
// for the memory backend.
func OpenStores(cfg *config.Config) (*storage.Stores, *sql.DB, func() error, error) {
	switch cfg.Database.Type {
	case "memory":
		slog.Info("Using in-memory store", "note", "state is lost on shutdown")
		return memory.New().Stores(), nil, nil, nil

	case "postgres":
		db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := migrations.RunMigrations(db, "postgres", cfg.Database.AutoMigrate); err != nil {
			db.Close() //nolint:errcheck
			return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		if !cfg.Database.AutoMigrate {
			if err := postgres.ValidateSchema(db); err != nil {
				db.Close() //nolint:errcheck
				return nil, nil, nil, err
			}
		}
		adapter, err := sqlstore.New(db, sqlstore.DialectPostgres)
		if err != nil {
			db.Close() //nolint:errcheck
			return nil, nil, nil, err
		}
		return adapter.Stores(), db, adapter.Close, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := migrations.RunMigrations(db, "sqlite", cfg.Database.AutoMigrate); err != nil {
			db.Close() //nolint:errcheck
			return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		adapter, err := sqlstore.New(db, sqlstore.DialectSQLite)
		if err != nil {
			db.Close() //nolint:errcheck
			return nil, nil, nil, err
		}
		return adapter.Stores(), db, adapter.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported database.type %q", cfg.Database.Type)
	}
}

func assemble(cfg *config.Config, stores *storage.Stores, db *sql.DB) (*App, error) {
	grains, err := cfg.Warehouse.ActiveGrains()
	if err != nil {
		return nil, err
	}

	registry, validator, err := buildSchemaRegistry(cfg)
	if err != nil {
		return nil, err
	}

	resolver := dimension.NewResolver(stores.Dimensions)
	versioner := dimension.NewVersioner(stores.Dimensions)
	b := binder.New(resolver, stores.Facts, stores.Pending, cfg.Warehouse.PendingRetryLimit)
	coordinator := latearrival.New(stores.Dimensions, stores.Facts, grains)
	rebuilder := rollup.New(grains, stores.Facts, stores.Buckets,
		cfg.Warehouse.RebuildBatchSize, cfg.Warehouse.RebuildRatePerSec)

	pipe := pipeline.New(stores, versioner, b, coordinator, rebuilder, pipeline.Options{
		BatchSize:   cfg.Pipeline.BatchSize,
		WorkerCount: cfg.Pipeline.WorkerCount,
	})

	var scheduler *pipeline.Scheduler
	if cfg.Pipeline.Enabled {
		interval, err := time.ParseDuration(cfg.Pipeline.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid pipeline.interval %q: %w", cfg.Pipeline.Interval, err)
		}
		scheduler = pipeline.NewScheduler(pipe, interval, cfg.Pipeline.MaxBacklog)
	}

	ingestSvc := ingestion.NewService(registry, validator, stores.Ledger, cfg.Server.MaxBodySizeMB)
	ingestSvc.SetRequireSchema(cfg.Schema.RequireSchema)

	return &App{
		Config:      cfg,
		Stores:      stores,
		DB:          db,
		Registry:    registry,
		Validator:   validator,
		Resolver:    resolver,
		Versioner:   versioner,
		Binder:      b,
		Coordinator: coordinator,
		Rebuilder:   rebuilder,
		Pipeline:    pipe,
		Scheduler:   scheduler,
		Ingestion:   ingestSvc,
		Projection:  projection.NewService(stores, resolver),
		SchemaAPI:   schemaapi.NewService(registry, validator),
	}, nil
}

func buildSchemaRegistry(cfg *config.Config) (*schema.Registry, *schema.Validator, error) {
	var repo schemastorage.Repository
	switch cfg.Schema.SourceType {
	case "filesystem":
		repo = schemastorage.NewFileSystemRepository(cfg.Schema.Path)
	case "memory":
		repo = schemastorage.NewMemoryRepository()
	default:
		return nil, nil, fmt.Errorf("unsupported schema.source_type %q", cfg.Schema.SourceType)
	}

	registry := schema.NewRegistry(repo)

	formats := schema.NewFormatRegistry()
	formats.RegisterFormat(schema.FormatProtobuf, protobuf.NewCompiler(), protobuf.NewValidator())
	formats.RegisterFormat(schema.FormatYaml, yaml.NewCompiler(), yaml.NewValidator())

	return registry, schema.NewValidator(formats), nil
}

// MountRoutes registers every HTTP service on the router.
func (a *App) MountRoutes(r gin.IRouter) {
	a.Ingestion.RegisterRoutes(r)
	a.Projection.RegisterRoutes(r)
	a.SchemaAPI.RegisterRoutes(r)
}

// Close releases the backing store connection, if any.
func (a *App) Close() error {
	if a.closeDB == nil {
		return nil
	}
	return a.closeDB()
}
