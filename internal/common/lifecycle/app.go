package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.outboxrelay.dev/internal/common/secrets"
	"go.outboxrelay.dev/internal/config"
	"go.outboxrelay.dev/internal/outbox"
)

// App holds initialized infrastructure that is guaranteed to be connected.
// If you have an *App, you know the database is connected and ready.
//
// This is NOT a god object - it just holds the "dangerous" infrastructure
// that requires connection/retry logic. Application logic should NOT go here.
//
// Queue initialization is left to specific binaries since the configuration
// (publisher vs consumer, stream names, etc.) varies by use case.
type App struct {
	Config *config.Config

	// Database, one of these populated depending on Config.Database.Type.
	MongoClient *mongo.Client
	DB          *mongo.Database
	SQLDB       *sql.DB

	// OutboxRepo is the Repository implementation selected for
	// Config.Database.Type, ready for use by the dispatcher.
	OutboxRepo outbox.Repository

	// Internal cleanup - call AddCleanup to register cleanup functions
	cleanupFuncs []func() error
}

// AppOptions configures which infrastructure to initialize.
type AppOptions struct {
	// NeedsMongoDB indicates a bare MongoDB connection is required, without
	// an outbox repository. Prefer NeedsOutboxDatabase for the dispatcher.
	NeedsMongoDB bool

	// NeedsOutboxDatabase connects to whichever backend Config.Database.Type
	// selects (postgres, mysql, or mongodb) and wires an outbox.Repository.
	NeedsOutboxDatabase bool
}

// Initialize creates an App with connected infrastructure.
// Returns an error if any required connection fails.
//
// Usage:
//
//	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{
//	    NeedsOutboxDatabase: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func Initialize(ctx context.Context, opts AppOptions) (*App, func(), error) {
	app := &App{}

	// Load configuration first
	cfg, err := config.LoadWithFile()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	if err := app.resolveSecrets(ctx); err != nil {
		app.Cleanup()
		return nil, nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	if opts.NeedsMongoDB {
		if err := app.initMongoDB(ctx); err != nil {
			app.Cleanup()
			return nil, nil, err
		}
	}

	if opts.NeedsOutboxDatabase {
		if err := app.initOutboxDatabase(ctx); err != nil {
			app.Cleanup()
			return nil, nil, err
		}
	}

	cleanup := func() {
		app.Cleanup()
	}

	return app, cleanup, nil
}

// AddCleanup registers a cleanup function to be called on shutdown.
// Functions are called in reverse order of registration.
func (app *App) AddCleanup(fn func() error) {
	app.cleanupFuncs = append(app.cleanupFuncs, fn)
}

// resolveSecrets overrides the API auth token and database DSN with values
// from the configured secrets.Provider, when present. A secret miss
// (ErrSecretNotFound) is not an error: it means the operator is relying on
// the plain TOML/env value instead, which the "env" provider itself is.
func (app *App) resolveSecrets(ctx context.Context) error {
	cfg := app.Config

	provider, err := secrets.NewProvider(cfg.Secrets.ToProviderConfig())
	if err != nil {
		return fmt.Errorf("failed to construct secrets provider: %w", err)
	}

	slog.Info("Resolving secrets", "provider", provider.Name())

	if token, err := provider.Get(ctx, "outbox-api-auth-token"); err == nil {
		cfg.API.AuthToken = token
	} else if !errors.Is(err, secrets.ErrSecretNotFound) {
		return fmt.Errorf("failed to resolve outbox-api-auth-token: %w", err)
	}

	if dsn, err := provider.Get(ctx, "outbox-database-dsn"); err == nil {
		cfg.Database.DSN = dsn
	} else if !errors.Is(err, secrets.ErrSecretNotFound) {
		return fmt.Errorf("failed to resolve outbox-database-dsn: %w", err)
	}

	return nil
}

// initOutboxDatabase connects to the backend named by Config.Database.Type
// and builds the matching outbox.Repository.
func (app *App) initOutboxDatabase(ctx context.Context) error {
	cfg := app.Config

	repoConfig := &outbox.RepositoryConfig{
		EventsTable:       cfg.Database.EventsTable,
		DispatchJobsTable: cfg.Database.DispatchJobsTable,
	}

	switch cfg.Database.Type {
	case "postgres", "postgresql":
		repoConfig.DatabaseType = outbox.DatabaseTypePostgreSQL
		db, err := app.initSQLDatabase(ctx, "pgx", cfg.Database.DSN)
		if err != nil {
			return err
		}
		app.OutboxRepo = outbox.NewPostgresRepository(db, repoConfig)

	case "mysql":
		repoConfig.DatabaseType = outbox.DatabaseTypeMySQL
		db, err := app.initSQLDatabase(ctx, "mysql", cfg.Database.DSN)
		if err != nil {
			return err
		}
		app.OutboxRepo = outbox.NewMySQLRepository(db, repoConfig)

	case "mongodb", "":
		repoConfig.DatabaseType = outbox.DatabaseTypeMongoDB
		if err := app.initMongoDB(ctx); err != nil {
			return err
		}
		app.OutboxRepo = outbox.NewMongoRepository(app.DB, repoConfig)

	default:
		return fmt.Errorf("unknown database type: %s", cfg.Database.Type)
	}

	return nil
}

// initSQLDatabase opens and pings a database/sql connection for the given
// driver, applying the configured pool limits.
func (app *App) initSQLDatabase(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	cfg := app.Config

	slog.Info("Connecting to database", "driver", driver)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	app.SQLDB = db
	app.AddCleanup(func() error {
		slog.Info("Closing database connection", "driver", driver)
		return db.Close()
	})

	slog.Info("Connected to database", "driver", driver)
	return db, nil
}

// initMongoDB connects to MongoDB and pings it once; there is no retry.
func (app *App) initMongoDB(ctx context.Context) error {
	cfg := app.Config

	slog.Info("Connecting to MongoDB", "database", cfg.Database.MongoDatabase)

	clientOpts := options.Client().
		ApplyURI(cfg.Database.DSN).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	app.MongoClient = client
	app.DB = client.Database(cfg.Database.MongoDatabase)

	app.AddCleanup(func() error {
		slog.Info("Disconnecting from MongoDB")
		return client.Disconnect(context.Background())
	})

	slog.Info("Connected to MongoDB", "database", cfg.Database.MongoDatabase)
	return nil
}

// Cleanup runs all cleanup functions in reverse order.
func (app *App) Cleanup() {
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		if err := app.cleanupFuncs[i](); err != nil {
			slog.Error("Cleanup error", "error", err)
		}
	}
}
