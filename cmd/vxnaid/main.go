package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ConnectForLife/vxnaid-sub000/internal/api"
	"github.com/ConnectForLife/vxnaid-sub000/internal/config"
	"github.com/ConnectForLife/vxnaid-sub000/internal/connectivity"
	"github.com/ConnectForLife/vxnaid-sub000/internal/files"
	"github.com/ConnectForLife/vxnaid-sub000/internal/lockfile"
	"github.com/ConnectForLife/vxnaid-sub000/internal/manager"
	"github.com/ConnectForLife/vxnaid-sub000/internal/metrics"
	"github.com/ConnectForLife/vxnaid-sub000/internal/recovery"
	"github.com/ConnectForLife/vxnaid-sub000/internal/remote"
	"github.com/ConnectForLife/vxnaid-sub000/internal/scheduler"
	"github.com/ConnectForLife/vxnaid-sub000/internal/store"
	"github.com/ConnectForLife/vxnaid-sub000/internal/syncer"
	"github.com/ConnectForLife/vxnaid-sub000/internal/upload"
	"github.com/ConnectForLife/vxnaid-sub000/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for vxnaid state data
	DefaultStateDir = "/var/lib/vxnaid"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "vxnaid.db"
	// DefaultAssetsDirName holds participant photos and templates under the state dir
	DefaultAssetsDirName = "assets"
)

// Blob backends.
const (
	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

func main() {
	initializeLogger(os.Getenv("VXNAID_LOG_LEVEL"))

	cfg := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], cfg)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping vxnaid", "state_dir", flags.StateDir, "dsn_type", store.DetectDSNType(flags.DBDSN),
		"blob_backend", flags.BlobBackend, "api_addr", flags.APIAddr)
	if err := run(ctx, flags); err != nil {
		slog.Error("vxnaid failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("vxnaid exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir        string
	DatabaseDSN     string
	BlobBackend     string
	RemoteURL       string
	RemoteTimeout   time.Duration
	CatalogPath     string
	APIAddr         string
	SyncSchedule    string
	SyncConcurrency int
	PingInterval    time.Duration
}

// Flags holds the effective settings after command line overrides
type Flags struct {
	StateDir        string
	DBDSN           string
	BlobBackend     string
	RemoteURL       string
	RemoteTimeout   time.Duration
	CatalogPath     string
	APIAddr         string
	SyncSchedule    string
	SyncConcurrency int
	PingInterval    time.Duration
}

// parseLogLevel maps a level name onto a slog level, defaulting to info.
func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// initializeLogger sets up structured logging
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := Config{
		StateDir:        util.GetenvDefault("VXNAID_STATE_DIR", DefaultStateDir),
		DatabaseDSN:     os.Getenv("VXNAID_DB_DSN"),
		BlobBackend:     util.GetenvDefault("VXNAID_BLOB_BACKEND", BlobBackendFS),
		RemoteURL:       os.Getenv("VXNAID_REMOTE_URL"),
		RemoteTimeout:   util.ParseDurationEnv("VXNAID_REMOTE_TIMEOUT", remote.DefaultTimeout),
		CatalogPath:     os.Getenv("VXNAID_CATALOG"),
		APIAddr:         util.GetenvDefault("API_ADDR", api.DefaultAddr),
		SyncSchedule:    util.GetenvDefault("VXNAID_SYNC_SCHEDULE", scheduler.DefaultSyncSchedule),
		SyncConcurrency: util.ParseIntEnv("VXNAID_SYNC_CONCURRENCY", syncer.DefaultConcurrency),
		PingInterval:    util.ParseDurationEnv("VXNAID_PING_INTERVAL", connectivity.DefaultInterval),
	}

	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = os.Getenv("DATABASE_URL")
		if cfg.DatabaseDSN != "" {
			slog.Debug("Using DATABASE_URL as VXNAID_DB_DSN", "dsn_set", true)
		}
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DatabaseDSN)
	}

	slog.Debug("environment variables loaded",
		"VXNAID_STATE_DIR", cfg.StateDir,
		"VXNAID_DB_DSN_SET", cfg.DatabaseDSN != "",
		"VXNAID_BLOB_BACKEND", cfg.BlobBackend,
		"VXNAID_REMOTE_URL", cfg.RemoteURL,
		"VXNAID_CATALOG", cfg.CatalogPath,
		"API_ADDR", cfg.APIAddr,
		"VXNAID_SYNC_SCHEDULE", cfg.SyncSchedule)
	return cfg
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, cfg Config) (Flags, error) {
	f := Flags{}
	fs.StringVar(&f.StateDir, "state-dir", cfg.StateDir, "state directory for vxnaid data (overrides $VXNAID_STATE_DIR)")
	fs.StringVar(&f.DBDSN, "db-dsn", cfg.DatabaseDSN, "SQLite path or Postgres DSN (overrides $VXNAID_DB_DSN or $DATABASE_URL)")
	fs.StringVar(&f.BlobBackend, "blob-backend", cfg.BlobBackend, "asset storage backend: fs or s3 (overrides $VXNAID_BLOB_BACKEND)")
	fs.StringVar(&f.RemoteURL, "remote-url", cfg.RemoteURL, "backend base URL (overrides $VXNAID_REMOTE_URL)")
	fs.DurationVar(&f.RemoteTimeout, "remote-timeout", cfg.RemoteTimeout, "backend request timeout (overrides $VXNAID_REMOTE_TIMEOUT)")
	fs.StringVar(&f.CatalogPath, "catalog", cfg.CatalogPath, "substance catalog JSON file; built-in catalog when empty (overrides $VXNAID_CATALOG)")
	fs.StringVar(&f.APIAddr, "api-addr", cfg.APIAddr, "local API address (overrides $API_ADDR)")
	fs.StringVar(&f.SyncSchedule, "sync-schedule", cfg.SyncSchedule, "cron schedule for sync passes (overrides $VXNAID_SYNC_SCHEDULE)")
	fs.IntVar(&f.SyncConcurrency, "sync-concurrency", cfg.SyncConcurrency, "concurrent uploads per sync pass (overrides $VXNAID_SYNC_CONCURRENCY)")
	fs.DurationVar(&f.PingInterval, "ping-interval", cfg.PingInterval, "connectivity probe interval (overrides $VXNAID_PING_INTERVAL)")

	if err := fs.Parse(args); err != nil {
		return f, err
	}

	// Follow a state-dir override when the DSN is still the default SQLite file.
	if f.DBDSN == filepath.Join(cfg.StateDir, DefaultDBFileName) && f.StateDir != cfg.StateDir {
		f.DBDSN = filepath.Join(f.StateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", cfg.StateDir, "new_state_dir", f.StateDir)
	}
	if f.BlobBackend != BlobBackendFS && f.BlobBackend != BlobBackendS3 {
		return f, fmt.Errorf("unknown blob backend %q", f.BlobBackend)
	}

	slog.Debug("flags parsed",
		"stateDir", f.StateDir,
		"dbDSN_set", f.DBDSN != "",
		"blobBackend", f.BlobBackend,
		"remoteURL", f.RemoteURL,
		"apiAddr", f.APIAddr,
		"syncSchedule", f.SyncSchedule)
	return f, nil
}

// ensureDirectoriesExist creates the state directory and, for SQLite, the database directory
func ensureDirectoriesExist(f Flags) error {
	if err := os.MkdirAll(f.StateDir, store.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create state dir %s: %w", f.StateDir, err)
	}
	if store.DetectDSNType(f.DBDSN) == "sqlite" {
		dir := filepath.Dir(strings.TrimPrefix(strings.SplitN(f.DBDSN, "?", 2)[0], "file:"))
		if err := os.MkdirAll(dir, store.DefaultDirPermissions); err != nil {
			return fmt.Errorf("create database dir %s: %w", dir, err)
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(f Flags) []store.Option {
	if store.DetectDSNType(f.DBDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return []store.Option{store.WithPostgresDSN(f.DBDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", f.DBDSN)
	return []store.Option{store.WithSQLiteDSN(f.DBDSN)}
}

// openStore opens the backend matching the DSN.
func openStore(f Flags) (store.Store, error) {
	opts := buildStoreOptions(f)
	if store.DetectDSNType(f.DBDSN) == "postgres" {
		return store.NewPostgresStore(opts...)
	}
	return store.NewSQLiteStore(opts...)
}

// openFiles opens the asset store.
func openFiles(ctx context.Context, f Flags) (files.Store, error) {
	if f.BlobBackend == BlobBackendS3 {
		return files.NewS3Store(ctx, files.S3ConfigFromEnv())
	}
	return files.NewFSStore(filepath.Join(f.StateDir, DefaultAssetsDirName))
}

// newRegistry returns a registry carrying the process and runtime collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// run wires every component and blocks until ctx is done or the API server fails.
func run(ctx context.Context, f Flags) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lock, err := lockfile.AcquireLock(f.StateDir)
	if err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			slog.Error("Another vxnaid instance holds the state directory", "lock_path", lockErr.LockPath)
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release lock", "error", err)
		}
	}()

	st, err := openStore(f)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	fs, err := openFiles(ctx, f)
	if err != nil {
		return fmt.Errorf("open asset store: %w", err)
	}

	reg := newRegistry()
	m := metrics.New(reg)

	rm := recovery.NewRecoveryManager(st, fs, m)
	rm.RegisterRecoverable(recovery.AssetCheck{})
	rm.RegisterRecoverable(recovery.PendingGauge{})
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Startup recovery incomplete", "error", err)
	}

	client, err := remote.NewClient(
		remote.WithBaseURL(f.RemoteURL),
		remote.WithTimeout(f.RemoteTimeout),
		remote.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("remote client: %w", err)
	}

	provider := config.NewFileProvider(f.CatalogPath, config.IdentityFromEnv())
	if _, err := provider.Catalog(ctx); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if _, err := provider.Identity(); err != nil {
		slog.Warn("Site or operator identity missing; uploads wait until an operator signs in", "error", err)
	}

	pipeline := upload.NewPipeline(st, fs, client, provider, m)

	monitor := connectivity.NewMonitor(client,
		connectivity.WithInterval(f.PingInterval),
		connectivity.WithMetrics(m),
	)
	monitor.Start(ctx)
	defer monitor.Stop()

	var loop *syncer.Loop
	mgr := manager.New(store.NewDraftStore(st, fs, m), st, pipeline, client, provider,
		manager.WithSyncTrigger(manager.TriggerFunc(func() { loop.Trigger() })),
	)
	loop = syncer.NewLoop(st, mgr,
		syncer.WithConcurrency(f.SyncConcurrency),
		syncer.WithConnectivity(monitor),
		syncer.WithMetrics(m),
	)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob("sync", f.SyncSchedule, loop.Trigger); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	loop.Trigger()

	srv := api.NewServer(mgr,
		api.WithAddr(f.APIAddr),
		api.WithConnectivity(monitor),
		api.WithSync(loop),
		api.WithGatherer(reg),
		api.WithOperatorSetter(provider),
	)
	err = srv.Start(ctx)
	cancel()
	<-loopDone
	return err
}
