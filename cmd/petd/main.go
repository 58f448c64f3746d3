package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/PocketPetLabs/petcore/internal/agent"
	"github.com/PocketPetLabs/petcore/internal/device"
	"github.com/PocketPetLabs/petcore/internal/pet"
	"github.com/PocketPetLabs/petcore/internal/remote"
	"github.com/PocketPetLabs/petcore/internal/store/gormkv"
	"github.com/PocketPetLabs/petcore/internal/syncer"
	"github.com/PocketPetLabs/petcore/pkg/economy"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL  = "database-url"
	flagServerURL    = "server-url"
	flagPollInterval = "poll-interval"
	flagSyncInterval = "sync-interval"

	configKeyDatabaseURL  = "database_url"
	configKeyServerURL    = "server_url"
	configKeyPollInterval = "poll_interval"
	configKeySyncInterval = "sync_interval"

	defaultDatabaseURL = "sqlite:///var/lib/petd/petd.db"
	defaultServerURL   = "https://www.ganamos.earth"
)

type runtimeConfig struct {
	DatabaseURL  string
	ServerURL    string
	PollInterval time.Duration
	SyncInterval time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "petd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "petd",
		Short:         "Virtual pet economy daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "sqlite path or postgres connection string")
	cmd.Flags().String(flagServerURL, defaultServerURL, "pet server base URL")
	cmd.Flags().Duration(flagPollInterval, agent.DefaultIntervals().ConfigPoll, "remote config poll interval")
	cmd.Flags().Duration(flagSyncInterval, agent.DefaultIntervals().SyncPass, "queue sync interval")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyServerURL, "PET_SERVER_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyPollInterval, "POLL_INTERVAL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeySyncInterval, "SYNC_INTERVAL"); err != nil {
		return err
	}

	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyServerURL, cmd.Flags().Lookup(flagServerURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyPollInterval, cmd.Flags().Lookup(flagPollInterval)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeySyncInterval, cmd.Flags().Lookup(flagSyncInterval)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ServerURL = viper.GetString(configKeyServerURL)
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}
	cfg.PollInterval = viper.GetDuration(configKeyPollInterval)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = agent.DefaultIntervals().ConfigPoll
	}
	cfg.SyncInterval = viper.GetDuration(configKeySyncInterval)
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = agent.DefaultIntervals().SyncPass
	}
	return nil
}

func runAgent(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormkv.New(gormDB)
	operationLog := &operationLogger{logger: logger.Named("economy")}

	bootTime := time.Now()
	monotonicMillis := func() int64 { return time.Since(bootTime).Milliseconds() }
	wallClock := func() (time.Time, bool) { return time.Now(), true }

	ledger, err := economy.NewLedger(store, monotonicMillis, economy.WithLedgerLogger(operationLog))
	if err != nil {
		return fmt.Errorf("ledger init: %w", err)
	}
	scores, err := economy.NewScoreQueue(store, monotonicMillis, economy.WithScoreLogger(operationLog))
	if err != nil {
		return fmt.Errorf("score queue init: %w", err)
	}
	devices, err := device.NewManager(store, logger.Named("device"))
	if err != nil {
		return fmt.Errorf("device manager init: %w", err)
	}
	model, err := pet.NewModel(store, time.Now, wallClock, logger.Named("pet"))
	if err != nil {
		return fmt.Errorf("pet model init: %w", err)
	}

	client := remote.NewClient(cfg.ServerURL, logger.Named("remote"))
	probe, err := agent.NewProbe(cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("connectivity probe init: %w", err)
	}

	engine, err := syncer.NewEngine(ledger, scores, client, devices, probe.Online, logger.Named("syncer"))
	if err != nil {
		return fmt.Errorf("sync engine init: %w", err)
	}

	intervals := agent.DefaultIntervals()
	intervals.ConfigPoll = cfg.PollInterval
	intervals.SyncPass = cfg.SyncInterval

	petAgent, err := agent.New(ledger, scores, engine, model, devices, client, probe.Online, intervals, logger.Named("agent"))
	if err != nil {
		return fmt.Errorf("agent init: %w", err)
	}
	if err := petAgent.Initialize(ctx); err != nil {
		return fmt.Errorf("agent initialize: %w", err)
	}
	return petAgent.Run(ctx)
}

// operationLogger forwards economy operation callbacks to zap.
type operationLogger struct {
	logger *zap.Logger
}

func (log *operationLogger) LogOperation(ctx context.Context, entry economy.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.Int64("balance", entry.Balance),
	}
	if entry.OpID != "" {
		fields = append(fields, zap.String("op_id", entry.OpID))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.Category != "" {
		fields = append(fields, zap.String("action", entry.Category))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		log.logger.Warn("economy operation", fields...)
		return
	}
	log.logger.Info("economy operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "petd.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormkv.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
