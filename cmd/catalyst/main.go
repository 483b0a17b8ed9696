package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy-time/catalyst/internal/alerts"
	"github.com/timmy-time/catalyst/internal/clock"
	"github.com/timmy-time/catalyst/internal/gateway"
	"github.com/timmy-time/catalyst/internal/scheduler"
	"github.com/timmy-time/catalyst/internal/store/sqlstore"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	port                string
	heartbeatTimeoutSec int
	heartbeatSweepSec   int
	reconcileSec        int
	alertEvaluateSec    int
	alertMaxAttempts    int
	alertBackoffSec     int
	crashRestartDelay   int
	suspensionEnforced  bool
	backendExternalAddr string
	dbDriver            string
	dbDSN               string
	logLevel            string
	secretKey           string
	clientJWTPublicKey  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "catalyst",
		Short: "Catalyst — fleet control plane for game and app servers",
		Long: `Catalyst is the backend control plane of a game/app server fleet.
It terminates agent and client websocket connections, drives the server
lifecycle state machine, schedules recurring server tasks, and evaluates
alert rules against live fleet telemetry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.port, "port", envOrDefault("CATALYST_PORT", "3000"), "HTTP listen port (gateway, healthz, metrics)")
	root.PersistentFlags().IntVar(&cfg.heartbeatTimeoutSec, "agent-heartbeat-timeout-sec", envIntOrDefault("CATALYST_AGENT_HEARTBEAT_TIMEOUT_SEC", 90), "Seconds without a heartbeat before an agent is marked offline")
	root.PersistentFlags().IntVar(&cfg.heartbeatSweepSec, "heartbeat-sweep-interval-sec", envIntOrDefault("CATALYST_HEARTBEAT_SWEEP_INTERVAL_SEC", 30), "Heartbeat sweep interval in seconds")
	root.PersistentFlags().IntVar(&cfg.reconcileSec, "task-reconcile-interval-sec", envIntOrDefault("CATALYST_TASK_RECONCILE_INTERVAL_SEC", 60), "Task scheduler reconciliation interval in seconds (not read by the scheduler, which reconciles every 60s)")
	root.PersistentFlags().IntVar(&cfg.alertEvaluateSec, "alert-evaluate-interval-sec", envIntOrDefault("CATALYST_ALERT_EVALUATE_INTERVAL_SEC", 30), "Alert rule evaluation interval in seconds (not read by the alert engine, which evaluates every 30s)")
	root.PersistentFlags().IntVar(&cfg.alertMaxAttempts, "alert-delivery-max-attempts", envIntOrDefault("CATALYST_ALERT_DELIVERY_MAX_ATTEMPTS", 3), "Maximum delivery attempts per alert before giving up (not read by the alert engine, which stops after 3)")
	root.PersistentFlags().IntVar(&cfg.alertBackoffSec, "alert-delivery-retry-backoff-sec", envIntOrDefault("CATALYST_ALERT_DELIVERY_RETRY_BACKOFF_SEC", 300), "Backoff between alert delivery retries in seconds (not read by the alert engine, which waits 5 minutes)")
	root.PersistentFlags().IntVar(&cfg.crashRestartDelay, "crash-restart-delay-sec", envIntOrDefault("CATALYST_CRASH_RESTART_DELAY_SEC", 5), "Delay before auto-restarting a crashed server, in seconds")
	root.PersistentFlags().BoolVar(&cfg.suspensionEnforced, "suspension-enforced", envOrDefault("CATALYST_SUSPENSION_ENFORCED", "true") == "true", "Refuse to auto-restart suspended servers")
	root.PersistentFlags().StringVar(&cfg.backendExternalAddr, "backend-external-address", envOrDefault("CATALYST_BACKEND_EXTERNAL_ADDRESS", ""), "Address echoed to agents during handshake")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("CATALYST_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("CATALYST_DB_DSN", "./catalyst.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("CATALYST_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("CATALYST_SECRET_KEY", ""), "Master key for encrypting credentials at rest (required)")
	root.PersistentFlags().StringVar(&cfg.clientJWTPublicKey, "client-jwt-public-key", envOrDefault("CATALYST_CLIENT_JWT_PUBLIC_KEY", ""), "PEM-encoded RSA public key used to verify client session tokens (required)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("catalyst %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or CATALYST_SECRET_KEY")
	}
	if cfg.clientJWTPublicKey == "" {
		return fmt.Errorf("client JWT public key is required — set --client-jwt-public-key or CATALYST_CLIENT_JWT_PUBLIC_KEY")
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.clientJWTPublicKey))
	if err != nil {
		return fmt.Errorf("failed to parse client JWT public key: %w", err)
	}

	logger.Info("starting catalyst",
		zap.String("version", version),
		zap.String("port", cfg.port),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// InitEncryption must run before opening the database so EncryptedString
	// fields (SMTP credentials, webhook secrets, node shared secrets) can
	// transparently encrypt/decrypt on read/write.
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.secretKey))
	if err := sqlstore.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Database ---
	st, err := sqlstore.Open(sqlstore.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close() //nolint:errcheck

	clk := clock.New()

	// --- 3. Gateway ---
	gw := gateway.New(gateway.Config{
		HeartbeatTimeout:    time.Duration(cfg.heartbeatTimeoutSec) * time.Second,
		HeartbeatSweep:      time.Duration(cfg.heartbeatSweepSec) * time.Second,
		CrashRestartDelay:   time.Duration(cfg.crashRestartDelay) * time.Second,
		SuspensionEnforced:  cfg.suspensionEnforced,
		BackendExternalAddr: cfg.backendExternalAddr,
		ClientJWTPublicKey:  pubKey,
		RequestTimeout:      30 * time.Second,
	}, st, clk, logger)

	go gw.Start(ctx)

	// --- 4. Task Scheduler ---
	sched, err := scheduler.New(scheduler.Config{
		SuspensionEnforced: cfg.suspensionEnforced,
	}, st.ScheduledTasks(), st.Servers(), gw, clk, logger)
	if err != nil {
		return fmt.Errorf("failed to create task scheduler: %w", err)
	}
	go func() {
		if err := sched.Start(ctx); err != nil {
			logger.Error("task scheduler stopped with error", zap.Error(err))
			cancel()
		}
	}()
	gw.RegisterLiveness("scheduler", sched)

	// --- 5. Alert Engine ---
	engine := alerts.New(alerts.Deps{
		Rules:    st.AlertRules(),
		Alerts:   st.Alerts(),
		Delivery: st.AlertDeliveries(),
		Servers:  st.Servers(),
		Nodes:    st.Nodes(),
		ServerMx: st.ServerMetrics(),
		NodeMx:   st.NodeMetrics(),
		Settings: st.Settings(),
		Notifier: gw,
	}, clk, logger)
	go engine.Start(ctx)
	gw.RegisterLiveness("alertEngine", engine)

	// --- 6. HTTP server (websocket upgrades, /healthz, /metrics) ---
	httpSrv := &http.Server{
		Addr:         ":" + cfg.port,
		Handler:      gw.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down catalyst")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("catalyst stopped")
	return nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out int
	if _, err := fmt.Sscanf(v, "%d", &out); err != nil {
		return defaultVal
	}
	return out
}
