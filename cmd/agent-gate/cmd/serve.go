package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/TorbenWetter/agent-gate/internal/adapter/outbound/cel"
	"github.com/TorbenWetter/agent-gate/internal/adapter/outbound/homeassistant"
	"github.com/TorbenWetter/agent-gate/internal/adapter/outbound/memory"
	"github.com/TorbenWetter/agent-gate/internal/adapter/outbound/messenger"
	"github.com/TorbenWetter/agent-gate/internal/adapter/outbound/sqlite"
	wsgateway "github.com/TorbenWetter/agent-gate/internal/adapter/inbound/gateway"
	"github.com/TorbenWetter/agent-gate/internal/adapter/inbound/observability"
	"github.com/TorbenWetter/agent-gate/internal/config"
	"github.com/TorbenWetter/agent-gate/internal/domain/executor"
	"github.com/TorbenWetter/agent-gate/internal/domain/pending"
	"github.com/TorbenWetter/agent-gate/internal/domain/permission"
	"github.com/TorbenWetter/agent-gate/internal/domain/ratelimit"
	"github.com/TorbenWetter/agent-gate/internal/service/orchestrator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent-gate execution gateway",
	Long: `Start the execution gateway: load the runtime config and policy
document, wire up the permission engine, durable store, rate limiters,
executor registry, and messenger adapter, then accept agent connections
over the WebSocket/JSON-RPC wire protocol until a shutdown signal arrives.

Examples:
  agent-gate serve
  agent-gate serve --config ./agent-gate.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	if cfg.DevMode {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	logger.Debug("log level configured", "level", cfg.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("agent-gate stopped")
	return nil
}

// run wires every domain and adapter package into a running gateway and
// blocks until ctx is cancelled by a shutdown signal.
func run(ctx context.Context, cfg *config.RuntimeConfig, logger *slog.Logger) error {
	permissions, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("load policy document: %w", err)
	}
	logger.Info("loaded policy", "file", cfg.PolicyFile, "rules", len(permissions.Rules), "defaults", len(permissions.Defaults))

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("build condition evaluator: %w", err)
	}
	engine := permission.NewEngine(permissions, evaluator)

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}
	defer db.Close()

	pendingStore := sqlite.NewPendingStore(db)
	auditStore := sqlite.NewAuditStore(db)
	defer auditStore.Close(context.Background())

	rateLimiter := memory.NewRateLimiter()
	rateLimiter.StartCleanup(ctx)
	defer rateLimiter.Stop()
	pendingCap := memory.NewPendingCapCounter(cfg.RateLimit.MaxPendingApprovals)

	svcRegistry := executor.NewRegistry()
	if cfg.Services.HomeAssistant.BaseURL != "" {
		haTimeout, _ := time.ParseDuration(cfg.Services.HomeAssistant.Timeout)
		svcRegistry.Route("ha_", "homeassistant")
		svcRegistry.Register("homeassistant", homeassistant.NewClient(homeassistant.Config{
			BaseURL: cfg.Services.HomeAssistant.BaseURL,
			Token:   cfg.Services.HomeAssistant.Token,
			Timeout: haTimeout,
		}))
	}
	defer svcRegistry.CloseAll()

	if unhealthy := svcRegistry.HealthCheckAll(ctxWithTimeout(ctx, 5*time.Second)); len(unhealthy) > 0 {
		logger.Warn("downstream services failed health check at startup", "services", strings.Join(unhealthy, ","))
	}

	msgTimeout, _ := time.ParseDuration(cfg.Messenger.RequestTimeout)
	webhookAdapter := messenger.NewWebhookAdapter(messenger.Config{
		SendURL:        cfg.Messenger.SendURL,
		UpdateURL:      cfg.Messenger.UpdateURL,
		AllowedUsers:   cfg.Messenger.AllowedUsers,
		RequestTimeout: msgTimeout,
	}, logger)
	if err := webhookAdapter.Start(ctx); err != nil {
		return fmt.Errorf("start messenger adapter: %w", err)
	}
	defer webhookAdapter.Stop(context.Background())

	metricsRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(metricsRegistry)

	orch := orchestrator.New(orchestrator.Deps{
		Engine:          engine,
		Executor:        svcRegistry,
		PendingRegistry: pending.NewRegistry(),
		PendingStore:    pendingStore,
		AuditStore:      auditStore,
		Messenger:       webhookAdapter,
		RateLimiter:     rateLimiter,
		PendingCap:      pendingCap,
		BearerToken:     cfg.Auth.BearerToken,
		ApprovalTimeout: time.Duration(cfg.ApprovalTimeoutSeconds) * time.Second,
		RateLimit: ratelimit.RateLimitConfig{
			Rate:   cfg.RateLimit.MaxRequestsPerMinute,
			Burst:  cfg.RateLimit.MaxRequestsPerMinute,
			Period: time.Minute,
		},
		Logger:  logger,
		Metrics: metrics,
	})

	if err := orch.RecoverPending(ctx); err != nil {
		logger.Error("pending approval recovery failed", "error", err)
	}

	server := wsgateway.NewServer(
		wsgateway.Config{
			ListenAddr:  cfg.Server.ListenAddr,
			TLSCertFile: cfg.Server.TLSCertFile,
			TLSKeyFile:  cfg.Server.TLSKeyFile,
			Insecure:    cfg.Server.Insecure,
		},
		orch.HandleConnection,
		map[string]http.HandlerFunc{
			"/callback": webhookAdapter.HandleCallback,
			"/healthz": observability.Handler(func() []string {
				return svcRegistry.HealthCheckAll(ctxWithTimeout(context.Background(), 5*time.Second))
			}),
			"/metrics": promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{Registry: metricsRegistry}).ServeHTTP,
		},
		logger,
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- wsgateway.ListenAndServe(server, wsgateway.Config{
			ListenAddr:  cfg.Server.ListenAddr,
			TLSCertFile: cfg.Server.TLSCertFile,
			TLSKeyFile:  cfg.Server.TLSKeyFile,
			Insecure:    cfg.Server.Insecure,
		})
	}()
	logger.Info("agent-gate listening", "addr", cfg.Server.ListenAddr, "insecure", cfg.Server.Insecure)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orch.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	return nil
}

func ctxWithTimeout(parent context.Context, d time.Duration) context.Context {
	ctx, _ := context.WithTimeout(parent, d) //nolint:lostcancel // bounded startup check, parent governs overall lifetime
	return ctx
}

// parseLogLevel converts a string log level to slog.Level, defaulting to
// Info for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pidFilePath returns the standard location for the agent-gate PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".agent-gate", "server.pid")
	}
	return filepath.Join(os.TempDir(), "agent-gate-server.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// readPIDFile reads a PID from the given file path. Returns 0 if unreadable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
