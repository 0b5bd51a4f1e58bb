// Package main provides the sleuth-worker binary entry point.
// The worker hosts investigation workflows on NATS JetStream and serves
// the alert webhook and Prometheus metrics over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/oncallsh/sleuth/config"
	"github.com/oncallsh/sleuth/host"
	"github.com/oncallsh/sleuth/llm"
	"github.com/oncallsh/sleuth/receiver"
	"github.com/oncallsh/sleuth/registry"
	"github.com/oncallsh/sleuth/workflow"
)

const (
	Version = "0.1.0"
	appName = "sleuth-worker"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		embedded   bool
	)

	cmd := &cobra.Command{
		Use:          appName,
		Short:        "Workflow worker for sleuth investigations",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel, embedded)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&embedded, "embedded", false, "Run an embedded NATS server")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func run(configPath, logLevel string, embedded bool) error {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	if embedded {
		cfg.Host.Embedded = true
	}

	ctx := context.Background()
	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	natsURL := cfg.Host.URL
	if cfg.Host.Embedded {
		storeDir := filepath.Join(os.TempDir(), "sleuth-nats")
		ns, err := host.StartEmbedded(storeDir)
		if err != nil {
			return err
		}
		defer ns.Shutdown()
		natsURL = ns.ClientURL()
		logger.Info("Embedded NATS server started", "url", natsURL)
	}

	nc, err := host.Connect(natsURL, appName)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := host.NewMetrics(promRegistry)

	server, err := host.NewServer(nc, cfg.Host.Namespace, cfg.Host.Queue, metrics, logger)
	if err != nil {
		return fmt.Errorf("create workflow server: %w", err)
	}
	server.Register(workflow.WorkflowType, investigationFactory(cfg, logger))

	if err := server.Start(signalCtx); err != nil {
		return fmt.Errorf("start workflow server: %w", err)
	}
	defer server.Stop()

	logger.Info("Workflow server started",
		"namespace", cfg.Host.Namespace,
		"queue", cfg.Host.Queue)

	httpServer, err := buildHTTPServer(signalCtx, cfg, nc, promRegistry, logger)
	if err != nil {
		return err
	}
	httpErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()
	logger.Info("HTTP server listening", "addr", cfg.Worker.Listen)

	select {
	case <-signalCtx.Done():
		logger.Info("Received shutdown signal")
	case err := <-httpErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", "error", err)
	}

	logger.Info("Worker shutdown complete")
	return nil
}

// investigationFactory builds one Investigation per start request. The
// runner and catalog are configured once; each instance gets its own
// state machine.
func investigationFactory(cfg *config.Config, logger *slog.Logger) host.MachineFactory {
	client := llm.NewClient(cfg.Model.Endpoint, cfg.Model.Name, llm.WithLogger(logger))
	catalog := workflow.EnvCatalog{Var: "SLEUTH_PROVIDERS", Fallback: cfg.Worker.Providers}
	temperature := cfg.Model.Temperature

	return func(input json.RawMessage) (workflow.Machine, error) {
		runner := workflow.NewLLMRunner(client, &temperature, cfg.Model.Timeout)
		return workflow.NewInvestigation(runner, catalog,
			workflow.WithMaxTurns(cfg.Worker.MaxTurns),
			workflow.WithLogger(logger),
		), nil
	}
}

// buildHTTPServer wires the webhook receiver, metrics and health check
// onto one mux.
func buildHTTPServer(ctx context.Context, cfg *config.Config, nc *nats.Conn, promRegistry *prometheus.Registry, logger *slog.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.Worker.TemplatesDir != "" {
		reg, err := registry.New(cfg.Worker.TemplatesDir, logger)
		if err != nil {
			return nil, fmt.Errorf("load templates: %w", err)
		}
		if err := reg.Watch(ctx); err != nil {
			logger.Warn("Template hot reload disabled", "error", err)
		}

		hostClient, err := host.NewClient(ctx, nc, cfg.Host.Namespace, logger)
		if err != nil {
			return nil, fmt.Errorf("create host client: %w", err)
		}
		mux.Handle("/webhook/alerts", receiver.New(hostClient, reg, cfg.Host.Queue, logger))
		logger.Info("Webhook receiver enabled", "templates", reg.Len())
	}

	return &http.Server{
		Addr:              cfg.Worker.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.NewLoader(logger).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
