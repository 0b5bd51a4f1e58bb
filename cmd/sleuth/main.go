// Package main provides the sleuth binary entry point.
// Sleuth is a human-in-the-loop infrastructure investigation tool: it
// drives durable investigation workflows on a NATS-backed worker and
// keeps the operator in the loop through an interactive session.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oncallsh/sleuth/alertsource"
	"github.com/oncallsh/sleuth/commands"
	"github.com/oncallsh/sleuth/config"
	"github.com/oncallsh/sleuth/console"
	"github.com/oncallsh/sleuth/host"
	"github.com/oncallsh/sleuth/orchestrator"
	"github.com/oncallsh/sleuth/runbook"
	"github.com/oncallsh/sleuth/session"
	"github.com/oncallsh/sleuth/workflow"
)

const (
	Version = "0.1.0"
	appName = "sleuth"
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

// hostFlags are shared between subcommands that talk to the workflow host.
type hostFlags struct {
	url       string
	namespace string
	queue     string
}

func (f *hostFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "host", "", "NATS URL of the workflow host")
	cmd.Flags().StringVar(&f.namespace, "namespace", "", "Workflow namespace")
	cmd.Flags().StringVar(&f.queue, "queue", "", "Task queue to start workflows on")
}

func (f *hostFlags) apply(cfg *config.Config) {
	if f.url != "" {
		cfg.Host.URL = f.url
	}
	if f.namespace != "" {
		cfg.Host.Namespace = f.namespace
	}
	if f.queue != "" {
		cfg.Host.Queue = f.queue
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Human-in-the-loop infrastructure investigations",
		Long: `Sleuth runs LLM-driven infrastructure investigations as durable
workflows on a NATS-backed worker, keeping a human operator in the loop
for every step the agent is unsure about.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(logLevel)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(investigateCmd())
	cmd.AddCommand(correlateCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func configureLogging(logLevel string) {
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
}

func investigateCmd() *cobra.Command {
	var (
		hf            hostFlags
		workflowID    string
		pollInterval  time.Duration
		maxIterations int
	)

	cmd := &cobra.Command{
		Use:   "investigate",
		Short: "Start the interactive investigation session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(&hf)
			if err != nil {
				return err
			}
			if pollInterval > 0 {
				cfg.Session.PollInterval = pollInterval
			}
			if maxIterations > 0 {
				cfg.Session.MaxIterations = maxIterations
			}
			return runInvestigate(cmd.Context(), cfg, workflowID)
		},
	}

	hf.register(cmd)
	cmd.Flags().StringVar(&workflowID, "id", "", "Resume a specific workflow id on session start")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "Workflow status poll interval")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Max status polls before a workflow is force-ended")

	return cmd
}

func runInvestigate(ctx context.Context, cfg *config.Config, workflowID string) error {
	logger := slog.Default()

	nc, err := host.Connect(cfg.Host.URL, appName)
	if err != nil {
		return fmt.Errorf("connect to workflow host: %w", err)
	}
	defer nc.Close()

	hostClient, err := host.NewClient(ctx, nc, cfg.Host.Namespace, logger)
	if err != nil {
		return fmt.Errorf("create host client: %w", err)
	}

	store := session.NewStore(cfg.SessionPath(), logger)
	state, err := store.Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	if workflowID != "" {
		if err := state.SwitchWorkflow(workflowID, true); err != nil {
			return err
		}
	}

	env := &commands.Env{
		Config:   cfg,
		Session:  state,
		Store:    store,
		Host:     hostClient,
		Alerts:   alertsource.NewClient(cfg.Alerts.URL, alertsource.WithTimeout(cfg.Alerts.Timeout), alertsource.WithLogger(logger)),
		Runbooks: runbook.NewFetcher(cfg.Alerts.Timeout, logger),
		Console:  console.New(os.Stdin, os.Stdout),
		Logger:   logger,
	}

	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orch := orchestrator.New(env, commands.DefaultRegistry(), cfg.Session.PollInterval, cfg.Session.MaxIterations, logger)
	if err := orch.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func correlateCmd() *cobra.Command {
	var (
		hf          hostFlags
		sourceURL   string
		include     []string
		exclude     []string
		providers   []string
		workflowID  string
		status      string
		dryRun      bool
		autoConfirm bool
	)

	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Start a one-shot correlation workflow over filtered alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(&hf)
			if err != nil {
				return err
			}
			if sourceURL != "" {
				cfg.Alerts.URL = sourceURL
			}
			if len(exclude) > 0 {
				cfg.Alerts.Blacklist = exclude
			}
			if status != "" {
				cfg.Alerts.Status = status
			}
			return runCorrelate(cmd.Context(), cfg, correlateOpts{
				include:     include,
				providers:   providers,
				workflowID:  workflowID,
				dryRun:      dryRun,
				autoConfirm: autoConfirm,
			})
		},
	}

	hf.register(cmd)
	cmd.Flags().StringVar(&sourceURL, "source", "", "Alert source base URL")
	cmd.Flags().StringSliceVar(&include, "include", nil, "Alert names or fingerprints to include")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Alert names to exclude")
	cmd.Flags().StringSliceVar(&providers, "providers", nil, "Capability providers advertised to the workflow")
	cmd.Flags().StringVar(&workflowID, "id", "", "Custom workflow id")
	cmd.Flags().StringVar(&status, "status", "", "Alert status filter (firing, resolved, all)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the prompt without starting a workflow")
	cmd.Flags().BoolVar(&autoConfirm, "yes", false, "Skip the confirmation prompt")

	return cmd
}

type correlateOpts struct {
	include     []string
	providers   []string
	workflowID  string
	dryRun      bool
	autoConfirm bool
}

func runCorrelate(ctx context.Context, cfg *config.Config, opts correlateOpts) error {
	logger := slog.Default()
	cons := console.New(os.Stdin, os.Stdout)

	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src := alertsource.NewClient(cfg.Alerts.URL, alertsource.WithTimeout(cfg.Alerts.Timeout), alertsource.WithLogger(logger))
	alerts, err := src.Fetch(signalCtx)
	if err != nil {
		return fmt.Errorf("fetch alerts: %w", err)
	}

	filter := alertsource.Filter{
		Whitelist: opts.include,
		Blacklist: cfg.Alerts.Blacklist,
		Status:    cfg.Alerts.Status,
	}
	matched := filter.Apply(alerts)
	if len(matched) == 0 {
		return fmt.Errorf("no alerts matched the filter")
	}

	prompt := buildCorrelationPrompt(matched, opts.providers)

	cons.Header(fmt.Sprintf("Correlating %d alerts", len(matched)))
	for _, a := range matched {
		cons.Info(fmt.Sprintf("  %s  %s  [%s]", a.Fingerprint, a.Name(), a.Severity()))
	}

	if opts.dryRun {
		cons.Panel("Prompt", prompt)
		cons.Dim("Dry run: no workflow started.")
		return nil
	}

	if !opts.autoConfirm {
		ok, err := cons.Confirm("Start the correlation workflow?", "y")
		if err != nil {
			return err
		}
		if !ok {
			cons.Dim("Aborted.")
			return nil
		}
	}

	nc, err := host.Connect(cfg.Host.URL, appName)
	if err != nil {
		return fmt.Errorf("connect to workflow host: %w", err)
	}
	defer nc.Close()

	hostClient, err := host.NewClient(signalCtx, nc, cfg.Host.Namespace, logger)
	if err != nil {
		return fmt.Errorf("create host client: %w", err)
	}

	memo := map[string]string{
		"origin": "correlate",
		"alerts": fmt.Sprintf("%d", len(matched)),
	}
	if len(opts.providers) > 0 {
		memo["providers"] = strings.Join(opts.providers, ",")
	}

	id, err := hostClient.StartWorkflow(signalCtx, workflow.WorkflowType, nil, opts.workflowID, cfg.Host.Queue, memo)
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := hostClient.Signal(signalCtx, id, workflow.SignalStartExecution, workflow.StartInput{UserPrompt: prompt}); err != nil {
		return fmt.Errorf("signal start: %w", err)
	}
	cons.Success("Started correlation workflow " + id)

	return waitForOutcome(signalCtx, hostClient, cons, id, cfg.Session.PollInterval)
}

// waitForOutcome polls a one-shot workflow until it finishes or suspends.
// A suspended workflow is handed over to the interactive session rather
// than answered here.
func waitForOutcome(ctx context.Context, hostClient *host.Client, cons *console.Console, id string, pollInterval time.Duration) error {
	for {
		status, err := hostClient.GetStatus(ctx, id)
		if err != nil {
			return fmt.Errorf("query workflow %s: %w", id, err)
		}

		switch status.State {
		case workflow.StateCompleted:
			cons.Panel("Correlation report", status.FinalReport)
			return nil
		case workflow.StateFailed:
			return fmt.Errorf("correlation workflow failed: %s", status.ErrorMessage)
		case workflow.StateAwaitingInput:
			cons.Warning("Workflow needs operator input: " + status.CurrentQuestion)
			cons.Dim(fmt.Sprintf("Continue with: %s investigate --id %s", appName, id))
			return nil
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func buildCorrelationPrompt(alerts []alertsource.Alert, providers []string) string {
	var b strings.Builder
	b.WriteString("Correlate the following alerts and identify whether they share a root cause.\n\n")
	for _, a := range alerts {
		fmt.Fprintf(&b, "- %s (fingerprint %s, severity %s): %s\n", a.Name(), a.Fingerprint, a.Severity(), a.Summary())
	}
	if len(providers) > 0 {
		fmt.Fprintf(&b, "\nAvailable capability providers: %s\n", strings.Join(providers, ", "))
	}
	b.WriteString("\nProduce a report listing related alert groups, the suspected shared root cause per group, and recommended next steps.")
	return b.String()
}

func loadConfig(hf *hostFlags) (*config.Config, error) {
	loader := config.NewLoader(slog.Default())
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	hf.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
