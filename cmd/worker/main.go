// The worker consumes queued triage tasks from Kafka and runs the
// classify -> persist -> publish chain for each one. Offsets are committed
// after handling so a crash replays the task; the store's per-PR uniqueness
// makes the replay harmless.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"

	pc "github.com/linnemanlabs/prcopilot/internal/cfg"
	"github.com/linnemanlabs/prcopilot/internal/github"
	"github.com/linnemanlabs/prcopilot/internal/llm/claude"
	"github.com/linnemanlabs/prcopilot/internal/postgres"
	"github.com/linnemanlabs/prcopilot/internal/queue"
	"github.com/linnemanlabs/prcopilot/internal/triage"
	"github.com/linnemanlabs/prcopilot/internal/triage/memstore"
	"github.com/linnemanlabs/prcopilot/internal/triage/pgstore"
)

const appName = "prcopilot"
const component = "worker"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	var (
		appCfg   pc.Config
		logCfg   log.Config
		opsCfg   opshttp.Config
		profCfg  prof.Config
		traceCfg otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	cfg.FillFromEnv(flag.CommandLine, "PRCOPILOT_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// The worker only makes sense with a broker to consume from.
	if appCfg.KafkaBrokers == "" {
		return errors.New("kafka-brokers is required for the worker")
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing worker",
		"version", vi.Version,
		"commit", vi.Commit,
		"go_version", vi.GoVersion,
		"admin_port", opsCfg.Port,
		"kafka_brokers", appCfg.KafkaBrokers,
		"kafka_topic", appCfg.KafkaTopic,
		"kafka_group", appCfg.KafkaGroup,
		"claude_model", appCfg.ClaudeModel,
	)

	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	var store triage.Store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		store = pgStore
		L.Info(ctx, "using postgres store")
	} else {
		store = memstore.New()
		L.Warn(ctx, "using in-memory store, verdicts are not shared with the api server")
	}

	triageMetrics := triage.NewMetrics(m.Registry())

	claudeProvider := claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
	engine := triage.NewEngine(claudeProvider, L, triageMetrics.Hooks())

	var fetcher triage.ContextFetcher
	var publisher triage.Publisher
	if appCfg.GitHubAppID != "" {
		appAuth, err := github.NewAppAuth(appCfg.GitHubAppID, appCfg.GitHubPrivateKeyPath, appCfg.GitHubAPIBase)
		if err != nil {
			return fmt.Errorf("github app auth: %w", err)
		}
		ghClient := github.New(appAuth, appCfg.GitHubAPIBase, L)
		fetcher = ghClient
		publisher = ghClient
		L.Info(ctx, "github app client enabled", "app_id", appCfg.GitHubAppID)
	} else {
		L.Warn(ctx, "no github app credentials, verdict comments will not be posted")
	}

	svc := triage.NewService(store, engine, fetcher, publisher, L, triageMetrics)
	runner := triage.NewRunner(svc, triage.RetryPolicy{
		MaxAttempts: appCfg.RetryMaxAttempts,
		Delay:       time.Duration(appCfg.RetryDelaySeconds) * time.Second,
	}, L, triageMetrics)

	consumer, err := queue.NewConsumer(appCfg.KafkaBrokers, appCfg.KafkaGroup, appCfg.KafkaTopic, runner, L)
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}

	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// Consume until the context is cancelled by a signal.
	runErr := consumer.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		L.Error(ctx, runErr, "consumer stopped with error")
	}

	L.Info(context.Background(), "shutdown signal received")
	shutdownGate.Set("draining")

	if err := consumer.Close(); err != nil {
		L.Error(context.Background(), err, "consumer close")
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	if shutdownOtelx != nil {
		if err := shutdownOtelx(shutdownCtx); err != nil {
			L.Error(context.Background(), err, "otel shutdown")
		}
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
