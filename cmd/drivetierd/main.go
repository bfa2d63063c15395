// Command drivetierd is the daemon entrypoint: it loads configuration,
// initializes logging, runs bootstrap (drive discovery/format/mount/union)
// when enabled, constructs the tiering engine, and waits for a shutdown
// signal (spec.md §6 CLI surface: --config, --threads, --dryrun).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/driftworks/drivetierd/internal/bootstrap"
	"github.com/driftworks/drivetierd/internal/config"
	"github.com/driftworks/drivetierd/internal/copier"
	internalhealth "github.com/driftworks/drivetierd/internal/health"
	"github.com/driftworks/drivetierd/internal/metrics"
	"github.com/driftworks/drivetierd/internal/tiering"
	"github.com/driftworks/drivetierd/pkg/api"
	"github.com/driftworks/drivetierd/pkg/health"
	"github.com/driftworks/drivetierd/pkg/memmon"
	"github.com/driftworks/drivetierd/pkg/profiling"
	"github.com/driftworks/drivetierd/pkg/status"
	"github.com/driftworks/drivetierd/pkg/utils"
)

// shutdownGrace is the bounded grace period the daemon waits for
// in-flight child processes before forcing exit (spec.md §5).
const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "/etc/drivetierd/config.yaml", "path to configuration file")
	threads := flag.Int("threads", 0, "override tiering.mover_workers (0 = use config value)")
	dryrun := flag.Bool("dryrun", false, "don't invoke the copy tool; update the store as if moves succeeded")
	flag.Parse()

	if err := run(*configPath, *threads, *dryrun); err != nil {
		fmt.Fprintln(os.Stderr, "drivetierd:", err)
		os.Exit(1)
	}
}

func run(configPath string, threads int, dryrun bool) error {
	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(configPath); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("load env overlay: %w", err)
	}
	if threads > 0 {
		cfg.Tiering.MoverWorkers = threads
	}
	if dryrun {
		cfg.Tiering.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := utils.NewStructuredLogger(loggerConfig(cfg))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.Info("drivetierd starting", map[string]interface{}{
		"config": configPath, "mover_workers": cfg.Tiering.MoverWorkers, "dryrun": cfg.Tiering.DryRun,
	})

	var tierDescriptors []tiering.TierDescriptor
	if cfg.Bootstrap.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		tierDescriptors, err = bootstrap.Run(ctx, *cfg, logger)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	} else {
		for _, t := range cfg.Tiering.Tiers {
			tierDescriptors = append(tierDescriptors, tiering.TierDescriptor{
				Name: tiering.Tier(t.Name),
				Root: t.Root,
				// Absent explicit device discovery, a configured root with
				// no Devices list is still treated as eligible: bootstrap
				// was skipped deliberately (pre-provisioned union mounts).
				Devices: append([]string{}, t.Devices...),
			})
		}
		for i := range tierDescriptors {
			if len(tierDescriptors[i].Devices) == 0 {
				tierDescriptors[i].Devices = []string{"preconfigured"}
			}
		}
	}

	if err := bootstrap.VerifyTierRoots(tierDescriptors); err != nil {
		return fmt.Errorf("tier root check: %w", err)
	}

	store, err := openStore(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var cp copier.Interface
	if cfg.Tiering.DryRun {
		cp = copier.DryRunCopier{}
	} else {
		cp = copier.New()
	}

	mc, err := metrics.NewCollector(&metrics.Config{
		Enabled:        cfg.Monitoring.Metrics.Enabled,
		Port:           cfg.Global.MetricsPort,
		Path:           "/metrics",
		Namespace:      "drivetierd",
		UpdateInterval: 30 * time.Second,
		Labels:         cfg.Monitoring.Metrics.CustomLabels,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	healthTracker := health.NewTracker(health.DefaultConfig())
	for _, c := range []string{"store", "scanner", "mover", "retry", "reconciler", "watchdog"} {
		healthTracker.RegisterComponent(c)
	}
	statusTracker := status.NewTracker(status.DefaultTrackerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mc.Start(ctx) //nolint:errcheck // Start only errors on a listener bind failure, logged internally

	apiServer := api.NewServer(api.ServerConfig{
		Address:       fmt.Sprintf(":%d", cfg.Global.HealthPort),
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   60 * time.Second,
		EnableMetrics: cfg.Monitoring.Metrics.Enabled,
	}, statusTracker, healthTracker)
	apiServer.StartBackground()

	watchdogCfg := memmon.DefaultMonitorConfig()
	watchdogCfg.Logger = logger
	if cfg.Global.LogFile != "" {
		watchdogCfg.ProfileDir = filepath.Join(filepath.Dir(cfg.Global.LogFile), "profiles")
	}
	watchdog := memmon.NewMemoryMonitor(watchdogCfg)
	if err := watchdog.Start(ctx); err != nil {
		logger.Warn("watchdog failed to start", map[string]interface{}{"error": err.Error()})
	}

	if cfg.Global.ProfilePort > 0 {
		profiler := profiling.NewMemoryMonitor(profiling.MonitorConfig{
			Enabled:        true,
			Port:           cfg.Global.ProfilePort,
			SampleInterval: 30 * time.Second,
			EnablePprof:    true,
		}, profiling.DefaultAlertThresholds())
		if err := profiler.Start(ctx); err != nil {
			logger.Warn("profiling server failed to start", map[string]interface{}{"error": err.Error()})
		} else {
			defer profiler.Stop(context.Background()) //nolint:errcheck // best-effort on shutdown path
		}
	}

	deepMonitor, err := internalhealth.NewEnhancedMonitor(&internalhealth.MonitorConfig{
		Enabled:          true,
		MonitorInterval:  time.Minute,
		AutoRecovery:     false,
		ReportingEnabled: false,
		UnionRoot:        cfg.Tiering.UnionRoot,
		StorePath:        cfg.Store.Path,
		RsyncBinary:      "rsync",
	})
	if err != nil {
		logger.Warn("deep health monitor init failed", map[string]interface{}{"error": err.Error()})
	} else if err := deepMonitor.Start(ctx); err != nil {
		logger.Warn("deep health monitor failed to start", map[string]interface{}{"error": err.Error()})
	} else {
		defer deepMonitor.Stop() //nolint:errcheck // best-effort on shutdown path
	}

	engine := tiering.NewEngine(cfg.Tiering, tierDescriptors, store, cp, logger, mc, healthTracker, statusTracker)
	engine.Run(ctx)

	waitForShutdown(logger)
	cancel()

	if err := apiServer.Shutdown(context.Background()); err != nil {
		logger.Warn("api server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	_ = watchdog.Stop()

	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Warn("shutdown grace period elapsed, exiting with workers still draining")
	}

	logger.Info("drivetierd stopped")
	return nil
}

func openStore(path string, logger *utils.StructuredLogger) (*tiering.Store, error) {
	store, err := tiering.OpenStore(path, logger)
	if err == nil {
		return store, nil
	}

	logger.Error("metadata store open failed, rebuild not yet possible before engine exists", map[string]interface{}{
		"path": path, "error": err.Error(),
	})
	return nil, fmt.Errorf("open metadata store: %w", err)
}

func loggerConfig(cfg *config.Configuration) *utils.StructuredLoggerConfig {
	lc := utils.DefaultStructuredLoggerConfig()
	if level, err := utils.ParseLogLevel(cfg.Global.LogLevel); err == nil {
		lc.Level = level
	}
	if cfg.Monitoring.Logging.Format == "json" {
		lc.Format = utils.FormatJSON
	}
	if cfg.Global.LogFile != "" {
		lc.Rotation = &utils.RotationConfig{Filename: cfg.Global.LogFile}
	}
	return lc
}

func waitForShutdown(logger *utils.StructuredLogger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", map[string]interface{}{"signal": sig.String()})
}
