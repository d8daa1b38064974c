// Command sdnctl is the elastic SDN control-plane supervisor
// entrypoint.
//
// Startup sequence:
//  1. Parse flags (-config, -version).
//  2. Load and validate config.yaml.
//  3. Build the structured logger.
//  4. Open the per-run audit ledger.
//  5. Construct the Instance Driver, Data-Plane Manager Client,
//     Controller Client, Authority Distributor, Cluster Supervisor,
//     Autoscaler, and topology runner/traffic generator.
//  6. Start the Prometheus metrics server (loopback-only).
//  7. Start the autoscaler tick loop.
//  8. Start the Control API HTTP server.
//  9. Register SIGHUP (config hot-reload) and SIGINT/SIGTERM
//     (graceful shutdown) handlers.
//
// Shutdown sequence (SIGINT/SIGTERM):
//  1. Cancel the root context.
//  2. Stop the autoscaler tick loop.
//  3. Stop every live controller instance, each bounded by its own
//     timeout.
//  4. Close the audit ledger (removing its file).
//  5. Flush the logger, exit 0.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sdnfabric/controlplane/internal/app"
	"github.com/sdnfabric/controlplane/internal/audit"
	"github.com/sdnfabric/controlplane/internal/autoscaler"
	"github.com/sdnfabric/controlplane/internal/cluster"
	"github.com/sdnfabric/controlplane/internal/config"
	"github.com/sdnfabric/controlplane/internal/controlapi"
	"github.com/sdnfabric/controlplane/internal/ctrlclient"
	"github.com/sdnfabric/controlplane/internal/dataplane"
	"github.com/sdnfabric/controlplane/internal/distributor"
	"github.com/sdnfabric/controlplane/internal/driver"
	"github.com/sdnfabric/controlplane/internal/metrics"
	"github.com/sdnfabric/controlplane/internal/model"
	"github.com/sdnfabric/controlplane/internal/topology"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// distributorObservers fans a completed redistribution round out to both
// the Prometheus metrics and the ephemeral audit ledger.
type distributorObservers struct {
	metrics *metrics.Metrics
	ledger  *audit.Ledger
}

func (o distributorObservers) ObserveDistribution(generation int64, switches, members int, duration time.Duration, rolePostFailures int) {
	o.metrics.ObserveDistribution(generation, switches, members, duration, rolePostFailures)
	o.ledger.ObserveDistribution(generation, switches, members, duration, rolePostFailures)
}

// clusterObservers fans a completed scale sequence out to both the
// Prometheus metrics and the ephemeral audit ledger.
type clusterObservers struct {
	metrics *metrics.Metrics
	ledger  *audit.Ledger
}

func (o clusterObservers) ObserveScaleUp(id model.ControllerId, members int) {
	o.metrics.ObserveScaleUp(id, members)
	o.ledger.ObserveScaleUp(id, members)
}

func (o clusterObservers) ObserveScaleDown(id model.ControllerId, members int) {
	o.metrics.ObserveScaleDown(id, members)
	o.ledger.ObserveScaleDown(id, members)
}

func (o clusterObservers) ObserveFailover(ids []model.ControllerId, members int) {
	o.metrics.ObserveFailover(ids, members)
	o.ledger.ObserveFailover(ids, members)
}

func main() {
	configPath := flag.String("config", "/etc/sdnctl/config.yaml", "Path to config.yaml")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sdnctl %s\n", version)
		os.Exit(0)
	}

	// ── Step 2: Load config ──────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 3: Logger ───────────────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	startedAt := time.Now()
	log.Info("sdnctl starting",
		zap.String("version", version),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 4: Audit ledger ─────────────────────────────────────────────────
	ledger, err := audit.Open(cfg.Audit.Dir, startedAt)
	if err != nil {
		log.Fatal("audit ledger open failed", zap.Error(err))
	}
	defer ledger.Close() //nolint:errcheck
	log.Info("audit ledger opened", zap.String("dir", cfg.Audit.Dir))

	// ── Step 5: Construct the object graph ───────────────────────────────────
	promMetrics := metrics.New()

	instDriver := driver.New(log, cfg.DataPlane.ControllerBinary)
	dpClient := dataplane.New(log, cfg.DataPlane.OvsctlPath, cfg.Distributor.RewireTimeout)
	ctrlClient := ctrlclient.New(log)
	dist := distributor.New(log, dpClient, ctrlClient, cfg.Distributor.RolePostTimeout)
	dist.SetInstrumentation(distributorObservers{promMetrics, ledger})

	clusterCfg := cluster.Config{
		BaseOFPPort:         cfg.Cluster.BaseOFPPort,
		BaseAPIPort:         cfg.Cluster.BaseAPIPort,
		Host:                cfg.Cluster.Host,
		MinControllers:      cfg.Cluster.MinControllers,
		MaxControllers:      cfg.Cluster.MaxControllers,
		WarmupTime:          cfg.Cluster.WarmupTime,
		ColdStartWarmupTime: cfg.Cluster.ColdStartWarmupTime,
		ScaleDownSettleTime: cfg.Cluster.ScaleDownSettleTime,
	}
	supervisor := cluster.New(log, clusterCfg, instDriver, dpClient, dist)
	supervisor.SetInstrumentation(clusterObservers{promMetrics, ledger})

	scalerCfg := autoscaler.Config{
		CheckInterval:           cfg.Autoscaler.CheckInterval,
		TargetLoadPerController: cfg.Autoscaler.TargetLoadPerController,
		MinLoadPerController:    cfg.Autoscaler.MinLoadPerController,
		CooldownTime:            cfg.Autoscaler.CooldownTime,
		MetricsTimeout:          cfg.Autoscaler.MetricsTimeout,
		MinControllers:          cfg.Cluster.MinControllers,
		MaxControllers:          cfg.Cluster.MaxControllers,
	}
	scaler := autoscaler.New(log, scalerCfg, ctrlClient, supervisor, supervisor)
	scaler.SetInstrumentation(promMetrics)

	topoRunner := topology.NewProcessRunner(log, cfg.Topology.RunnerPath, cfg.Topology.RunnerArgs...)
	trafficGen := topology.NewProcessTrafficGenerator(log, cfg.Topology.TrafficGenPath)

	application := app.New(log, supervisor, scaler, topoRunner, trafficGen, cfg.Cluster.ScaleDownSettleTime)

	// ── Step 6: Metrics server ───────────────────────────────────────────────
	go func() {
		if err := promMetrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 7: Autoscaler tick loop ─────────────────────────────────────────
	go scaler.Run(ctx)
	log.Info("autoscaler tick loop started", zap.Duration("check_interval", cfg.Autoscaler.CheckInterval))

	// ── Step 8: Control API ──────────────────────────────────────────────────
	controlSrv := controlapi.New(log, application)
	go func() {
		if err := controlSrv.ListenAndServe(ctx, cfg.ControlAPI.Addr); err != nil {
			log.Error("control API server error", zap.Error(err))
		}
	}()
	log.Info("control API started", zap.String("addr", cfg.ControlAPI.Addr))

	// ── Step 9: SIGHUP hot-reload ─────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received, reloading config")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed, retaining old config", zap.Error(err))
				continue
			}
			scaler.UpdateConfig(autoscaler.Config{
				CheckInterval:           newCfg.Autoscaler.CheckInterval,
				TargetLoadPerController: newCfg.Autoscaler.TargetLoadPerController,
				MinLoadPerController:    newCfg.Autoscaler.MinLoadPerController,
				CooldownTime:            newCfg.Autoscaler.CooldownTime,
				MetricsTimeout:          newCfg.Autoscaler.MetricsTimeout,
				MinControllers:          newCfg.Cluster.MinControllers,
				MaxControllers:          newCfg.Cluster.MaxControllers,
			})
			log.Info("config hot-reload applied (non-destructive fields only)",
				zap.Float64("target_load_per_controller", newCfg.Autoscaler.TargetLoadPerController),
				zap.Float64("min_load_per_controller", newCfg.Autoscaler.MinLoadPerController),
				zap.Duration("cooldown_time", newCfg.Autoscaler.CooldownTime),
				zap.Duration("check_interval", newCfg.Autoscaler.CheckInterval),
			)
		}
	}()

	// ── Wait for shutdown signal ──────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	scaler.Stop()
	supervisor.Shutdown(context.Background(), cfg.Cluster.ScaleDownSettleTime+2*time.Second)

	log.Info("sdnctl shutdown complete")
}

// buildLogger constructs a zap.Logger per the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
