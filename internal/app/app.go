// Package app wires the Cluster Supervisor, Authority Distributor,
// Autoscaler, and topology runner behind one controlapi.SupervisorAPI
// implementation, the concrete counterpart to the pure interface §9's
// "cyclic construction" design note calls for.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sdnfabric/controlplane/internal/autoscaler"
	"github.com/sdnfabric/controlplane/internal/cluster"
	"github.com/sdnfabric/controlplane/internal/controlapi"
	"github.com/sdnfabric/controlplane/internal/topology"
)

// App implements controlapi.SupervisorAPI.
type App struct {
	log             *zap.Logger
	cluster         *cluster.Supervisor
	scaler          *autoscaler.Autoscaler
	runner          topology.Runner
	trafficGen      topology.TrafficGenerator
	instanceStopTimeout time.Duration
}

// New creates an App. instanceStopTimeout bounds each instance's stop
// call during /stop_mininet's teardown.
func New(log *zap.Logger, c *cluster.Supervisor, a *autoscaler.Autoscaler, runner topology.Runner, trafficGen topology.TrafficGenerator, instanceStopTimeout time.Duration) *App {
	return &App{log: log.Named("app"), cluster: c, scaler: a, runner: runner, trafficGen: trafficGen, instanceStopTimeout: instanceStopTimeout}
}

// InitControllers starts the base cluster with one scale-up and enables
// metric collection (POST /init_controllers).
func (a *App) InitControllers(ctx context.Context) error {
	if err := a.cluster.ScaleUp(ctx); err != nil {
		return fmt.Errorf("init_controllers: %w", err)
	}
	a.scaler.SetMonitoring(true)
	return nil
}

// ScaleUp runs a manual scale-up.
func (a *App) ScaleUp(ctx context.Context) error {
	a.scaler.NoteManualScale()
	return a.cluster.ScaleUp(ctx)
}

// ScaleDown runs a manual scale-down.
func (a *App) ScaleDown(ctx context.Context) error {
	a.scaler.NoteManualScale()
	return a.cluster.ScaleDown(ctx)
}

// InitBalancer rewires the data plane, redistributes authority across
// the current membership, and enables the autoscaler's decision engine
// (POST /init_balancer).
func (a *App) InitBalancer(ctx context.Context) error {
	a.cluster.RedistributeNow(ctx)
	a.scaler.SetAutoMode(true)
	return nil
}

// StopBalancer disables the autoscaler's decision engine (POST
// /stop_balancer). Metric collection continues.
func (a *App) StopBalancer() {
	a.scaler.SetAutoMode(false)
}

// StartTopology starts the external topology runner (POST
// /init_mininet).
func (a *App) StartTopology(ctx context.Context) error {
	return a.runner.Start(ctx)
}

// StopTopology tears down the data plane, stops every controller
// instance, and disables monitoring (POST /stop_mininet).
func (a *App) StopTopology(ctx context.Context) error {
	a.scaler.SetMonitoring(false)
	a.scaler.SetAutoMode(false)
	a.cluster.Shutdown(ctx, a.instanceStopTimeout)
	return a.runner.Stop(ctx)
}

// GenerateTraffic invokes the external traffic generator (POST
// /generate_traffic).
func (a *App) GenerateTraffic(ctx context.Context, pps int, seconds int) error {
	return a.trafficGen.Generate(ctx, pps, seconds)
}

// Status assembles the GET /status response.
func (a *App) Status() controlapi.StatusResponse {
	snap := a.cluster.Snapshot()
	asnap := a.scaler.Snapshot()
	return controlapi.StatusResponse{
		ActiveControllers: snap.ActiveControllers,
		AvgLoad:           asnap.AvgLoad,
		IndividualRates:   asnap.IndividualRates,
		IsScaling:         snap.IsScaling,
		MaxControllers:    snap.MaxControllers,
		AutoMode:          asnap.AutoMode,
	}
}
