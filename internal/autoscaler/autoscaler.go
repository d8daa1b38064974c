// Package autoscaler implements periodic metric collection, rate
// computation, hysteresis-based scale decisions with a cooldown, and
// failover handling.
//
// The tick loop runs as a dedicated goroutine driven by a time.Ticker,
// stoppable via a channel. Scaling workers are spawned as one-shot
// goroutines so the tick never blocks on the warmup sleep inside
// cluster.Supervisor.ScaleUp.
package autoscaler

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdnfabric/controlplane/internal/model"
)

// MetricPoller is the subset of internal/ctrlclient.Client the
// autoscaler needs.
type MetricPoller interface {
	FetchPacketInCount(ctx context.Context, id model.ControllerId, host string, apiPort int) (int64, error)
}

// Scaler is the subset of internal/cluster.Supervisor the autoscaler
// drives.
type Scaler interface {
	Members() []model.ControllerId
	Size() int
	IsScaling() bool
	ScaleUp(ctx context.Context) error
	ScaleDown(ctx context.Context) error
	HandleFailover(ctx context.Context, deadIDs []model.ControllerId)
}

// EndpointResolver resolves a controller id's host/API port for polling.
// Implemented by whatever owns Instance records (internal/cluster).
type EndpointResolver interface {
	APIEndpoint(id model.ControllerId) (host string, apiPort int, ok bool)
}

// Instrumentation receives the per-tick average load. internal/metrics.Metrics
// implements it; SetInstrumentation leaves it nil by default so unit
// tests never need to supply one.
type Instrumentation interface {
	ObserveLoad(avgLoad float64)
}

// Config holds the tick/hysteresis/cooldown parameters (a narrow copy
// of internal/config.AutoscalerConfig plus cluster bounds, so this
// package does not import internal/config).
type Config struct {
	CheckInterval           time.Duration
	TargetLoadPerController float64
	MinLoadPerController    float64
	CooldownTime            time.Duration
	MetricsTimeout          time.Duration
	MinControllers          int
	MaxControllers          int
}

// Autoscaler owns the previous MetricSamples and DecisionState (minus
// IsScaling, which cluster.Supervisor owns since it performs the scale
// sequences).
type Autoscaler struct {
	log  *zap.Logger
	cfg  Config
	poll MetricPoller
	ep   EndpointResolver
	scl  Scaler
	obs  Instrumentation

	mu                sync.Mutex
	lastSample        map[model.ControllerId]model.MetricSample
	lastRate          map[model.ControllerId]float64
	lastScaleAt       time.Time
	autoMode          bool
	monitoringEnabled bool

	stop     chan struct{}
	done     chan struct{}
	reloaded chan time.Duration
}

// New creates an Autoscaler. Monitoring and auto-mode both start
// disabled; the Control API's /init_controllers and /init_balancer
// handlers enable them.
func New(log *zap.Logger, cfg Config, poll MetricPoller, ep EndpointResolver, scl Scaler) *Autoscaler {
	return &Autoscaler{
		log:        log.Named("autoscaler"),
		cfg:        cfg,
		poll:       poll,
		ep:         ep,
		scl:        scl,
		lastSample: make(map[model.ControllerId]model.MetricSample),
		lastRate:   make(map[model.ControllerId]float64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		reloaded:   make(chan time.Duration, 1),
	}
}

// SetInstrumentation wires an observer (internal/metrics) that is
// notified with the freshly computed average load after every tick.
func (a *Autoscaler) SetInstrumentation(obs Instrumentation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.obs = obs
}

// UpdateConfig applies a hot-reloaded configuration's non-destructive
// fields (thresholds, cooldown, metrics timeout, check interval) without
// restarting the tick loop. Cluster bounds and port parameters are
// destructive and are deliberately not applied here: the MinControllers
// and MaxControllers fields of cfg are ignored.
func (a *Autoscaler) UpdateConfig(cfg Config) {
	a.mu.Lock()
	intervalChanged := cfg.CheckInterval != a.cfg.CheckInterval
	a.cfg.TargetLoadPerController = cfg.TargetLoadPerController
	a.cfg.MinLoadPerController = cfg.MinLoadPerController
	a.cfg.CooldownTime = cfg.CooldownTime
	a.cfg.MetricsTimeout = cfg.MetricsTimeout
	a.cfg.CheckInterval = cfg.CheckInterval
	a.mu.Unlock()

	if intervalChanged {
		select {
		case a.reloaded <- cfg.CheckInterval:
		default:
		}
	}
}

// Run starts the tick loop in the current goroutine. It returns when
// ctx is cancelled or Stop is called.
func (a *Autoscaler) Run(ctx context.Context) {
	defer close(a.done)
	a.mu.Lock()
	interval := a.cfg.CheckInterval
	a.mu.Unlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case newInterval := <-a.reloaded:
			ticker.Reset(newInterval)
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// Stop halts the tick loop and waits for the in-flight tick to finish.
func (a *Autoscaler) Stop() {
	close(a.stop)
	<-a.done
}

// SetMonitoring enables or disables metric collection and decisions.
func (a *Autoscaler) SetMonitoring(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.monitoringEnabled = enabled
}

// SetAutoMode enables or disables the scaling decision engine; metric
// collection continues either way once monitoring is enabled.
func (a *Autoscaler) SetAutoMode(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autoMode = enabled
}

// NoteManualScale records a manual scale action's timestamp so the
// cooldown also applies after operator-triggered /scale_up, /scale_down.
func (a *Autoscaler) NoteManualScale() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastScaleAt = time.Now()
}

// Status is a snapshot for the Control API's GET /status.
type Status struct {
	AvgLoad         float64
	IndividualRates map[model.ControllerId]float64
	AutoMode        bool
}

// Snapshot returns the current Status.
func (a *Autoscaler) Snapshot() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	rates := make(map[model.ControllerId]float64, len(a.lastRate))
	var total float64
	for id, r := range a.lastRate {
		rates[id] = r
		if r > 0 {
			total += r
		}
	}
	var avg float64
	if n := len(rates); n > 0 {
		avg = round2(total / float64(n))
	}
	return Status{AvgLoad: avg, IndividualRates: rates, AutoMode: a.autoMode}
}

// tick runs one evaluation cycle: poll, compute rates, aggregate,
// failover-if-needed, and otherwise decide. Never panics or propagates
// an error — every failure path logs and returns.
func (a *Autoscaler) tick(ctx context.Context) {
	a.mu.Lock()
	monitoring := a.monitoringEnabled
	a.mu.Unlock()
	if !monitoring {
		return
	}

	members := a.scl.Members()
	if len(members) == 0 {
		return
	}

	a.mu.Lock()
	metricsTimeout := a.cfg.MetricsTimeout
	a.mu.Unlock()

	now := time.Now()
	rates := make(map[model.ControllerId]float64, len(members))
	var dead []model.ControllerId

	for _, id := range members {
		host, apiPort, ok := a.ep.APIEndpoint(id)
		if !ok {
			continue
		}
		pollCtx, cancel := context.WithTimeout(ctx, metricsTimeout)
		cur, err := a.poll.FetchPacketInCount(pollCtx, id, host, apiPort)
		cancel()

		if err != nil {
			a.log.Warn("controller unreachable, flagging for failover",
				zap.Int("id", int(id)), zap.Error(err))
			dead = append(dead, id)
			rates[id] = -1
			continue
		}

		rates[id] = a.computeRate(id, now, cur)
	}

	a.mu.Lock()
	for _, id := range dead {
		delete(a.lastSample, id)
	}
	a.lastRate = rates
	a.mu.Unlock()

	if len(dead) > 0 {
		a.scl.HandleFailover(ctx, dead)
		a.mu.Lock()
		a.lastScaleAt = now
		a.mu.Unlock()
		return
	}

	a.decide(ctx, now, rates)
}

// computeRate applies the Packet-In rate formula, including the
// counter-reset rule for a restarted controller (dn < 0: dn = cur).
// Must be called with a.mu unlocked; it takes its own lock around the
// sample read/write.
func (a *Autoscaler) computeRate(id model.ControllerId, now time.Time, cur int64) float64 {
	a.mu.Lock()
	prev, ok := a.lastSample[id]
	a.lastSample[id] = model.MetricSample{ControllerID: id, At: now, CumulativeIn: cur}
	a.mu.Unlock()

	if !ok {
		return 0
	}

	dt := now.Sub(prev.At).Seconds()
	if dt < 0.001 {
		dt = 0.001
	}
	dn := cur - prev.CumulativeIn
	if dn < 0 {
		dn = cur
	}
	return round2(float64(dn) / dt)
}

// decide runs the hysteresis/cooldown decision engine: no-op while
// scaling or within cooldown, else scale up/down on threshold breach,
// else steady.
func (a *Autoscaler) decide(ctx context.Context, now time.Time, rates map[model.ControllerId]float64) {
	a.mu.Lock()
	autoMode := a.autoMode
	lastScaleAt := a.lastScaleAt
	cfg := a.cfg
	obs := a.obs
	a.mu.Unlock()

	var total float64
	for _, r := range rates {
		total += r
	}
	n := len(rates)
	var avg float64
	if n > 0 {
		avg = round2(total / float64(n))
	}
	if obs != nil {
		obs.ObserveLoad(avg)
	}

	if !autoMode {
		return
	}
	if a.scl.IsScaling() {
		return
	}
	if !lastScaleAt.IsZero() && now.Sub(lastScaleAt) <= cfg.CooldownTime {
		return
	}

	switch {
	case avg > cfg.TargetLoadPerController && n < cfg.MaxControllers:
		a.mu.Lock()
		a.lastScaleAt = now
		a.mu.Unlock()
		go func() {
			if err := a.scl.ScaleUp(ctx); err != nil {
				a.log.Error("scale up failed", zap.Error(err))
			}
		}()
	case avg < cfg.MinLoadPerController && n > cfg.MinControllers:
		a.mu.Lock()
		a.lastScaleAt = now
		a.mu.Unlock()
		go func() {
			if err := a.scl.ScaleDown(ctx); err != nil {
				a.log.Error("scale down failed", zap.Error(err))
			}
		}()
	default:
		// Steady: load within the hysteresis band, or already at a bound.
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
