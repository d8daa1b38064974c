// Package cluster owns the membership set and instance records, and
// orchestrates the add/remove sequences that keep port and id
// invariants intact.
//
// The membership set and instance records are not package-level
// globals: they live on a *Supervisor constructed with its three
// injected collaborators (Instance Driver, Data-Plane Manager Client,
// Authority Distributor) behind one small mutex guarding one record.
// The generation counter lives on the injected Authority Distributor.
package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdnfabric/controlplane/internal/dataplane"
	"github.com/sdnfabric/controlplane/internal/distributor"
	"github.com/sdnfabric/controlplane/internal/driver"
	"github.com/sdnfabric/controlplane/internal/model"
)

// InstanceDriver is the subset of internal/driver.Driver the supervisor
// needs.
type InstanceDriver interface {
	Start(ctx context.Context, spec driver.Spec) error
	Stop(ctx context.Context, id model.ControllerId) error
}

// Rewirer is the subset of internal/dataplane.Client the supervisor
// needs.
type Rewirer interface {
	Rewire(ctx context.Context, targets []dataplane.Endpoint)
}

// Redistributor is the subset of internal/distributor.Distributor the
// supervisor needs.
type Redistributor interface {
	Distribute(ctx context.Context, members []model.ControllerId, endpoints map[model.ControllerId]distributor.Endpoint)
}

// Instrumentation receives scale-sequence observability events. Both
// internal/metrics.Metrics and internal/audit.Ledger implement it;
// SetInstrumentation leaves it nil by default so unit tests never need
// to supply one.
type Instrumentation interface {
	ObserveScaleUp(id model.ControllerId, members int)
	ObserveScaleDown(id model.ControllerId, members int)
	ObserveFailover(ids []model.ControllerId, members int)
}

// Config carries the port bases and timing parameters the supervisor
// needs from internal/config.ClusterConfig, kept as a narrow copy so
// this package does not import internal/config.
type Config struct {
	BaseOFPPort         int
	BaseAPIPort         int
	Host                string
	MinControllers      int
	MaxControllers      int
	WarmupTime          time.Duration
	ColdStartWarmupTime time.Duration
	ScaleDownSettleTime time.Duration
}

// Supervisor owns the MembershipSet and Instance records and serialises
// scale operations via isScaling: only one scaling worker runs at a
// time.
type Supervisor struct {
	log  *zap.Logger
	cfg  Config
	drv  InstanceDriver
	dp   Rewirer
	dist Redistributor
	obs  Instrumentation

	mu          sync.Mutex
	instances   map[model.ControllerId]model.Instance
	isScaling   bool
	everStarted bool
}

// New creates an empty Supervisor.
func New(log *zap.Logger, cfg Config, drv InstanceDriver, dp Rewirer, dist Redistributor) *Supervisor {
	return &Supervisor{
		log:       log.Named("cluster"),
		cfg:       cfg,
		drv:       drv,
		dp:        dp,
		dist:      dist,
		instances: make(map[model.ControllerId]model.Instance),
	}
}

// SetInstrumentation wires an observer (internal/metrics, internal/audit,
// or a fan-out of both) that is notified after every completed scale
// sequence.
func (s *Supervisor) SetInstrumentation(obs Instrumentation) {
	s.obs = obs
}

// Members returns the current MembershipSet, sorted ascending.
func (s *Supervisor) Members() []model.ControllerId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedMembersLocked()
}

func (s *Supervisor) sortedMembersLocked() []model.ControllerId {
	out := make([]model.ControllerId, 0, len(s.instances))
	for id := range s.instances {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Size returns the current membership count.
func (s *Supervisor) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// IsScaling reports whether a scale operation is currently in flight.
func (s *Supervisor) IsScaling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isScaling
}

// APIEndpoint resolves a live controller id's host and API port, for
// internal/autoscaler's metric polling.
func (s *Supervisor) APIEndpoint(id model.ControllerId) (host string, apiPort int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, found := s.instances[id]
	if !found {
		return "", 0, false
	}
	return s.cfg.Host, inst.APIPort, true
}

// endpointsLocked builds the OFP-port rewire targets and API-port
// distributor endpoints for the current membership. Must be called
// under s.mu.
func (s *Supervisor) endpointsLocked() ([]dataplane.Endpoint, map[model.ControllerId]distributor.Endpoint) {
	members := s.sortedMembersLocked()
	targets := make([]dataplane.Endpoint, 0, len(members))
	endpoints := make(map[model.ControllerId]distributor.Endpoint, len(members))
	for _, id := range members {
		inst := s.instances[id]
		targets = append(targets, dataplane.Endpoint{Host: s.cfg.Host, Port: inst.OFPPort})
		endpoints[id] = distributor.Endpoint{Host: s.cfg.Host, APIPort: inst.APIPort}
	}
	return targets, endpoints
}

// ScaleUp runs the scale-up sequence: allocate an id, start its
// instance, add it to membership, rewire the data plane, warm up, and
// redistribute authority. No-op if already at MAX_CONTROLLERS.
func (s *Supervisor) ScaleUp(ctx context.Context) error {
	s.mu.Lock()
	if len(s.instances) >= s.cfg.MaxControllers {
		s.log.Warn("scaleUp no-op: at max_controllers", zap.Int("max", s.cfg.MaxControllers))
		s.mu.Unlock()
		return nil
	}
	if s.isScaling {
		s.log.Warn("scaleUp no-op: another scale operation is in flight")
		s.mu.Unlock()
		return nil
	}
	s.isScaling = true
	newID := s.nextIDLocked()
	coldStart := !s.everStarted
	s.everStarted = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isScaling = false
		s.mu.Unlock()
	}()

	spec := driver.Spec{
		ID:                    newID,
		OFPPort:               s.cfg.BaseOFPPort + int(newID),
		APIPort:               s.cfg.BaseAPIPort + int(newID),
		Host:                  s.cfg.Host,
		EnableLinkObservation: true,
	}
	if err := s.drv.Start(ctx, spec); err != nil {
		s.log.Error("scaleUp: instance start failed, membership unchanged",
			zap.Int("id", int(newID)), zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.instances[newID] = model.Instance{
		ID:        newID,
		OFPPort:   spec.OFPPort,
		APIPort:   spec.APIPort,
		StartedAt: time.Now(),
	}
	targets, endpoints := s.endpointsLocked()
	members := s.sortedMembersLocked()
	s.mu.Unlock()

	s.dp.Rewire(ctx, targets)

	warmup := s.cfg.WarmupTime
	if coldStart {
		warmup = s.cfg.ColdStartWarmupTime
	}
	time.Sleep(warmup)

	s.dist.Distribute(ctx, members, endpoints)

	s.log.Info("scaleUp complete", zap.Int("id", int(newID)), zap.Int("members", len(members)))
	if s.obs != nil {
		s.obs.ObserveScaleUp(newID, len(members))
	}
	return nil
}

// ScaleDown runs the scale-down sequence: pick the
// highest-numbered live id, remove it from membership before
// redistributing so it receives no new ownership, let the role change
// settle, then stop it. No-op if already at MIN_CONTROLLERS.
func (s *Supervisor) ScaleDown(ctx context.Context) error {
	s.mu.Lock()
	if len(s.instances) <= s.cfg.MinControllers {
		s.log.Warn("scaleDown no-op: at min_controllers", zap.Int("min", s.cfg.MinControllers))
		s.mu.Unlock()
		return nil
	}
	if s.isScaling {
		s.log.Warn("scaleDown no-op: another scale operation is in flight")
		s.mu.Unlock()
		return nil
	}
	s.isScaling = true
	members := s.sortedMembersLocked()
	victim := members[len(members)-1]
	delete(s.instances, victim)
	targets, endpoints := s.endpointsLocked()
	remaining := s.sortedMembersLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isScaling = false
		s.mu.Unlock()
	}()

	s.dp.Rewire(ctx, targets)
	s.dist.Distribute(ctx, remaining, endpoints)

	time.Sleep(s.cfg.ScaleDownSettleTime)

	if err := s.drv.Stop(ctx, victim); err != nil {
		s.log.Error("scaleDown: instance stop failed", zap.Int("id", int(victim)), zap.Error(err))
		return err
	}

	s.log.Info("scaleDown complete", zap.Int("victim", int(victim)), zap.Int("members", len(remaining)))
	if s.obs != nil {
		s.obs.ObserveScaleDown(victim, len(remaining))
	}
	return nil
}

// HandleFailover removes every dead id from membership (the caller has
// already confirmed unreachability), rewires, and redistributes
// authority among the survivors.
func (s *Supervisor) HandleFailover(ctx context.Context, deadIDs []model.ControllerId) {
	s.mu.Lock()
	s.isScaling = true
	for _, id := range deadIDs {
		delete(s.instances, id)
	}
	targets, endpoints := s.endpointsLocked()
	remaining := s.sortedMembersLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isScaling = false
		s.mu.Unlock()
	}()

	s.dp.Rewire(ctx, targets)
	s.dist.Distribute(ctx, remaining, endpoints)

	for _, id := range deadIDs {
		// Best-effort: the driver may already consider it gone.
		if err := s.drv.Stop(ctx, id); err != nil {
			s.log.Warn("failover: stop of dead instance failed", zap.Int("id", int(id)), zap.Error(err))
		}
	}

	s.log.Info("failover complete", zap.Int("removed", len(deadIDs)), zap.Int("members", len(remaining)))
	if s.obs != nil {
		s.obs.ObserveFailover(deadIDs, len(remaining))
	}
}

// RedistributeNow rewires the data plane and redistributes authority
// across the current membership without changing it, for the Control
// API's /init_balancer (rewire switches, distribute roles, enable
// autoMode).
func (s *Supervisor) RedistributeNow(ctx context.Context) {
	s.mu.Lock()
	targets, endpoints := s.endpointsLocked()
	members := s.sortedMembersLocked()
	s.mu.Unlock()

	s.dp.Rewire(ctx, targets)
	s.dist.Distribute(ctx, members, endpoints)
}

// nextIDLocked allocates max(existing)+1, or 0 if membership is empty.
// Must be called under s.mu.
func (s *Supervisor) nextIDLocked() model.ControllerId {
	if len(s.instances) == 0 {
		return 0
	}
	var max model.ControllerId = -1
	for id := range s.instances {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// Shutdown stops every live instance, each bounded by its own timeout so
// one stuck stop cannot hang the others, and clears membership.
func (s *Supervisor) Shutdown(ctx context.Context, perInstanceTimeout time.Duration) {
	s.mu.Lock()
	members := s.sortedMembersLocked()
	s.instances = make(map[model.ControllerId]model.Instance)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range members {
		wg.Add(1)
		go func(id model.ControllerId) {
			defer wg.Done()
			stopCtx, cancel := context.WithTimeout(ctx, perInstanceTimeout)
			defer cancel()
			if err := s.drv.Stop(stopCtx, id); err != nil {
				s.log.Warn("shutdown: stop failed", zap.Int("id", int(id)), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()
	s.log.Info("shutdown complete", zap.Int("stopped", len(members)))
}

// Status is a snapshot of membership for the Control API's GET /status.
type Status struct {
	ActiveControllers int
	MaxControllers    int
	IsScaling         bool
}

// Snapshot returns the current Status.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ActiveControllers: len(s.instances),
		MaxControllers:    s.cfg.MaxControllers,
		IsScaling:         s.isScaling,
	}
}
