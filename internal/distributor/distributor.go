// Package distributor implements round-robin mastership with full
// slave-fanout, guarded by a single monotonically increasing
// generation counter that must never be observed to go backwards.
package distributor

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdnfabric/controlplane/internal/model"
)

// Instrumentation receives distribution-round observability events.
// Both internal/metrics.Metrics and internal/audit.Ledger implement it;
// SetInstrumentation wires one (or a fan-out of both) in, and is left
// nil by default so unit tests never need to supply one.
type Instrumentation interface {
	ObserveDistribution(generation int64, switches, members int, duration time.Duration, rolePostFailures int)
}

// SwitchLister enumerates the current switch set (internal/dataplane.Client).
type SwitchLister interface {
	ListSwitches(ctx context.Context) []model.SwitchId
}

// RolePoster posts a role assignment to one controller (internal/ctrlclient.Client).
type RolePoster interface {
	PostRole(ctx context.Context, id model.ControllerId, host string, apiPort int, sw model.SwitchId, role model.Role, generationID int64) error
}

// Endpoint resolves a controller id to the host/apiPort its Controller
// Client calls should target.
type Endpoint struct {
	Host    string
	APIPort int
}

// Distributor owns the process-wide GenerationCounter and computes
// round-robin mastership on every Distribute call.
type Distributor struct {
	log             *zap.Logger
	sw              SwitchLister
	rc              RolePoster
	obs             Instrumentation
	rolePostTimeout time.Duration

	mu         sync.Mutex
	generation int64
}

// New creates a Distributor. sw and rc are injected so unit tests can
// substitute fakes for the data-plane and controller clients.
// rolePostTimeout bounds every individual PostRole call (internal/config's
// DistributorConfig.RolePostTimeout), applied around ctx regardless of
// the deadline the caller's ctx already carries, so one slow controller
// can never stall a redistribution round.
func New(log *zap.Logger, sw SwitchLister, rc RolePoster, rolePostTimeout time.Duration) *Distributor {
	return &Distributor{log: log.Named("distributor"), sw: sw, rc: rc, rolePostTimeout: rolePostTimeout}
}

// SetInstrumentation wires an observer (internal/metrics, internal/audit,
// or a fan-out of both) that is notified after every completed round. Nil
// by default, so unit tests never need to supply one.
func (d *Distributor) SetInstrumentation(obs Instrumentation) {
	d.obs = obs
}

// Generation returns the most recently issued generation id (0 before
// the first successful Distribute call).
func (d *Distributor) Generation() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// Distribute runs one redistribution round: round-robin a MASTER per
// switch across members (sorted ascending), SLAVE to every other live
// member, all under one freshly incremented generation id.
//
// If either the switch set or the member set is empty, Distribute
// returns without incrementing the generation counter and without
// issuing any role messages: no redistribution, no error.
//
// Individual PostRole failures are logged and do not abort the round —
// the next generation re-asserts.
func (d *Distributor) Distribute(ctx context.Context, members []model.ControllerId, endpoints map[model.ControllerId]Endpoint) {
	started := time.Now()
	switches := d.sw.ListSwitches(ctx)
	if len(members) == 0 || len(switches) == 0 {
		return
	}
	sort.Slice(switches, func(i, j int) bool { return switches[i] < switches[j] })

	sorted := append([]model.ControllerId(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	d.mu.Lock()
	d.generation++
	gen := d.generation
	d.mu.Unlock()

	var failures int
	for i, sw := range switches {
		master := sorted[i%len(sorted)]
		for _, c := range sorted {
			role := model.RoleSlave
			if c == master {
				role = model.RoleMaster
			}
			ep, ok := endpoints[c]
			if !ok {
				continue
			}
			postCtx, cancel := context.WithTimeout(ctx, d.rolePostTimeout)
			err := d.rc.PostRole(postCtx, c, ep.Host, ep.APIPort, sw, role, gen)
			cancel()
			if err != nil {
				failures++
				d.log.Warn("role post failed, continuing round",
					zap.Int("controller", int(c)),
					zap.Int64("switch", int64(sw)),
					zap.String("role", role.String()),
					zap.Int64("generation", gen),
					zap.Error(err))
			}
		}
	}

	d.log.Info("redistribution round complete",
		zap.Int64("generation", gen),
		zap.Int("switches", len(switches)),
		zap.Int("members", len(sorted)))

	if d.obs != nil {
		d.obs.ObserveDistribution(gen, len(switches), len(sorted), time.Since(started), failures)
	}
}
