package cluster_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sdnfabric/controlplane/internal/cluster"
	"github.com/sdnfabric/controlplane/internal/dataplane"
	"github.com/sdnfabric/controlplane/internal/distributor"
	"github.com/sdnfabric/controlplane/internal/driver"
	"github.com/sdnfabric/controlplane/internal/model"
)

type fakeDriver struct {
	mu        sync.Mutex
	started   []model.ControllerId
	stopped   []model.ControllerId
	failStart map[model.ControllerId]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{failStart: make(map[model.ControllerId]bool)}
}

func (f *fakeDriver) Start(ctx context.Context, spec driver.Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart[spec.ID] {
		return &model.LaunchError{ID: spec.ID, Err: context.DeadlineExceeded}
	}
	f.started = append(f.started, spec.ID)
	return nil
}

func (f *fakeDriver) Stop(ctx context.Context, id model.ControllerId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

type fakeRewirer struct {
	mu      sync.Mutex
	calls   int
	lastLen int
}

func (f *fakeRewirer) Rewire(ctx context.Context, targets []dataplane.Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastLen = len(targets)
}

type fakeRedistributor struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRedistributor) Distribute(ctx context.Context, members []model.ControllerId, endpoints map[model.ControllerId]distributor.Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func testConfig() cluster.Config {
	return cluster.Config{
		BaseOFPPort:         6653,
		BaseAPIPort:         8081,
		Host:                "127.0.0.1",
		MinControllers:      2,
		MaxControllers:      3,
		WarmupTime:          time.Millisecond,
		ColdStartWarmupTime: 2 * time.Millisecond,
		ScaleDownSettleTime: time.Millisecond,
	}
}

func TestScaleUp_AllocatesSequentialIDsAndJoinsMembership(t *testing.T) {
	drv := newFakeDriver()
	dp := &fakeRewirer{}
	dist := &fakeRedistributor{}
	sup := cluster.New(zap.NewNop(), testConfig(), drv, dp, dist)

	if err := sup.ScaleUp(context.Background()); err != nil {
		t.Fatalf("first scaleUp: %v", err)
	}
	if err := sup.ScaleUp(context.Background()); err != nil {
		t.Fatalf("second scaleUp: %v", err)
	}

	members := sup.Members()
	if len(members) != 2 || members[0] != 0 || members[1] != 1 {
		t.Fatalf("expected members [0 1], got %v", members)
	}
	if dp.calls != 2 || dist.calls != 2 {
		t.Errorf("expected rewire+distribute once per scaleUp, got rewire=%d distribute=%d", dp.calls, dist.calls)
	}
}

func TestScaleUp_NoOpAtMaxControllers(t *testing.T) {
	drv := newFakeDriver()
	dp := &fakeRewirer{}
	dist := &fakeRedistributor{}
	cfg := testConfig()
	cfg.MaxControllers = 1
	sup := cluster.New(zap.NewNop(), cfg, drv, dp, dist)

	_ = sup.ScaleUp(context.Background())
	if err := sup.ScaleUp(context.Background()); err != nil {
		t.Fatalf("no-op scaleUp should not error: %v", err)
	}
	if sup.Size() != 1 {
		t.Errorf("expected membership to stay at 1, got %d", sup.Size())
	}
}

func TestScaleUp_LaunchFailureLeavesMembershipUnchanged(t *testing.T) {
	drv := newFakeDriver()
	drv.failStart[0] = true
	dp := &fakeRewirer{}
	dist := &fakeRedistributor{}
	sup := cluster.New(zap.NewNop(), testConfig(), drv, dp, dist)

	if err := sup.ScaleUp(context.Background()); err == nil {
		t.Fatal("expected launch error to propagate")
	}
	if sup.Size() != 0 {
		t.Errorf("expected membership to stay empty on launch failure, got %d", sup.Size())
	}
	if sup.IsScaling() {
		t.Error("expected isScaling to clear after a failed scaleUp")
	}
}

func TestScaleDown_RemovesHighestIDAndStopsIt(t *testing.T) {
	drv := newFakeDriver()
	dp := &fakeRewirer{}
	dist := &fakeRedistributor{}
	cfg := testConfig()
	cfg.MinControllers = 1
	sup := cluster.New(zap.NewNop(), cfg, drv, dp, dist)

	_ = sup.ScaleUp(context.Background())
	_ = sup.ScaleUp(context.Background())

	if err := sup.ScaleDown(context.Background()); err != nil {
		t.Fatalf("scaleDown: %v", err)
	}

	if sup.Size() != 1 {
		t.Fatalf("expected 1 member remaining, got %d", sup.Size())
	}
	if len(drv.stopped) != 1 || drv.stopped[0] != 1 {
		t.Errorf("expected controller 1 stopped, got %v", drv.stopped)
	}
}

func TestScaleDown_NoOpAtMinControllers(t *testing.T) {
	drv := newFakeDriver()
	dp := &fakeRewirer{}
	dist := &fakeRedistributor{}
	cfg := testConfig()
	cfg.MinControllers = 1
	sup := cluster.New(zap.NewNop(), cfg, drv, dp, dist)

	_ = sup.ScaleUp(context.Background())
	if err := sup.ScaleDown(context.Background()); err != nil {
		t.Fatalf("no-op scaleDown should not error: %v", err)
	}
	if sup.Size() != 1 {
		t.Errorf("expected membership to stay at 1, got %d", sup.Size())
	}
}

func TestHandleFailover_RemovesDeadAndRedistributesSurvivors(t *testing.T) {
	drv := newFakeDriver()
	dp := &fakeRewirer{}
	dist := &fakeRedistributor{}
	sup := cluster.New(zap.NewNop(), testConfig(), drv, dp, dist)

	_ = sup.ScaleUp(context.Background())
	_ = sup.ScaleUp(context.Background())
	dp.calls, dist.calls = 0, 0

	sup.HandleFailover(context.Background(), []model.ControllerId{0})

	if sup.Size() != 1 {
		t.Fatalf("expected 1 survivor, got %d", sup.Size())
	}
	if dp.calls != 1 || dist.calls != 1 {
		t.Errorf("expected one rewire+distribute round on failover, got rewire=%d distribute=%d", dp.calls, dist.calls)
	}
}

func TestShutdown_StopsEveryLiveInstance(t *testing.T) {
	drv := newFakeDriver()
	dp := &fakeRewirer{}
	dist := &fakeRedistributor{}
	sup := cluster.New(zap.NewNop(), testConfig(), drv, dp, dist)

	_ = sup.ScaleUp(context.Background())
	_ = sup.ScaleUp(context.Background())

	sup.Shutdown(context.Background(), time.Second)

	if sup.Size() != 0 {
		t.Errorf("expected empty membership after shutdown, got %d", sup.Size())
	}
	if len(drv.stopped) != 2 {
		t.Errorf("expected 2 instances stopped, got %d", len(drv.stopped))
	}
}

type fakeInstrumentation struct {
	mu        sync.Mutex
	scaleUps  int
	scaleDown int
	failovers int
}

func (f *fakeInstrumentation) ObserveScaleUp(id model.ControllerId, members int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scaleUps++
}

func (f *fakeInstrumentation) ObserveScaleDown(id model.ControllerId, members int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scaleDown++
}

func (f *fakeInstrumentation) ObserveFailover(ids []model.ControllerId, members int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failovers++
}

func TestSetInstrumentation_NotifiedOnEveryScaleSequence(t *testing.T) {
	drv := newFakeDriver()
	dp := &fakeRewirer{}
	dist := &fakeRedistributor{}
	cfg := testConfig()
	cfg.MinControllers = 1
	cfg.MaxControllers = 3
	sup := cluster.New(zap.NewNop(), cfg, drv, dp, dist)
	obs := &fakeInstrumentation{}
	sup.SetInstrumentation(obs)

	_ = sup.ScaleUp(context.Background())
	_ = sup.ScaleUp(context.Background())
	_ = sup.ScaleDown(context.Background())
	sup.HandleFailover(context.Background(), []model.ControllerId{0})

	if obs.scaleUps != 2 {
		t.Errorf("expected 2 ObserveScaleUp calls, got %d", obs.scaleUps)
	}
	if obs.scaleDown != 1 {
		t.Errorf("expected 1 ObserveScaleDown call, got %d", obs.scaleDown)
	}
	if obs.failovers != 1 {
		t.Errorf("expected 1 ObserveFailover call, got %d", obs.failovers)
	}
}

func TestAPIEndpoint_UnknownIDReturnsNotOK(t *testing.T) {
	drv := newFakeDriver()
	dp := &fakeRewirer{}
	dist := &fakeRedistributor{}
	sup := cluster.New(zap.NewNop(), testConfig(), drv, dp, dist)

	if _, _, ok := sup.APIEndpoint(99); ok {
		t.Error("expected ok=false for an id with no tracked instance")
	}
}
