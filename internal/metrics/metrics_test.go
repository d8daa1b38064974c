package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sdnfabric/controlplane/internal/metrics"
	"github.com/sdnfabric/controlplane/internal/model"
)

func TestObserveDistribution_UpdatesGenerationAndFailureCounters(t *testing.T) {
	m := metrics.New()

	m.ObserveDistribution(3, 6, 2, 25*time.Millisecond, 1)

	if got := testutil.ToFloat64(m.GenerationID); got != 3 {
		t.Errorf("expected generation_id=3, got %v", got)
	}
	if got := testutil.ToFloat64(m.RolePostFailures); got != 1 {
		t.Errorf("expected role_post_failures_total=1, got %v", got)
	}
}

func TestObserveScaleUpAndDown_UpdateActiveControllersAndTotals(t *testing.T) {
	m := metrics.New()

	m.ObserveScaleUp(model.ControllerId(2), 3)
	if got := testutil.ToFloat64(m.ActiveControllers); got != 3 {
		t.Errorf("expected active_controllers=3 after scale up, got %v", got)
	}
	if got := testutil.ToFloat64(m.ScaleUpTotal); got != 1 {
		t.Errorf("expected scale_up_total=1, got %v", got)
	}

	m.ObserveScaleDown(model.ControllerId(2), 2)
	if got := testutil.ToFloat64(m.ActiveControllers); got != 2 {
		t.Errorf("expected active_controllers=2 after scale down, got %v", got)
	}
	if got := testutil.ToFloat64(m.ScaleDownTotal); got != 1 {
		t.Errorf("expected scale_down_total=1, got %v", got)
	}
}

func TestObserveLoad_UpdatesAvgLoadGauge(t *testing.T) {
	m := metrics.New()

	m.ObserveLoad(42.5)

	if got := testutil.ToFloat64(m.AvgLoadPPS); got != 42.5 {
		t.Errorf("expected avg_load_pps=42.5, got %v", got)
	}
}
