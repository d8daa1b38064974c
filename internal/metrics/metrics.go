// Package metrics exposes Prometheus instrumentation for the
// supervisor on a dedicated, loopback-only registry, grounded on the
// teacher's internal/observability.Metrics/ServeMetrics shape:
// dedicated prometheus.Registry (never the global one) and explicit
// http.Server timeouts. Gauges are updated by the Observe* calls of the
// components that own the state; there is no background updater.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sdnfabric/controlplane/internal/model"
)

// Metrics holds every Prometheus descriptor the supervisor reports.
type Metrics struct {
	registry *prometheus.Registry

	ActiveControllers prometheus.Gauge
	AvgLoadPPS        prometheus.Gauge
	GenerationID      prometheus.Gauge
	ScaleUpTotal      prometheus.Counter
	ScaleDownTotal    prometheus.Counter
	FailoverTotal     prometheus.Counter
	RolePostFailures  prometheus.Counter
	DistributionTime  prometheus.Histogram

	startTime time.Time
}

// New creates and registers every metric on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ActiveControllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sdnctl",
			Name:      "active_controllers",
			Help:      "Current number of live controller instances.",
		}),
		AvgLoadPPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sdnctl",
			Name:      "avg_load_pps",
			Help:      "Most recently computed average Packet-In rate per controller.",
		}),
		GenerationID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sdnctl",
			Name:      "generation_id",
			Help:      "Most recently issued authority-distribution generation id.",
		}),
		ScaleUpTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdnctl",
			Name:      "scale_up_total",
			Help:      "Total scale-up operations completed.",
		}),
		ScaleDownTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdnctl",
			Name:      "scale_down_total",
			Help:      "Total scale-down operations completed.",
		}),
		FailoverTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdnctl",
			Name:      "failover_total",
			Help:      "Total failover events handled.",
		}),
		RolePostFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdnctl",
			Name:      "role_post_failures_total",
			Help:      "Total POST /role calls that did not return 200.",
		}),
		DistributionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sdnctl",
			Name:      "distribution_duration_seconds",
			Help:      "Wall-clock duration of a redistribution round.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.ActiveControllers,
		m.AvgLoadPPS,
		m.GenerationID,
		m.ScaleUpTotal,
		m.ScaleDownTotal,
		m.FailoverTotal,
		m.RolePostFailures,
		m.DistributionTime,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveDistribution updates the generation, role-post-failure, and
// distribution-duration metrics after one completed redistribution
// round. Satisfies internal/distributor.Instrumentation.
func (m *Metrics) ObserveDistribution(generation int64, switches, members int, duration time.Duration, rolePostFailures int) {
	m.GenerationID.Set(float64(generation))
	m.RolePostFailures.Add(float64(rolePostFailures))
	m.DistributionTime.Observe(duration.Seconds())
}

// ObserveScaleUp records a completed scale-up and the resulting
// membership size. Satisfies internal/cluster.Instrumentation.
func (m *Metrics) ObserveScaleUp(id model.ControllerId, members int) {
	m.ScaleUpTotal.Inc()
	m.ActiveControllers.Set(float64(members))
}

// ObserveScaleDown records a completed scale-down and the resulting
// membership size.
func (m *Metrics) ObserveScaleDown(id model.ControllerId, members int) {
	m.ScaleDownTotal.Inc()
	m.ActiveControllers.Set(float64(members))
}

// ObserveFailover records a failover event and the resulting membership
// size.
func (m *Metrics) ObserveFailover(ids []model.ControllerId, members int) {
	m.FailoverTotal.Inc()
	m.ActiveControllers.Set(float64(members))
}

// ObserveLoad records the most recently computed average Packet-In rate
// per controller. Satisfies internal/autoscaler.Instrumentation.
func (m *Metrics) ObserveLoad(avgLoad float64) {
	m.AvgLoadPPS.Set(avgLoad)
}

// ServeMetrics starts the Prometheus HTTP endpoint on addr, which
// should be a loopback-only address. Blocks until ctx is cancelled or
// the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}
