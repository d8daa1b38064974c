// Package controlapi implements the supervisor's control surface: a
// small net/http API where every endpoint maps to a single supervisor
// or autoscaler primitive and returns immediately, long operations
// running asynchronously so a request never blocks on them.
//
// The HTTP adapter depends on the pure SupervisorAPI interface rather
// than on the concrete cluster.Supervisor/autoscaler.Autoscaler types,
// which avoids a mutual-reference construction cycle between this
// package and the components it drives. One method per route, routed
// through a single ServeMux.
package controlapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sdnfabric/controlplane/internal/model"
)

// SupervisorAPI is every primitive the Control API can invoke, split
// out so this package never imports internal/cluster or
// internal/autoscaler directly.
type SupervisorAPI interface {
	InitControllers(ctx context.Context) error
	ScaleUp(ctx context.Context) error
	ScaleDown(ctx context.Context) error
	InitBalancer(ctx context.Context) error
	StopBalancer()
	StartTopology(ctx context.Context) error
	StopTopology(ctx context.Context) error
	GenerateTraffic(ctx context.Context, pps int, seconds int) error
	Status() StatusResponse
}

// StatusResponse is GET /status's JSON body, including the
// per-controller individual_rates breakdown.
type StatusResponse struct {
	ActiveControllers int                             `json:"active_controllers"`
	AvgLoad           float64                         `json:"avg_load"`
	IndividualRates   map[model.ControllerId]float64  `json:"individual_rates"`
	IsScaling         bool                            `json:"is_scaling"`
	MaxControllers    int                             `json:"max_controllers"`
	AutoMode          bool                            `json:"auto_mode"`
}

// Server serves the Supervisor Control API.
type Server struct {
	log *zap.Logger
	api SupervisorAPI
}

// New creates a Server.
func New(log *zap.Logger, api SupervisorAPI) *Server {
	return &Server{log: log.Named("controlapi"), api: api}
}

// Handler builds the http.Handler routing every path in spec §6's table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/init_mininet", s.withTimeout(s.handleInitMininet, 5*time.Second))
	mux.HandleFunc("/stop_mininet", s.withTimeout(s.handleStopMininet, 5*time.Second))
	mux.HandleFunc("/init_controllers", s.handleInitControllers)
	mux.HandleFunc("/scale_up", s.handleScaleUp)
	mux.HandleFunc("/scale_down", s.handleScaleDown)
	mux.HandleFunc("/init_balancer", s.handleInitBalancer)
	mux.HandleFunc("/stop_balancer", s.handleStopBalancer)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/generate_traffic", s.handleGenerateTraffic)
	return mux
}

// ListenAndServe starts the Control API HTTP server on addr. Blocks
// until ctx is cancelled or the server fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
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
		return fmt.Errorf("control API server on %s: %w", addr, err)
	}
	return nil
}

func (s *Server) withTimeout(h func(http.ResponseWriter, *http.Request), d time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		h(w, r.WithContext(ctx))
	}
}

func (s *Server) handleInitMininet(w http.ResponseWriter, r *http.Request) {
	if err := s.api.StartTopology(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w)
}

func (s *Server) handleStopMininet(w http.ResponseWriter, r *http.Request) {
	if err := s.api.StopTopology(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w)
}

// handleInitControllers spawns the initial scale-up asynchronously and
// returns immediately (spec §4.G), the same way handleScaleUp and
// handleScaleDown do: InitControllers runs a ScaleUp, which on the very
// first call sleeps the full cold-start warmup before redistributing,
// far longer than this server's own WriteTimeout would tolerate on the
// request goroutine.
func (s *Server) handleInitControllers(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.api.InitControllers(context.Background()); err != nil {
			s.log.Warn("init_controllers failed", zap.Error(err))
		}
	}()
	s.writeOK(w)
}

// handleScaleUp spawns the scale-up sequence asynchronously and returns
// immediately (spec §4.G: "long operations run asynchronously").
func (s *Server) handleScaleUp(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.api.ScaleUp(context.Background()); err != nil {
			s.log.Warn("manual scale up failed", zap.Error(err))
		}
	}()
	s.writeOK(w)
}

func (s *Server) handleScaleDown(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.api.ScaleDown(context.Background()); err != nil {
			s.log.Warn("manual scale down failed", zap.Error(err))
		}
	}()
	s.writeOK(w)
}

func (s *Server) handleInitBalancer(w http.ResponseWriter, r *http.Request) {
	if err := s.api.InitBalancer(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w)
}

func (s *Server) handleStopBalancer(w http.ResponseWriter, r *http.Request) {
	s.api.StopBalancer()
	s.writeOK(w)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.api.Status())
}

type trafficRequest struct {
	PPS  int `json:"pps"`
	Time int `json:"time"`
}

func (s *Server) handleGenerateTraffic(w http.ResponseWriter, r *http.Request) {
	var req trafficRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.api.GenerateTraffic(r.Context(), req.PPS, req.Time); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w)
}

func (s *Server) writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// writeError returns a 500 with the error message, per spec §7: a
// subprocess invocation failure surfaces as a 500 rather than silently
// succeeding.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.log.Warn("control API request failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
