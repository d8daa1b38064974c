// Package topology launches the external topology runner and traffic
// generator as subprocesses, backing the Control API's /init_mininet,
// /stop_mininet, and /generate_traffic routes. It uses the same
// exec.CommandContext plus explicit argv idiom as internal/driver and
// internal/dataplane: never a shell-concatenated command line.
package topology

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Runner starts and stops the external topology (e.g. a Mininet
// launcher script).
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TrafficGenerator invokes the external traffic generator.
type TrafficGenerator interface {
	Generate(ctx context.Context, pps int, seconds int) error
}

// ProcessRunner is a Runner backed by a single long-lived subprocess
// (the topology launcher script). Start is idempotent while the
// process is alive; Stop is idempotent if already stopped.
type ProcessRunner struct {
	log  *zap.Logger
	path string
	args []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewProcessRunner creates a ProcessRunner invoking path with args.
func NewProcessRunner(log *zap.Logger, path string, args ...string) *ProcessRunner {
	return &ProcessRunner{log: log.Named("topology"), path: path, args: args}
}

// Start launches the topology process if not already running.
func (r *ProcessRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil && r.cmd.ProcessState == nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, r.path, r.args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("topology: start %q: %w", r.path, err)
	}
	r.cmd = cmd
	r.log.Info("topology runner started", zap.String("path", r.path), zap.Int("pid", cmd.Process.Pid))
	go func() {
		if err := cmd.Wait(); err != nil {
			r.log.Warn("topology runner exited", zap.Error(err))
		}
	}()
	return nil
}

// Stop terminates the topology process if running.
func (r *ProcessRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	if err := r.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("topology: stop: %w", err)
	}
	r.log.Info("topology runner stopped")
	r.cmd = nil
	return nil
}

// ProcessTrafficGenerator is a TrafficGenerator backed by a one-shot
// CLI invocation per call, matching the original's traffic_gen_dynamic
// contract of a `{pps, time}` argument pair.
type ProcessTrafficGenerator struct {
	log  *zap.Logger
	path string
}

// NewProcessTrafficGenerator creates a ProcessTrafficGenerator invoking path.
func NewProcessTrafficGenerator(log *zap.Logger, path string) *ProcessTrafficGenerator {
	return &ProcessTrafficGenerator{log: log.Named("trafficgen"), path: path}
}

// Generate runs the traffic generator with the given rate and duration.
func (g *ProcessTrafficGenerator) Generate(ctx context.Context, pps int, seconds int) error {
	argv := []string{"--pps", strconv.Itoa(pps), "--time", strconv.Itoa(seconds)}
	cmd := exec.CommandContext(ctx, g.path, argv...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("topology: generate_traffic %q: %w: %s", g.path, err, out)
	}
	g.log.Info("traffic generation invoked", zap.Int("pps", pps), zap.Int("seconds", seconds))
	return nil
}
