// Package driver implements the only component allowed to create or
// destroy the OS-level resources backing a controller instance: a
// process isolated in its own process group. No network namespace is
// created; the instance shares the supervisor's network stack and is
// told its host address through the CONTROLLER_HOST environment
// variable.
//
// Each instance is tracked by a *managedProcess holding its *os.Process
// and a "done" channel closed when the process exits, so Stop/Exists
// never race a concurrent exit. There is no scheduler here — start/stop
// are synchronous, one-shot operations invoked directly by the Cluster
// Supervisor.
package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/sdnfabric/controlplane/internal/model"
)

// killGrace is how long Stop waits after SIGTERM before escalating to
// SIGKILL on the instance's process group.
const killGrace = 3 * time.Second

// Spec describes how to launch one controller instance.
type Spec struct {
	ID      model.ControllerId
	OFPPort int
	APIPort int
	Host    string
	// EnableLinkObservation is passed through to the controller process
	// to turn on LLDP-based link discovery.
	EnableLinkObservation bool
}

// managedProcess wraps one running controller instance.
type managedProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Driver is the process-based Instance Driver. binaryPath is the
// controller runtime executable; Start passes it the
// --ofp-port/--api-port/--node-id/--enable-link-observation flags.
type Driver struct {
	log        *zap.Logger
	binaryPath string

	mu        sync.Mutex
	instances map[model.ControllerId]*managedProcess
}

// New creates a Driver that launches binaryPath as each controller
// instance's runtime.
func New(log *zap.Logger, binaryPath string) *Driver {
	return &Driver{
		log:        log.Named("driver"),
		binaryPath: binaryPath,
		instances:  make(map[model.ControllerId]*managedProcess),
	}
}

// Start launches a fresh controller process for id, parameterised with
// ofpPort, apiPort, and link-observation. If a prior instance with this
// id is already tracked, it is force-removed first, then a fresh one is
// created and started. On creation failure it returns *model.LaunchError
// and leaves no orphaned process behind.
func (d *Driver) Start(ctx context.Context, spec Spec) error {
	d.mu.Lock()
	if prior, ok := d.instances[spec.ID]; ok {
		d.mu.Unlock()
		d.forceRemove(spec.ID, prior)
		d.mu.Lock()
	}

	args := []string{
		fmt.Sprintf("--ofp-port=%d", spec.OFPPort),
		fmt.Sprintf("--api-port=%d", spec.APIPort),
		fmt.Sprintf("--node-id=%d", spec.ID),
	}
	if spec.EnableLinkObservation {
		args = append(args, "--enable-link-observation")
	}

	cmd := exec.Command(d.binaryPath, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("CONTROLLER_HOST=%s", spec.Host))
	// Isolate in its own process group so Stop can signal the whole
	// subtree rather than leaking children on a forced kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		d.mu.Unlock()
		return &model.LaunchError{ID: spec.ID, Err: err}
	}

	mp := &managedProcess{cmd: cmd, done: make(chan struct{})}
	d.instances[spec.ID] = mp
	d.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		close(mp.done)
	}()

	d.log.Info("controller instance started",
		zap.Int("id", int(spec.ID)),
		zap.Int("ofp_port", spec.OFPPort),
		zap.Int("api_port", spec.APIPort),
		zap.Int("pid", cmd.Process.Pid),
	)
	return nil
}

// Stop gracefully stops and removes the instance for id. Idempotent:
// calling Stop on an id with no tracked instance returns nil.
func (d *Driver) Stop(ctx context.Context, id model.ControllerId) error {
	d.mu.Lock()
	mp, ok := d.instances[id]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	delete(d.instances, id)
	d.mu.Unlock()

	d.forceRemove(id, mp)
	return nil
}

// Exists reports whether id currently has a tracked, live instance.
func (d *Driver) Exists(id model.ControllerId) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	mp, ok := d.instances[id]
	if !ok {
		return false
	}
	select {
	case <-mp.done:
		return false
	default:
		return true
	}
}

// forceRemove sends SIGTERM to the instance's process group, waits up
// to killGrace for exit, and escalates to SIGKILL if it hasn't.
func (d *Driver) forceRemove(id model.ControllerId, mp *managedProcess) {
	pgid := mp.cmd.Process.Pid
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		d.log.Warn("SIGTERM failed", zap.Int("id", int(id)), zap.Error(err))
	}

	select {
	case <-mp.done:
		d.log.Info("controller instance stopped", zap.Int("id", int(id)))
		return
	case <-time.After(killGrace):
	}

	d.log.Warn("controller instance did not exit after SIGTERM, sending SIGKILL",
		zap.Int("id", int(id)))
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		d.log.Error("SIGKILL failed", zap.Int("id", int(id)), zap.Error(err))
	}
	<-mp.done
}
