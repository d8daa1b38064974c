// Package dataplane implements the Data-Plane Manager Client (spec
// §4.B, §6): enumerating live switches and rewiring their controller
// attachments through an OVS-compatible CLI.
//
// Per the §9 "subprocess shell composition" design note, every
// invocation is an explicit argument vector passed to
// exec.CommandContext — never a shell-concatenated string — and every
// call carries its own timeout so a stuck data plane cannot deadlock the
// supervisor.
package dataplane

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sdnfabric/controlplane/internal/model"
)

// Endpoint is one (host, OpenFlow port) controller attachment target.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) target() string {
	return fmt.Sprintf("tcp:%s:%d", e.Host, e.Port)
}

// Client wraps an OVS-compatible CLI (ovs-vsctl-equivalent) binary.
// Every invocation is bounded by timeout (internal/config's
// DistributorConfig.RewireTimeout), wrapped around the caller's context
// internally, so a stuck data plane cannot deadlock the supervisor
// regardless of what deadline the caller's ctx carries.
type Client struct {
	log     *zap.Logger
	ovsctl  string
	timeout time.Duration
}

// New creates a Client invoking ovsctlPath, bounding every CLI call by
// timeout.
func New(log *zap.Logger, ovsctlPath string, timeout time.Duration) *Client {
	return &Client{log: log.Named("dataplane"), ovsctl: ovsctlPath, timeout: timeout}
}

// run executes ovsctl with argv, bounded by c.timeout regardless of
// ctx's own deadline. A stuck or failing CLI call is a
// *model.DataPlaneError, never a panic.
func (c *Client) run(ctx context.Context, op string, argv ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.ovsctl, argv...)
	out, err := cmd.Output()
	if err != nil {
		return "", &model.DataPlaneError{Op: op, Err: err}
	}
	return string(out), nil
}

// ListSwitches returns the current switch set. An unreachable data
// plane returns an empty list rather than an error —
// the autoscaler and distributor treat empty-S as "nothing to do, retry
// next tick", so no error needs to propagate here. Callers that assign
// round-robin mastership by index (internal/distributor) must sort the
// result themselves — this list is in whatever order the CLI emitted
// it, not necessarily numeric dpid order.
func (c *Client) ListSwitches(ctx context.Context) []model.SwitchId {
	out, err := c.run(ctx, "list-br", "list-br")
	if err != nil {
		c.log.Warn("list-br failed, reporting empty switch set", zap.Error(err))
		return nil
	}

	var switches []model.SwitchId
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		dpid, err := dpidFromSwitchName(name)
		if err != nil {
			c.log.Warn("unparseable switch name", zap.String("name", name), zap.Error(err))
			continue
		}
		switches = append(switches, dpid)
	}
	return switches
}

// Rewire attaches every switch to the union of targets, using OpenFlow
// 1.3. An empty targets list detaches every switch from any controller.
// Each switch's commands are independent; one switch's failure is
// logged and does not abort the remaining switches in this round.
func (c *Client) Rewire(ctx context.Context, targets []Endpoint) {
	switches := c.ListSwitches(ctx)
	if len(switches) == 0 {
		return
	}

	for _, sw := range switches {
		name := switchName(sw)

		if _, err := c.run(ctx, "set-bridge-protocols", "set", "bridge", name, "protocols=OpenFlow13"); err != nil {
			c.log.Warn("set protocols failed", zap.Int64("switch", int64(sw)), zap.Error(err))
			continue
		}

		if len(targets) == 0 {
			if _, err := c.run(ctx, "del-controller", "del-controller", name); err != nil {
				c.log.Warn("del-controller failed", zap.Int64("switch", int64(sw)), zap.Error(err))
			}
			continue
		}

		argv := make([]string, 0, 2+len(targets))
		argv = append(argv, "set-controller", name)
		for _, t := range targets {
			argv = append(argv, t.target())
		}
		if _, err := c.run(ctx, "set-controller", argv...); err != nil {
			c.log.Warn("set-controller failed", zap.Int64("switch", int64(sw)), zap.Error(err))
		}
	}
}

// switchName converts a numeric dpid back to the "s<dpid>" form used by
// the OVS CLI and the original Mininet topology.
func switchName(id model.SwitchId) string {
	return fmt.Sprintf("s%d", id)
}

// dpidFromSwitchName converts an OVS bridge name ("s1", "s42", ...) to
// its numeric dpid by stripping the leading "s".
func dpidFromSwitchName(name string) (model.SwitchId, error) {
	trimmed := strings.TrimPrefix(name, "s")
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dpidFromSwitchName(%q): %w", name, err)
	}
	return model.SwitchId(n), nil
}
