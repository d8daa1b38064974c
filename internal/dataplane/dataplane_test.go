package dataplane_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sdnfabric/controlplane/internal/dataplane"
	"github.com/sdnfabric/controlplane/internal/model"
)

const testTimeout = 5 * time.Second

// fakeOvsctl writes an executable shell script standing in for the
// OVS-compatible CLI: it prints a fixed bridge list for "list-br" and
// exits 0 for everything else.
func fakeOvsctl(t *testing.T, bridges string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-ovsctl")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"list-br\" ]; then\n" +
		"  printf '" + bridges + "'\n" +
		"fi\n" +
		"exit 0\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ovsctl: %v", err)
	}
	return path
}

func TestListSwitches_ParsesBridgeNamesToDPIDs(t *testing.T) {
	path := fakeOvsctl(t, "s1\\ns2\\ns42\\n")
	c := dataplane.New(zap.NewNop(), path, testTimeout)

	got := c.ListSwitches(context.Background())
	want := []model.SwitchId{1, 2, 42}
	if len(got) != len(want) {
		t.Fatalf("expected %d switches, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("switch %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestListSwitches_CLIFailureReturnsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing-ovsctl")
	c := dataplane.New(zap.NewNop(), path, testTimeout)

	got := c.ListSwitches(context.Background())
	if got != nil {
		t.Errorf("expected nil switch list on CLI failure, got %v", got)
	}
}

func TestRewire_NoSwitchesIsNoOp(t *testing.T) {
	path := fakeOvsctl(t, "")
	c := dataplane.New(zap.NewNop(), path, testTimeout)

	// Should not panic or block even with zero switches.
	c.Rewire(context.Background(), []dataplane.Endpoint{{Host: "127.0.0.1", Port: 6653}})
}

func TestListSwitches_StuckCLIIsBoundedByConfiguredTimeout(t *testing.T) {
	path := fakeScript(t, "sleep 5\n")
	c := dataplane.New(zap.NewNop(), path, 20*time.Millisecond)

	start := time.Now()
	got := c.ListSwitches(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected ListSwitches to be bounded by the configured timeout, took %s", elapsed)
	}
	if got != nil {
		t.Errorf("expected nil switch list on a timed-out CLI call, got %v", got)
	}
}

func fakeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-ovsctl-slow")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write fake script: %v", err)
	}
	return path
}
