package audit_test

import (
	"os"
	"testing"
	"time"

	"github.com/sdnfabric/controlplane/internal/audit"
	"github.com/sdnfabric/controlplane/internal/model"
)

func TestAppendAndReadScaleEvents_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	l, err := audit.Open(dir, time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	ev := audit.ScaleEvent{Kind: "scale_up", ControllerIDs: []int{2}, Members: 3}
	if err := l.AppendScaleEvent(ev); err != nil {
		t.Fatalf("AppendScaleEvent: %v", err)
	}

	events, err := l.ReadScaleEvents()
	if err != nil {
		t.Fatalf("ReadScaleEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "scale_up" || events[0].Members != 3 {
		t.Errorf("expected the recorded event back, got %+v", events)
	}
}

func TestObserveScaleUp_RecordsAScaleEvent(t *testing.T) {
	dir := t.TempDir()
	l, err := audit.Open(dir, time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.ObserveScaleUp(model.ControllerId(3), 4)

	events, err := l.ReadScaleEvents()
	if err != nil {
		t.Fatalf("ReadScaleEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "scale_up" || events[0].ControllerIDs[0] != 3 || events[0].Members != 4 {
		t.Errorf("expected a scale_up event for controller 3 with 4 members, got %+v", events)
	}
}

func TestObserveFailover_RecordsEveryDeadController(t *testing.T) {
	dir := t.TempDir()
	l, err := audit.Open(dir, time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.ObserveFailover([]model.ControllerId{1, 2}, 1)

	events, err := l.ReadScaleEvents()
	if err != nil {
		t.Fatalf("ReadScaleEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "failover" || len(events[0].ControllerIDs) != 2 {
		t.Errorf("expected one failover event listing both dead controllers, got %+v", events)
	}
}

func TestClose_RemovesTheRunFile(t *testing.T) {
	dir := t.TempDir()
	l, err := audit.Open(dir, time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one run file while open, got %d", len(entries))
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, _ = os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected the run file to be removed after Close, got %d entries", len(entries))
	}
}
