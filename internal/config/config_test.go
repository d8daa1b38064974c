package config_test

import (
	"strings"
	"testing"

	"github.com/sdnfabric/controlplane/internal/config"
)

func TestValidate_DefaultsAreValid(t *testing.T) {
	cfg := config.Defaults()
	if err := config.Validate(&cfg); err != nil {
		t.Fatalf("defaults should be valid, got: %v", err)
	}
}

func TestValidate_MinGreaterThanMaxControllers(t *testing.T) {
	cfg := config.Defaults()
	cfg.Cluster.MinControllers = 6
	cfg.Cluster.MaxControllers = 5
	if err := config.Validate(&cfg); err == nil {
		t.Fatal("expected error when min_controllers > max_controllers")
	}
}

func TestValidate_MinLoadNotLessThanTargetLoad(t *testing.T) {
	cfg := config.Defaults()
	cfg.Autoscaler.MinLoadPerController = 60
	cfg.Autoscaler.TargetLoadPerController = 50
	if err := config.Validate(&cfg); err == nil {
		t.Fatal("expected error when min_load_per_controller >= target_load_per_controller")
	}
}

func TestValidate_CheckIntervalOutOfRange(t *testing.T) {
	cfg := config.Defaults()
	cfg.Autoscaler.CheckInterval = 10_000_000_000 // 10s, above the 5s ceiling
	if err := config.Validate(&cfg); err == nil {
		t.Fatal("expected error when check_interval exceeds 5s")
	}
}

func TestApplyEnv_OverridesMatchedFields(t *testing.T) {
	cfg := config.Defaults()
	env := map[string]string{
		"SDNCTL_AUTOSCALER_TARGET_LOAD_PER_CONTROLLER": "75",
		"SDNCTL_CLUSTER_MAX_CONTROLLERS":                "8",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	if err := config.ApplyEnv(&cfg, lookup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Autoscaler.TargetLoadPerController != 75 {
		t.Errorf("expected target_load_per_controller=75, got %v", cfg.Autoscaler.TargetLoadPerController)
	}
	if cfg.Cluster.MaxControllers != 8 {
		t.Errorf("expected max_controllers=8, got %d", cfg.Cluster.MaxControllers)
	}
}

func TestApplyEnv_InvalidValueIsReported(t *testing.T) {
	cfg := config.Defaults()
	env := map[string]string{"SDNCTL_CLUSTER_MAX_CONTROLLERS": "not-a-number"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	if err := config.ApplyEnv(&cfg, lookup); err == nil {
		t.Fatal("expected an error for a non-numeric override")
	}
}

func TestValidate_AggregatesMultipleViolations(t *testing.T) {
	cfg := config.Defaults()
	cfg.Cluster.MinControllers = 0
	cfg.ControlAPI.Addr = ""
	err := config.Validate(&cfg)
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "min_controllers") || !strings.Contains(msg, "control_api.addr") {
		t.Errorf("expected both violations in aggregated message, got: %q", msg)
	}
}
