// Package config provides configuration loading, validation, and
// defaults for the SDN control-plane supervisor.
//
// Configuration file: /etc/sdnctl/config.yaml (default).
//
// Hot-reload:
//   - The supervisor listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Apply non-destructive changes only (thresholds, cooldown, metrics
//     timeout, check interval). Log level and format are read at startup
//     only.
//   - Destructive changes (ports, control API bind address) require a
//     restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged; the supervisor does NOT crash on a bad reload.
//
// Validation:
//   - MIN_CONTROLLERS <= MAX_CONTROLLERS, both >= 1.
//   - MIN_LOAD_PER_CONTROLLER < TARGET_LOAD_PER_CONTROLLER (required for
//     the hysteresis band to be non-empty).
//   - CHECK_INTERVAL in [1s, 5s].
//   - Invalid config at startup is fatal (model.ConfigError); the
//     supervisor refuses to start.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sdnfabric/controlplane/internal/model"
)

// Config is the root configuration structure.
type Config struct {
	NodeID        string              `yaml:"node_id"`
	Cluster       ClusterConfig       `yaml:"cluster"`
	DataPlane     DataPlaneConfig     `yaml:"data_plane"`
	Distributor   DistributorConfig   `yaml:"distributor"`
	Autoscaler    AutoscalerConfig    `yaml:"autoscaler"`
	ControlAPI    ControlAPIConfig    `yaml:"control_api"`
	Topology      TopologyConfig      `yaml:"topology"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit         AuditConfig         `yaml:"audit"`
}

// DataPlaneConfig holds the Instance Driver's binary and the Data-Plane
// Manager Client's OVS-compatible CLI path.
type DataPlaneConfig struct {
	// ControllerBinary is the executable launched for each instance.
	ControllerBinary string `yaml:"controller_binary"`
	// OvsctlPath is the OVS-compatible CLI binary used for data-plane control.
	OvsctlPath string `yaml:"ovsctl_path"`
}

// TopologyConfig holds the external topology runner and traffic
// generator invocation parameters (SPEC_FULL §12).
type TopologyConfig struct {
	RunnerPath      string   `yaml:"runner_path"`
	RunnerArgs      []string `yaml:"runner_args"`
	TrafficGenPath  string   `yaml:"traffic_gen_path"`
}

// ClusterConfig holds Instance Driver / Cluster Supervisor parameters.
type ClusterConfig struct {
	// BaseOFPPort is added to a controller's id to get its OpenFlow port.
	BaseOFPPort int `yaml:"base_ofp_port"`
	// BaseAPIPort is added to a controller's id to get its HTTP API port.
	BaseAPIPort int `yaml:"base_api_port"`
	// Host is the loopback/host address controllers bind their listeners to.
	Host string `yaml:"host"`
	// MinControllers is the floor membership size; scaleDown refuses below it.
	MinControllers int `yaml:"min_controllers"`
	// MaxControllers is the ceiling membership size; scaleUp refuses above it.
	MaxControllers int `yaml:"max_controllers"`
	// WarmupTime is how long scaleUp waits after starting an instance and
	// rewiring the data plane before redistributing authority, to allow
	// LLDP topology discovery.
	WarmupTime time.Duration `yaml:"warmup_time"`
	// ColdStartWarmupTime is used instead of WarmupTime for the very first
	// scale-up of the process lifetime (cold Mininet boot).
	ColdStartWarmupTime time.Duration `yaml:"cold_start_warmup_time"`
	// ScaleDownSettleTime is the brief sleep after redistribution and
	// before stopping the scale-down victim, letting role changes land.
	ScaleDownSettleTime time.Duration `yaml:"scale_down_settle_time"`
}

// DistributorConfig holds Authority Distributor / Controller Client
// timeout parameters.
type DistributorConfig struct {
	// RolePostTimeout bounds each POST /role call.
	RolePostTimeout time.Duration `yaml:"role_post_timeout"`
	// RewireTimeout bounds each data-plane CLI invocation.
	RewireTimeout time.Duration `yaml:"rewire_timeout"`
}

// AutoscalerConfig holds tick / hysteresis / cooldown parameters.
type AutoscalerConfig struct {
	// CheckInterval is the tick period. Must be in [1s, 5s].
	CheckInterval time.Duration `yaml:"check_interval"`
	// TargetLoadPerController is the scale-up threshold, packets/sec.
	TargetLoadPerController float64 `yaml:"target_load_per_controller"`
	// MinLoadPerController is the scale-down threshold, packets/sec. Must
	// be strictly less than TargetLoadPerController.
	MinLoadPerController float64 `yaml:"min_load_per_controller"`
	// CooldownTime is the minimum interval between scale decisions.
	CooldownTime time.Duration `yaml:"cooldown_time"`
	// MetricsTimeout bounds each GET /metrics poll.
	MetricsTimeout time.Duration `yaml:"metrics_timeout"`
}

// ControlAPIConfig holds the HTTP control surface bind address.
type ControlAPIConfig struct {
	Addr string `yaml:"addr"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// AuditConfig holds the ephemeral audit ledger parameters.
type AuditConfig struct {
	// Dir is the directory the per-run ledger file is created under.
	// The file itself is named with the process start time and removed
	// on clean shutdown — see internal/audit.
	Dir string `yaml:"dir"`
}

// Defaults returns a Config populated with the documented default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		NodeID: hostname,
		Cluster: ClusterConfig{
			BaseOFPPort:         6653,
			BaseAPIPort:         8081,
			Host:                "127.0.0.1",
			MinControllers:      2,
			MaxControllers:      5,
			WarmupTime:          5 * time.Second,
			ColdStartWarmupTime: 15 * time.Second,
			ScaleDownSettleTime: 1 * time.Second,
		},
		DataPlane: DataPlaneConfig{
			ControllerBinary: "/usr/local/bin/sdn-controller",
			OvsctlPath:       "/usr/bin/ovs-vsctl",
		},
		Distributor: DistributorConfig{
			RolePostTimeout: 2 * time.Second,
			RewireTimeout:   5 * time.Second,
		},
		Autoscaler: AutoscalerConfig{
			CheckInterval:           2 * time.Second,
			TargetLoadPerController: 50,
			MinLoadPerController:    15,
			CooldownTime:            10 * time.Second,
			MetricsTimeout:          500 * time.Millisecond,
		},
		ControlAPI: ControlAPIConfig{
			Addr: ":5000",
		},
		Topology: TopologyConfig{
			RunnerPath:     "/usr/local/bin/run-topology",
			TrafficGenPath: "/usr/local/bin/generate-traffic",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Audit: AuditConfig{
			Dir: "/var/run/sdnctl",
		},
	}
}

// Load reads and validates a config file from the given path, then
// applies any SDNCTL_* environment variable overrides before validating,
// matching spec.md §6's "env or defaults" configuration model.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config.Load: env override: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envOverrides lists every SDNCTL_<SECTION>_<FIELD> variable this
// supervisor honors and how to apply it to cfg. A function, not a
// reflection-based walk, so every supported override is explicit and
// grep-able.
func envOverrides(cfg *Config) map[string]func(string) error {
	parseInt := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	parseFloat := func(dst *float64) func(string) error {
		return func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			*dst = f
			return nil
		}
	}
	parseDuration := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}
	parseString := func(dst *string) func(string) error {
		return func(v string) error {
			*dst = v
			return nil
		}
	}

	return map[string]func(string) error{
		"SDNCTL_CLUSTER_BASE_OFP_PORT":                   parseInt(&cfg.Cluster.BaseOFPPort),
		"SDNCTL_CLUSTER_BASE_API_PORT":                   parseInt(&cfg.Cluster.BaseAPIPort),
		"SDNCTL_CLUSTER_HOST":                            parseString(&cfg.Cluster.Host),
		"SDNCTL_CLUSTER_MIN_CONTROLLERS":                 parseInt(&cfg.Cluster.MinControllers),
		"SDNCTL_CLUSTER_MAX_CONTROLLERS":                 parseInt(&cfg.Cluster.MaxControllers),
		"SDNCTL_CLUSTER_WARMUP_TIME":                     parseDuration(&cfg.Cluster.WarmupTime),
		"SDNCTL_CLUSTER_COLD_START_WARMUP_TIME":          parseDuration(&cfg.Cluster.ColdStartWarmupTime),
		"SDNCTL_AUTOSCALER_CHECK_INTERVAL":               parseDuration(&cfg.Autoscaler.CheckInterval),
		"SDNCTL_AUTOSCALER_TARGET_LOAD_PER_CONTROLLER":   parseFloat(&cfg.Autoscaler.TargetLoadPerController),
		"SDNCTL_AUTOSCALER_MIN_LOAD_PER_CONTROLLER":      parseFloat(&cfg.Autoscaler.MinLoadPerController),
		"SDNCTL_AUTOSCALER_COOLDOWN_TIME":                parseDuration(&cfg.Autoscaler.CooldownTime),
		"SDNCTL_CONTROL_API_ADDR":                        parseString(&cfg.ControlAPI.Addr),
		"SDNCTL_OBSERVABILITY_LOG_LEVEL":                 parseString(&cfg.Observability.LogLevel),
		"SDNCTL_OBSERVABILITY_LOG_FORMAT":                parseString(&cfg.Observability.LogFormat),
		"SDNCTL_OBSERVABILITY_METRICS_ADDR":              parseString(&cfg.Observability.MetricsAddr),
	}
}

// ApplyEnv overrides individual fields from SDNCTL_<SECTION>_<FIELD>
// environment variables, applied after the YAML unmarshal and before
// Validate. lookup is injected so tests don't need to touch the real
// process environment.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []string
	for name, apply := range envOverrides(cfg) {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := apply(v); err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q: %v", name, v, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks every documented configuration invariant, aggregating
// every violation into a single ConfigError.
// Returns a *model.ConfigError aggregating every violation found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Cluster.MinControllers < 1 {
		errs = append(errs, fmt.Sprintf("cluster.min_controllers must be >= 1, got %d", cfg.Cluster.MinControllers))
	}
	if cfg.Cluster.MaxControllers < cfg.Cluster.MinControllers {
		errs = append(errs, fmt.Sprintf("cluster.max_controllers (%d) must be >= min_controllers (%d)",
			cfg.Cluster.MaxControllers, cfg.Cluster.MinControllers))
	}
	if cfg.Cluster.BaseOFPPort <= 0 || cfg.Cluster.BaseAPIPort <= 0 {
		errs = append(errs, "cluster.base_ofp_port and base_api_port must be > 0")
	}
	if cfg.Cluster.BaseOFPPort == cfg.Cluster.BaseAPIPort {
		errs = append(errs, "cluster.base_ofp_port and base_api_port must not overlap")
	}
	if cfg.Autoscaler.CheckInterval < time.Second || cfg.Autoscaler.CheckInterval > 5*time.Second {
		errs = append(errs, fmt.Sprintf("autoscaler.check_interval must be in [1s, 5s], got %s", cfg.Autoscaler.CheckInterval))
	}
	if !(cfg.Autoscaler.MinLoadPerController < cfg.Autoscaler.TargetLoadPerController) {
		errs = append(errs, fmt.Sprintf(
			"autoscaler.min_load_per_controller (%.2f) must be < target_load_per_controller (%.2f)",
			cfg.Autoscaler.MinLoadPerController, cfg.Autoscaler.TargetLoadPerController))
	}
	if cfg.Autoscaler.CooldownTime <= 0 {
		errs = append(errs, "autoscaler.cooldown_time must be > 0")
	}
	if cfg.ControlAPI.Addr == "" {
		errs = append(errs, "control_api.addr must not be empty")
	}
	if cfg.Cluster.WarmupTime <= 0 || cfg.Cluster.ColdStartWarmupTime <= 0 {
		errs = append(errs, "cluster.warmup_time and cold_start_warmup_time must be > 0")
	}

	if len(errs) > 0 {
		return &model.ConfigError{Msg: strings.Join(errs, "; ")}
	}
	return nil
}
