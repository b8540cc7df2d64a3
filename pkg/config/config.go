package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ControllerConfig holds the controller's runtime settings
type ControllerConfig struct {
	Listen           string        `yaml:"listen"`
	Replicas         int           `yaml:"replicas"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	CheckInterval    time.Duration `yaml:"check_interval"`
}

// WorkerConfig holds a worker's runtime settings
type WorkerConfig struct {
	Listen            string        `yaml:"listen"`
	Controller        string        `yaml:"controller"`
	Address           string        `yaml:"address"`
	ID                string        `yaml:"id"`
	WriteQuorum       int           `yaml:"write_quorum"`
	DataDir           string        `yaml:"data_dir"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultControllerConfig returns the reference controller configuration
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Listen:           ":7070",
		Replicas:         3,
		HeartbeatTimeout: 6 * time.Second,
		CheckInterval:    2 * time.Second,
	}
}

// DefaultWorkerConfig returns the reference worker configuration
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Listen:            ":8080",
		Controller:        "http://localhost:7070",
		DataDir:           "/var/lib/cloudcom",
		WriteQuorum:       2,
		RequestTimeout:    2 * time.Second,
		HeartbeatInterval: 2 * time.Second,
	}
}

// LoadController builds the controller config: defaults, then the optional
// YAML file, then environment overrides.
func LoadController(path string) (ControllerConfig, error) {
	cfg := DefaultControllerConfig()

	if path != "" {
		if err := readYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Replicas = envInt("REPLICAS", cfg.Replicas)
	cfg.HeartbeatTimeout = envDuration("HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.CheckInterval = envDuration("CHECK_INTERVAL", cfg.CheckInterval)

	if cfg.Replicas < 1 {
		return cfg, fmt.Errorf("REPLICAS must be at least 1, got %d", cfg.Replicas)
	}
	if cfg.HeartbeatTimeout <= 0 || cfg.CheckInterval <= 0 {
		return cfg, fmt.Errorf("HEARTBEAT_TIMEOUT and CHECK_INTERVAL must be positive")
	}
	return cfg, nil
}

// LoadWorker builds a worker config: defaults, then the optional YAML file,
// then environment overrides. A missing ID is minted so a fleet can share
// one config file.
func LoadWorker(path string) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()

	if path != "" {
		if err := readYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Controller = envStr("CONTROLLER", cfg.Controller)
	cfg.Address = envStr("ADDRESS", cfg.Address)
	cfg.ID = envStr("ID", cfg.ID)
	cfg.DataDir = envStr("DATA_DIR", cfg.DataDir)
	cfg.WriteQuorum = envInt("WRITE_QUORUM", cfg.WriteQuorum)
	cfg.RequestTimeout = envDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.HeartbeatInterval = envDuration("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)

	if cfg.ID == "" {
		cfg.ID = "worker-" + uuid.New().String()[:8]
	}
	if cfg.Controller == "" {
		return cfg, fmt.Errorf("CONTROLLER must be set")
	}
	if cfg.Address == "" {
		return cfg, fmt.Errorf("ADDRESS must be set to a URL peers can dial")
	}
	if cfg.WriteQuorum < 1 {
		return cfg, fmt.Errorf("WRITE_QUORUM must be at least 1, got %d", cfg.WriteQuorum)
	}
	return cfg, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func envStr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envDuration accepts either a Go duration ("6s") or a bare number of
// seconds ("6"), matching how deployments usually set these.
func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
