// Package config provides configuration loading and management for sleuth.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete sleuth configuration.
type Config struct {
	Host    HostConfig    `yaml:"host"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Model   ModelConfig   `yaml:"model"`
	Session SessionConfig `yaml:"session"`
	Worker  WorkerConfig  `yaml:"worker"`
}

// HostConfig configures the connection to the workflow host.
type HostConfig struct {
	// URL is the NATS server URL (empty = use embedded server on the worker)
	URL string `yaml:"url"`
	// Namespace isolates workflow subjects and buckets between deployments
	Namespace string `yaml:"namespace"`
	// Queue is the task queue investigations are started on
	Queue string `yaml:"queue"`
	// Embedded indicates whether the worker runs an embedded NATS server
	Embedded bool `yaml:"embedded"`
}

// AlertsConfig configures the Alertmanager alert source.
type AlertsConfig struct {
	// URL is the Alertmanager base URL
	URL string `yaml:"url"`
	// Timeout bounds each Alertmanager API call
	Timeout time.Duration `yaml:"timeout"`
	// Blacklist lists alert names to exclude (empty list disables it)
	Blacklist []string `yaml:"blacklist"`
	// Status filters alerts by status: firing, resolved or all
	Status string `yaml:"status"`
}

// ModelConfig configures the LLM backing the agent runner.
type ModelConfig struct {
	// Name is the model identifier (e.g. "qwen2.5-coder:32b")
	Name string `yaml:"name"`
	// Endpoint is an OpenAI-compatible API endpoint
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the per-call budget for one agent turn
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig configures the interactive operator session.
type SessionConfig struct {
	// Path is the session state file (default: ~/.config/sleuth/session.json)
	Path string `yaml:"path"`
	// PollInterval is how often the orchestrator polls workflow status
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxIterations caps status polls before the workflow is force-ended
	MaxIterations int `yaml:"max_iterations"`
}

// WorkerConfig configures the workflow worker process.
type WorkerConfig struct {
	// Listen is the HTTP address for metrics and the alert webhook
	Listen string `yaml:"listen"`
	// MaxTurns caps agent turns per investigation
	MaxTurns int `yaml:"max_turns"`
	// Providers lists capability providers advertised to investigations
	Providers []string `yaml:"providers"`
	// TemplatesDir holds alert prompt templates for the webhook receiver
	TemplatesDir string `yaml:"templates_dir"`
}

// DefaultConfig returns a Config with sensible defaults. Environment
// overrides (SLEUTH_HOST, SLEUTH_NAMESPACE, SLEUTH_QUEUE,
// SLEUTH_PROVIDERS) are a Loader layer, not part of the defaults.
func DefaultConfig() *Config {
	return &Config{
		Host: HostConfig{
			URL:       "nats://localhost:4222",
			Namespace: "default",
			Queue:     "sleuth-queue",
			Embedded:  false,
		},
		Alerts: AlertsConfig{
			URL:       "http://localhost:9093",
			Timeout:   10 * time.Second,
			Blacklist: []string{"Watchdog"},
			Status:    "firing",
		},
		Model: ModelConfig{
			Name:        "qwen2.5-coder:32b",
			Endpoint:    "http://localhost:11434/v1",
			Temperature: 0.2,
			Timeout:     3 * time.Minute,
		},
		Session: SessionConfig{
			Path:          "",
			PollInterval:  2 * time.Second,
			MaxIterations: 500,
		},
		Worker: WorkerConfig{
			Listen:       ":8417",
			MaxTurns:     50,
			Providers:    []string{"kubernetes", "grafana"},
			TemplatesDir: "",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Host.URL == "" && !c.Host.Embedded {
		return fmt.Errorf("host.url is required unless host.embedded is set")
	}
	if c.Host.Queue == "" {
		return fmt.Errorf("host.queue is required")
	}
	if !strings.HasPrefix(c.Alerts.URL, "http://") && !strings.HasPrefix(c.Alerts.URL, "https://") {
		return fmt.Errorf("alerts.url must start with http:// or https://")
	}
	switch c.Alerts.Status {
	case "firing", "resolved", "all":
	default:
		return fmt.Errorf("alerts.status must be firing, resolved or all")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Session.PollInterval <= 0 {
		return fmt.Errorf("session.poll_interval must be positive")
	}
	if c.Session.MaxIterations <= 0 {
		return fmt.Errorf("session.max_iterations must be positive")
	}
	if c.Worker.MaxTurns <= 0 {
		return fmt.Errorf("worker.max_turns must be positive")
	}
	return nil
}

// SessionPath returns the resolved session file path.
func (c *Config) SessionPath() string {
	if c.Session.Path != "" {
		return c.Session.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "session.json"
	}
	return filepath.Join(home, UserConfigDir, "session.json")
}

// LoadFromFile loads configuration from a YAML file on top of defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Host.URL != "" {
		c.Host.URL = other.Host.URL
	}
	if other.Host.Namespace != "" {
		c.Host.Namespace = other.Host.Namespace
	}
	if other.Host.Queue != "" {
		c.Host.Queue = other.Host.Queue
	}
	if other.Host.Embedded {
		c.Host.Embedded = true
	}

	if other.Alerts.URL != "" {
		c.Alerts.URL = other.Alerts.URL
	}
	if other.Alerts.Timeout != 0 {
		c.Alerts.Timeout = other.Alerts.Timeout
	}
	if other.Alerts.Blacklist != nil {
		c.Alerts.Blacklist = other.Alerts.Blacklist
	}
	if other.Alerts.Status != "" {
		c.Alerts.Status = other.Alerts.Status
	}

	if other.Model.Name != "" {
		c.Model.Name = other.Model.Name
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	if other.Session.Path != "" {
		c.Session.Path = other.Session.Path
	}
	if other.Session.PollInterval != 0 {
		c.Session.PollInterval = other.Session.PollInterval
	}
	if other.Session.MaxIterations != 0 {
		c.Session.MaxIterations = other.Session.MaxIterations
	}

	if other.Worker.Listen != "" {
		c.Worker.Listen = other.Worker.Listen
	}
	if other.Worker.MaxTurns != 0 {
		c.Worker.MaxTurns = other.Worker.MaxTurns
	}
	if len(other.Worker.Providers) > 0 {
		c.Worker.Providers = other.Worker.Providers
	}
	if other.Worker.TemplatesDir != "" {
		c.Worker.TemplatesDir = other.Worker.TemplatesDir
	}
}

