package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "sleuth.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/sleuth"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader assembles the effective configuration from layered sources:
// defaults, then the user config file, then the project config file, then
// SLEUTH_* environment variables. Later layers win; CLI flags are applied
// by the caller on top.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load resolves all layers and validates the result.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	layers := []struct {
		name string
		path string
	}{
		{"user", l.userConfigPath()},
		{"project", l.findProjectConfig()},
	}
	for _, layer := range layers {
		if layer.path == "" {
			continue
		}
		overlay, err := LoadFromFile(layer.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			l.logger.Warn("Skipping unreadable config layer",
				slog.String("layer", layer.name),
				slog.String("path", layer.path),
				slog.String("error", err.Error()))
			continue
		}
		l.logger.Debug("Loaded config layer",
			slog.String("layer", layer.name),
			slog.String("path", layer.path))
		config.Merge(overlay)
	}

	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overlays SLEUTH_* variables on the file layers so a shared
// worker can be targeted without editing any config file.
func (l *Loader) applyEnv(config *Config) {
	if v := os.Getenv("SLEUTH_HOST"); v != "" {
		config.Host.URL = v
	}
	if v := os.Getenv("SLEUTH_NAMESPACE"); v != "" {
		config.Host.Namespace = v
	}
	if v := os.Getenv("SLEUTH_QUEUE"); v != "" {
		config.Host.Queue = v
	}
	if v := os.Getenv("SLEUTH_PROVIDERS"); v != "" {
		config.Worker.Providers = splitProviders(v)
	}
}

// splitProviders parses a comma-separated capability provider list.
func splitProviders(raw string) []string {
	var providers []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			providers = append(providers, p)
		}
	}
	return providers
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist.
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user config file.
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for sleuth.yaml in current and parent directories.
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
