// Package config loads the rkctl configuration file. The parsed struct is
// built once at process start and passed explicitly into the stores and the
// launcher; there is no package-level configuration state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the whole rkctl configuration document.
type Config struct {
	// ManifestPath locates the local kernel manifest.
	ManifestPath string          `toml:"manifest_path"`
	Remote       RemoteConfig    `toml:"remote"`
	SSH          SSHConfig       `toml:"ssh"`
	Registrar    RegistrarConfig `toml:"registrar"`
}

// RemoteConfig carries provisioning defaults for the remote side.
type RemoteConfig struct {
	User     string `toml:"user"`
	VenvRoot string `toml:"venv_root"`
	Port     string `toml:"port"`
}

// SSHConfig carries transport defaults.
type SSHConfig struct {
	KeyPath               string `toml:"key_path"`
	KnownHostsPath        string `toml:"known_hosts_path"`
	InsecureIgnoreHostKey bool   `toml:"insecure_ignore_host_key"`
	CommandTimeoutSeconds int    `toml:"command_timeout_seconds"`
}

// RegistrarConfig selects the local kernel registrar invocation.
type RegistrarConfig struct {
	Command string `toml:"command"`
	NoSudo  bool   `toml:"no_sudo"`
}

// CommandTimeout returns the per-command bound as a duration.
func (s SSHConfig) CommandTimeout() time.Duration {
	return time.Duration(s.CommandTimeoutSeconds) * time.Second
}

// Load reads the config at path. An empty path means the default location;
// a missing file there yields pure defaults, while an explicitly named file
// must exist. Defaults are applied and the result validated either way.
func Load(path string) (Config, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = defaultPath()
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ManifestPath == "" {
		cfg.ManifestPath = filepath.Join(homeDir(), ".rk", "kernels.json")
	} else {
		cfg.ManifestPath = expandHome(cfg.ManifestPath)
	}
	if cfg.Remote.User == "" {
		cfg.Remote.User = "ubuntu"
	}
	if cfg.Remote.VenvRoot == "" {
		cfg.Remote.VenvRoot = "~/"
	}
	if cfg.Remote.Port == "" {
		cfg.Remote.Port = "22"
	}
	if cfg.SSH.CommandTimeoutSeconds == 0 {
		cfg.SSH.CommandTimeoutSeconds = 60
	}
	cfg.SSH.KeyPath = expandHome(cfg.SSH.KeyPath)
	cfg.SSH.KnownHostsPath = expandHome(cfg.SSH.KnownHostsPath)
	if cfg.Registrar.Command == "" {
		cfg.Registrar.Command = "rk"
	}
}

// Validate checks the assembled config.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ManifestPath) == "" {
		return fmt.Errorf("config missing manifest_path")
	}
	if strings.TrimSpace(cfg.Remote.User) == "" {
		return fmt.Errorf("config missing remote.user")
	}
	if strings.TrimSpace(cfg.Remote.VenvRoot) == "" {
		return fmt.Errorf("config missing remote.venv_root")
	}
	if cfg.SSH.CommandTimeoutSeconds < 0 {
		return fmt.Errorf("config ssh.command_timeout_seconds must be positive")
	}
	return nil
}

func defaultPath() string {
	return filepath.Join(homeDir(), ".config", "rkctl", "config.toml")
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
