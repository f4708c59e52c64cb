package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultConfigPath is the default location for the config file
	DefaultConfigPath = "/etc/imgmount.conf"
	// DefaultMountBase is the default base directory for mount points
	DefaultMountBase = "/tmp/imgmount"
	// DefaultElevate is the default command prefix used to run
	// privileged commands
	DefaultElevate = "sudo -n"
)

// Config holds the engine configuration
type Config struct {
	// MountBase is the base directory mount points are created under
	MountBase string `toml:"mount_base"`
	// Elevate is the command prefix for privileged commands, e.g.
	// "sudo -n" or "pkexec"
	Elevate string `toml:"elevate"`
	// Notify enables desktop notifications for errors
	Notify bool `toml:"notify"`
	// Platform overrides platform detection: "linux" or "macos".
	// Empty means detect from the running OS.
	Platform string `toml:"platform"`
}

// Load loads configuration from a TOML file.
// Returns a default-notify config if the file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := &Config{Notify: true}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Merge merges CLI flags into the config, with CLI flags taking precedence
// over config file values. Empty CLI values are ignored.
func (c *Config) Merge(mountBase, elevate, platform string) {
	if mountBase != "" {
		c.MountBase = mountBase
	}
	if elevate != "" {
		c.Elevate = elevate
	}
	if platform != "" {
		c.Platform = platform
	}
}

// ApplyDefaults applies default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.MountBase == "" {
		c.MountBase = DefaultMountBase
	}
	if c.Elevate == "" {
		c.Elevate = DefaultElevate
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MountBase == "" {
		return fmt.Errorf("mount base directory is required (use --mount-base or set 'mount_base' in config file)")
	}

	switch c.Platform {
	case "", "linux", "macos":
	default:
		return fmt.Errorf("platform must be 'linux' or 'macos', got %q", c.Platform)
	}

	return nil
}
