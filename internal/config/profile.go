package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.casjobs/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile is one named set of CLI defaults.
type Profile struct {
	RESTURI string `yaml:"rest-uri,omitempty"`
	Token   string `yaml:"token,omitempty"`
	Context string `yaml:"context,omitempty"`
	Output  string `yaml:"output,omitempty"`
}

// ActiveProfile returns the named profile, or the current one when override is empty.
func (c *UserConfig) ActiveProfile(override string) Profile {
	name := c.CurrentProfile
	if override != "" {
		name = override
	}
	if p, ok := c.Profiles[name]; ok {
		return p
	}
	return Profile{}
}

// ProfileDir returns ~/.casjobs, honoring CASJOBS_CONFIG_DIR.
func ProfileDir() string {
	if v := os.Getenv("CASJOBS_CONFIG_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".casjobs")
}

// ProfilePath returns the path of the profile file.
func ProfilePath() string {
	return filepath.Join(ProfileDir(), "config.yaml")
}

// LoadUserConfig reads the profile file.
func LoadUserConfig() (*UserConfig, error) {
	data, err := os.ReadFile(ProfilePath())
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// SaveUserConfig writes the profile file with owner-only permissions; it may contain tokens.
func SaveUserConfig(cfg *UserConfig) error {
	dir := ProfileDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ProfilePath(), data, 0o600)
}
