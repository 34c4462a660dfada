package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.labelsync/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile" json:"current_profile"`
	Profiles       map[string]Profile `yaml:"profiles" json:"profiles"`
}

// Profile represents a single named configuration profile. Its values act
// as defaults for the matching environment variables.
type Profile struct {
	PlatformURL string `yaml:"platform-url,omitempty" json:"platform_url,omitempty"`
	APIKey      string `yaml:"api-key,omitempty" json:"api_key,omitempty"`
	Ledger      string `yaml:"ledger,omitempty" json:"ledger,omitempty"`
	Output      string `yaml:"output,omitempty" json:"output,omitempty"`
}

// env maps the profile onto environment variable names.
func (p Profile) env() map[string]string {
	return map[string]string{
		"PLATFORM_URL":     p.PlatformURL,
		"PLATFORM_API_KEY": p.APIKey,
		"LEDGER_DB_PATH":   p.Ledger,
	}
}

// ActiveProfile returns the profile to use based on the override or
// current-profile. An explicit override must exist; a dangling
// current-profile yields an empty profile.
func (c *UserConfig) ActiveProfile(override string) (Profile, error) {
	name := c.CurrentProfile
	if override != "" {
		name = override
	}
	p, ok := c.Profiles[name]
	if !ok && override != "" {
		return Profile{}, fmt.Errorf("profile %q not found", override)
	}
	return p, nil
}

// ConfigDir returns the path to ~/.labelsync/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".labelsync")
}

// ConfigPath returns the path to ~/.labelsync/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads ~/.labelsync/config.yaml.
func LoadUserConfig() (*UserConfig, error) {
	data, err := os.ReadFile(ConfigPath())
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

// SaveUserConfig writes ~/.labelsync/config.yaml.
func SaveUserConfig(cfg *UserConfig) error {
	if err := os.MkdirAll(ConfigDir(), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}
