// Package config provides configuration loading for Agent Gate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for agent-gate.yaml/.yml in
// standard locations, the same explicit-extension search the teacher uses to
// avoid matching the compiled binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("agent-gate")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AGENT_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".agent-gate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "agent-gate"))
		}
	} else {
		paths = append(paths, "/etc/agent-gate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for agent-gate.yaml
// or .yml. Returns the full path of the first match, or "" if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "agent-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// LoadConfig reads the configuration file (applying ${VAR} substitution
// before unmarshalling, per spec §6.3), sets defaults, and validates.
func LoadConfig() (*RuntimeConfig, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies ${VAR} substitution
// but does NOT apply defaults or validate. Used by callers (e.g. reset) that
// only need a best-effort read of store paths.
func LoadConfigRaw() (*RuntimeConfig, error) {
	path := ConfigFileUsed()
	if path == "" {
		return &RuntimeConfig{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	substituted, err := substituteEnvBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("substitute config env vars: %w", err)
	}

	var cfg RuntimeConfig
	if err := yaml.Unmarshal(substituted, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// resolved by InitViper, or "" if none exists on disk (env-only mode).
func ConfigFileUsed() string {
	path := viper.ConfigFileUsed()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	}
	return findConfigFile()
}
