package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml fields read directly from disk
// rather than through the viper singleton. This is needed when the working
// directory has changed since Initialize ran, or when resolving a project's
// database before Initialize has run at all.
//
// Using proper YAML parsing handles comments, indentation, and quoting that
// ad-hoc line matching would miss.
type LocalConfig struct {
	DB     string `yaml:"db"`
	Engine string `yaml:"engine"`
}

// LoadLocalConfig reads and parses config.yaml from the given .metaline
// directory. Returns an empty LocalConfig (never nil) when the file is
// missing or malformed.
func LoadLocalConfig(dir string) *LocalConfig {
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml")) // #nosec G304 - path from caller's .metaline dir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}

	return &cfg
}

// LoadLocalConfigWithEnv reads config.yaml and applies environment variable
// overrides. Environment variables take precedence over file values.
//
// Supported overrides: METALINE_DB, METALINE_ENGINE.
func LoadLocalConfigWithEnv(dir string) *LocalConfig {
	cfg := LoadLocalConfig(dir)

	if db := os.Getenv("METALINE_DB"); db != "" {
		cfg.DB = db
	}
	if engine := os.Getenv("METALINE_ENGINE"); engine != "" {
		cfg.Engine = engine
	}

	return cfg
}

// DatabasePath resolves the database location for a project rooted at the
// .metaline directory dir: the configured db if set, otherwise metadata.db
// inside dir itself.
func DatabasePath(dir string) string {
	if cfg := LoadLocalConfigWithEnv(dir); cfg.DB != "" {
		return cfg.DB
	}
	return filepath.Join(dir, "metadata.db")
}
