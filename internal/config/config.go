// Package config manages metaline configuration through a viper singleton.
//
// Precedence, highest first:
//  1. Explicit Set calls (the CLI pushes resolved flags here)
//  2. METALINE_* environment variables
//  3. The nearest .metaline/config.yaml, walking up from CWD
//  4. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// v is the package-level viper instance. All accessors are nil-safe so code
// that runs before Initialize (or tests that never call it) degrades to zero
// values instead of panicking.
var v *viper.Viper

// Initialize builds the viper singleton: defaults, METALINE_* environment
// bindings, and the nearest .metaline/config.yaml. Calling it again rebuilds
// the instance from scratch, which tests rely on for isolation.
func Initialize() error {
	nv := viper.New()

	nv.SetDefault("db", "")
	nv.SetDefault("engine", "sqlite")
	nv.SetDefault("json", false)
	nv.SetDefault("format", "table")
	nv.SetDefault("verbose", false)
	nv.SetDefault("quiet", false)

	// METALINE_DB, METALINE_ENGINE, etc. override file values.
	nv.SetEnvPrefix("METALINE")
	nv.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	nv.AutomaticEnv()

	if dir, err := FindDir(); err == nil {
		nv.SetConfigName("config")
		nv.SetConfigType("yaml")
		nv.AddConfigPath(dir)
		if err := nv.ReadInConfig(); err != nil {
			// The directory may exist without a config.yaml in it.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("failed to read config.yaml: %w", err)
			}
		}
	}

	v = nv
	return nil
}

// FindDir walks up from the working directory looking for a .metaline
// directory and returns its path.
func FindDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ".metaline")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no .metaline directory found in %s or any parent", cwd)
}

// GetString returns the string value for key, or "" before Initialize.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool returns the boolean value for key, or false before Initialize.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt returns the integer value for key, or 0 before Initialize.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration returns the duration value for key, or 0 before Initialize.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set stores an override at the highest precedence level. No-op before
// Initialize.
func Set(key string, value any) {
	if v == nil {
		return
	}
	v.Set(key, value)
}
