// Package config loads ambient engine configuration from an optional .env
// file, overridden by real environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// EngineConfig carries engine defaults loaded from the environment.
// pkg/builder does not read it; cmd/happyml passes DefaultSeed to the
// builder it constructs.
type EngineConfig struct {
	RepoRoot           string
	DefaultLearningRate float64
	DefaultBitWidth     int
	DefaultSeed         uint64
}

func defaults() EngineConfig {
	return EngineConfig{
		RepoRoot:            "./happyml_repo",
		DefaultLearningRate: 0.01,
		DefaultBitWidth:     32,
		DefaultSeed:         42,
	}
}

// Load reads .env (if present, walking up from cwd to the nearest go.mod),
// then applies HAPPYML_* environment variable overrides.
func Load() (EngineConfig, error) {
	cfg := defaults()

	if root := findProjectRoot(); root != "" {
		envPath := filepath.Join(root, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
		}
	}

	if v := os.Getenv("HAPPYML_REPO_ROOT"); v != "" {
		cfg.RepoRoot = v
	}
	if v := os.Getenv("HAPPYML_LEARNING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DefaultLearningRate = f
		}
	}
	if v := os.Getenv("HAPPYML_BIT_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultBitWidth = n
		}
	}
	if v := os.Getenv("HAPPYML_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.DefaultSeed = n
		}
	}

	return cfg, nil
}

func findProjectRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}
