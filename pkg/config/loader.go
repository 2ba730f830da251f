package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFileName is the expected YAML file inside the config directory.
const configFileName = "orchestrator.yaml"

// Initialize loads, merges, and validates configuration.
//
// Steps performed:
//  1. Read orchestrator.yaml from configDir (missing file is not an error).
//  2. Expand ${VAR} environment references in the raw YAML.
//  3. Parse into Config.
//  4. Fill unset fields from defaults (mergo).
//  5. Validate.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := &Config{configDir: configDir}

	path := filepath.Join(configDir, configFileName)
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info("No configuration file found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	default:
		expanded := os.Expand(string(raw), func(key string) string {
			return os.Getenv(key)
		})
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configFileName, err)
		}
	}

	if err := mergo.Merge(cfg, defaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to apply configuration defaults: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info("Configuration initialized",
		"llm_base_url", cfg.LLM.BaseURL,
		"atoms_base_url", cfg.Atoms.BaseURL,
		"max_steps", cfg.Limits.MaxSteps)
	return cfg, nil
}

// validate checks cross-field constraints that YAML parsing cannot express.
func (c *Config) validate() error {
	if c.Limits.MaxSteps <= 0 {
		return fmt.Errorf("limits.max_steps must be positive, got %d", c.Limits.MaxSteps)
	}
	if c.Limits.MaxOperations <= 0 {
		return fmt.Errorf("limits.max_operations must be positive, got %d", c.Limits.MaxOperations)
	}
	if c.Limits.MaxRetriesPerStep < 0 {
		return fmt.Errorf("limits.max_retries_per_step must not be negative, got %d", c.Limits.MaxRetriesPerStep)
	}
	if c.Limits.AtomRetries < 1 {
		return fmt.Errorf("limits.atom_retries must be at least 1, got %d", c.Limits.AtomRetries)
	}
	if c.Limits.LLMTimeout <= 0 || c.Limits.PlanBound <= 0 || c.Limits.EvalBound <= 0 {
		return fmt.Errorf("llm timeouts must be positive")
	}
	if c.Limits.PlanBound < c.Limits.LLMTimeout {
		return fmt.Errorf("limits.plan_bound (%s) must not be shorter than limits.llm_timeout (%s)",
			c.Limits.PlanBound, c.Limits.LLMTimeout)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.Atoms.BaseURL == "" {
		return fmt.Errorf("atoms.base_url is required")
	}
	return nil
}
