// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global DeployConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not find the user's home directory: %w", err)
	}
	configPath := filepath.Join(home, ".aleutian-deploy", "deploy.yaml")
	// create it if it doesn't exist
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf(" First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return err
		}
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return err
	}
	Global = *cfg
	return nil
}

// Parse unmarshals and validates a config document. Used by Load and by
// tests that feed config from memory.
func Parse(data []byte) (*DeployConfig, error) {
	var cfg DeployConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := ValidatePhaseOrdering(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *DeployConfig) {
	if cfg.Stack.ProjectName == "" {
		cfg.Stack.ProjectName = "aleutian"
	}
	if cfg.Stack.Engine == "" {
		cfg.Stack.Engine = "docker"
	}
	if cfg.Health.IntervalSeconds <= 0 {
		cfg.Health.IntervalSeconds = 2
	}
	if cfg.Health.TimeoutSeconds <= 0 {
		cfg.Health.TimeoutSeconds = 60
	}
	if cfg.Certificates.ValidityDays <= 0 {
		cfg.Certificates.ValidityDays = 365
	}
	if cfg.Certificates.RenewBeforeDays <= 0 {
		cfg.Certificates.RenewBeforeDays = 30
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ValidatePhaseOrdering checks that every group referenced by a phase is
// defined, that no group appears in two phases, and that every group's
// dependencies are scheduled in a strictly earlier phase. Cycles are
// impossible once that holds, so this is the whole dependency check and
// it runs at load time, not during deployment.
func ValidatePhaseOrdering(cfg *DeployConfig) error {
	phaseOf := make(map[string]int)
	for i, phase := range cfg.Phases {
		for _, group := range phase.Groups {
			if _, ok := cfg.Groups[group]; !ok {
				return fmt.Errorf("phase %q references undefined group %q", phase.Name, group)
			}
			if prev, ok := phaseOf[group]; ok {
				return fmt.Errorf("group %q scheduled in both phase %q and %q",
					group, cfg.Phases[prev].Name, phase.Name)
			}
			phaseOf[group] = i
		}
	}

	for name, group := range cfg.Groups {
		idx, scheduled := phaseOf[name]
		if !scheduled {
			return fmt.Errorf("group %q is defined but not scheduled in any phase", name)
		}
		for _, dep := range group.DependsOn {
			depIdx, ok := phaseOf[dep]
			if !ok {
				return fmt.Errorf("group %q depends on undefined group %q", name, dep)
			}
			if depIdx >= idx {
				return fmt.Errorf("group %q depends on %q, which is not scheduled in an earlier phase",
					name, dep)
			}
		}
	}

	return nil
}
