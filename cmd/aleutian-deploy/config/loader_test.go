// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package config provides tests for config parsing and phase validation.

This file contains:
  - Parse tests covering defaults and rejection of malformed documents
  - ValidatePhaseOrdering tests for every scheduling violation
  - DefaultConfig sanity tests
*/
package config

import (
	"strings"
	"testing"
)

// validDoc is a minimal well-formed deployment document.
const validDoc = `
stack:
  dir: /opt/aleutian
secrets:
  store_path: /opt/aleutian/secrets.yaml
  env_file: /opt/aleutian/stack.env
phases:
  - name: core
    groups: [proxy]
  - name: apps
    groups: [dashboards]
groups:
  proxy:
    services:
      - name: traefik
        critical: true
  dashboards:
    depends_on: [proxy]
    services:
      - name: grafana
`

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("accepts a valid document", func(t *testing.T) {
		cfg, err := Parse([]byte(validDoc))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Stack.Dir != "/opt/aleutian" {
			t.Errorf("Stack.Dir = %s", cfg.Stack.Dir)
		}
		if len(cfg.Phases) != 2 {
			t.Errorf("got %d phases", len(cfg.Phases))
		}
		if !cfg.Groups["proxy"].Services[0].Critical {
			t.Error("critical flag not parsed")
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		cfg, err := Parse([]byte(validDoc))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Stack.ProjectName != "aleutian" {
			t.Errorf("ProjectName = %s", cfg.Stack.ProjectName)
		}
		if cfg.Stack.Engine != "docker" {
			t.Errorf("Engine = %s", cfg.Stack.Engine)
		}
		if cfg.Health.IntervalSeconds != 2 {
			t.Errorf("IntervalSeconds = %d", cfg.Health.IntervalSeconds)
		}
		if cfg.Health.TimeoutSeconds != 60 {
			t.Errorf("TimeoutSeconds = %d", cfg.Health.TimeoutSeconds)
		}
		if cfg.Certificates.ValidityDays != 365 {
			t.Errorf("ValidityDays = %d", cfg.Certificates.ValidityDays)
		}
		if cfg.Certificates.RenewBeforeDays != 30 {
			t.Errorf("RenewBeforeDays = %d", cfg.Certificates.RenewBeforeDays)
		}
	})

	t.Run("keeps explicit values over defaults", func(t *testing.T) {
		doc := strings.Replace(validDoc, "stack:\n  dir: /opt/aleutian",
			"stack:\n  dir: /opt/aleutian\n  engine: podman\nhealth:\n  timeout_seconds: 120", 1)
		cfg, err := Parse([]byte(doc))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Stack.Engine != "podman" {
			t.Errorf("Engine = %s", cfg.Stack.Engine)
		}
		if cfg.Health.TimeoutSeconds != 120 {
			t.Errorf("TimeoutSeconds = %d", cfg.Health.TimeoutSeconds)
		}
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		if _, err := Parse([]byte("{not yaml: [")); err == nil {
			t.Error("expected a parse error")
		}
	})

	t.Run("rejects a missing stack dir", func(t *testing.T) {
		doc := strings.Replace(validDoc, "dir: /opt/aleutian", "dir: \"\"", 1)
		if _, err := Parse([]byte(doc)); err == nil {
			t.Error("expected a validation error for an empty stack dir")
		}
	})
}

func TestValidatePhaseOrdering(t *testing.T) {
	t.Parallel()

	base := func() *DeployConfig {
		return &DeployConfig{
			Phases: []PhaseConfig{
				{Name: "core", Groups: []string{"proxy"}},
				{Name: "apps", Groups: []string{"dashboards"}},
			},
			Groups: map[string]GroupConfig{
				"proxy":      {Services: []ServiceConfig{{Name: "traefik"}}},
				"dashboards": {DependsOn: []string{"proxy"}, Services: []ServiceConfig{{Name: "grafana"}}},
			},
		}
	}

	t.Run("accepts a valid topology", func(t *testing.T) {
		if err := ValidatePhaseOrdering(base()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects an undefined group in a phase", func(t *testing.T) {
		cfg := base()
		cfg.Phases[0].Groups = append(cfg.Phases[0].Groups, "ghost")
		err := ValidatePhaseOrdering(cfg)
		if err == nil || !strings.Contains(err.Error(), "undefined group") {
			t.Errorf("got %v", err)
		}
	})

	t.Run("rejects a group scheduled twice", func(t *testing.T) {
		cfg := base()
		cfg.Phases[1].Groups = append(cfg.Phases[1].Groups, "proxy")
		err := ValidatePhaseOrdering(cfg)
		if err == nil || !strings.Contains(err.Error(), "both phase") {
			t.Errorf("got %v", err)
		}
	})

	t.Run("rejects an unscheduled group", func(t *testing.T) {
		cfg := base()
		cfg.Groups["orphan"] = GroupConfig{Services: []ServiceConfig{{Name: "x"}}}
		err := ValidatePhaseOrdering(cfg)
		if err == nil || !strings.Contains(err.Error(), "not scheduled in any phase") {
			t.Errorf("got %v", err)
		}
	})

	t.Run("rejects a dependency on an undefined group", func(t *testing.T) {
		cfg := base()
		cfg.Groups["dashboards"] = GroupConfig{
			DependsOn: []string{"ghost"},
			Services:  []ServiceConfig{{Name: "grafana"}},
		}
		err := ValidatePhaseOrdering(cfg)
		if err == nil || !strings.Contains(err.Error(), "undefined group") {
			t.Errorf("got %v", err)
		}
	})

	t.Run("rejects a dependency in the same phase", func(t *testing.T) {
		cfg := base()
		cfg.Phases = []PhaseConfig{{Name: "all", Groups: []string{"proxy", "dashboards"}}}
		err := ValidatePhaseOrdering(cfg)
		if err == nil || !strings.Contains(err.Error(), "earlier phase") {
			t.Errorf("got %v", err)
		}
	})

	t.Run("rejects a dependency in a later phase", func(t *testing.T) {
		cfg := base()
		cfg.Phases = []PhaseConfig{
			{Name: "core", Groups: []string{"dashboards"}},
			{Name: "apps", Groups: []string{"proxy"}},
		}
		err := ValidatePhaseOrdering(cfg)
		if err == nil || !strings.Contains(err.Error(), "earlier phase") {
			t.Errorf("got %v", err)
		}
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	t.Run("round-trips through Parse", func(t *testing.T) {
		cfg := DefaultConfig()
		if err := ValidatePhaseOrdering(&cfg); err != nil {
			t.Fatalf("default topology invalid: %v", err)
		}
	})

	t.Run("schedules every service once", func(t *testing.T) {
		cfg := DefaultConfig()
		seen := make(map[string]bool)
		for _, phase := range cfg.Phases {
			for _, groupName := range phase.Groups {
				for _, svc := range cfg.Groups[groupName].Services {
					if seen[svc.Name] {
						t.Errorf("service %s appears twice", svc.Name)
					}
					seen[svc.Name] = true
				}
			}
		}
		for _, name := range []string{"traefik", "authelia", "postgres", "qdrant",
			"opensearch", "memgraph", "rabbitmq", "prometheus", "grafana", "loki",
			"ntfy", "portainer", "filebrowser", "watchtower", "ollama"} {
			if !seen[name] {
				t.Errorf("service %s missing from the default topology", name)
			}
		}
	})

	t.Run("reverse proxy starts first", func(t *testing.T) {
		cfg := DefaultConfig()
		first := cfg.Phases[0]
		found := false
		for _, groupName := range first.Groups {
			for _, svc := range cfg.Groups[groupName].Services {
				if svc.Name == "traefik" {
					found = true
				}
			}
		}
		if !found {
			t.Error("traefik is not in the first phase")
		}
	})
}
