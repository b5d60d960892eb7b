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
	"os"
	"path/filepath"
)

type DeployConfig struct {
	// Stack: where the compose files live and how the engine is invoked
	Stack StackConfig `yaml:"stack" validate:"required"`

	// Secrets: backing store and the derived env file
	Secrets SecretsConfig `yaml:"secrets" validate:"required"`

	// Certificates: self-signed cert rotated ahead of expiry
	Certificates CertConfig `yaml:"certificates"`

	// Health: probe cadence for deployment gating
	Health HealthConfig `yaml:"health"`

	// Phases: ordered deployment phases referencing groups
	Phases []PhaseConfig `yaml:"phases" validate:"required,min=1,dive"`

	// Groups: service groups by name
	Groups map[string]GroupConfig `yaml:"groups" validate:"required,min=1"`
}

type StackConfig struct {
	Dir         string `yaml:"dir" validate:"required"`  // e.g. ~/.aleutian-deploy/stack
	ProjectName string `yaml:"project_name"`             // compose -p value, e.g. aleutian
	Engine      string `yaml:"engine"`                   // docker or podman
	Domain      string `yaml:"domain"`                   // base domain for access URLs, e.g. home.local
}

type SecretsConfig struct {
	StorePath string         `yaml:"store_path" validate:"required"` // nested YAML store, mode 0600
	EnvFile   string         `yaml:"env_file" validate:"required"`   // flat KEY=VALUE file, mode 0600
	Required  []SecretSpec   `yaml:"required" validate:"dive"`
}

// SecretSpec maps a store key like "postgres.postgres_password" to the
// environment variable name the compose files consume.
type SecretSpec struct {
	Key string `yaml:"key" validate:"required"`
	Env string `yaml:"env" validate:"required"`
}

type CertConfig struct {
	CertFile        string   `yaml:"cert_file"`
	KeyFile         string   `yaml:"key_file"`
	CommonName      string   `yaml:"common_name"`
	DNSNames        []string `yaml:"dns_names"`
	ValidityDays    int      `yaml:"validity_days"`     // e.g. 365
	RenewBeforeDays int      `yaml:"renew_before_days"` // rotate when expiry is this close
}

type HealthConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"` // poll interval, default 2
	TimeoutSeconds  int `yaml:"timeout_seconds"`  // per-service wait budget, default 60
}

// PhaseConfig is one ordered deployment step. Groups listed here start
// together; the phase completes when every critical service in those
// groups reports healthy.
type PhaseConfig struct {
	Name   string   `yaml:"name" validate:"required"`
	Groups []string `yaml:"groups" validate:"required,min=1"`
}

// GroupConfig is a named set of co-deployed services plus the groups it
// depends on. Dependencies must be scheduled in an earlier phase; the
// loader rejects configs that violate this.
type GroupConfig struct {
	DependsOn []string        `yaml:"depends_on"`
	Services  []ServiceConfig `yaml:"services" validate:"required,min=1,dive"`
}

type ServiceConfig struct {
	Name string `yaml:"name" validate:"required"`

	// Critical services block phase advancement until healthy.
	// Non-critical services log a warning on timeout and never block.
	Critical bool `yaml:"critical"`

	Health HealthProbeConfig `yaml:"health"`

	// Volumes are the persistent volumes bound to this service.
	// Purge teardown removes exactly these and nothing else.
	Volumes []string `yaml:"volumes"`

	Networks []string `yaml:"networks"`
}

// HealthProbeConfig declares how a service reports readiness.
// Type is one of: http, tcp, cmd, container.
type HealthProbeConfig struct {
	Type           string   `yaml:"type" validate:"omitempty,oneof=http tcp cmd container"`
	URL            string   `yaml:"url,omitempty"`
	ExpectedStatus int      `yaml:"expected_status,omitempty"`
	Address        string   `yaml:"address,omitempty"` // host:port for tcp probes
	Cmd            []string `yaml:"cmd,omitempty"`     // exec'd in the container, exit 0 = healthy
}

// DefaultConfig returns the stock topology: the full self-hosted stack in
// five phases. Users edit the generated file to trim services or adjust
// probe endpoints.
func DefaultConfig() DeployConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".aleutian-deploy")

	return DeployConfig{
		Stack: StackConfig{
			Dir:         filepath.Join(base, "stack"),
			ProjectName: "aleutian",
			Engine:      "docker",
			Domain:      "home.local",
		},
		Secrets: SecretsConfig{
			StorePath: filepath.Join(base, "secrets.yaml"),
			EnvFile:   filepath.Join(base, "stack", ".env"),
			Required: []SecretSpec{
				{Key: "postgres.postgres_password", Env: "POSTGRES_PASSWORD"},
				{Key: "authelia.jwt_secret", Env: "AUTHELIA_JWT_SECRET"},
				{Key: "authelia.session_secret", Env: "AUTHELIA_SESSION_SECRET"},
				{Key: "authelia.storage_encryption_key", Env: "AUTHELIA_STORAGE_ENCRYPTION_KEY"},
				{Key: "rabbitmq.default_pass", Env: "RABBITMQ_DEFAULT_PASS"},
				{Key: "rabbitmq.erlang_cookie", Env: "RABBITMQ_ERLANG_COOKIE"},
				{Key: "grafana.admin_password", Env: "GF_SECURITY_ADMIN_PASSWORD"},
				{Key: "opensearch.admin_password", Env: "OPENSEARCH_INITIAL_ADMIN_PASSWORD"},
			},
		},
		Certificates: CertConfig{
			CertFile:        filepath.Join(base, "certs", "selfsigned.crt"),
			KeyFile:         filepath.Join(base, "certs", "selfsigned.key"),
			CommonName:      "home.local",
			DNSNames:        []string{"home.local", "*.home.local"},
			ValidityDays:    365,
			RenewBeforeDays: 30,
		},
		Health: HealthConfig{
			IntervalSeconds: 2,
			TimeoutSeconds:  60,
		},
		Phases: []PhaseConfig{
			{Name: "core", Groups: []string{"edge"}},
			{Name: "storage", Groups: []string{"databases", "messaging"}},
			{Name: "auth", Groups: []string{"auth"}},
			{Name: "observability", Groups: []string{"observability"}},
			{Name: "apps", Groups: []string{"apps"}},
		},
		Groups: map[string]GroupConfig{
			"edge": {
				Services: []ServiceConfig{
					{
						Name:     "traefik",
						Critical: true,
						Health: HealthProbeConfig{
							Type:           "http",
							URL:            "http://localhost:8080/ping",
							ExpectedStatus: 200,
						},
						Volumes:  []string{"aleutian_traefik-certs"},
						Networks: []string{"edge"},
					},
				},
			},
			"databases": {
				DependsOn: []string{"edge"},
				Services: []ServiceConfig{
					{
						Name:     "postgres",
						Critical: true,
						Health: HealthProbeConfig{
							Type: "cmd",
							Cmd:  []string{"pg_isready", "-U", "postgres"},
						},
						Volumes:  []string{"aleutian_postgres-data"},
						Networks: []string{"backend"},
					},
					{
						Name:     "qdrant",
						Critical: true,
						Health: HealthProbeConfig{
							Type:           "http",
							URL:            "http://localhost:6333/readyz",
							ExpectedStatus: 200,
						},
						Volumes:  []string{"aleutian_qdrant-data"},
						Networks: []string{"backend"},
					},
					{
						Name: "opensearch",
						Health: HealthProbeConfig{
							Type:           "http",
							URL:            "http://localhost:9200/_cluster/health",
							ExpectedStatus: 200,
						},
						Volumes:  []string{"aleutian_opensearch-data"},
						Networks: []string{"backend"},
					},
					{
						Name: "memgraph",
						Health: HealthProbeConfig{
							Type:    "tcp",
							Address: "localhost:7687",
						},
						Volumes:  []string{"aleutian_memgraph-data"},
						Networks: []string{"backend"},
					},
				},
			},
			"messaging": {
				DependsOn: []string{"edge"},
				Services: []ServiceConfig{
					{
						Name:     "rabbitmq",
						Critical: true,
						Health: HealthProbeConfig{
							Type: "cmd",
							Cmd:  []string{"rabbitmq-diagnostics", "-q", "ping"},
						},
						Volumes:  []string{"aleutian_rabbitmq-data"},
						Networks: []string{"backend"},
					},
				},
			},
			"auth": {
				DependsOn: []string{"databases"},
				Services: []ServiceConfig{
					{
						Name:     "authelia",
						Critical: true,
						Health: HealthProbeConfig{
							Type:           "http",
							URL:            "http://localhost:9091/api/health",
							ExpectedStatus: 200,
						},
						Networks: []string{"edge", "backend"},
					},
				},
			},
			"observability": {
				DependsOn: []string{"edge"},
				Services: []ServiceConfig{
					{
						Name: "prometheus",
						Health: HealthProbeConfig{
							Type:           "http",
							URL:            "http://localhost:9090/-/ready",
							ExpectedStatus: 200,
						},
						Volumes:  []string{"aleutian_prometheus-data"},
						Networks: []string{"observability"},
					},
					{
						Name: "grafana",
						Health: HealthProbeConfig{
							Type:           "http",
							URL:            "http://localhost:3000/api/health",
							ExpectedStatus: 200,
						},
						Volumes:  []string{"aleutian_grafana-data"},
						Networks: []string{"observability"},
					},
					{
						Name: "loki",
						Health: HealthProbeConfig{
							Type:           "http",
							URL:            "http://localhost:3100/ready",
							ExpectedStatus: 200,
						},
						Volumes:  []string{"aleutian_loki-data"},
						Networks: []string{"observability"},
					},
					{
						Name: "ntfy",
						Health: HealthProbeConfig{
							Type:           "http",
							URL:            "http://localhost:8090/v1/health",
							ExpectedStatus: 200,
						},
						Volumes:  []string{"aleutian_ntfy-cache"},
						Networks: []string{"observability"},
					},
				},
			},
			"apps": {
				DependsOn: []string{"auth"},
				Services: []ServiceConfig{
					{
						Name: "ollama",
						Health: HealthProbeConfig{
							Type:           "http",
							URL:            "http://localhost:11434/api/tags",
							ExpectedStatus: 200,
						},
						Volumes:  []string{"aleutian_ollama-models"},
						Networks: []string{"backend"},
					},
					{
						Name: "portainer",
						Health: HealthProbeConfig{
							Type:           "http",
							URL:            "http://localhost:9000/api/system/status",
							ExpectedStatus: 200,
						},
						Volumes:  []string{"aleutian_portainer-data"},
						Networks: []string{"edge"},
					},
					{
						Name: "filebrowser",
						Health: HealthProbeConfig{
							Type:           "http",
							URL:            "http://localhost:8085/health",
							ExpectedStatus: 200,
						},
						Volumes:  []string{"aleutian_filebrowser-db"},
						Networks: []string{"edge"},
					},
					{
						Name: "watchtower",
						Health: HealthProbeConfig{
							Type: "container",
						},
						Networks: []string{"backend"},
					},
				},
			},
		},
	}
}
