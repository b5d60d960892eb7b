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
Package main provides tests for DeployManager.

This file contains:
  - Phase ordering and abort tests over mocked compose and health layers
  - Lock contention tests using real file locks
  - Report persistence tests
  - Structured logging and access point summary tests
*/
package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/compose"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/process"
	"github.com/AleutianAI/AleutianDeploy/pkg/logging"
)

// createTestDeployConfig builds a three-phase topology: proxy, then
// storage (two groups in parallel), then apps.
func createTestDeployConfig(t *testing.T) *config.DeployConfig {
	t.Helper()
	dir := t.TempDir()
	return &config.DeployConfig{
		Stack: config.StackConfig{Dir: dir, ProjectName: "aleutian", Engine: "docker"},
		Secrets: config.SecretsConfig{
			StorePath: filepath.Join(dir, "secrets.yaml"),
			EnvFile:   filepath.Join(dir, "stack.env"),
		},
		Phases: []config.PhaseConfig{
			{Name: "edge", Groups: []string{"proxy"}},
			{Name: "storage", Groups: []string{"sql", "vector"}},
			{Name: "apps", Groups: []string{"dashboards"}},
		},
		Groups: map[string]config.GroupConfig{
			"proxy": {Services: []config.ServiceConfig{
				{Name: "traefik", Critical: true},
			}},
			"sql": {DependsOn: []string{"proxy"}, Services: []config.ServiceConfig{
				{Name: "postgres", Critical: true},
			}},
			"vector": {DependsOn: []string{"proxy"}, Services: []config.ServiceConfig{
				{Name: "qdrant"},
			}},
			"dashboards": {DependsOn: []string{"sql"}, Services: []config.ServiceConfig{
				{Name: "grafana"},
			}},
		},
	}
}

// createTestDeployManager wires a manager from mocks plus a real lock.
func createTestDeployManager(t *testing.T, cfg *config.DeployConfig,
	exec *compose.MockExecutor, health *MockHealthChecker) *DefaultDeployManager {
	t.Helper()
	locker := process.NewDeploymentLock(process.LockConfig{
		LockDir: t.TempDir(), LockName: "deploy-test",
	})
	mgr, err := NewDefaultDeployManager(locker, &MockSecretProvider{}, exec, health,
		cfg, t.TempDir())
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}
	mgr.SetOutput(nil)
	return mgr
}

// upServices flattens the service names of all recorded Up calls.
func upServices(exec *compose.MockExecutor) []string {
	var names []string
	for _, call := range exec.GetCalls() {
		if call.Method == "Up" {
			names = append(names, call.Services...)
		}
	}
	return names
}

func TestDefaultDeployManager_Deploy(t *testing.T) {
	t.Parallel()

	t.Run("runs every phase in order when all healthy", func(t *testing.T) {
		cfg := createTestDeployConfig(t)
		exec := &compose.MockExecutor{}
		health := &MockHealthChecker{}
		mgr := createTestDeployManager(t, cfg, exec, health)

		report, err := mgr.Deploy(context.Background(), DeployOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !report.Success {
			t.Error("report not marked successful")
		}
		if len(report.Phases) != 3 {
			t.Fatalf("got %d phase outcomes, want 3", len(report.Phases))
		}
		for _, phase := range report.Phases {
			if phase.Status != PhaseStatusCompleted {
				t.Errorf("phase %s status = %s", phase.Name, phase.Status)
			}
		}

		// Health gating happens once per phase, in phase order.
		waits := health.GetWaitCalls()
		if len(waits) != 3 {
			t.Fatalf("got %d health waits, want 3", len(waits))
		}
		if waits[0].ServiceNames[0] != "traefik" {
			t.Errorf("first wait probed %v, want traefik first", waits[0].ServiceNames)
		}

		started := upServices(exec)
		if len(started) != 4 {
			t.Errorf("started services %v, want all four", started)
		}
	})

	t.Run("critical timeout aborts later phases", func(t *testing.T) {
		cfg := createTestDeployConfig(t)
		exec := &compose.MockExecutor{}
		health := &MockHealthChecker{
			WaitForServicesFunc: func(ctx context.Context, probes []ServiceProbe, opts WaitOptions) *WaitResult {
				result := &WaitResult{Success: true}
				for _, p := range probes {
					state := HealthStateHealthy
					if p.Name == "postgres" {
						state = HealthStateTimedOut
						result.Success = false
						result.TimedOutCritical = append(result.TimedOutCritical, p.Name)
					}
					result.Statuses = append(result.Statuses, ProbeStatus{
						Name: p.Name, State: state, Critical: p.Critical,
					})
				}
				return result
			},
		}
		mgr := createTestDeployManager(t, cfg, exec, health)

		report, err := mgr.Deploy(context.Background(), DeployOptions{})

		var phaseFailed *PhaseFailedError
		if !errors.As(err, &phaseFailed) {
			t.Fatalf("expected PhaseFailedError, got %v", err)
		}
		if phaseFailed.Phase != "storage" || phaseFailed.Service != "postgres" {
			t.Errorf("failure names %s/%s, want storage/postgres",
				phaseFailed.Phase, phaseFailed.Service)
		}

		if len(report.Phases) != 3 {
			t.Fatalf("got %d phase outcomes, want 3", len(report.Phases))
		}
		if report.Phases[0].Status != PhaseStatusCompleted {
			t.Errorf("edge phase status = %s", report.Phases[0].Status)
		}
		if report.Phases[1].Status != PhaseStatusFailed {
			t.Errorf("storage phase status = %s", report.Phases[1].Status)
		}
		if report.Phases[2].Status != PhaseStatusSkipped {
			t.Errorf("apps phase status = %s", report.Phases[2].Status)
		}

		// The aborted phase must never have been started.
		for _, name := range upServices(exec) {
			if name == "grafana" {
				t.Error("grafana started despite the earlier phase failing")
			}
		}
	})

	t.Run("non-critical timeout proceeds with a warning", func(t *testing.T) {
		cfg := createTestDeployConfig(t)
		exec := &compose.MockExecutor{}
		health := &MockHealthChecker{
			WaitForServicesFunc: func(ctx context.Context, probes []ServiceProbe, opts WaitOptions) *WaitResult {
				result := &WaitResult{Success: true}
				for _, p := range probes {
					state := HealthStateHealthy
					if p.Name == "qdrant" {
						state = HealthStateTimedOut
						result.TimedOutOptional = append(result.TimedOutOptional, p.Name)
					}
					result.Statuses = append(result.Statuses, ProbeStatus{Name: p.Name, State: state})
				}
				return result
			},
		}
		mgr := createTestDeployManager(t, cfg, exec, health)

		report, err := mgr.Deploy(context.Background(), DeployOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !report.Success {
			t.Error("warnings must not fail the deployment")
		}
		if report.Phases[1].Status != PhaseStatusCompletedWithWarnings {
			t.Errorf("storage phase status = %s, want completed_with_warnings",
				report.Phases[1].Status)
		}
		if !report.HasWarnings() {
			t.Error("HasWarnings() = false")
		}
		// All phases still ran.
		if len(upServices(exec)) != 4 {
			t.Error("later phases did not run after a warning")
		}
	})

	t.Run("concurrent deployment is rejected", func(t *testing.T) {
		cfg := createTestDeployConfig(t)
		lockDir := t.TempDir()

		holder := process.NewDeploymentLock(process.LockConfig{LockDir: lockDir, LockName: "shared"})
		if err := holder.Acquire(); err != nil {
			t.Fatalf("could not pre-acquire lock: %v", err)
		}
		defer holder.Release()

		locker := process.NewDeploymentLock(process.LockConfig{LockDir: lockDir, LockName: "shared"})
		mgr, err := NewDefaultDeployManager(locker, &MockSecretProvider{},
			&compose.MockExecutor{}, &MockHealthChecker{}, cfg, t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		mgr.SetOutput(nil)

		_, err = mgr.Deploy(context.Background(), DeployOptions{})
		var inProgress *process.ErrDeploymentInProgress
		if !errors.As(err, &inProgress) {
			t.Errorf("expected ErrDeploymentInProgress, got %v", err)
		}
	})

	t.Run("secrets failure stops before any container starts", func(t *testing.T) {
		cfg := createTestDeployConfig(t)
		exec := &compose.MockExecutor{}
		secrets := &MockSecretProvider{
			ResolveAllFunc: func(ctx context.Context) (*SecretResolution, error) {
				return nil, ErrSecretStoreUnavailable
			},
		}
		locker := process.NewDeploymentLock(process.LockConfig{
			LockDir: t.TempDir(), LockName: "deploy-test",
		})
		mgr, err := NewDefaultDeployManager(locker, secrets, exec, &MockHealthChecker{},
			cfg, t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		mgr.SetOutput(nil)

		_, err = mgr.Deploy(context.Background(), DeployOptions{})
		if !errors.Is(err, ErrSecretsNotReady) {
			t.Errorf("expected ErrSecretsNotReady, got %v", err)
		}
		if len(upServices(exec)) != 0 {
			t.Error("containers were started despite missing secrets")
		}
	})

	t.Run("skip-secrets bypasses resolution", func(t *testing.T) {
		cfg := createTestDeployConfig(t)
		exec := &compose.MockExecutor{}
		secrets := &MockSecretProvider{
			ResolveAllFunc: func(ctx context.Context) (*SecretResolution, error) {
				t.Error("ResolveAll called despite SkipSecrets")
				return nil, nil
			},
		}
		locker := process.NewDeploymentLock(process.LockConfig{
			LockDir: t.TempDir(), LockName: "deploy-test",
		})
		mgr, err := NewDefaultDeployManager(locker, secrets, exec, &MockHealthChecker{},
			cfg, t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		mgr.SetOutput(nil)

		if _, err := mgr.Deploy(context.Background(), DeployOptions{SkipSecrets: true}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("persists a report on success and on failure", func(t *testing.T) {
		cfg := createTestDeployConfig(t)
		reportsDir := t.TempDir()
		locker := process.NewDeploymentLock(process.LockConfig{
			LockDir: t.TempDir(), LockName: "deploy-test",
		})
		health := &MockHealthChecker{
			WaitForServicesFunc: func(ctx context.Context, probes []ServiceProbe, opts WaitOptions) *WaitResult {
				return &WaitResult{Success: false, TimedOutCritical: []string{probes[0].Name}}
			},
		}
		mgr, err := NewDefaultDeployManager(locker, &MockSecretProvider{},
			&compose.MockExecutor{}, health, cfg, reportsDir)
		if err != nil {
			t.Fatal(err)
		}
		mgr.SetOutput(nil)

		report, _ := mgr.Deploy(context.Background(), DeployOptions{})

		entries, err := os.ReadDir(reportsDir)
		if err != nil || len(entries) != 1 {
			t.Fatalf("expected one report file, got %d (err %v)", len(entries), err)
		}
		if !strings.Contains(entries[0].Name(), report.ID) {
			t.Errorf("report file %s does not carry run ID %s", entries[0].Name(), report.ID)
		}
		data, _ := os.ReadFile(filepath.Join(reportsDir, entries[0].Name()))
		if !strings.Contains(string(data), "\"success\": false") {
			t.Error("persisted report does not record the failure")
		}
	})

	t.Run("health timeout override reaches the wait options", func(t *testing.T) {
		cfg := createTestDeployConfig(t)
		health := &MockHealthChecker{}
		mgr := createTestDeployManager(t, cfg, &compose.MockExecutor{}, health)

		_, err := mgr.Deploy(context.Background(),
			DeployOptions{HealthTimeout: 90 * time.Second})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, call := range health.GetWaitCalls() {
			if call.Options.Timeout != 90*time.Second {
				t.Errorf("wait timeout = %s, want 90s", call.Options.Timeout)
			}
		}
	})
}

func TestDefaultDeployManager_RestartGroup(t *testing.T) {
	t.Parallel()

	t.Run("restarts the group's services and re-gates health", func(t *testing.T) {
		cfg := createTestDeployConfig(t)
		exec := &compose.MockExecutor{}
		health := &MockHealthChecker{}
		mgr := createTestDeployManager(t, cfg, exec, health)

		wait, err := mgr.RestartGroup(context.Background(), "sql")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !wait.Success {
			t.Error("expected successful wait")
		}

		calls := exec.GetCalls()
		if len(calls) != 1 || calls[0].Method != "Restart" {
			t.Fatalf("unexpected compose calls: %+v", calls)
		}
		if calls[0].Services[0] != "postgres" {
			t.Errorf("restarted %v, want postgres", calls[0].Services)
		}
	})

	t.Run("unknown group is rejected", func(t *testing.T) {
		cfg := createTestDeployConfig(t)
		mgr := createTestDeployManager(t, cfg, &compose.MockExecutor{}, &MockHealthChecker{})

		if _, err := mgr.RestartGroup(context.Background(), "nonsense"); !errors.Is(err, ErrUnknownGroup) {
			t.Errorf("expected ErrUnknownGroup, got %v", err)
		}
	})
}

func TestRedactSensitive(t *testing.T) {
	t.Parallel()

	msg := redactSensitive("auth failed: password=hunter2secret40chars for user postgres")
	if strings.Contains(msg, "hunter2") {
		t.Errorf("password survived redaction: %s", msg)
	}

	clean := "connection refused on port 5432"
	if redactSensitive(clean) != clean {
		t.Error("benign message was modified")
	}
}

func TestDefaultDeployManager_FailureWithoutNamedService(t *testing.T) {
	t.Parallel()

	// A checker implementation may report failure without listing a
	// critical straggler; the scheduler must not panic on it.
	cfg := createTestDeployConfig(t)
	exec := &compose.MockExecutor{}
	health := &MockHealthChecker{
		WaitForServicesFunc: func(ctx context.Context, probes []ServiceProbe, opts WaitOptions) *WaitResult {
			return &WaitResult{Success: false}
		},
	}
	mgr := createTestDeployManager(t, cfg, exec, health)

	report, err := mgr.Deploy(context.Background(), DeployOptions{})
	var phaseFailed *PhaseFailedError
	if !errors.As(err, &phaseFailed) {
		t.Fatalf("expected *PhaseFailedError, got %v", err)
	}
	if phaseFailed.Service != "unknown" {
		t.Errorf("Service = %q, want unknown placeholder", phaseFailed.Service)
	}
	if report.Phases[0].FailedService != "unknown" {
		t.Errorf("outcome FailedService = %q", report.Phases[0].FailedService)
	}
}

func TestDefaultDeployManager_StructuredLogging(t *testing.T) {
	t.Parallel()

	// deployLogContents runs a deploy with a file-backed logger and
	// returns what was written.
	deployLogContents := func(t *testing.T, health *MockHealthChecker) string {
		t.Helper()
		logDir := t.TempDir()
		logger := logging.New(logging.Config{
			Level:   logging.LevelDebug,
			LogDir:  logDir,
			Service: "deploy-test",
			Quiet:   true,
		})

		cfg := createTestDeployConfig(t)
		mgr := createTestDeployManager(t, cfg, &compose.MockExecutor{}, health)
		mgr.SetLogger(logger)

		_, _ = mgr.Deploy(context.Background(), DeployOptions{})
		if err := logger.Close(); err != nil {
			t.Fatal(err)
		}

		entries, err := os.ReadDir(logDir)
		if err != nil || len(entries) != 1 {
			t.Fatalf("expected one log file, got %v (err %v)", entries, err)
		}
		data, err := os.ReadFile(filepath.Join(logDir, entries[0].Name()))
		if err != nil {
			t.Fatal(err)
		}
		return string(data)
	}

	t.Run("successful run emits lifecycle events", func(t *testing.T) {
		logs := deployLogContents(t, &MockHealthChecker{})

		for _, want := range []string{
			"deployment started", "phase started", "phase complete",
			"deployment succeeded", `"phase":"edge"`, `"phase":"apps"`,
		} {
			if !strings.Contains(logs, want) {
				t.Errorf("log missing %q", want)
			}
		}
	})

	t.Run("aborted run records the failure and skips", func(t *testing.T) {
		health := &MockHealthChecker{
			WaitForServicesFunc: func(ctx context.Context, probes []ServiceProbe, opts WaitOptions) *WaitResult {
				for _, p := range probes {
					if p.Name == "postgres" {
						return &WaitResult{Success: false, TimedOutCritical: []string{"postgres"}}
					}
				}
				return &WaitResult{Success: true}
			},
		}
		logs := deployLogContents(t, health)

		for _, want := range []string{
			"phase failed", `"service":"postgres"`, "phase skipped", "deployment failed",
		} {
			if !strings.Contains(logs, want) {
				t.Errorf("log missing %q", want)
			}
		}
	})
}

func TestAccessPointsForDomain(t *testing.T) {
	t.Parallel()

	if points := accessPointsForDomain(""); points != nil {
		t.Errorf("empty domain should advertise nothing, got %v", points)
	}

	points := accessPointsForDomain("home.local")
	if len(points) != 4 {
		t.Fatalf("got %d access points, want 4", len(points))
	}
	if points[0][0] != "Traefik dashboard" || points[0][1] != "https://traefik.home.local" {
		t.Errorf("first access point = %v", points[0])
	}
	for _, p := range points {
		if !strings.HasPrefix(p[1], "https://") || !strings.HasSuffix(p[1], ".home.local") {
			t.Errorf("access point URL %q malformed", p[1])
		}
	}
}
