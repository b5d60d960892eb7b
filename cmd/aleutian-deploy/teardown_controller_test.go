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
Package main provides tests for TeardownController.

This file contains:
  - Reverse phase ordering tests
  - Purge scoping tests proving only configured volumes are removed
  - Partial failure reporting tests
*/
package main

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/compose"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/process"
)

// createTestTeardownConfig returns a two-phase topology with volumes.
func createTestTeardownConfig(t *testing.T) *config.DeployConfig {
	t.Helper()
	cfg := createTestDeployConfig(t)
	cfg.Groups["sql"] = config.GroupConfig{
		DependsOn: []string{"proxy"},
		Services: []config.ServiceConfig{
			{Name: "postgres", Critical: true, Volumes: []string{"aleutian_postgres-data"}},
		},
	}
	cfg.Groups["vector"] = config.GroupConfig{
		DependsOn: []string{"proxy"},
		Services: []config.ServiceConfig{
			{Name: "qdrant", Volumes: []string{"aleutian_qdrant-data"}},
		},
	}
	return cfg
}

func createTestTeardownController(t *testing.T, cfg *config.DeployConfig,
	exec *compose.MockExecutor) *DefaultTeardownController {
	t.Helper()
	locker := process.NewDeploymentLock(process.LockConfig{
		LockDir: t.TempDir(), LockName: "teardown-test",
	})
	ctrl, err := NewDefaultTeardownController(locker, exec, cfg, t.TempDir())
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}
	ctrl.SetOutput(nil)
	return ctrl
}

func TestDefaultTeardownController_Run(t *testing.T) {
	t.Parallel()

	t.Run("stops phases in reverse order", func(t *testing.T) {
		cfg := createTestTeardownConfig(t)
		exec := &compose.MockExecutor{}
		ctrl := createTestTeardownController(t, cfg, exec)

		report, err := ctrl.Run(context.Background(), TeardownOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !report.Success {
			t.Error("report not marked successful")
		}

		want := []string{"apps", "storage", "edge"}
		if len(report.PhasesStopped) != len(want) {
			t.Fatalf("stopped %v, want %v", report.PhasesStopped, want)
		}
		for i, name := range want {
			if report.PhasesStopped[i] != name {
				t.Errorf("phase %d = %s, want %s", i, report.PhasesStopped[i], name)
			}
		}

		// First Stop call must target the last phase's services.
		calls := exec.GetCalls()
		if calls[0].Method != "Stop" || calls[0].Services[0] != "grafana" {
			t.Errorf("first stop call = %+v, want grafana first", calls[0])
		}
	})

	t.Run("without purge no volumes are touched", func(t *testing.T) {
		cfg := createTestTeardownConfig(t)
		exec := &compose.MockExecutor{}
		ctrl := createTestTeardownController(t, cfg, exec)

		if _, err := ctrl.Run(context.Background(), TeardownOptions{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, call := range exec.GetCalls() {
			if call.Method == "RemoveVolumes" || call.Method == "Down" {
				t.Errorf("unexpected %s call without purge", call.Method)
			}
		}
	})

	t.Run("purge removes exactly the configured volumes", func(t *testing.T) {
		cfg := createTestTeardownConfig(t)
		exec := &compose.MockExecutor{}
		ctrl := createTestTeardownController(t, cfg, exec)

		report, err := ctrl.Run(context.Background(), TeardownOptions{PurgeVolumes: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var removed []string
		downSeen := false
		for _, call := range exec.GetCalls() {
			switch call.Method {
			case "Down":
				downSeen = true
			case "RemoveVolumes":
				if !downSeen {
					t.Error("volumes removed before containers were taken down")
				}
				removed = call.Volumes
			}
		}

		want := map[string]bool{"aleutian_postgres-data": true, "aleutian_qdrant-data": true}
		if len(removed) != len(want) {
			t.Fatalf("removed %v, want exactly the configured volumes", removed)
		}
		for _, v := range removed {
			if !want[v] {
				t.Errorf("removed unconfigured volume %s", v)
			}
		}
		if len(report.VolumesRemoved) != 2 {
			t.Errorf("report lists %v removed", report.VolumesRemoved)
		}
	})

	t.Run("stopping an already stopped stack succeeds", func(t *testing.T) {
		cfg := createTestTeardownConfig(t)
		// Engine treats stopping stopped containers as a no-op success.
		exec := &compose.MockExecutor{
			StopFunc: func(ctx context.Context, opts compose.StopOptions) (*compose.Result, error) {
				return &compose.Result{Success: true, Stdout: "no containers to stop"}, nil
			},
		}
		ctrl := createTestTeardownController(t, cfg, exec)

		report, err := ctrl.Run(context.Background(), TeardownOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !report.Success {
			t.Error("no-op teardown should succeed")
		}
	})

	t.Run("partial volume removal is reported", func(t *testing.T) {
		cfg := createTestTeardownConfig(t)
		exec := &compose.MockExecutor{
			RemoveVolumesFunc: func(ctx context.Context, names []string) (*compose.VolumeRemovalResult, error) {
				return &compose.VolumeRemovalResult{
					Removed:       names[:1],
					AlreadyAbsent: nil,
					Errors:        []string{names[1] + ": volume is in use"},
				}, compose.ErrVolumeRemovalPartial
			},
		}
		ctrl := createTestTeardownController(t, cfg, exec)

		report, err := ctrl.Run(context.Background(), TeardownOptions{PurgeVolumes: true})
		if !errors.Is(err, ErrTeardownPartial) {
			t.Fatalf("expected ErrTeardownPartial, got %v", err)
		}
		if !report.HasErrors() {
			t.Error("report does not carry the removal errors")
		}
		if len(report.VolumesRemoved) != 1 {
			t.Errorf("report lists %v removed, want one", report.VolumesRemoved)
		}
	})

	t.Run("stop failure aborts and names the phase", func(t *testing.T) {
		cfg := createTestTeardownConfig(t)
		exec := &compose.MockExecutor{
			StopFunc: func(ctx context.Context, opts compose.StopOptions) (*compose.Result, error) {
				return &compose.Result{Success: false, ExitCode: 1, Stderr: "daemon unreachable"}, nil
			},
		}
		ctrl := createTestTeardownController(t, cfg, exec)

		_, err := ctrl.Run(context.Background(), TeardownOptions{})
		if !errors.Is(err, ErrStopFailed) {
			t.Errorf("expected ErrStopFailed, got %v", err)
		}
	})

	t.Run("concurrent teardown is rejected", func(t *testing.T) {
		cfg := createTestTeardownConfig(t)
		lockDir := t.TempDir()

		holder := process.NewDeploymentLock(process.LockConfig{LockDir: lockDir, LockName: "shared"})
		if err := holder.Acquire(); err != nil {
			t.Fatal(err)
		}
		defer holder.Release()

		locker := process.NewDeploymentLock(process.LockConfig{LockDir: lockDir, LockName: "shared"})
		ctrl, err := NewDefaultTeardownController(locker, &compose.MockExecutor{}, cfg, t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		ctrl.SetOutput(nil)

		_, err = ctrl.Run(context.Background(), TeardownOptions{})
		var inProgress *process.ErrDeploymentInProgress
		if !errors.As(err, &inProgress) {
			t.Errorf("expected ErrDeploymentInProgress, got %v", err)
		}
	})
}

func TestConfiguredVolumes_Deduplicates(t *testing.T) {
	t.Parallel()

	cfg := createTestTeardownConfig(t)
	// Two services sharing one volume must yield a single removal entry.
	cfg.Groups["dashboards"] = config.GroupConfig{
		DependsOn: []string{"sql"},
		Services: []config.ServiceConfig{
			{Name: "grafana", Volumes: []string{"aleutian_postgres-data"}},
		},
	}
	ctrl := createTestTeardownController(t, cfg, &compose.MockExecutor{})

	volumes := ctrl.configuredVolumes()
	counts := make(map[string]int)
	for _, v := range volumes {
		counts[v]++
	}
	if counts["aleutian_postgres-data"] != 1 {
		t.Errorf("volume listed %d times, want once", counts["aleutian_postgres-data"])
	}
}
