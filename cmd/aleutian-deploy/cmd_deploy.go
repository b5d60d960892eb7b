// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/compose"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/process"
	"github.com/AleutianAI/AleutianDeploy/pkg/ux"
)

// Exit codes for scripting. Anything that stops a deployment is non-zero.
const (
	exitOK             = 0
	exitGeneralError   = 1
	exitPhaseFailed    = 2
	exitLockHeld       = 3
	exitSecretsFailure = 4
)

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newComposeExecutor builds the compose executor from the loaded config.
func newComposeExecutor(proc process.Manager) *compose.DefaultExecutor {
	cfg := config.Global
	executor, err := compose.NewDefaultExecutor(compose.Config{
		StackDir:    cfg.Stack.Dir,
		ProjectName: cfg.Stack.ProjectName,
		Engine:      cfg.Stack.Engine,
		EnvFile:     cfg.Secrets.EnvFile,
	}, proc)
	if err != nil {
		log.Fatalf("Error configuring the compose executor: %v", err)
	}
	executor.SetLogger(appLogger)
	return executor
}

// newHealthChecker builds a health checker aligned with the stack config.
func newHealthChecker(proc process.Manager) *DefaultHealthChecker {
	hc := DefaultHealthCheckerConfig()
	if config.Global.Stack.Engine != "" {
		hc.Engine = config.Global.Stack.Engine
	}
	return NewDefaultHealthChecker(proc, hc)
}

// newDeployManager wires the full dependency graph for deploy/restart.
func newDeployManager() *DefaultDeployManager {
	proc := process.NewDefaultManager()
	locker := process.NewDeploymentLock(process.DefaultLockConfig())
	secrets := NewDefaultSecretProvider(config.Global.Secrets)
	executor := newComposeExecutor(proc)
	health := newHealthChecker(proc)

	mgr, err := NewDefaultDeployManager(locker, secrets, executor, health, &config.Global, "")
	if err != nil {
		log.Fatalf("Error building the deploy manager: %v", err)
	}
	mgr.SetLogger(appLogger)
	return mgr
}

// runDeploy brings up every phase in order and gates each on health.
func runDeploy(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	mgr := newDeployManager()

	opts := DeployOptions{SkipSecrets: skipSecrets}
	if healthTimeout > 0 {
		opts.HealthTimeout = time.Duration(healthTimeout) * time.Second
	}

	ux.Title("Deploying the Aleutian stack")
	report, err := mgr.Deploy(ctx, opts)
	if err != nil {
		exitForDeployError(err)
	}

	printPhaseOutcomes(report)
	printAccessPoints(config.Global.Stack.Domain)
	if report.HasWarnings() {
		ux.Warning("Deployment finished with warnings. Non-critical services are still starting.")
	} else {
		ux.Success("All phases healthy.")
	}
}

// accessPointsForDomain lists the stack's operator entry points as
// name/URL pairs. Empty domain means no access points are advertised.
func accessPointsForDomain(domain string) [][2]string {
	if domain == "" {
		return nil
	}
	return [][2]string{
		{"Traefik dashboard", "https://traefik." + domain},
		{"Grafana", "https://grafana." + domain},
		{"Portainer", "https://portainer." + domain},
		{"ntfy", "https://ntfy." + domain},
	}
}

// printAccessPoints renders the entry-point list per personality level.
func printAccessPoints(domain string) {
	points := accessPointsForDomain(domain)
	if len(points) == 0 || !ux.GetPersonality().ShowAccessPoints {
		return
	}
	ux.Info("Access points:")
	for _, p := range points {
		ux.AccessPoint(p[0], p[1])
	}
}

// runRestart restarts a single group and waits for it to come back.
func runRestart(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	group := args[0]
	mgr := newDeployManager()

	ux.Info(fmt.Sprintf("Restarting group %q...", group))
	wait, err := mgr.RestartGroup(ctx, group)
	if err != nil {
		ux.Error(fmt.Sprintf("Restart failed: %v", err))
		os.Exit(exitGeneralError)
	}
	if !wait.Success {
		ux.Error(fmt.Sprintf("Group %q restarted but critical services timed out: %v",
			group, wait.TimedOutCritical))
		os.Exit(exitPhaseFailed)
	}
	ux.Success(fmt.Sprintf("Group %q is healthy.", group))
}

// printPhaseOutcomes renders one line per phase plus a summary footer.
func printPhaseOutcomes(report *DeploymentReport) {
	if report == nil {
		return
	}
	completed, warned, skipped := 0, 0, 0
	for _, phase := range report.Phases {
		switch phase.Status {
		case PhaseStatusCompleted:
			completed++
			ux.ServiceStatus(phase.Name, ux.IconSuccess, phase.Duration.Round(time.Second).String())
		case PhaseStatusCompletedWithWarnings:
			completed++
			warned++
			ux.ServiceStatus(phase.Name, ux.IconWarning,
				fmt.Sprintf("slow to start: %v", phase.Warnings))
		case PhaseStatusFailed:
			ux.ServiceStatus(phase.Name, ux.IconError, phase.FailedService)
		case PhaseStatusSkipped:
			skipped++
			ux.ServiceStatus(phase.Name, ux.IconPending, "skipped")
		}
	}
	ux.PhaseSummary(completed, warned, skipped, len(report.Phases))
}

// exitForDeployError maps a deployment error onto an exit code.
func exitForDeployError(err error) {
	var inProgress *process.ErrDeploymentInProgress
	if errors.As(err, &inProgress) {
		ux.Error(err.Error())
		os.Exit(exitLockHeld)
	}

	var phaseFailed *PhaseFailedError
	if errors.As(err, &phaseFailed) {
		ux.Error(fmt.Sprintf("Phase %q failed: critical service %q did not become healthy within %s.",
			phaseFailed.Phase, phaseFailed.Service, phaseFailed.Timeout))
		ux.Info("Fix the service and run deploy again; completed phases are skipped over quickly.")
		os.Exit(exitPhaseFailed)
	}

	if errors.Is(err, ErrSecretStoreUnavailable) || errors.Is(err, ErrSecretsNotReady) {
		ux.Error(fmt.Sprintf("Secrets are not ready: %v", err))
		os.Exit(exitSecretsFailure)
	}

	ux.Error(fmt.Sprintf("Deployment failed: %v", err))
	os.Exit(exitGeneralError)
}
