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
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/process"
	"github.com/AleutianAI/AleutianDeploy/pkg/ux"
)

// runTeardown stops every phase in reverse order. With --purge it also
// removes the stack's data volumes, which requires a confirmation.
func runTeardown(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	if purgeVolumes && !confirmPurge() {
		ux.Info("Teardown cancelled.")
		return
	}

	proc := process.NewDefaultManager()
	locker := process.NewDeploymentLock(process.DefaultLockConfig())
	executor := newComposeExecutor(proc)

	controller, err := NewDefaultTeardownController(locker, executor, &config.Global, "")
	if err != nil {
		log.Fatalf("Error building the teardown controller: %v", err)
	}

	ux.Title("Tearing down the Aleutian stack")
	report, err := controller.Run(ctx, TeardownOptions{PurgeVolumes: purgeVolumes})
	if err != nil {
		var inProgress *process.ErrDeploymentInProgress
		if errors.As(err, &inProgress) {
			ux.Error(err.Error())
			os.Exit(exitLockHeld)
		}
		if errors.Is(err, ErrTeardownPartial) && report != nil {
			ux.Warning("Teardown finished with errors:")
			for _, msg := range report.Errors {
				ux.ServiceStatus("", ux.IconError, msg)
			}
			os.Exit(exitGeneralError)
		}
		ux.Error(fmt.Sprintf("Teardown failed: %v", err))
		os.Exit(exitGeneralError)
	}

	for _, phase := range report.PhasesStopped {
		ux.ServiceStatus(phase, ux.IconSuccess, "stopped")
	}
	if report.PurgeRequested {
		ux.Info(fmt.Sprintf("Volumes removed: %d (already absent: %d)",
			len(report.VolumesRemoved), len(report.VolumesAbsent)))
	}
	ux.Success("Stack is down.")
}

// confirmPurge gates volume removal. In a terminal the user answers an
// interactive prompt; in scripts --yes must be passed explicitly.
func confirmPurge() bool {
	if assumeYes {
		return true
	}
	if !ux.IsInteractive() {
		ux.Error("Refusing to purge volumes non-interactively. Re-run with --yes to confirm.")
		os.Exit(exitGeneralError)
	}

	volumes := purgeScope()
	confirmed := false
	prompt := huh.NewConfirm().
		Title("Delete all stack data volumes?").
		Description(fmt.Sprintf("This permanently removes: %s", strings.Join(volumes, ", "))).
		Affirmative("Delete everything").
		Negative("Cancel").
		Value(&confirmed)
	if err := prompt.Run(); err != nil {
		ux.Error(fmt.Sprintf("Prompt failed: %v", err))
		return false
	}
	return confirmed
}

// purgeScope lists the volumes a purge would remove, in config order.
func purgeScope() []string {
	seen := make(map[string]bool)
	var volumes []string
	for _, phase := range config.Global.Phases {
		for _, group := range phase.Groups {
			for _, svc := range config.Global.Groups[group].Services {
				for _, vol := range svc.Volumes {
					if !seen[vol] {
						seen[vol] = true
						volumes = append(volumes, vol)
					}
				}
			}
		}
	}
	return volumes
}
