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
Package main provides TeardownController for ordered stack shutdown.

TeardownController walks the deployment phases in reverse order, stopping
each phase's services before the phases they depend on. Stopping a service
that is not running is a no-op. Volume purge is a separate, explicitly
requested step that removes exactly the volumes named in the configuration
and nothing else; confirmation is the CLI layer's responsibility and this
controller assumes it already happened.
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/compose"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/process"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrStopFailed is returned when a phase's services could not be stopped.
	ErrStopFailed = errors.New("service stop failed")

	// ErrTeardownPartial is returned when teardown completes but some
	// volumes could not be removed.
	ErrTeardownPartial = errors.New("teardown completed with partial failures")
)

// =============================================================================
// Type Definitions
// =============================================================================

// TeardownOptions configures a teardown run.
type TeardownOptions struct {
	// PurgeVolumes removes the configured data volumes after stopping.
	// The CLI layer must have obtained explicit confirmation before
	// setting this.
	PurgeVolumes bool

	// StopTimeout is the per-service SIGTERM grace period.
	// Zero means the engine default.
	StopTimeout time.Duration
}

// TeardownReport is the durable record of one teardown run.
type TeardownReport struct {
	// ID uniquely identifies this run.
	ID string `json:"id"`

	// Success is true when every phase stopped and, if requested, every
	// configured volume was removed.
	Success bool `json:"success"`

	// PhasesStopped lists phase names in the order they were stopped
	// (reverse of deployment order).
	PhasesStopped []string `json:"phases_stopped"`

	// PurgeRequested records whether volume purge was part of this run.
	PurgeRequested bool `json:"purge_requested"`

	// VolumesRemoved lists volumes removed by the purge step.
	VolumesRemoved []string `json:"volumes_removed,omitempty"`

	// VolumesAbsent lists configured volumes that did not exist.
	VolumesAbsent []string `json:"volumes_absent,omitempty"`

	// Errors lists redacted per-step failures.
	Errors []string `json:"errors,omitempty"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is total wall time.
	Duration time.Duration `json:"duration"`
}

// HasErrors returns true if any step encountered an error.
func (r *TeardownReport) HasErrors() bool {
	return len(r.Errors) > 0
}

// =============================================================================
// Interface Definition
// =============================================================================

// TeardownController stops the stack in reverse phase order.
//
// # Description
//
// The inverse of DeployManager. Phases stop strictly in reverse of their
// deployment order so dependents go down before their dependencies, then
// an optional purge step removes exactly the configured volumes.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Only one teardown may
// run at a time; the deployment lock rejects concurrent mutations.
type TeardownController interface {
	// Run stops all phases in reverse order, optionally purging volumes.
	//
	// # Description
	//
	// Acquires the deployment lock, then stops each phase's services
	// newest-first. A service that is already stopped is a no-op. When
	// opts.PurgeVolumes is set, removes the project containers and then
	// exactly the volumes named in the service configuration. Volumes
	// outside the configuration are never touched.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation
	//   - opts: Teardown options; PurgeVolumes requires that the caller
	//     already confirmed with the user
	//
	// # Outputs
	//
	//   - *TeardownReport: Always non-nil when the lock was acquired
	//   - error: process.ErrDeploymentInProgress, ErrStopFailed, or
	//     ErrTeardownPartial
	//
	// # Examples
	//
	//	report, err := ctrl.Run(ctx, TeardownOptions{PurgeVolumes: confirmed})
	//	if errors.Is(err, ErrTeardownPartial) {
	//	    for _, e := range report.Errors {
	//	        fmt.Println(e)
	//	    }
	//	}
	Run(ctx context.Context, opts TeardownOptions) (*TeardownReport, error)

	// SetOutput configures the writer for status messages.
	SetOutput(w io.Writer)
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultTeardownController implements TeardownController.
type DefaultTeardownController struct {
	locker     process.DeploymentLocker
	compose    compose.Executor
	config     *config.DeployConfig
	reportsDir string
	output     io.Writer
	mu         sync.Mutex
}

// NewDefaultTeardownController creates a teardown controller.
//
// # Inputs
//
//   - locker: DeploymentLocker shared with the deploy manager (required)
//   - composeExec: compose.Executor for engine commands (required)
//   - cfg: Deployment topology (required)
//   - reportsDir: Report directory (empty for default)
//
// # Outputs
//
//   - *DefaultTeardownController: Ready-to-use controller
//   - error: ErrNilDependency if any required dependency is nil
func NewDefaultTeardownController(
	locker process.DeploymentLocker,
	composeExec compose.Executor,
	cfg *config.DeployConfig,
	reportsDir string,
) (*DefaultTeardownController, error) {
	if locker == nil {
		return nil, fmt.Errorf("%w: DeploymentLocker", ErrNilDependency)
	}
	if composeExec == nil {
		return nil, fmt.Errorf("%w: compose.Executor", ErrNilDependency)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: DeployConfig", ErrNilDependency)
	}

	if reportsDir == "" {
		reportsDir = filepath.Join(filepath.Dir(cfg.Secrets.StorePath), "reports")
	}

	return &DefaultTeardownController{
		locker:     locker,
		compose:    composeExec,
		config:     cfg,
		reportsDir: reportsDir,
		output:     os.Stdout,
	}, nil
}

// SetOutput configures the output writer for status messages.
func (c *DefaultTeardownController) SetOutput(w io.Writer) {
	if w == nil {
		c.output = discardWriter{}
	} else {
		c.output = w
	}
}

// Run stops all phases in reverse order, optionally purging volumes.
//
// See interface documentation for full details.
func (c *DefaultTeardownController) Run(ctx context.Context, opts TeardownOptions) (report *TeardownReport, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		recoverPanic(recover(), &err)
	}()

	if err := c.locker.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := c.locker.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	startTime := time.Now()
	report = &TeardownReport{
		ID:             uuid.NewString(),
		PurgeRequested: opts.PurgeVolumes,
		StartedAt:      startTime,
	}
	defer func() {
		report.CompletedAt = time.Now()
		report.Duration = report.CompletedAt.Sub(startTime)
		c.persistReport(report)
	}()

	if err := c.stopPhasesReversed(ctx, opts, report); err != nil {
		return report, err
	}

	if opts.PurgeVolumes {
		if err := c.purgeVolumes(ctx, report); err != nil {
			return report, err
		}
	}

	report.Success = true
	safeWrite(c.output, "Teardown complete in %s.\n", report.Duration.Round(time.Second))
	return report, nil
}

// =============================================================================
// Private Helper Methods
// =============================================================================

// stopPhasesReversed stops every phase's services, newest phase first.
func (c *DefaultTeardownController) stopPhasesReversed(ctx context.Context, opts TeardownOptions, report *TeardownReport) error {
	for i := len(c.config.Phases) - 1; i >= 0; i-- {
		phase := c.config.Phases[i]
		names, err := c.phaseServiceNames(phase)
		if err != nil {
			return err
		}

		safeWrite(c.output, "Stopping phase %s (%d services)...\n", phase.Name, len(names))
		result, err := c.compose.Stop(ctx, compose.StopOptions{
			Services:        names,
			GracefulTimeout: opts.StopTimeout,
		})
		if err != nil {
			return fmt.Errorf("%w: phase %s: %v", ErrStopFailed, phase.Name, err)
		}
		if !result.Success {
			return fmt.Errorf("%w: phase %s exited %d: %s",
				ErrStopFailed, phase.Name, result.ExitCode, redactSensitive(result.Stderr))
		}
		report.PhasesStopped = append(report.PhasesStopped, phase.Name)
	}
	return nil
}

// phaseServiceNames collects and validates the service names of one phase.
func (c *DefaultTeardownController) phaseServiceNames(phase config.PhaseConfig) ([]string, error) {
	var names []string
	for _, groupName := range phase.Groups {
		grp, ok := c.config.Groups[groupName]
		if !ok {
			return nil, fmt.Errorf("%w: %q in phase %q", ErrUnknownGroup, groupName, phase.Name)
		}
		names = append(names, serviceNames(grp.Services)...)
	}
	if err := validateServiceNames(names); err != nil {
		return nil, err
	}
	return names, nil
}

// purgeVolumes removes project containers and exactly the configured volumes.
func (c *DefaultTeardownController) purgeVolumes(ctx context.Context, report *TeardownReport) error {
	// Containers must be gone before their volumes can be removed.
	downResult, err := c.compose.Down(ctx, compose.DownOptions{RemoveOrphans: true})
	if err != nil {
		return fmt.Errorf("removing containers before purge: %w", err)
	}
	if !downResult.Success {
		return fmt.Errorf("%w: compose down exited %d: %s",
			ErrStopFailed, downResult.ExitCode, redactSensitive(downResult.Stderr))
	}

	volumes := c.configuredVolumes()
	if len(volumes) == 0 {
		safeWrite(c.output, "No volumes configured; nothing to purge.\n")
		return nil
	}

	safeWrite(c.output, "Purging %d configured volumes...\n", len(volumes))
	removal, err := c.compose.RemoveVolumes(ctx, volumes)
	if removal != nil {
		report.VolumesRemoved = removal.Removed
		report.VolumesAbsent = removal.AlreadyAbsent
		for _, e := range removal.Errors {
			report.Errors = append(report.Errors, redactSensitive(e))
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTeardownPartial, err)
	}
	return nil
}

// configuredVolumes is the union of every service's volume list, deduplicated
// in first-seen order. This is the exact purge scope.
func (c *DefaultTeardownController) configuredVolumes() []string {
	seen := make(map[string]bool)
	var volumes []string
	for _, phase := range c.config.Phases {
		for _, groupName := range phase.Groups {
			for _, svc := range c.config.Groups[groupName].Services {
				for _, v := range svc.Volumes {
					if !seen[v] {
						seen[v] = true
						volumes = append(volumes, v)
					}
				}
			}
		}
	}
	return volumes
}

// persistReport writes the run report as JSON. Advisory only.
func (c *DefaultTeardownController) persistReport(report *TeardownReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(c.reportsDir, 0o755); err != nil {
		return
	}
	path := filepath.Join(c.reportsDir, fmt.Sprintf("teardown-%s.json", report.ID))
	_ = os.WriteFile(path, data, 0o644)
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ TeardownController = (*DefaultTeardownController)(nil)
