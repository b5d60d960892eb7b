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
Package main provides DeployManager for phased stack deployment.

DeployManager walks the configured deployment phases in strict order. Within
a phase the service groups start concurrently; the phase then gates on
health with join semantics, advancing only when every service has resolved.
A critical service that never becomes healthy fails the phase and aborts the
remaining phases. A non-critical straggler is recorded as a warning and the
deployment proceeds.

There is no rollback. Services started by earlier phases keep running after
an abort, and rerunning deploy resumes against whatever is already up: the
engine treats running containers as no-ops and health gating re-verifies
them.

# Design Principles

  - Interface-first design for testability
  - All external operations behind injected interfaces
  - Exactly one deployment at a time, enforced host-wide by the lock
  - Every run produces a DeploymentReport, failed runs included
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
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/compose"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/process"
	"github.com/AleutianAI/AleutianDeploy/pkg/logging"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrPhaseFailed is returned when a phase's critical services never
	// became healthy. Use errors.As with *PhaseFailedError for details.
	ErrPhaseFailed = errors.New("deployment phase failed")

	// ErrComposeUpFailed is returned when container startup fails.
	ErrComposeUpFailed = errors.New("compose up failed")

	// ErrSecretsNotReady is returned when secrets cannot be provisioned.
	ErrSecretsNotReady = errors.New("secrets not ready")

	// ErrInvalidServiceName is returned when a service name contains invalid characters.
	ErrInvalidServiceName = errors.New("invalid service name")

	// ErrUnknownGroup is returned when a phase references an undefined group.
	ErrUnknownGroup = errors.New("unknown service group")

	// ErrPanicRecovered is returned when a panic was recovered during an operation.
	ErrPanicRecovered = errors.New("panic recovered during operation")
)

// PhaseFailedError reports which phase failed and the first critical
// service that timed out in it.
type PhaseFailedError struct {
	// Phase is the name of the failed phase.
	Phase string

	// Service is the critical service that did not become healthy.
	Service string

	// Timeout is the health budget that was exhausted.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *PhaseFailedError) Error() string {
	return fmt.Sprintf("phase %q failed: critical service %q not healthy after %s",
		e.Phase, e.Service, e.Timeout)
}

// Unwrap allows errors.Is(err, ErrPhaseFailed).
func (e *PhaseFailedError) Unwrap() error {
	return ErrPhaseFailed
}

// =============================================================================
// Security Constants and Patterns
// =============================================================================

// serviceNamePattern validates compose service names.
// Per docker-compose spec: lowercase letters, digits, hyphens, and underscores.
var serviceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// sensitivePatterns match credential material in error messages. Matches
// are redacted before anything reaches the report file or the terminal.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|password|token|credential|cookie)[=:\s]+[^\s]+`),
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]+)`),
}

// =============================================================================
// Type Definitions
// =============================================================================

// DeployOptions configures a Deploy run.
type DeployOptions struct {
	// HealthTimeout overrides the per-phase health budget.
	// Zero means use the configured default.
	HealthTimeout time.Duration

	// SkipSecrets skips secret resolution and env file sync.
	// Only useful when init-secrets already ran in the same session.
	SkipSecrets bool
}

// PhaseStatus is the outcome classification of one phase.
type PhaseStatus string

const (
	// PhaseStatusCompleted means every service in the phase became healthy.
	PhaseStatusCompleted PhaseStatus = "completed"

	// PhaseStatusCompletedWithWarnings means only non-critical services
	// timed out; the deployment proceeded.
	PhaseStatusCompletedWithWarnings PhaseStatus = "completed_with_warnings"

	// PhaseStatusFailed means a critical service timed out or startup failed.
	PhaseStatusFailed PhaseStatus = "failed"

	// PhaseStatusSkipped means an earlier phase failed before this one ran.
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// PhaseOutcome records what happened in one phase.
type PhaseOutcome struct {
	// Name is the phase name from config.
	Name string `json:"name"`

	// Groups lists the service groups started in this phase.
	Groups []string `json:"groups"`

	// Status classifies the outcome.
	Status PhaseStatus `json:"status"`

	// Warnings lists non-critical services that timed out.
	Warnings []string `json:"warnings,omitempty"`

	// FailedService is the critical service that blocked the phase
	// (empty unless Status is failed).
	FailedService string `json:"failed_service,omitempty"`

	// Services holds the final probe state of each service in the phase.
	Services []ProbeStatus `json:"services,omitempty"`

	// Duration is wall time spent in this phase.
	Duration time.Duration `json:"duration"`
}

// DeploymentReport is the durable record of one deploy run.
type DeploymentReport struct {
	// ID uniquely identifies this run.
	ID string `json:"id"`

	// Success is true when every phase completed (warnings allowed).
	Success bool `json:"success"`

	// Phases records per-phase outcomes in execution order.
	Phases []PhaseOutcome `json:"phases"`

	// Error is the redacted failure description (empty on success).
	Error string `json:"error,omitempty"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is total wall time.
	Duration time.Duration `json:"duration"`
}

// HasWarnings returns true if any phase carried warnings.
func (r *DeploymentReport) HasWarnings() bool {
	for _, p := range r.Phases {
		if len(p.Warnings) > 0 {
			return true
		}
	}
	return false
}

// =============================================================================
// Interface Definition
// =============================================================================

// DeployManager orchestrates phased deployment of the service stack.
//
// # Description
//
// This is the primary interface for bringing the stack up. It coordinates
// the deployment lock, secret provisioning, phased container startup, and
// health gating.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Only one Deploy may be
// in progress at a time; concurrent invocations on the same host are
// rejected by the deployment lock.
type DeployManager interface {
	// Deploy runs all configured phases in order.
	//
	// # Description
	//
	// Acquires the deployment lock, resolves secrets, then executes each
	// phase: start its groups concurrently, gate on health, advance. A
	// critical health timeout fails the phase, marks later phases skipped,
	// and returns a *PhaseFailedError. The report is returned in all
	// cases, including failure.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation. Cancellation takes effect between
	//     health polls; already-started services are left running.
	//   - opts: Deploy options
	//
	// # Outputs
	//
	//   - *DeploymentReport: Always non-nil when the lock was acquired
	//   - error: process.ErrDeploymentInProgress, ErrSecretsNotReady,
	//     ErrComposeUpFailed, or *PhaseFailedError
	//
	// # Examples
	//
	//	report, err := mgr.Deploy(ctx, DeployOptions{})
	//	var pf *PhaseFailedError
	//	if errors.As(err, &pf) {
	//	    fmt.Printf("blocked by %s in phase %s\n", pf.Service, pf.Phase)
	//	}
	//
	// # Limitations
	//
	//   - No rollback: services from completed phases keep running on abort
	Deploy(ctx context.Context, opts DeployOptions) (*DeploymentReport, error)

	// RestartGroup restarts the services of one configured group and
	// re-gates on their health.
	//
	// # Outputs
	//
	//   - *WaitResult: Health state after the restart
	//   - error: ErrUnknownGroup or engine failures
	RestartGroup(ctx context.Context, group string) (*WaitResult, error)

	// SetOutput configures the writer for status messages.
	SetOutput(w io.Writer)
}

// =============================================================================
// Output Helpers
// =============================================================================

// discardWriter is a no-op writer used when output is nil.
type discardWriter struct{}

// Write implements io.Writer, discarding all data.
func (discardWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// safeWrite writes to the output writer, using discard if nil.
func safeWrite(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, format, args...)
}

// redactSensitive removes credential material from a message before it
// reaches logs or report files.
func redactSensitive(msg string) string {
	result := msg
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// validateServiceName checks if a service name is safe for compose operations.
//
// # Description
//
// Validates service names against docker-compose naming rules to prevent
// injection attacks or undefined behavior.
//
// # Inputs
//
//   - name: Service name to validate
//
// # Outputs
//
//   - error: ErrInvalidServiceName if validation fails, nil otherwise
//
// # Examples
//
//	err := validateServiceName("traefik")   // nil
//	err := validateServiceName("../../etc") // ErrInvalidServiceName
func validateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty service name", ErrInvalidServiceName)
	}
	if len(name) > 63 {
		return fmt.Errorf("%w: service name exceeds 63 characters", ErrInvalidServiceName)
	}
	if !serviceNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidServiceName, name)
	}
	return nil
}

// validateServiceNames checks all service names in a slice.
func validateServiceNames(names []string) error {
	for _, name := range names {
		if err := validateServiceName(name); err != nil {
			return err
		}
	}
	return nil
}

// recoverPanic converts a recovered panic into an error.
//
// # Description
//
// Used with defer to safely recover from panics in mutating operations.
// Ensures the mutex is released and the error is properly propagated.
// Intended to be called from a deferred function with recover().
//
// # Examples
//
//	func (m *DefaultDeployManager) SomeMethod() (err error) {
//	    defer func() {
//	        recoverPanic(recover(), &err)
//	    }()
//	    // ... method body
//	}
//
// # Limitations
//
//   - Must be called from within a deferred function
func recoverPanic(r interface{}, errPtr *error) {
	if r == nil {
		return
	}

	var panicErr error
	switch v := r.(type) {
	case error:
		panicErr = fmt.Errorf("%w: %v", ErrPanicRecovered, v)
	case string:
		panicErr = fmt.Errorf("%w: %s", ErrPanicRecovered, v)
	default:
		panicErr = fmt.Errorf("%w: %v", ErrPanicRecovered, v)
	}

	if *errPtr == nil {
		*errPtr = panicErr
	}
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultDeployManager implements DeployManager.
//
// # Description
//
// Production implementation coordinating lock, secrets, compose, and
// health checking. All external operations go through injected interfaces
// for testability.
//
// # Thread Safety
//
// Safe for concurrent use. Deploy and RestartGroup are serialized with a
// mutex; cross-process exclusion comes from the deployment lock.
type DefaultDeployManager struct {
	// locker enforces single-deployment exclusivity host-wide.
	locker process.DeploymentLocker

	// secrets provisions stack credentials before containers start.
	secrets SecretProvider

	// compose executes engine compose commands.
	compose compose.Executor

	// health gates phase advancement.
	health HealthChecker

	// config is the loaded deployment topology.
	config *config.DeployConfig

	// reportsDir is where run reports are persisted as JSON.
	reportsDir string

	// output is where status messages are written.
	// Default: os.Stdout
	output io.Writer

	// logger records structured deployment events.
	// Default: discard
	logger *logging.Logger

	// mu serializes mutating operations.
	mu sync.Mutex
}

// NewDefaultDeployManager creates a deploy manager with all dependencies.
//
// # Description
//
// Creates a ready-to-use DeployManager with injected dependencies. All
// dependencies are required. Reports are written under reportsDir; pass
// empty to use <config dir>/reports.
//
// # Inputs
//
//   - locker: DeploymentLocker for single-run exclusivity (required)
//   - secrets: SecretProvider for credential provisioning (required)
//   - composeExec: compose.Executor for container orchestration (required)
//   - health: HealthChecker for phase gating (required)
//   - cfg: Deployment topology (required)
//   - reportsDir: Report directory (empty for default)
//
// # Outputs
//
//   - *DefaultDeployManager: Ready-to-use manager
//   - error: ErrNilDependency if any required dependency is nil
//
// # Examples
//
//	mgr, err := NewDefaultDeployManager(locker, secrets, exec, health, cfg, "")
//	if err != nil {
//	    return fmt.Errorf("failed to create deploy manager: %w", err)
//	}
func NewDefaultDeployManager(
	locker process.DeploymentLocker,
	secrets SecretProvider,
	composeExec compose.Executor,
	health HealthChecker,
	cfg *config.DeployConfig,
	reportsDir string,
) (*DefaultDeployManager, error) {
	if locker == nil {
		return nil, fmt.Errorf("%w: DeploymentLocker", ErrNilDependency)
	}
	if secrets == nil {
		return nil, fmt.Errorf("%w: SecretProvider", ErrNilDependency)
	}
	if composeExec == nil {
		return nil, fmt.Errorf("%w: compose.Executor", ErrNilDependency)
	}
	if health == nil {
		return nil, fmt.Errorf("%w: HealthChecker", ErrNilDependency)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: DeployConfig", ErrNilDependency)
	}

	if reportsDir == "" {
		reportsDir = filepath.Join(filepath.Dir(cfg.Secrets.StorePath), "reports")
	}

	return &DefaultDeployManager{
		locker:     locker,
		secrets:    secrets,
		compose:    composeExec,
		health:     health,
		config:     cfg,
		reportsDir: reportsDir,
		output:     os.Stdout,
		logger:     logging.Discard(),
	}, nil
}

// SetOutput configures the output writer for status messages.
// Default is os.Stdout. Passing nil discards output.
func (m *DefaultDeployManager) SetOutput(w io.Writer) {
	if w == nil {
		m.output = discardWriter{}
	} else {
		m.output = w
	}
}

// SetLogger configures structured logging for deployment events.
// Default is a discard logger. Passing nil restores the default.
func (m *DefaultDeployManager) SetLogger(logger *logging.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	m.logger = logger
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy runs all configured phases in order.
//
// See interface documentation for full details.
func (m *DefaultDeployManager) Deploy(ctx context.Context, opts DeployOptions) (report *DeploymentReport, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Recover from panics to prevent deadlocks and ensure error propagation.
	defer func() {
		recoverPanic(recover(), &err)
	}()

	// Lock first. Nothing may change state before exclusivity is held.
	if err := m.locker.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := m.locker.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	startTime := time.Now()
	report = &DeploymentReport{
		ID:        uuid.NewString(),
		StartedAt: startTime,
	}
	m.logger.Info("deployment started", "run_id", report.ID, "phases", len(m.config.Phases))
	defer func() {
		report.CompletedAt = time.Now()
		report.Duration = report.CompletedAt.Sub(startTime)
		if err != nil {
			report.Error = redactSensitive(err.Error())
			m.logger.Error("deployment failed",
				"run_id", report.ID,
				"error", report.Error,
				"duration_ms", report.Duration.Milliseconds())
		} else {
			m.logger.Info("deployment succeeded",
				"run_id", report.ID,
				"duration_ms", report.Duration.Milliseconds())
		}
		m.persistReport(report)
	}()

	if !opts.SkipSecrets {
		if secErr := m.ensureSecretsReady(ctx); secErr != nil {
			return report, secErr
		}
	}

	for i, phase := range m.config.Phases {
		outcome, phaseErr := m.runPhase(ctx, phase, opts)
		report.Phases = append(report.Phases, *outcome)
		if phaseErr != nil {
			m.markRemainingSkipped(report, i+1)
			return report, phaseErr
		}
	}

	report.Success = true
	m.printDeploySummary(report)
	return report, nil
}

// RestartGroup restarts one configured group and re-gates on its health.
func (m *DefaultDeployManager) RestartGroup(ctx context.Context, group string) (*WaitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	grp, ok := m.config.Groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}

	names := serviceNames(grp.Services)
	if err := validateServiceNames(names); err != nil {
		return nil, err
	}

	safeWrite(m.output, "Restarting group %s (%d services)...\n", group, len(names))
	m.logger.Info("group restart", "group", group, "services", names)
	result, err := m.compose.Restart(ctx, names, 0)
	if err != nil {
		return nil, fmt.Errorf("restarting %s: %w", group, err)
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: restart exited %d: %s",
			ErrComposeUpFailed, result.ExitCode, redactSensitive(result.Stderr))
	}

	wait := m.health.WaitForServices(ctx, ProbesForServices(grp.Services), m.waitOptions(DeployOptions{}))
	return wait, nil
}

// =============================================================================
// Phase Helpers
// =============================================================================

// ensureSecretsReady resolves every configured secret and syncs the env file.
func (m *DefaultDeployManager) ensureSecretsReady(ctx context.Context) error {
	safeWrite(m.output, "Resolving secrets...\n")
	resolution, err := m.secrets.ResolveAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSecretsNotReady, err)
	}
	safeWrite(m.output, "  %s\n", resolution)
	return nil
}

// runPhase starts one phase's groups concurrently and gates on health.
func (m *DefaultDeployManager) runPhase(ctx context.Context, phase config.PhaseConfig, opts DeployOptions) (*PhaseOutcome, error) {
	phaseStart := time.Now()
	outcome := &PhaseOutcome{
		Name:   phase.Name,
		Groups: phase.Groups,
		Status: PhaseStatusFailed,
	}
	defer func() { outcome.Duration = time.Since(phaseStart) }()

	safeWrite(m.output, "Phase %s: starting groups %v\n", phase.Name, phase.Groups)
	m.logger.Info("phase started", "phase", phase.Name, "groups", phase.Groups)

	services, err := m.phaseServices(phase)
	if err != nil {
		return outcome, err
	}

	if err := m.startGroups(ctx, phase); err != nil {
		return outcome, err
	}

	wait := m.health.WaitForServices(ctx, ProbesForServices(services), m.waitOptions(opts))
	outcome.Services = wait.Statuses
	outcome.Warnings = wait.TimedOutOptional

	if !wait.Success {
		// An alternative checker may report failure without naming a
		// straggler; never index blindly.
		outcome.FailedService = "unknown"
		if len(wait.TimedOutCritical) > 0 {
			outcome.FailedService = wait.TimedOutCritical[0]
		}
		m.logger.Error("phase failed",
			"phase", phase.Name,
			"service", outcome.FailedService,
			"timed_out_critical", wait.TimedOutCritical)
		return outcome, &PhaseFailedError{
			Phase:   phase.Name,
			Service: outcome.FailedService,
			Timeout: m.waitOptions(opts).Timeout,
		}
	}

	if len(outcome.Warnings) > 0 {
		outcome.Status = PhaseStatusCompletedWithWarnings
		safeWrite(m.output, "Phase %s: complete, still waiting on %v (non-critical)\n",
			phase.Name, outcome.Warnings)
		m.logger.Warn("non-critical services still starting",
			"phase", phase.Name, "services", outcome.Warnings)
	} else {
		outcome.Status = PhaseStatusCompleted
		safeWrite(m.output, "Phase %s: complete\n", phase.Name)
	}
	m.logger.Info("phase complete",
		"phase", phase.Name,
		"status", string(outcome.Status),
		"duration_ms", time.Since(phaseStart).Milliseconds())
	return outcome, nil
}

// phaseServices collects and validates all services of a phase's groups.
func (m *DefaultDeployManager) phaseServices(phase config.PhaseConfig) ([]config.ServiceConfig, error) {
	var services []config.ServiceConfig
	for _, groupName := range phase.Groups {
		grp, ok := m.config.Groups[groupName]
		if !ok {
			return nil, fmt.Errorf("%w: %q in phase %q", ErrUnknownGroup, groupName, phase.Name)
		}
		services = append(services, grp.Services...)
	}
	if err := validateServiceNames(serviceNames(services)); err != nil {
		return nil, err
	}
	return services, nil
}

// startGroups runs compose up for each group of the phase concurrently.
func (m *DefaultDeployManager) startGroups(ctx context.Context, phase config.PhaseConfig) error {
	g, groupCtx := errgroup.WithContext(ctx)
	for _, groupName := range phase.Groups {
		grp := m.config.Groups[groupName]
		name := groupName
		g.Go(func() error {
			result, err := m.compose.Up(groupCtx, compose.UpOptions{
				Services: serviceNames(grp.Services),
			})
			if err != nil {
				return fmt.Errorf("starting group %s: %w", name, err)
			}
			if !result.Success {
				return fmt.Errorf("%w: group %s exited %d: %s",
					ErrComposeUpFailed, name, result.ExitCode, redactSensitive(result.Stderr))
			}
			return nil
		})
	}
	return g.Wait()
}

// waitOptions builds the health wait parameters for a phase.
func (m *DefaultDeployManager) waitOptions(opts DeployOptions) WaitOptions {
	wo := DefaultWaitOptions()
	if m.config.Health.TimeoutSeconds > 0 {
		wo.Timeout = time.Duration(m.config.Health.TimeoutSeconds) * time.Second
	}
	if m.config.Health.IntervalSeconds > 0 {
		wo.Interval = time.Duration(m.config.Health.IntervalSeconds) * time.Second
	}
	if opts.HealthTimeout > 0 {
		wo.Timeout = opts.HealthTimeout
	}
	return wo
}

// markRemainingSkipped records skipped outcomes for phases after an abort.
func (m *DefaultDeployManager) markRemainingSkipped(report *DeploymentReport, fromIndex int) {
	for _, phase := range m.config.Phases[fromIndex:] {
		m.logger.Info("phase skipped", "phase", phase.Name)
		report.Phases = append(report.Phases, PhaseOutcome{
			Name:   phase.Name,
			Groups: phase.Groups,
			Status: PhaseStatusSkipped,
		})
	}
}

// persistReport writes the run report as JSON. Persistence failure is not
// a deployment failure; the report is advisory.
func (m *DefaultDeployManager) persistReport(report *DeploymentReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		safeWrite(m.output, "warning: could not serialize deployment report: %v\n", err)
		return
	}
	if err := os.MkdirAll(m.reportsDir, 0o755); err != nil {
		safeWrite(m.output, "warning: could not create reports dir: %v\n", err)
		return
	}
	path := filepath.Join(m.reportsDir, fmt.Sprintf("deploy-%s.json", report.ID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		safeWrite(m.output, "warning: could not write deployment report: %v\n", err)
	}
}

// printDeploySummary prints the completion footer. Access points are
// rendered by the CLI layer, which owns personality-aware presentation.
func (m *DefaultDeployManager) printDeploySummary(report *DeploymentReport) {
	safeWrite(m.output, "\nDeployment complete in %s (%d phases).\n",
		time.Since(report.StartedAt).Round(time.Second), len(report.Phases))
}

// serviceNames extracts service names in config order.
func serviceNames(services []config.ServiceConfig) []string {
	names := make([]string, 0, len(services))
	for _, s := range services {
		names = append(names, s.Name)
	}
	return names
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ DeployManager = (*DefaultDeployManager)(nil)
