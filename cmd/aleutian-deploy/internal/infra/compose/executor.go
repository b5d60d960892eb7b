// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compose drives the container engine for the deployment
// orchestrator. It is the only place the engine binary is invoked for
// stack lifecycle operations; everything above it works with service
// groups and results, not raw commands.
package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/process"
	"github.com/AleutianAI/AleutianDeploy/pkg/logging"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrEngineNotFound is returned when the container engine binary is not available.
	ErrEngineNotFound = errors.New("container engine not found")

	// ErrComposeFileMissing is returned when a required compose file doesn't exist.
	ErrComposeFileMissing = errors.New("compose file not found")

	// ErrInvalidConfig is returned when ComposeConfig is invalid.
	ErrInvalidConfig = errors.New("invalid compose configuration")

	// ErrInvalidEnvVar is returned when an environment variable key is invalid.
	// This prevents config injection attacks through malformed env var names.
	ErrInvalidEnvVar = errors.New("invalid environment variable")

	// ErrVolumeRemovalPartial is returned when purge removed some but not all
	// requested volumes.
	ErrVolumeRemovalPartial = errors.New("volume removal completed with errors")
)

// envVarKeyRegex validates environment variable key names.
// Keys must:
//   - Start with a letter or underscore
//   - Contain only alphanumeric characters and underscores
//   - Not be empty
//
// This prevents shell metacharacter injection and other config attacks.
var envVarKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// =============================================================================
// Interface Definition
// =============================================================================

// Executor manages container engine operations for the deployment stack.
//
// # Description
//
// This interface abstracts all interactions with `docker compose` (or a
// compatible engine), enabling testable orchestration of service groups.
// It handles compose file layering (base, override), environment injection,
// and scoped volume removal for purge teardowns.
//
// # Security
//
//   - Validates compose file paths to prevent directory traversal
//   - Sanitizes environment variables before injection
//   - Does not log sensitive environment values (tokens, secrets)
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Operations that modify
// container state (Up, Down, Stop, RemoveVolumes) are serialized internally.
type Executor interface {
	// Up starts services defined in the compose configuration.
	//
	// Executes `docker compose up -d`, optionally restricted to a set of
	// service names. Starting an already-running service is a no-op at the
	// engine level, which is what makes redeploys restartable. Does not
	// wait for health; that is the prober's job.
	Up(ctx context.Context, opts UpOptions) (*Result, error)

	// Stop stops services without removing containers or volumes.
	//
	// Executes `docker compose stop`, optionally restricted to a set of
	// service names. Stopping a service that is not running is a no-op,
	// not an error.
	Stop(ctx context.Context, opts StopOptions) (*Result, error)

	// Down stops and removes the stack's containers and networks.
	//
	// Never removes volumes; purge is a separate, explicitly scoped
	// operation (RemoveVolumes).
	Down(ctx context.Context, opts DownOptions) (*Result, error)

	// Restart restarts the named services (all when empty).
	Restart(ctx context.Context, services []string, timeout time.Duration) (*Result, error)

	// Logs streams container logs to the provided writer.
	Logs(ctx context.Context, opts LogsOptions, w io.Writer) error

	// Status returns the current state of the stack's containers.
	Status(ctx context.Context) (*Status, error)

	// ListVolumes returns the names of volumes labeled with this project.
	ListVolumes(ctx context.Context) ([]string, error)

	// RemoveVolumes removes exactly the named volumes and nothing else.
	//
	// A volume that does not exist is counted as already absent, not an
	// error. Partial failure returns the result alongside
	// ErrVolumeRemovalPartial.
	RemoveVolumes(ctx context.Context, names []string) (*VolumeRemovalResult, error)

	// ComposeFiles returns the resolved compose file paths in layering order.
	ComposeFiles() []string
}

// =============================================================================
// Supporting Types
// =============================================================================

// Config provides configuration for compose operations.
type Config struct {
	// StackDir is the directory containing compose files.
	// All compose file paths are relative to this directory.
	StackDir string

	// ProjectName is the compose project name.
	// Default: "aleutian"
	ProjectName string

	// BaseFile is the primary compose file name.
	// Default: "docker-compose.yml"
	BaseFile string

	// OverrideFile is the user override file name.
	// Optional, only used if file exists.
	// Default: "docker-compose.override.yml"
	OverrideFile string

	// EnvFile is the path to the flat KEY=VALUE file passed to the engine
	// as --env-file, so compose reads generated credentials from wherever
	// the secrets layer writes them, not just the project-dir .env.
	// Optional; empty relies on compose's default .env discovery.
	EnvFile string

	// Engine is the container engine binary.
	// Default: "docker" (compose is invoked as `docker compose`)
	Engine string

	// ContainerNamePrefix is the prefix for container names.
	// Used for filtering in Status.
	// Default: "aleutian-"
	ContainerNamePrefix string

	// DefaultTimeout is the default timeout for compose operations.
	// Default: 5 minutes
	DefaultTimeout time.Duration
}

// UpOptions configures the Up operation.
type UpOptions struct {
	// Services limits which services to start.
	// Empty means all services.
	Services []string

	// Env contains environment variables to inject.
	// These are passed to compose and available to all services.
	Env map[string]string

	// RemoveOrphans removes containers for services not defined.
	// Default: false
	RemoveOrphans bool

	// Timeout overrides the default operation timeout.
	// Zero means use DefaultTimeout from config.
	Timeout time.Duration
}

// StopOptions configures the Stop operation.
type StopOptions struct {
	// Services limits which services to stop.
	// Empty means all services in the project.
	Services []string

	// GracefulTimeout is passed to the engine as the SIGTERM grace period
	// before it escalates to SIGKILL. Default: 10 seconds.
	GracefulTimeout time.Duration

	// Timeout overrides the default operation timeout.
	Timeout time.Duration
}

// DownOptions configures the Down operation.
type DownOptions struct {
	// RemoveOrphans removes containers for services not in compose file.
	// Maps to: --remove-orphans flag
	RemoveOrphans bool

	// Timeout overrides the default operation timeout.
	Timeout time.Duration
}

// LogsOptions configures the Logs operation.
type LogsOptions struct {
	// Follow streams logs continuously.
	// Maps to: -f flag
	Follow bool

	// Services limits which services to show logs for.
	// Empty means all services.
	Services []string

	// Tail limits output to last N lines per container.
	// Zero means all logs.
	Tail int

	// Timestamps prepends each line with timestamp.
	// Maps to: --timestamps flag
	Timestamps bool
}

// Result contains the result of an engine operation.
type Result struct {
	// Success indicates if the operation completed without error.
	Success bool

	// ExitCode is the exit code of the engine command.
	ExitCode int

	// Stdout contains standard output.
	Stdout string

	// Stderr contains standard error.
	Stderr string

	// Duration is how long the operation took.
	Duration time.Duration

	// Command is the full command that was executed (for debugging).
	// Environment values are never included.
	Command string
}

// Status contains the current state of the stack's containers.
type Status struct {
	// Services contains status for each container matching the prefix.
	Services []ServiceStatus

	// Running is the count of running containers.
	Running int

	// Stopped is the count of stopped containers.
	Stopped int

	// Unhealthy is the count of containers whose health check is failing.
	Unhealthy int
}

// ServiceStatus contains the status of a single service container.
type ServiceStatus struct {
	// Name is the compose service name (container name minus prefix).
	Name string

	// ContainerName is the actual container name.
	ContainerName string

	// State is the container state (running, exited, etc.).
	State string

	// Healthy indicates health check status.
	// nil means no health check defined.
	Healthy *bool

	// Image is the container image.
	Image string
}

// VolumeRemovalResult contains details of a RemoveVolumes operation.
type VolumeRemovalResult struct {
	// Removed lists volumes that were removed.
	Removed []string

	// AlreadyAbsent lists volumes that did not exist.
	AlreadyAbsent []string

	// Errors contains any per-volume failures.
	Errors []string
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultExecutor implements Executor on top of `docker compose`.
type DefaultExecutor struct {
	config     Config
	proc       process.Manager
	logger     *logging.Logger
	osStatFunc func(string) (os.FileInfo, error)
	mu         sync.Mutex
}

// NewDefaultExecutor creates a new Executor with the given configuration.
//
// # Description
//
// Creates an executor configured for docker compose operations.
// Validates the configuration and sets sensible defaults.
//
// # Inputs
//
//   - cfg: Compose configuration (StackDir required)
//   - proc: process.Manager for command execution
//
// # Outputs
//
//   - *DefaultExecutor: Configured executor
//   - error: If configuration is invalid
//
// # Example
//
//	executor, err := NewDefaultExecutor(Config{
//	    StackDir:    "/home/user/.aleutian-deploy/stack",
//	    ProjectName: "aleutian",
//	}, proc)
//
// # Defaults Applied
//
//   - ProjectName: "aleutian"
//   - BaseFile: "docker-compose.yml"
//   - OverrideFile: "docker-compose.override.yml"
//   - Engine: "docker"
//   - ContainerNamePrefix: "aleutian-"
//   - DefaultTimeout: 5 minutes
//
// # Limitations
//
//   - Does not verify the engine is installed (checked at runtime)
//   - Does not verify StackDir exists (checked at runtime)
func NewDefaultExecutor(cfg Config, proc process.Manager) (*DefaultExecutor, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyConfigDefaults(&cfg)

	return &DefaultExecutor{
		config:     cfg,
		proc:       proc,
		logger:     logging.Discard(),
		osStatFunc: os.Stat,
	}, nil
}

// SetLogger configures structured logging for engine invocations.
// Default is a discard logger. Passing nil restores the default.
func (e *DefaultExecutor) SetLogger(logger *logging.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	e.logger = logger
}

// validateConfig ensures required fields are present.
func validateConfig(cfg *Config) error {
	if cfg.StackDir == "" {
		return fmt.Errorf("%w: StackDir is required", ErrInvalidConfig)
	}
	return nil
}

// applyConfigDefaults applies default values to empty fields.
func applyConfigDefaults(cfg *Config) {
	if cfg.ProjectName == "" {
		cfg.ProjectName = "aleutian"
	}
	if cfg.BaseFile == "" {
		cfg.BaseFile = "docker-compose.yml"
	}
	if cfg.OverrideFile == "" {
		cfg.OverrideFile = "docker-compose.override.yml"
	}
	if cfg.Engine == "" {
		cfg.Engine = "docker"
	}
	if cfg.ContainerNamePrefix == "" {
		cfg.ContainerNamePrefix = "aleutian-"
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
}

// =============================================================================
// Interface Implementation
// =============================================================================

// Up starts services defined in the compose configuration.
//
// # Description
//
// Executes `docker compose up -d` with the configured file layering.
// Injects environment variables from the provided map after validating
// their keys. Acquires the mutex to serialize with other mutating
// operations.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout
//   - opts: See UpOptions
//
// # Outputs
//
//   - *Result: Contains stdout, stderr, exit code, duration
//   - error: If the engine cannot be invoked or env validation fails
//
// # Limitations
//
//   - Does not verify service health after startup (use the health prober)
//   - Blocks until containers are started, not until healthy
func (e *DefaultExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	// Validate env vars before proceeding to prevent config injection
	if err := e.validateEnvVars(opts.Env); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.buildComposeArgs()
	args = append(args, "up", "-d")

	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	return e.runEngine(ctx, args, opts.Env, e.resolveTimeout(opts.Timeout))
}

// Stop stops services without removing containers.
//
// Stopping a service that is not running exits zero at the engine level,
// so reverse-order teardown of a partially-deployed stack needs no special
// casing here.
func (e *DefaultExecutor) Stop(ctx context.Context, opts StopOptions) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.buildComposeArgs()
	args = append(args, "stop")

	graceful := opts.GracefulTimeout
	if graceful == 0 {
		graceful = 10 * time.Second
	}
	args = append(args, "-t", fmt.Sprintf("%d", int(graceful.Seconds())))

	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	return e.runEngine(ctx, args, nil, e.resolveTimeout(opts.Timeout))
}

// Down stops and removes the stack's containers and networks.
func (e *DefaultExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.buildComposeArgs()
	args = append(args, "down")

	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}

	return e.runEngine(ctx, args, nil, e.resolveTimeout(opts.Timeout))
}

// Restart restarts the named services (all when empty).
func (e *DefaultExecutor) Restart(ctx context.Context, services []string, timeout time.Duration) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.buildComposeArgs()
	args = append(args, "restart")
	args = append(args, services...)

	return e.runEngine(ctx, args, nil, e.resolveTimeout(timeout))
}

// Logs streams container logs to the provided writer.
//
// # Description
//
// Executes `docker compose logs` with optional follow mode. Output is
// wired directly to w, so lines appear as the engine produces them; in
// follow mode the command runs until the context is cancelled, which is
// reported as a clean stop, not an error. Does not acquire the mutex
// (read-only operation).
func (e *DefaultExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	args := e.buildComposeArgs()
	args = append(args, "logs")

	if opts.Follow {
		args = append(args, "-f")
	}
	if opts.Tail > 0 {
		args = append(args, "--tail", fmt.Sprintf("%d", opts.Tail))
	}
	if opts.Timestamps {
		args = append(args, "--timestamps")
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	err := e.proc.RunStreaming(ctx, e.config.StackDir, w, e.config.Engine, args...)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("logs command failed: %w", err)
	}
	return nil
}

// Status returns the current state of the stack's containers.
//
// # Description
//
// Runs `docker ps -a` filtered by the container name prefix and parses
// the JSON-lines output. Containers outside the prefix are ignored, so a
// shared engine with unrelated workloads does not pollute the report.
func (e *DefaultExecutor) Status(ctx context.Context) (*Status, error) {
	stdout, stderr, exitCode, err := e.proc.Run(ctx, e.config.Engine,
		"ps", "-a",
		"--filter", "name="+e.config.ContainerNamePrefix,
		"--format", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to query container status: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("engine ps exited %d: %s", exitCode, strings.TrimSpace(stderr))
	}

	return e.parseContainerStatus(stdout)
}

// ListVolumes returns the names of volumes labeled with this project.
func (e *DefaultExecutor) ListVolumes(ctx context.Context) ([]string, error) {
	stdout, stderr, exitCode, err := e.proc.Run(ctx, e.config.Engine,
		"volume", "ls",
		"--filter", "label=com.docker.compose.project="+e.config.ProjectName,
		"--format", "{{.Name}}")
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("engine volume ls exited %d: %s", exitCode, strings.TrimSpace(stderr))
	}

	return parseLines(stdout), nil
}

// RemoveVolumes removes exactly the named volumes and nothing else.
//
// # Description
//
// Issues one `docker volume rm` per name so that a single failure does
// not abort the rest. Missing volumes count as already absent. This is
// the only code path in the repository that deletes persistent data.
//
// # Outputs
//
//   - *VolumeRemovalResult: per-volume outcome, always non-nil
//   - error: ErrVolumeRemovalPartial if any removal failed
func (e *DefaultExecutor) RemoveVolumes(ctx context.Context, names []string) (*VolumeRemovalResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &VolumeRemovalResult{}

	for _, name := range names {
		stdout, stderr, exitCode, err := e.proc.Run(ctx, e.config.Engine, "volume", "rm", name)
		_ = stdout
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if exitCode != 0 {
			if strings.Contains(stderr, "no such volume") {
				result.AlreadyAbsent = append(result.AlreadyAbsent, name)
				continue
			}
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", name, strings.TrimSpace(stderr)))
			continue
		}
		result.Removed = append(result.Removed, name)
	}

	if len(result.Errors) > 0 {
		return result, fmt.Errorf("%w: %s", ErrVolumeRemovalPartial, strings.Join(result.Errors, "; "))
	}
	return result, nil
}

// ComposeFiles returns the resolved compose file paths in layering order.
//
// The base file is always included; the override file only when it
// exists on disk.
func (e *DefaultExecutor) ComposeFiles() []string {
	files := []string{filepath.Join(e.config.StackDir, e.config.BaseFile)}

	overridePath := filepath.Join(e.config.StackDir, e.config.OverrideFile)
	if e.fileExists(overridePath) {
		files = append(files, overridePath)
	}

	return files
}

// =============================================================================
// Internal Helpers
// =============================================================================

// buildComposeArgs constructs the compose invocation prefix:
// `compose -p <project> -f <base> [-f <override>] [--env-file <path>]`.
func (e *DefaultExecutor) buildComposeArgs() []string {
	args := []string{"compose", "-p", e.config.ProjectName}
	for _, f := range e.ComposeFiles() {
		args = append(args, "-f", f)
	}
	if e.config.EnvFile != "" {
		if e.fileExists(e.config.EnvFile) {
			args = append(args, "--env-file", e.config.EnvFile)
		} else {
			e.logger.Warn("configured env file not found; services will not receive generated credentials",
				"env_file", e.config.EnvFile)
		}
	}
	return args
}

// runEngine executes the engine with the given args, injected env, and
// timeout, and converts the process result into a *Result.
func (e *DefaultExecutor) runEngine(ctx context.Context, args []string, env map[string]string, timeout time.Duration) (*Result, error) {
	basePath := filepath.Join(e.config.StackDir, e.config.BaseFile)
	if !e.fileExists(basePath) {
		return nil, fmt.Errorf("%w: %s", ErrComposeFileMissing, basePath)
	}
	if _, err := e.proc.LookPath(e.config.Engine); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotFound, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, e.config.StackDir, e.buildCommandEnvironment(env), e.config.Engine, args...)
	duration := time.Since(start)

	result := &Result{
		Success:  err == nil && exitCode == 0,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: duration,
		Command:  e.config.Engine + " " + strings.Join(args, " "),
	}

	e.logger.Debug("engine command finished",
		"command", result.Command,
		"exit_code", exitCode,
		"duration_ms", duration.Milliseconds())
	if stderr != "" {
		// Compose writes progress to stderr too, so this stays at debug.
		e.logger.Debug("engine stderr", "command", result.Command, "stderr", strings.TrimSpace(stderr))
	}

	if err != nil {
		return result, fmt.Errorf("engine command failed: %w", err)
	}
	return result, nil
}

// buildCommandEnvironment converts the env map to KEY=VALUE form.
// Keys were validated earlier; values pass through untouched so generated
// credentials with special characters survive.
func (e *DefaultExecutor) buildCommandEnvironment(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	entries := make([]string, 0, len(env))
	for k, v := range env {
		entries = append(entries, k+"="+v)
	}
	return entries
}

// validateEnvVars checks every key against envVarKeyRegex.
func (e *DefaultExecutor) validateEnvVars(env map[string]string) error {
	for k := range env {
		if !envVarKeyRegex.MatchString(k) {
			return fmt.Errorf("%w: %q", ErrInvalidEnvVar, k)
		}
	}
	return nil
}

// resolveTimeout returns the operation timeout, falling back to the default.
func (e *DefaultExecutor) resolveTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return e.config.DefaultTimeout
}

// fileExists reports whether the path exists using the injected stat func.
func (e *DefaultExecutor) fileExists(path string) bool {
	_, err := e.osStatFunc(path)
	return err == nil
}

// parseLines splits output into trimmed, non-empty lines.
func parseLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// psEntry matches the fields we need from `docker ps --format json` output.
// The engine emits one JSON object per line.
type psEntry struct {
	Names  string `json:"Names"`
	State  string `json:"State"`
	Status string `json:"Status"`
	Image  string `json:"Image"`
}

// parseContainerStatus converts `ps --format json` output into a Status.
func (e *DefaultExecutor) parseContainerStatus(output string) (*Status, error) {
	status := &Status{}

	for _, line := range parseLines(output) {
		var entry psEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("failed to parse container status: %w", err)
		}

		svc := ServiceStatus{
			Name:          strings.TrimPrefix(entry.Names, e.config.ContainerNamePrefix),
			ContainerName: entry.Names,
			State:         entry.State,
			Healthy:       parseHealthStatus(entry.Status),
			Image:         entry.Image,
		}
		status.Services = append(status.Services, svc)

		switch {
		case entry.State == "running" && svc.Healthy != nil && !*svc.Healthy:
			status.Running++
			status.Unhealthy++
		case entry.State == "running":
			status.Running++
		default:
			status.Stopped++
		}
	}

	return status, nil
}

// parseHealthStatus extracts health from a status string like
// "Up 2 minutes (healthy)". Returns nil when no health check is defined.
func parseHealthStatus(statusStr string) *bool {
	s := strings.ToLower(statusStr)
	switch {
	case strings.Contains(s, "(healthy)"):
		v := true
		return &v
	case strings.Contains(s, "(unhealthy)"), strings.Contains(s, "(health: starting)"):
		v := false
		return &v
	default:
		return nil
	}
}

// =============================================================================
// Mock Implementation for Testing
// =============================================================================

// MockExecutor is a test double for Executor.
//
// Configure by setting function fields. Unset fields return zero-value
// successes so tests only wire what they assert on. All invocations are
// recorded in Calls.
type MockExecutor struct {
	UpFunc            func(ctx context.Context, opts UpOptions) (*Result, error)
	StopFunc          func(ctx context.Context, opts StopOptions) (*Result, error)
	DownFunc          func(ctx context.Context, opts DownOptions) (*Result, error)
	RestartFunc       func(ctx context.Context, services []string, timeout time.Duration) (*Result, error)
	LogsFunc          func(ctx context.Context, opts LogsOptions, w io.Writer) error
	StatusFunc        func(ctx context.Context) (*Status, error)
	ListVolumesFunc   func(ctx context.Context) ([]string, error)
	RemoveVolumesFunc func(ctx context.Context, names []string) (*VolumeRemovalResult, error)

	// Calls records method names with the service/volume arguments seen.
	Calls []MockCall

	mu sync.Mutex
}

// MockCall records a single mock invocation.
type MockCall struct {
	Method   string
	Services []string
	Volumes  []string
}

func (m *MockExecutor) record(call MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockExecutor) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Up delegates to UpFunc and records the call.
func (m *MockExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	m.record(MockCall{Method: "Up", Services: opts.Services})
	if m.UpFunc == nil {
		return &Result{Success: true}, nil
	}
	return m.UpFunc(ctx, opts)
}

// Stop delegates to StopFunc and records the call.
func (m *MockExecutor) Stop(ctx context.Context, opts StopOptions) (*Result, error) {
	m.record(MockCall{Method: "Stop", Services: opts.Services})
	if m.StopFunc == nil {
		return &Result{Success: true}, nil
	}
	return m.StopFunc(ctx, opts)
}

// Down delegates to DownFunc and records the call.
func (m *MockExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	m.record(MockCall{Method: "Down"})
	if m.DownFunc == nil {
		return &Result{Success: true}, nil
	}
	return m.DownFunc(ctx, opts)
}

// Restart delegates to RestartFunc and records the call.
func (m *MockExecutor) Restart(ctx context.Context, services []string, timeout time.Duration) (*Result, error) {
	m.record(MockCall{Method: "Restart", Services: services})
	if m.RestartFunc == nil {
		return &Result{Success: true}, nil
	}
	return m.RestartFunc(ctx, services, timeout)
}

// Logs delegates to LogsFunc and records the call.
func (m *MockExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	m.record(MockCall{Method: "Logs", Services: opts.Services})
	if m.LogsFunc == nil {
		return nil
	}
	return m.LogsFunc(ctx, opts, w)
}

// Status delegates to StatusFunc and records the call.
func (m *MockExecutor) Status(ctx context.Context) (*Status, error) {
	m.record(MockCall{Method: "Status"})
	if m.StatusFunc == nil {
		return &Status{}, nil
	}
	return m.StatusFunc(ctx)
}

// ListVolumes delegates to ListVolumesFunc and records the call.
func (m *MockExecutor) ListVolumes(ctx context.Context) ([]string, error) {
	m.record(MockCall{Method: "ListVolumes"})
	if m.ListVolumesFunc == nil {
		return nil, nil
	}
	return m.ListVolumesFunc(ctx)
}

// RemoveVolumes delegates to RemoveVolumesFunc and records the call.
func (m *MockExecutor) RemoveVolumes(ctx context.Context, names []string) (*VolumeRemovalResult, error) {
	m.record(MockCall{Method: "RemoveVolumes", Volumes: names})
	if m.RemoveVolumesFunc == nil {
		return &VolumeRemovalResult{Removed: names}, nil
	}
	return m.RemoveVolumesFunc(ctx, names)
}

// ComposeFiles returns an empty list for the mock.
func (m *MockExecutor) ComposeFiles() []string {
	return nil
}

// Compile-time interface compliance check.
var (
	_ Executor = (*DefaultExecutor)(nil)
	_ Executor = (*MockExecutor)(nil)
)
