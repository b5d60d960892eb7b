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
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/process"
)

// =============================================================================
// INTERFACE DEFINITION
// =============================================================================

// HealthChecker polls service health signals for deployment gating.
//
// # Description
//
// The health checker is deliberately incapable of failing: every wait
// resolves each service to Healthy or TimedOut, and timeout is a normal,
// expected outcome that callers must handle explicitly. A slow-starting
// service is not a failed service. Waits are idempotent; calling again
// after a TimedOut result simply resumes polling and may still succeed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type HealthChecker interface {
	// AwaitHealthy polls one service until it reports healthy or the
	// budget elapses.
	//
	// # Description
	//
	// Polls at the fixed interval from DefaultWaitOptions. Returns
	// HealthStateHealthy or HealthStateTimedOut, never an error. The
	// call never blocks longer than timeout plus one poll interval.
	// An externally cancelled context resolves to TimedOut between
	// poll attempts, leaving the service untouched.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation
	//   - probe: The service probe definition
	//   - timeout: Polling budget (zero means the 60s default)
	//
	// # Outputs
	//
	//   - HealthState: HealthStateHealthy or HealthStateTimedOut
	AwaitHealthy(ctx context.Context, probe ServiceProbe, timeout time.Duration) HealthState

	// WaitForServices polls a set of services until all resolve.
	//
	// # Description
	//
	// Probes all services concurrently at a fixed interval with join
	// semantics: the wait completes when every service has reached
	// Healthy, or the budget is exhausted and the stragglers are marked
	// TimedOut. First-healthy does not short-circuit the rest. Success
	// means no critical service timed out.
	//
	// # Outputs
	//
	//   - *WaitResult: Final state of every service, always non-nil
	WaitForServices(ctx context.Context, probes []ServiceProbe, opts WaitOptions) *WaitResult

	// CheckProbe performs a single probe attempt on one service.
	CheckProbe(ctx context.Context, probe ServiceProbe) *ProbeStatus

	// CheckAllProbes probes multiple services concurrently, one attempt
	// each, preserving input order.
	CheckAllProbes(ctx context.Context, probes []ServiceProbe) []ProbeStatus

	// IsContainerRunning checks if a container exists and is running.
	IsContainerRunning(ctx context.Context, containerName string) (bool, error)
}

// HealthHTTPClient abstracts the HTTP client for testability.
type HealthHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrSSRFBlocked is returned when a probe URL targets a blocked IP range.
var ErrSSRFBlocked = fmt.Errorf("URL blocked: potential SSRF attack")

// =============================================================================
// SSRF PROTECTION
// =============================================================================

// isURLSafe validates that a probe URL doesn't target dangerous IP ranges.
//
// # Description
//
// Probe URLs come from user-editable config. Blocks cloud metadata
// endpoints and link-local ranges while allowing localhost, container
// bridge networks, and private ranges where local services actually live.
//
// # Inputs
//
//   - rawURL: URL string to validate
//
// # Outputs
//
//   - error: Non-nil if URL is blocked
func isURLSafe(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}

	// Always allow localhost
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Hostname (not IP) - allow DNS resolution
		return nil
	}

	// Block cloud metadata endpoint (169.254.169.254)
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("%w: cloud metadata endpoint blocked", ErrSSRFBlocked)
	}

	// Block the rest of link-local (169.254.0.0/16)
	linkLocal := net.IPNet{IP: net.ParseIP("169.254.0.0"), Mask: net.CIDRMask(16, 32)}
	if linkLocal.Contains(ip) {
		return fmt.Errorf("%w: link-local address blocked", ErrSSRFBlocked)
	}

	return nil
}

// =============================================================================
// DEFAULT IMPLEMENTATION
// =============================================================================

// DefaultHealthChecker implements HealthChecker against real services.
type DefaultHealthChecker struct {
	proc       process.Manager
	config     HealthCheckerConfig
	httpClient HealthHTTPClient
}

// NewDefaultHealthChecker creates a production health checker.
//
// # Description
//
// Creates a DefaultHealthChecker with the provided process manager and
// configuration. Initializes an HTTP client with the per-probe timeout.
//
// # Inputs
//
//   - proc: process.Manager for engine exec/inspect commands.
//   - config: Configuration for timeouts and defaults.
//
// # Outputs
//
//   - *DefaultHealthChecker: Configured health checker ready for use.
//
// # Examples
//
//	proc := process.NewDefaultManager()
//	checker := NewDefaultHealthChecker(proc, DefaultHealthCheckerConfig())
func NewDefaultHealthChecker(proc process.Manager, config HealthCheckerConfig) *DefaultHealthChecker {
	return &DefaultHealthChecker{
		proc:   proc,
		config: config,
		httpClient: &http.Client{
			Timeout: config.PerProbeTimeout,
		},
	}
}

// NewDefaultHealthCheckerWithHTTPClient creates a checker with an injected
// HTTP client. Used by tests to avoid real network calls.
func NewDefaultHealthCheckerWithHTTPClient(proc process.Manager, config HealthCheckerConfig, httpClient HealthHTTPClient) *DefaultHealthChecker {
	return &DefaultHealthChecker{
		proc:       proc,
		config:     config,
		httpClient: httpClient,
	}
}

// AwaitHealthy polls one service until it reports healthy or the budget elapses.
func (h *DefaultHealthChecker) AwaitHealthy(ctx context.Context, probe ServiceProbe, timeout time.Duration) HealthState {
	opts := DefaultWaitOptions()
	if timeout > 0 {
		opts.Timeout = timeout
	}
	result := h.WaitForServices(ctx, []ServiceProbe{probe}, opts)
	if result.Success && len(result.Statuses) == 1 && result.Statuses[0].State == HealthStateHealthy {
		return HealthStateHealthy
	}
	return HealthStateTimedOut
}

// WaitForServices polls a set of services until all resolve.
func (h *DefaultHealthChecker) WaitForServices(ctx context.Context, probes []ServiceProbe, opts WaitOptions) *WaitResult {
	startTime := time.Now()
	result := &WaitResult{
		ID:        GenerateID(),
		StartedAt: startTime,
		OptionsID: opts.ID,
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	// states advance forward only; a service observed Healthy stays Healthy
	// for the remainder of this wait even if a later attempt flakes.
	states := make(map[string]ProbeStatus, len(probes))
	for _, p := range probes {
		states[p.Name] = ProbeStatus{
			ID:           GenerateID(),
			Name:         p.Name,
			State:        HealthStateUnknown,
			Critical:     p.Critical,
			ProbeID:      p.ID,
			CheckVersion: p.Version,
		}
	}

	for {
		if timeoutCtx.Err() != nil {
			return h.buildTimeoutResult(result, probes, states, startTime)
		}

		statuses := h.CheckAllProbes(timeoutCtx, h.pendingProbes(probes, states))
		mergeStatuses(states, statuses)

		if h.allHealthy(probes, states) {
			return h.buildSuccessResult(result, probes, states, startTime)
		}

		// Context-aware sleep so Ctrl+C stops cleanly between attempts.
		sleepWithContext(timeoutCtx, opts.Interval)
	}
}

// CheckProbe performs a single probe attempt on one service.
//
// # Description
//
// One attempt, no retries. Delegates to the type-specific probe method.
// Failures are expressed through the returned state, never an error.
//
// # Outputs
//
//   - *ProbeStatus: Always non-nil, state reflects the attempt.
func (h *DefaultHealthChecker) CheckProbe(ctx context.Context, probe ServiceProbe) *ProbeStatus {
	startTime := time.Now()
	status := &ProbeStatus{
		ID:           GenerateID(),
		Name:         probe.Name,
		Critical:     probe.Critical,
		ProbeID:      probe.ID,
		CheckVersion: probe.Version,
		LastChecked:  startTime,
	}

	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = h.config.PerProbeTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch probe.Type {
	case ProbeHTTP:
		h.performHTTPProbe(checkCtx, probe, status)
	case ProbeTCP:
		h.performTCPProbe(checkCtx, probe, status)
	case ProbeCmd:
		h.performCmdProbe(checkCtx, probe, status)
	case ProbeContainer:
		h.performContainerProbe(checkCtx, probe, status)
	default:
		status.State = HealthStateUnhealthy
		status.Message = fmt.Sprintf("unknown probe type: %s", probe.Type)
	}

	status.Latency = time.Since(startTime)
	status.LastChecked = time.Now()

	return status
}

// CheckAllProbes probes multiple services concurrently.
func (h *DefaultHealthChecker) CheckAllProbes(ctx context.Context, probes []ServiceProbe) []ProbeStatus {
	if len(probes) == 0 {
		return []ProbeStatus{}
	}

	results := make([]ProbeStatus, len(probes))
	var wg sync.WaitGroup

	for i, p := range probes {
		wg.Add(1)
		go func(idx int, probe ServiceProbe) {
			defer wg.Done()
			results[idx] = *h.CheckProbe(ctx, probe)
		}(i, p)
	}

	wg.Wait()
	return results
}

// IsContainerRunning checks if a container exists and is running.
//
// # Description
//
// Queries the engine to determine if the specified container is running.
//
// # Limitations
//
//   - Only checks running state
//   - Requires the engine CLI
func (h *DefaultHealthChecker) IsContainerRunning(ctx context.Context, containerName string) (bool, error) {
	stdout, _, _, err := h.proc.Run(ctx, h.config.Engine, "inspect", "--format", "{{.State.Running}}", containerName)
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(stdout) == "true", nil
}

// =============================================================================
// PRIVATE HELPER METHODS
// =============================================================================

// pendingProbes returns the probes whose service is not yet Healthy.
// Already-healthy services are not re-probed within a wait cycle.
func (h *DefaultHealthChecker) pendingProbes(probes []ServiceProbe, states map[string]ProbeStatus) []ServiceProbe {
	var pending []ServiceProbe
	for _, p := range probes {
		if states[p.Name].State != HealthStateHealthy {
			pending = append(pending, p)
		}
	}
	return pending
}

// mergeStatuses folds one round of attempt results into the state map,
// advancing states forward only.
func mergeStatuses(states map[string]ProbeStatus, statuses []ProbeStatus) {
	for _, s := range statuses {
		current, ok := states[s.Name]
		if !ok {
			states[s.Name] = s
			continue
		}
		if stateRank(s.State) >= stateRank(current.State) {
			s.Critical = current.Critical
			states[s.Name] = s
		}
	}
}

// allHealthy reports whether every probed service has reached Healthy.
func (h *DefaultHealthChecker) allHealthy(probes []ServiceProbe, states map[string]ProbeStatus) bool {
	for _, p := range probes {
		if states[p.Name].State != HealthStateHealthy {
			return false
		}
	}
	return true
}

// buildSuccessResult finalizes a wait where every service became healthy.
func (h *DefaultHealthChecker) buildSuccessResult(result *WaitResult, probes []ServiceProbe, states map[string]ProbeStatus, startTime time.Time) *WaitResult {
	result.Success = true
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(startTime)
	for _, p := range probes {
		result.Statuses = append(result.Statuses, states[p.Name])
	}
	return result
}

// buildTimeoutResult finalizes a wait whose budget ran out. Every service
// that did not reach Healthy is marked TimedOut; criticality decides
// whether the result counts as success.
func (h *DefaultHealthChecker) buildTimeoutResult(result *WaitResult, probes []ServiceProbe, states map[string]ProbeStatus, startTime time.Time) *WaitResult {
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(startTime)
	result.Success = true

	for _, p := range probes {
		status := states[p.Name]
		if status.State != HealthStateHealthy {
			if status.Message == "" {
				status.Message = "did not become healthy within the polling budget"
			}
			status.State = HealthStateTimedOut
			if p.Critical {
				result.TimedOutCritical = append(result.TimedOutCritical, p.Name)
				result.Success = false
			} else {
				result.TimedOutOptional = append(result.TimedOutOptional, p.Name)
			}
		}
		result.Statuses = append(result.Statuses, status)
	}
	return result
}

// sleepWithContext sleeps for duration or until context is done.
func sleepWithContext(ctx context.Context, duration time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}
}

// =============================================================================
// PROBE TYPE METHODS
// =============================================================================

// performHTTPProbe sends HTTP GET to the probe URL and checks the status code.
//
// # Limitations
//
//   - GET only; no body inspection
func (h *DefaultHealthChecker) performHTTPProbe(ctx context.Context, probe ServiceProbe, status *ProbeStatus) {
	if probe.URL == "" {
		status.State = HealthStateUnhealthy
		status.Message = "no URL configured for HTTP probe"
		return
	}

	// SSRF protection: validate URL before making request
	if err := isURLSafe(probe.URL); err != nil {
		status.State = HealthStateUnhealthy
		status.Message = fmt.Sprintf("blocked: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe.URL, nil)
	if err != nil {
		status.State = HealthStateUnhealthy
		status.Message = fmt.Sprintf("failed to create request: %v", err)
		return
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		// Connection refused while the container boots: still starting.
		status.State = HealthStateStarting
		status.Message = fmt.Sprintf("request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	status.HTTPStatus = resp.StatusCode

	expectedStatus := h.config.DefaultExpectedStatus
	if probe.ExpectedStatus > 0 {
		expectedStatus = probe.ExpectedStatus
	}

	if resp.StatusCode == expectedStatus {
		status.State = HealthStateHealthy
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	} else {
		status.State = HealthStateUnhealthy
		status.Message = fmt.Sprintf("HTTP %d (expected %d)", resp.StatusCode, expectedStatus)
	}
}

// performTCPProbe attempts a TCP connection to the probe address.
func (h *DefaultHealthChecker) performTCPProbe(ctx context.Context, probe ServiceProbe, status *ProbeStatus) {
	if probe.Address == "" {
		status.State = HealthStateUnhealthy
		status.Message = "no address configured for TCP probe"
		return
	}

	if err := isURLSafe("tcp://" + probe.Address); err != nil {
		status.State = HealthStateUnhealthy
		status.Message = fmt.Sprintf("blocked: %v", err)
		return
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", probe.Address)
	if err != nil {
		status.State = HealthStateStarting
		status.Message = fmt.Sprintf("TCP connection failed: %v", err)
		return
	}
	defer conn.Close()

	status.State = HealthStateHealthy
	status.Message = "TCP port open"
}

// performCmdProbe execs the probe command inside the service's container.
// Exit code zero means healthy; non-zero means the service is still
// starting (pg_isready and rabbitmq-diagnostics both behave this way).
func (h *DefaultHealthChecker) performCmdProbe(ctx context.Context, probe ServiceProbe, status *ProbeStatus) {
	if len(probe.Cmd) == 0 {
		status.State = HealthStateUnhealthy
		status.Message = "no command configured for cmd probe"
		return
	}

	args := append([]string{"exec", h.containerName(probe)}, probe.Cmd...)
	_, stderr, exitCode, err := h.proc.Run(ctx, h.config.Engine, args...)
	if err != nil {
		status.State = HealthStateStarting
		status.Message = fmt.Sprintf("exec failed: %v", err)
		return
	}
	if exitCode == 0 {
		status.State = HealthStateHealthy
		status.Message = "probe command succeeded"
	} else {
		status.State = HealthStateStarting
		status.Message = fmt.Sprintf("probe command exited %d: %s", exitCode, strings.TrimSpace(stderr))
	}
}

// performContainerProbe checks container running state via the engine.
func (h *DefaultHealthChecker) performContainerProbe(ctx context.Context, probe ServiceProbe, status *ProbeStatus) {
	running, err := h.IsContainerRunning(ctx, h.containerName(probe))
	if err != nil {
		status.State = HealthStateStarting
		status.Message = fmt.Sprintf("failed to check container: %v", err)
		return
	}

	if running {
		status.State = HealthStateHealthy
		status.Message = "container running"
	} else {
		status.State = HealthStateStarting
		status.Message = "container not running"
	}
}

// containerName resolves the container name, deriving it from the
// configured prefix when the probe doesn't set one.
func (h *DefaultHealthChecker) containerName(probe ServiceProbe) string {
	if probe.ContainerName != "" {
		return probe.ContainerName
	}
	return h.config.ContainerNamePrefix + probe.Name
}

// =============================================================================
// MOCK IMPLEMENTATION FOR TESTING
// =============================================================================

// MockHealthChecker is a test double for HealthChecker.
//
// Configure by setting function fields. Unset fields return all-healthy
// results. All invocations are recorded for verification.
type MockHealthChecker struct {
	AwaitHealthyFunc       func(ctx context.Context, probe ServiceProbe, timeout time.Duration) HealthState
	WaitForServicesFunc    func(ctx context.Context, probes []ServiceProbe, opts WaitOptions) *WaitResult
	CheckProbeFunc         func(ctx context.Context, probe ServiceProbe) *ProbeStatus
	CheckAllProbesFunc     func(ctx context.Context, probes []ServiceProbe) []ProbeStatus
	IsContainerRunningFunc func(ctx context.Context, containerName string) (bool, error)

	// WaitCalls records every WaitForServices invocation.
	WaitCalls []WaitForServicesCall

	mu sync.Mutex
}

// WaitForServicesCall records a single WaitForServices invocation.
type WaitForServicesCall struct {
	ServiceNames []string
	Options      WaitOptions
}

// AwaitHealthy delegates to AwaitHealthyFunc.
func (m *MockHealthChecker) AwaitHealthy(ctx context.Context, probe ServiceProbe, timeout time.Duration) HealthState {
	if m.AwaitHealthyFunc != nil {
		return m.AwaitHealthyFunc(ctx, probe, timeout)
	}
	return HealthStateHealthy
}

// WaitForServices delegates to WaitForServicesFunc and records the call.
func (m *MockHealthChecker) WaitForServices(ctx context.Context, probes []ServiceProbe, opts WaitOptions) *WaitResult {
	names := make([]string, 0, len(probes))
	for _, p := range probes {
		names = append(names, p.Name)
	}
	m.mu.Lock()
	m.WaitCalls = append(m.WaitCalls, WaitForServicesCall{ServiceNames: names, Options: opts})
	m.mu.Unlock()

	if m.WaitForServicesFunc != nil {
		return m.WaitForServicesFunc(ctx, probes, opts)
	}

	result := &WaitResult{ID: GenerateID(), Success: true, StartedAt: time.Now(), CompletedAt: time.Now()}
	for _, p := range probes {
		result.Statuses = append(result.Statuses, ProbeStatus{
			ID: GenerateID(), Name: p.Name, State: HealthStateHealthy, Critical: p.Critical,
		})
	}
	return result
}

// CheckProbe delegates to CheckProbeFunc.
func (m *MockHealthChecker) CheckProbe(ctx context.Context, probe ServiceProbe) *ProbeStatus {
	if m.CheckProbeFunc != nil {
		return m.CheckProbeFunc(ctx, probe)
	}
	return &ProbeStatus{ID: GenerateID(), Name: probe.Name, State: HealthStateHealthy}
}

// CheckAllProbes delegates to CheckAllProbesFunc.
func (m *MockHealthChecker) CheckAllProbes(ctx context.Context, probes []ServiceProbe) []ProbeStatus {
	if m.CheckAllProbesFunc != nil {
		return m.CheckAllProbesFunc(ctx, probes)
	}
	statuses := make([]ProbeStatus, 0, len(probes))
	for _, p := range probes {
		statuses = append(statuses, ProbeStatus{ID: GenerateID(), Name: p.Name, State: HealthStateHealthy})
	}
	return statuses
}

// IsContainerRunning delegates to IsContainerRunningFunc.
func (m *MockHealthChecker) IsContainerRunning(ctx context.Context, containerName string) (bool, error) {
	if m.IsContainerRunningFunc != nil {
		return m.IsContainerRunningFunc(ctx, containerName)
	}
	return true, nil
}

// GetWaitCalls returns a copy of recorded WaitForServices calls.
func (m *MockHealthChecker) GetWaitCalls() []WaitForServicesCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]WaitForServicesCall, len(m.WaitCalls))
	copy(result, m.WaitCalls)
	return result
}

// Compile-time interface compliance check.
var (
	_ HealthChecker = (*DefaultHealthChecker)(nil)
	_ HealthChecker = (*MockHealthChecker)(nil)
)
