package main

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
)

// HealthCheckVersion is the current version of health probe definitions.
// Increment when probe semantics change to enable backwards compatibility.
const HealthCheckVersion = "1.0.0"

// ProbeType specifies the method used to check service health.
//
// # Description
//
// Defines the protocol or mechanism used to determine if a service
// is ready. Each type has different requirements and behaviors.
//
// # Examples
//
//	probeType := ProbeHTTP
//	if probeType == ProbeHTTP {
//	    // Perform HTTP GET request
//	}
//
// # Limitations
//
//   - ProbeTCP only verifies the port is open, not service health
//   - ProbeContainer only verifies the container runs, not readiness
//
// # Assumptions
//
//   - HTTP probes expect the service to respond within timeout
//   - Cmd probes run inside the service's container via the engine
type ProbeType string

const (
	// ProbeHTTP checks health via HTTP GET request.
	// Expects the configured status code (default 200).
	ProbeHTTP ProbeType = "http"

	// ProbeTCP checks health via TCP connection.
	// Only verifies the port is accepting connections.
	ProbeTCP ProbeType = "tcp"

	// ProbeCmd checks health by exec'ing a command in the container.
	// Exit code zero means healthy (pg_isready, rabbitmq-diagnostics ping).
	ProbeCmd ProbeType = "cmd"

	// ProbeContainer checks health via container runtime state.
	// Queries the engine for container running state.
	ProbeContainer ProbeType = "container"
)

// HealthState represents the observed health of a service.
//
// # Description
//
// States advance only forward during a single wait cycle:
//
//	Unknown -> Starting -> {Healthy | Unhealthy} -> TimedOut
//
// TimedOut is assigned only when the polling budget is exhausted before
// the service reaches Healthy. It is an expected outcome, not an error;
// a slow-starting service is not necessarily a failed one, and a later
// wait may still find it Healthy.
//
// # Limitations
//
//   - States don't capture degraded performance
//   - A state is a snapshot; the service may change immediately after
type HealthState string

const (
	// HealthStateUnknown means the service has not been probed yet.
	HealthStateUnknown HealthState = "unknown"

	// HealthStateStarting means the service was probed but is not yet
	// reachable or not yet ready (connection refused, non-zero probe exit).
	HealthStateStarting HealthState = "starting"

	// HealthStateHealthy indicates the service is responding normally.
	HealthStateHealthy HealthState = "healthy"

	// HealthStateUnhealthy indicates the service responded incorrectly
	// (wrong HTTP status, container exited).
	HealthStateUnhealthy HealthState = "unhealthy"

	// HealthStateTimedOut means the polling budget ran out before the
	// service reached Healthy.
	HealthStateTimedOut HealthState = "timed_out"
)

// stateRank orders states for forward-only transitions within a wait
// cycle. A service already observed Healthy never regresses.
func stateRank(s HealthState) int {
	switch s {
	case HealthStateUnknown:
		return 0
	case HealthStateStarting:
		return 1
	case HealthStateUnhealthy:
		return 2
	case HealthStateHealthy:
		return 3
	case HealthStateTimedOut:
		return 4
	default:
		return 0
	}
}

// ServiceProbe describes a service to health check.
//
// # Description
//
// Defines the parameters needed to probe a service, including the probe
// type, endpoint, and criticality. Each probe has a unique ID for
// tracking and correlation.
//
// # Examples
//
//	probe := ServiceProbe{
//	    ID:        GenerateID(),
//	    Name:      "traefik",
//	    Type:      ProbeHTTP,
//	    URL:       "http://localhost:8080/ping",
//	    Critical:  true,
//	    Version:   HealthCheckVersion,
//	    CreatedAt: time.Now(),
//	}
//
// # Limitations
//
//   - URL is required for HTTP probes, Address for TCP probes
//   - Cmd probes require the engine to reach the container
//
// # Assumptions
//
//   - Probe endpoints are accessible from the orchestrator host
//   - Container names are ContainerNamePrefix + Name
type ServiceProbe struct {
	// ID is a unique identifier for this probe definition.
	ID string

	// Name is the compose service name.
	Name string

	// Type specifies how to probe.
	Type ProbeType

	// URL is the health endpoint (for HTTP probes).
	URL string

	// Address is host:port (for TCP probes).
	Address string

	// Cmd is exec'd in the container (for cmd probes). Exit 0 = healthy.
	Cmd []string

	// ContainerName is the container name (derived from prefix when empty).
	ContainerName string

	// Critical marks the service as blocking for its phase.
	// A critical service that times out fails the deployment.
	Critical bool

	// Timeout overrides the default per-probe attempt timeout.
	// Zero means use default.
	Timeout time.Duration

	// ExpectedStatus is the expected HTTP status code (default: 200).
	ExpectedStatus int

	// Version indicates the probe definition version.
	Version string

	// CreatedAt is when this probe was created.
	CreatedAt time.Time
}

// WaitOptions configures WaitForServices behavior.
//
// # Description
//
// Controls the polling budget and cadence for waiting on services.
// Polling runs at a fixed interval; the budget bounds the total wait,
// so a wait never blocks longer than Timeout plus one interval.
//
// # Examples
//
//	opts := DefaultWaitOptions()
//	opts.Timeout = 120 * time.Second // slow cold starts
//	result := checker.WaitForServices(ctx, probes, opts)
//
// # Assumptions
//
//   - Interval > 0 and Timeout > Interval
type WaitOptions struct {
	// ID is a unique identifier for this wait operation.
	ID string

	// Timeout is the overall polling budget per wait (default: 60s).
	Timeout time.Duration

	// Interval is the fixed poll interval (default: 2s).
	Interval time.Duration

	// CreatedAt is when these options were created.
	CreatedAt time.Time
}

// DefaultWaitOptions returns the stock polling parameters: a 60 second
// budget polled every 2 seconds.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		ID:        GenerateID(),
		Timeout:   60 * time.Second,
		Interval:  2 * time.Second,
		CreatedAt: time.Now(),
	}
}

// WaitResult contains the outcome of WaitForServices.
//
// # Description
//
// Provides the final state of every probed service, which critical
// services timed out, and how long the wait took. A timed-out wait is
// reported here, never as an error; callers decide what a TimedOut
// state means for their service.
//
// # Examples
//
//	result := checker.WaitForServices(ctx, probes, opts)
//	for _, name := range result.TimedOutCritical {
//	    fmt.Printf("critical service not ready: %s\n", name)
//	}
type WaitResult struct {
	// ID is a unique identifier for this wait result.
	ID string

	// Success is true if all critical services became healthy.
	Success bool

	// Duration is how long the wait took.
	Duration time.Duration

	// Statuses contains the final status of each service, input order.
	Statuses []ProbeStatus

	// TimedOutCritical contains names of critical services that did not
	// reach Healthy within the budget.
	TimedOutCritical []string

	// TimedOutOptional contains names of non-critical services that did
	// not reach Healthy within the budget. These are warnings only.
	TimedOutOptional []string

	// StartedAt is when the wait operation started.
	StartedAt time.Time

	// CompletedAt is when the wait operation completed.
	CompletedAt time.Time

	// OptionsID references the WaitOptions used.
	OptionsID string
}

// ProbeStatus represents the health of a single service.
//
// # Description
//
// Contains the result of probing one service including state, latency,
// and diagnostic detail. Each status has a unique ID for correlating
// with logs.
//
// # Limitations
//
//   - Point-in-time snapshot; state may change immediately
//   - HTTPStatus only populated for HTTP probes
type ProbeStatus struct {
	// ID is a unique identifier for this status.
	ID string

	// Name is the service name.
	Name string

	// State is the observed health state.
	State HealthState

	// Critical mirrors the probe's criticality for reporting.
	Critical bool

	// Message provides additional context (last error, HTTP code).
	Message string

	// Latency is how long the last probe attempt took.
	Latency time.Duration

	// LastChecked is when the last probe attempt completed.
	LastChecked time.Time

	// HTTPStatus is the HTTP status code (for HTTP probes).
	HTTPStatus int

	// ProbeID references the ServiceProbe checked.
	ProbeID string

	// CheckVersion is the version of the probe that produced this result.
	CheckVersion string
}

// HealthCheckerConfig configures the DefaultHealthChecker.
//
// # Description
//
// Provides configuration for probe behavior including the per-attempt
// timeout, the engine used for container and cmd probes, and the
// container name prefix.
//
// # Examples
//
//	cfg := DefaultHealthCheckerConfig()
//	cfg.PerProbeTimeout = 10 * time.Second
//	checker := NewDefaultHealthChecker(proc, cfg)
type HealthCheckerConfig struct {
	// ID is a unique identifier for this configuration.
	ID string

	// PerProbeTimeout bounds a single probe attempt (default: 5s).
	PerProbeTimeout time.Duration

	// DefaultExpectedStatus is the expected HTTP status (default: 200).
	DefaultExpectedStatus int

	// Engine is the container engine binary for cmd/container probes
	// (default: "docker").
	Engine string

	// ContainerNamePrefix derives container names from service names
	// (default: "aleutian-").
	ContainerNamePrefix string

	// Version indicates the configuration version.
	Version string

	// CreatedAt is when this configuration was created.
	CreatedAt time.Time
}

// DefaultHealthCheckerConfig returns sensible defaults.
func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		ID:                    GenerateID(),
		PerProbeTimeout:       5 * time.Second,
		DefaultExpectedStatus: 200,
		Engine:                "docker",
		ContainerNamePrefix:   "aleutian-",
		Version:               HealthCheckVersion,
		CreatedAt:             time.Now(),
	}
}

// ProbesForServices converts configured services into ServiceProbe values.
//
// # Description
//
// Bridges the config layer's declarative service definitions to runtime
// probes. Services with no probe declared fall back to a container
// running check.
//
// # Inputs
//
//   - services: Service configs from one or more groups.
//
// # Outputs
//
//   - []ServiceProbe: One probe per service, input order preserved.
func ProbesForServices(services []config.ServiceConfig) []ServiceProbe {
	now := time.Now()
	probes := make([]ServiceProbe, 0, len(services))
	for _, svc := range services {
		probe := ServiceProbe{
			ID:             GenerateID(),
			Name:           svc.Name,
			Type:           ProbeType(svc.Health.Type),
			URL:            svc.Health.URL,
			Address:        svc.Health.Address,
			Cmd:            svc.Health.Cmd,
			Critical:       svc.Critical,
			ExpectedStatus: svc.Health.ExpectedStatus,
			Version:        HealthCheckVersion,
			CreatedAt:      now,
		}
		if probe.Type == "" {
			probe.Type = ProbeContainer
		}
		probes = append(probes, probe)
	}
	return probes
}

// GenerateID creates a unique identifier for health check entities.
//
// # Description
//
// Generates a cryptographically random hex string suitable for
// uniquely identifying probe entities (statuses, results,
// configurations, etc.).
//
// # Outputs
//
//   - string: 16-character hex string (8 random bytes)
//
// # Limitations
//
//   - Not a UUID; shorter for readability
//   - Collision probability is low but non-zero for very high volumes
func GenerateID() string {
	b := make([]byte, 8)
	_, err := rand.Read(b)
	if err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000")))[:16]
	}
	return hex.EncodeToString(b)
}
