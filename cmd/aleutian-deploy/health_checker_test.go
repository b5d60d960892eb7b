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
Package main provides tests for HealthChecker.

This file contains:
  - stubHTTPClient: A configurable HTTP client for probe tests
  - Unit tests for single probe attempts per probe type
  - Wait loop tests covering timeouts, criticality, and state transitions
*/
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/process"
)

// stubHTTPClient returns canned responses keyed by URL.
type stubHTTPClient struct {
	mu    sync.Mutex
	calls map[string]int

	// DoFunc computes the response; callCount is 1 for the first attempt
	// against that URL.
	DoFunc func(url string, callCount int) (*http.Response, error)
}

func (c *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[req.URL.String()]++
	count := c.calls[req.URL.String()]
	c.mu.Unlock()
	return c.DoFunc(req.URL.String(), count)
}

func (c *stubHTTPClient) callCount(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[url]
}

func httpOK() (*http.Response, error) {
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func httpStatus(code int) (*http.Response, error) {
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func createTestHealthChecker(client *stubHTTPClient) *DefaultHealthChecker {
	return NewDefaultHealthCheckerWithHTTPClient(
		&process.MockManager{}, DefaultHealthCheckerConfig(), client)
}

func TestDefaultHealthChecker_CheckProbe(t *testing.T) {
	t.Parallel()

	t.Run("http probe healthy on expected status", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			return httpOK()
		}}
		checker := createTestHealthChecker(client)

		status := checker.CheckProbe(context.Background(), ServiceProbe{
			Name: "traefik", Type: ProbeHTTP, URL: "http://localhost:8080/ping",
		})
		if status.State != HealthStateHealthy {
			t.Errorf("state = %s, want healthy", status.State)
		}
		if status.HTTPStatus != 200 {
			t.Errorf("HTTPStatus = %d, want 200", status.HTTPStatus)
		}
	})

	t.Run("http probe unhealthy on wrong status", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			return httpStatus(500)
		}}
		checker := createTestHealthChecker(client)

		status := checker.CheckProbe(context.Background(), ServiceProbe{
			Name: "grafana", Type: ProbeHTTP, URL: "http://localhost:3000/api/health",
		})
		if status.State != HealthStateUnhealthy {
			t.Errorf("state = %s, want unhealthy", status.State)
		}
	})

	t.Run("http probe honors custom expected status", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			return httpStatus(401)
		}}
		checker := createTestHealthChecker(client)

		status := checker.CheckProbe(context.Background(), ServiceProbe{
			Name: "authelia", Type: ProbeHTTP,
			URL: "http://localhost:9091/api/health", ExpectedStatus: 401,
		})
		if status.State != HealthStateHealthy {
			t.Errorf("state = %s, want healthy for expected 401", status.State)
		}
	})

	t.Run("http probe starting while connection refused", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}}
		checker := createTestHealthChecker(client)

		status := checker.CheckProbe(context.Background(), ServiceProbe{
			Name: "qdrant", Type: ProbeHTTP, URL: "http://localhost:6333/healthz",
		})
		if status.State != HealthStateStarting {
			t.Errorf("state = %s, want starting", status.State)
		}
	})

	t.Run("http probe blocks metadata endpoint", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			t.Error("request should never be sent")
			return httpOK()
		}}
		checker := createTestHealthChecker(client)

		status := checker.CheckProbe(context.Background(), ServiceProbe{
			Name: "evil", Type: ProbeHTTP, URL: "http://169.254.169.254/latest/meta-data/",
		})
		if status.State != HealthStateUnhealthy {
			t.Errorf("state = %s, want unhealthy for blocked URL", status.State)
		}
	})

	t.Run("cmd probe healthy on exit zero", func(t *testing.T) {
		proc := &process.MockManager{
			RunFunc: func(ctx context.Context, name string, args ...string) (string, string, int, error) {
				return "accepting connections", "", 0, nil
			},
		}
		checker := NewDefaultHealthCheckerWithHTTPClient(proc, DefaultHealthCheckerConfig(), nil)

		status := checker.CheckProbe(context.Background(), ServiceProbe{
			Name: "postgres", Type: ProbeCmd, Cmd: []string{"pg_isready", "-U", "postgres"},
		})
		if status.State != HealthStateHealthy {
			t.Errorf("state = %s, want healthy", status.State)
		}

		calls := proc.GetCalls()
		if len(calls) != 1 {
			t.Fatalf("got %d engine calls, want 1", len(calls))
		}
		if calls[0].Args[0] != "exec" || calls[0].Args[1] != "aleutian-postgres" {
			t.Errorf("unexpected exec args: %v", calls[0].Args)
		}
	})

	t.Run("cmd probe starting on non-zero exit", func(t *testing.T) {
		proc := &process.MockManager{
			RunFunc: func(ctx context.Context, name string, args ...string) (string, string, int, error) {
				return "", "no response", 1, nil
			},
		}
		checker := NewDefaultHealthCheckerWithHTTPClient(proc, DefaultHealthCheckerConfig(), nil)

		status := checker.CheckProbe(context.Background(), ServiceProbe{
			Name: "rabbitmq", Type: ProbeCmd, Cmd: []string{"rabbitmq-diagnostics", "ping"},
		})
		if status.State != HealthStateStarting {
			t.Errorf("state = %s, want starting", status.State)
		}
	})

	t.Run("container probe reflects running state", func(t *testing.T) {
		proc := &process.MockManager{
			RunFunc: func(ctx context.Context, name string, args ...string) (string, string, int, error) {
				return "true\n", "", 0, nil
			},
		}
		checker := NewDefaultHealthCheckerWithHTTPClient(proc, DefaultHealthCheckerConfig(), nil)

		status := checker.CheckProbe(context.Background(), ServiceProbe{
			Name: "watchtower", Type: ProbeContainer,
		})
		if status.State != HealthStateHealthy {
			t.Errorf("state = %s, want healthy", status.State)
		}
	})

	t.Run("unknown probe type is unhealthy", func(t *testing.T) {
		checker := createTestHealthChecker(&stubHTTPClient{})

		status := checker.CheckProbe(context.Background(), ServiceProbe{
			Name: "odd", Type: ProbeType("carrier-pigeon"),
		})
		if status.State != HealthStateUnhealthy {
			t.Errorf("state = %s, want unhealthy", status.State)
		}
	})
}

func TestDefaultHealthChecker_WaitForServices(t *testing.T) {
	t.Parallel()

	shortOpts := WaitOptions{Timeout: 200 * time.Millisecond, Interval: 20 * time.Millisecond}

	t.Run("succeeds when all services are healthy", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			return httpOK()
		}}
		checker := createTestHealthChecker(client)

		probes := []ServiceProbe{
			{Name: "traefik", Type: ProbeHTTP, URL: "http://localhost:8080/ping", Critical: true},
			{Name: "qdrant", Type: ProbeHTTP, URL: "http://localhost:6333/healthz"},
		}
		result := checker.WaitForServices(context.Background(), probes, shortOpts)
		if !result.Success {
			t.Fatal("expected success")
		}
		if len(result.Statuses) != 2 {
			t.Fatalf("got %d statuses, want 2", len(result.Statuses))
		}
		for _, s := range result.Statuses {
			if s.State != HealthStateHealthy {
				t.Errorf("%s state = %s, want healthy", s.Name, s.State)
			}
		}
	})

	t.Run("critical timeout fails the wait", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			if strings.Contains(url, "6333") {
				return httpOK()
			}
			return nil, errors.New("connection refused")
		}}
		checker := createTestHealthChecker(client)

		probes := []ServiceProbe{
			{Name: "postgres", Type: ProbeHTTP, URL: "http://localhost:5432/", Critical: true},
			{Name: "qdrant", Type: ProbeHTTP, URL: "http://localhost:6333/healthz"},
		}
		result := checker.WaitForServices(context.Background(), probes, shortOpts)
		if result.Success {
			t.Error("expected failure for critical timeout")
		}
		if len(result.TimedOutCritical) != 1 || result.TimedOutCritical[0] != "postgres" {
			t.Errorf("TimedOutCritical = %v, want [postgres]", result.TimedOutCritical)
		}
	})

	t.Run("non-critical timeout is only a warning", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			if strings.Contains(url, "11434") {
				return nil, errors.New("connection refused")
			}
			return httpOK()
		}}
		checker := createTestHealthChecker(client)

		probes := []ServiceProbe{
			{Name: "traefik", Type: ProbeHTTP, URL: "http://localhost:8080/ping", Critical: true},
			{Name: "ollama", Type: ProbeHTTP, URL: "http://localhost:11434/api/version"},
		}
		result := checker.WaitForServices(context.Background(), probes, shortOpts)
		if !result.Success {
			t.Error("non-critical timeout must not fail the wait")
		}
		if len(result.TimedOutOptional) != 1 || result.TimedOutOptional[0] != "ollama" {
			t.Errorf("TimedOutOptional = %v, want [ollama]", result.TimedOutOptional)
		}
	})

	t.Run("does not block much past the budget", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}}
		checker := createTestHealthChecker(client)

		opts := WaitOptions{Timeout: 100 * time.Millisecond, Interval: 20 * time.Millisecond}
		start := time.Now()
		checker.WaitForServices(context.Background(), []ServiceProbe{
			{Name: "stuck", Type: ProbeHTTP, URL: "http://localhost:9999/"},
		}, opts)
		elapsed := time.Since(start)

		// Bounded by timeout plus one poll interval, with scheduling slack.
		if elapsed > opts.Timeout+opts.Interval+100*time.Millisecond {
			t.Errorf("wait took %s, budget was %s", elapsed, opts.Timeout)
		}
	})

	t.Run("healthy services are not re-probed", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			if strings.Contains(url, "8080") {
				return httpOK()
			}
			if n >= 3 {
				return httpOK()
			}
			return nil, errors.New("connection refused")
		}}
		checker := createTestHealthChecker(client)

		probes := []ServiceProbe{
			{Name: "traefik", Type: ProbeHTTP, URL: "http://localhost:8080/ping"},
			{Name: "grafana", Type: ProbeHTTP, URL: "http://localhost:3000/api/health"},
		}
		result := checker.WaitForServices(context.Background(), probes, shortOpts)
		if !result.Success {
			t.Fatal("expected eventual success")
		}
		if got := client.callCount("http://localhost:8080/ping"); got != 1 {
			t.Errorf("healthy service probed %d times, want 1", got)
		}
	})

	t.Run("resumes cleanly on a second wait", func(t *testing.T) {
		var up atomic.Bool
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			if up.Load() {
				return httpOK()
			}
			return nil, errors.New("connection refused")
		}}
		checker := createTestHealthChecker(client)
		probe := ServiceProbe{Name: "loki", Type: ProbeHTTP, URL: "http://localhost:3100/ready"}

		first := checker.WaitForServices(context.Background(),
			[]ServiceProbe{probe}, WaitOptions{Timeout: 10 * time.Millisecond, Interval: 5 * time.Millisecond})
		up.Store(true)
		second := checker.WaitForServices(context.Background(), []ServiceProbe{probe}, shortOpts)

		if len(first.TimedOutOptional) != 1 {
			t.Errorf("first wait should have timed out, got %+v", first.TimedOutOptional)
		}
		if !second.Success {
			t.Error("second wait should succeed once the service is up")
		}
	})
}

func TestDefaultHealthChecker_AwaitHealthy(t *testing.T) {
	t.Parallel()

	t.Run("returns healthy", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			return httpOK()
		}}
		checker := createTestHealthChecker(client)

		state := checker.AwaitHealthy(context.Background(), ServiceProbe{
			Name: "traefik", Type: ProbeHTTP, URL: "http://localhost:8080/ping",
		}, 200*time.Millisecond)
		if state != HealthStateHealthy {
			t.Errorf("state = %s, want healthy", state)
		}
	})

	t.Run("returns timed out, never an error", func(t *testing.T) {
		client := &stubHTTPClient{DoFunc: func(url string, n int) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}}
		checker := createTestHealthChecker(client)

		state := checker.AwaitHealthy(context.Background(), ServiceProbe{
			Name: "slow", Type: ProbeHTTP, URL: "http://localhost:9999/",
		}, 50*time.Millisecond)
		if state != HealthStateTimedOut {
			t.Errorf("state = %s, want timed_out", state)
		}
	})
}

func TestMergeStatuses_ForwardOnly(t *testing.T) {
	t.Parallel()

	states := map[string]ProbeStatus{
		"postgres": {Name: "postgres", State: HealthStateHealthy, Critical: true},
	}
	mergeStatuses(states, []ProbeStatus{
		{Name: "postgres", State: HealthStateStarting},
	})

	if states["postgres"].State != HealthStateHealthy {
		t.Error("healthy state regressed to starting")
	}
	if !states["postgres"].Critical {
		t.Error("criticality flag lost during merge")
	}
}

func TestIsURLSafe(t *testing.T) {
	t.Parallel()

	safe := []string{
		"http://localhost:8080/ping",
		"http://127.0.0.1:3000/api/health",
		"http://grafana:3000/api/health",
	}
	for _, url := range safe {
		if err := isURLSafe(url); err != nil {
			t.Errorf("isURLSafe(%q) = %v, want nil", url, err)
		}
	}

	blocked := []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://169.254.1.1/",
	}
	for _, url := range blocked {
		if err := isURLSafe(url); !errors.Is(err, ErrSSRFBlocked) {
			t.Errorf("isURLSafe(%q) = %v, want ErrSSRFBlocked", url, err)
		}
	}
}

func TestProbesForServices_Defaults(t *testing.T) {
	t.Parallel()

	probes := ProbesForServices([]config.ServiceConfig{
		{Name: "portainer"},
	})
	if len(probes) != 1 {
		t.Fatalf("got %d probes, want 1", len(probes))
	}
	if probes[0].Type != ProbeContainer {
		t.Errorf("probe type = %s, want container fallback", probes[0].Type)
	}
}
