// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager handles external process operations.
//
// This interface abstracts all interaction with the operating system's process
// management, enabling testable code that doesn't require real process
// execution. The deployment orchestrator never calls exec.Command directly;
// every container-engine invocation goes through a Manager.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// All methods accept a context.Context for cancellation and timeout support.
// Long-running processes must respect context cancellation.
type Manager interface {
	// Run executes a command synchronously and returns its output.
	//
	// # Description
	//
	// Executes the specified command with arguments and waits for completion.
	// Stdout and stderr are captured separately; the exit code is always
	// reported, including for non-zero exits.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - string: Captured stdout
	//   - string: Captured stderr
	//   - int: Process exit code (-1 if the process never ran)
	//   - error: Non-nil if the command fails to start or is cancelled;
	//     a non-zero exit alone is NOT an error, callers inspect the code
	//
	// # Examples
	//
	//   stdout, stderr, code, err := proc.Run(ctx, "docker", "volume", "ls")
	//   if err != nil {
	//       return fmt.Errorf("failed to list volumes: %w", err)
	//   }
	//
	// # Limitations
	//
	//   - Large output may consume significant memory
	Run(ctx context.Context, name string, args ...string) (string, string, int, error)

	// RunInDir executes a command in a working directory with extra environment.
	//
	// # Description
	//
	// Like Run, but sets the working directory and appends the provided
	// environment entries to the inherited environment. Used by the compose
	// executor, which must run from the stack directory so relative paths in
	// compose files resolve, and which injects generated credentials through
	// the environment rather than the command line.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - dir: Working directory ("" inherits the current directory)
	//   - env: Extra environment entries in KEY=VALUE form (nil for none)
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - string: Captured stdout
	//   - string: Captured stderr
	//   - int: Process exit code (-1 if the process never ran)
	//   - error: Non-nil if the command fails to start or is cancelled
	//
	// # Limitations
	//
	//   - env entries are not validated here; callers sanitize keys
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)

	// RunStreaming executes a command with its output wired to a writer.
	//
	// # Description
	//
	// Unlike Run/RunInDir, nothing is buffered: stdout and stderr are
	// attached directly to w, so the caller sees output as the process
	// produces it. Required for commands that never exit on their own,
	// such as `compose logs -f`, where buffered capture would show the
	// user nothing.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - dir: Working directory ("" inherits the current directory)
	//   - w: Destination for both stdout and stderr
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - error: Non-nil if the command fails to start, exits non-zero,
	//     or the context is cancelled. Cancellation errors wrap ctx.Err()
	//     so callers can treat an interrupted follow as a clean stop.
	RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error

	// LookPath reports whether an executable is available on PATH.
	//
	// # Description
	//
	// Wraps exec.LookPath so availability checks (is the container engine
	// installed at all?) are mockable in tests.
	//
	// # Outputs
	//
	//   - string: Resolved absolute path
	//   - error: Non-nil if the executable is not found
	LookPath(name string) (string, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec.
//
// This is the production implementation that executes real processes on the
// system. Use MockManager in tests instead.
type DefaultManager struct{}

// NewDefaultManager creates a new DefaultManager.
//
// # Description
//
// Creates a Manager that executes real processes using os/exec.
// This should be used in production code.
//
// # Outputs
//
//   - *DefaultManager: Ready-to-use process manager
//
// # Examples
//
//	proc := NewDefaultManager()
//	stdout, _, _, err := proc.Run(ctx, "docker", "version")
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes a command synchronously and returns its output.
func (m *DefaultManager) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	return m.RunInDir(ctx, "", nil, name, args...)
}

// RunInDir executes a command in a working directory with extra environment.
func (m *DefaultManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is reported through the exit code, not the error.
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return stdout.String(), stderr.String(), -1, fmt.Errorf("command %s cancelled: %w", name, ctx.Err())
		}
		return stdout.String(), stderr.String(), -1, fmt.Errorf("failed to run %s: %w", name, err)
	}

	return stdout.String(), stderr.String(), 0, nil
}

// RunStreaming executes a command with its output wired to a writer.
func (m *DefaultManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("command %s cancelled: %w", name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command %s exited %d", name, exitErr.ExitCode())
		}
		return fmt.Errorf("failed to run %s: %w", name, err)
	}
	return nil
}

// LookPath reports whether an executable is available on PATH.
func (m *DefaultManager) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found on PATH: %w", name, err)
	}
	return path, nil
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// Configure the mock by setting function fields before use. If a function
// field is nil and the corresponding method is called, it will panic.
//
// # Examples
//
//	mock := &MockManager{
//	    RunFunc: func(ctx context.Context, name string, args ...string) (string, string, int, error) {
//	        if name == "docker" && args[0] == "version" {
//	            return "Docker version 27.0.0", "", 0, nil
//	        }
//	        return "", "", 1, fmt.Errorf("unexpected command: %s", name)
//	    },
//	}
type MockManager struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, name string, args ...string) (string, string, int, error)

	// RunInDirFunc is called when RunInDir is invoked
	RunInDirFunc func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)

	// RunStreamingFunc is called when RunStreaming is invoked
	RunStreamingFunc func(ctx context.Context, dir string, w io.Writer, name string, args ...string) error

	// LookPathFunc is called when LookPath is invoked.
	// If nil, LookPath succeeds and echoes the name back.
	LookPathFunc func(name string) (string, error)

	// Calls records all method invocations for verification
	Calls []ManagerCall

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// ManagerCall records a single method invocation.
type ManagerCall struct {
	Method string
	Dir    string
	Env    []string
	Name   string
	Args   []string
}

// Run delegates to RunFunc and records the call.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	m.record(ManagerCall{Method: "Run", Name: name, Args: args})
	if m.RunFunc == nil {
		panic("MockManager.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// RunInDir delegates to RunInDirFunc and records the call.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.record(ManagerCall{Method: "RunInDir", Dir: dir, Env: env, Name: name, Args: args})
	if m.RunInDirFunc == nil {
		panic("MockManager.RunInDirFunc not set")
	}
	return m.RunInDirFunc(ctx, dir, env, name, args...)
}

// RunStreaming delegates to RunStreamingFunc and records the call.
func (m *MockManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	m.record(ManagerCall{Method: "RunStreaming", Dir: dir, Name: name, Args: args})
	if m.RunStreamingFunc == nil {
		panic("MockManager.RunStreamingFunc not set")
	}
	return m.RunStreamingFunc(ctx, dir, w, name, args...)
}

// LookPath delegates to LookPathFunc and records the call.
func (m *MockManager) LookPath(name string) (string, error) {
	m.record(ManagerCall{Method: "LookPath", Name: name})
	if m.LookPathFunc == nil {
		return name, nil
	}
	return m.LookPathFunc(name)
}

func (m *MockManager) record(call ManagerCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// Reset clears all recorded calls.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockManager) GetCalls() []ManagerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ManagerCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// CommandLines renders recorded calls as "name arg arg" strings.
// Convenient for asserting exact engine invocations in tests.
func (m *MockManager) CommandLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		parts := append([]string{c.Name}, c.Args...)
		lines = append(lines, strings.Join(parts, " "))
	}
	return lines
}

// Compile-time interface compliance check.
var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
