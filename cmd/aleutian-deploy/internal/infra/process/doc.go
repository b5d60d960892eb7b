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
Package process provides abstractions for external process execution and
inter-process synchronization.

# Overview

This package contains two main components:

  - Manager: Abstracts external process execution for testability
  - DeploymentLocker: File-based locking to reject overlapping deployments

# Manager

Manager enables testable interaction with the operating system's process
management capabilities. All exec.Command calls in the deployment code go
through this interface to enable mocking in unit tests.

	proc := process.NewDefaultManager()
	stdout, stderr, code, err := proc.Run(ctx, "docker", "volume", "ls")
	if err != nil {
	    return fmt.Errorf("failed to list volumes: %w", err)
	}

For testing, use MockManager:

	mock := &process.MockManager{
	    RunFunc: func(ctx context.Context, name string, args ...string) (string, string, int, error) {
	        return "mock output", "", 0, nil
	    },
	}

# DeploymentLocker

DeploymentLocker prevents two deployments from driving the same service-group
set at the same time. A second invocation while one is in flight is rejected
immediately with ErrDeploymentInProgress and changes no state. Uses the
flock(2) system call for advisory file locking.

	lock := process.NewDeploymentLock(process.DefaultLockConfig())
	if err := lock.Acquire(); err != nil {
	    fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	    os.Exit(1)
	}
	defer lock.Release()

# Thread Safety

  - Manager implementations are safe for concurrent use
  - DeploymentLocker is NOT safe for concurrent use from multiple goroutines

# Limitations

  - DeploymentLocker uses advisory locks - other processes can ignore if not checking
  - DeploymentLocker requires OS support for flock(2)
*/
package process
