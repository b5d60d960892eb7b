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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// DeploymentLocker defines the interface for single-deployment locking.
//
// # Description
//
// DeploymentLocker prevents two orchestrator invocations from driving the
// same service-group set simultaneously. Overlapping deployments would race
// on shared state (the env file, the engine's container set), so a second
// invocation is rejected outright rather than queued.
//
// # Thread Safety
//
// Implementations must be safe for use from a single goroutine. The lock
// itself provides inter-process synchronization, not intra-process.
type DeploymentLocker interface {
	// Acquire attempts to get an exclusive lock.
	// Returns nil if lock acquired, *ErrDeploymentInProgress if another
	// invocation holds it, other errors for filesystem failures.
	Acquire() error

	// Release releases the lock if held.
	// Safe to call multiple times or if lock was never acquired.
	Release() error

	// IsHeld returns true if this instance currently holds the lock.
	IsHeld() bool

	// HolderPID returns the PID of the process holding the lock.
	// Returns 0 if no process holds the lock or if unable to determine.
	HolderPID() int
}

// LockConfig configures deployment lock behavior.
//
// # Description
//
// Allows customization of lock file location and behavior.
//
// # Example
//
//	config := LockConfig{
//	    LockDir:  "/var/run/aleutian-deploy",
//	    LockName: "deploy",
//	}
type LockConfig struct {
	// LockDir is the directory for lock files.
	// Default: system temp directory
	LockDir string

	// LockName is the base name for lock files.
	// Default: "aleutian-deploy"
	LockName string
}

// DefaultLockConfig returns sensible defaults.
//
// # Description
//
// Uses the system temp directory and "aleutian-deploy" as the lock name.
// This ensures the lock file is in a writable location on all platforms.
//
// # Outputs
//
//   - LockConfig: Configuration with default values
func DefaultLockConfig() LockConfig {
	return LockConfig{
		LockDir:  os.TempDir(),
		LockName: "aleutian-deploy",
	}
}

// DeploymentLock implements DeploymentLocker using file-based locking.
//
// # Description
//
// Uses flock(2) system call for advisory file locking. This prevents
// scenarios like:
//
//   - Terminal A: `aleutian-deploy deploy` (waiting for PostgreSQL health)
//   - Terminal B: `aleutian-deploy teardown --purge` (removes volumes A needs)
//
// # How It Works
//
//  1. Creates a lock file at {LockDir}/{LockName}.lock
//  2. Attempts exclusive flock on the file
//  3. Writes PID to {LockDir}/{LockName}.pid for debugging
//  4. On release, removes PID file and releases flock
//
// # Thread Safety
//
// DeploymentLock is NOT safe for concurrent use from multiple goroutines.
// Use from a single goroutine (typically main).
//
// # Limitations
//
//   - Advisory lock only - other processes can ignore it if they don't check
//   - NFS and some network filesystems don't support flock properly
//   - Lock survives if process crashes without calling Release (OS releases flock)
//
// # Assumptions
//
//   - LockDir exists and is writable
//   - Only one DeploymentLock instance per process
//   - OS supports flock(2) system call
//
// # Example
//
//	lock := NewDeploymentLock(DefaultLockConfig())
//	if err := lock.Acquire(); err != nil {
//	    fmt.Fprintf(os.Stderr, "Error: %v\n", err)
//	    os.Exit(1)
//	}
//	defer lock.Release()
type DeploymentLock struct {
	config   LockConfig
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewDeploymentLock creates a new deployment lock.
//
// # Description
//
// Creates a DeploymentLock configured to use the specified directory
// and name for lock files. Does not acquire the lock.
//
// # Inputs
//
//   - config: Configuration for lock file location
//
// # Outputs
//
//   - *DeploymentLock: New lock instance (not yet acquired)
//
// # Example
//
//	lock := NewDeploymentLock(LockConfig{
//	    LockDir:  "/var/run/myapp",
//	    LockName: "myapp",
//	})
func NewDeploymentLock(config LockConfig) *DeploymentLock {
	if config.LockDir == "" {
		config.LockDir = os.TempDir()
	}
	if config.LockName == "" {
		config.LockName = "aleutian-deploy"
	}

	return &DeploymentLock{
		config:   config,
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// Acquire attempts to get an exclusive lock.
//
// # Description
//
// Uses a non-blocking flock to try to acquire the lock. If another
// process holds the lock, returns immediately with *ErrDeploymentInProgress
// carrying the PID of the holder (if available). No state is changed on
// rejection.
//
// # Outputs
//
//   - error: nil if lock acquired, *ErrDeploymentInProgress if held
//     elsewhere, other errors for filesystem failures
//
// # Error Conditions
//
//   - Another deployment is in flight (returns holder PID)
//   - Cannot create lock file (permission denied, disk full)
//   - Cannot acquire flock (system error)
//
// # Example
//
//	var inProgress *process.ErrDeploymentInProgress
//	if err := lock.Acquire(); errors.As(err, &inProgress) {
//	    fmt.Printf("deployment already running (PID %d)\n", inProgress.HolderPID)
//	    os.Exit(1)
//	}
func (d *DeploymentLock) Acquire() error {
	if d.held {
		return nil // Already held
	}

	f, err := os.OpenFile(d.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", d.lockPath, err)
	}

	// Try non-blocking exclusive lock
	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		f.Close()

		if err == syscall.EWOULDBLOCK {
			return &ErrDeploymentInProgress{
				HolderPID: d.readHolderPID(),
				LockPath:  d.lockPath,
			}
		}

		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	d.lockFile = f
	d.held = true

	// Write our PID for debugging. Non-fatal on failure; the flock is held.
	_ = d.writePID()

	return nil
}

// Release releases the lock if held.
//
// # Description
//
// Removes the PID file and releases the flock. Safe to call multiple
// times or if the lock was never acquired.
//
// # Outputs
//
//   - error: nil on success, error if release fails
//
// # Example
//
//	defer func() {
//	    if err := lock.Release(); err != nil {
//	        log.Printf("Warning: failed to release lock: %v", err)
//	    }
//	}()
func (d *DeploymentLock) Release() error {
	if !d.held || d.lockFile == nil {
		return nil
	}

	// Remove PID file first
	os.Remove(d.pidPath)

	err := syscall.Flock(int(d.lockFile.Fd()), syscall.LOCK_UN)

	// Close file (also releases lock if flock failed)
	d.lockFile.Close()
	d.lockFile = nil
	d.held = false

	// The lock file itself is left in place for faster subsequent acquires.

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	return nil
}

// IsHeld returns true if this instance currently holds the lock.
//
// # Description
//
// Checks local state only - does not verify the flock is still valid.
// Useful for conditional cleanup in defer blocks.
//
// # Outputs
//
//   - bool: true if lock is held by this instance
func (d *DeploymentLock) IsHeld() bool {
	return d.held
}

// HolderPID returns the PID of the process holding the lock.
//
// # Description
//
// Reads the PID file to determine which process holds the lock.
// Returns 0 if no PID file exists or if unable to read it.
//
// # Outputs
//
//   - int: PID of holder, or 0 if unknown
//
// # Limitations
//
//   - May return stale PID if holder crashed without cleanup
//   - Relies on PID file, which may not exist
func (d *DeploymentLock) HolderPID() int {
	return d.readHolderPID()
}

// writePID writes the current process PID to the PID file.
func (d *DeploymentLock) writePID() error {
	content := fmt.Sprintf("%d\n", os.Getpid())
	return os.WriteFile(d.pidPath, []byte(content), 0644)
}

// readHolderPID reads the PID from the PID file.
func (d *DeploymentLock) readHolderPID() int {
	data, err := os.ReadFile(d.pidPath)
	if err != nil {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}

	return pid
}

// LockPath returns the path to the lock file.
//
// # Description
//
// Useful for error messages and debugging.
//
// # Outputs
//
//   - string: Absolute path to the lock file
func (d *DeploymentLock) LockPath() string {
	return d.lockPath
}

// PIDPath returns the path to the PID file.
//
// # Description
//
// Useful for error messages and debugging.
//
// # Outputs
//
//   - string: Absolute path to the PID file
func (d *DeploymentLock) PIDPath() string {
	return d.pidPath
}

// ErrDeploymentInProgress is returned when the lock is held by another process.
//
// Callers detect it with errors.As and exit non-zero without touching any
// deployment state.
type ErrDeploymentInProgress struct {
	HolderPID int
	LockPath  string
}

// Error implements the error interface.
func (e *ErrDeploymentInProgress) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another deployment is in progress (PID %d)", e.HolderPID)
	}
	return fmt.Sprintf("another deployment is in progress (check: lsof %s)", e.LockPath)
}

// Compile-time interface satisfaction check
var _ DeploymentLocker = (*DeploymentLock)(nil)
