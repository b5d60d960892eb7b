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
Package main provides CertRotator for self-signed certificate lifecycle.

CertRotator generates and rotates the stack's self-signed TLS certificate.
Rotation happens ahead of expiry, not at it, so the proxy never serves an
expired certificate. Replacement is atomic: the new certificate and key are
written to temporary files and renamed into place, so a reader observes
either the old pair or the new pair, never a torn write. No process is
restarted; Traefik picks up the new files on its own file watch.
*/
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrCertGenerationFailed is returned when key or certificate creation fails.
	ErrCertGenerationFailed = errors.New("certificate generation failed")

	// ErrCertWriteFailed is returned when the atomic replacement fails.
	// The previous certificate pair remains in place.
	ErrCertWriteFailed = errors.New("certificate write failed")

	// ErrCertUnreadable is returned when an existing certificate cannot be parsed.
	ErrCertUnreadable = errors.New("certificate unreadable")
)

// =============================================================================
// Type Definitions
// =============================================================================

// CertStatus describes the current certificate on disk.
type CertStatus struct {
	// Exists is true if a certificate file is present and parseable.
	Exists bool

	// NotAfter is the certificate expiry time (zero if absent).
	NotAfter time.Time

	// RenewalDue is true if rotation should happen now: the certificate
	// is absent, unreadable, or inside the renewal window.
	RenewalDue bool

	// Subject is the certificate common name.
	Subject string

	// DNSNames are the subject alternative names.
	DNSNames []string
}

// RotationResult records the outcome of one rotation attempt.
type RotationResult struct {
	// Rotated is true if a new certificate pair was written.
	Rotated bool

	// Reason explains why rotation did or did not happen.
	Reason string

	// NotAfter is the expiry of the certificate now on disk.
	NotAfter time.Time
}

// =============================================================================
// Interface Definition
// =============================================================================

// CertRotator manages the stack's self-signed TLS certificate.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type CertRotator interface {
	// Status inspects the certificate currently on disk.
	//
	// # Outputs
	//
	//   - *CertStatus: Always non-nil; an absent or corrupt certificate
	//     yields Exists=false, RenewalDue=true rather than an error
	//   - error: Filesystem errors other than not-exist
	Status(ctx context.Context) (*CertStatus, error)

	// RotateIfNeeded rotates only when the renewal window has been entered.
	//
	// # Description
	//
	// Checks Status first; a certificate with plenty of validity left is
	// untouched. Rotation writes a fresh self-signed pair atomically.
	//
	// # Outputs
	//
	//   - *RotationResult: Always non-nil on success
	//   - error: ErrCertGenerationFailed or ErrCertWriteFailed
	RotateIfNeeded(ctx context.Context) (*RotationResult, error)

	// Rotate unconditionally generates and installs a new pair.
	Rotate(ctx context.Context) (*RotationResult, error)

	// Watch blocks, rotating whenever the certificate nears expiry or the
	// files are removed out from under the stack.
	//
	// # Description
	//
	// Combines a filesystem watch on the certificate directory with a
	// periodic expiry recheck. Returns when ctx is cancelled.
	//
	// # Limitations
	//
	//   - The recheck interval bounds how late after expiry-window entry a
	//     rotation can happen when no filesystem event fires
	Watch(ctx context.Context, recheck time.Duration) error

	// SetOutput configures the writer for status messages.
	SetOutput(w io.Writer)
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultCertRotator implements CertRotator with ECDSA P-256 keys.
type DefaultCertRotator struct {
	config config.CertConfig

	// nowFunc is injected for expiry tests.
	nowFunc func() time.Time

	output io.Writer
	mu     sync.Mutex
}

// NewDefaultCertRotator creates a certificate rotator.
//
// # Inputs
//
//   - cfg: Certificate paths, names, and renewal window from deploy.yaml
//
// # Examples
//
//	rotator := NewDefaultCertRotator(cfg.Certificates)
//	result, err := rotator.RotateIfNeeded(ctx)
func NewDefaultCertRotator(cfg config.CertConfig) *DefaultCertRotator {
	return &DefaultCertRotator{
		config:  cfg,
		nowFunc: time.Now,
		output:  os.Stdout,
	}
}

// SetOutput configures the output writer for status messages.
func (r *DefaultCertRotator) SetOutput(w io.Writer) {
	if w == nil {
		r.output = discardWriter{}
	} else {
		r.output = w
	}
}

// Status inspects the certificate currently on disk.
func (r *DefaultCertRotator) Status(ctx context.Context) (*CertStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

// RotateIfNeeded rotates only when the renewal window has been entered.
func (r *DefaultCertRotator) RotateIfNeeded(ctx context.Context) (*RotationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, err := r.statusLocked()
	if err != nil {
		return nil, err
	}
	if !status.RenewalDue {
		return &RotationResult{
			Rotated:  false,
			Reason:   fmt.Sprintf("certificate valid until %s", status.NotAfter.Format(time.RFC3339)),
			NotAfter: status.NotAfter,
		}, nil
	}

	reason := "renewal window entered"
	if !status.Exists {
		reason = "no certificate present"
	}
	return r.rotateLocked(reason)
}

// Rotate unconditionally generates and installs a new pair.
func (r *DefaultCertRotator) Rotate(ctx context.Context) (*RotationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked("rotation forced")
}

// Watch blocks, rotating on file events and periodic expiry rechecks.
func (r *DefaultCertRotator) Watch(ctx context.Context, recheck time.Duration) error {
	if recheck <= 0 {
		recheck = time.Hour
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	certDir := filepath.Dir(r.config.CertFile)
	if err := os.MkdirAll(certDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", certDir, err)
	}
	if err := watcher.Add(certDir); err != nil {
		return fmt.Errorf("watching %s: %w", certDir, err)
	}

	// Catch up before waiting on events.
	if _, err := r.RotateIfNeeded(ctx); err != nil {
		safeWrite(r.output, "warning: initial rotation check failed: %v\n", err)
	}

	ticker := time.NewTicker(recheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.watchRotate(ctx)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if r.isCertEvent(event) {
				r.watchRotate(ctx)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			safeWrite(r.output, "warning: watch error: %v\n", werr)
		}
	}
}

// =============================================================================
// Private Helper Methods
// =============================================================================

// isCertEvent reports whether a filesystem event concerns the managed pair.
func (r *DefaultCertRotator) isCertEvent(event fsnotify.Event) bool {
	if event.Name != r.config.CertFile && event.Name != r.config.KeyFile {
		return false
	}
	return event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Rename)
}

// watchRotate runs a rotation check from the watch loop, logging failures
// instead of terminating the watch.
func (r *DefaultCertRotator) watchRotate(ctx context.Context) {
	result, err := r.RotateIfNeeded(ctx)
	if err != nil {
		safeWrite(r.output, "warning: rotation failed: %v\n", err)
		return
	}
	if result.Rotated {
		safeWrite(r.output, "Rotated certificate (%s), valid until %s\n",
			result.Reason, result.NotAfter.Format(time.RFC3339))
	}
}

// statusLocked reads and classifies the on-disk certificate. Caller holds r.mu.
func (r *DefaultCertRotator) statusLocked() (*CertStatus, error) {
	status := &CertStatus{RenewalDue: true}

	data, err := os.ReadFile(r.config.CertFile)
	if errors.Is(err, os.ErrNotExist) {
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.config.CertFile, err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		// Corrupt file. Treat as due for replacement rather than fatal.
		return status, nil
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return status, nil
	}

	status.Exists = true
	status.NotAfter = cert.NotAfter
	status.Subject = cert.Subject.CommonName
	status.DNSNames = cert.DNSNames
	status.RenewalDue = r.nowFunc().After(cert.NotAfter.AddDate(0, 0, -r.renewBeforeDays()))
	return status, nil
}

// rotateLocked generates a fresh pair and installs it atomically.
// Caller holds r.mu.
func (r *DefaultCertRotator) rotateLocked(reason string) (*RotationResult, error) {
	certPEM, keyPEM, notAfter, err := r.generatePair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertGenerationFailed, err)
	}

	// Key lands first so a reader never pairs the new certificate with
	// the old key.
	if err := atomicWriteFile(r.config.KeyFile, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertWriteFailed, err)
	}
	if err := atomicWriteFile(r.config.CertFile, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertWriteFailed, err)
	}

	return &RotationResult{
		Rotated:  true,
		Reason:   reason,
		NotAfter: notAfter,
	}, nil
}

// generatePair builds a self-signed ECDSA certificate and key in PEM form.
func (r *DefaultCertRotator) generatePair() (certPEM, keyPEM []byte, notAfter time.Time, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("generating serial: %w", err)
	}

	now := r.nowFunc()
	notAfter = now.AddDate(0, 0, r.validityDays())
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: r.commonName()},
		DNSNames:     r.config.DNSNames,
		NotBefore:    now.Add(-5 * time.Minute),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("creating certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("marshaling key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, notAfter, nil
}

// validityDays returns the configured validity with a sane default.
func (r *DefaultCertRotator) validityDays() int {
	if r.config.ValidityDays > 0 {
		return r.config.ValidityDays
	}
	return 365
}

// renewBeforeDays returns the renewal window with a sane default.
func (r *DefaultCertRotator) renewBeforeDays() int {
	if r.config.RenewBeforeDays > 0 {
		return r.config.RenewBeforeDays
	}
	return 30
}

// commonName returns the configured CN with a fallback.
func (r *DefaultCertRotator) commonName() string {
	if r.config.CommonName != "" {
		return r.config.CommonName
	}
	if len(r.config.DNSNames) > 0 {
		return r.config.DNSNames[0]
	}
	return "aleutian.local"
}

// atomicWriteFile writes data to a temporary file in the target directory
// and renames it over the destination. Rename is atomic on POSIX, so a
// concurrent reader sees either the complete old file or the complete new
// file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting mode on %s: %w", tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// =============================================================================
// Mock Implementation for Testing
// =============================================================================

// MockCertRotator is a test double for CertRotator.
type MockCertRotator struct {
	StatusFunc         func(ctx context.Context) (*CertStatus, error)
	RotateIfNeededFunc func(ctx context.Context) (*RotationResult, error)
	RotateFunc         func(ctx context.Context) (*RotationResult, error)
	WatchFunc          func(ctx context.Context, recheck time.Duration) error
}

// Status delegates to StatusFunc.
func (m *MockCertRotator) Status(ctx context.Context) (*CertStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return &CertStatus{Exists: true, NotAfter: time.Now().AddDate(1, 0, 0)}, nil
}

// RotateIfNeeded delegates to RotateIfNeededFunc.
func (m *MockCertRotator) RotateIfNeeded(ctx context.Context) (*RotationResult, error) {
	if m.RotateIfNeededFunc != nil {
		return m.RotateIfNeededFunc(ctx)
	}
	return &RotationResult{Rotated: false, Reason: "mock"}, nil
}

// Rotate delegates to RotateFunc.
func (m *MockCertRotator) Rotate(ctx context.Context) (*RotationResult, error) {
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx)
	}
	return &RotationResult{Rotated: true, Reason: "mock"}, nil
}

// Watch delegates to WatchFunc.
func (m *MockCertRotator) Watch(ctx context.Context, recheck time.Duration) error {
	if m.WatchFunc != nil {
		return m.WatchFunc(ctx, recheck)
	}
	return nil
}

// SetOutput is a no-op on the mock.
func (m *MockCertRotator) SetOutput(w io.Writer) {}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var (
	_ CertRotator = (*DefaultCertRotator)(nil)
	_ CertRotator = (*MockCertRotator)(nil)
)
