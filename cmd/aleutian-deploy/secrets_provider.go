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
Package main provides SecretProvider for deployment credential management.

SecretProvider resolves named secrets for the service stack. A secret that
does not exist yet is generated with a cryptographically secure random value
and persisted before it is ever handed to a caller; a secret that exists is
returned as-is and never regenerated.

# Security Context

This is a CRITICAL-RISK component because the values it manages are the root
credentials of every stateful service in the stack (PostgreSQL superuser,
RabbitMQ Erlang cookie, Authelia encryption keys). Silent regeneration would
orphan existing data volumes; credential exposure would compromise the host.

# Security Features

  - Zero Value Logging: Secret values are NEVER logged (even at debug level)
  - Owner-Only Files: Store and env file are written with mode 0600
  - Fail-Secure: A value that could not be persisted is never reported as
    resolved
  - Safe Alphabet: Generated values contain no characters that need quoting
    in shell or YAML contexts

# Store Layout

The store is a nested YAML document keyed by service then credential:

	postgres:
	  postgres_password: "..."
	rabbitmq:
	  erlang_cookie: "..."

Secret keys use dotted "service.credential" form. A flat KEY=VALUE env file
is derived from the store for docker compose; the env file is always
regenerated wholesale from the store, never edited in place.

# Design Principles

  - Interface-first design for testability
  - Filesystem and randomness injected for tests
  - Thread-safe for concurrent use
  - Single responsibility per method
*/
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
)

// -----------------------------------------------------------------------------
// Error Sentinel Values
// -----------------------------------------------------------------------------

// ErrSecretStoreUnavailable is returned when the store file exists but
// cannot be read or parsed. Resolution must not proceed against a store
// whose contents are unknown, or existing credentials could be shadowed.
var ErrSecretStoreUnavailable = errors.New("secret store unavailable")

// ErrSecretWriteError is returned when a generated value could not be
// persisted. The value is discarded; the caller never sees it.
var ErrSecretWriteError = errors.New("secret write failed")

// ErrSecretKeyInvalid is returned for keys that are not in dotted
// "service.credential" form.
var ErrSecretKeyInvalid = errors.New("secret key invalid")

// -----------------------------------------------------------------------------
// Generation Constants
// -----------------------------------------------------------------------------

const (
	// GeneratedSecretLength is the length of generated secret values.
	// The floor is 32; a little headroom costs nothing.
	GeneratedSecretLength = 40

	// MinSecretLength is the minimum acceptable generated value length.
	MinSecretLength = 32
)

// secretAlphabet is the character set for generated values. Alphanumerics
// plus a few symbols that are inert in shell words, YAML scalars, and
// KEY=VALUE env lines. No quotes, no backslash, no dollar, no hash.
const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_.~^+"

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// SecretProvider resolves deployment secrets, generating missing ones.
//
// # Description
//
// This interface abstracts secret resolution from the underlying storage.
// Resolution is generate-or-return: a key already present in the store is
// returned unchanged on every call, and a missing key is populated exactly
// once with a random value.
//
// # Security
//
//   - Secret values are NEVER logged (even at debug level)
//   - A generated value is persisted before it is returned; persistence
//     failure means resolution failure
//   - An existing value is never overwritten or regenerated
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SecretProvider interface {
	// Resolve returns the value for a secret key, generating it if absent.
	//
	// # Description
	//
	// Looks up the dotted key in the store. If present, returns the stored
	// value without touching the filesystem. If absent, generates a random
	// value, persists the updated store, and only then returns the value.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation
	//   - key: Dotted key, e.g. "postgres.postgres_password"
	//
	// # Outputs
	//
	//   - string: The secret value (never empty on success)
	//   - error: ErrSecretKeyInvalid, ErrSecretStoreUnavailable, or
	//     ErrSecretWriteError
	//
	// # Examples
	//
	//	pw, err := secrets.Resolve(ctx, "postgres.postgres_password")
	//	if err != nil {
	//	    return err
	//	}
	//
	// # Limitations
	//
	//   - Does not validate externally-provided values beyond non-emptiness
	//
	// # Assumptions
	//
	//   - The store directory is on a local filesystem honoring 0600
	Resolve(ctx context.Context, key string) (string, error)

	// ResolveAll resolves every configured secret and syncs the env file.
	//
	// # Description
	//
	// Resolves each required key in order, then regenerates the derived
	// env file wholesale from the resolved values. When every key already
	// exists the store is not written; the env file is rewritten only if
	// its content would change.
	//
	// # Outputs
	//
	//   - *SecretResolution: Per-key outcome summary (never includes values
	//     in its String form)
	//   - error: First resolution or env sync failure
	ResolveAll(ctx context.Context) (*SecretResolution, error)

	// SyncEnvFile regenerates the flat env file from the current store.
	//
	// # Description
	//
	// Derives KEY=VALUE lines for every configured secret and writes the
	// env file with mode 0600. The file is regenerated wholesale; stale
	// entries from removed secrets do not survive.
	//
	// # Outputs
	//
	//   - error: ErrSecretStoreUnavailable or ErrSecretWriteError
	SyncEnvFile(ctx context.Context) error

	// StorePath returns the path of the backing store file.
	StorePath() string
}

// -----------------------------------------------------------------------------
// Supporting Types
// -----------------------------------------------------------------------------

// SecretResolution summarizes a ResolveAll pass. It carries key names and
// outcomes only, never values, so it is safe to log and print.
type SecretResolution struct {
	// Generated lists keys that were created during this pass.
	Generated []string

	// Existing lists keys that were already present in the store.
	Existing []string

	// EnvFileWritten is true if the env file was (re)written.
	EnvFileWritten bool
}

// String renders a loggable one-line summary.
func (r *SecretResolution) String() string {
	return fmt.Sprintf("secrets: %d generated, %d existing, env file written=%t",
		len(r.Generated), len(r.Existing), r.EnvFileWritten)
}

// -----------------------------------------------------------------------------
// Implementation Struct
// -----------------------------------------------------------------------------

// DefaultSecretProvider implements SecretProvider over a YAML file store.
//
// # Description
//
// Production implementation backed by a nested YAML store file and a
// derived flat env file, both mode 0600. The store is read lazily and
// cached for the provider's lifetime; a mutex serializes read-modify-write
// cycles so concurrent Resolve calls cannot clobber each other.
//
// # Thread Safety
//
// DefaultSecretProvider is safe for concurrent use.
type DefaultSecretProvider struct {
	config config.SecretsConfig

	// Injected for tests.
	readFileFunc  func(path string) ([]byte, error)
	writeFileFunc func(path string, data []byte, perm os.FileMode) error
	mkdirAllFunc  func(path string, perm os.FileMode) error
	randReadFunc  func(b []byte) (int, error)

	store  map[string]map[string]string
	loaded bool
	mu     sync.Mutex
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

// NewDefaultSecretProvider creates a secret provider over the configured store.
//
// # Description
//
// Creates a provider reading and writing the YAML store and env file named
// in cfg. No filesystem access happens until the first Resolve call.
//
// # Inputs
//
//   - cfg: Secrets configuration from deploy.yaml
//
// # Outputs
//
//   - *DefaultSecretProvider: Ready-to-use provider
//
// # Examples
//
//	secrets := NewDefaultSecretProvider(cfg.Secrets)
//	pw, err := secrets.Resolve(ctx, "postgres.postgres_password")
func NewDefaultSecretProvider(cfg config.SecretsConfig) *DefaultSecretProvider {
	return &DefaultSecretProvider{
		config:        cfg,
		readFileFunc:  os.ReadFile,
		writeFileFunc: os.WriteFile,
		mkdirAllFunc:  os.MkdirAll,
		randReadFunc:  rand.Read,
	}
}

// -----------------------------------------------------------------------------
// Interface Implementation Methods
// -----------------------------------------------------------------------------

// Resolve returns the value for a secret key, generating it if absent.
func (p *DefaultSecretProvider) Resolve(ctx context.Context, key string) (string, error) {
	service, credential, err := splitSecretKey(key)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadStoreLocked(); err != nil {
		return "", err
	}

	if value, ok := p.store[service][credential]; ok && value != "" {
		return value, nil
	}

	value, err := p.generateValue()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretWriteError, err)
	}

	// Persist before returning. A value the store doesn't hold must not
	// reach a caller, or a later run would generate a different one.
	if p.store[service] == nil {
		p.store[service] = make(map[string]string)
	}
	p.store[service][credential] = value
	if err := p.writeStoreLocked(); err != nil {
		delete(p.store[service], credential)
		return "", err
	}

	return value, nil
}

// ResolveAll resolves every configured secret and syncs the env file.
func (p *DefaultSecretProvider) ResolveAll(ctx context.Context) (*SecretResolution, error) {
	result := &SecretResolution{}
	values := make(map[string]string, len(p.config.Required))

	for _, spec := range p.config.Required {
		existedBefore, err := p.hasSecret(spec.Key)
		if err != nil {
			return nil, err
		}
		value, err := p.Resolve(ctx, spec.Key)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", spec.Key, err)
		}
		values[spec.Env] = value
		if existedBefore {
			result.Existing = append(result.Existing, spec.Key)
		} else {
			result.Generated = append(result.Generated, spec.Key)
		}
	}

	written, err := p.writeEnvFile(values)
	if err != nil {
		return nil, err
	}
	result.EnvFileWritten = written
	return result, nil
}

// SyncEnvFile regenerates the flat env file from the current store.
func (p *DefaultSecretProvider) SyncEnvFile(ctx context.Context) error {
	values := make(map[string]string, len(p.config.Required))
	for _, spec := range p.config.Required {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		value, err := p.lookupExisting(spec.Key)
		if err != nil {
			return err
		}
		if value == "" {
			return fmt.Errorf("%w: %s not in store, run init-secrets first",
				ErrSecretStoreUnavailable, spec.Key)
		}
		values[spec.Env] = value
	}
	_, err := p.writeEnvFile(values)
	return err
}

// StorePath returns the path of the backing store file.
func (p *DefaultSecretProvider) StorePath() string {
	return p.config.StorePath
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

// splitSecretKey splits a dotted key into service and credential parts.
func splitSecretKey(key string) (string, string, error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q (want service.credential)", ErrSecretKeyInvalid, key)
	}
	return parts[0], parts[1], nil
}

// hasSecret reports whether a key already holds a non-empty value.
func (p *DefaultSecretProvider) hasSecret(key string) (bool, error) {
	value, err := p.lookupExisting(key)
	if err != nil {
		return false, err
	}
	return value != "", nil
}

// lookupExisting returns the stored value for a key, or empty if absent.
func (p *DefaultSecretProvider) lookupExisting(key string) (string, error) {
	service, credential, err := splitSecretKey(key)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.loadStoreLocked(); err != nil {
		return "", err
	}
	return p.store[service][credential], nil
}

// loadStoreLocked reads and caches the store file. Caller holds p.mu.
func (p *DefaultSecretProvider) loadStoreLocked() error {
	if p.loaded {
		return nil
	}

	data, err := p.readFileFunc(p.config.StorePath)
	if errors.Is(err, os.ErrNotExist) {
		p.store = make(map[string]map[string]string)
		p.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrSecretStoreUnavailable, p.config.StorePath, err)
	}

	store := make(map[string]map[string]string)
	if err := yaml.Unmarshal(data, &store); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrSecretStoreUnavailable, p.config.StorePath, err)
	}

	p.store = store
	p.loaded = true
	return nil
}

// writeStoreLocked marshals and persists the store file. Caller holds p.mu.
func (p *DefaultSecretProvider) writeStoreLocked() error {
	data, err := yaml.Marshal(p.store)
	if err != nil {
		return fmt.Errorf("%w: marshaling store: %v", ErrSecretWriteError, err)
	}

	dir := filepath.Dir(p.config.StorePath)
	if err := p.mkdirAllFunc(dir, 0o700); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrSecretWriteError, dir, err)
	}
	if err := p.writeFileFunc(p.config.StorePath, data, 0o600); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrSecretWriteError, p.config.StorePath, err)
	}
	return nil
}

// writeEnvFile derives and writes the flat env file. Returns true if the
// file was written, false if the existing content already matched.
func (p *DefaultSecretProvider) writeEnvFile(values map[string]string) (bool, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("# Generated by aleutian-deploy. Do not edit; changes are overwritten.\n")
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(values[k])
		sb.WriteByte('\n')
	}
	content := []byte(sb.String())

	if existing, err := p.readFileFunc(p.config.EnvFile); err == nil && string(existing) == string(content) {
		return false, nil
	}

	dir := filepath.Dir(p.config.EnvFile)
	if err := p.mkdirAllFunc(dir, 0o700); err != nil {
		return false, fmt.Errorf("%w: creating %s: %v", ErrSecretWriteError, dir, err)
	}
	if err := p.writeFileFunc(p.config.EnvFile, content, 0o600); err != nil {
		return false, fmt.Errorf("%w: writing %s: %v", ErrSecretWriteError, p.config.EnvFile, err)
	}
	return true, nil
}

// generateValue produces a random value from the safe alphabet using
// rejection sampling, so every character is drawn uniformly.
func (p *DefaultSecretProvider) generateValue() (string, error) {
	const maxByte = 255 - (256 % len(secretAlphabet))

	out := make([]byte, 0, GeneratedSecretLength)
	buf := make([]byte, GeneratedSecretLength*2)
	for len(out) < GeneratedSecretLength {
		n, err := p.randReadFunc(buf)
		if err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		for _, b := range buf[:n] {
			if int(b) > maxByte {
				continue
			}
			out = append(out, secretAlphabet[int(b)%len(secretAlphabet)])
			if len(out) == GeneratedSecretLength {
				break
			}
		}
	}
	return string(out), nil
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockSecretProvider is a test double for SecretProvider.
//
// Configure by setting function fields. Unset fields return deterministic
// placeholder values. All invocations are recorded for verification.
type MockSecretProvider struct {
	ResolveFunc     func(ctx context.Context, key string) (string, error)
	ResolveAllFunc  func(ctx context.Context) (*SecretResolution, error)
	SyncEnvFileFunc func(ctx context.Context) error
	StorePathFunc   func() string

	// ResolveCalls records every Resolve invocation's key.
	ResolveCalls []string

	mu sync.Mutex
}

// Resolve delegates to ResolveFunc and records the call.
func (m *MockSecretProvider) Resolve(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	m.ResolveCalls = append(m.ResolveCalls, key)
	m.mu.Unlock()
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, key)
	}
	return "mock-secret-value-" + key, nil
}

// ResolveAll delegates to ResolveAllFunc.
func (m *MockSecretProvider) ResolveAll(ctx context.Context) (*SecretResolution, error) {
	if m.ResolveAllFunc != nil {
		return m.ResolveAllFunc(ctx)
	}
	return &SecretResolution{EnvFileWritten: true}, nil
}

// SyncEnvFile delegates to SyncEnvFileFunc.
func (m *MockSecretProvider) SyncEnvFile(ctx context.Context) error {
	if m.SyncEnvFileFunc != nil {
		return m.SyncEnvFileFunc(ctx)
	}
	return nil
}

// StorePath delegates to StorePathFunc.
func (m *MockSecretProvider) StorePath() string {
	if m.StorePathFunc != nil {
		return m.StorePathFunc()
	}
	return "/tmp/mock-secrets.yaml"
}

// GetResolveCalls returns a copy of recorded Resolve keys.
func (m *MockSecretProvider) GetResolveCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.ResolveCalls))
	copy(result, m.ResolveCalls)
	return result
}

// -----------------------------------------------------------------------------
// Compile-time Interface Check
// -----------------------------------------------------------------------------

var (
	_ SecretProvider = (*DefaultSecretProvider)(nil)
	_ SecretProvider = (*MockSecretProvider)(nil)
)
