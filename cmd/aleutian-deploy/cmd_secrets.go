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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
	"github.com/AleutianAI/AleutianDeploy/pkg/ux"
)

// runInitSecrets generates any missing secrets and rewrites the env file.
// Existing values are never touched, so re-running is always safe.
func runInitSecrets(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	provider := NewDefaultSecretProvider(config.Global.Secrets)

	ux.Title("Initializing secrets")
	result, err := provider.ResolveAll(ctx)
	if err != nil {
		if errors.Is(err, ErrSecretStoreUnavailable) {
			ux.Error(fmt.Sprintf("The secret store at %s could not be read: %v",
				provider.StorePath(), err))
			ux.Info("If the file is corrupt, restore it from backup. Deleting it regenerates ALL secrets.")
			os.Exit(exitSecretsFailure)
		}
		ux.Error(fmt.Sprintf("Secret initialization failed: %v", err))
		os.Exit(exitSecretsFailure)
	}

	for _, key := range result.Generated {
		ux.ServiceStatus(key, ux.IconSuccess, "generated")
	}
	for _, key := range result.Existing {
		ux.ServiceStatus(key, ux.IconPending, "kept existing value")
	}
	if result.EnvFileWritten {
		ux.Info(fmt.Sprintf("Env file written to %s", config.Global.Secrets.EnvFile))
	} else {
		ux.Muted("Env file already up to date.")
	}
	ux.Success(fmt.Sprintf("%d secrets ready (%d new).",
		len(result.Generated)+len(result.Existing), len(result.Generated)))
}
