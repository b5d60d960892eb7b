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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
	"github.com/AleutianAI/AleutianDeploy/pkg/ux"
)

// runRotateCerts regenerates the stack's self-signed certificate when it is
// close to expiry. Traefik picks up the new files without a restart.
func runRotateCerts(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	rotator := NewDefaultCertRotator(config.Global.Certificates)

	if watchCerts {
		watchCertificates(ctx, rotator)
		return
	}

	var result *RotationResult
	var err error
	if forceRotate {
		result, err = rotator.Rotate(ctx)
	} else {
		result, err = rotator.RotateIfNeeded(ctx)
	}
	if err != nil {
		if errors.Is(err, ErrCertWriteFailed) {
			ux.Error(fmt.Sprintf("Could not write the new certificate: %v", err))
			ux.Info("The previous certificate is untouched; the stack keeps serving with it.")
		} else {
			ux.Error(fmt.Sprintf("Certificate rotation failed: %v", err))
		}
		os.Exit(exitGeneralError)
	}

	if result.Rotated {
		ux.Success(fmt.Sprintf("Certificate rotated (%s). Valid until %s.",
			result.Reason, result.NotAfter.Format(time.RFC3339)))
	} else {
		ux.Info(fmt.Sprintf("Certificate still valid until %s, nothing to do.",
			result.NotAfter.Format(time.RFC3339)))
	}
}

// watchCertificates blocks, re-rotating whenever the cert files change on
// disk or the expiry window is entered. Runs until interrupted.
func watchCertificates(ctx context.Context, rotator CertRotator) {
	recheck := time.Duration(recheckHours) * time.Hour
	ux.Info(fmt.Sprintf("Watching %s (recheck every %s). Ctrl-C to stop.",
		config.Global.Certificates.CertFile, recheck))
	if err := rotator.Watch(ctx, recheck); err != nil && !errors.Is(err, context.Canceled) {
		ux.Error(fmt.Sprintf("Certificate watch stopped: %v", err))
		os.Exit(exitGeneralError)
	}
	ux.Info("Certificate watch stopped.")
}
