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
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/config"
	"github.com/AleutianAI/AleutianDeploy/pkg/logging"
	"github.com/AleutianAI/AleutianDeploy/pkg/ux"
)

// --- Global Command Variables ---
var (
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	logLevel         string
	logDir           string
	healthTimeout    int  // CLI override for health.timeout_seconds
	skipSecrets      bool // deploy without touching the secret store
	purgeVolumes     bool
	assumeYes        bool // non-interactive confirmation for destructive ops
	forceRotate      bool
	watchCerts       bool
	recheckHours     int
	followLogs       bool
	tailLines        int

	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "aleutian-deploy",
		Short: "Deploy and manage the Aleutian self-hosted service stack",
		Long: `aleutian-deploy brings up a multi-service Docker Compose stack in
				dependency order, waits for each phase to report healthy, and
				manages the secrets and TLS certificates the stack needs.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}

			appLogger = logging.New(logging.Config{
				Level:   logging.ParseLevel(logLevel),
				LogDir:  logDir,
				Service: "aleutian-deploy",
			})

			if err := config.Load(); err != nil {
				log.Fatalf("Error loading configuration: %v", err)
			}
		},
	}

	// --- Deployment ---
	deployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Deploy all phases of the stack in dependency order",
		Run:   runDeploy, // Defined in cmd_deploy.go
	}

	restartCmd = &cobra.Command{
		Use:   "restart [group]",
		Short: "Restart a single service group and wait for it to be healthy",
		Args:  cobra.ExactArgs(1),
		Run:   runRestart, // Defined in cmd_deploy.go
	}

	// --- Teardown ---
	teardownCmd = &cobra.Command{
		Use:   "teardown",
		Short: "Stop the stack in reverse phase order",
		Run:   runTeardown, // Defined in cmd_teardown.go
	}

	// --- Secrets ---
	initSecretsCmd = &cobra.Command{
		Use:   "init-secrets",
		Short: "Generate any missing secrets and sync the env file",
		Run:   runInitSecrets, // Defined in cmd_secrets.go
	}

	// --- Certificates ---
	rotateCertsCmd = &cobra.Command{
		Use:   "rotate-certs",
		Short: "Regenerate the self-signed TLS certificate if it is near expiry",
		Run:   runRotateCerts, // Defined in cmd_certs.go
	}

	// --- Observation ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the state of the stack's containers",
		Run:   runStatus, // Defined in cmd_status.go
	}

	logsCmd = &cobra.Command{
		Use:   "logs [service...]",
		Short: "Show logs from stack containers",
		Run:   runLogs, // Defined in cmd_status.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"Also write JSON logs to this directory")

	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().IntVar(&healthTimeout, "timeout", 0,
		"Per-phase health timeout in seconds (overrides health.timeout_seconds)")
	deployCmd.Flags().BoolVar(&skipSecrets, "skip-secrets", false,
		"Skip secret resolution (assumes init-secrets has already run)")

	rootCmd.AddCommand(restartCmd)

	rootCmd.AddCommand(teardownCmd)
	teardownCmd.Flags().BoolVar(&purgeVolumes, "purge", false,
		"DANGER: also remove the stack's data volumes")
	teardownCmd.Flags().BoolVar(&assumeYes, "yes", false,
		"Skip the confirmation prompt (required with --purge in scripts)")

	rootCmd.AddCommand(initSecretsCmd)

	rootCmd.AddCommand(rotateCertsCmd)
	rotateCertsCmd.Flags().BoolVar(&forceRotate, "force", false,
		"Rotate even if the current certificate is not near expiry")
	rotateCertsCmd.Flags().BoolVar(&watchCerts, "watch", false,
		"Keep running and re-rotate when the files change or expiry approaches")
	rotateCertsCmd.Flags().IntVar(&recheckHours, "recheck-hours", 1,
		"Expiry recheck interval in watch mode")

	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&followLogs, "follow", "f", false, "Stream logs continuously")
	logsCmd.Flags().IntVar(&tailLines, "tail", 0, "Number of trailing lines per container")
}
