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
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/compose"
	"github.com/AleutianAI/AleutianDeploy/cmd/aleutian-deploy/internal/infra/process"
	"github.com/AleutianAI/AleutianDeploy/pkg/ux"
)

// runStatus prints a table of the stack's containers and their health.
func runStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	executor := newComposeExecutor(process.NewDefaultManager())

	status, err := executor.Status(ctx)
	if err != nil {
		ux.Error(fmt.Sprintf("Could not query container status: %v", err))
		os.Exit(exitGeneralError)
	}
	if len(status.Services) == 0 {
		ux.Info("No stack containers found. Run 'aleutian-deploy deploy' to start the stack.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Service", "State", "Health", "Image"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, svc := range status.Services {
		table.Append([]string{svc.Name, svc.State, healthLabel(svc), svc.Image})
	}
	table.Render()

	fmt.Printf("\n%d running, %d stopped, %d unhealthy\n",
		status.Running, status.Stopped, status.Unhealthy)
}

// healthLabel formats the optional container health check result.
func healthLabel(svc compose.ServiceStatus) string {
	if svc.Healthy == nil {
		return "-"
	}
	if *svc.Healthy {
		return ux.IconSuccess.Render() + " healthy"
	}
	return ux.IconError.Render() + " unhealthy"
}

// runLogs streams or dumps container logs through the compose executor.
func runLogs(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	executor := newComposeExecutor(process.NewDefaultManager())

	opts := compose.LogsOptions{
		Follow:   followLogs,
		Services: args,
		Tail:     tailLines,
	}
	if err := executor.Logs(ctx, opts, os.Stdout); err != nil {
		ux.Error(fmt.Sprintf("Could not fetch logs: %v", err))
		os.Exit(exitGeneralError)
	}
}
