package main

import (
	"context"
	"fmt"
	"log"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/armada/internal/config"
	"github.com/ShayCichocki/armada/internal/mcptools"
	"github.com/ShayCichocki/armada/internal/state"
	"github.com/ShayCichocki/armada/internal/version"
)

var mcpStart bool

var mcpCmd = &cobra.Command{
	Use:   "mcp <plan...>",
	Short: "Serve fleet control as MCP tools over stdio",
	Long: `Load one or more plans and expose their fleets to an MCP client over stdio.

Tools: fleet_status, fleet_start, fleet_pause, fleet_resume, fleet_stop,
fleet_retry_failed, fleet_resolve_conflict.

Stdout carries the protocol; diagnostics go to stderr.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpStart, "start", false, "Start the loaded fleets immediately")
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir, err := projectDir()
	if err != nil {
		return err
	}

	newExecutor, err := executorFactory(cfg, dir)
	if err != nil {
		return err
	}

	db, err := state.OpenProject(dir)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	reg, logger := registryFor(cfg, db, nil, dir)
	defer logger.Close()
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, path := range args {
		c, err := preload(ctx, reg, path, newExecutor)
		if err != nil {
			return err
		}
		if mcpStart {
			if _, err := c.Start(ctx); err != nil {
				return fmt.Errorf("start %s: %w", c.Project(), err)
			}
		}
		log.Printf("[mcp] loaded fleet %s from %s", c.Project(), path)
	}

	return mcpserver.ServeStdio(mcptools.NewServer(reg, version.Get()))
}
