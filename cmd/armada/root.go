package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var projectDirFlag string

var rootCmd = &cobra.Command{
	Use:   "armada",
	Short: "Fleet orchestration engine for parallel agent squads",
	Long: `Armada runs a backlog of stories with squads of parallel agents.

Stories are partitioned into domain clusters and phases, assigned to squads,
retried with backoff on failure, and checked for overlapping changes before
they are integrated. Progress is streamed as events and persisted per project
in .armada/state.db.

Core capabilities:
- Runs a plan file locally with live progress (armada run)
- Serves fleets over HTTP with a resumable event stream (armada serve)
- Exposes fleet control as MCP tools (armada mcp)
- Pauses, resumes, and stops a running fleet from another shell (armada signal)`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDirFlag, "dir", "C", "", "Project directory (default: current directory)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// projectDir resolves the project directory from --dir or the working directory.
func projectDir() (string, error) {
	if projectDirFlag != "" {
		return filepath.Abs(projectDirFlag)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return cwd, nil
}
