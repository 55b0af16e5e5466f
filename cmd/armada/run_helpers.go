package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/config"
	"github.com/ShayCichocki/armada/internal/fleet"
	"github.com/ShayCichocki/armada/internal/plan"
	"github.com/ShayCichocki/armada/internal/state"
)

// executorFor returns the executor a plan runs with. In command mode every
// story is handed to the configured agent command; otherwise the plan's
// simulate section drives a scripted executor.
func executorFor(cfg *config.Config, p *plan.Plan, dir string) (agent.Executor, error) {
	if config.ExecutorMode(cfg) != config.ModeCommand {
		return p.Simulator(), nil
	}
	line, err := config.AgentCommand(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w (set ARMADA_AGENT_COMMAND or executor.command)", err)
	}
	sub, err := agent.NewSubprocess(line, dir)
	if err != nil {
		return nil, err
	}
	if debugEnabled(cfg) {
		log.Printf("[run] agent command from %s: %s", config.AgentCommandSource(cfg), line)
	}
	return sub, nil
}

// executorFactory validates the executor configuration once and returns a
// per-plan constructor for fleets created after startup.
func executorFactory(cfg *config.Config, dir string) (func(*plan.Plan) agent.Executor, error) {
	if config.ExecutorMode(cfg) == config.ModeCommand {
		if _, err := config.AgentCommand(cfg); err != nil {
			return nil, fmt.Errorf("%w (set ARMADA_AGENT_COMMAND or executor.command)", err)
		}
	}
	return func(p *plan.Plan) agent.Executor {
		executor, err := executorFor(cfg, p, dir)
		if err != nil {
			log.Printf("[armada] executor for %s: %v", p.Project, err)
			return nil
		}
		return executor
	}, nil
}

// registryFor builds a registry persisting into db.
func registryFor(cfg *config.Config, db *state.DB, recorder fleet.MetricsRecorder, dir string) (*fleet.Registry, *fleet.DebugLogger) {
	logger := fleet.NopLogger()
	if debugEnabled(cfg) {
		logger = fleet.NewDebugLoggerForProject(dir)
	}
	reg := fleet.NewRegistry(fleet.RegistryConfig{
		Policy:   cfg.Policy(),
		Store:    db,
		Recorder: recorder,
		Logger:   logger,
	})
	return reg, logger
}

// debugEnabled reports whether verbose output was requested by config or ARMADA_DEBUG.
func debugEnabled(cfg *config.Config) bool {
	return cfg.Debug || os.Getenv("ARMADA_DEBUG") != ""
}

// reportInterrupted prints a hint for fleets a previous process left running.
func reportInterrupted(db *state.DB, project string) {
	records, err := db.Interrupted()
	if err != nil {
		log.Printf("[run] check interrupted fleets: %v", err)
		return
	}
	for _, r := range records {
		if r.Project != project {
			continue
		}
		printStatus("↻", fmt.Sprintf("Resuming %s: last recorded %s %s ago", r.Project, r.State, formatDuration(time.Since(r.UpdatedAt))), color.FgYellow)
	}
}

// printStatus prints a status line with a colored symbol.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dh", h)
}
