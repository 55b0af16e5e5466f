package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAgentCommand is returned when command mode is selected without a command.
var ErrNoAgentCommand = errors.New("no agent command configured")

// CommandSource represents where the agent command was loaded from.
type CommandSource string

const (
	CommandSourceEnv    CommandSource = "environment"
	CommandSourceConfig CommandSource = "config_file"
	CommandSourceNone   CommandSource = "none"
)

// AgentCommand returns the agent command line.
// It checks in order: ARMADA_AGENT_COMMAND, config file.
func AgentCommand(cfg *Config) (string, error) {
	if cmd := strings.TrimSpace(os.Getenv("ARMADA_AGENT_COMMAND")); cmd != "" {
		return cmd, nil
	}
	if cfg != nil {
		cmd := strings.TrimSpace(os.ExpandEnv(cfg.Executor.Command))
		if cmd != "" && !strings.HasPrefix(cmd, "${") {
			return cmd, nil
		}
	}
	return "", ErrNoAgentCommand
}

// AgentCommandSource returns where the agent command was sourced from.
func AgentCommandSource(cfg *Config) CommandSource {
	if strings.TrimSpace(os.Getenv("ARMADA_AGENT_COMMAND")) != "" {
		return CommandSourceEnv
	}
	if _, err := AgentCommand(cfg); err == nil {
		return CommandSourceConfig
	}
	return CommandSourceNone
}

// ExecutorMode normalizes the configured mode. A configured command without an
// explicit mode selects command mode.
func ExecutorMode(cfg *Config) string {
	mode := ""
	if cfg != nil {
		mode = strings.ToLower(strings.TrimSpace(cfg.Executor.Mode))
	}
	switch mode {
	case ModeCommand, ModeSimulate:
		return mode
	}
	if _, err := AgentCommand(cfg); err == nil {
		return ModeCommand
	}
	return ModeSimulate
}
