package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/armada/internal/signals"
)

var signalCmd = &cobra.Command{
	Use:       "signal <pause|resume|stop|retry-failed>",
	Short:     "Send a control command to a running fleet",
	Long:      `Write a signal file under .armada/signals. A fleet started with 'armada run' in the same project picks it up and applies it once.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: validSignals(),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := projectDir()
		if err != nil {
			return err
		}
		s := signals.Signal(strings.ToLower(args[0]))
		if !s.Valid() {
			return fmt.Errorf("unknown signal %q (valid: %s)", args[0], strings.Join(validSignals(), ", "))
		}
		if err := signals.Send(dir, s); err != nil {
			return err
		}
		printStatus("⚑", fmt.Sprintf("Sent %s to %s", s, signals.Dir(dir)), color.FgYellow)
		return nil
	},
}

func validSignals() []string {
	out := make([]string, len(signals.All))
	for i, s := range signals.All {
		out[i] = string(s)
	}
	return out
}
