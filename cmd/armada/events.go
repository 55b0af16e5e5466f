package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/armada/internal/events"
	"github.com/ShayCichocki/armada/internal/state"
)

var (
	eventsSince uint64
	eventsLimit int
	eventsKinds []string
)

var eventsCmd = &cobra.Command{
	Use:   "events <project>",
	Short: "Print a fleet's persisted event log as JSON lines",
	Long: `Print events recorded in .armada/state.db, one JSON object per line, in
sequence order. Use --since to continue from a previously seen sequence.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().Uint64Var(&eventsSince, "since", 0, "Only print events after this sequence")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 0, "Maximum number of events (0 for all)")
	eventsCmd.Flags().StringSliceVar(&eventsKinds, "kind", nil, "Only print these event kinds (e.g. story:failed,conflict)")
}

func runEvents(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}
	if _, err := os.Stat(state.ProjectDBPath(dir)); os.IsNotExist(err) {
		return fmt.Errorf("no state database in %s", dir)
	}
	db, err := state.OpenProject(dir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	list, err := db.Events(args[0], eventsSince, eventsLimit)
	if err != nil {
		return err
	}

	kinds := make(map[events.Kind]bool, len(eventsKinds))
	for _, k := range eventsKinds {
		kinds[events.Kind(k)] = true
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, e := range list {
		if len(kinds) > 0 && !kinds[e.Kind] {
			continue
		}
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
