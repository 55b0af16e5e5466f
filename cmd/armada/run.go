package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/armada/internal/config"
	"github.com/ShayCichocki/armada/internal/events"
	"github.com/ShayCichocki/armada/internal/fleet"
	"github.com/ShayCichocki/armada/internal/plan"
	"github.com/ShayCichocki/armada/internal/signals"
	"github.com/ShayCichocki/armada/internal/state"
	"github.com/ShayCichocki/armada/internal/telemetry"
	"github.com/ShayCichocki/armada/pkg/models"
)

var (
	runFresh       bool
	runNoSignals   bool
	runQuiet       bool
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run <plan>",
	Short: "Run a plan file to completion",
	Long: `Run the stories of a plan file with squads of agents and stream progress.

The plan is a YAML (or .json) file listing stories with their domain, phase,
dependencies, and required roles. State is persisted to .armada/state.db, so
re-running the same plan after an interruption resumes where it left off.

Control a running fleet from another shell with 'armada signal'. Ctrl+C stops
the fleet gracefully, waiting up to drain.timeout for in-flight stories.

Examples:
  armada run plan.yaml
  armada run plan.yaml --fresh
  ARMADA_AGENT_COMMAND="./agent.sh" armada run plan.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "Discard persisted state for the plan's project before running")
	runCmd.Flags().BoolVar(&runNoSignals, "no-signals", false, "Do not watch .armada/signals for control commands")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print story outcomes and the final summary")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir, err := projectDir()
	if err != nil {
		return err
	}
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}
	executor, err := executorFor(cfg, p, dir)
	if err != nil {
		return err
	}

	db, err := state.OpenProject(dir)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	if runFresh {
		if err := db.DeleteFleet(p.Project); err != nil {
			return fmt.Errorf("discard state: %w", err)
		}
	} else {
		reportInterrupted(db, p.Project)
	}

	var recorder fleet.MetricsRecorder
	if runMetricsAddr != "" {
		rec := telemetry.New()
		recorder = rec
		srv := &http.Server{Addr: runMetricsAddr, Handler: rec.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[run] metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	reg, logger := registryFor(cfg, db, recorder, dir)
	defer logger.Close()
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := reg.Create(ctx, p.Project, p.Backlog(), executor)
	if err != nil {
		return fmt.Errorf("create fleet: %w", err)
	}

	sub, err := c.Subscribe(c.Snapshot().Seq)
	if err != nil {
		return err
	}
	defer func() { sub.Close() }()

	snap, err := c.Start(ctx)
	if err != nil {
		return fmt.Errorf("start fleet: %w", err)
	}
	printStatus("▶", fmt.Sprintf("Fleet %s started: %d stories across %d domains", p.Project, snap.Progress.Total, len(snap.Domains)), color.FgCyan)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var control <-chan signals.Signal
	if !runNoSignals {
		w, err := signals.NewWatcher(dir, 0)
		if err != nil {
			log.Printf("[run] signal watcher disabled: %v", err)
		} else {
			defer w.Close()
			control = w.Signals()
		}
	}

	stopped := make(chan error, 1)
	stopping := false
	stop := func() {
		if stopping {
			return
		}
		stopping = true
		go func() {
			_, err := c.Stop(ctx)
			stopped <- err
		}()
	}

	lastSeq := c.Snapshot().Seq
	for {
		select {
		case <-sigCh:
			if stopping {
				printStatus("!", "Second interrupt, exiting without draining", color.FgRed)
				return errors.New("interrupted")
			}
			printStatus("■", "Interrupt received, draining in-flight stories...", color.FgYellow)
			stop()

		case s, ok := <-control:
			if !ok {
				control = nil
				continue
			}
			printStatus("⚑", fmt.Sprintf("Signal %s", s), color.FgYellow)
			if s == signals.Stop {
				stop()
				continue
			}
			if err := signals.Apply(ctx, c, s); err != nil {
				printStatus("✗", fmt.Sprintf("Signal %s: %v", s, err), color.FgRed)
			}

		case err := <-stopped:
			var drain *fleet.DrainTimeoutError
			if errors.As(err, &drain) {
				printStatus("!", fmt.Sprintf("Abandoned after drain timeout: %s", strings.Join(drain.StoryIDs, ", ")), color.FgRed)
			} else if err != nil {
				return fmt.Errorf("stop fleet: %w", err)
			}
			printSummary(c.Snapshot())
			printStatus("■", "Fleet stopped. Run the same plan again to resume.", color.FgYellow)
			return nil

		case e, ok := <-sub.Events():
			if !ok {
				if !sub.Lagged() {
					return nil
				}
				// Slow terminal; pick up again from the last printed event.
				if sub, err = c.Subscribe(lastSeq); err != nil {
					return err
				}
				continue
			}
			lastSeq = e.Seq
			printEvent(e)
			if e.Kind != events.KindComplete {
				continue
			}
			printSummary(c.Snapshot())
			if done, ok := e.Payload.(*events.Complete); ok && done.Phase == events.CompletePhaseError {
				return fmt.Errorf("fleet %s finished with errors", p.Project)
			}
			return nil
		}
	}
}

// printEvent renders one event as a progress line.
func printEvent(e events.Event) {
	switch p := e.Payload.(type) {
	case *events.StoryStarted:
		if runQuiet {
			return
		}
		printStatus("→", fmt.Sprintf("%s [%s] %s (squad %s, attempt %d)", p.StoryID, p.Domain, p.Title, p.SquadID, p.Attempt), color.FgCyan)
	case *events.StoryCompleted:
		printStatus("✓", fmt.Sprintf("%s [%s] done in %s, %d tokens, %d/%d tests passing",
			p.StoryID, p.Domain, formatDuration(time.Duration(p.DurationMs)*time.Millisecond), p.TokensUsed, p.TestsPassing, p.TestsWritten), color.FgGreen)
	case *events.StoryFailed:
		msg := fmt.Sprintf("%s [%s] failed (attempt %d): %s", p.StoryID, p.Domain, p.Attempts, p.Reason)
		if p.WillRetry && p.RetryAt != nil {
			msg += fmt.Sprintf(", retrying in %s", formatDuration(time.Until(*p.RetryAt).Round(time.Second)))
		}
		printStatus("✗", msg, color.FgRed)
	case *events.Conflict:
		symbol, attr := "≈", color.FgYellow
		if p.Resolution == models.ResolutionEscalated && !p.Resolved {
			symbol, attr = "⚠", color.FgRed
		}
		msg := fmt.Sprintf("Conflict %s between %s", p.Resolution, strings.Join(p.StoryIDs, ", "))
		if p.Resolved {
			msg = fmt.Sprintf("Conflict resolved for %s", strings.Join(p.StoryIDs, ", "))
		}
		printStatus(symbol, msg, attr)
	case *events.Error:
		printStatus("!", fmt.Sprintf("%s: %s", p.Code, p.Reason), color.FgRed)
	case *events.Progress:
		if runQuiet {
			return
		}
		line := fmt.Sprintf("%s %5.1f%%  done %d/%d  active %d  failed %d",
			p.State, p.Percent, p.Done, p.Total, p.InProgress+p.Testing+p.Merging, p.Failed)
		if p.ActivePhase != "" {
			line += "  phase " + string(p.ActivePhase)
		}
		if p.Paused {
			line += "  (paused)"
		}
		printStatus("·", line, color.FgHiBlack)
	case *events.AgentMessage:
		if runQuiet || os.Getenv("ARMADA_DEBUG") == "" {
			return
		}
		printStatus(" ", fmt.Sprintf("%s/%s %s: %s", p.StoryID, p.AgentID, p.Type, p.Content), color.FgHiBlack)
	}
}

// printSummary prints the final metrics and failed stories of a fleet.
func printSummary(snap fleet.Snapshot) {
	m := snap.Metrics
	fmt.Println()
	printStatus("Σ", fmt.Sprintf("%s: %d completed, %d failed, %d tokens, %.1f stories/h",
		snap.Project, m.CompletedStories, m.FailedStories, m.TotalTokensUsed, m.Throughput), color.FgCyan)
	if m.ConflictsResolved > 0 || m.ConflictsEscalated > 0 {
		printStatus("≈", fmt.Sprintf("conflicts: %d resolved, %d escalated", m.ConflictsResolved, m.ConflictsEscalated), color.FgYellow)
	}
	for _, f := range snap.Failed {
		note := "will retry"
		if f.Exhausted {
			note = "exhausted"
		}
		printStatus("✗", fmt.Sprintf("%s %q after %d attempts (%s): %s", f.ID, f.Title, f.Attempts, note, f.LastError), color.FgRed)
	}
	if len(snap.Failed) > 0 {
		fmt.Println("  Run 'armada signal retry-failed' while the fleet is running to requeue failed stories.")
	}
}
