package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/config"
	"github.com/ShayCichocki/armada/internal/fleet"
	"github.com/ShayCichocki/armada/internal/plan"
	"github.com/ShayCichocki/armada/internal/server"
	"github.com/ShayCichocki/armada/internal/state"
	"github.com/ShayCichocki/armada/internal/telemetry"
)

var (
	serveAddr  string
	serveStart bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [plan...]",
	Short: "Serve fleets over HTTP",
	Long: `Start the HTTP API. Fleets are created by POSTing a JSON plan to /api/fleets
or preloaded from plan files given as arguments.

Endpoints:
  GET    /health
  GET    /metrics                                  Prometheus metrics
  GET    /api/fleets                               status of every fleet
  POST   /api/fleets                               create a fleet from a JSON plan
  GET    /api/fleets/{project}                     full snapshot
  DELETE /api/fleets/{project}
  GET    /api/fleets/{project}/status              progress and metrics
  GET    /api/fleets/{project}/events              server-sent events (Last-Event-ID resumes)
  POST   /api/fleets/{project}/start|pause|resume|stop|retry-failed
  POST   /api/fleets/{project}/conflicts/{id}/resolve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr from config)")
	serveCmd.Flags().BoolVar(&serveStart, "start", false, "Start preloaded fleets immediately")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	rec := telemetry.New()
	reg, logger := registryFor(cfg, db, rec, dir)
	defer logger.Close()
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, path := range args {
		c, err := preload(ctx, reg, path, newExecutor)
		if err != nil {
			return err
		}
		if serveStart {
			if _, err := c.Start(ctx); err != nil {
				return fmt.Errorf("start %s: %w", c.Project(), err)
			}
		}
		printStatus("✓", fmt.Sprintf("Loaded fleet %s from %s", c.Project(), path), color.FgGreen)
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	srv := server.New(server.Options{
		Registry: reg,
		Metrics:  rec.Handler(),
		Executor: newExecutor,
	})
	httpServer := server.NewHTTPServer(addr, srv.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	printStatus("▶", fmt.Sprintf("Listening on http://%s", addr), color.FgCyan)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-sigCh:
	}

	printStatus("■", "Shutting down...", color.FgYellow)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	// Close fleets first so open event streams end and Shutdown can finish.
	if err := reg.Close(); err != nil {
		log.Printf("[serve] close fleets: %v", err)
	}
	return httpServer.Shutdown(shutdownCtx)
}

// preload creates a fleet from a plan file.
func preload(ctx context.Context, reg *fleet.Registry, path string, newExecutor func(*plan.Plan) agent.Executor) (*fleet.Coordinator, error) {
	p, err := plan.Load(path)
	if err != nil {
		return nil, err
	}
	c, err := reg.Create(ctx, p.Project, p.Backlog(), newExecutor(p))
	if err != nil {
		return nil, fmt.Errorf("create fleet %s: %w", p.Project, err)
	}
	return c, nil
}
