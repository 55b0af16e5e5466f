// Package signals lets operators control a running fleet by dropping files
// into .armada/signals.
package signals

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/armada/internal/fleet"
)

// Signal is a control command delivered through the filesystem.
type Signal string

const (
	Pause       Signal = "pause"
	Resume      Signal = "resume"
	Stop        Signal = "stop"
	RetryFailed Signal = "retry-failed"
)

// All lists every signal.
var All = []Signal{Pause, Resume, Stop, RetryFailed}

// Valid returns true if the signal is known.
func (s Signal) Valid() bool {
	for _, k := range All {
		if k == s {
			return true
		}
	}
	return false
}

// Dir returns the signals directory of a project.
func Dir(projectDir string) string {
	return filepath.Join(projectDir, ".armada", "signals")
}

// Send creates the signal file.
func Send(projectDir string, s Signal) error {
	if !s.Valid() {
		return fmt.Errorf("unknown signal %q", s)
	}
	dir := Dir(projectDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, string(s)), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Watcher delivers signal files as they appear. Each file is removed once
// delivered, so a signal fires once per file.
type Watcher struct {
	dir     string
	ch      chan Signal
	watcher *fsnotify.Watcher
	poll    time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWatcher starts watching a project's signals directory. Signal files left
// over from an earlier run are discarded. If fsnotify is unavailable the
// directory is polled instead.
func NewWatcher(projectDir string, poll time.Duration) (*Watcher, error) {
	dir := Dir(projectDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals dir: %w", err)
	}
	for _, s := range All {
		os.Remove(filepath.Join(dir, string(s)))
	}
	if poll <= 0 {
		poll = time.Second
	}

	w := &Watcher{
		dir:  dir,
		ch:   make(chan Signal, len(All)),
		poll: poll,
		done: make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
		} else {
			w.watcher = watcher
		}
	}
	if w.watcher == nil {
		log.Printf("[signals] file watcher unavailable, polling %s every %s", dir, poll)
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Signals returns the delivery channel. It is closed by Close.
func (w *Watcher) Signals() <-chan Signal {
	return w.ch
}

// Close stops watching.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.wg.Wait()
		close(w.ch)
	})
}

func (w *Watcher) run() {
	defer w.wg.Done()

	// The ticker also catches files created before the watch was registered.
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if w.watcher != nil {
		fsEvents = w.watcher.Events
		fsErrors = w.watcher.Errors
	}

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.consume(Signal(filepath.Base(event.Name)))
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			log.Printf("[signals] watch error: %v", err)
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, n := range names {
		w.consume(Signal(n))
	}
}

// consume removes the signal file and delivers the signal. A file already
// removed by an earlier event is not delivered twice.
func (w *Watcher) consume(s Signal) {
	if !s.Valid() {
		return
	}
	if err := os.Remove(filepath.Join(w.dir, string(s))); err != nil {
		return
	}
	select {
	case w.ch <- s:
	case <-w.done:
	}
}

// Controller is the part of a fleet signals act on.
type Controller interface {
	Pause(ctx context.Context) (fleet.Snapshot, error)
	Resume(ctx context.Context) (fleet.Snapshot, error)
	Stop(ctx context.Context) (fleet.Snapshot, error)
	RetryFailed(ctx context.Context) (int, error)
}

var _ Controller = (*fleet.Coordinator)(nil)

// Apply issues the control command matching s.
func Apply(ctx context.Context, c Controller, s Signal) error {
	var err error
	switch s {
	case Pause:
		_, err = c.Pause(ctx)
	case Resume:
		_, err = c.Resume(ctx)
	case Stop:
		_, err = c.Stop(ctx)
	case RetryFailed:
		var n int
		n, err = c.RetryFailed(ctx)
		if err == nil {
			log.Printf("[signals] requeued %d failed stories", n)
		}
	default:
		return fmt.Errorf("unknown signal %q", s)
	}
	return err
}
