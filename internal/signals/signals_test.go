package signals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/armada/internal/fleet"
)

func receive(t *testing.T, w *Watcher) Signal {
	t.Helper()
	select {
	case s := <-w.Signals():
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("no signal delivered")
		return ""
	}
}

func TestWatcher_DeliversAndConsumes(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := Send(root, Pause); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, w); got != Pause {
		t.Errorf("signal = %q, want pause", got)
	}
	if _, err := os.Stat(filepath.Join(Dir(root), "pause")); !os.IsNotExist(err) {
		t.Error("signal file was not removed after delivery")
	}

	if err := Send(root, RetryFailed); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, w); got != RetryFailed {
		t.Errorf("signal = %q, want retry-failed", got)
	}
}

func TestWatcher_IgnoresUnknownFiles(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(Dir(root), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Send(root, Stop); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, w); got != Stop {
		t.Errorf("signal = %q, want stop", got)
	}
	if _, err := os.Stat(filepath.Join(Dir(root), "notes.txt")); err != nil {
		t.Error("unknown file should be left alone")
	}
}

func TestNewWatcher_DiscardsStaleSignals(t *testing.T) {
	root := t.TempDir()
	if err := Send(root, Stop); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(root, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	select {
	case s := <-w.Signals():
		t.Errorf("stale signal %q delivered", s)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSend_Unknown(t *testing.T) {
	if err := Send(t.TempDir(), Signal("reboot")); err == nil {
		t.Error("expected error for unknown signal")
	}
}

func TestWatcher_CloseClosesChannel(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	w.Close()
	if _, ok := <-w.Signals(); ok {
		t.Error("channel still open after Close")
	}
}

type fakeController struct {
	calls []string
	err   error
}

func (f *fakeController) Pause(context.Context) (fleet.Snapshot, error) {
	f.calls = append(f.calls, "pause")
	return fleet.Snapshot{}, f.err
}

func (f *fakeController) Resume(context.Context) (fleet.Snapshot, error) {
	f.calls = append(f.calls, "resume")
	return fleet.Snapshot{}, f.err
}

func (f *fakeController) Stop(context.Context) (fleet.Snapshot, error) {
	f.calls = append(f.calls, "stop")
	return fleet.Snapshot{}, f.err
}

func (f *fakeController) RetryFailed(context.Context) (int, error) {
	f.calls = append(f.calls, "retry-failed")
	return 2, f.err
}

func TestApply(t *testing.T) {
	f := &fakeController{}
	for _, s := range All {
		if err := Apply(context.Background(), f, s); err != nil {
			t.Errorf("Apply(%s): %v", s, err)
		}
	}
	want := []string{"pause", "resume", "stop", "retry-failed"}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, f.calls[i], want[i])
		}
	}

	if err := Apply(context.Background(), f, Signal("reboot")); err == nil {
		t.Error("expected error for unknown signal")
	}

	boom := errors.New("boom")
	f.err = boom
	if err := Apply(context.Background(), f, Stop); !errors.Is(err, boom) {
		t.Errorf("Apply error = %v, want boom", err)
	}
}
