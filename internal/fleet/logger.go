package fleet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// defaultMaxLogBytes is the size at which the debug log is rotated to <path>.1.
const defaultMaxLogBytes = 10 << 20

// DebugLogger writes timestamped fleet diagnostics to a file. A registry shares
// one logger between its fleets; each fleet writes through For(project) so
// lines stay attributable.
type DebugLogger struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	written  int64
	maxBytes int64
}

// NewDebugLogger creates a logger writing to the specified path.
// If the path is empty, returns a no-op logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	l := &DebugLogger{path: logPath, maxBytes: defaultMaxLogBytes}
	if err := l.open(); err != nil {
		return nil, err
	}
	l.Log("=== Fleet Debug Log Started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// NewDebugLoggerForProject creates a debug logger in the project's .armada/logs directory.
// Returns a no-op logger if the directory cannot be created.
func NewDebugLoggerForProject(projectDir string) *DebugLogger {
	logger, err := NewDebugLogger(filepath.Join(projectDir, ".armada", "logs", "fleet-debug.log"))
	if err != nil {
		return &DebugLogger{}
	}
	return logger
}

// NopLogger returns a no-op logger.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

func (l *DebugLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	l.file = f
	l.written = info.Size()
	return nil
}

// Log writes a timestamped message. A nil logger or one without a file is a no-op.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	l.write("", format, args...)
}

// For returns a log function that tags every line with project. It is safe to
// call on a nil logger; the result then discards everything.
func (l *DebugLogger) For(project string) func(format string, args ...interface{}) {
	return func(format string, args ...interface{}) {
		l.write(project, format, args...)
	}
}

func (l *DebugLogger) write(project, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	var n int
	if project != "" {
		n, _ = fmt.Fprintf(l.file, "[%s] {%s} %s\n", time.Now().Format("15:04:05.000"), project, msg)
	} else {
		n, _ = fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format("15:04:05.000"), msg)
	}
	l.written += int64(n)
	if l.maxBytes > 0 && l.written >= l.maxBytes {
		l.rotateLocked()
	}
}

// rotateLocked moves the current file to <path>.1, replacing an older rotation.
// On failure the logger keeps appending to the current file.
func (l *DebugLogger) rotateLocked() {
	if err := l.file.Close(); err != nil {
		return
	}
	_ = os.Rename(l.path, l.path+".1")
	if err := l.open(); err != nil {
		l.file = nil
	}
}

// Close closes the log file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
