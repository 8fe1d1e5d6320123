// Package logging provides the daemon's file-backed debug log: a
// thread-safe appender writing timestamped lines to a single file under
// the data directory that each run appends to, no-op when unconfigured. Operator-facing messages
// still go to stderr through the standard library logger; this file
// exists for the verbose trail that would drown a terminal.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger appends timestamped debug lines to a single file.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewDebugLogger creates a logger writing to path, creating parent
// directories as needed. An empty path returns a no-op logger.
func NewDebugLogger(path string) (*DebugLogger, error) {
	if path == "" {
		return &DebugLogger{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := &DebugLogger{file: f}
	l.Log("=== swarmd debug log started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// NewDebugLoggerForDataDir creates the per-run debug logger under
// dataDir/logs, falling back to a no-op logger on any error.
func NewDebugLoggerForDataDir(dataDir string) *DebugLogger {
	l, err := NewDebugLogger(filepath.Join(dataDir, "logs", "swarmd-debug.log"))
	if err != nil {
		return &DebugLogger{}
	}
	return l
}

// Log writes one timestamped printf-formatted line. No-op when the logger
// has no file.
func (l *DebugLogger) Log(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}

// Close flushes and closes the underlying file.
func (l *DebugLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
