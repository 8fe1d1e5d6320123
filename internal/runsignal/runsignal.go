// Package runsignal coordinates out-of-band pause/stop control between
// swarmctl and a running swarmd through signal files in the shared data
// directory: an fsnotify watcher picks signals up immediately, and a stat
// fallback covers anything the watcher missed.
package runsignal

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	stopFile  = "stop"
	pauseFile = "pause"
)

// SignalsDir returns the signals directory under dataDir.
func SignalsDir(dataDir string) string {
	return filepath.Join(dataDir, "signals")
}

// Watcher observes the signals directory for stop/pause files.
type Watcher struct {
	dir string

	mu    sync.RWMutex
	stop  bool
	pause bool

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// New creates the signals directory under dataDir and starts watching it.
// If the filesystem watcher cannot be created the Watcher still works,
// degraded to stat-based checks.
func New(dataDir string) (*Watcher, error) {
	dir := SignalsDir(dataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	w := &Watcher{dir: dir, done: make(chan struct{})}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return w, nil
	}
	w.watcher = fw
	go w.watch()

	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.mu.Lock()
			switch filepath.Base(ev.Name) {
			case stopFile:
				w.stop = true
			case pauseFile:
				w.pause = true
			}
			w.mu.Unlock()
		case <-w.watcher.Errors:
			// Keep watching; the stat fallback covers missed events.
		}
	}
}

// ShouldStop reports whether a stop signal has arrived.
func (w *Watcher) ShouldStop() bool { return w.check(stopFile, &w.stop) }

// ShouldPause reports whether a pause signal is in effect. It re-checks
// the file on every call so removing the file resumes the daemon even if
// the watcher never saw the removal.
func (w *Watcher) ShouldPause() bool {
	if _, err := os.Stat(filepath.Join(w.dir, pauseFile)); err != nil {
		w.mu.Lock()
		w.pause = false
		w.mu.Unlock()
		return false
	}
	w.mu.Lock()
	w.pause = true
	w.mu.Unlock()
	return true
}

func (w *Watcher) check(name string, flag *bool) bool {
	if _, err := os.Stat(filepath.Join(w.dir, name)); err == nil {
		w.mu.Lock()
		*flag = true
		w.mu.Unlock()
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return *flag
}

// Clear removes both signal files and resets state, used on daemon
// startup so a stale stop file does not kill a fresh process.
func (w *Watcher) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stop = false
	w.pause = false
	os.Remove(filepath.Join(w.dir, stopFile))
	os.Remove(filepath.Join(w.dir, pauseFile))
}

// Close stops the background watcher. The Watcher's Should* methods keep
// working through the stat fallback afterwards.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

// SendStop writes the stop signal file so a running daemon drains and
// exits.
func SendStop(dataDir string) error { return send(dataDir, stopFile) }

// SendPause writes the pause signal file so a running daemon stops
// claiming new tasks while letting in-flight ones finish.
func SendPause(dataDir string) error { return send(dataDir, pauseFile) }

// Resume removes the pause signal file.
func Resume(dataDir string) error {
	err := os.Remove(filepath.Join(SignalsDir(dataDir), pauseFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func send(dataDir, name string) error {
	dir := SignalsDir(dataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	return os.WriteFile(filepath.Join(dir, name), []byte(stamp), 0o644)
}
